package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/greedo/internal/api"
	"github.com/samcharles93/greedo/internal/inference"
	"github.com/samcharles93/greedo/internal/logger"
)

func serveCmd() *cli.Command {
	var readTimeout time.Duration

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the session API over HTTP",
		Flags: flagSet(configFlags(), vocabFlags(), scorerFlags(), generationFlags(), loggingFlags(),
			[]cli.Flag{
				&cli.StringFlag{
					Name:        "addr",
					Usage:       "listen address",
					Value:       "127.0.0.1:8080",
					Destination: &serverAddr,
				},
				&cli.DurationFlag{
					Name:        "read-timeout",
					Usage:       "read header timeout",
					Value:       30 * time.Second,
					Destination: &readTimeout,
				},
				&cli.Int64Flag{
					Name:        "max-sessions",
					Usage:       "maximum live sessions (0 is unbounded)",
					Value:       64,
					Destination: &maxSessions,
				},
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)
			loader, err := newLoader(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			lr, err := loader.Load(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load: %v", err), 1)
			}
			defer func() { _ = lr.Close() }()

			store := api.NewSessionStore(func(id string) (inference.Engine, error) {
				sess, err := lr.NewSession(id)
				if err != nil {
					return nil, err
				}
				return sess, nil
			}, int(maxSessions))
			server := api.NewServer(store, lr.Tokenizer, log.WithGroup("api"))

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", serverAddr, "capacity", lr.Capacity, "max_sessions", maxSessions)
			sc := echo.StartConfig{
				Address: serverAddr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
