package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/greedo/internal/inference"
	"github.com/samcharles93/greedo/internal/logger"
)

const chatHelp = `Commands:
  /continue  keep decoding the previous reply
  /reset     clear the conversation
  /status    show session state
  /exit      quit`

func chatCmd() *cli.Command {
	var (
		prompt    string
		raw       bool
		showStats bool
	)

	return &cli.Command{
		Name:  "chat",
		Usage: "Chat with greedy decoding (interactive unless --prompt is given)",
		Flags: flagSet(configFlags(), vocabFlags(), scorerFlags(), generationFlags(), loggingFlags(),
			[]cli.Flag{
				&cli.StringFlag{
					Name:        "prompt",
					Aliases:     []string{"p"},
					Usage:       "run a single request and exit (- reads stdin)",
					Destination: &prompt,
				},
				&cli.StringFlag{
					Name:        "stream-mode",
					Usage:       "output mode (instant, quiet)",
					Value:       string(StreamInstant),
					Destination: &streamMode,
				},
				&cli.BoolFlag{
					Name:        "raw",
					Usage:       "print control characters as escapes",
					Destination: &raw,
				},
				&cli.BoolFlag{
					Name:        "stats",
					Usage:       "print tokens per second and the stop reason after each reply",
					Destination: &showStats,
				},
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)
			mode, err := parseStreamMode(streamMode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			loader, err := newLoader(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			lr, err := loader.Load(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load: %v", err), 1)
			}
			defer func() { _ = lr.Close() }()

			sess, err := lr.NewSession(uuid.NewString())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			sw := NewStreamWriter(os.Stdout, mode, raw)
			c := &chat{engine: sess, stream: sw, out: os.Stdout, errOut: os.Stderr, stats: showStats}

			if prompt != "" {
				if prompt == "-" {
					b, err := io.ReadAll(os.Stdin)
					if err != nil {
						return cli.Exit(fmt.Sprintf("error: read stdin: %v", err), 1)
					}
					prompt = strings.TrimSpace(string(b))
				}
				if err := c.once(ctx, prompt); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				return nil
			}

			fmt.Fprintln(os.Stderr, "Interactive mode. Type /help for commands, /exit to quit.")
			return c.repl(ctx, readInteractiveLine)
		},
	}
}

// chat drives one engine from the terminal.
type chat struct {
	engine inference.Engine
	stream *StreamWriter
	out    io.Writer
	errOut io.Writer
	stats  bool
}

func (c *chat) once(ctx context.Context, text string) error {
	_, err := c.turn(ctx, &inference.Request{Text: text})
	return err
}

func (c *chat) repl(ctx context.Context, read func(prompt string) (string, error)) error {
	for {
		line, err := read("> ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/help":
			fmt.Fprintln(c.errOut, chatHelp)
			continue
		case "/reset":
			if err := c.engine.Reset(); err != nil {
				fmt.Fprintln(c.errOut, "error: reset:", err)
			} else {
				fmt.Fprintln(c.errOut, "history cleared")
			}
			continue
		case "/status":
			c.printStatus()
			continue
		}

		req := &inference.Request{Text: line}
		if input == "/continue" {
			req = &inference.Request{Continue: true}
		}
		res, err := c.turn(ctx, req)
		switch {
		case err == nil:
		case errors.Is(err, inference.ErrNothingToContinue):
			fmt.Fprintln(c.errOut, "nothing to continue yet")
		case res != nil:
			// Partial replies keep the session usable.
			fmt.Fprintln(c.errOut, "error:", err)
		default:
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// turn runs one request. Ctrl+C cancels the request, not the program.
func (c *chat) turn(ctx context.Context, req *inference.Request) (*inference.Result, error) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	res, err := c.engine.Generate(turnCtx, req, c.stream.Write)
	c.stream.Flush()
	if res == nil {
		return nil, err
	}
	fmt.Fprintln(c.out)
	if res.StopReason == inference.StopCancelled {
		fmt.Fprintln(c.errOut, "[cancelled]")
		if ctx.Err() == nil {
			err = nil
		}
	}
	if c.stats {
		fmt.Fprintf(c.errOut, "Stats: %.2f TPS (%d tokens in %s, stop=%s)\n",
			res.Stats.TPS, res.Stats.TokensGenerated, res.Stats.Duration, res.StopReason)
	}
	return res, err
}

func (c *chat) printStatus() {
	st := c.engine.Status()
	fmt.Fprintf(c.errOut, "session:  %s\n", st.ID)
	fmt.Fprintf(c.errOut, "state:    %s\n", st.State)
	fmt.Fprintf(c.errOut, "history:  %d / %d tokens\n", st.HistoryLength, st.Capacity)
	fmt.Fprintf(c.errOut, "requests: %d\n", st.Requests)
	if st.LastStop != inference.StopNone {
		fmt.Fprintf(c.errOut, "last stop: %s\n", st.LastStop)
	}
}
