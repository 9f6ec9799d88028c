package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/greedo/internal/inference"
	"github.com/samcharles93/greedo/internal/logger"
)

const (
	envGreedoVocab     = "GREEDO_VOCAB"
	envGreedoScorerURL = "GREEDO_SCORER_URL"
)

var (
	configFile string

	vocabPath         string
	specialsFromVocab bool
	bosID             int64
	eosID             int64
	unkID             int64
	lineBreakID       int64
	maxTokenLen       int64
	byteFallback      bool

	scorerURL     string
	scorerTimeout time.Duration
	httpTimeout   time.Duration
	loadTimeout   time.Duration
	useToy        bool
	toySeed       int64
	toyHidden     int64
	toyLength     int64
	maxContext    int64

	structuralKeep   int64
	headroom         int64
	maxNewTokens     int64
	minSteps         int64
	minStepsContinue int64
	stopPunctuation  string
	promptFormat     string
	systemPrompt     string

	streamMode  string
	serverAddr  string
	maxSessions int64

	logLevel  string
	logFormat string
	debug     bool
)

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default ~/.config/greedo/config.yaml)",
			Destination: &configFile,
		},
	}
}

func vocabFlags() []cli.Flag {
	defaults := inference.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "vocab",
			Aliases:     []string{"v"},
			Usage:       "vocabulary file (.json, tokenizer.json, .gguf) or a directory holding one",
			Sources:     cli.EnvVars(envGreedoVocab),
			Destination: &vocabPath,
		},
		&cli.BoolFlag{
			Name:        "specials-from-vocab",
			Usage:       "take <unk>/<s>/</s> ids from the vocabulary instead of --bos/--eos/--unk",
			Destination: &specialsFromVocab,
		},
		&cli.Int64Flag{
			Name:        "bos",
			Usage:       "beginning-of-sequence id",
			Value:       int64(defaults.BOSID),
			Destination: &bosID,
		},
		&cli.Int64Flag{
			Name:        "eos",
			Usage:       "end-of-sequence id",
			Value:       int64(defaults.EOSID),
			Destination: &eosID,
		},
		&cli.Int64Flag{
			Name:        "unk",
			Usage:       "unknown-token id",
			Value:       int64(defaults.UNKID),
			Destination: &unkID,
		},
		&cli.Int64Flag{
			Name:        "line-break",
			Usage:       "id that ends a reply as a soft stop (-1 disables)",
			Value:       int64(defaults.LineBreakID),
			Destination: &lineBreakID,
		},
		&cli.Int64Flag{
			Name:        "max-token-len",
			Usage:       "longest match attempted by the tokenizer, in runes",
			Value:       int64(defaults.MaxTokenLen),
			Destination: &maxTokenLen,
		},
		&cli.BoolFlag{
			Name:        "byte-fallback",
			Usage:       "encode unknown runes as <0xXX> byte tokens when the vocabulary has them",
			Destination: &byteFallback,
		},
	}
}

func scorerFlags() []cli.Flag {
	defaults := inference.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "scorer-url",
			Usage:       "base URL of a remote scorer (GET /v1/info, POST /v1/score)",
			Sources:     cli.EnvVars(envGreedoScorerURL),
			Destination: &scorerURL,
		},
		&cli.BoolFlag{
			Name:        "toy",
			Usage:       "use the built-in deterministic toy scorer",
			Destination: &useToy,
		},
		&cli.Int64Flag{
			Name:        "toy-seed",
			Usage:       "seed for the toy scorer weights",
			Value:       1,
			Destination: &toySeed,
		},
		&cli.Int64Flag{
			Name:        "toy-hidden",
			Usage:       "hidden width of the toy scorer",
			Value:       16,
			Destination: &toyHidden,
		},
		&cli.Int64Flag{
			Name:        "toy-length",
			Usage:       "maximum sequence length of the toy scorer",
			Value:       256,
			Destination: &toyLength,
		},
		&cli.Int64Flag{
			Name:        "max-context",
			Aliases:     []string{"max-ctx", "ctx", "c"},
			Usage:       "cap on the scorer sequence length (0 keeps the scorer's)",
			Destination: &maxContext,
		},
		&cli.DurationFlag{
			Name:        "scorer-timeout",
			Usage:       "bound on a single scorer call",
			Value:       defaults.ScorerTimeout,
			Destination: &scorerTimeout,
		},
		&cli.DurationFlag{
			Name:        "load-timeout",
			Usage:       "bound on opening the scorer",
			Value:       defaults.LoadTimeout,
			Destination: &loadTimeout,
		},
		&cli.DurationFlag{
			Name:        "http-timeout",
			Usage:       "HTTP client timeout for the remote scorer (0 disables)",
			Destination: &httpTimeout,
		},
	}
}

func generationFlags() []cli.Flag {
	defaults := inference.DefaultConfig()
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "structural-keep",
			Usage:       "leading history tokens always kept in the window",
			Value:       int64(defaults.StructuralKeep),
			Destination: &structuralKeep,
		},
		&cli.Int64Flag{
			Name:        "headroom",
			Usage:       "positions reserved below the scorer capacity",
			Value:       int64(defaults.Headroom),
			Destination: &headroom,
		},
		&cli.Int64Flag{
			Name:        "max-new-tokens",
			Aliases:     []string{"n"},
			Usage:       "token budget per request",
			Value:       int64(defaults.MaxNewTokens),
			Destination: &maxNewTokens,
		},
		&cli.Int64Flag{
			Name:        "min-steps",
			Usage:       "steps before punctuation or line breaks may end a reply",
			Value:       int64(defaults.MinSteps),
			Destination: &minSteps,
		},
		&cli.Int64Flag{
			Name:        "min-steps-continue",
			Usage:       "min-steps for continue requests",
			Value:       int64(defaults.MinStepsContinue),
			Destination: &minStepsContinue,
		},
		&cli.StringFlag{
			Name:        "stop-punctuation",
			Usage:       "characters that end a reply after min-steps",
			Value:       defaults.StopPunctuation,
			Destination: &stopPunctuation,
		},
		&cli.StringFlag{
			Name:        "prompt-format",
			Usage:       "prompt wrapping (raw, llama2)",
			Value:       string(defaults.PromptFormat),
			Destination: &promptFormat,
		},
		&cli.StringFlag{
			Name:        "system",
			Aliases:     []string{"sys"},
			Usage:       "system prompt for the llama2 format",
			Destination: &systemPrompt,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text, console)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func flagSet(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// setup applies the config file under explicit flags and installs the
// logger on the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := configFile
	if path == "" {
		path = configPath()
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	applyConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log, err := logger.ForFormat(logFormat, os.Stderr, level)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	return logger.WithContext(ctx, log), nil
}

func generationConfig() (inference.Config, error) {
	format, err := inference.ParsePromptFormat(promptFormat)
	if err != nil {
		return inference.Config{}, err
	}
	cfg := inference.DefaultConfig()
	cfg.StructuralKeep = int(structuralKeep)
	cfg.Headroom = int(headroom)
	cfg.MaxNewTokens = int(maxNewTokens)
	cfg.MinSteps = int(minSteps)
	cfg.MinStepsContinue = int(minStepsContinue)
	cfg.StopPunctuation = stopPunctuation
	cfg.UNKID = int(unkID)
	cfg.BOSID = int(bosID)
	cfg.EOSID = int(eosID)
	cfg.LineBreakID = int(lineBreakID)
	cfg.MaxTokenLen = int(maxTokenLen)
	cfg.ByteFallback = byteFallback
	cfg.ScorerTimeout = scorerTimeout
	cfg.LoadTimeout = loadTimeout
	cfg.PromptFormat = format
	cfg.SystemPrompt = systemPrompt
	return cfg, cfg.Validate()
}

func newLoader(log logger.Logger) (inference.Loader, error) {
	cfg, err := generationConfig()
	if err != nil {
		return inference.Loader{}, err
	}
	path, err := resolveVocabPath(vocabPath, os.Stdin, os.Stderr)
	if err != nil {
		return inference.Loader{}, err
	}
	return inference.Loader{
		VocabPath:         path,
		ScorerURL:         scorerURL,
		HTTPTimeout:       httpTimeout,
		Toy:               useToy,
		ToySeed:           toySeed,
		ToyHidden:         int(toyHidden),
		ToyLength:         int(toyLength),
		MaxContext:        int(maxContext),
		SpecialsFromVocab: specialsFromVocab,
		Config:            cfg,
		Logger:            log,
	}, nil
}
