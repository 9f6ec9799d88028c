package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the greedo configuration file (~/.config/greedo/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	Vocab             string `yaml:"vocab"`
	SpecialsFromVocab *bool  `yaml:"specials_from_vocab"`
	ByteFallback      *bool  `yaml:"byte_fallback"`
	LineBreakID       *int64 `yaml:"line_break_id"`

	// Scorer
	ScorerURL     string         `yaml:"scorer_url"`
	ScorerTimeout *time.Duration `yaml:"scorer_timeout"`
	HTTPTimeout   *time.Duration `yaml:"http_timeout"`
	MaxContext    *int64         `yaml:"max_context"`

	// Generation defaults
	StructuralKeep   *int64 `yaml:"structural_keep"`
	Headroom         *int64 `yaml:"headroom"`
	MaxNewTokens     *int64 `yaml:"max_new_tokens"`
	MinSteps         *int64 `yaml:"min_steps"`
	MinStepsContinue *int64 `yaml:"min_steps_continue"`
	StopPunctuation  string `yaml:"stop_punctuation"`
	PromptFormat     string `yaml:"prompt_format"`
	SystemPrompt     string `yaml:"system_prompt"`

	// Output
	StreamMode string `yaml:"stream_mode"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	MaxSessions   *int64 `yaml:"max_sessions"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "greedo", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// flagSetter is the part of *cli.Command applyConfig needs.
type flagSetter interface {
	IsSet(name string) bool
}

// applyConfig applies config file defaults to flag variables when the
// corresponding flag was not set on the command line or through the
// environment. Flags a command does not declare report unset, and writing
// their variable is harmless.
func applyConfig(c flagSetter, cfg Config) {
	setString(c, "vocab", cfg.Vocab, &vocabPath)
	setString(c, "scorer-url", cfg.ScorerURL, &scorerURL)
	setString(c, "stop-punctuation", cfg.StopPunctuation, &stopPunctuation)
	setString(c, "prompt-format", cfg.PromptFormat, &promptFormat)
	setString(c, "system", cfg.SystemPrompt, &systemPrompt)
	setString(c, "stream-mode", cfg.StreamMode, &streamMode)
	setString(c, "log-level", cfg.LogLevel, &logLevel)
	setString(c, "log-format", cfg.LogFormat, &logFormat)
	setString(c, "addr", cfg.ServerAddress, &serverAddr)

	setValue(c, "specials-from-vocab", cfg.SpecialsFromVocab, &specialsFromVocab)
	setValue(c, "byte-fallback", cfg.ByteFallback, &byteFallback)
	setValue(c, "line-break", cfg.LineBreakID, &lineBreakID)
	setValue(c, "scorer-timeout", cfg.ScorerTimeout, &scorerTimeout)
	setValue(c, "http-timeout", cfg.HTTPTimeout, &httpTimeout)
	setValue(c, "max-context", cfg.MaxContext, &maxContext)
	setValue(c, "structural-keep", cfg.StructuralKeep, &structuralKeep)
	setValue(c, "headroom", cfg.Headroom, &headroom)
	setValue(c, "max-new-tokens", cfg.MaxNewTokens, &maxNewTokens)
	setValue(c, "min-steps", cfg.MinSteps, &minSteps)
	setValue(c, "min-steps-continue", cfg.MinStepsContinue, &minStepsContinue)
	setValue(c, "max-sessions", cfg.MaxSessions, &maxSessions)
}

func setString(c flagSetter, name, v string, dst *string) {
	if v != "" && !c.IsSet(name) {
		*dst = v
	}
}

func setValue[T any](c flagSetter, name string, v *T, dst *T) {
	if v != nil && !c.IsSet(name) {
		*dst = *v
	}
}

var _ flagSetter = (*cli.Command)(nil)
