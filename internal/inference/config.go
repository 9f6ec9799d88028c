package inference

import (
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/greedo/internal/tokenizer"
	"github.com/samcharles93/greedo/internal/vocab"
	"github.com/samcharles93/greedo/internal/window"
)

// Config holds every tunable of a session. Zero values are not defaults;
// start from DefaultConfig.
type Config struct {
	// Window.
	StructuralKeep int
	Headroom       int

	// Decoding.
	MaxNewTokens     int
	MinSteps         int
	MinStepsContinue int
	StopPunctuation  string
	TailWindow       int
	CodeKeywords     []string

	// Special ids. LineBreakID -1 disables the line-break soft stop.
	UNKID       int
	BOSID       int
	EOSID       int
	LineBreakID int

	// Tokenizer.
	MaxTokenLen  int
	ByteFallback bool

	// Scorer waits.
	ScorerTimeout time.Duration
	LoadTimeout   time.Duration

	// Prompting.
	ContinueMarker string
	PromptFormat   PromptFormat
	SystemPrompt   string
}

// DefaultCodeKeywords are line starts that mark text as code in progress.
var DefaultCodeKeywords = []string{
	"func ", "def ", "class ", "import ", "return ", "for ", "while ",
	"if (", "var ", "let ", "const ", "#include", "public ",
}

func DefaultConfig() Config {
	sp := vocab.DefaultSpecials()
	return Config{
		StructuralKeep:   window.DefaultStructuralKeep,
		Headroom:         10,
		MaxNewTokens:     128,
		MinSteps:         16,
		MinStepsContinue: 48,
		StopPunctuation:  ".!?",
		TailWindow:       50,
		CodeKeywords:     append([]string(nil), DefaultCodeKeywords...),
		UNKID:            sp.UNK,
		BOSID:            sp.BOS,
		EOSID:            sp.EOS,
		LineBreakID:      sp.LineBreak,
		MaxTokenLen:      tokenizer.DefaultMaxTokenLen,
		ScorerTimeout:    60 * time.Second,
		LoadTimeout:      180 * time.Second,
		ContinueMarker:   "/continue",
		PromptFormat:     PromptRaw,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.StructuralKeep < 0 {
		errs = append(errs, fmt.Errorf("invalid structural keep: %d (must be >= 0)", c.StructuralKeep))
	}
	if c.Headroom < 0 {
		errs = append(errs, fmt.Errorf("invalid headroom: %d (must be >= 0)", c.Headroom))
	}
	if c.MaxNewTokens <= 0 {
		errs = append(errs, fmt.Errorf("invalid max new tokens: %d (must be positive)", c.MaxNewTokens))
	}
	if c.MinSteps < 0 || c.MinStepsContinue < 0 {
		errs = append(errs, fmt.Errorf("invalid min steps: %d/%d (must be >= 0)", c.MinSteps, c.MinStepsContinue))
	}
	if c.TailWindow <= 0 {
		errs = append(errs, fmt.Errorf("invalid tail window: %d (must be positive)", c.TailWindow))
	}
	if c.UNKID < 0 || c.BOSID < 0 || c.EOSID < 0 {
		errs = append(errs, fmt.Errorf("invalid special ids unk=%d bos=%d eos=%d (must be >= 0)", c.UNKID, c.BOSID, c.EOSID))
	}
	if c.LineBreakID < -1 {
		errs = append(errs, fmt.Errorf("invalid line break id: %d (use -1 to disable)", c.LineBreakID))
	}
	if c.MaxTokenLen <= 0 {
		errs = append(errs, fmt.Errorf("invalid max token length: %d (must be positive)", c.MaxTokenLen))
	}
	if c.ScorerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid scorer timeout: %s (must be positive)", c.ScorerTimeout))
	}
	if c.LoadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid load timeout: %s (must be positive)", c.LoadTimeout))
	}
	if _, err := ParsePromptFormat(string(c.PromptFormat)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Specials returns the configured control ids in vocabulary form.
func (c Config) Specials() vocab.Specials {
	return vocab.Specials{UNK: c.UNKID, BOS: c.BOSID, EOS: c.EOSID, LineBreak: c.LineBreakID}
}

// WithSpecials copies control ids from s.
func (c Config) WithSpecials(s vocab.Specials) Config {
	c.UNKID, c.BOSID, c.EOSID, c.LineBreakID = s.UNK, s.BOS, s.EOS, s.LineBreak
	return c
}
