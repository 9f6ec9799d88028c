package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/greedo/internal/logger"
	"github.com/samcharles93/greedo/internal/scorer/remote"
	"github.com/samcharles93/greedo/internal/scorer/toy"
	"github.com/samcharles93/greedo/internal/tokenizer"
	"github.com/samcharles93/greedo/internal/vocab"
)

// Loader assembles the vocabulary, tokenizer and scorer provider a session
// needs. Exactly one of ScorerURL or Toy selects the scorer.
type Loader struct {
	VocabPath string

	ScorerURL   string
	HTTPTimeout time.Duration

	Toy       bool
	ToySeed   int64
	ToyHidden int
	ToyLength int

	// MaxContext caps the provider's sequence length when > 0.
	MaxContext int
	// SpecialsFromVocab takes UNK/BOS/EOS from the vocabulary's control
	// pieces instead of the configured ids.
	SpecialsFromVocab bool

	Config Config
	Logger logger.Logger
}

type LoadResult struct {
	Vocab     *vocab.Vocabulary
	Tokenizer *tokenizer.SentencePiece
	Provider  Provider
	Config    Config
	Capacity  int
	Logger    logger.Logger
}

func (l Loader) Load(ctx context.Context) (*LoadResult, error) {
	log := l.logger()
	tok, cfg, err := l.LoadTokenizer()
	if err != nil {
		return nil, err
	}
	v := tok.Vocabulary()

	open, err := l.opener(v)
	if err != nil {
		return nil, err
	}
	p, err := OpenProvider(ctx, cfg.LoadTimeout, open)
	if err != nil {
		return nil, fmt.Errorf("open scorer: %w", err)
	}

	capacity := p.MaxSequenceLength()
	if n := v.Model().ContextLength; n > 0 && n < capacity {
		log.Info("capacity capped by model context length", "scorer", capacity, "model", n)
		capacity = n
	}
	if l.MaxContext > 0 && l.MaxContext < capacity {
		capacity = l.MaxContext
	}
	if capacity <= cfg.Headroom+1 {
		_ = p.Close()
		return nil, fmt.Errorf("scorer sequence length %d leaves no room after headroom %d", capacity, cfg.Headroom)
	}
	if vs := p.VocabSize(); vs > 0 && vs < v.IDSpan() {
		log.Warn("scorer vocabulary is smaller than the token table", "scorer", vs, "table", v.IDSpan())
	}
	log.Info("scorer ready", "capacity", capacity, "vocab_size", p.VocabSize())

	return &LoadResult{
		Vocab:     v,
		Tokenizer: tok,
		Provider:  p,
		Config:    cfg,
		Capacity:  capacity,
		Logger:    log,
	}, nil
}

func (l Loader) opener(v *vocab.Vocabulary) (func(context.Context) (Provider, error), error) {
	switch {
	case l.Toy && l.ScorerURL != "":
		return nil, errors.New("choose either a remote scorer URL or the toy scorer, not both")
	case l.Toy:
		length := l.ToyLength
		if length <= 0 {
			length = v.Model().ContextLength
		}
		return func(context.Context) (Provider, error) {
			return toy.New(toy.Options{
				VocabSize: v.IDSpan(),
				Hidden:    l.ToyHidden,
				Length:    length,
				Seed:      l.ToySeed,
			}), nil
		}, nil
	case l.ScorerURL != "":
		return func(ctx context.Context) (Provider, error) {
			c, err := remote.Dial(ctx, l.ScorerURL, remote.Options{Timeout: l.HTTPTimeout})
			if err != nil {
				return nil, err
			}
			return c, nil
		}, nil
	default:
		return nil, errors.New("no scorer configured (set a scorer URL or enable the toy scorer)")
	}
}

// LoadTokenizer loads only the vocabulary and tokenizer. The returned
// Config carries the effective control ids.
func (l Loader) LoadTokenizer() (*tokenizer.SentencePiece, Config, error) {
	if strings.TrimSpace(l.VocabPath) == "" {
		return nil, Config{}, fmt.Errorf("vocabulary path is required: %w", vocab.ErrMissing)
	}
	log := l.logger()
	cfg := l.Config
	if err := cfg.Validate(); err != nil {
		return nil, Config{}, err
	}

	v, err := vocab.Load(l.VocabPath)
	if err != nil {
		return nil, Config{}, err
	}
	if l.SpecialsFromVocab {
		detected := v.DetectSpecials(v.Specials())
		detected.LineBreak = cfg.LineBreakID
		cfg = cfg.WithSpecials(detected)
	}
	v = v.WithSpecials(cfg.Specials())
	log.Info("vocabulary loaded",
		"path", l.VocabPath,
		"size", v.Size(),
		"max_token_len", v.MaxTokenLen(),
		"bos", cfg.BOSID, "eos", cfg.EOSID, "unk", cfg.UNKID,
	)
	if m := v.Model(); m.Architecture != "" || m.ContextLength > 0 {
		log.Debug("model metadata", "architecture", m.Architecture, "context_length", m.ContextLength)
	}

	tok := tokenizer.New(v, tokenizer.Options{MaxTokenLen: cfg.MaxTokenLen, ByteFallback: cfg.ByteFallback})
	if cfg.ByteFallback && !tok.ByteFallback() {
		log.Warn("byte fallback requested but the vocabulary lacks <0xXX> tokens")
	}
	return tok, cfg, nil
}

func (l Loader) logger() logger.Logger {
	if l.Logger == nil {
		return logger.Discard()
	}
	return l.Logger
}

// NewSession builds a session over the loaded components.
func (r *LoadResult) NewSession(id string) (*Session, error) {
	return NewSession(SessionOptions{
		ID:        id,
		Tokenizer: r.Tokenizer,
		Scorer:    r.Provider,
		Capacity:  r.Capacity,
		Config:    r.Config,
		Logger:    r.Logger,
	})
}

func (r *LoadResult) Close() error {
	if r == nil || r.Provider == nil {
		return nil
	}
	return r.Provider.Close()
}
