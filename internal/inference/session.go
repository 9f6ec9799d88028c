package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/samcharles93/greedo/internal/logger"
	"github.com/samcharles93/greedo/internal/logits"
	"github.com/samcharles93/greedo/internal/metrics"
	"github.com/samcharles93/greedo/internal/tokenizer"
	"github.com/samcharles93/greedo/internal/window"
)

type SessionOptions struct {
	ID        string
	Tokenizer tokenizer.Tokenizer
	Scorer    Scorer
	// Capacity is the scorer's fixed input length.
	Capacity int
	Config   Config
	Logger   logger.Logger
	// Selector picks the next id; nil means logits.Greedy.
	Selector logits.Selector
}

// Session is one conversation: a token history plus the decode loop that
// extends it. Requests on a session never overlap; a second concurrent
// Generate or Reset fails with ErrSessionBusy.
type Session struct {
	id       string
	cfg      Config
	tok      tokenizer.Tokenizer
	scorer   Scorer
	capacity int
	policy   window.Policy
	stop     StopPolicy
	selector logits.Selector
	log      logger.Logger

	requests *semaphore.Weighted
	gate     *scorerGate

	// Decode buffers, touched only while holding requests.
	inputs window.Inputs
	win    []int

	mu       sync.Mutex
	history  *window.History
	state    State
	turns    int
	served   int
	lastStop StopReason
}

var _ Engine = (*Session)(nil)

func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Tokenizer == nil {
		return nil, errors.New("session: tokenizer is required")
	}
	if opts.Scorer == nil {
		return nil, errors.New("session: scorer is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	if opts.Capacity <= opts.Config.Headroom+1 {
		return nil, fmt.Errorf("session: capacity %d must exceed headroom %d + 1", opts.Capacity, opts.Config.Headroom)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	if opts.ID != "" {
		log = log.With("session", opts.ID)
	}
	selector := opts.Selector
	if selector == nil {
		selector = logits.Greedy{}
	}
	return &Session{
		id:       opts.ID,
		cfg:      opts.Config,
		tok:      opts.Tokenizer,
		scorer:   opts.Scorer,
		capacity: opts.Capacity,
		policy:   window.Policy{StructuralKeep: opts.Config.StructuralKeep},
		stop:     NewStopPolicy(opts.Config),
		selector: selector,
		log:      log,
		requests: semaphore.NewWeighted(1),
		gate:     newScorerGate(opts.Config.ScorerTimeout),
		history:  window.NewHistory(opts.Capacity),
		win:      make([]int, 0, opts.Capacity),
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Capacity() int { return s.capacity }

// IsContinue reports whether text is the configured continue marker.
func (s *Session) IsContinue(text string) bool {
	return s.cfg.ContinueMarker != "" && strings.TrimSpace(text) == s.cfg.ContinueMarker
}

// Generate runs one request to completion. On a scorer failure the partial
// Result is returned together with a *ScorerError; on cancellation the
// partial Result is returned with ctx.Err(). The session stays usable.
func (s *Session) Generate(ctx context.Context, req *Request, stream StreamFunc) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if !s.requests.TryAcquire(1) {
		return nil, ErrSessionBusy
	}
	defer s.requests.Release(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	continued := req.Continue || s.IsContinue(req.Text)
	res := &Result{}

	if continued {
		if s.historyLen() == 0 {
			return nil, ErrNothingToContinue
		}
	} else {
		ids, unknown, err := s.encode(req.Text)
		if err != nil {
			return nil, fmt.Errorf("encode prompt: %w", err)
		}
		res.PromptTokens = len(ids)
		metrics.RecordPrompt(len(ids), unknown)

		s.mu.Lock()
		s.history.Append(ids...)
		s.turns++
		s.state = StatePrefilled
		s.mu.Unlock()
	}

	maxNew := s.cfg.MaxNewTokens
	if req.MaxNewTokens > 0 {
		maxNew = req.MaxNewTokens
	}
	minSteps := s.stop.MinStepsFor(continued)
	if req.MinSteps > 0 {
		minSteps = req.MinSteps
	}

	s.setState(StateDecoding)
	s.log.Debug("generate started",
		"continue", continued,
		"prompt_tokens", res.PromptTokens,
		"history", s.historyLen(),
		"max_new_tokens", maxNew,
	)

	var sb strings.Builder
	reason, err := s.decode(ctx, maxNew, minSteps, res, &sb, stream)

	res.Text = sb.String()
	res.StopReason = reason
	res.Stats = newStats(res.Steps, time.Since(start))
	metrics.RecordGeneration(res.Steps, res.Stats.Duration)
	metrics.RecordStop(string(reason))

	s.mu.Lock()
	s.served++
	s.lastStop = reason
	if reason == StopScorerError {
		s.state = StateFailed
	} else {
		s.state = StateStopped
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("generate failed", "reason", reason, "steps", res.Steps, "error", err)
		return res, err
	}
	s.log.Info("generate finished", "reason", reason, "steps", res.Steps, "tps", res.Stats.TPS)
	return res, nil
}

func (s *Session) decode(ctx context.Context, maxNew, minSteps int, res *Result, sb *strings.Builder, stream StreamFunc) (StopReason, error) {
	for {
		if err := ctx.Err(); err != nil {
			return StopCancelled, err
		}
		if res.Steps >= maxNew {
			return StopTokenBudgetExhausted, nil
		}

		s.mu.Lock()
		hLen := s.history.Len()
		if hLen >= s.capacity-1 {
			s.mu.Unlock()
			return StopSequenceLimit, nil
		}
		s.win = s.policy.AppendWindow(s.win[:0], s.history.View(), s.capacity, s.cfg.Headroom)
		s.mu.Unlock()
		metrics.RecordWindow(len(s.win), s.policy.Dropped(hLen, s.capacity, s.cfg.Headroom))
		if !res.Truncated && window.Truncated(hLen, s.capacity, s.cfg.Headroom) {
			res.Truncated = true
			s.log.Debug("window truncated", "history", hLen, "window", len(s.win))
		}

		out, err := s.gate.call(ctx, s.scorer, func() ([]int, []int) {
			return s.inputs.Fill(s.win, s.capacity, s.cfg.BOSID)
		})
		if err != nil {
			if ctx.Err() != nil {
				return StopCancelled, ctx.Err()
			}
			metrics.RecordScorerError(errorKind(err))
			return StopScorerError, &ScorerError{Step: res.Steps, Err: err}
		}

		pos := min(len(s.win), s.capacity) - 1
		if pos < 0 || pos >= len(out) || len(out[pos]) == 0 {
			metrics.RecordScorerError(errorKind(ErrMalformedLogits))
			return StopScorerError, &ScorerError{
				Step: res.Steps,
				Err:  fmt.Errorf("%w: no row at position %d of %d", ErrMalformedLogits, pos, len(out)),
			}
		}
		row := out[pos]
		metrics.RecordNonFinite(logits.NonFinite(row))
		best := s.selector.Select(row)
		if best < 0 {
			metrics.RecordScorerError(errorKind(ErrMalformedLogits))
			return StopScorerError, &ScorerError{
				Step: res.Steps,
				Err:  fmt.Errorf("%w: row at position %d has no finite value", ErrMalformedLogits, pos),
			}
		}

		fragment := s.tok.DecodeToken(best)
		d := s.stop.decide(best, res.Steps, fragment, sb.String(), minSteps)
		if !d.Append {
			return d.Reason, nil
		}

		s.mu.Lock()
		s.history.Append(best)
		s.mu.Unlock()
		sb.WriteString(fragment)
		if stream != nil {
			stream(fragment)
		}
		res.Steps++

		if d.Stop {
			return d.Reason, nil
		}
	}
}

// Reset clears the history. It fails with ErrSessionBusy while a request is
// running.
func (s *Session) Reset() error {
	if !s.requests.TryAcquire(1) {
		return ErrSessionBusy
	}
	defer s.requests.Release(1)

	s.mu.Lock()
	s.history.Reset()
	s.turns = 0
	s.state = StateIdle
	s.lastStop = StopNone
	s.mu.Unlock()
	s.log.Debug("session reset")
	return nil
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:            s.id,
		HistoryLength: s.history.Len(),
		Capacity:      s.capacity,
		State:         s.state,
		Requests:      s.served,
		LastStop:      s.lastStop,
	}
}

// History returns a copy of the conversation ids.
func (s *Session) History() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Tokens()
}

func (s *Session) historyLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Len()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

type statsEncoder interface {
	EncodeWithStats(text string) ([]int, tokenizer.EncodeStats)
}

func (s *Session) encode(text string) (ids []int, unknown int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	s.mu.Lock()
	first := s.turns == 0
	s.mu.Unlock()
	prompt := RenderPrompt(s.cfg.PromptFormat, s.cfg.SystemPrompt, text, first)
	if enc, ok := s.tok.(statsEncoder); ok {
		ids, st := enc.EncodeWithStats(prompt)
		return ids, st.Unknown, nil
	}
	return s.tok.Encode(prompt), 0, nil
}
