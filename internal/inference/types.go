package inference

import (
	"context"
	"time"
)

// StreamFunc receives each accepted fragment as soon as it is decoded.
type StreamFunc func(fragment string)

// Engine is what callers drive: the CLI REPL and the HTTP API both hold one
// per conversation.
type Engine interface {
	Generate(ctx context.Context, req *Request, stream StreamFunc) (*Result, error)
	Reset() error
	Status() Status
}

type Request struct {
	Text string
	// Continue resumes decoding on the existing history without new input.
	Continue bool
	// MaxNewTokens overrides Config.MaxNewTokens when > 0.
	MaxNewTokens int
	// MinSteps overrides the soft-stop threshold when > 0.
	MinSteps int
}

type Result struct {
	Text         string
	StopReason   StopReason
	Steps        int
	PromptTokens int
	// Truncated is set once any step scored a window that dropped history.
	Truncated bool
	Stats     Stats
}

type Stats struct {
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

func newStats(tokens int, d time.Duration) Stats {
	s := Stats{TokensGenerated: tokens, Duration: d}
	if d.Seconds() > 0 {
		s.TPS = float64(tokens) / d.Seconds()
	}
	return s
}

type Status struct {
	ID            string
	HistoryLength int
	Capacity      int
	State         State
	Requests      int
	LastStop      StopReason
}
