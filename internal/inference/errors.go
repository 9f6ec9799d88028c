package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionBusy is returned when a request arrives while another is
	// still running on the same session.
	ErrSessionBusy = errors.New("session busy")
	// ErrScorerTimeout means the bounded wait for a scorer call expired.
	// The call itself may still be running.
	ErrScorerTimeout = errors.New("scorer timed out")
	// ErrScorerBusy means a previous, abandoned scorer call still held the
	// gate when the wait expired.
	ErrScorerBusy = errors.New("scorer busy")
	// ErrMalformedLogits means the scorer returned no usable row at the
	// read position.
	ErrMalformedLogits = errors.New("malformed logits")
	// ErrNothingToContinue is returned for a continue request on an empty history.
	ErrNothingToContinue = errors.New("nothing to continue")
	// ErrProviderTimeout means the scorer provider did not open in time.
	ErrProviderTimeout = errors.New("scorer provider load timed out")
)

// ScorerError wraps a scorer failure with the decode step it happened on.
type ScorerError struct {
	Step int
	Err  error
}

func (e *ScorerError) Error() string {
	return fmt.Sprintf("scorer failed at step %d: %v", e.Step, e.Err)
}

func (e *ScorerError) Unwrap() error { return e.Err }

// errorKind labels scorer failures for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrScorerTimeout):
		return "timeout"
	case errors.Is(err, ErrScorerBusy):
		return "busy"
	case errors.Is(err, ErrMalformedLogits):
		return "malformed"
	default:
		return "call"
	}
}
