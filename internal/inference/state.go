package inference

import "fmt"

// State is the generation state machine position of a session.
type State int

const (
	StateIdle State = iota
	StatePrefilled
	StateDecoding
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrefilled:
		return "prefilled"
	case StateDecoding:
		return "decoding"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StopReason explains why a generate request ended.
type StopReason string

const (
	StopNone                 StopReason = ""
	StopEOS                  StopReason = "eos"
	StopUNK                  StopReason = "unk"
	StopPunctuation          StopReason = "punctuation"
	StopLineBreak            StopReason = "line_break"
	StopSequenceLimit        StopReason = "sequence_limit"
	StopTokenBudgetExhausted StopReason = "token_budget_exhausted"
	StopScorerError          StopReason = "scorer_error"
	StopCancelled            StopReason = "cancelled"
)

func (r StopReason) String() string { return string(r) }

// Natural reports whether the model itself ended the turn, as opposed to a
// budget, limit or failure cutting it short.
func (r StopReason) Natural() bool {
	switch r {
	case StopEOS, StopUNK, StopPunctuation, StopLineBreak:
		return true
	default:
		return false
	}
}
