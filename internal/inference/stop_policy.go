package inference

import (
	"strings"
	"unicode/utf8"
)

// StopPolicy decides after each greedy pick whether generation ends.
//
// Hard stops (EOS, UNK) end immediately and the id is not kept. Soft stops
// (sentence punctuation or the line-break id) are honoured only after a
// minimum number of steps and only when the recent text does not look like
// code being written; the id is kept and emitted first.
type StopPolicy struct {
	EOSID            int
	UNKID            int
	LineBreakID      int
	MinSteps         int
	MinStepsContinue int
	Punctuation      string
	TailWindow       int
	CodeKeywords     []string
}

type StopDecision struct {
	Stop   bool
	Append bool
	Reason StopReason
}

func NewStopPolicy(cfg Config) StopPolicy {
	return StopPolicy{
		EOSID:            cfg.EOSID,
		UNKID:            cfg.UNKID,
		LineBreakID:      cfg.LineBreakID,
		MinSteps:         cfg.MinSteps,
		MinStepsContinue: cfg.MinStepsContinue,
		Punctuation:      cfg.StopPunctuation,
		TailWindow:       cfg.TailWindow,
		CodeKeywords:     cfg.CodeKeywords,
	}
}

// MinStepsFor returns the soft-stop threshold for a request.
func (p StopPolicy) MinStepsFor(continued bool) int {
	if continued {
		return p.MinStepsContinue
	}
	return p.MinSteps
}

// Decide evaluates id at step (the number of ids already accepted in this
// request). fragment is id's decoded text and generated the text accepted
// before it.
func (p StopPolicy) Decide(id, step int, fragment, generated string, continued bool) StopDecision {
	return p.decide(id, step, fragment, generated, p.MinStepsFor(continued))
}

func (p StopPolicy) decide(id, step int, fragment, generated string, minSteps int) StopDecision {
	switch id {
	case p.EOSID:
		return StopDecision{Stop: true, Reason: StopEOS}
	case p.UNKID:
		return StopDecision{Stop: true, Reason: StopUNK}
	}

	keep := StopDecision{Append: true}
	if step < minSteps {
		return keep
	}

	var reason StopReason
	switch {
	case p.LineBreakID >= 0 && id == p.LineBreakID:
		reason = StopLineBreak
	case p.Punctuation != "" && strings.ContainsAny(fragment, p.Punctuation):
		reason = StopPunctuation
	default:
		return keep
	}

	text := generated + fragment
	if p.inCode(text) {
		return keep
	}
	return StopDecision{Stop: true, Append: true, Reason: reason}
}

const codeFence = "```"

// inCode reports whether text ends inside something that looks like code:
// an unclosed fence anywhere, or a line in the tail opening with a statement
// keyword. A closed fence is prose again.
func (p StopPolicy) inCode(text string) bool {
	if strings.Count(text, codeFence)%2 == 1 {
		return true
	}
	tail := lastRunes(text, p.TailWindow)
	for _, line := range strings.Split(tail, "\n") {
		line = strings.TrimLeft(line, " \t")
		for _, kw := range p.CodeKeywords {
			if kw != "" && strings.HasPrefix(line, kw) {
				return true
			}
		}
	}
	return false
}

func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := len(s)
	for range n {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return s[i:]
}
