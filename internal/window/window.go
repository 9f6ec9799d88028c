// Package window keeps the conversation history and derives the bounded,
// padded view of it that is handed to the scorer on every step.
package window

// DefaultStructuralKeep is how many leading ids survive truncation. They hold
// the prompt's role and instruction markers.
const DefaultStructuralKeep = 8

// History is the append-only token log of one conversation. It is not safe
// for concurrent use; the owning session serialises access.
type History struct {
	ids []int
}

func NewHistory(capacityHint int) *History {
	return &History{ids: make([]int, 0, max(capacityHint, 0))}
}

func (h *History) Append(ids ...int) { h.ids = append(h.ids, ids...) }

func (h *History) Len() int { return len(h.ids) }

// Tokens returns a copy of the history.
func (h *History) Tokens() []int {
	out := make([]int, len(h.ids))
	copy(out, h.ids)
	return out
}

// View exposes the backing slice for read-only use until the next Append.
func (h *History) View() []int { return h.ids }

// Reset empties the history and keeps its storage.
func (h *History) Reset() { h.ids = h.ids[:0] }

// Policy is the sliding-window rule: keep a structural prefix, fill the rest
// with the most recent ids.
type Policy struct {
	StructuralKeep int
}

// Window returns the ids to score for history h. The result is a new slice
// of length min(len(h), capacity-reserved).
func (p Policy) Window(h []int, capacity, reserved int) []int {
	return p.AppendWindow(nil, h, capacity, reserved)
}

// AppendWindow appends the window to dst, letting callers reuse a buffer.
func (p Policy) AppendWindow(dst, h []int, capacity, reserved int) []int {
	maxLen := max(capacity-reserved, 0)
	if len(h) <= maxLen {
		return append(dst, h...)
	}
	structural := min(max(p.StructuralKeep, 0), len(h), maxLen)
	recent := maxLen - structural
	dst = append(dst, h[:structural]...)
	return append(dst, h[len(h)-recent:]...)
}

// Dropped is how many middle ids a history of length n loses.
func (p Policy) Dropped(n, capacity, reserved int) int {
	return max(n-max(capacity-reserved, 0), 0)
}

// Truncated reports whether a history of length n exceeds the window.
func Truncated(n, capacity, reserved int) bool {
	return n > max(capacity-reserved, 0)
}

// Inputs holds reusable fixed-length scorer buffers.
type Inputs struct {
	ids  []int
	mask []int
}

// Fill writes window into buffers of length capacity. Positions past the
// window hold padID with mask 0, so sum(mask) == min(len(window), capacity).
// The returned slices are overwritten by the next Fill.
func (in *Inputs) Fill(window []int, capacity, padID int) (ids, mask []int) {
	capacity = max(capacity, 0)
	if cap(in.ids) < capacity {
		in.ids = make([]int, capacity)
		in.mask = make([]int, capacity)
	}
	in.ids = in.ids[:capacity]
	in.mask = in.mask[:capacity]

	n := copy(in.ids, window)
	for i := range n {
		in.mask[i] = 1
	}
	for i := n; i < capacity; i++ {
		in.ids[i] = padID
		in.mask[i] = 0
	}
	return in.ids, in.mask
}
