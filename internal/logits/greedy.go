// Package logits turns a scorer's output vector into the next token id.
// Decoding is deterministic: there is no temperature and no randomness.
package logits

import "math"

// Argmax returns the index of the largest logit. Ties go to the lowest index
// and NaN entries are skipped. It returns -1 when logits is empty or holds
// only NaN.
func Argmax(logits []float32) int {
	best := -1
	var bestVal float32
	for i, v := range logits {
		if v != v {
			continue
		}
		if best < 0 || v > bestVal {
			best = i
			bestVal = v
		}
	}
	return best
}

// Selector picks the next id from a logits vector. A negative result means
// the vector held nothing selectable.
type Selector interface {
	Select(logits []float32) int
}

// Greedy selects with Argmax.
type Greedy struct{}

func (Greedy) Select(logits []float32) int { return Argmax(logits) }

// NonFinite counts NaN and infinite entries.
func NonFinite(logits []float32) int {
	n := 0
	for _, v := range logits {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			n++
		}
	}
	return n
}
