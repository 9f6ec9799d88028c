// Package toy is a tiny deterministic in-process scorer. Its logits come from
// a seeded embedding and projection, so runs are reproducible without any
// model weights on disk.
package toy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
)

const (
	defaultHidden = 16
	defaultLength = 256
)

type Options struct {
	VocabSize int
	Hidden    int
	// Length is the reported max sequence length.
	Length int
	Seed   int64
	// Script, when set, makes the last real position's row a one-hot vector
	// for Script[n] on the n-th call; the last entry repeats.
	Script []int
}

// Model maps each token to a logits row through Emb[tok] * W + Bias.
type Model struct {
	vocab  int
	hidden int
	length int

	emb  [][]float32 // [vocab][hidden]
	w    [][]float32 // [hidden][vocab]
	bias []float32

	mu     sync.Mutex
	script []int
	calls  int
}

func New(opts Options) *Model {
	vocab := max(opts.VocabSize, 1)
	hidden := opts.Hidden
	if hidden <= 0 {
		hidden = defaultHidden
	}
	length := opts.Length
	if length <= 0 {
		length = defaultLength
	}
	m := &Model{
		vocab:  vocab,
		hidden: hidden,
		length: length,
		emb:    fill(vocab, hidden, uint64(opts.Seed)+11),
		w:      fill(hidden, vocab, uint64(opts.Seed)+23),
		bias:   fill(1, vocab, uint64(opts.Seed)+37)[0],
		script: append([]int(nil), opts.Script...),
	}
	return m
}

func fill(rows, cols int, seed uint64) [][]float32 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([][]float32, rows)
	for i := range out {
		row := make([]float32, cols)
		for j := range row {
			row[j] = rng.Float32()*2 - 1
		}
		out[i] = row
	}
	return out
}

func (m *Model) MaxSequenceLength() int { return m.length }

func (m *Model) VocabSize() int { return m.vocab }

func (m *Model) Close() error { return nil }

// Forward returns the logits row for a single token. Out-of-range ids wrap.
func (m *Model) Forward(tok int) []float32 {
	tok %= m.vocab
	if tok < 0 {
		tok += m.vocab
	}
	h := m.emb[tok]
	logits := make([]float32, m.vocab)
	for j := range logits {
		var sum float32
		for i := range m.hidden {
			sum += h[i] * m.w[i][j]
		}
		logits[j] = sum + m.bias[j]
	}
	return logits
}

// Score returns one row per masked-in position; padded positions get nil.
func (m *Model) Score(ctx context.Context, ids, mask []int) ([][]float32, error) {
	if len(ids) != len(mask) {
		return nil, fmt.Errorf("toy: ids and mask length differ: %d vs %d", len(ids), len(mask))
	}
	if len(ids) > m.length {
		return nil, fmt.Errorf("toy: input length %d exceeds %d", len(ids), m.length)
	}
	last := -1
	out := make([][]float32, len(ids))
	for i, id := range ids {
		if mask[i] == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.Forward(id)
		last = i
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.script) > 0 && last >= 0 {
		next := m.script[min(m.calls, len(m.script)-1)]
		row := make([]float32, m.vocab)
		if next >= 0 && next < m.vocab {
			row[next] = 1
		}
		out[last] = row
	}
	m.calls++
	return out, nil
}

// Calls reports how many Score calls completed.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
