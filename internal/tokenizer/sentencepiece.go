package tokenizer

import (
	"fmt"
	"strings"

	"github.com/samcharles93/greedo/internal/vocab"
)

// SentencePiece is a greedy longest-match tokenizer over a fixed vocabulary.
// It holds no mutable state and is safe for concurrent use.
type SentencePiece struct {
	vocab        *vocab.Vocabulary
	maxLen       int
	byteFallback bool
	byteIDs      [256]int
}

var _ Tokenizer = (*SentencePiece)(nil)

func New(v *vocab.Vocabulary, opts Options) *SentencePiece {
	maxLen := opts.MaxTokenLen
	if maxLen <= 0 {
		maxLen = DefaultMaxTokenLen
	}
	// Candidates longer than the longest entry can never match.
	maxLen = min(maxLen, max(v.MaxTokenLen(), 1))

	t := &SentencePiece{vocab: v, maxLen: maxLen}
	if opts.ByteFallback {
		t.byteFallback = true
		for b := range 256 {
			id, ok := v.IDOf(fmt.Sprintf("<0x%02X>", b))
			if !ok {
				t.byteFallback = false
				break
			}
			t.byteIDs[b] = id
		}
	}
	return t
}

func (t *SentencePiece) Vocabulary() *vocab.Vocabulary { return t.vocab }

// ByteFallback reports whether byte fallback is active. It is off when the
// vocabulary lacks any of the 256 byte tokens, even if requested.
func (t *SentencePiece) ByteFallback() bool { return t.byteFallback }

func (t *SentencePiece) Encode(text string) []int {
	ids, _ := t.EncodeWithStats(text)
	return ids
}

// EncodeWithStats tokenizes text. The result always starts with BOS.
func (t *SentencePiece) EncodeWithStats(text string) ([]int, EncodeStats) {
	sp := t.vocab.Specials()
	s := WordMarker + strings.ReplaceAll(text, " ", WordMarker)

	// Byte offset of every rune start plus the end. Invalid UTF-8 bytes
	// each count as one rune here, which makes them one fallback unit.
	offs := make([]int, 0, len(s)+1)
	for i := range s {
		offs = append(offs, i)
	}
	offs = append(offs, len(s))
	n := len(offs) - 1

	ids := make([]int, 0, n+1)
	ids = append(ids, sp.BOS)
	var stats EncodeStats

	for pos := 0; pos < n; {
		matched := 0
		for l := min(t.maxLen, n-pos); l > 0; l-- {
			if id, ok := t.vocab.IDOf(s[offs[pos]:offs[pos+l]]); ok {
				ids = append(ids, id)
				matched = l
				break
			}
		}
		if matched > 0 {
			pos += matched
			continue
		}

		unit := s[offs[pos]:offs[pos+1]]
		if t.byteFallback {
			for i := 0; i < len(unit); i++ {
				ids = append(ids, t.byteIDs[unit[i]])
			}
			stats.ByteRuns++
		} else {
			ids = append(ids, sp.UNK)
			stats.Unknown++
		}
		pos++
	}
	stats.Tokens = len(ids)
	return ids, stats
}
