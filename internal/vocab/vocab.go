// Package vocab holds the immutable token/id mapping shared by the tokenizer,
// the detokenizer and the generation loop.
package vocab

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// Specials carries the control token ids. A negative id disables the entry.
type Specials struct {
	UNK       int
	BOS       int
	EOS       int
	LineBreak int
}

// DefaultSpecials is the SentencePiece/Llama layout: <unk>=0, <s>=1, </s>=2.
// The line-break soft stop is opt-in.
func DefaultSpecials() Specials {
	return Specials{UNK: 0, BOS: 1, EOS: 2, LineBreak: -1}
}

// Vocabulary is safe for concurrent readers; nothing mutates it after New.
type Vocabulary struct {
	ids map[string]int
	// tokens/present index dense tables; sparse replaces them when the id
	// range is much wider than the entry count.
	tokens      []string
	present     []bool
	sparse      map[int]string
	span        int
	maxTokenLen int
	specials    Specials
	model       ModelInfo
}

// ModelInfo is what the vocabulary's source file says about its model.
// Zero fields mean the source did not say.
type ModelInfo struct {
	Architecture  string
	ContextLength int
}

// MaxID bounds token ids. Anything at or above it is ErrInvalid.
const MaxID = 1 << 24

// denseSpan reports whether an id range of span fits a slice for n entries.
func denseSpan(span, n int) bool { return span <= 4*n+1024 }

// New builds a Vocabulary from a token->id mapping. A nil mapping is
// ErrMissing, an empty one ErrEmpty. Negative, duplicate or out of range
// (>= MaxID) ids are ErrInvalid.
func New(mapping map[string]int, specials Specials) (*Vocabulary, error) {
	if mapping == nil {
		return nil, ErrMissing
	}
	if len(mapping) == 0 {
		return nil, ErrEmpty
	}

	maxID := -1
	for tok, id := range mapping {
		if id < 0 {
			return nil, fmt.Errorf("%w: token %q has negative id %d", ErrInvalid, tok, id)
		}
		if id >= MaxID {
			return nil, fmt.Errorf("%w: token %q has id %d, limit is %d", ErrInvalid, tok, id, MaxID-1)
		}
		maxID = max(maxID, id)
	}

	v := &Vocabulary{
		ids:      make(map[string]int, len(mapping)),
		span:     maxID + 1,
		specials: specials,
	}
	if denseSpan(v.span, len(mapping)) {
		v.tokens = make([]string, v.span)
		v.present = make([]bool, v.span)
	} else {
		v.sparse = make(map[int]string, len(mapping))
	}
	for tok, id := range mapping {
		if prev, ok := v.TokenOf(id); ok {
			return nil, fmt.Errorf("%w: id %d used by %q and %q", ErrInvalid, id, prev, tok)
		}
		v.ids[tok] = id
		if v.sparse != nil {
			v.sparse[id] = tok
		} else {
			v.tokens[id] = tok
			v.present[id] = true
		}
		v.maxTokenLen = max(v.maxTokenLen, utf8.RuneCountInString(tok))
	}
	return v, nil
}

// FromTokens builds a Vocabulary where each token's id is its index, the
// layout used by GGUF token lists. Repeated strings keep the first id.
func FromTokens(tokens []string, specials Specials) (*Vocabulary, error) {
	if tokens == nil {
		return nil, ErrMissing
	}
	mapping := make(map[string]int, len(tokens))
	for id, tok := range tokens {
		if _, dup := mapping[tok]; dup {
			continue
		}
		mapping[tok] = id
	}
	return New(mapping, specials)
}

// IDOf returns the id of an exact token string.
func (v *Vocabulary) IDOf(token string) (int, bool) {
	id, ok := v.ids[token]
	return id, ok
}

// TokenOf returns the token string for id.
func (v *Vocabulary) TokenOf(id int) (string, bool) {
	if v.sparse != nil {
		tok, ok := v.sparse[id]
		return tok, ok
	}
	if id < 0 || id >= len(v.tokens) || !v.present[id] {
		return "", false
	}
	return v.tokens[id], true
}

// Size is the number of entries.
func (v *Vocabulary) Size() int { return len(v.ids) }

// IDSpan is one past the largest id, i.e. the logits width a scorer must produce.
func (v *Vocabulary) IDSpan() int { return v.span }

// MaxTokenLen is the longest token measured in runes.
func (v *Vocabulary) MaxTokenLen() int { return v.maxTokenLen }

func (v *Vocabulary) Specials() Specials { return v.specials }

// Model reports model metadata carried by the source file (GGUF only).
func (v *Vocabulary) Model() ModelInfo { return v.model }

// WithSpecials returns a copy sharing the maps with the given specials.
func (v *Vocabulary) WithSpecials(s Specials) *Vocabulary {
	cp := *v
	cp.specials = s
	return &cp
}

// Entry is one (token, id) pair.
type Entry struct {
	Token string
	ID    int
}

// Entries lists the vocabulary ordered by id.
func (v *Vocabulary) Entries() []Entry {
	out := make([]Entry, 0, len(v.ids))
	for tok, id := range v.ids {
		out = append(out, Entry{Token: tok, ID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DetectSpecials fills specials from the conventional control pieces when
// the vocabulary contains them; absent pieces keep the base value.
func (v *Vocabulary) DetectSpecials(base Specials) Specials {
	if id, ok := v.ids["<unk>"]; ok {
		base.UNK = id
	}
	if id, ok := v.ids["<s>"]; ok {
		base.BOS = id
	}
	if id, ok := v.ids["</s>"]; ok {
		base.EOS = id
	}
	return base
}
