// Package tokenizer converts text to SentencePiece-style token ids with a
// greedy longest-match scan, and renders ids back to text.
package tokenizer

// Tokenizer is the surface the generation loop and the CLI depend on.
// Neither direction fails: unmatched input maps to UNK and unknown ids
// render as a visible placeholder.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
	DecodeToken(id int) string
}

const (
	// WordMarker replaces spaces and prefixes the input.
	WordMarker = "▁"
	// DefaultMaxTokenLen bounds candidate lengths, in runes.
	DefaultMaxTokenLen = 20
)

// Options tunes the matcher.
type Options struct {
	// MaxTokenLen is the longest candidate tried, in runes. Zero means
	// DefaultMaxTokenLen.
	MaxTokenLen int
	// ByteFallback emits <0xXX> byte tokens for an unmatched rune when the
	// vocabulary has all of them, instead of UNK.
	ByteFallback bool
}

// EncodeStats reports how much of the input missed the vocabulary.
type EncodeStats struct {
	Tokens   int
	Unknown  int
	ByteRuns int
}
