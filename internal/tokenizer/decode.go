package tokenizer

import (
	"strconv"
	"strings"
)

// DecodeToken renders a single id for incremental output. Unknown ids become
// "[UNK_<id>]"; byte tokens become their byte; every word marker becomes a
// space, so a word-initial piece keeps its leading space.
func (t *SentencePiece) DecodeToken(id int) string {
	piece, ok := t.vocab.TokenOf(id)
	if !ok {
		return "[UNK_" + strconv.Itoa(id) + "]"
	}
	if b, ok := parseByteToken(piece); ok {
		return string([]byte{b})
	}
	return strings.ReplaceAll(piece, WordMarker, " ")
}

// Decode renders a whole sequence. The BOS, EOS and UNK control pieces
// render as nothing, and the single space produced by the first word marker
// is dropped.
func (t *SentencePiece) Decode(ids []int) string {
	sp := t.vocab.Specials()
	var sb strings.Builder
	for _, id := range ids {
		if id >= 0 && (id == sp.BOS || id == sp.EOS || id == sp.UNK) {
			continue
		}
		sb.WriteString(t.DecodeToken(id))
	}
	return strings.TrimPrefix(sb.String(), " ")
}

// parseByteToken recognises <0xXX> pieces. The control characters that
// matter for display are matched exactly before the general hex parse.
func parseByteToken(piece string) (byte, bool) {
	switch piece {
	case "<0x0A>":
		return '\n', true
	case "<0x0D>":
		return '\r', true
	case "<0x09>":
		return '\t', true
	}
	if len(piece) != 6 || !strings.HasPrefix(piece, "<0x") || piece[5] != '>' {
		return 0, false
	}
	v, err := strconv.ParseUint(piece[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}
