package vocab

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/greedo/internal/gguf"
)

// Load picks a loader from the file name and, for JSON, from its shape:
// an object with a "model" section is a Hugging Face tokenizer.json, anything
// else must be a flat {"token": id} object.
func Load(path string) (*Vocabulary, error) {
	if strings.EqualFold(filepath.Ext(path), ".gguf") {
		return LoadGGUF(path)
	}
	raw, err := readFile("load", path)
	if err != nil {
		return nil, err
	}
	if isHFTokenizer(raw) {
		return decodeHF(path, raw)
	}
	return decodeFlat(path, raw)
}

// LoadJSON reads a flat {"token": id} mapping.
func LoadJSON(path string) (*Vocabulary, error) {
	raw, err := readFile("load json", path)
	if err != nil {
		return nil, err
	}
	return decodeFlat(path, raw)
}

// LoadHFTokenizer reads model.vocab and added_tokens from a tokenizer.json.
func LoadHFTokenizer(path string) (*Vocabulary, error) {
	raw, err := readFile("load tokenizer.json", path)
	if err != nil {
		return nil, err
	}
	return decodeHF(path, raw)
}

// LoadGGUF reads tokenizer.ggml.tokens and the special ids from GGUF metadata.
func LoadGGUF(path string) (*Vocabulary, error) {
	const op = "load gguf"
	if _, err := os.Stat(path); err != nil {
		return nil, missingErr(op, path, err)
	}
	md, err := gguf.Open(path)
	if err != nil {
		return nil, &Error{Op: op, Path: path, Err: fmt.Errorf("%w: %v", ErrInvalid, err)}
	}
	tokens, ok := gguf.GetArray[string](md.KV, "tokenizer.ggml.tokens")
	if !ok {
		return nil, &Error{Op: op, Path: path, Err: fmt.Errorf("%w: no tokenizer.ggml.tokens", ErrMissing)}
	}
	if len(tokens) == 0 {
		return nil, &Error{Op: op, Path: path, Err: ErrEmpty}
	}

	specials := DefaultSpecials()
	if id, ok := gguf.GetInt(md.KV, "tokenizer.ggml.unknown_token_id"); ok {
		specials.UNK = id
	}
	if id, ok := gguf.GetInt(md.KV, "tokenizer.ggml.bos_token_id"); ok {
		specials.BOS = id
	}
	if id, ok := gguf.GetInt(md.KV, "tokenizer.ggml.eos_token_id"); ok {
		specials.EOS = id
	}

	v, err := FromTokens(tokens, specials)
	if err != nil {
		return nil, &Error{Op: op, Path: path, Err: err}
	}
	v.model.Architecture = md.Architecture()
	if n, ok := md.ContextLength(); ok {
		v.model.ContextLength = n
	}
	return v, nil
}

type hfTokenizerJSON struct {
	Model struct {
		Type  string         `json:"type"`
		Vocab map[string]int `json:"vocab"`
	} `json:"model"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
	} `json:"added_tokens"`
}

func decodeHF(path string, raw []byte) (*Vocabulary, error) {
	const op = "load tokenizer.json"
	var tj hfTokenizerJSON
	if err := json.Unmarshal(raw, &tj); err != nil {
		return nil, &Error{Op: op, Path: path, Err: fmt.Errorf("%w: %v", ErrInvalid, err)}
	}
	if tj.Model.Vocab == nil {
		return nil, &Error{Op: op, Path: path, Err: fmt.Errorf("%w: no model.vocab", ErrMissing)}
	}

	mapping := make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens))
	for tok, id := range tj.Model.Vocab {
		mapping[tok] = id
	}
	for _, at := range tj.AddedTokens {
		if id, ok := mapping[at.Content]; ok && id == at.ID {
			continue
		}
		mapping[at.Content] = at.ID
	}
	return build(op, path, mapping)
}

func decodeFlat(path string, raw []byte) (*Vocabulary, error) {
	const op = "load json"
	var mapping map[string]int
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, &Error{Op: op, Path: path, Err: fmt.Errorf("%w: %v", ErrInvalid, err)}
	}
	if mapping == nil {
		return nil, &Error{Op: op, Path: path, Err: fmt.Errorf("%w: null document", ErrMissing)}
	}
	return build(op, path, mapping)
}

func build(op, path string, mapping map[string]int) (*Vocabulary, error) {
	v, err := New(mapping, DefaultSpecials())
	if err != nil {
		return nil, &Error{Op: op, Path: path, Err: err}
	}
	v.specials = v.DetectSpecials(v.specials)
	return v, nil
}

func readFile(op, path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &Error{Op: op, Err: fmt.Errorf("%w: no path given", ErrMissing)}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, missingErr(op, path, err)
	}
	return raw, nil
}

func missingErr(op, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &Error{Op: op, Path: path, Err: fmt.Errorf("%w: %w", ErrMissing, err)}
	}
	return &Error{Op: op, Path: path, Err: err}
}

func isHFTokenizer(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return false
	}
	model, ok := probe["model"]
	if !ok {
		return false
	}
	model = bytes.TrimSpace(model)
	return len(model) > 0 && model[0] == '{'
}
