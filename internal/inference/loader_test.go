package inference

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/greedo/internal/vocab"
)

func writeVocab(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.json")
	doc := `{"<unk>": 0, "<s>": 1, "</s>": 2, "▁Hi": 3, "▁there": 4, ".": 5}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeGGUFVocab writes a GGUF header with a token list and a declared
// context length.
func writeGGUFVocab(t *testing.T, contextLength uint32) string {
	t.Helper()
	var buf bytes.Buffer
	le := binary.LittleEndian
	str := func(s string) {
		_ = binary.Write(&buf, le, uint64(len(s)))
		buf.WriteString(s)
	}
	buf.WriteString("GGUF")
	_ = binary.Write(&buf, le, uint32(3))
	_ = binary.Write(&buf, le, uint64(0))
	_ = binary.Write(&buf, le, uint64(3))

	str("general.architecture")
	_ = binary.Write(&buf, le, uint32(8))
	str("llama")
	str("llama.context_length")
	_ = binary.Write(&buf, le, uint32(4))
	_ = binary.Write(&buf, le, contextLength)
	tokens := []string{"<unk>", "<s>", "</s>", "▁Hi", "▁there", "."}
	str("tokenizer.ggml.tokens")
	_ = binary.Write(&buf, le, uint32(9))
	_ = binary.Write(&buf, le, uint32(8))
	_ = binary.Write(&buf, le, uint64(len(tokens)))
	for _, tok := range tokens {
		str(tok)
	}

	path := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoaderModelContextLength(t *testing.T) {
	t.Parallel()

	path := writeGGUFVocab(t, 40)
	tests := []struct {
		name      string
		toyLength int
		max       int
		want      int
	}{
		{name: "toy length defaults to model", want: 40},
		{name: "model caps a longer scorer", toyLength: 64, want: 40},
		{name: "shorter scorer wins", toyLength: 32, want: 32},
		{name: "max context below model", toyLength: 64, max: 24, want: 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := Loader{
				VocabPath:  path,
				Toy:        true,
				ToyLength:  tt.toyLength,
				MaxContext: tt.max,
				Config:     DefaultConfig(),
			}.Load(context.Background())
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			defer res.Close()
			if res.Capacity != tt.want {
				t.Fatalf("capacity = %d, want %d", res.Capacity, tt.want)
			}
			if m := res.Vocab.Model(); m.Architecture != "llama" || m.ContextLength != 40 {
				t.Fatalf("model info = %+v", m)
			}
		})
	}
}

func TestLoaderToy(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxNewTokens = 5
	res, err := Loader{
		VocabPath:         writeVocab(t),
		Toy:               true,
		ToyLength:         64,
		MaxContext:        48,
		SpecialsFromVocab: true,
		Config:            cfg,
	}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer res.Close()

	if res.Capacity != 48 {
		t.Fatalf("capacity = %d, want 48 (capped by MaxContext)", res.Capacity)
	}
	if res.Vocab.Size() != 6 || res.Provider.VocabSize() != 6 {
		t.Fatalf("vocab %d / provider %d", res.Vocab.Size(), res.Provider.VocabSize())
	}

	sess, err := res.NewSession("s1")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	out, err := sess.Generate(context.Background(), &Request{Text: "Hi there"}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.PromptTokens != 3 || out.Steps > 5 {
		t.Fatalf("result = %+v", out)
	}
}

func TestLoaderRemote(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/info":
			_, _ = w.Write([]byte(`{"max_sequence_length": 32, "vocab_size": 6}`))
		case "/v1/score":
			// Every row picks </s>.
			_, _ = w.Write([]byte(`{"logits": [` +
				`[0,0,1,0,0,0],[0,0,1,0,0,0],[0,0,1,0,0,0],[0,0,1,0,0,0]` + `]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	res, err := Loader{VocabPath: writeVocab(t), ScorerURL: srv.URL, Config: DefaultConfig()}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer res.Close()
	sess, err := res.NewSession("")
	if err != nil {
		t.Fatal(err)
	}
	out, err := sess.Generate(context.Background(), &Request{Text: "Hi"}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.StopReason != StopEOS {
		t.Fatalf("reason = %q", out.StopReason)
	}
}

func TestLoaderErrors(t *testing.T) {
	t.Parallel()

	vocabPath := writeVocab(t)
	tests := []struct {
		name   string
		loader Loader
		is     error
	}{
		{name: "no vocab", loader: Loader{Toy: true, Config: DefaultConfig()}, is: vocab.ErrMissing},
		{name: "missing vocab file", loader: Loader{VocabPath: filepath.Join(t.TempDir(), "x.json"), Toy: true, Config: DefaultConfig()}, is: vocab.ErrMissing},
		{name: "no scorer", loader: Loader{VocabPath: vocabPath, Config: DefaultConfig()}},
		{name: "both scorers", loader: Loader{VocabPath: vocabPath, Toy: true, ScorerURL: "http://x", Config: DefaultConfig()}},
		{name: "tiny capacity", loader: Loader{VocabPath: vocabPath, Toy: true, ToyLength: 8, Config: DefaultConfig()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.loader.Load(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Fatalf("expected %v, got %v", tt.is, err)
			}
		})
	}
}

func TestLoadTokenizer(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vocab.json")
	doc := `{"<s>": 3, "</s>": 4, "<unk>": 5, "▁Hi": 0}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	tok, cfg, err := Loader{VocabPath: path, SpecialsFromVocab: true, Config: DefaultConfig()}.LoadTokenizer()
	if err != nil {
		t.Fatalf("LoadTokenizer: %v", err)
	}
	if cfg.BOSID != 3 || cfg.EOSID != 4 || cfg.UNKID != 5 {
		t.Fatalf("specials not taken from vocabulary: %+v", cfg.Specials())
	}
	if got := tok.Encode("Hi"); len(got) != 2 || got[0] != 3 || got[1] != 0 {
		t.Fatalf("Encode(Hi) = %v, want [3 0]", got)
	}

	_, cfg, err = Loader{VocabPath: path, Config: DefaultConfig()}.LoadTokenizer()
	if err != nil {
		t.Fatalf("LoadTokenizer: %v", err)
	}
	if cfg.BOSID != 1 {
		t.Fatalf("configured BOS must win without SpecialsFromVocab, got %d", cfg.BOSID)
	}
}
