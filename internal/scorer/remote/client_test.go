package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func newScorerServer(t *testing.T, score http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/info", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Info{MaxSequenceLength: 8, VocabSize: 4})
	})
	mux.HandleFunc("POST /v1/score", score)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDialAndScore(t *testing.T) {
	t.Parallel()

	var got scoreRequest
	srv := newScorerServer(t, func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		logits := make([][]float32, len(got.InputIDs))
		for i := range logits {
			logits[i] = []float32{0, 0, 1, 0}
		}
		_ = json.NewEncoder(w).Encode(scoreResponse{Logits: logits})
	})

	c, err := Dial(context.Background(), srv.URL+"/", Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if c.MaxSequenceLength() != 8 || c.VocabSize() != 4 {
		t.Fatalf("info = %+v", c.Info())
	}

	ids := []int{1, 5, 1, 1}
	mask := []int{1, 1, 0, 0}
	out, err := c.Score(context.Background(), ids, mask)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(out) != 4 || out[1][2] != 1 {
		t.Fatalf("logits = %v", out)
	}
	if len(got.AttentionMask) != 4 || got.AttentionMask[1] != 1 || got.AttentionMask[2] != 0 {
		t.Fatalf("server saw mask %v", got.AttentionMask)
	}
}

func TestScoreStatusError(t *testing.T) {
	t.Parallel()

	srv := newScorerServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	})
	c, err := Dial(context.Background(), srv.URL, Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	_, err = c.Score(context.Background(), []int{1}, []int{1})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Status != http.StatusInternalServerError || !strings.Contains(se.Body, "model exploded") {
		t.Fatalf("unexpected status error: %+v", se)
	}
}

func TestScoreErrorField(t *testing.T) {
	t.Parallel()

	srv := newScorerServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"out of memory"}`))
	})
	c, err := Dial(context.Background(), srv.URL, Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, err := c.Score(context.Background(), []int{1}, []int{1}); err == nil || !strings.Contains(err.Error(), "out of memory") {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestDialErrors(t *testing.T) {
	t.Parallel()

	if _, err := Dial(context.Background(), "not a url", Options{}); err == nil {
		t.Fatal("expected invalid url error")
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"max_sequence_length":0}`))
	}))
	defer bad.Close()
	if _, err := Dial(context.Background(), bad.URL, Options{}); err == nil {
		t.Fatal("expected invalid info error")
	}
}

func TestScoreLengthMismatch(t *testing.T) {
	t.Parallel()

	c := &Client{base: "http://unused", http: http.DefaultClient}
	if _, err := c.Score(context.Background(), []int{1, 2}, []int{1}); err == nil {
		t.Fatal("expected length mismatch error")
	}
}
