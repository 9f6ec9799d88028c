package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/greedo/internal/inference"
	"github.com/samcharles93/greedo/internal/tokenizer"
	"github.com/samcharles93/greedo/internal/vocab"
)

const testVocabSpan = 14

func testTokenizer(t *testing.T) *tokenizer.SentencePiece {
	t.Helper()
	v, err := vocab.New(map[string]int{
		"<unk>":  0,
		"<s>":    1,
		"</s>":   2,
		"▁Hi":    5,
		"▁a":     6,
		".":      7,
		"▁b":     8,
		"<0x0A>": 13,
	}, vocab.DefaultSpecials())
	if err != nil {
		t.Fatalf("vocab.New: %v", err)
	}
	return tokenizer.New(v, tokenizer.Options{})
}

// scriptedScorer answers the n-th call with picks[n] at every position. A
// negative pick fails the call.
func scriptedScorer(picks ...int) inference.ScorerFunc {
	var calls atomic.Int32
	return func(ctx context.Context, ids, mask []int) ([][]float32, error) {
		n := int(calls.Add(1)) - 1
		pick := picks[min(n, len(picks)-1)]
		if pick < 0 {
			return nil, errors.New("backend unavailable")
		}
		out := make([][]float32, len(ids))
		for i := range out {
			out[i] = make([]float32, testVocabSpan)
			out[i][pick] = 1
		}
		return out, nil
	}
}

type fakeEngine struct {
	err error
}

func (e fakeEngine) Generate(ctx context.Context, req *inference.Request, stream inference.StreamFunc) (*inference.Result, error) {
	return nil, e.err
}

func (e fakeEngine) Reset() error { return e.err }

func (e fakeEngine) Status() inference.Status {
	return inference.Status{Capacity: 32}
}

func newTestEcho(t *testing.T, picks ...int) *echo.Echo {
	t.Helper()
	tok := testTokenizer(t)
	factory := func(id string) (inference.Engine, error) {
		sess, err := inference.NewSession(inference.SessionOptions{
			ID:        id,
			Tokenizer: tok,
			Scorer:    scriptedScorer(picks...),
			Capacity:  32,
			Config:    inference.DefaultConfig(),
		})
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
	return newEchoWith(NewSessionStore(factory, 0), tok)
}

func newEchoWith(store *SessionStore, tok *tokenizer.SentencePiece) *echo.Echo {
	server := NewServer(store, tok, nil)
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func createSession(t *testing.T, e *echo.Echo) SessionResponse {
	t.Helper()
	rec := doJSON(t, e, http.MethodPost, "/v1/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("create status: got %d body=%s", rec.Code, rec.Body.String())
	}
	return decodeBody[SessionResponse](t, rec)
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, 6, 2)
	created := createSession(t, e)
	if !strings.HasPrefix(created.ID, "sess_") {
		t.Fatalf("unexpected session id %q", created.ID)
	}
	if created.Status.State != "idle" || created.Status.HistoryLength != 0 || created.Status.Capacity != 32 {
		t.Fatalf("unexpected initial status %+v", created.Status)
	}

	genRec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+created.ID+"/generate", `{"input":"Hi"}`)
	if genRec.Code != http.StatusOK {
		t.Fatalf("generate status: got %d body=%s", genRec.Code, genRec.Body.String())
	}
	gen := decodeBody[GenerateResponse](t, genRec)
	if gen.Status != "completed" || gen.Text != " a" || gen.StopReason != "eos" {
		t.Fatalf("unexpected generation %+v", gen)
	}
	if gen.Usage == nil || gen.Usage.PromptTokens != 2 || gen.Usage.GeneratedTokens != 1 || gen.Usage.HistoryLength != 3 {
		t.Fatalf("unexpected usage %+v", gen.Usage)
	}

	getRec := doJSON(t, e, http.MethodGet, "/v1/sessions/"+created.ID, "")
	got := decodeBody[SessionResponse](t, getRec)
	if got.Status.State != "stopped" || got.Status.Requests != 1 || got.Status.LastStop != "eos" {
		t.Fatalf("unexpected status after generate %+v", got.Status)
	}

	resetRec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+created.ID+"/reset", "")
	if resetRec.Code != http.StatusOK {
		t.Fatalf("reset status: got %d body=%s", resetRec.Code, resetRec.Body.String())
	}
	if reset := decodeBody[SessionResponse](t, resetRec); reset.Status.HistoryLength != 0 {
		t.Fatalf("history after reset = %d", reset.Status.HistoryLength)
	}

	delRec := doJSON(t, e, http.MethodDelete, "/v1/sessions/"+created.ID, "")
	if delRec.Code != http.StatusOK {
		t.Fatalf("delete status: got %d body=%s", delRec.Code, delRec.Body.String())
	}
	if !strings.Contains(delRec.Body.String(), `"deleted":true`) {
		t.Fatalf("delete response missing deleted=true: %s", delRec.Body.String())
	}

	if rec := doJSON(t, e, http.MethodGet, "/v1/sessions/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestListSessions(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, 2)
	a := createSession(t, e)
	b := createSession(t, e)

	rec := doJSON(t, e, http.MethodGet, "/v1/sessions", "")
	list := decodeBody[struct {
		Object string            `json:"object"`
		Data   []SessionResponse `json:"data"`
	}](t, rec)
	if list.Object != "list" || len(list.Data) != 2 {
		t.Fatalf("unexpected list %+v", list)
	}
	ids := []string{list.Data[0].ID, list.Data[1].ID}
	if !slices.Contains(ids, a.ID) || !slices.Contains(ids, b.ID) {
		t.Fatalf("list ids %v missing %s or %s", ids, a.ID, b.ID)
	}
}

func TestGenerateValidationErrors(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, 2)
	sess := createSession(t, e)
	path := "/v1/sessions/" + sess.ID + "/generate"

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		want   string
	}{
		{name: "empty input", path: path, body: `{"input":"  "}`, status: http.StatusBadRequest, want: `"param":"input"`},
		{name: "negative budget", path: path, body: `{"input":"Hi","max_new_tokens":-1}`, status: http.StatusBadRequest, want: "max_new_tokens"},
		{name: "bad json", path: path, body: `{"input":5}`, status: http.StatusBadRequest, want: "invalid_request_error"},
		{name: "continue on empty history", path: path, body: `{"continue":true}`, status: http.StatusBadRequest, want: "nothing_to_continue"},
		{name: "unknown session", path: "/v1/sessions/sess_missing/generate", body: `{"input":"Hi"}`, status: http.StatusNotFound, want: "not_found_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, e, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status: got %d want %d body=%s", rec.Code, tt.status, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Fatalf("body %s missing %q", rec.Body.String(), tt.want)
			}
		})
	}
}

func TestGenerateBusySession(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(func(string) (inference.Engine, error) {
		return fakeEngine{err: inference.ErrSessionBusy}, nil
	}, 0)
	e := newEchoWith(store, testTokenizer(t))
	sess := createSession(t, e)

	for _, body := range []string{`{"input":"Hi"}`, `{"input":"Hi","stream":true}`} {
		rec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+sess.ID+"/generate", body)
		if rec.Code != http.StatusConflict {
			t.Fatalf("%s: expected 409, got %d body=%s", body, rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "session_busy") {
			t.Fatalf("%s: unexpected body %s", body, rec.Body.String())
		}
	}

	if rec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+sess.ID+"/reset", ""); rec.Code != http.StatusConflict {
		t.Fatalf("reset while busy: expected 409, got %d", rec.Code)
	}
}

func TestGenerateScorerFailureReturnsPartialText(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, 6, -1)
	sess := createSession(t, e)

	rec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+sess.ID+"/generate", `{"input":"Hi"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d body=%s", rec.Code, rec.Body.String())
	}
	gen := decodeBody[GenerateResponse](t, rec)
	if gen.Status != "failed" || gen.Text != " a" || gen.StopReason != "scorer_error" {
		t.Fatalf("unexpected generation %+v", gen)
	}
	if gen.Error == nil || gen.Error.Code != "scorer_failed" {
		t.Fatalf("unexpected error %+v", gen.Error)
	}

	st := decodeBody[SessionResponse](t, doJSON(t, e, http.MethodGet, "/v1/sessions/"+sess.ID, ""))
	if st.Status.State != "failed" {
		t.Fatalf("state after failure = %q", st.Status.State)
	}
}

func readEvents(t *testing.T, body string) []streamEvent {
	t.Helper()
	var events []streamEvent
	for _, chunk := range strings.Split(strings.TrimSpace(body), "\n\n") {
		for _, line := range strings.Split(chunk, "\n") {
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var ev streamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				t.Fatalf("decode event %q: %v", data, err)
			}
			events = append(events, ev)
		}
	}
	return events
}

func TestGenerateStreamIgnoresQueryParams(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, 6, 2)
	sess := createSession(t, e)

	rec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+sess.ID+"/generate?starting_after=1", `{"input":"Hi","stream":true}`)
	events := readEvents(t, rec.Body.String())
	if len(events) != 3 || events[0].Type != "generation.created" || events[0].SequenceNumber != 1 {
		t.Fatalf("live stream must start at generation.created, got %+v", events)
	}
}

func TestGenerateStream(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, 6, 8, 2)
	sess := createSession(t, e)

	rec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+sess.ID+"/generate", `{"input":"Hi","stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("stream status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	events := readEvents(t, rec.Body.String())
	var types []string
	var deltas strings.Builder
	for i, ev := range events {
		types = append(types, ev.Type)
		if ev.SequenceNumber != i+1 {
			t.Fatalf("event %d sequence = %d", i, ev.SequenceNumber)
		}
		if ev.Type == "generation.delta" {
			deltas.WriteString(ev.Delta)
		}
	}
	want := []string{"generation.created", "generation.delta", "generation.delta", "generation.completed"}
	if !slices.Equal(types, want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	if deltas.String() != " a b" {
		t.Fatalf("deltas = %q", deltas.String())
	}
	done := events[len(events)-1].Generation
	if done == nil || done.Text != " a b" || done.StopReason != "eos" || done.Status != "completed" {
		t.Fatalf("unexpected completed payload %+v", done)
	}
}

func TestGenerateStreamFailure(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, 6, -1)
	sess := createSession(t, e)

	rec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+sess.ID+"/generate", `{"input":"Hi","stream":true}`)
	body := rec.Body.String()
	if !strings.Contains(body, "event: generation.delta") || !strings.Contains(body, "event: generation.failed") {
		t.Fatalf("unexpected stream body %s", body)
	}
	if !strings.Contains(body, `"code":"scorer_failed"`) {
		t.Fatalf("failed event missing scorer code: %s", body)
	}
}

func TestSessionLimit(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(func(string) (inference.Engine, error) {
		return fakeEngine{}, nil
	}, 1)
	e := newEchoWith(store, testTokenizer(t))
	createSession(t, e)

	rec := doJSON(t, e, http.MethodPost, "/v1/sessions", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestTokenizeDetokenize(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, 2)

	rec := doJSON(t, e, http.MethodPost, "/v1/tokenize", `{"text":"Hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("tokenize status: got %d body=%s", rec.Code, rec.Body.String())
	}
	tok := decodeBody[TokenizeResponse](t, rec)
	if !slices.Equal(tok.IDs, []int{1, 5}) || !slices.Equal(tok.Tokens, []string{"<s>", "▁Hi"}) {
		t.Fatalf("unexpected tokenize response %+v", tok)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/detokenize", `{"ids":[1,5,6,2]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("detokenize status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[DetokenizeResponse](t, rec); got.Text != "Hi a" {
		t.Fatalf("detokenize text = %q", got.Text)
	}

	if rec := doJSON(t, e, http.MethodPost, "/v1/detokenize", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing ids, got %d", rec.Code)
	}
}

func TestVocabHealthAndMetrics(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, 2)

	v := decodeBody[VocabResponse](t, doJSON(t, e, http.MethodGet, "/v1/vocab", ""))
	if v.Size != 8 || v.IDSpan != testVocabSpan || v.Specials["bos"] != 1 || v.Specials["line_break"] != -1 {
		t.Fatalf("unexpected vocab summary %+v", v)
	}

	createSession(t, e)
	health := decodeBody[HealthResponse](t, doJSON(t, e, http.MethodGet, "/healthz", ""))
	if health.Status != "ok" || health.Sessions != 1 || health.Version == "" {
		t.Fatalf("unexpected health %+v", health)
	}

	rec := doJSON(t, e, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "greedo_sessions_active") {
		t.Fatalf("metrics endpoint: %d %s", rec.Code, rec.Body.String())
	}
}
