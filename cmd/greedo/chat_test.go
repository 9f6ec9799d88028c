package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/samcharles93/greedo/internal/inference"
)

type fakeEngine struct {
	requests []inference.Request
	resets   int
	reply    string
	err      error
}

func (e *fakeEngine) Generate(ctx context.Context, req *inference.Request, stream inference.StreamFunc) (*inference.Result, error) {
	e.requests = append(e.requests, *req)
	if req.Continue && len(e.requests) == 1 {
		return nil, inference.ErrNothingToContinue
	}
	if stream != nil {
		stream(e.reply)
	}
	res := &inference.Result{Text: e.reply, StopReason: inference.StopEOS, Steps: 1}
	if e.err != nil {
		res.StopReason = inference.StopScorerError
		return res, e.err
	}
	return res, nil
}

func (e *fakeEngine) Reset() error {
	e.resets++
	return nil
}

func (e *fakeEngine) Status() inference.Status {
	return inference.Status{ID: "s1", HistoryLength: 3, Capacity: 32, State: inference.StateStopped, LastStop: inference.StopEOS}
}

func scriptedLines(lines ...string) func(string) (string, error) {
	return func(string) (string, error) {
		if len(lines) == 0 {
			return "", io.EOF
		}
		line := lines[0]
		lines = lines[1:]
		return line, nil
	}
}

func newTestChat(eng inference.Engine) (*chat, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &chat{
		engine: eng,
		stream: NewStreamWriter(&out, StreamInstant, false),
		out:    &out,
		errOut: &errOut,
	}, &out, &errOut
}

func TestChatREPLCommands(t *testing.T) {
	eng := &fakeEngine{reply: "ok"}
	c, out, errOut := newTestChat(eng)

	err := c.repl(context.Background(), scriptedLines(
		"/continue",
		"",
		"hello",
		"/continue",
		"/status",
		"/reset",
		"/help",
		"/exit",
		"never read",
	))
	if err != nil {
		t.Fatalf("repl: %v", err)
	}

	if len(eng.requests) != 3 {
		t.Fatalf("requests = %+v", eng.requests)
	}
	if !eng.requests[0].Continue || eng.requests[1].Text != "hello" || !eng.requests[2].Continue {
		t.Fatalf("unexpected request sequence %+v", eng.requests)
	}
	if eng.resets != 1 {
		t.Fatalf("resets = %d", eng.resets)
	}
	if got := out.String(); got != "ok\nok\n" {
		t.Fatalf("stdout = %q", got)
	}
	for _, want := range []string{"nothing to continue", "history:  3 / 32", "last stop: eos", "history cleared", "/reset"} {
		if !strings.Contains(errOut.String(), want) {
			t.Fatalf("stderr missing %q:\n%s", want, errOut.String())
		}
	}
}

func TestChatREPLKeepsGoingAfterScorerFailure(t *testing.T) {
	eng := &fakeEngine{reply: "part", err: &inference.ScorerError{Step: 1, Err: inference.ErrScorerTimeout}}
	c, out, errOut := newTestChat(eng)
	c.stats = true

	if err := c.repl(context.Background(), scriptedLines("one", "two")); err != nil {
		t.Fatalf("repl: %v", err)
	}
	if len(eng.requests) != 2 {
		t.Fatalf("expected both requests to run, got %d", len(eng.requests))
	}
	if out.String() != "part\npart\n" {
		t.Fatalf("stdout = %q", out.String())
	}
	if !strings.Contains(errOut.String(), "scorer timed out") || !strings.Contains(errOut.String(), "stop=scorer_error") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestChatOnce(t *testing.T) {
	eng := &fakeEngine{reply: "hi"}
	c, out, _ := newTestChat(eng)
	if err := c.once(context.Background(), "Hi"); err != nil {
		t.Fatalf("once: %v", err)
	}
	if out.String() != "hi\n" || eng.requests[0].Text != "Hi" {
		t.Fatalf("stdout = %q requests = %+v", out.String(), eng.requests)
	}

	boom := errors.New("boom")
	failing, _, _ := newTestChat(&fakeEngine{err: boom})
	if err := failing.once(context.Background(), "Hi"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestChatREPLReadError(t *testing.T) {
	c, _, _ := newTestChat(&fakeEngine{})
	boom := errors.New("tty gone")
	err := c.repl(context.Background(), func(string) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
}
