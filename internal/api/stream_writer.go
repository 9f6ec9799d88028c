package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

type streamEvent struct {
	Type           string            `json:"type"`
	Generation     *GenerateResponse `json:"generation,omitempty"`
	Delta          string            `json:"delta,omitempty"`
	Index          int               `json:"index,omitempty"`
	SequenceNumber int               `json:"sequence_number"`
}

// SSEStreamWriter emits a generation as server-sent events. Headers are
// written on the first event so a request rejected before decoding starts
// can still answer with a plain JSON error.
type SSEStreamWriter struct {
	res     http.ResponseWriter
	w       io.Writer
	flusher func()
	seq     int
	deltas  int
	begun   bool
	err     error
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	return &SSEStreamWriter{
		res:     res,
		w:       res,
		flusher: flusher.Flush,
		seq:     1,
	}, nil
}

// Begin sends generation.created. It is idempotent.
func (s *SSEStreamWriter) Begin(gen GenerateResponse) error {
	if s.begun {
		return s.err
	}
	s.begun = true
	h := s.res.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	s.res.WriteHeader(http.StatusOK)

	gen.Status = "in_progress"
	return s.emit(streamEvent{Type: "generation.created", Generation: &gen})
}

func (s *SSEStreamWriter) Started() bool {
	return s.begun
}

// EmitDelta sends one decoded fragment. After a write failure further
// deltas are dropped and the first error is kept.
func (s *SSEStreamWriter) EmitDelta(delta string) error {
	if s.err != nil {
		return s.err
	}
	err := s.emit(streamEvent{Type: "generation.delta", Delta: delta, Index: s.deltas})
	s.deltas++
	return err
}

func (s *SSEStreamWriter) Complete(gen GenerateResponse) error {
	gen.Status = "completed"
	return s.emit(streamEvent{Type: "generation.completed", Generation: &gen})
}

func (s *SSEStreamWriter) Failed(gen GenerateResponse, cause ResponseError) error {
	gen.Status = "failed"
	if gen.Error == nil {
		gen.Error = &cause
	}
	return s.emit(streamEvent{Type: "generation.failed", Generation: &gen})
}

func (s *SSEStreamWriter) Incomplete(gen GenerateResponse) error {
	gen.Status = "incomplete"
	return s.emit(streamEvent{Type: "generation.incomplete", Generation: &gen})
}

func (s *SSEStreamWriter) emit(ev streamEvent) error {
	ev.SequenceNumber = s.seq
	if err := s.send(ev); err != nil {
		if s.err == nil {
			s.err = err
		}
		return err
	}
	s.flush()
	s.seq++
	return nil
}

func (s *SSEStreamWriter) send(payload streamEvent) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", payload.Type, b)
	return err
}

func (s *SSEStreamWriter) flush() {
	if s.flusher != nil {
		s.flusher()
	}
}
