package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

type StreamMode string

const (
	StreamInstant StreamMode = "instant"
	StreamQuiet   StreamMode = "quiet"
)

func parseStreamMode(s string) (StreamMode, error) {
	switch StreamMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", StreamInstant:
		return StreamInstant, nil
	case StreamQuiet:
		return StreamQuiet, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q (want instant or quiet)", s)
	}
}

// StreamWriter prints decoded fragments. Instant mode writes each fragment
// as it arrives; quiet mode holds the reply until Flush.
type StreamWriter struct {
	mode   StreamMode
	buffer *bufio.Writer
	raw    bool

	mu          sync.Mutex
	accumulator strings.Builder
}

// NewStreamWriter writes to out. With raw set, control characters are
// printed as escapes so token boundaries stay visible.
func NewStreamWriter(out io.Writer, mode StreamMode, raw bool) *StreamWriter {
	return &StreamWriter{
		mode:   mode,
		buffer: bufio.NewWriterSize(out, 4096),
		raw:    raw,
	}
}

// Write is an inference.StreamFunc.
func (w *StreamWriter) Write(fragment string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.accumulator.WriteString(fragment)
	if w.mode == StreamQuiet {
		return
	}
	_, _ = w.buffer.WriteString(w.render(fragment))
	_ = w.buffer.Flush()
}

// Flush prints anything held back and returns the whole reply. The writer
// is ready for the next reply afterwards.
func (w *StreamWriter) Flush() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	result := w.accumulator.String()
	if w.mode == StreamQuiet {
		_, _ = w.buffer.WriteString(w.render(result))
	}
	_ = w.buffer.Flush()
	w.accumulator.Reset()
	return result
}

func (w *StreamWriter) render(s string) string {
	if !w.raw {
		return s
	}
	return escapeRawOutput(s)
}

func escapeRawOutput(s string) string {
	var b strings.Builder
	for _, r := range s {
		b.WriteString(escapeRawOutputRune(r))
	}
	return b.String()
}

func escapeRawOutputRune(r rune) string {
	switch r {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	case '\\':
		return `\\`
	default:
		if strconv.IsPrint(r) {
			return string(r)
		}
		return fmt.Sprintf(`\u%04x`, r)
	}
}
