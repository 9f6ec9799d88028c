package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

const maxHistory = 500

var stdinReader = bufio.NewReader(os.Stdin)

// readPlainLine reads one line without terminal handling. A final line
// without a newline is returned before io.EOF is reported.
func readPlainLine(r *bufio.Reader) (string, error) {
	s, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && s != "" {
			return trimTrailingNewline(s), nil
		}
		return "", err
	}
	return trimTrailingNewline(s), nil
}

// lineEditor is the terminal-independent half of the interactive prompt:
// it consumes raw key bytes and keeps the edit buffer, cursor and history.
type lineEditor struct {
	out    io.Writer
	prompt string

	line   []rune
	cursor int

	history  []string
	histPos  int
	browsing bool
	draft    []rune

	escState int
	escBuf   strings.Builder
	partial  []byte
}

func newLineEditor(out io.Writer) *lineEditor {
	return &lineEditor{out: out}
}

func (e *lineEditor) begin(prompt string) {
	e.prompt = prompt
	e.line = e.line[:0]
	e.cursor = 0
	e.histPos = len(e.history)
	e.browsing = false
	e.draft = nil
	e.escState = 0
	e.partial = e.partial[:0]
	fmt.Fprint(e.out, prompt)
}

// feed consumes one input byte. done reports a finished line; eof reports
// Ctrl+C, or Ctrl+D on an empty line.
func (e *lineEditor) feed(b byte) (line string, done, eof bool) {
	if e.escState != 0 {
		e.feedEscape(b)
		return "", false, false
	}
	if len(e.partial) > 0 || b >= utf8.RuneSelf {
		e.partial = append(e.partial, b)
		if utf8.FullRune(e.partial) {
			r, _ := utf8.DecodeRune(e.partial)
			e.partial = e.partial[:0]
			e.insert(r)
		}
		return "", false, false
	}

	switch b {
	case 27: // ESC
		e.escState = 1
	case '\r', '\n':
		fmt.Fprint(e.out, "\r\n")
		out := string(e.line)
		if strings.TrimSpace(out) != "" {
			e.remember(out)
		}
		return out, true, false
	case 3: // Ctrl+C
		fmt.Fprint(e.out, "^C\r\n")
		return "", false, true
	case 4: // Ctrl+D
		if len(e.line) == 0 {
			fmt.Fprint(e.out, "\r\n")
			return "", false, true
		}
		e.deleteAt(e.cursor)
	case 127, 8: // backspace
		if e.cursor > 0 {
			e.cursor--
			e.deleteAt(e.cursor)
		}
	case 1: // Ctrl+A
		e.cursor = 0
		e.redraw()
	case 5: // Ctrl+E
		e.cursor = len(e.line)
		e.redraw()
	case 11: // Ctrl+K
		e.line = e.line[:e.cursor]
		e.redraw()
	case 21: // Ctrl+U
		e.line = append(e.line[:0], e.line[e.cursor:]...)
		e.cursor = 0
		e.redraw()
	case 23: // Ctrl+W
		e.deleteWordBack()
	default:
		if b >= 32 {
			e.insert(rune(b))
		}
	}
	return "", false, false
}

func (e *lineEditor) feedEscape(b byte) {
	switch e.escState {
	case 1:
		switch b {
		case '[', 'O':
			e.escState = 2
			e.escBuf.Reset()
			return
		case 'b', 'B':
			e.moveWordLeft() // Alt+b
		case 'f', 'F':
			e.moveWordRight() // Alt+f
		case 127:
			e.deleteWordBack() // Alt+Backspace
		}
		e.escState = 0
	case 2:
		e.escBuf.WriteByte(b)
		if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~' {
			e.handleCSI(e.escBuf.String())
			e.escState = 0
		}
	}
}

func (e *lineEditor) handleCSI(seq string) {
	switch seq {
	case "A":
		e.historyPrev()
	case "B":
		e.historyNext()
	case "D":
		if e.cursor > 0 {
			e.cursor--
			e.redraw()
		}
	case "C":
		if e.cursor < len(e.line) {
			e.cursor++
			e.redraw()
		}
	case "H", "1~":
		e.cursor = 0
		e.redraw()
	case "F", "4~":
		e.cursor = len(e.line)
		e.redraw()
	case "3~":
		e.deleteAt(e.cursor)
	case "1;5D", "5D":
		e.moveWordLeft()
	case "1;5C", "5C":
		e.moveWordRight()
	case "3;5~":
		e.deleteWordForward()
	}
}

func (e *lineEditor) insert(r rune) {
	e.line = append(e.line, 0)
	copy(e.line[e.cursor+1:], e.line[e.cursor:])
	e.line[e.cursor] = r
	e.cursor++
	e.redraw()
}

func (e *lineEditor) deleteAt(i int) {
	if i < 0 || i >= len(e.line) {
		return
	}
	e.line = append(e.line[:i], e.line[i+1:]...)
	e.redraw()
}

func (e *lineEditor) historyPrev() {
	if len(e.history) == 0 {
		return
	}
	if !e.browsing {
		e.draft = append([]rune(nil), e.line...)
		e.browsing = true
		e.histPos = len(e.history)
	}
	if e.histPos > 0 {
		e.histPos--
		e.setLine([]rune(e.history[e.histPos]))
	}
}

func (e *lineEditor) historyNext() {
	if !e.browsing {
		return
	}
	if e.histPos < len(e.history)-1 {
		e.histPos++
		e.setLine([]rune(e.history[e.histPos]))
		return
	}
	e.histPos = len(e.history)
	e.browsing = false
	e.setLine(e.draft)
}

func (e *lineEditor) setLine(r []rune) {
	e.line = append(e.line[:0], r...)
	e.cursor = len(e.line)
	e.redraw()
}

func (e *lineEditor) remember(line string) {
	if n := len(e.history); n > 0 && e.history[n-1] == line {
		return
	}
	e.history = append(e.history, line)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
}

func isBlank(r rune) bool {
	return r == ' ' || r == '\t'
}

func (e *lineEditor) moveWordLeft() {
	for e.cursor > 0 && isBlank(e.line[e.cursor-1]) {
		e.cursor--
	}
	for e.cursor > 0 && !isBlank(e.line[e.cursor-1]) {
		e.cursor--
	}
	e.redraw()
}

func (e *lineEditor) moveWordRight() {
	for e.cursor < len(e.line) && isBlank(e.line[e.cursor]) {
		e.cursor++
	}
	for e.cursor < len(e.line) && !isBlank(e.line[e.cursor]) {
		e.cursor++
	}
	e.redraw()
}

func (e *lineEditor) deleteWordBack() {
	start := e.cursor
	for start > 0 && isBlank(e.line[start-1]) {
		start--
	}
	for start > 0 && !isBlank(e.line[start-1]) {
		start--
	}
	e.line = append(e.line[:start], e.line[e.cursor:]...)
	e.cursor = start
	e.redraw()
}

func (e *lineEditor) deleteWordForward() {
	end := e.cursor
	for end < len(e.line) && isBlank(e.line[end]) {
		end++
	}
	for end < len(e.line) && !isBlank(e.line[end]) {
		end++
	}
	e.line = append(e.line[:e.cursor], e.line[end:]...)
	e.redraw()
}

func (e *lineEditor) redraw() {
	fmt.Fprintf(e.out, "\r%s%s\x1b[K", e.prompt, string(e.line))
	if e.cursor < len(e.line) {
		fmt.Fprintf(e.out, "\r%s%s", e.prompt, string(e.line[:e.cursor]))
	}
}
