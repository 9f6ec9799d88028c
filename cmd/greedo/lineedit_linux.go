//go:build linux

package main

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

var interactiveEditor = newLineEditor(os.Stdout)

// readInteractiveLine puts the terminal in raw mode for the duration of one
// line. Without a terminal it falls back to buffered reads.
func readInteractiveLine(prompt string) (string, error) {
	if !stdinIsTTY() {
		return readPlainLine(stdinReader)
	}

	fd := int(os.Stdin.Fd())
	oldState, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	newState := *oldState
	newState.Lflag &^= unix.ICANON | unix.ECHO
	newState.Cc[unix.VMIN] = 1
	newState.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &newState); err != nil {
		return "", err
	}
	defer func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, oldState)
	}()

	ed := interactiveEditor
	ed.begin(prompt)
	var buf [16]byte
	for {
		n, err := os.Stdin.Read(buf[:])
		if err != nil {
			return "", err
		}
		for i := 0; i < n; i++ {
			line, done, eof := ed.feed(buf[i])
			if eof {
				return "", io.EOF
			}
			if done {
				return line, nil
			}
		}
	}
}
