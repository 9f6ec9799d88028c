//go:build !linux

package main

import (
	"fmt"
	"os"
)

func readInteractiveLine(prompt string) (string, error) {
	fmt.Fprint(os.Stdout, prompt)
	return readPlainLine(stdinReader)
}
