package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// stdinIsTTY is a small seam for tests.
var stdinIsTTY = isTTY

// vocabPatterns are the file names a vocabulary directory is searched for.
var vocabPatterns = []string{"tokenizer.json", "vocab.json", "*.gguf"}

// resolveVocabPath accepts a vocabulary file or a directory holding one.
// With several candidates in a directory the user picks one when stdin is a
// terminal.
func resolveVocabPath(flag string, stdin io.Reader, stderr io.Writer) (string, error) {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return "", fmt.Errorf("--vocab is required unless %s is set", envGreedoVocab)
	}
	flag = filepath.Clean(flag)
	st, err := os.Stat(flag)
	if err != nil || !st.IsDir() {
		// Missing files are reported by the vocabulary loader.
		return flag, nil
	}

	candidates, err := discoverVocabFiles(flag)
	if err != nil {
		return "", err
	}
	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("no vocabulary file (%s) found in %s", strings.Join(vocabPatterns, ", "), flag)
	case 1:
		_, _ = fmt.Fprintf(stderr, "greedo: using vocabulary %s\n", candidates[0])
		return candidates[0], nil
	default:
		if !stdinIsTTY() {
			return "", fmt.Errorf(
				"multiple vocabularies found in %s but stdin is not interactive; set --vocab to a file",
				flag,
			)
		}
		return selectVocabInteractively(flag, candidates, stdin, stderr)
	}
}

func discoverVocabFiles(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("vocabulary directory is empty")
	}
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range vocabPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if st, err := os.Stat(m); err != nil || st.IsDir() || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func selectVocabInteractively(dir string, candidates []string, stdin io.Reader, stderr io.Writer) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("no vocabularies available in %s", dir)
	}

	_, _ = fmt.Fprintf(stderr, "greedo: select a vocabulary from %s\n", dir)
	for i, c := range candidates {
		_, _ = fmt.Fprintf(stderr, "%d. %s\n", i+1, displayName(dir, c))
	}

	reader := bufio.NewReader(stdin)
	for {
		_, _ = fmt.Fprintf(stderr, "greedo: enter selection [1-%d]: ", len(candidates))
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if errors.Is(err, io.EOF) {
				return "", errors.New("no selection provided on stdin; set --vocab")
			}
			continue
		}

		idx, convErr := strconv.Atoi(line)
		if convErr != nil || idx < 1 || idx > len(candidates) {
			_, _ = fmt.Fprintf(stderr, "greedo: invalid selection %q\n", line)
			if errors.Is(err, io.EOF) {
				return "", errors.New("invalid selection provided on stdin; set --vocab")
			}
			continue
		}
		return candidates[idx-1], nil
	}
}

func displayName(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return filepath.Base(path)
	}
	return rel
}

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}

func trimTrailingNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '\r' {
		s = s[:len(s)-1]
	}
	return s
}
