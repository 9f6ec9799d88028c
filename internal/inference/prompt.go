package inference

import (
	"fmt"
	"strings"
)

// PromptFormat selects how user text is wrapped before encoding.
type PromptFormat string

const (
	// PromptRaw encodes the user text as typed.
	PromptRaw PromptFormat = "raw"
	// PromptLlama2 wraps turns in [INST] markers with an optional <<SYS>>
	// block on the first turn. Those markers are what the window's
	// structural prefix preserves.
	PromptLlama2 PromptFormat = "llama2"
)

func ParsePromptFormat(s string) (PromptFormat, error) {
	switch PromptFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", PromptRaw:
		return PromptRaw, nil
	case PromptLlama2:
		return PromptLlama2, nil
	default:
		return "", fmt.Errorf("unknown prompt format %q (want raw or llama2)", s)
	}
}

// RenderPrompt formats one user turn. firstTurn selects whether the system
// block is emitted.
func RenderPrompt(format PromptFormat, system, user string, firstTurn bool) string {
	switch format {
	case PromptLlama2:
		if firstTurn && strings.TrimSpace(system) != "" {
			return "[INST] <<SYS>>\n" + system + "\n<</SYS>>\n\n" + user + " [/INST]"
		}
		return "[INST] " + user + " [/INST]"
	default:
		return user
	}
}
