package session

import (
	"strings"
	"unicode/utf8"
)

const (
	defaultTitle  = "New session"
	titleMaxRunes = 100
)

// isDefaultTitle reports whether the session still carries the title it
// was created with.
func isDefaultTitle(title string) bool {
	return title == "" || strings.HasPrefix(title, defaultTitle)
}

// titleFromPrompt derives a session title from the first user prompt:
// the first non-empty line, trimmed to 100 runes.
func titleFromPrompt(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > titleMaxRunes {
			runes := []rune(line)
			line = string(runes[:titleMaxRunes-1]) + "…"
		}
		return line
	}
	return ""
}
