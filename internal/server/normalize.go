package server

import (
	"strings"
	"unicode/utf8"
)

// cleanName trims a username or group name and caps it at limit runes.
func cleanName(s string, limit int) string {
	return truncate(strings.TrimSpace(s), limit)
}

// cleanContent collapses each CR/LF run into one space, trims, and caps the result.
func cleanContent(s string, limit int) string {
	var b strings.Builder
	b.Grow(len(s))
	inBreak := false
	for _, r := range s {
		if r == '\r' || r == '\n' {
			if !inBreak {
				b.WriteByte(' ')
				inBreak = true
			}
			continue
		}
		inBreak = false
		b.WriteRune(r)
	}
	return truncate(strings.TrimSpace(b.String()), limit)
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}
