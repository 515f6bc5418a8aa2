package tasks

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxTasks caps how many tasks one message can produce.
const MaxTasks = 10

var (
	ordinalPrefix = regexp.MustCompile(`^\s*(?:\d+\s*[.)、．）:]|[-*•·]|[（(]\d+[)）]|[一二三四五六七八九十]+[、.])\s*`)
	inlineSplit   = regexp.MustCompile(`[，,、；;]|(?:\s+and\s+)`)
)

// Extract splits free text into task titles without calling out. Text after
// a colon on the first line is treated as the list when present. Lines are
// split first; a single remaining line is split on commas and semicolons.
// Ordinal markers such as "1. ", "2) " and "- " are stripped.
func Extract(text string) []string {
	text = strings.TrimSpace(text)
	if after := afterListColon(text); after != "" {
		text = after
	}

	parts := splitLines(text)
	if len(parts) == 1 {
		parts = inlineSplit.Split(parts[0], -1)
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = Clean(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == MaxTasks {
			break
		}
	}
	return out
}

// Clean strips ordinal markers and trailing punctuation from a task title.
// It returns "" when nothing meaningful is left.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	for {
		loc := ordinalPrefix.FindStringIndex(s)
		if loc == nil || loc[1] == 0 {
			break
		}
		rest := s[loc[1]:]
		// "10:30" and "1.5" are values, not ordinals.
		if r, _ := utf8.DecodeRuneInString(rest); unicode.IsDigit(r) {
			break
		}
		s = rest
	}
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if !strings.ContainsFunc(s, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
		return ""
	}
	return s
}

// afterListColon returns the text after the last colon of the first line,
// which introduces a list. Colons between digits, as in "10:30", are ignored.
func afterListColon(s string) string {
	runes := []rune(s)
	end := len(runes)
	for i, r := range runes {
		if r == '\n' || r == '\r' {
			end = i
			break
		}
	}
	for i := end - 1; i >= 0; i-- {
		if runes[i] != ':' && runes[i] != '：' {
			continue
		}
		if i > 0 && i < len(runes)-1 && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
			continue
		}
		return strings.TrimSpace(string(runes[i+1:]))
	}
	return ""
}

func splitLines(s string) []string {
	lines := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
	if len(lines) == 0 {
		return []string{s}
	}
	return lines
}
