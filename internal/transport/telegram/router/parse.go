package router

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

func newReqID() string {
	return uuid.NewString()[:8]
}

// splitCommand splits "/word rest..." into the command word (without the
// slash, possibly with @botname) and the remaining text with its internal
// whitespace and line breaks preserved.
func splitCommand(text string) (word, rest string, ok bool) {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	text = text[1:]
	end := strings.IndexFunc(text, unicode.IsSpace)
	if end < 0 {
		return text, "", text != ""
	}
	word = text[:end]
	rest = strings.TrimLeftFunc(text[end:], unicode.IsSpace)
	return word, rest, word != ""
}

// SplitArgs takes the first n whitespace-separated fields of s and returns
// them with the remainder of s verbatim. ok is false if s has fewer than n fields.
func SplitArgs(s string, n int) (head []string, rest string, ok bool) {
	rest = s
	for len(head) < n {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		if rest == "" {
			return head, "", false
		}
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			head = append(head, rest)
			rest = ""
			continue
		}
		head = append(head, rest[:end])
		rest = rest[end:]
	}
	// Drop the single separator after the last field, keep everything else.
	rest = strings.TrimLeft(rest, " \t")
	if strings.HasPrefix(rest, "\n") {
		rest = rest[1:]
	}
	return head, rest, true
}
