package discord

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"schedbot/internal/storage"
)

const (
	messageLimit = 2000
	emptyBody    = "\u200b"
)

// timestamp renders a Discord timestamp tag; style may be empty.
func timestamp(t time.Time, style string) string {
	if style == "" {
		return fmt.Sprintf("<t:%d>", t.Unix())
	}
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), style)
}

func formatEntry(m storage.ScheduledMessage) string {
	return fmt.Sprintf("<#%d> %s (%s):\n%s",
		m.DestinationID, timestamp(m.SendAt, ""), timestamp(m.SendAt, "R"), m.Body)
}

// formatListing joins entries with blank lines, staying within limit runes
// and noting how many entries were left out.
func formatListing(msgs []storage.ScheduledMessage, limit int) string {
	var b strings.Builder
	used := 0
	for i, m := range msgs {
		entry := formatEntry(m)
		if i > 0 {
			entry = "\n\n" + entry
		}
		n := utf8.RuneCountInString(entry)
		reserve := 0
		if rest := len(msgs) - i - 1; rest > 0 {
			reserve = utf8.RuneCountInString(moreNote(rest))
		}
		if used+n+reserve > limit {
			if i == 0 {
				return truncateRunes(entry, limit-reserve) + moreNote(len(msgs)-1)
			}
			b.WriteString(moreNote(len(msgs) - i))
			return b.String()
		}
		b.WriteString(entry)
		used += n
	}
	return b.String()
}

func moreNote(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("\n\n...and %d more", n)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// splitText cuts s into chunks of at most limit runes, preferring line breaks.
func splitText(s string, limit int) []string {
	if strings.TrimSpace(s) == "" {
		return []string{emptyBody}
	}
	var out []string
	r := []rune(s)
	for len(r) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if r[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, string(r[:cut]))
		r = r[cut:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}
