package router

import (
	"strings"

	"schedbot/pkg/tgui"
)

// helpText renders help in Telegram HTML parse mode.
func (r *Router) helpText(args []string) string {
	r.mu.RLock()
	ordered := r.ordered
	r.mu.RUnlock()

	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c, ok := r.lookup(name)
		if !ok {
			return tgui.Concat("Unknown command ", tgui.Code("/"+name), ". Try ", tgui.Code("/help"), ".").String()
		}
		lines := []tgui.H{tgui.B("/" + c.Name)}
		if c.Description != "" {
			lines = append(lines, tgui.Esc(c.Description))
		}
		if c.Usage != "" {
			lines = append(lines, "", tgui.B("Usage"), tgui.Code(c.Usage))
		}
		if note := accessNote(c.Access); note != "" {
			lines = append(lines, "", tgui.I(note))
		}
		return tgui.Lines(lines...).String()
	}

	lines := []tgui.H{tgui.B("Commands")}
	for _, c := range ordered {
		line := tgui.Code("/" + c.Name)
		if c.Description != "" {
			line = tgui.Concat(line, " - ", tgui.Esc(c.Description))
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", tgui.Concat("Times are UTC. Send ", tgui.Code("/help <command>"), " for usage."))
	return tgui.Lines(lines...).String()
}

func accessNote(a Access) string {
	switch a {
	case AccessOwnerOnly:
		return "Bot owners only."
	default:
		return ""
	}
}
