package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string, naming the field path on error.
// Empty input is zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero input.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

type durationField struct {
	path string
	raw  string
}

// durationFields lists the plain-duration settings in file order.
// delivery.interval is not here: it also accepts HH:MM and cron specs and is
// checked when the delivery schedule is built.
func durationFields(cfg *Config) []durationField {
	return []durationField{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"telegram.command_timeout", cfg.Telegram.CommandTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"delivery.send_timeout", cfg.Delivery.SendTimeout},
	}
}

// checkDurations returns one error per malformed duration, in field order.
func checkDurations(cfg *Config) []error {
	var errs []error
	for _, f := range durationFields(cfg) {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
