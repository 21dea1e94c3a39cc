package delivery

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultInterval    = "10s"
	DefaultSendTimeout = 15 * time.Second
	DefaultRatePerSec  = 20
)

type Config struct {
	// Interval is how often a pass runs: a Go duration ("10s"), HH:MM, an
	// "@every" descriptor or a cron expression (seconds field optional).
	Interval    string
	SendTimeout time.Duration
	// RatePerSec caps sends across a pass; <=0 disables pacing.
	RatePerSec      int
	Urgent          bool
	MentionEveryone bool
}

// DefaultConfig: every 10 seconds, urgent, pinging everyone.
func DefaultConfig() Config {
	return Config{
		Interval:        DefaultInterval,
		SendTimeout:     DefaultSendTimeout,
		RatePerSec:      DefaultRatePerSec,
		Urgent:          true,
		MentionEveryone: true,
	}
}

func (c Config) normalized() Config {
	if strings.TrimSpace(c.Interval) == "" {
		c.Interval = DefaultInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

// Validate reports whether Interval parses.
func (c Config) Validate() error {
	_, err := ParseInterval(c.normalized().Interval)
	return err
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseInterval turns an interval string into a cron schedule.
//
// Supported forms:
//   - Go duration: "10s", "1m30s"
//   - HH:MM interval: "00:05" (five minutes)
//   - descriptor: "@every 10s", "@hourly"
//   - cron: "*/10 * * * * *", "* * * * *"
func ParseInterval(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("interval required")
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		sched, err := parser.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", raw, err)
		}
		return sched, nil
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return nil, fmt.Errorf("invalid minutes in %q", raw)
		}
		return every(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf(
			"invalid interval %q (use a duration like '10s', HH:MM, '@every 10s' or a cron expression)", raw)
	}
	return every(d)
}

func every(d time.Duration) (cron.Schedule, error) {
	// cron.Every has one-second resolution.
	if d < time.Second {
		return nil, fmt.Errorf("interval must be at least 1s, got %s", d)
	}
	return cron.Every(d), nil
}
