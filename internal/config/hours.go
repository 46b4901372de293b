package config

import (
	"fmt"
	"time"
)

// WorkingHours is a daily local-time window during which scheduled runs are
// allowed. The zero value allows every time of day.
type WorkingHours struct {
	from, to int // minutes since midnight
	set      bool
}

// ParseWorkingHours parses two "HH:MM" values. Both empty means no window;
// giving only one is an error. from > to wraps around midnight.
func ParseWorkingHours(from, to string) (WorkingHours, error) {
	if from == "" && to == "" {
		return WorkingHours{}, nil
	}
	if from == "" || to == "" {
		return WorkingHours{}, fmt.Errorf("WORKING_HOURS_FROM and WORKING_HOURS_TO must be set together")
	}
	f, err := parseClock(from)
	if err != nil {
		return WorkingHours{}, fmt.Errorf("WORKING_HOURS_FROM: %w", err)
	}
	t, err := parseClock(to)
	if err != nil {
		return WorkingHours{}, fmt.Errorf("WORKING_HOURS_TO: %w", err)
	}
	return WorkingHours{from: f, to: t, set: true}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IsSet reports whether a window is configured.
func (w WorkingHours) IsSet() bool { return w.set }

// Contains reports whether t falls inside the window. The end is exclusive.
func (w WorkingHours) Contains(t time.Time) bool {
	if !w.set || w.from == w.to {
		return true
	}
	m := t.Hour()*60 + t.Minute()
	if w.from < w.to {
		return m >= w.from && m < w.to
	}
	return m >= w.from || m < w.to
}

func (w WorkingHours) String() string {
	if !w.set {
		return "always"
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.from/60, w.from%60, w.to/60, w.to%60)
}
