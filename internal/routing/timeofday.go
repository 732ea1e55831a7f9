package routing

import (
	"fmt"
	"strings"
	"time"
)

// EndOfDay is 23:59 in minutes from midnight.
const EndOfDay = 23*60 + 59

// ParseClock parses "HH:MM" into minutes from midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes from midnight as "HH:MM".
func FormatClock(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func formatSeconds(sec int) string { return FormatClock(sec / 60) }

// Window is a service window in minutes from midnight.
type Window struct {
	Start int
	End   int
}

// NormalizeWindow applies the window rules: start == end means "any time
// after start" and runs to end of day, and a window narrower than minWidth
// is widened at its end, never past end of day.
func NormalizeWindow(w Window, minWidth int) (Window, error) {
	if w.Start < 0 || w.End > EndOfDay || w.Start > w.End {
		return w, fmt.Errorf("time window %s-%s is not a valid range", FormatClock(w.Start), FormatClock(w.End))
	}
	if w.Start == w.End {
		w.End = EndOfDay
	}
	if w.End-w.Start < minWidth {
		w.End = min(w.Start+minWidth, EndOfDay)
	}
	return w, nil
}

func parseWindow(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}
