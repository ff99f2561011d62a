package quiet

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Clock is a local wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

var reClock = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseClock parses "HH:MM" (24-hour).
func ParseClock(s string) (Clock, error) {
	m := reClock.FindStringSubmatch(s)
	if len(m) != 3 {
		return Clock{}, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 || mm > 59 {
		return Clock{}, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return Clock{Hour: h, Minute: mm}, nil
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c Clock) sinceMidnight() time.Duration {
	return time.Duration(c.Hour)*time.Hour + time.Duration(c.Minute)*time.Minute
}

// Window is a daily local-time suppression interval. Start > End means the
// window spans midnight.
type Window struct {
	Start Clock
	End   Clock
}

// ParseWindow parses both ends of a window.
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("quiet start: %w", err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("quiet end: %w", err)
	}
	return Window{Start: s, End: e}, nil
}

func (w Window) String() string { return w.Start.String() + "-" + w.End.String() }

// Overnight reports whether the window wraps past midnight.
func (w Window) Overnight() bool {
	return w.Start.sinceMidnight() > w.End.sinceMidnight()
}

// InWindow reports whether t falls inside the window in loc.
// Same-day windows are the closed interval [Start, End]; overnight windows
// match local >= Start or local <= End.
func InWindow(t time.Time, w Window, loc *time.Location) bool {
	local := t.In(loc)
	tod := timeOfDay(local)
	start, end := w.Start.sinceMidnight(), w.End.sinceMidnight()
	if start <= end {
		return tod >= start && tod <= end
	}
	return tod >= start || tod <= end
}

// NextWindowEnd returns the next local moment equal to End that is strictly
// after t, expressed in UTC.
func NextWindowEnd(t time.Time, w Window, loc *time.Location) time.Time {
	local := t.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), w.End.Hour, w.End.Minute, 0, 0, loc)
	if !end.After(local) {
		end = time.Date(local.Year(), local.Month(), local.Day()+1, w.End.Hour, w.End.Minute, 0, 0, loc)
	}
	return end.UTC()
}

// Shift moves t to the window end when it falls inside the window, and
// returns it unchanged otherwise, including when t is exactly the window
// end. The result is never before t. A shifted
// result sits on the closing boundary, which InWindow still matches; the
// dispatcher fires on next_fire_at without re-checking the window.
func Shift(t time.Time, w Window, loc *time.Location) time.Time {
	if !InWindow(t, w, loc) || timeOfDay(t.In(loc)) == w.End.sinceMidnight() {
		return t
	}
	return NextWindowEnd(t, w, loc)
}

func timeOfDay(local time.Time) time.Duration {
	return time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())
}
