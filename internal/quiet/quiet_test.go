package quiet

import (
	"testing"
	"time"
)

func mustWindow(t *testing.T, start, end string) Window {
	t.Helper()
	w, err := ParseWindow(start, end)
	if err != nil {
		t.Fatalf("ParseWindow(%s, %s): %v", start, end, err)
	}
	return w
}

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("tzdata for %s unavailable: %v", name, err)
	}
	return loc
}

func TestParseClock(t *testing.T) {
	t.Parallel()
	c, err := ParseClock("7:05")
	if err != nil || c != (Clock{Hour: 7, Minute: 5}) {
		t.Fatalf("ParseClock(7:05) = %v, %v", c, err)
	}
	if c.String() != "07:05" {
		t.Fatalf("String = %s", c.String())
	}
	for _, bad := range []string{"24:00", "12:60", "noon", "1230", ""} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("ParseClock(%q) expected error", bad)
		}
	}
}

func TestInWindowOvernight(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "America/Toronto")
	w := mustWindow(t, "23:00", "07:00")
	if !w.Overnight() {
		t.Fatal("23:00-07:00 should be overnight")
	}

	inside := time.Date(2026, 3, 2, 3, 0, 0, 0, loc)
	outside := time.Date(2026, 3, 2, 15, 0, 0, 0, loc)
	if !InWindow(inside.UTC(), w, loc) {
		t.Fatal("local 03:00 should be inside 23:00-07:00")
	}
	if InWindow(outside.UTC(), w, loc) {
		t.Fatal("local 15:00 should be outside 23:00-07:00")
	}
}

func TestInWindowSameDayClosedInterval(t *testing.T) {
	t.Parallel()
	w := mustWindow(t, "12:00", "14:00")
	day := func(h, m, s int) time.Time { return time.Date(2026, 3, 2, h, m, s, 0, time.UTC) }
	tests := []struct {
		at   time.Time
		want bool
	}{
		{day(11, 59, 59), false},
		{day(12, 0, 0), true},
		{day(13, 0, 0), true},
		{day(14, 0, 0), true},
		{day(14, 0, 1), false},
	}
	for _, tt := range tests {
		if got := InWindow(tt.at, w, time.UTC); got != tt.want {
			t.Fatalf("InWindow(%s) = %v, want %v", tt.at.Format("15:04:05"), got, tt.want)
		}
	}
}

func TestNextWindowEnd(t *testing.T) {
	t.Parallel()
	w := mustWindow(t, "23:00", "07:00")

	// After midnight: same calendar day.
	got := NextWindowEnd(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), w, time.UTC)
	if want := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("NextWindowEnd(03:00) = %v, want %v", got, want)
	}
	// Before midnight: next day.
	got = NextWindowEnd(time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC), w, time.UTC)
	if want := time.Date(2026, 3, 3, 7, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("NextWindowEnd(23:30) = %v, want %v", got, want)
	}
	// Exactly at end is not strictly after: next day.
	got = NextWindowEnd(time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC), w, time.UTC)
	if want := time.Date(2026, 3, 3, 7, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("NextWindowEnd(07:00) = %v, want %v", got, want)
	}
}

func TestNextWindowEndConvertsToUTC(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "Asia/Tokyo")
	w := mustWindow(t, "22:00", "06:30")
	at := time.Date(2026, 5, 10, 23, 15, 0, 0, loc)
	got := NextWindowEnd(at, w, loc)
	want := time.Date(2026, 5, 11, 6, 30, 0, 0, loc).UTC()
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("NextWindowEnd = %v, want %v (UTC)", got, want)
	}
}

// Shifting never moves a candidate backwards, and lands on the window's
// exit boundary.
func TestShiftMonotonic(t *testing.T) {
	t.Parallel()
	windows := []Window{
		mustWindow(t, "23:00", "07:00"),
		mustWindow(t, "09:00", "17:30"),
		mustWindow(t, "00:00", "00:00"),
	}
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, w := range windows {
		for m := 0; m < 2*24*60; m += 7 {
			cand := start.Add(time.Duration(m) * time.Minute)
			got := Shift(cand, w, time.UTC)
			if got.Before(cand) {
				t.Fatalf("%s: Shift(%v) = %v moved backwards", w, cand, got)
			}
			if got.Equal(cand) {
				onEnd := cand.Hour() == w.End.Hour && cand.Minute() == w.End.Minute
				if InWindow(cand, w, time.UTC) && !onEnd {
					t.Fatalf("%s: %v left inside window", w, cand)
				}
				continue
			}
			if l := got.In(time.UTC); l.Hour() != w.End.Hour || l.Minute() != w.End.Minute {
				t.Fatalf("%s: shifted to %v, want window end", w, got)
			}
			// The window is closed, so the exit instant itself still matches
			// InWindow; every moment after it is outside.
			if !InWindow(got, w, time.UTC) {
				t.Fatalf("%s: %v is not the closing boundary", w, got)
			}
			if InWindow(got.Add(time.Nanosecond), w, time.UTC) && w.Start != w.End {
				t.Fatalf("%s: %v still inside window after exit", w, got)
			}
		}
	}
}

func TestShiftOnWindowEndStays(t *testing.T) {
	t.Parallel()
	w := mustWindow(t, "23:00", "07:00")
	exit := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	if got := Shift(exit, w, time.UTC); !got.Equal(exit) {
		t.Fatalf("Shift(%v) = %v, want unchanged", exit, got)
	}
	inside := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	if got := Shift(inside, w, time.UTC); !got.Equal(exit) {
		t.Fatalf("Shift(%v) = %v, want %v", inside, got, exit)
	}
}

func TestLocationsCache(t *testing.T) {
	t.Parallel()
	l := NewLocations(0)
	loc, err := l.Load("")
	if err != nil || loc != time.UTC {
		t.Fatalf("Load(\"\") = %v, %v", loc, err)
	}
	if _, err := l.Load("Mars/Olympus"); err == nil {
		t.Fatal("expected error for unknown zone")
	}
	if loc, ok := l.LoadOrUTC("Mars/Olympus"); ok || loc != time.UTC {
		t.Fatalf("LoadOrUTC fallback = %v, %v", loc, ok)
	}
	a, err := l.Load("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	b, _ := l.Load("Europe/Berlin")
	if a != b {
		t.Fatal("expected cached location pointer")
	}
}
