package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned by guarded writes when the row changed since it
	// was read.
	ErrConflict = errors.New("storage: concurrent modification")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "memory": non-persistent
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type Status string

const (
	StatusActive   Status = "active"
	StatusSnoozed  Status = "snoozed"
	StatusDone     Status = "done"
	StatusArchived Status = "archived"
	StatusSkipped  Status = "skipped"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSnoozed, StatusDone, StatusArchived, StatusSkipped:
		return true
	}
	return false
}

// Schedulable reports whether the dispatcher may fire an obligation in s.
func (s Status) Schedulable() bool { return s == StatusActive || s == StatusSnoozed }

// User owns obligations. QuietStart/QuietEnd are local "HH:MM".
type User struct {
	ID         int64
	ChatID     int64
	Timezone   string
	QuietStart string
	QuietEnd   string
	Profile    string
	CreatedAt  time.Time
}

// Obligation is one tracked reminder.
type Obligation struct {
	ID          int64
	UserID      int64
	Title       string
	Description string
	Amount      *float64
	Currency    string
	DueAt       time.Time
	Status      Status
	Profile     string
	// CustomEscalation is stored verbatim and never interpreted.
	CustomEscalation string

	NextFireAt   *time.Time
	NagCount     int
	LastFiredAt  *time.Time
	SnoozedUntil *time.Time

	Recurring bool
	Rule      string

	// Revision increments on every write. Guarded writes compare it.
	Revision  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy that shares no pointers with o.
func (o Obligation) Clone() Obligation {
	c := o
	c.Amount = clonePtr(o.Amount)
	c.NextFireAt = clonePtr(o.NextFireAt)
	c.LastFiredAt = clonePtr(o.LastFiredAt)
	c.SnoozedUntil = clonePtr(o.SnoozedUntil)
	return c
}

// FiringRecord is one row of nag_history.
type FiringRecord struct {
	ID           int64
	ObligationID int64
	FiredAt      time.Time
	Tier         string
	// Seq is the obligation's nag_count after this firing.
	Seq       int
	MessageID int
}

// SnoozeRecord is one row of snooze_log.
type SnoozeRecord struct {
	ObligationID int64
	SnoozedAt    time.Time
	Minutes      int
}

// SnoozeTotals aggregates snooze_log for one user.
type SnoozeTotals struct {
	Count   int
	Minutes int64
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// TimePtr returns &t normalized to UTC.
func TimePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
