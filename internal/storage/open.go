package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

// Store is the persistence API used by the engine, the reminder service and
// the bot.
type Store interface {
	CreateUser(ctx context.Context, u User) (User, error)
	User(ctx context.Context, id int64) (User, error)
	UserByChat(ctx context.Context, chatID int64) (User, error)
	SaveUser(ctx context.Context, u User) error

	CreateObligation(ctx context.Context, ob Obligation) (Obligation, error)
	Obligation(ctx context.Context, id int64) (Obligation, error)
	ListObligations(ctx context.Context, userID int64, statuses ...Status) ([]Obligation, error)
	// SaveObligation overwrites every mutable column and bumps Revision.
	SaveObligation(ctx context.Context, ob Obligation) error
	DeleteObligation(ctx context.Context, id int64) error

	// DueObligations returns schedulable obligations with next_fire_at <= now,
	// earliest first.
	DueObligations(ctx context.Context, now time.Time) ([]Obligation, error)
	// RecordFiring appends rec and saves ob in one transaction, provided the
	// stored row still has nag_count == expectedNagCount and ob.Revision.
	// Otherwise it returns ErrConflict and writes nothing.
	RecordFiring(ctx context.Context, ob Obligation, rec FiringRecord, expectedNagCount int) error
	Firings(ctx context.Context, obligationID int64, limit int) ([]FiringRecord, error)
	PruneFirings(ctx context.Context, before time.Time) (int64, error)

	// RecordSnooze saves ob and appends rec in one transaction.
	RecordSnooze(ctx context.Context, ob Obligation, rec SnoozeRecord) error
	SnoozeTotals(ctx context.Context, userID int64) (SnoozeTotals, error)

	Close() error
}

// Open initializes the configured store. An empty driver means sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
