package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BuildWithDuke/bugsbugger/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const obligationCols = `id, user_id, title, description, amount, currency, due_at, status,
	escalation_profile, custom_escalation, next_fire_at, nag_count, last_fired_at,
	snoozed_until, is_recurring, rrule, revision, created_at, updated_at`

const userCols = `id, chat_id, timezone, quiet_start, quiet_end, escalation_profile, created_at`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also serializes our transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- users

func (s *sqliteStore) CreateUser(ctx context.Context, u User) (User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	u.CreatedAt = u.CreatedAt.UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(chat_id, timezone, quiet_start, quiet_end, escalation_profile, created_at)
		 VALUES(?,?,?,?,?,?)`,
		u.ChatID, u.Timezone, u.QuietStart, u.QuietEnd, u.Profile, millis(u.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *sqliteStore) User(ctx context.Context, id int64) (User, error) {
	return s.queryUser(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
}

func (s *sqliteStore) UserByChat(ctx context.Context, chatID int64) (User, error) {
	return s.queryUser(ctx, `SELECT `+userCols+` FROM users WHERE chat_id = ?`, chatID)
}

func (s *sqliteStore) queryUser(ctx context.Context, q string, arg any) (User, error) {
	var (
		u       User
		created int64
	)
	err := s.db.QueryRowContext(ctx, q, arg).Scan(
		&u.ID, &u.ChatID, &u.Timezone, &u.QuietStart, &u.QuietEnd, &u.Profile, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = fromMillis(created)
	return u, nil
}

func (s *sqliteStore) SaveUser(ctx context.Context, u User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET timezone = ?, quiet_start = ?, quiet_end = ?, escalation_profile = ? WHERE id = ?`,
		u.Timezone, u.QuietStart, u.QuietEnd, u.Profile, u.ID,
	)
	return affectedOne(res, err)
}

// ---- obligations

func (s *sqliteStore) CreateObligation(ctx context.Context, ob Obligation) (Obligation, error) {
	now := s.now().UTC()
	if ob.CreatedAt.IsZero() {
		ob.CreatedAt = now
	}
	ob.UpdatedAt = now
	ob.Revision = 0
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(user_id, title, description, amount, currency, due_at, status,
			escalation_profile, custom_escalation, next_fire_at, nag_count, last_fired_at,
			snoozed_until, is_recurring, rrule, revision, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ob.UserID, ob.Title, nullStr(ob.Description), nullFloat(ob.Amount), nullStr(ob.Currency),
		millis(ob.DueAt), string(ob.Status), ob.Profile, nullStr(ob.CustomEscalation),
		nullTime(ob.NextFireAt), ob.NagCount, nullTime(ob.LastFiredAt), nullTime(ob.SnoozedUntil),
		boolInt(ob.Recurring), nullStr(ob.Rule), ob.Revision, millis(ob.CreatedAt), millis(ob.UpdatedAt),
	)
	if err != nil {
		return Obligation{}, fmt.Errorf("create obligation: %w", err)
	}
	if ob.ID, err = res.LastInsertId(); err != nil {
		return Obligation{}, err
	}
	ob.DueAt = ob.DueAt.UTC()
	ob.CreatedAt = ob.CreatedAt.UTC()
	return ob, nil
}

func (s *sqliteStore) Obligation(ctx context.Context, id int64) (Obligation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+obligationCols+` FROM reminders WHERE id = ?`, id)
	ob, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Obligation{}, ErrNotFound
	}
	return ob, err
}

func (s *sqliteStore) ListObligations(ctx context.Context, userID int64, statuses ...Status) ([]Obligation, error) {
	q := `SELECT ` + obligationCols + ` FROM reminders WHERE user_id = ?`
	args := []any{userID}
	if len(statuses) > 0 {
		q += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	q += ` ORDER BY due_at ASC, id ASC`
	return s.queryObligations(ctx, q, args...)
}

func (s *sqliteStore) DueObligations(ctx context.Context, now time.Time) ([]Obligation, error) {
	return s.queryObligations(ctx,
		`SELECT `+obligationCols+` FROM reminders
		 WHERE status IN ('active', 'snoozed') AND next_fire_at IS NOT NULL AND next_fire_at <= ?
		 ORDER BY next_fire_at ASC, id ASC`,
		millis(now),
	)
}

func (s *sqliteStore) queryObligations(ctx context.Context, q string, args ...any) ([]Obligation, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Obligation
	for rows.Next() {
		ob, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ob)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveObligation(ctx context.Context, ob Obligation) error {
	return s.updateObligation(ctx, s.db, ob, nil)
}

// updateObligation writes ob. With guard set, the row must still carry the
// given nag_count and ob.Revision.
func (s *sqliteStore) updateObligation(ctx context.Context, ex execer, ob Obligation, guardNagCount *int) error {
	q := `UPDATE reminders SET
			title = ?, description = ?, amount = ?, currency = ?, due_at = ?, status = ?,
			escalation_profile = ?, custom_escalation = ?, next_fire_at = ?, nag_count = ?,
			last_fired_at = ?, snoozed_until = ?, is_recurring = ?, rrule = ?,
			revision = revision + 1, updated_at = ?
		  WHERE id = ?`
	args := []any{
		ob.Title, nullStr(ob.Description), nullFloat(ob.Amount), nullStr(ob.Currency),
		millis(ob.DueAt), string(ob.Status), ob.Profile, nullStr(ob.CustomEscalation),
		nullTime(ob.NextFireAt), ob.NagCount, nullTime(ob.LastFiredAt), nullTime(ob.SnoozedUntil),
		boolInt(ob.Recurring), nullStr(ob.Rule), millis(s.now()), ob.ID,
	}
	if guardNagCount != nil {
		q += ` AND nag_count = ? AND revision = ?`
		args = append(args, *guardNagCount, ob.Revision)
	}
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update obligation %d: %w", ob.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if guardNagCount != nil {
			return ErrConflict
		}
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeleteObligation(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return affectedOne(res, err)
}

// ---- firings

func (s *sqliteStore) RecordFiring(ctx context.Context, ob Obligation, rec FiringRecord, expectedNagCount int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.updateObligation(ctx, tx, ob, &expectedNagCount); err != nil {
			if errors.Is(err, ErrConflict) {
				var one int
				if e := tx.QueryRowContext(ctx, `SELECT 1 FROM reminders WHERE id = ?`, ob.ID).Scan(&one); errors.Is(e, sql.ErrNoRows) {
					return ErrNotFound
				}
			}
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO nag_history(reminder_id, sent_at, message_id, escalation_tier, nag_count)
			 VALUES(?,?,?,?,?)`,
			ob.ID, millis(rec.FiredAt), rec.MessageID, rec.Tier, rec.Seq,
		)
		return err
	})
}

func (s *sqliteStore) Firings(ctx context.Context, obligationID int64, limit int) ([]FiringRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reminder_id, sent_at, escalation_tier, nag_count, message_id
		 FROM nag_history WHERE reminder_id = ? ORDER BY sent_at DESC, id DESC LIMIT ?`,
		obligationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FiringRecord
	for rows.Next() {
		var (
			r  FiringRecord
			at int64
		)
		if err := rows.Scan(&r.ID, &r.ObligationID, &at, &r.Tier, &r.Seq, &r.MessageID); err != nil {
			return nil, err
		}
		r.FiredAt = fromMillis(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneFirings(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nag_history WHERE sent_at < ?`, millis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- snoozes

func (s *sqliteStore) RecordSnooze(ctx context.Context, ob Obligation, rec SnoozeRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.updateObligation(ctx, tx, ob, nil); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO snooze_log(reminder_id, snoozed_at, duration_minutes) VALUES(?,?,?)`,
			ob.ID, millis(rec.SnoozedAt), rec.Minutes,
		)
		return err
	})
}

func (s *sqliteStore) SnoozeTotals(ctx context.Context, userID int64) (SnoozeTotals, error) {
	var t SnoozeTotals
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(l.duration_minutes), 0)
		 FROM snooze_log l JOIN reminders r ON r.id = l.reminder_id
		 WHERE r.user_id = ?`, userID,
	).Scan(&t.Count, &t.Minutes)
	return t, err
}

// ---- helpers

func (s *sqliteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func scanObligation(r rowScanner) (Obligation, error) {
	var (
		ob                      Obligation
		desc, cur, custom, rule sql.NullString
		amount                  sql.NullFloat64
		due, created, updated   int64
		next, last, snoozed     sql.NullInt64
		status                  string
		recurring               int64
	)
	err := r.Scan(
		&ob.ID, &ob.UserID, &ob.Title, &desc, &amount, &cur, &due, &status,
		&ob.Profile, &custom, &next, &ob.NagCount, &last,
		&snoozed, &recurring, &rule, &ob.Revision, &created, &updated,
	)
	if err != nil {
		return Obligation{}, err
	}
	ob.Description = desc.String
	ob.Currency = cur.String
	ob.CustomEscalation = custom.String
	ob.Rule = rule.String
	if amount.Valid {
		v := amount.Float64
		ob.Amount = &v
	}
	ob.DueAt = fromMillis(due)
	ob.Status = Status(status)
	ob.NextFireAt = timeFromNull(next)
	ob.LastFiredAt = timeFromNull(last)
	ob.SnoozedUntil = timeFromNull(snoozed)
	ob.Recurring = recurring != 0
	ob.CreatedAt = fromMillis(created)
	ob.UpdatedAt = fromMillis(updated)
	return ob, nil
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return millis(*t)
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
