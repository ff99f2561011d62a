// Package reminder implements user actions on obligations: create, done,
// snooze, edit, delete and per-user settings.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BuildWithDuke/bugsbugger/internal/engine"
	"github.com/BuildWithDuke/bugsbugger/internal/quiet"
	"github.com/BuildWithDuke/bugsbugger/internal/recurrence"
	"github.com/BuildWithDuke/bugsbugger/internal/storage"
	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

var (
	// ErrNotOpen is returned for actions that need an active or snoozed obligation.
	ErrNotOpen = errors.New("reminder is already closed")
)

// InputError reports a rejected user value.
type InputError struct {
	Field string
	Msg   string
}

func (e *InputError) Error() string { return e.Field + ": " + e.Msg }

func invalid(field, format string, args ...any) error {
	return &InputError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Defaults apply to new users and to snoozes without an explicit duration.
type Defaults struct {
	Timezone      string
	QuietStart    string
	QuietEnd      string
	Profile       string
	SnoozeMinutes int
}

const (
	DefaultSnoozeMinutes = 60
	MaxSnoozeMinutes     = 30 * 24 * 60
	maxTitleLen          = 200
)

func (d Defaults) normalized() Defaults {
	if strings.TrimSpace(d.Timezone) == "" {
		d.Timezone = "UTC"
	}
	if d.QuietStart == "" {
		d.QuietStart = engine.DefaultQuiet.Start.String()
	}
	if d.QuietEnd == "" {
		d.QuietEnd = engine.DefaultQuiet.End.String()
	}
	if d.SnoozeMinutes <= 0 {
		d.SnoozeMinutes = DefaultSnoozeMinutes
	}
	return d
}

type Service struct {
	store  storage.Store
	policy *engine.Policy
	locks  *engine.KeyedMutex
	log    logx.Logger
	now    func() time.Time

	defaults atomic.Pointer[Defaults]
}

func New(store storage.Store, policy *engine.Policy, locks *engine.KeyedMutex, def Defaults, log logx.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("reminder: store is required")
	}
	if policy == nil {
		return nil, errors.New("reminder: policy is required")
	}
	if locks == nil {
		locks = engine.NewKeyedMutex()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{store: store, policy: policy, locks: locks, log: log.With(logx.String("comp", "reminder")), now: time.Now}
	s.SetDefaults(def)
	return s, nil
}

func (s *Service) SetDefaults(d Defaults) {
	d = d.normalized()
	s.defaults.Store(&d)
}

func (s *Service) Defaults() Defaults { return *s.defaults.Load() }

func (s *Service) Policy() *engine.Policy { return s.policy }

// ---- users

// EnsureUser returns the user for chatID, registering it with defaults on
// first contact.
func (s *Service) EnsureUser(ctx context.Context, chatID int64) (storage.User, bool, error) {
	u, err := s.store.UserByChat(ctx, chatID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, false, err
	}
	d := s.Defaults()
	profile := d.Profile
	if profile == "" {
		profile = s.policy.Catalog().Default()
	}
	u, err = s.store.CreateUser(ctx, storage.User{
		ChatID:     chatID,
		Timezone:   d.Timezone,
		QuietStart: d.QuietStart,
		QuietEnd:   d.QuietEnd,
		Profile:    profile,
		CreatedAt:  s.now(),
	})
	if errors.Is(err, storage.ErrConflict) {
		u, err = s.store.UserByChat(ctx, chatID)
		return u, false, err
	}
	if err != nil {
		return storage.User{}, false, err
	}
	s.log.Info("user registered", logx.Int64("user", u.ID), logx.Int64("chat", chatID))
	return u, true, nil
}

// SetTimezone validates an IANA name and reschedules the user's reminders.
func (s *Service) SetTimezone(ctx context.Context, u storage.User, tz string) (storage.User, error) {
	tz = strings.TrimSpace(tz)
	loc, err := s.policy.Locations().Load(tz)
	if err != nil {
		return u, invalid("timezone", "unknown timezone %q", tz)
	}
	u.Timezone = loc.String()
	return s.saveUser(ctx, u)
}

func (s *Service) SetQuietHours(ctx context.Context, u storage.User, start, end string) (storage.User, error) {
	w, err := quiet.ParseWindow(start, end)
	if err != nil {
		return u, invalid("quiet", "%v", err)
	}
	u.QuietStart, u.QuietEnd = w.Start.String(), w.End.String()
	return s.saveUser(ctx, u)
}

// SetProfile changes the default profile for new reminders. Existing
// reminders keep theirs.
func (s *Service) SetProfile(ctx context.Context, u storage.User, name string) (storage.User, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !s.policy.Catalog().Has(name) {
		return u, invalid("profile", "unknown profile %q (have %s)", name, strings.Join(s.policy.Catalog().Names(), ", "))
	}
	u.Profile = name
	if err := s.store.SaveUser(ctx, u); err != nil {
		return u, err
	}
	return u, nil
}

func (s *Service) saveUser(ctx context.Context, u storage.User) (storage.User, error) {
	if err := s.store.SaveUser(ctx, u); err != nil {
		return u, err
	}
	if err := s.reschedule(ctx, u); err != nil {
		return u, err
	}
	return u, nil
}

// reschedule recomputes next_fire_at for the user's active reminders after
// a timezone or quiet-hours change.
func (s *Service) reschedule(ctx context.Context, u storage.User) error {
	obs, err := s.store.ListObligations(ctx, u.ID, storage.StatusActive)
	if err != nil {
		return err
	}
	now := s.now()
	for _, cand := range obs {
		err := s.withObligation(ctx, u, cand.ID, func(ob *storage.Obligation) error {
			if ob.Status != storage.StatusActive {
				return errSkip
			}
			ob.NextFireAt = s.policy.ComputeNextFire(*ob, u, now)
			return nil
		})
		if err != nil && !errors.Is(err, errSkip) {
			return err
		}
	}
	return nil
}

// ---- obligations

type Draft struct {
	Title       string
	Description string
	DueAt       time.Time
	Amount      *float64
	Currency    string
	Rule        string
	Profile     string
}

func (s *Service) Create(ctx context.Context, u storage.User, d Draft) (storage.Obligation, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return storage.Obligation{}, invalid("title", "must not be empty")
	}
	if len(title) > maxTitleLen {
		return storage.Obligation{}, invalid("title", "longer than %d characters", maxTitleLen)
	}
	if d.DueAt.IsZero() {
		return storage.Obligation{}, invalid("due", "is required")
	}
	rule := ""
	if strings.TrimSpace(d.Rule) != "" {
		rule = recurrence.Normalize(d.Rule)
		if err := recurrence.Validate(rule); err != nil {
			return storage.Obligation{}, invalid("repeat", "%v", err)
		}
	}
	profile := strings.ToLower(strings.TrimSpace(d.Profile))
	if profile == "" {
		profile = u.Profile
	}
	if !s.policy.Catalog().Has(profile) {
		profile = s.policy.Catalog().Default()
	}

	now := s.now()
	ob := storage.Obligation{
		UserID:      u.ID,
		Title:       title,
		Description: strings.TrimSpace(d.Description),
		Amount:      d.Amount,
		Currency:    strings.ToUpper(strings.TrimSpace(d.Currency)),
		DueAt:       d.DueAt.UTC().Truncate(time.Second),
		Status:      storage.StatusActive,
		Profile:     profile,
		Recurring:   rule != "",
		Rule:        rule,
		CreatedAt:   now,
	}
	ob.NextFireAt = s.policy.ComputeNextFire(ob, u, now)
	created, err := s.store.CreateObligation(ctx, ob)
	if err != nil {
		return storage.Obligation{}, err
	}
	s.log.Info("reminder created",
		logx.Int64("obligation", created.ID), logx.Int64("user", u.ID),
		logx.Time("due_at", created.DueAt), logx.Bool("recurring", created.Recurring))
	return created, nil
}

// Get returns an obligation owned by u. Others' obligations are not found.
func (s *Service) Get(ctx context.Context, u storage.User, id int64) (storage.Obligation, error) {
	ob, err := s.store.Obligation(ctx, id)
	if err != nil {
		return storage.Obligation{}, err
	}
	if ob.UserID != u.ID {
		return storage.Obligation{}, storage.ErrNotFound
	}
	return ob, nil
}

// List returns open reminders, or every reminder when all is set.
func (s *Service) List(ctx context.Context, u storage.User, all bool) ([]storage.Obligation, error) {
	if all {
		return s.store.ListObligations(ctx, u.ID)
	}
	return s.store.ListObligations(ctx, u.ID, storage.StatusActive, storage.StatusSnoozed)
}

// Upcoming returns open reminders due between now and now+within, soonest
// first. Overdue reminders are excluded.
func (s *Service) Upcoming(ctx context.Context, u storage.User, within time.Duration) ([]storage.Obligation, error) {
	if within <= 0 {
		within = 7 * 24 * time.Hour
	}
	obs, err := s.List(ctx, u, false)
	if err != nil {
		return nil, err
	}
	now := s.now()
	end := now.Add(within)
	out := obs[:0]
	for _, ob := range obs {
		if !ob.DueAt.Before(now) && ob.DueAt.Before(end) {
			out = append(out, ob)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (s *Service) History(ctx context.Context, u storage.User, id int64, limit int) ([]storage.FiringRecord, error) {
	if _, err := s.Get(ctx, u, id); err != nil {
		return nil, err
	}
	return s.store.Firings(ctx, id, limit)
}

// AckResult describes the outcome of Acknowledge.
type AckResult struct {
	Obligation storage.Obligation
	RolledOver bool
	// RecurrenceErr is set when a recurring reminder could not advance and
	// was marked done instead.
	RecurrenceErr error
}

// Acknowledge marks a reminder done, or rolls a recurring one over to its
// next occurrence.
func (s *Service) Acknowledge(ctx context.Context, u storage.User, id int64) (AckResult, error) {
	var res AckResult
	now := s.now()
	err := s.withObligation(ctx, u, id, func(ob *storage.Obligation) error {
		if !ob.Status.Schedulable() {
			return ErrNotOpen
		}
		ob.NagCount = 0
		ob.LastFiredAt = nil
		ob.SnoozedUntil = nil

		if ob.Recurring && ob.Rule != "" {
			// Occurrences follow the owner's wall clock across DST changes.
			loc, _ := s.policy.Zone(u)
			next, err := recurrence.NextOccurrence(ob.DueAt.In(loc), ob.Rule)
			if err == nil {
				ob.DueAt = next.UTC()
				ob.Status = storage.StatusActive
				ob.NextFireAt = s.policy.ComputeNextFire(*ob, u, now)
				res.RolledOver = true
				return nil
			}
			res.RecurrenceErr = err
			s.log.Warn("recurrence ended, marking done", logx.Int64("obligation", ob.ID), logx.Err(err))
		}
		ob.Status = storage.StatusDone
		ob.NextFireAt = nil
		return nil
	})
	if err != nil {
		return AckResult{}, err
	}
	res.Obligation, err = s.store.Obligation(ctx, id)
	return res, err
}

// Snooze silences a reminder for minutes (0 means the default). The wake-up
// time is moved out of quiet hours.
func (s *Service) Snooze(ctx context.Context, u storage.User, id int64, minutes int) (storage.Obligation, error) {
	if minutes <= 0 {
		minutes = s.Defaults().SnoozeMinutes
	}
	if minutes > MaxSnoozeMinutes {
		return storage.Obligation{}, invalid("minutes", "at most %d", MaxSnoozeMinutes)
	}
	now := s.now()
	unlock := s.locks.Lock(id)
	defer unlock()

	ob, err := s.Get(ctx, u, id)
	if err != nil {
		return storage.Obligation{}, err
	}
	if !ob.Status.Schedulable() {
		return storage.Obligation{}, ErrNotOpen
	}
	until := s.policy.ShiftQuiet(now.Add(time.Duration(minutes)*time.Minute), u)
	ob.Status = storage.StatusSnoozed
	ob.SnoozedUntil = storage.TimePtr(until)
	ob.NextFireAt = storage.TimePtr(until)
	if err := s.store.RecordSnooze(ctx, ob, storage.SnoozeRecord{ObligationID: id, SnoozedAt: now, Minutes: minutes}); err != nil {
		return storage.Obligation{}, err
	}
	return s.store.Obligation(ctx, id)
}

// Patch holds optional edits. A nil field is left unchanged; an empty Rule
// clears recurrence.
type Patch struct {
	Title    *string
	DueAt    *time.Time
	Amount   *float64
	Currency *string
	Rule     *string
	// ClearAmount removes the amount. It wins over Amount.
	ClearAmount bool
}

func (s *Service) Edit(ctx context.Context, u storage.User, id int64, p Patch) (storage.Obligation, error) {
	now := s.now()
	err := s.withObligation(ctx, u, id, func(ob *storage.Obligation) error {
		if p.Title != nil {
			t := strings.TrimSpace(*p.Title)
			if t == "" || len(t) > maxTitleLen {
				return invalid("title", "must be 1-%d characters", maxTitleLen)
			}
			ob.Title = t
		}
		if p.DueAt != nil {
			if p.DueAt.IsZero() {
				return invalid("due", "is required")
			}
			ob.DueAt = p.DueAt.UTC().Truncate(time.Second)
		}
		switch {
		case p.ClearAmount:
			ob.Amount = nil
		case p.Amount != nil:
			v := *p.Amount
			ob.Amount = &v
		}
		if p.Currency != nil {
			ob.Currency = strings.ToUpper(strings.TrimSpace(*p.Currency))
		}
		if p.Rule != nil {
			rule := recurrence.Normalize(*p.Rule)
			if rule != "" {
				if err := recurrence.Validate(rule); err != nil {
					return invalid("repeat", "%v", err)
				}
			}
			ob.Rule = rule
			ob.Recurring = rule != ""
		}
		if (p.DueAt != nil || p.Rule != nil) && ob.Status == storage.StatusActive {
			ob.NextFireAt = s.policy.ComputeNextFire(*ob, u, now)
		}
		return nil
	})
	if err != nil {
		return storage.Obligation{}, err
	}
	return s.store.Obligation(ctx, id)
}

// Archive closes a reminder without completing it.
func (s *Service) Archive(ctx context.Context, u storage.User, id int64) (storage.Obligation, error) {
	err := s.withObligation(ctx, u, id, func(ob *storage.Obligation) error {
		if ob.Status == storage.StatusArchived {
			return errSkip
		}
		ob.Status = storage.StatusArchived
		ob.NextFireAt = nil
		ob.SnoozedUntil = nil
		return nil
	})
	if err != nil && !errors.Is(err, errSkip) {
		return storage.Obligation{}, err
	}
	return s.store.Obligation(ctx, id)
}

func (s *Service) Delete(ctx context.Context, u storage.User, id int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	if _, err := s.Get(ctx, u, id); err != nil {
		return err
	}
	if err := s.store.DeleteObligation(ctx, id); err != nil {
		return err
	}
	s.log.Info("reminder deleted", logx.Int64("obligation", id), logx.Int64("user", u.ID))
	return nil
}

var errSkip = errors.New("skip")

// withObligation loads one owned obligation under its key lock, applies fn and
// saves the result. fn returning errSkip leaves the row untouched.
func (s *Service) withObligation(ctx context.Context, u storage.User, id int64, fn func(ob *storage.Obligation) error) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	ob, err := s.Get(ctx, u, id)
	if err != nil {
		return err
	}
	if err := fn(&ob); err != nil {
		return err
	}
	return s.store.SaveObligation(ctx, ob)
}
