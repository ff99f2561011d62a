package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BuildWithDuke/bugsbugger/internal/engine"
	"github.com/BuildWithDuke/bugsbugger/internal/recurrence"
	"github.com/BuildWithDuke/bugsbugger/internal/storage"
	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	st  *storage.Memory
	svc *Service
	u   storage.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := storage.NewMemory()
	svc, err := New(st, engine.NewPolicy(nil, nil, logx.Nop()), nil, Defaults{}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.now = func() time.Time { return now }
	u, created, err := svc.EnsureUser(context.Background(), 4242)
	if err != nil || !created {
		t.Fatalf("EnsureUser = %v, %v", created, err)
	}
	return &env{st: st, svc: svc, u: u}
}

func (e *env) create(t *testing.T, d Draft) storage.Obligation {
	t.Helper()
	if d.Title == "" {
		d.Title = "pay rent"
	}
	if d.DueAt.IsZero() {
		d.DueAt = now.Add(5 * 24 * time.Hour)
	}
	ob, err := e.svc.Create(context.Background(), e.u, d)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return ob
}

func (e *env) mutate(t *testing.T, id int64, fn func(ob *storage.Obligation)) {
	t.Helper()
	ob, err := e.st.Obligation(context.Background(), id)
	if err != nil {
		t.Fatalf("Obligation: %v", err)
	}
	fn(&ob)
	if err := e.st.SaveObligation(context.Background(), ob); err != nil {
		t.Fatalf("SaveObligation: %v", err)
	}
}

func TestEnsureUserDefaults(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	if e.u.Timezone != "UTC" || e.u.QuietStart != "23:00" || e.u.QuietEnd != "07:00" || e.u.Profile != "standard" {
		t.Fatalf("defaults = %+v", e.u)
	}
	again, created, err := e.svc.EnsureUser(context.Background(), 4242)
	if err != nil || created || again.ID != e.u.ID {
		t.Fatalf("second EnsureUser = %+v, %v, %v", again, created, err)
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ob := e.create(t, Draft{Title: "  electricity  ", Rule: "rrule:freq=monthly", Currency: "usd"})
	if ob.ID == 0 || ob.Title != "electricity" || ob.Status != storage.StatusActive || ob.Profile != "standard" {
		t.Fatalf("created = %+v", ob)
	}
	if !ob.Recurring || ob.Rule != "FREQ=MONTHLY" || ob.Currency != "USD" {
		t.Fatalf("recurrence = %v %q %q", ob.Recurring, ob.Rule, ob.Currency)
	}
	if ob.NextFireAt == nil || !ob.NextFireAt.Equal(now) {
		t.Fatalf("next = %v, want now (inside 7-day tier)", ob.NextFireAt)
	}

	var ierr *InputError
	for _, d := range []Draft{
		{Title: "   ", DueAt: now},
		{Title: "x"},
		{Title: "x", DueAt: now, Rule: "EVERY=SOMETIMES"},
	} {
		if _, err := e.svc.Create(context.Background(), e.u, d); !errors.As(err, &ierr) {
			t.Fatalf("Create(%+v) err = %v, want InputError", d, err)
		}
	}

	// Unknown profiles fall back to the catalog default.
	ob = e.create(t, Draft{Profile: "nonexistent"})
	if ob.Profile != "standard" {
		t.Fatalf("profile = %q", ob.Profile)
	}
}

func TestAcknowledgeNonRecurring(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ob := e.create(t, Draft{})
	e.mutate(t, ob.ID, func(ob *storage.Obligation) {
		ob.NagCount = 4
		ob.LastFiredAt = storage.TimePtr(now.Add(-time.Hour))
	})

	res, err := e.svc.Acknowledge(context.Background(), e.u, ob.ID)
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	got := res.Obligation
	if res.RolledOver || got.Status != storage.StatusDone || got.NagCount != 0 || got.NextFireAt != nil {
		t.Fatalf("after ack = %+v", got)
	}
	if _, err := e.svc.Acknowledge(context.Background(), e.u, ob.ID); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("second ack err = %v, want ErrNotOpen", err)
	}
}

func TestAcknowledgeRollsOverRecurring(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	due := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ob := e.create(t, Draft{DueAt: due, Rule: "FREQ=MONTHLY;BYMONTHDAY=1"})
	e.mutate(t, ob.ID, func(ob *storage.Obligation) {
		ob.NagCount = 3
		ob.LastFiredAt = storage.TimePtr(now)
		ob.Status = storage.StatusSnoozed
		ob.SnoozedUntil = storage.TimePtr(now.Add(time.Hour))
	})

	res, err := e.svc.Acknowledge(context.Background(), e.u, ob.ID)
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	got := res.Obligation
	want := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	if !res.RolledOver || !got.DueAt.Equal(want) {
		t.Fatalf("rolled = %v due = %v, want %v", res.RolledOver, got.DueAt, want)
	}
	if got.Status != storage.StatusActive || got.NagCount != 0 || got.LastFiredAt != nil || got.SnoozedUntil != nil {
		t.Fatalf("after rollover = %+v", got)
	}
	// Due in 31 days: first tier, fires 7 days before due.
	if next := want.Add(-7 * 24 * time.Hour); got.NextFireAt == nil || !got.NextFireAt.Equal(next) {
		t.Fatalf("next = %v, want %v", got.NextFireAt, next)
	}
}

func TestAcknowledgeFallsBackToDone(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ob := e.create(t, Draft{DueAt: now.Add(time.Hour), Rule: "FREQ=DAILY;COUNT=1"})

	res, err := e.svc.Acknowledge(context.Background(), e.u, ob.ID)
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if res.RolledOver || res.Obligation.Status != storage.StatusDone {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(res.RecurrenceErr, recurrence.ErrNoOccurrence) {
		t.Fatalf("recurrence err = %v", res.RecurrenceErr)
	}
}

func TestSnooze(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ob := e.create(t, Draft{})

	got, err := e.svc.Snooze(context.Background(), e.u, ob.ID, 0)
	if err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	want := now.Add(time.Hour)
	if got.Status != storage.StatusSnoozed || !got.SnoozedUntil.Equal(want) || !got.NextFireAt.Equal(want) {
		t.Fatalf("after snooze = %+v", got)
	}

	// 12:00 + 11h lands at 23:00, inside quiet hours: pushed to 07:00.
	got, err = e.svc.Snooze(context.Background(), e.u, ob.ID, 11*60)
	if err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	if want := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC); !got.NextFireAt.Equal(want) || !got.SnoozedUntil.Equal(want) {
		t.Fatalf("quiet snooze = %v, want %v", got.NextFireAt, want)
	}

	if _, err := e.svc.Snooze(context.Background(), e.u, ob.ID, MaxSnoozeMinutes+1); err == nil {
		t.Fatal("expected error for oversized snooze")
	}
	st, _ := e.svc.Stats(context.Background(), e.u)
	if st.Snoozes != 2 || st.AvgSnoozeMinutes != (60+660)/2.0 {
		t.Fatalf("stats = %+v", st)
	}

	_, _ = e.svc.Acknowledge(context.Background(), e.u, ob.ID)
	if _, err := e.svc.Snooze(context.Background(), e.u, ob.ID, 10); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("snooze done err = %v", err)
	}
}

func TestOwnership(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ob := e.create(t, Draft{})
	other, _, _ := e.svc.EnsureUser(context.Background(), 999)

	if _, err := e.svc.Get(context.Background(), other, ob.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get other err = %v", err)
	}
	if err := e.svc.Delete(context.Background(), other, ob.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Delete other err = %v", err)
	}
	if err := e.svc.Delete(context.Background(), e.u, ob.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if list, _ := e.svc.List(context.Background(), e.u, true); len(list) != 0 {
		t.Fatalf("list after delete = %d", len(list))
	}
}

func TestSettingsReschedule(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	// Due in 10 days, first fire at due-7d = 03-04 12:00 UTC.
	ob := e.create(t, Draft{DueAt: now.Add(10 * 24 * time.Hour)})

	var ierr *InputError
	if _, err := e.svc.SetTimezone(context.Background(), e.u, "Mars/Base"); !errors.As(err, &ierr) {
		t.Fatalf("bad tz err = %v", err)
	}
	if _, err := e.svc.SetQuietHours(context.Background(), e.u, "25:00", "07:00"); !errors.As(err, &ierr) {
		t.Fatalf("bad quiet err = %v", err)
	}
	if _, err := e.svc.SetProfile(context.Background(), e.u, "relentless"); !errors.As(err, &ierr) {
		t.Fatalf("bad profile err = %v", err)
	}

	u, err := e.svc.SetQuietHours(context.Background(), e.u, "11:00", "13:00")
	if err != nil {
		t.Fatalf("SetQuietHours: %v", err)
	}
	got, _ := e.svc.Get(context.Background(), u, ob.ID)
	if want := time.Date(2026, 3, 4, 13, 0, 0, 0, time.UTC); !got.NextFireAt.Equal(want) {
		t.Fatalf("rescheduled next = %v, want %v", got.NextFireAt, want)
	}

	u, err = e.svc.SetProfile(context.Background(), u, "Aggressive")
	if err != nil || u.Profile != "aggressive" {
		t.Fatalf("SetProfile = %q, %v", u.Profile, err)
	}
	if ob := e.create(t, Draft{}); ob.Profile != "standard" {
		// e.u is the stale copy with the old profile.
		t.Fatalf("profile from stale user = %q", ob.Profile)
	}
}

func TestEditDueRecomputes(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ob := e.create(t, Draft{})
	due := now.Add(20 * 24 * time.Hour)
	title := "water bill"
	got, err := e.svc.Edit(context.Background(), e.u, ob.ID, Patch{DueAt: &due, Title: &title})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got.Title != "water bill" || !got.DueAt.Equal(due) {
		t.Fatalf("edited = %+v", got)
	}
	if want := due.Add(-7 * 24 * time.Hour); !got.NextFireAt.Equal(want) {
		t.Fatalf("next = %v, want %v", got.NextFireAt, want)
	}

	none := ""
	got, _ = e.svc.Edit(context.Background(), e.u, ob.ID, Patch{Rule: &none})
	if got.Recurring || got.Rule != "" {
		t.Fatalf("rule not cleared: %+v", got)
	}
	bad := "FREQ=NEVER"
	if _, err := e.svc.Edit(context.Background(), e.u, ob.ID, Patch{Rule: &bad}); err == nil {
		t.Fatal("expected invalid rule error")
	}

	// A repeat change reschedules too.
	e.mutate(t, ob.ID, func(o *storage.Obligation) { o.NextFireAt = storage.TimePtr(now.Add(time.Hour)) })
	monthly := "FREQ=MONTHLY"
	got, err = e.svc.Edit(context.Background(), e.u, ob.ID, Patch{Rule: &monthly})
	if err != nil || !got.Recurring {
		t.Fatalf("Edit repeat = %+v, %v", got, err)
	}
	if want := due.Add(-7 * 24 * time.Hour); !got.NextFireAt.Equal(want) {
		t.Fatalf("next after repeat edit = %v, want %v", got.NextFireAt, want)
	}
}

func TestEditClearsAmount(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	amt := 0.0
	ob := e.create(t, Draft{Amount: &amt})
	if ob.Amount == nil {
		t.Fatal("zero amount was not stored")
	}
	got, err := e.svc.Edit(context.Background(), e.u, ob.ID, Patch{ClearAmount: true})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got.Amount != nil {
		t.Fatalf("amount = %v, want cleared", *got.Amount)
	}
}

func TestArchiveAndStats(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	a := e.create(t, Draft{Title: "a"})
	b := e.create(t, Draft{Title: "b", DueAt: now.Add(-time.Hour)})
	e.create(t, Draft{Title: "c", Rule: "FREQ=WEEKLY"})
	e.mutate(t, b.ID, func(ob *storage.Obligation) { ob.NagCount = 7 })

	got, err := e.svc.Archive(context.Background(), e.u, a.ID)
	if err != nil || got.Status != storage.StatusArchived || got.NextFireAt != nil {
		t.Fatalf("Archive = %+v, %v", got, err)
	}
	open, _ := e.svc.List(context.Background(), e.u, false)
	if len(open) != 2 {
		t.Fatalf("open = %d, want 2", len(open))
	}

	st, err := e.svc.Stats(context.Background(), e.u)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 3 || st.Active != 2 || st.Overdue != 1 || st.Recurring != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.MostNagged != "b" || st.TotalNags != 7 || st.CompletionRate() != 0 {
		t.Fatalf("nag stats = %+v", st)
	}
	// c is due in five days; b is overdue and a is archived.
	if st.UpcomingWeek != 1 {
		t.Fatalf("upcoming = %d, want 1", st.UpcomingWeek)
	}
}

func TestUpcoming(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	late := e.create(t, Draft{Title: "late", DueAt: now.Add(6 * 24 * time.Hour)})
	soon := e.create(t, Draft{Title: "soon", DueAt: now.Add(time.Hour)})
	e.create(t, Draft{Title: "far", DueAt: now.Add(30 * 24 * time.Hour)})
	e.create(t, Draft{Title: "past", DueAt: now.Add(-time.Hour)})

	got, err := e.svc.Upcoming(context.Background(), e.u, 0)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(got) != 2 || got[0].ID != soon.ID || got[1].ID != late.ID {
		t.Fatalf("Upcoming = %+v", got)
	}
}
