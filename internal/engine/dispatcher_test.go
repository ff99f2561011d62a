package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BuildWithDuke/bugsbugger/internal/escalation"
	"github.com/BuildWithDuke/bugsbugger/internal/eventbus"
	"github.com/BuildWithDuke/bugsbugger/internal/storage"
	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

type delivery struct {
	ObligationID int64
	ChatID       int64
	Tier         string
	Msg          string
}

type fakeDeliverer struct {
	mu    sync.Mutex
	calls []delivery
	seq   int

	err    error
	before func(ctx context.Context, ob storage.Obligation) error
}

func (f *fakeDeliverer) Deliver(ctx context.Context, u storage.User, ob storage.Obligation, msg string, tier escalation.Tier) (Receipt, error) {
	if f.before != nil {
		if err := f.before(ctx, ob); err != nil {
			return Receipt{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Receipt{}, f.err
	}
	f.seq++
	f.calls = append(f.calls, delivery{ObligationID: ob.ID, ChatID: u.ChatID, Tier: tier.Name, Msg: msg})
	return Receipt{ChatID: u.ChatID, MessageID: 1000 + f.seq}, nil
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	store *storage.Memory
	del   *fakeDeliverer
	d     *Dispatcher
	user  storage.User
	bus   eventbus.Bus
}

func newFixture(t *testing.T, opt Options) *fixture {
	t.Helper()
	st := storage.NewMemory()
	u, err := st.CreateUser(context.Background(), storage.User{
		ChatID: 100, Timezone: "UTC", QuietStart: "23:00", QuietEnd: "07:00", Profile: "standard",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	del := &fakeDeliverer{}
	if opt.Bus == nil {
		opt.Bus = eventbus.New()
	}
	d, err := NewDispatcher(st, del, newTestPolicy(), logx.Nop(), opt)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return &fixture{store: st, del: del, d: d, user: u, bus: opt.Bus}
}

func (f *fixture) add(t *testing.T, mut func(ob *storage.Obligation)) storage.Obligation {
	t.Helper()
	ob := storage.Obligation{
		UserID:     f.user.ID,
		Title:      "electricity bill",
		DueAt:      testNow.Add(5 * 24 * time.Hour),
		Status:     storage.StatusActive,
		Profile:    "standard",
		NextFireAt: storage.TimePtr(testNow),
	}
	if mut != nil {
		mut(&ob)
	}
	c, err := f.store.CreateObligation(context.Background(), ob)
	if err != nil {
		t.Fatalf("CreateObligation: %v", err)
	}
	return c
}

func (f *fixture) get(t *testing.T, id int64) storage.Obligation {
	t.Helper()
	ob, err := f.store.Obligation(context.Background(), id)
	if err != nil {
		t.Fatalf("Obligation(%d): %v", id, err)
	}
	return ob
}

func TestScenarioD_FireIncrementsOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ob := f.add(t, nil)

	rep, err := f.d.RunCycle(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rep.Due != 1 || rep.Fired != 1 || rep.Failed != 0 || rep.Skipped != 0 {
		t.Fatalf("report = %+v", rep)
	}
	got := f.get(t, ob.ID)
	if got.NagCount != 1 || got.Status != storage.StatusActive {
		t.Fatalf("after fire: nag_count=%d status=%s", got.NagCount, got.Status)
	}
	if got.LastFiredAt == nil || !got.LastFiredAt.Equal(testNow) {
		t.Fatalf("last_fired_at = %v", got.LastFiredAt)
	}
	// gentle tier, 1440 minutes
	if want := testNow.Add(24 * time.Hour); got.NextFireAt == nil || !got.NextFireAt.Equal(want) {
		t.Fatalf("next_fire_at = %v, want %v", got.NextFireAt, want)
	}

	hist, _ := f.store.Firings(context.Background(), ob.ID, 10)
	if len(hist) != 1 || hist[0].Seq != 1 || hist[0].Tier != "gentle" || hist[0].MessageID != 1001 {
		t.Fatalf("history = %+v", hist)
	}
	if f.del.calls[0].ChatID != 100 || f.del.calls[0].Msg != "[gentle] electricity bill" {
		t.Fatalf("delivery = %+v", f.del.calls[0])
	}

	// A second cycle at the same instant finds nothing due.
	rep, _ = f.d.RunCycle(context.Background(), testNow)
	if rep.Due != 0 || f.del.count() != 1 {
		t.Fatalf("second cycle report = %+v deliveries=%d", rep, f.del.count())
	}
}

func TestSnoozedObligationRequeuesAsActive(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	until := testNow.Add(-time.Minute)
	ob := f.add(t, func(ob *storage.Obligation) {
		ob.Status = storage.StatusSnoozed
		ob.SnoozedUntil = storage.TimePtr(until)
		ob.NextFireAt = storage.TimePtr(until)
	})

	rep, _ := f.d.RunCycle(context.Background(), testNow)
	if rep.Fired != 1 {
		t.Fatalf("report = %+v", rep)
	}
	got := f.get(t, ob.ID)
	if got.Status != storage.StatusActive || got.SnoozedUntil != nil || got.NagCount != 1 {
		t.Fatalf("after fire = %+v", got)
	}
	if got.NextFireAt == nil || !got.NextFireAt.After(testNow) {
		t.Fatalf("next_fire_at = %v", got.NextFireAt)
	}
}

func TestTransportFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	f.del.err = errors.New("telegram: 502")
	ob := f.add(t, nil)
	events, unsub := f.bus.Subscribe(8)
	defer unsub()

	rep, _ := f.d.RunCycle(context.Background(), testNow)
	if rep.Failed != 1 || rep.Fired != 0 {
		t.Fatalf("report = %+v", rep)
	}
	got := f.get(t, ob.ID)
	if got.NagCount != 0 || got.LastFiredAt != nil || !got.NextFireAt.Equal(testNow) || got.Revision != ob.Revision {
		t.Fatalf("state changed: %+v", got)
	}
	if hist, _ := f.store.Firings(context.Background(), ob.ID, 10); len(hist) != 0 {
		t.Fatalf("history = %+v", hist)
	}

	e := <-events
	if e.Type != EventNagFailed {
		t.Fatalf("first event = %s, want %s", e.Type, EventNagFailed)
	}
	if ne := e.Data.(NagEvent); ne.ObligationID != ob.ID || ne.Err == "" {
		t.Fatalf("event data = %+v", ne)
	}

	// Retried next cycle once the transport recovers.
	f.del.mu.Lock()
	f.del.err = nil
	f.del.mu.Unlock()
	rep, _ = f.d.RunCycle(context.Background(), testNow.Add(time.Minute))
	if rep.Fired != 1 {
		t.Fatalf("retry report = %+v", rep)
	}
}

type vanishingStore struct{ *storage.Memory }

func (v vanishingStore) Obligation(context.Context, int64) (storage.Obligation, error) {
	return storage.Obligation{}, storage.ErrNotFound
}

func TestVanishedObligationIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	f.add(t, nil)
	d, _ := NewDispatcher(vanishingStore{f.store}, f.del, newTestPolicy(), logx.Nop(), Options{})

	rep, err := d.RunCycle(context.Background(), testNow)
	if err != nil || rep.Due != 1 || rep.Skipped != 1 || f.del.count() != 0 {
		t.Fatalf("report = %+v err=%v deliveries=%d", rep, err, f.del.count())
	}
}

func TestConcurrentUserWriteWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ob := f.add(t, nil)
	f.del.before = func(ctx context.Context, cur storage.Obligation) error {
		// The user marks it done while the nag is in flight.
		done := cur.Clone()
		done.Status = storage.StatusDone
		done.NextFireAt = nil
		return f.store.SaveObligation(ctx, done)
	}

	rep, _ := f.d.RunCycle(context.Background(), testNow)
	if rep.Skipped != 1 || rep.Fired != 0 {
		t.Fatalf("report = %+v", rep)
	}
	got := f.get(t, ob.ID)
	if got.Status != storage.StatusDone || got.NagCount != 0 || got.NextFireAt != nil {
		t.Fatalf("user write lost: %+v", got)
	}
	if hist, _ := f.store.Firings(context.Background(), ob.ID, 10); len(hist) != 0 {
		t.Fatalf("history = %+v", hist)
	}
}

func TestMissingUserSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	f.add(t, func(ob *storage.Obligation) { ob.UserID = 999 })
	rep, _ := f.d.RunCycle(context.Background(), testNow)
	if rep.Skipped != 1 || f.del.count() != 0 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestPanicIsolatedToItem(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	bad := f.add(t, func(ob *storage.Obligation) { ob.Title = "boom" })
	good := f.add(t, func(ob *storage.Obligation) { ob.NextFireAt = storage.TimePtr(testNow.Add(-time.Second)) })
	f.del.before = func(_ context.Context, ob storage.Obligation) error {
		if ob.ID == bad.ID {
			panic("renderer exploded")
		}
		return nil
	}

	rep, err := f.d.RunCycle(context.Background(), testNow)
	if err != nil || rep.Fired != 1 || rep.Failed != 1 {
		t.Fatalf("report = %+v err=%v", rep, err)
	}
	if got := f.get(t, good.ID); got.NagCount != 1 {
		t.Fatalf("good obligation not fired: %+v", got)
	}
	if got := f.get(t, bad.ID); got.NagCount != 0 {
		t.Fatalf("bad obligation advanced: %+v", got)
	}
}

func TestDeliveryTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{DeliveryTimeout: 20 * time.Millisecond})
	f.add(t, nil)
	f.del.before = func(ctx context.Context, _ storage.Obligation) error {
		<-ctx.Done()
		return ctx.Err()
	}
	rep, _ := f.d.RunCycle(context.Background(), testNow)
	if rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestWorkerPoolFiresAll(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{Workers: 4})
	for i := 0; i < 12; i++ {
		f.add(t, nil)
	}
	rep, _ := f.d.RunCycle(context.Background(), testNow)
	if rep.Due != 12 || rep.Fired != 12 || f.del.count() != 12 {
		t.Fatalf("report = %+v deliveries=%d", rep, f.del.count())
	}
	if n := f.d.locks.size(); n != 0 {
		t.Fatalf("keyed locks leaked: %d", n)
	}
}

func TestRecoverOnStartupPrimesOverdue(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	missed := f.add(t, func(ob *storage.Obligation) { ob.NextFireAt = storage.TimePtr(testNow.Add(-3 * time.Hour)) })
	snoozed := f.add(t, func(ob *storage.Obligation) {
		ob.Status = storage.StatusSnoozed
		ob.SnoozedUntil = storage.TimePtr(testNow.Add(-time.Hour))
		ob.NextFireAt = ob.SnoozedUntil
	})
	future := f.add(t, func(ob *storage.Obligation) { ob.NextFireAt = storage.TimePtr(testNow.Add(time.Hour)) })
	done := f.add(t, func(ob *storage.Obligation) {
		ob.Status = storage.StatusDone
		ob.NextFireAt = storage.TimePtr(testNow.Add(-time.Hour))
	})

	n, err := f.d.RecoverOnStartup(context.Background(), testNow)
	if err != nil || n != 2 {
		t.Fatalf("RecoverOnStartup = %d, %v; want 2", n, err)
	}
	if f.del.count() != 0 {
		t.Fatal("recovery must not deliver")
	}
	if got := f.get(t, missed.ID); !got.NextFireAt.Equal(testNow) {
		t.Fatalf("missed next = %v", got.NextFireAt)
	}
	if got := f.get(t, snoozed.ID); !got.NextFireAt.Equal(testNow) || !got.SnoozedUntil.Equal(testNow) {
		t.Fatalf("snoozed = %+v", got)
	}
	if got := f.get(t, future.ID); !got.NextFireAt.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("future moved: %v", got.NextFireAt)
	}
	if got := f.get(t, done.ID); !got.NextFireAt.Equal(testNow.Add(-time.Hour)) {
		t.Fatalf("done moved: %v", got.NextFireAt)
	}
}

func TestEventsAndPrune(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	events, unsub := f.bus.Subscribe(8)
	defer unsub()
	ob := f.add(t, nil)

	if _, err := f.d.RunCycle(context.Background(), testNow); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	fired := <-events
	if fired.Type != EventNagFired || fired.Data.(NagEvent).Seq != 1 {
		t.Fatalf("event = %+v", fired)
	}
	cycle := <-events
	if cycle.Type != EventCycleDone || cycle.Data.(CycleReport).Fired != 1 {
		t.Fatalf("event = %+v", cycle)
	}

	n, err := f.d.Prune(context.Background(), testNow.Add(48*time.Hour), 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	if hist, _ := f.store.Firings(context.Background(), ob.ID, 10); len(hist) != 0 {
		t.Fatalf("history = %+v", hist)
	}
	if n, _ := f.d.Prune(context.Background(), testNow, 0); n != 0 {
		t.Fatal("zero retention must not prune")
	}
}

func TestKeyedMutexSerializes(t *testing.T) {
	t.Parallel()
	k := NewKeyedMutex()
	unlock := k.Lock(7)
	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		u := k.Lock(7)
		close(acquired)
		u()
		close(released)
	}()
	select {
	case <-acquired:
		t.Fatal("second Lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	other := k.Lock(8)
	other()
	unlock()
	<-released
	if k.size() != 0 {
		t.Fatalf("size = %d", k.size())
	}
}
