package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BuildWithDuke/bugsbugger/internal/escalation"
	"github.com/BuildWithDuke/bugsbugger/internal/eventbus"
	"github.com/BuildWithDuke/bugsbugger/internal/storage"
	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

// Store is the part of storage.Store the dispatcher needs.
type Store interface {
	DueObligations(ctx context.Context, now time.Time) ([]storage.Obligation, error)
	Obligation(ctx context.Context, id int64) (storage.Obligation, error)
	User(ctx context.Context, id int64) (storage.User, error)
	SaveObligation(ctx context.Context, ob storage.Obligation) error
	RecordFiring(ctx context.Context, ob storage.Obligation, rec storage.FiringRecord, expectedNagCount int) error
	PruneFirings(ctx context.Context, before time.Time) (int64, error)
}

// Receipt identifies a delivered message.
type Receipt struct {
	ChatID    int64
	MessageID int
}

// Deliverer sends one nag. Errors are reported as *TransportError.
type Deliverer interface {
	Deliver(ctx context.Context, u storage.User, ob storage.Obligation, msg string, tier escalation.Tier) (Receipt, error)
}

// Renderer builds the nag text.
type Renderer interface {
	Nag(ob storage.Obligation, u storage.User, tier escalation.Tier, now time.Time) string
}

type RendererFunc func(ob storage.Obligation, u storage.User, tier escalation.Tier, now time.Time) string

func (f RendererFunc) Nag(ob storage.Obligation, u storage.User, tier escalation.Tier, now time.Time) string {
	return f(ob, u, tier, now)
}

// CycleReport summarizes one RunCycle.
type CycleReport struct {
	CycleID string
	At      time.Time
	Due     int
	Fired   int
	Failed  int
	Skipped int
	Took    time.Duration
}

type Options struct {
	// Workers > 1 delivers concurrently. 0 or 1 is sequential.
	Workers int
	// DeliveryTimeout bounds one Deliver call. 0 disables.
	DeliveryTimeout time.Duration
	Renderer        Renderer
	Bus             eventbus.Bus
	Locks           *KeyedMutex
}

const DefaultDeliveryTimeout = 30 * time.Second

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeFired
	outcomeFailed
)

// Dispatcher fires due obligations and advances their state.
type Dispatcher struct {
	store   Store
	deliver Deliverer
	policy  *Policy
	render  Renderer
	bus     eventbus.Bus
	locks   *KeyedMutex
	log     logx.Logger

	workers atomic.Int64
	timeout atomic.Int64 // nanoseconds
}

func NewDispatcher(store Store, deliver Deliverer, policy *Policy, log logx.Logger, opt Options) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("engine: store is required")
	}
	if deliver == nil {
		return nil, errors.New("engine: deliverer is required")
	}
	if policy == nil {
		return nil, errors.New("engine: policy is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Renderer == nil {
		opt.Renderer = RendererFunc(func(ob storage.Obligation, _ storage.User, tier escalation.Tier, _ time.Time) string {
			return fmt.Sprintf("[%s] %s", tier.Name, ob.Title)
		})
	}
	if opt.Locks == nil {
		opt.Locks = NewKeyedMutex()
	}
	d := &Dispatcher{
		store:   store,
		deliver: deliver,
		policy:  policy,
		render:  opt.Renderer,
		bus:     opt.Bus,
		locks:   opt.Locks,
		log:     log.With(logx.String("comp", "engine.dispatcher")),
	}
	d.Configure(opt.Workers, opt.DeliveryTimeout)
	return d, nil
}

// Configure updates concurrency and timeout. Safe while cycles run.
func (d *Dispatcher) Configure(workers int, deliveryTimeout time.Duration) {
	if workers < 1 {
		workers = 1
	}
	if deliveryTimeout < 0 {
		deliveryTimeout = 0
	}
	d.workers.Store(int64(workers))
	d.timeout.Store(int64(deliveryTimeout))
}

func (d *Dispatcher) Policy() *Policy { return d.policy }

// RunCycle fires every obligation due at now. Per-item failures are counted,
// never returned; the error is non-nil only when the due query fails.
func (d *Dispatcher) RunCycle(ctx context.Context, now time.Time) (CycleReport, error) {
	return d.runCycle(ctx, now, "")
}

func (d *Dispatcher) runCycle(ctx context.Context, now time.Time, cycleID string) (CycleReport, error) {
	start := time.Now()
	now = now.UTC()
	rep := CycleReport{CycleID: cycleID, At: now}
	log := d.log
	if cycleID != "" {
		log = log.With(logx.String("cycle_id", cycleID))
	}

	due, err := d.store.DueObligations(ctx, now)
	if err != nil {
		return rep, &StorageError{Op: "due obligations", Err: err}
	}
	rep.Due = len(due)

	results := make([]outcome, len(due))
	workers := int(d.workers.Load())
	if workers <= 1 || len(due) <= 1 {
		for i, ob := range due {
			if ctx.Err() != nil {
				break
			}
			results[i] = d.fireOne(ctx, log, ob.ID, now)
		}
	} else {
		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup
		for i, ob := range due {
			if ctx.Err() != nil {
				break
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(i int, id int64) {
				defer wg.Done()
				defer func() { <-sem }()
				results[i] = d.fireOne(ctx, log, id, now)
			}(i, ob.ID)
		}
		wg.Wait()
	}

	for _, r := range results {
		switch r {
		case outcomeFired:
			rep.Fired++
		case outcomeFailed:
			rep.Failed++
		default:
			rep.Skipped++
		}
	}
	rep.Took = time.Since(start)

	if rep.Due > 0 {
		log.Info("cycle done",
			logx.Int("due", rep.Due), logx.Int("fired", rep.Fired),
			logx.Int("failed", rep.Failed), logx.Int("skipped", rep.Skipped),
			logx.Duration("took", rep.Took))
	} else {
		log.Debug("cycle done", logx.Duration("took", rep.Took))
	}
	d.publish(EventCycleDone, rep)
	return rep, nil
}

// fireOne handles one due obligation. Panics count as failures.
func (d *Dispatcher) fireOne(ctx context.Context, log logx.Logger, id int64, now time.Time) (res outcome) {
	log = log.With(logx.Int64("obligation", id))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while firing", logx.Any("panic", r))
			res = outcomeFailed
		}
	}()

	unlock := d.locks.Lock(id)
	defer unlock()

	// Re-read: the row may have changed since the due query.
	ob, err := d.store.Obligation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		log.Debug("obligation vanished")
		return outcomeSkipped
	}
	if err != nil {
		log.Error("read obligation failed", logx.Err(&StorageError{Op: "read obligation", Err: err}))
		return outcomeFailed
	}
	if !ob.Status.Schedulable() || ob.NextFireAt == nil || ob.NextFireAt.After(now) {
		log.Debug("obligation no longer due", logx.String("status", string(ob.Status)))
		return outcomeSkipped
	}

	u, err := d.store.User(ctx, ob.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("owner missing, skipping", logx.Int64("user", ob.UserID))
		return outcomeSkipped
	}
	if err != nil {
		log.Error("read user failed", logx.Err(&StorageError{Op: "read user", Err: err}))
		return outcomeFailed
	}

	expected := ob.NagCount
	next := ob.Clone()
	if next.Status == storage.StatusSnoozed {
		next.Status = storage.StatusActive
		next.SnoozedUntil = nil
	}

	tier, idx := d.policy.ResolveTier(next, now)
	msg := d.render.Nag(next, u, tier, now)

	rcpt, err := d.deliverWithTimeout(ctx, u, next, msg, tier)
	if err != nil {
		log.Warn("delivery failed, will retry", logx.String("tier", tier.Name), logx.Err(err))
		d.publish(EventNagFailed, NagEvent{ObligationID: id, UserID: u.ID, Tier: tier.Name, Err: err.Error()})
		return outcomeFailed
	}

	next.NagCount = expected + 1
	next.LastFiredAt = storage.TimePtr(now)
	next.NextFireAt = d.policy.ComputeNextFire(next, u, now)

	rec := storage.FiringRecord{
		ObligationID: id,
		FiredAt:      now,
		Tier:         tier.Name,
		Seq:          next.NagCount,
		MessageID:    rcpt.MessageID,
	}
	switch err := d.store.RecordFiring(ctx, next, rec, expected); {
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrNotFound):
		log.Info("obligation changed during delivery, state left as is", logx.Err(err))
		return outcomeSkipped
	case err != nil:
		log.Error("record firing failed", logx.Err(&StorageError{Op: "record firing", Err: err}))
		return outcomeFailed
	}

	log.Debug("nag fired",
		logx.String("tier", tier.Name), logx.Int("tier_index", idx),
		logx.Int("nag_count", next.NagCount), logx.Time("next_fire_at", derefTime(next.NextFireAt)))
	d.publish(EventNagFired, NagEvent{
		ObligationID: id, UserID: u.ID, Tier: tier.Name, Seq: next.NagCount, MessageID: rcpt.MessageID,
	})
	return outcomeFired
}

func (d *Dispatcher) deliverWithTimeout(ctx context.Context, u storage.User, ob storage.Obligation, msg string, tier escalation.Tier) (Receipt, error) {
	if to := time.Duration(d.timeout.Load()); to > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, to)
		defer cancel()
	}
	rcpt, err := d.deliver.Deliver(ctx, u, ob, msg, tier)
	if err != nil && !IsTransport(err) {
		err = &TransportError{ObligationID: ob.ID, Err: err}
	}
	return rcpt, err
}

// RecoverOnStartup moves every overdue next_fire_at to now so missed nags
// fire on the first cycle. It delivers nothing.
func (d *Dispatcher) RecoverOnStartup(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	due, err := d.store.DueObligations(ctx, now)
	if err != nil {
		return 0, &StorageError{Op: "due obligations", Err: err}
	}
	n := 0
	for _, cand := range due {
		if cand.NextFireAt == nil || !cand.NextFireAt.Before(now) {
			continue
		}
		ok, err := d.primeOne(ctx, cand.ID, now)
		if err != nil {
			d.log.Warn("startup recovery failed", logx.Int64("obligation", cand.ID), logx.Err(err))
			continue
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		d.log.Info("startup recovery", logx.Int("primed", n))
	}
	return n, nil
}

func (d *Dispatcher) primeOne(ctx context.Context, id int64, now time.Time) (bool, error) {
	unlock := d.locks.Lock(id)
	defer unlock()

	ob, err := d.store.Obligation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Op: "read obligation", Err: err}
	}
	if !ob.Status.Schedulable() || ob.NextFireAt == nil || !ob.NextFireAt.Before(now) {
		return false, nil
	}
	ob.NextFireAt = storage.TimePtr(now)
	if ob.Status == storage.StatusSnoozed {
		ob.SnoozedUntil = storage.TimePtr(now)
	}
	if err := d.store.SaveObligation(ctx, ob); err != nil {
		return false, &StorageError{Op: "save obligation", Err: err}
	}
	return true, nil
}

// Prune deletes firing records older than retention.
func (d *Dispatcher) Prune(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := d.store.PruneFirings(ctx, now.Add(-retention))
	if err != nil {
		return 0, &StorageError{Op: "prune firings", Err: err}
	}
	if n > 0 {
		d.log.Info("nag history pruned", logx.Int64("rows", n), logx.Duration("retention", retention))
	}
	return n, nil
}

func (d *Dispatcher) publish(typ string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
