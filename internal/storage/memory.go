package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a non-persistent Store. Values are copied on every read and
// write, so callers never share state with the store.
type Memory struct {
	mu sync.Mutex

	now func() time.Time

	nextUser int64
	nextOb   int64
	nextRec  int64

	users   map[int64]User
	chats   map[int64]int64 // chat id -> user id
	obs     map[int64]Obligation
	firings []FiringRecord
	snoozes []SnoozeRecord

	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		now:   time.Now,
		users: map[int64]User{},
		chats: map[int64]int64{},
		obs:   map[int64]Obligation{},
	}
}

func (m *Memory) CreateUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return User{}, ErrClosed
	}
	if _, ok := m.chats[u.ChatID]; ok {
		return User{}, ErrConflict
	}
	m.nextUser++
	u.ID = m.nextUser
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	u.CreatedAt = u.CreatedAt.UTC()
	m.users[u.ID] = u
	m.chats[u.ChatID] = u.ID
	return u, nil
}

func (m *Memory) User(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) UserByChat(_ context.Context, chatID int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.chats[chatID]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.users[id], nil
}

func (m *Memory) SaveUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Timezone, cur.QuietStart, cur.QuietEnd, cur.Profile = u.Timezone, u.QuietStart, u.QuietEnd, u.Profile
	m.users[u.ID] = cur
	return nil
}

func (m *Memory) CreateObligation(_ context.Context, ob Obligation) (Obligation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Obligation{}, ErrClosed
	}
	now := m.now().UTC()
	m.nextOb++
	ob = normalize(ob.Clone())
	ob.ID = m.nextOb
	if ob.CreatedAt.IsZero() {
		ob.CreatedAt = now
	}
	ob.UpdatedAt = now
	ob.Revision = 0
	m.obs[ob.ID] = ob
	return ob.Clone(), nil
}

func (m *Memory) Obligation(_ context.Context, id int64) (Obligation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ob, ok := m.obs[id]
	if !ok {
		return Obligation{}, ErrNotFound
	}
	return ob.Clone(), nil
}

func (m *Memory) ListObligations(_ context.Context, userID int64, statuses ...Status) ([]Obligation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Obligation
	for _, ob := range m.obs {
		if ob.UserID != userID || !statusIn(ob.Status, statuses) {
			continue
		}
		out = append(out, ob.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) SaveObligation(_ context.Context, ob Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(ob)
}

func (m *Memory) saveLocked(ob Obligation) error {
	cur, ok := m.obs[ob.ID]
	if !ok {
		return ErrNotFound
	}
	ob = normalize(ob.Clone())
	ob.UserID = cur.UserID
	ob.CreatedAt = cur.CreatedAt
	ob.Revision = cur.Revision + 1
	ob.UpdatedAt = m.now().UTC()
	m.obs[ob.ID] = ob
	return nil
}

func (m *Memory) DeleteObligation(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.obs[id]; !ok {
		return ErrNotFound
	}
	delete(m.obs, id)
	firings := m.firings[:0]
	for _, r := range m.firings {
		if r.ObligationID != id {
			firings = append(firings, r)
		}
	}
	m.firings = firings
	snoozes := m.snoozes[:0]
	for _, r := range m.snoozes {
		if r.ObligationID != id {
			snoozes = append(snoozes, r)
		}
	}
	m.snoozes = snoozes
	return nil
}

func (m *Memory) DueObligations(_ context.Context, now time.Time) ([]Obligation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	cut := millis(now)
	var out []Obligation
	for _, ob := range m.obs {
		if !ob.Status.Schedulable() || ob.NextFireAt == nil || millis(*ob.NextFireAt) > cut {
			continue
		}
		out = append(out, ob.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := *out[i].NextFireAt, *out[j].NextFireAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) RecordFiring(_ context.Context, ob Obligation, rec FiringRecord, expectedNagCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.obs[ob.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.NagCount != expectedNagCount || cur.Revision != ob.Revision {
		return ErrConflict
	}
	if err := m.saveLocked(ob); err != nil {
		return err
	}
	m.nextRec++
	rec.ID = m.nextRec
	rec.ObligationID = ob.ID
	rec.FiredAt = rec.FiredAt.UTC()
	m.firings = append(m.firings, rec)
	return nil
}

func (m *Memory) Firings(_ context.Context, obligationID int64, limit int) ([]FiringRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []FiringRecord
	for i := len(m.firings) - 1; i >= 0 && len(out) < limit; i-- {
		if m.firings[i].ObligationID == obligationID {
			out = append(out, m.firings[i])
		}
	}
	return out, nil
}

func (m *Memory) PruneFirings(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	kept := m.firings[:0]
	for _, r := range m.firings {
		if r.FiredAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.firings = kept
	return n, nil
}

func (m *Memory) RecordSnooze(_ context.Context, ob Obligation, rec SnoozeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveLocked(ob); err != nil {
		return err
	}
	rec.ObligationID = ob.ID
	rec.SnoozedAt = rec.SnoozedAt.UTC()
	m.snoozes = append(m.snoozes, rec)
	return nil
}

func (m *Memory) SnoozeTotals(_ context.Context, userID int64) (SnoozeTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var t SnoozeTotals
	for _, r := range m.snoozes {
		ob, ok := m.obs[r.ObligationID]
		if !ok || ob.UserID != userID {
			continue
		}
		t.Count++
		t.Minutes += int64(r.Minutes)
	}
	return t, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// normalize truncates instants to the millisecond UTC precision sqlite keeps,
// so both drivers return identical values.
func normalize(ob Obligation) Obligation {
	ob.DueAt = fromMillis(millis(ob.DueAt))
	for _, p := range []*time.Time{ob.NextFireAt, ob.LastFiredAt, ob.SnoozedUntil} {
		if p != nil {
			*p = fromMillis(millis(*p))
		}
	}
	return ob
}

func statusIn(s Status, set []Status) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
