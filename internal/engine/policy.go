package engine

import (
	"sync/atomic"
	"time"

	"github.com/BuildWithDuke/bugsbugger/internal/escalation"
	"github.com/BuildWithDuke/bugsbugger/internal/quiet"
	"github.com/BuildWithDuke/bugsbugger/internal/storage"
	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

// DefaultQuiet is used when a user's stored window does not parse.
var DefaultQuiet = quiet.Window{Start: quiet.Clock{Hour: 23}, End: quiet.Clock{Hour: 7}}

// Policy resolves tiers and computes next fire times. The catalog can be
// swapped at runtime; all other state is read-only.
type Policy struct {
	catalog atomic.Pointer[escalation.Catalog]
	locs    *quiet.Locations
	log     logx.Logger
}

func NewPolicy(cat *escalation.Catalog, locs *quiet.Locations, log logx.Logger) *Policy {
	if cat == nil {
		cat = escalation.MustCatalog()
	}
	if locs == nil {
		locs = quiet.NewLocations(64)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Policy{locs: locs, log: log.With(logx.String("comp", "engine.policy"))}
	p.catalog.Store(cat)
	return p
}

// SetCatalog replaces the profile registry.
func (p *Policy) SetCatalog(cat *escalation.Catalog) {
	if cat != nil {
		p.catalog.Store(cat)
	}
}

func (p *Policy) Catalog() *escalation.Catalog { return p.catalog.Load() }

func (p *Policy) Locations() *quiet.Locations { return p.locs }

// Profile returns the obligation's profile, falling back to the catalog
// default. err is a *ConfigurationError when the name is unknown.
func (p *Policy) Profile(name string) (escalation.Profile, error) {
	cat := p.catalog.Load()
	prof, ok := cat.Lookup(name)
	if ok || name == "" {
		return prof, nil
	}
	return prof, &ConfigurationError{Profile: name, Fallback: cat.Default()}
}

// ResolveTier returns the active tier of ob at now and its index.
func (p *Policy) ResolveTier(ob storage.Obligation, now time.Time) (escalation.Tier, int) {
	prof, err := p.Profile(ob.Profile)
	if err != nil {
		p.log.Warn("escalation profile fallback", logx.Int64("obligation", ob.ID), logx.Err(err))
	}
	return escalation.Resolve(ob.DueAt, prof, now)
}

// Zone returns the user's location and quiet window with fallbacks applied.
func (p *Policy) Zone(u storage.User) (*time.Location, quiet.Window) {
	loc, ok := p.locs.LoadOrUTC(u.Timezone)
	if !ok {
		p.log.Warn("unknown timezone, using UTC", logx.Int64("user", u.ID), logx.String("tz", u.Timezone))
	}
	w, err := quiet.ParseWindow(u.QuietStart, u.QuietEnd)
	if err != nil {
		p.log.Warn("invalid quiet window, using default", logx.Int64("user", u.ID), logx.Err(err))
		w = DefaultQuiet
	}
	return loc, w
}

// ShiftQuiet moves t out of the user's quiet window.
func (p *Policy) ShiftQuiet(t time.Time, u storage.User) time.Time {
	loc, w := p.Zone(u)
	return quiet.Shift(t, w, loc)
}

// ComputeNextFire returns when ob should next fire, or nil when it is not
// active. Equal inputs give equal outputs.
func (p *Policy) ComputeNextFire(ob storage.Obligation, u storage.User, now time.Time) *time.Time {
	if ob.Status != storage.StatusActive {
		return nil
	}
	tier, _ := p.ResolveTier(ob, now)

	var cand time.Time
	switch {
	case ob.LastFiredAt != nil:
		cand = ob.LastFiredAt.Add(tier.Every())
	case tier.Threshold < 0:
		cand = now
	default:
		cand = tier.TriggerAt(ob.DueAt)
		if cand.Before(now) {
			cand = now
		}
	}
	return storage.TimePtr(p.ShiftQuiet(cand, u))
}
