package quiet

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Locations caches time.LoadLocation results. Safe for concurrent use.
type Locations struct {
	cache *lru.Cache[string, *time.Location]
}

// NewLocations returns a cache holding up to size zones (minimum 8).
func NewLocations(size int) *Locations {
	if size < 8 {
		size = 8
	}
	c, err := lru.New[string, *time.Location](size)
	if err != nil {
		// only returned for size <= 0
		panic(err)
	}
	return &Locations{cache: c}
}

// Load resolves an IANA zone name. Empty resolves to UTC.
func (l *Locations) Load(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	if loc, ok := l.cache.Get(name); ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	l.cache.Add(name, loc)
	return loc, nil
}

// LoadOrUTC is Load that falls back to UTC. ok is false on fallback.
func (l *Locations) LoadOrUTC(name string) (*time.Location, bool) {
	loc, err := l.Load(name)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}
