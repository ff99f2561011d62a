package escalation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultProfile is used when an obligation names a profile the catalog does not know.
const DefaultProfile = "standard"

// Tier is one urgency level of a profile.
//
// Threshold is the signed distance-to-due in days at which the tier becomes
// active. Negative thresholds mark overdue tiers.
type Tier struct {
	Name      string
	Threshold float64
	Interval  int // minutes between firings
}

// Profile is an ordered list of tiers from least to most urgent.
type Profile struct {
	Name  string
	Tiers []Tier
}

// Validate checks a profile can be resolved against.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("profile name required")
	}
	if len(p.Tiers) == 0 {
		return fmt.Errorf("profile %q: at least one tier required", p.Name)
	}
	for i, t := range p.Tiers {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("profile %q: tier %d: name required", p.Name, i)
		}
		if t.Interval <= 0 {
			return fmt.Errorf("profile %q: tier %q: interval must be > 0", p.Name, t.Name)
		}
	}
	return nil
}

// Catalog is an immutable registry of named profiles.
// Build it once and share it; lookups return copies.
type Catalog struct {
	profiles map[string]Profile
	def      string
}

// Builtin returns the profiles the bot ships with.
func Builtin() []Profile {
	return []Profile{
		{Name: "standard", Tiers: []Tier{
			{Name: "gentle", Threshold: 7, Interval: 1440},
			{Name: "moderate", Threshold: 3, Interval: 720},
			{Name: "urgent", Threshold: 1, Interval: 120},
			{Name: "critical", Threshold: 0.042, Interval: 30},
			{Name: "overdue", Threshold: -999, Interval: 15},
		}},
		{Name: "gentle", Tiers: []Tier{
			{Name: "reminder", Threshold: 7, Interval: 2880},
			{Name: "approaching", Threshold: 2, Interval: 1440},
			{Name: "due_soon", Threshold: 1, Interval: 360},
			{Name: "overdue", Threshold: -999, Interval: 180},
		}},
		{Name: "aggressive", Tiers: []Tier{
			{Name: "early", Threshold: 14, Interval: 1440},
			{Name: "moderate", Threshold: 7, Interval: 480},
			{Name: "urgent", Threshold: 3, Interval: 120},
			{Name: "critical", Threshold: 1, Interval: 30},
			{Name: "overdue", Threshold: -999, Interval: 10},
		}},
	}
}

// NewCatalog builds a catalog from the built-in profiles plus extra.
// An extra profile with a built-in name replaces it. def names the fallback
// profile and must exist; empty means DefaultProfile.
func NewCatalog(def string, extra ...Profile) (*Catalog, error) {
	c := &Catalog{profiles: map[string]Profile{}}
	for _, p := range Builtin() {
		c.profiles[p.Name] = p
	}
	for _, p := range extra {
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		if err := p.Validate(); err != nil {
			return nil, err
		}
		p.Tiers = append([]Tier(nil), p.Tiers...)
		c.profiles[p.Name] = p
	}
	def = strings.ToLower(strings.TrimSpace(def))
	if def == "" {
		def = DefaultProfile
	}
	if _, ok := c.profiles[def]; !ok {
		return nil, fmt.Errorf("default profile %q is not defined", def)
	}
	c.def = def
	return c, nil
}

// MustCatalog is NewCatalog with only built-ins; it cannot fail.
func MustCatalog() *Catalog {
	c, err := NewCatalog(DefaultProfile)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the named profile. ok is false for unknown names, in which
// case the default profile is returned.
func (c *Catalog) Lookup(name string) (Profile, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if p, ok := c.profiles[key]; ok {
		return copyProfile(p), true
	}
	return copyProfile(c.profiles[c.def]), false
}

// Has reports whether name is a known profile.
func (c *Catalog) Has(name string) bool {
	_, ok := c.profiles[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Default returns the fallback profile name.
func (c *Catalog) Default() string { return c.def }

// Names lists profile names, sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.profiles))
	for n := range c.profiles {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func copyProfile(p Profile) Profile {
	p.Tiers = append([]Tier(nil), p.Tiers...)
	return p
}
