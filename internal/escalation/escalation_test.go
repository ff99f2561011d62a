package escalation

import (
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCatalogLookup(t *testing.T) {
	t.Parallel()
	c := MustCatalog()

	std, ok := c.Lookup("standard")
	if !ok || len(std.Tiers) != 5 {
		t.Fatalf("standard: ok=%v tiers=%d", ok, len(std.Tiers))
	}
	if std.Tiers[0].Name != "gentle" || std.Tiers[4].Name != "overdue" {
		t.Fatalf("unexpected standard order: %+v", std.Tiers)
	}
	if g, _ := c.Lookup("GENTLE"); len(g.Tiers) != 4 {
		t.Fatalf("gentle tiers = %d, want 4", len(g.Tiers))
	}

	unk, ok := c.Lookup("nope")
	if ok {
		t.Fatal("unknown profile reported as found")
	}
	if unk.Name != "standard" {
		t.Fatalf("fallback = %q, want standard", unk.Name)
	}
}

func TestCatalogLookupReturnsCopy(t *testing.T) {
	t.Parallel()
	c := MustCatalog()
	p, _ := c.Lookup("standard")
	p.Tiers[0].Interval = 1

	again, _ := c.Lookup("standard")
	if again.Tiers[0].Interval != 1440 {
		t.Fatalf("catalog mutated through lookup: %d", again.Tiers[0].Interval)
	}
}

func TestNewCatalogExtraProfiles(t *testing.T) {
	t.Parallel()
	extra := Profile{Name: "Bills", Tiers: []Tier{
		{Name: "heads_up", Threshold: 5, Interval: 720},
		{Name: "late", Threshold: -1, Interval: 60},
	}}
	c, err := NewCatalog("bills", extra)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if c.Default() != "bills" || !c.Has("bills") || !c.Has("standard") {
		t.Fatalf("unexpected catalog: default=%s names=%v", c.Default(), c.Names())
	}

	if _, err := NewCatalog("missing"); err == nil {
		t.Fatal("expected error for unknown default")
	}
	bad := Profile{Name: "bad", Tiers: []Tier{{Name: "x", Threshold: 1, Interval: 0}}}
	if _, err := NewCatalog("", bad); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestResolveStandard(t *testing.T) {
	t.Parallel()
	std, _ := MustCatalog().Lookup("standard")
	tests := []struct {
		name string
		due  time.Time
		want string
		idx  int
	}{
		{"far future", base.Add(30 * 24 * time.Hour), "gentle", 0},
		{"exactly seven days", base.Add(7 * 24 * time.Hour), "gentle", 0},
		{"five days", base.Add(5 * 24 * time.Hour), "gentle", 0},
		{"three days", base.Add(3 * 24 * time.Hour), "moderate", 1},
		{"two days", base.Add(2 * 24 * time.Hour), "moderate", 1},
		{"twelve hours", base.Add(12 * time.Hour), "urgent", 2},
		{"thirty minutes", base.Add(30 * time.Minute), "critical", 3},
		{"due now", base, "critical", 3},
		{"one hour overdue", base.Add(-time.Hour), "overdue", 4},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, idx := Resolve(tt.due, std, base)
			if got.Name != tt.want || idx != tt.idx {
				t.Fatalf("Resolve = %s/%d, want %s/%d", got.Name, idx, tt.want, tt.idx)
			}
		})
	}
}

func TestResolveOverdueUsesMostNegative(t *testing.T) {
	t.Parallel()
	p := Profile{Name: "odd", Tiers: []Tier{
		{Name: "late", Threshold: -1, Interval: 60},
		{Name: "soon", Threshold: 2, Interval: 120},
		{Name: "very_late", Threshold: -30, Interval: 10},
	}}
	got, idx := Resolve(base.Add(-time.Minute), p, base)
	if got.Name != "very_late" || idx != 2 {
		t.Fatalf("Resolve = %s/%d, want very_late/2", got.Name, idx)
	}

	// Negative tiers are unreachable while not yet due.
	got, _ = Resolve(base.Add(time.Hour), p, base)
	if got.Threshold < 0 {
		t.Fatalf("overdue tier %s reached before due", got.Name)
	}
}

func TestResolveOverdueWithoutNegativeTier(t *testing.T) {
	t.Parallel()
	p := Profile{Name: "plain", Tiers: []Tier{
		{Name: "a", Threshold: 3, Interval: 60},
		{Name: "b", Threshold: 1, Interval: 30},
	}}
	got, idx := Resolve(base.Add(-time.Hour), p, base)
	if got.Name != "b" || idx != 1 {
		t.Fatalf("Resolve = %s/%d, want b/1", got.Name, idx)
	}
}

// The resolved tier is the tightest threshold already crossed.
func TestResolveTightestCrossedThreshold(t *testing.T) {
	t.Parallel()
	c := MustCatalog()
	for _, name := range c.Names() {
		p, _ := c.Lookup(name)
		for h := 0; h < 24*20; h += 5 {
			due := base.Add(time.Duration(h) * time.Hour)
			days := DaysUntil(due, base)
			got, _ := Resolve(due, p, base)

			best := -1.0
			for _, tr := range p.Tiers {
				if tr.Threshold >= 0 && tr.Threshold >= days && (best < 0 || tr.Threshold < best) {
					best = tr.Threshold
				}
			}
			if best < 0 {
				if got.Name != p.Tiers[0].Name {
					t.Fatalf("%s +%dh: got %s, want first tier", name, h, got.Name)
				}
				continue
			}
			if got.Threshold != best {
				t.Fatalf("%s +%dh: got threshold %v, want %v", name, h, got.Threshold, best)
			}
		}
	}
}

func TestTierTriggerAt(t *testing.T) {
	t.Parallel()
	due := base.Add(10 * 24 * time.Hour)
	tr := Tier{Name: "gentle", Threshold: 7, Interval: 1440}
	if got := tr.TriggerAt(due); !got.Equal(base.Add(3 * 24 * time.Hour)) {
		t.Fatalf("TriggerAt = %v", got)
	}
	if tr.Every() != 24*time.Hour {
		t.Fatalf("Every = %v", tr.Every())
	}
}
