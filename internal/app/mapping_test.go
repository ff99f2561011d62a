package app

import (
	"strings"
	"testing"
	"time"

	"github.com/BuildWithDuke/bugsbugger/internal/config"
	"github.com/BuildWithDuke/bugsbugger/internal/engine"
	"github.com/BuildWithDuke/bugsbugger/internal/quiet"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "1:x"},
		Storage:  config.StorageConfig{Driver: "memory"},
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{name: "memory", in: config.StorageConfig{Driver: "Memory"}, driver: "memory"},
		{name: "sqlite default busy", in: config.StorageConfig{Driver: "sqlite3", Path: "a.db"}, driver: "sqlite", busy: time.Second},
		{name: "empty is sqlite", in: config.StorageConfig{Path: "a.db", BusyTimeout: "5s"}, driver: "sqlite", busy: 5 * time.Second},
		{name: "sqlite needs path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", in: config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			cfg.Storage = tt.in
			got, err := mapStorageConfig(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("mapStorageConfig(%+v) = %+v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("mapStorageConfig: %v", err)
			}
			if got.Driver != tt.driver || got.BusyTimeout != tt.busy {
				t.Fatalf("got %+v, want driver %s busy %v", got, tt.driver, tt.busy)
			}
		})
	}
}

func TestMapCatalogOverlaysProfiles(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Engine.DefaultProfile = "Lazy"
	cfg.Escalation.Profiles = map[string][]config.TierConfig{
		"lazy": {{Name: "someday", ThresholdDays: 3, IntervalMinutes: 600}, {Name: "overdue", ThresholdDays: -999, IntervalMinutes: 120}},
	}
	cat, err := mapCatalog(cfg)
	if err != nil {
		t.Fatalf("mapCatalog: %v", err)
	}
	if cat.Default() != "lazy" || !cat.Has("standard") {
		t.Fatalf("default = %q names = %v", cat.Default(), cat.Names())
	}
	p, ok := cat.Lookup("lazy")
	if !ok || len(p.Tiers) != 2 || p.Tiers[0].Interval != 600 {
		t.Fatalf("lazy = %+v", p)
	}

	cfg.Engine.DefaultProfile = "missing"
	if _, err := mapCatalog(cfg); err == nil {
		t.Fatal("unknown default profile accepted")
	}
}

func TestDispatchSettings(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	if _, d, _ := dispatchSettings(cfg); d != engine.DefaultDeliveryTimeout {
		t.Fatalf("omitted timeout = %v", d)
	}
	cfg.Engine.DeliveryTimeout = "0s"
	if _, d, _ := dispatchSettings(cfg); d != 0 {
		t.Fatalf("explicit 0s = %v, want disabled", d)
	}
}

func TestMapRunnerConfig(t *testing.T) {
	t.Parallel()
	locs := quiet.NewLocations(4)
	cfg := baseConfig()
	cfg.Defaults.Timezone = "Europe/Berlin"
	rc, err := mapRunnerConfig(cfg, locs)
	if err != nil {
		t.Fatalf("mapRunnerConfig: %v", err)
	}
	if rc.PollInterval != engine.DefaultPollInterval || rc.HistoryRetention != defaultHistoryRetention || rc.Location.String() != "Europe/Berlin" {
		t.Fatalf("defaults = %+v", rc)
	}

	cfg.Engine.HistoryRetention = "0s"
	cfg.Engine.PollInterval = "30s"
	if rc, _ = mapRunnerConfig(cfg, locs); rc.HistoryRetention != 0 || rc.PollInterval != 30*time.Second {
		t.Fatalf("overrides = %+v", rc)
	}

	cfg.Engine.PruneSchedule = "every night"
	if _, err := mapRunnerConfig(cfg, locs); err == nil || !strings.Contains(err.Error(), "engine.prune_schedule") {
		t.Fatalf("bad cron err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := map[string]func(c *config.Config){
		"bad timezone":     func(c *config.Config) { c.Defaults.Timezone = "Mars/Olympus" },
		"bad quiet":        func(c *config.Config) { c.Defaults.QuietStart = "25:00" },
		"bad profile":      func(c *config.Config) { c.Engine.DefaultProfile = "nope" },
		"bad prune":        func(c *config.Config) { c.Engine.PruneSchedule = "x" },
		"zero tier period": func(c *config.Config) { c.Escalation.Profiles = map[string][]config.TierConfig{"z": {{Name: "a"}}} },
	}
	if err := validate(baseConfig()); err != nil {
		t.Fatalf("base config rejected: %v", err)
	}
	for name, mutate := range tests {
		cfg := baseConfig()
		mutate(cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: accepted", name)
		}
	}
}

func TestScheduleChanged(t *testing.T) {
	t.Parallel()
	a := engine.RunnerConfig{PollInterval: time.Minute, Location: time.UTC}
	b := a
	b.StartupDelay = time.Hour
	if scheduleChanged(a, b) {
		t.Fatal("startup delay alone should not restart the heartbeat")
	}
	b.PollInterval = 2 * time.Minute
	if !scheduleChanged(a, b) {
		t.Fatal("poll interval change not detected")
	}
}

func TestMapAdapterConfigBoundsRequests(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Engine.DeliveryTimeout = "7s"
	ac, err := mapAdapterConfig(cfg)
	if err != nil {
		t.Fatalf("mapAdapterConfig: %v", err)
	}
	if ac.RequestTimeout != 7*time.Second || ac.PollTimeout != defaultPollTimeout {
		t.Fatalf("adapter config = %+v", ac)
	}
}
