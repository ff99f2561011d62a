package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerWithFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := standalone(&buf, parseLevel("info", zerolog.DebugLevel)).With(String("comp", "engine"))

	log.Debug("hidden")
	log.Info("cycle done", Int("fired", 3), Err(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["comp"] != "engine" || m["message"] != "cycle done" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["fired"].(float64) != 3 {
		t.Fatalf("fired = %v, want 3", m["fired"])
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v, want this file", m["caller"])
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("no panic")
	if Nop().IsZero() {
		t.Fatal("Nop logger must not be zero")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel accepted an unknown level")
	}
}

func TestFormatAlertJSONSortsKeys(t *testing.T) {
	t.Parallel()
	got := formatAlertJSON([]byte(`{"level":"error","message":"deliver failed","zeta":1,"alpha":"x","time":"t"}`))
	want := "[ERROR] deliver failed\n- alpha=x\n- zeta=1"
	if got != want {
		t.Fatalf("formatAlertJSON = %q, want %q", got, want)
	}
}

type captureSender struct{ ch chan string }

func (c *captureSender) SendAlert(_ context.Context, _ int64, text string) error {
	c.ch <- text
	return nil
}

func TestServiceAlertSink(t *testing.T) {
	snd := &captureSender{ch: make(chan string, 4)}
	svc, log := New(Config{
		Level: "debug",
		Alert: AlertConfig{Enabled: true, ChatID: 42, MinLevel: "error", RatePerSec: 5},
	}, snd)
	defer svc.Close()

	log.Warn("below threshold")
	log.Error("store down", String("op", "persist"))

	got := <-snd.ch
	if !strings.HasPrefix(got, "[ERROR] store down") {
		t.Fatalf("unexpected alert text: %q", got)
	}
	select {
	case extra := <-snd.ch:
		t.Fatalf("unexpected extra alert: %q", extra)
	default:
	}
}
