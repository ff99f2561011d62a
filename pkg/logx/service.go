package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultLogFile = "./bugsbugger.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alert   AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// AlertConfig forwards high-severity log lines to an operator chat.
type AlertConfig struct {
	Enabled    bool
	ChatID     int64
	MinLevel   string
	RatePerSec int
}

// AlertSender delivers a plain-text alert line. The Telegram adapter implements it.
type AlertSender interface {
	SendAlert(ctx context.Context, chatID int64, text string) error
}

// Service owns the log outputs. Apply rebuilds them in place, and
// every Logger obtained from the Service picks up the new root.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File

	alerts *alertSink
}

// New builds the service, applies cfg and returns it with its root Logger.
func New(cfg Config, sender AlertSender) (*Service, Logger) {
	setGlobals()
	s := &Service{}
	if sender != nil {
		s.alerts = newAlertSink(sender)
	}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Apply swaps outputs and levels. Safe for concurrent use with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}
	if w := s.reopenFile(cfg.File); w != nil {
		writers = append(writers, w)
	}
	if s.alerts != nil && cfg.Alert.Enabled {
		s.alerts.configure(cfg.Alert)
		writers = append(writers, s.alerts)
	}
	if len(writers) == 0 {
		writers = []io.Writer{newConsoleWriter(os.Stdout)}
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// reopenFile closes the previous file sink and opens the configured one.
// Failures go to stderr since there is no logger to report them to yet.
func (s *Service) reopenFile(fc FileConfig) io.Writer {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if !fc.Enabled {
		return nil
	}
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		return nil
	}
	s.file = f
	return zerolog.SyncWriter(f)
}

// Close stops the alert worker and closes the log file. Lines logged after
// Close still reach the console sink.
func (s *Service) Close() error {
	if s.alerts != nil {
		s.alerts.stop()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
