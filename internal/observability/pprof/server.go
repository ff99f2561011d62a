// Package pprof serves the optional operator HTTP endpoint: net/http/pprof
// under /debug/pprof/ and a /healthz liveness probe.
package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

type Config struct {
	Addr string
	// Token, when set, is required as "Authorization: Bearer <token>" or
	// ?token=. Binding a non-loopback address without one is refused.
	Token string
}

// Health is the /healthz body. A false OK answers 503.
type Health struct {
	OK        bool      `json:"ok"`
	LastCycle time.Time `json:"last_cycle"`
	Uptime    string    `json:"uptime"`
	Detail    string    `json:"detail,omitempty"`
}

type Server struct {
	cfg    Config
	log    logx.Logger
	health func() Health
}

func New(cfg Config, health func() Health, log logx.Logger) (*Server, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Token == "" && !IsLoopback(cfg.Addr) {
		return nil, errors.New("pprof: a token is required to bind non-loopback address " + cfg.Addr)
	}
	if health == nil {
		health = func() Health { return Health{OK: true} }
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log.With(logx.String("comp", "pprof")), health: health}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.auth(s.healthz))
	mux.HandleFunc("/debug/pprof/", s.auth(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", s.auth(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", s.auth(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", s.auth(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", s.auth(hpprof.Trace))
	return mux
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	h := s.health()
	w.Header().Set("Content-Type", "application/json")
	if !h.OK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(h)
}

func (s *Server) auth(h http.HandlerFunc) http.HandlerFunc {
	if s.cfg.Token == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if got != s.cfg.Token {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

// Run listens and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	s.log.Info("pprof listening", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// IsLoopback reports whether a host:port binds only to loopback.
func IsLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
