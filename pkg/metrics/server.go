// HTTP endpoint for Prometheus scraping
//
// Serves /metrics, /health and /ready with optional basic auth. Readiness
// follows the server state and, when configured, the machine's own check.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"sync"
	"time"

	"gantry-go/pkg/errors"
	"gantry-go/pkg/log"
)

// Server serves machine metrics over HTTP.
type Server struct {
	mm     *MachineMetrics
	addr   string
	server *http.Server
	mux    *http.ServeMux
	ready  func() bool

	username string
	password string

	mu        sync.RWMutex
	running   bool
	startTime time.Time
	log       *log.Logger
}

// ServerConfig holds server settings.
type ServerConfig struct {
	Address  string
	Username string
	Password string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Ready, when set, must also report true for /ready to succeed.
	Ready func() bool
}

// DefaultServerConfig returns the defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":9100",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewServer creates a server on addr with default settings.
func NewServer(mm *MachineMetrics, addr string) *Server {
	cfg := DefaultServerConfig()
	cfg.Address = addr
	return NewServerWithConfig(mm, cfg)
}

// NewServerWithConfig creates a server.
func NewServerWithConfig(mm *MachineMetrics, cfg ServerConfig) *Server {
	s := &Server{
		mm:       mm,
		addr:     cfg.Address,
		mux:      http.NewServeMux(),
		ready:    cfg.Ready,
		username: cfg.Username,
		password: cfg.Password,
		log:      log.GetLogger("metrics"),
	}
	s.mux.HandleFunc("/metrics", s.handleMetrics)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	s.log.Info("metrics listening on %s", s.addr)
	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return errors.Wrap(err, errors.ErrRuntime, "metrics server")
	}
	return nil
}

// StartAsync runs Start in a goroutine. The channel yields a start failure
// and is closed when the server exits.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return s.server.Shutdown(ctx)
}

// IsRunning reports whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the listen address.
func (s *Server) Address() string { return s.addr }

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	output := s.mm.Gather()
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.Itoa(len(output)))
		return
	}
	_, _ = w.Write([]byte(output))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.running
	s.mu.RUnlock()
	if ready && s.ready != nil {
		ready = s.ready()
	}

	w.Header().Set("Content-Type", "text/plain")
	if ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready\n"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("Not Ready\n"))
}

const rootPage = `<!DOCTYPE html>
<html>
<head>
<title>Gantry Metrics</title>
<style>
body { font-family: sans-serif; margin: 40px; }
.endpoint { margin: 10px 0; }
</style>
</head>
<body>
<h1>Gantry Host Metrics</h1>
<div class="endpoint"><a href="/metrics">/metrics</a> - Prometheus metrics</div>
<div class="endpoint"><a href="/health">/health</a> - Health check</div>
<div class="endpoint"><a href="/ready">/ready</a> - Readiness check</div>
</body>
</html>`

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(rootPage))
}

func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.username == "" && s.password == "" {
		return true
	}
	username, password, ok := r.BasicAuth()
	if ok &&
		subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1 &&
		subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1 {
		return true
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="Gantry Metrics"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

// GetStatus returns server diagnostics.
func (s *Server) GetStatus() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := map[string]any{
		"address": s.addr,
		"running": s.running,
	}
	if s.running {
		status["uptime"] = time.Since(s.startTime).Seconds()
	}
	return status
}
