// HTTP endpoint for Prometheus scraping
//
// Serves /metrics, /health, /ready and /status, optionally behind basic
// authentication:
//
//	server := metrics.NewServer(metrics.GlobalMetrics(), ":9100")
//	errCh := server.StartAsync()
//	defer server.Shutdown(context.Background())
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Server serves Prometheus metrics over HTTP
type Server struct {
	sm     *SnifferMetrics
	addr   string
	server *http.Server
	mux    *http.ServeMux

	username string
	password string
	ready    func() error

	mu        sync.RWMutex
	running   bool
	startTime time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	// Address to listen on, e.g. ":9100" or "127.0.0.1:9100"
	Address string

	// Optional basic auth credentials
	Username string
	Password string

	// Ready, when set, gates /ready on top of the server running. A
	// non-nil error is reported as the reason.
	Ready func() error

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns the default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":9100",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewServer creates a metrics server listening on addr
func NewServer(sm *SnifferMetrics, addr string) *Server {
	config := DefaultServerConfig()
	config.Address = addr
	return NewServerWithConfig(sm, config)
}

// NewServerWithConfig creates a metrics server with a custom config
func NewServerWithConfig(sm *SnifferMetrics, config ServerConfig) *Server {
	s := &Server{
		sm:       sm,
		addr:     config.Address,
		mux:      http.NewServeMux(),
		username: config.Username,
		password: config.Password,
		ready:    config.Ready,
	}
	s.mux.HandleFunc("/metrics", s.handleMetrics)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      s.mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// MetricsHandler returns a handler for the /metrics endpoint alone
func (s *Server) MetricsHandler() http.Handler {
	return http.HandlerFunc(s.handleMetrics)
}

// Start listens and serves until Shutdown is called
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.running = true
	s.startTime = time.Now()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	err := s.server.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine. The channel receives the
// serve error, if any, and is closed when the server stops.
func (s *Server) StartAsync() chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return s.server.Shutdown(ctx)
}

// IsRunning returns whether the server is serving
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the listen address; after Serve it is the bound address.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	output := s.sm.Gather()
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.Itoa(len(output)))
		return
	}
	_, _ = w.Write([]byte(output))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK\n"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if !s.IsRunning() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Not Ready\n"))
		return
	}
	if s.ready != nil {
		if err := s.ready(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "Not Ready: %v\n", err)
			return
		}
	}
	_, _ = w.Write([]byte("Ready\n"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Status())
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Logic Sniffer Metrics</title></head>
<body>
<h1>Logic Sniffer Metrics</h1>
<p><a href="/metrics">/metrics</a> Prometheus metrics</p>
<p><a href="/health">/health</a> health check</p>
<p><a href="/ready">/ready</a> readiness check</p>
<p><a href="/status">/status</a> server status</p>
</body>
</html>
`))
}

// checkAuth verifies basic auth if configured
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.username == "" && s.password == "" {
		return true
	}
	username, password, ok := r.BasicAuth()
	if ok {
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
		if userOK && passOK {
			return true
		}
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="Logic Sniffer Metrics"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

// Status returns server status for diagnostics
func (s *Server) Status() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := map[string]any{
		"address": s.addr,
		"running": s.running,
	}
	if s.running {
		status["uptime"] = time.Since(s.startTime).Seconds()
	}
	if s.ready != nil {
		status["ready"] = s.ready() == nil
	}
	return status
}
