package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadyFunc reports why a component cannot serve, or nil when it can.
type ReadyFunc func() error

type healthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Server exposes the Prometheus registry on /metrics and the readiness of
// the process components on /health.
type Server struct {
	httpServer *http.Server

	mu     sync.RWMutex
	names  []string
	checks map[string]ReadyFunc
}

func NewServer(addr string) *Server {
	s := &Server{checks: make(map[string]ReadyFunc)}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.health)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// AddCheck registers a component whose readiness /health reports. A
// second check under the same name replaces the first.
func (s *Server) AddCheck(name string, ready ReadyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.checks[name]; !ok {
		s.names = append(s.names, name)
	}
	s.checks[name] = ready
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	names := slices.Clone(s.names)
	checks := make([]ReadyFunc, len(names))
	for i, name := range names {
		checks[i] = s.checks[name]
	}
	s.mu.RUnlock()

	report := healthReport{Status: "ready", Components: make(map[string]string, len(names))}
	code := http.StatusOK
	for i, name := range names {
		if err := checks[i](); err != nil {
			report.Components[name] = err.Error()
			report.Status = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		report.Components[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		slog.Warn("write health report", "error", err)
	}
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() {
	slog.Info("metrics server starting", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown error", "error", err)
	}
	slog.Info("metrics server stopped")
}
