package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResponse is the body of GET /health
type HealthCheckResponse struct {
	Status        HealthStatus           `json:"status"`
	Timestamp     string                 `json:"timestamp"`
	ServerVersion string                 `json:"server_version"`
	GitCommit     string                 `json:"git_commit,omitempty"`
	BuildTime     string                 `json:"build_time,omitempty"`
	Uptime        string                 `json:"uptime"`
	Checks        map[string]HealthCheck `json:"checks"`
	System        SystemInfo             `json:"system"`
	RequestID     string                 `json:"request_id,omitempty"`
}

// HealthCheck represents an individual health check
type HealthCheck struct {
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked string       `json:"last_checked"`
	Duration    string       `json:"duration,omitempty"`
}

// SystemInfo contains runtime information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	NumCPU        int    `json:"num_cpu"`
	MemoryAlloc   uint64 `json:"memory_alloc_bytes"`
	GCCycles      uint32 `json:"gc_cycles"`
}

// Checker is implemented by prover runners that can verify their toolchain
// is installed.
type Checker interface {
	Check(ctx context.Context) error
}

// handleAPIHealth answers the game client's probe.
func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Server:    ServerName,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// handleHealthCheck reports the prover check and runtime information.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	proverCheck := s.checkProver(r.Context())
	status := proverCheck.Status

	response := HealthCheckResponse{
		Status:        status,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		ServerVersion: ServerVersion,
		GitCommit:     GitCommit,
		BuildTime:     BuildTime,
		Uptime:        time.Since(s.startTime).String(),
		Checks:        map[string]HealthCheck{"prover": proverCheck},
		System:        s.getSystemInfo(),
		RequestID:     requestID,
	}

	statusCode := http.StatusOK
	if status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	s.securityLogger.LogAuditEvent(requestID, "health_check", "system", string(status), map[string]interface{}{
		"status_code": statusCode,
	})

	s.writeJSON(w, statusCode, response)
}

// handleReadiness reports whether proof requests can be served.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	check := s.checkProver(r.Context())
	ready := check.Status == HealthStatusHealthy

	response := map[string]interface{}{
		"ready":          ready,
		"message":        check.Message,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"server_version": ServerVersion,
		"request_id":     requestID,
	}

	statusCode := http.StatusOK
	outcome := "ready"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		outcome = "not_ready"
	}
	s.securityLogger.LogAuditEvent(requestID, "readiness_check", "prover", outcome, map[string]interface{}{
		"message": check.Message,
	})

	s.writeJSON(w, statusCode, response)
}

// handleLiveness responds while the process is running.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alive":          true,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"server_version": ServerVersion,
		"uptime":         time.Since(s.startTime).String(),
		"request_id":     middleware.GetReqID(r.Context()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GetVersionInfo())
}

func (s *Server) checkProver(ctx context.Context) HealthCheck {
	start := time.Now()

	status := HealthStatusHealthy
	message := "Prover available"

	switch runner := s.runner.(type) {
	case nil:
		status = HealthStatusUnhealthy
		message = "Prover not configured"
	case Checker:
		if err := runner.Check(ctx); err != nil {
			status = HealthStatusUnhealthy
			message = err.Error()
		}
	}

	return HealthCheck{
		Status:      status,
		Message:     message,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
		Duration:    time.Since(start).String(),
	}
}

func (s *Server) getSystemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		MemoryAlloc:   m.Alloc,
		GCCycles:      m.NumGC,
	}
}
