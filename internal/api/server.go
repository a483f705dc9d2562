// Package api serves the proving backend: it accepts a finished game's
// metrics, runs the external prover and answers with a compressed proof
// identifier.
package api

import (
	"crypto/rand"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/d3lta02/zklabubu-desktop/internal/proof"
	"github.com/d3lta02/zklabubu-desktop/internal/prover"
)

// TokenHeader carries the optional shared secret.
const TokenHeader = proof.TokenHeader

// Config wires a Server.
type Config struct {
	Runner prover.Runner
	// Token, when set, is required on POST /api/generate-proof.
	Token string
	// RequestTimeout bounds every request. Defaults to 15m so a full
	// prover run fits.
	RequestTimeout time.Duration
	// Random feeds the proof hash suffix. Defaults to crypto/rand.
	Random         io.Reader
	Logger         *log.Logger
	SecurityLogger *SecurityLogger
}

// Server handles HTTP requests
type Server struct {
	runner         prover.Runner
	token          string
	timeout        time.Duration
	random         io.Reader
	errorHandler   *ErrorHandler
	logger         *log.Logger
	securityLogger *SecurityLogger
	startTime      time.Time
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[API] ", log.LstdFlags|log.Lshortfile)
	}
	securityLogger := cfg.SecurityLogger
	if securityLogger == nil {
		securityLogger = NewSecurityLogger()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	random := cfg.Random
	if random == nil {
		random = rand.Reader
	}

	return &Server{
		runner:         cfg.Runner,
		token:          cfg.Token,
		timeout:        timeout,
		random:         random,
		errorHandler:   NewErrorHandler(logger, securityLogger),
		logger:         logger,
		securityLogger: securityLogger,
		startTime:      time.Now(),
	}
}

// SecurityLogger returns the server's audit logger.
func (s *Server) SecurityLogger() *SecurityLogger {
	return s.securityLogger
}

// Uptime reports how long the server has existed.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Routes sets up the HTTP routes with proper middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.SecurityLoggingMiddleware)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(s.CORSMiddleware)

	r.Get("/health", s.handleHealthCheck)
	r.Get("/health/ready", s.handleReadiness)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/version", s.handleVersion)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleAPIHealth)
		r.With(s.TokenMiddleware).Post("/generate-proof", s.handleGenerateProof)
	})

	return r
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Server-Version", ServerVersion)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Printf("response_encode_failed status=%d error=%v", status, err)
	}
}
