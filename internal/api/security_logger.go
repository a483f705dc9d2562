package api

import (
	"io"
	"log"
	"os"
	"time"

	"github.com/d3lta02/zklabubu-desktop/internal/scoring"
)

// SecurityLogger writes audit and security events. Credentials never reach
// the log.
type SecurityLogger struct {
	logger *log.Logger
}

// NewSecurityLogger creates a security logger writing to stdout
func NewSecurityLogger() *SecurityLogger {
	return NewSecurityLoggerTo(os.Stdout)
}

// NewSecurityLoggerTo creates a security logger writing to w
func NewSecurityLoggerTo(w io.Writer) *SecurityLogger {
	return &SecurityLogger{
		logger: log.New(w, "[SECURITY] ", log.LstdFlags|log.LUTC),
	}
}

// LogProofOperation logs one proof request and its outcome
func (sl *SecurityLogger) LogProofOperation(
	requestID string,
	m scoring.SessionMetrics,
	outcome string,
	duration time.Duration,
	remoteAddr string,
) {
	sl.logger.Printf(
		"proof_operation request_id=%s score=%d yellow=%d blue=%d purple=%d game_time=%d lives=%d score_valid=%t outcome=%s duration=%v remote_addr=%s server_version=%s timestamp=%s",
		requestID,
		m.Score,
		m.YellowCount,
		m.BlueCount,
		m.PurpleCount,
		m.GameTimeSeconds,
		m.LivesRemaining,
		m.ScoreIsValid(),
		outcome,
		duration,
		remoteAddr,
		ServerVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogSecurityEvent logs failed validations and rejected credentials
func (sl *SecurityLogger) LogSecurityEvent(
	requestID string,
	eventType string,
	description string,
	context map[string]interface{},
	remoteAddr string,
) {
	sl.logger.Printf(
		"security_event request_id=%s type=%s description=%q context=%+v remote_addr=%s server_version=%s timestamp=%s",
		requestID,
		eventType,
		description,
		sl.sanitizeContext(context),
		remoteAddr,
		ServerVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogAuditEvent logs audit events for probes and lifecycle actions
func (sl *SecurityLogger) LogAuditEvent(
	requestID string,
	action string,
	resource string,
	outcome string,
	details map[string]interface{},
) {
	sl.logger.Printf(
		"audit_event request_id=%s action=%s resource=%s outcome=%s details=%+v server_version=%s timestamp=%s",
		requestID,
		action,
		resource,
		outcome,
		sl.sanitizeContext(details),
		ServerVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// sanitizeContext redacts credential-like keys
func (sl *SecurityLogger) sanitizeContext(context map[string]interface{}) map[string]interface{} {
	if context == nil {
		return nil
	}

	sanitized := make(map[string]interface{}, len(context))
	for key, value := range context {
		switch key {
		case "token", "proof_token", "secret", "password", "api_key", "authorization":
			if s, ok := value.(string); ok && s == "" {
				sanitized[key] = "[EMPTY]"
			} else {
				sanitized[key] = "[REDACTED]"
			}
		default:
			sanitized[key] = value
		}
	}
	return sanitized
}

// LogSystemStartup logs server startup information
func (sl *SecurityLogger) LogSystemStartup(addr string, config map[string]interface{}) {
	sl.logger.Printf(
		"system_startup addr=%s config=%+v server_version=%s git_commit=%s build_time=%s timestamp=%s",
		addr,
		sl.sanitizeContext(config),
		ServerVersion,
		GitCommit,
		BuildTime,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogSystemShutdown logs server shutdown information
func (sl *SecurityLogger) LogSystemShutdown(reason string, uptime time.Duration) {
	sl.logger.Printf(
		"system_shutdown reason=%s uptime=%v server_version=%s timestamp=%s",
		reason,
		uptime,
		ServerVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}
