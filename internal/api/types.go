package api

import (
	"github.com/d3lta02/zklabubu-desktop/internal/proof"
)

// ProofError represents a structured error response with context
type ProofError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e ProofError) Error() string {
	return e.Message
}

// Error types with proper categorization
const (
	// Input validation errors
	ErrTypeInvalidBody  = "invalid_body"
	ErrTypeInvalidField = "invalid_field"
	ErrTypeValidation   = "validation_error"

	// Authentication errors
	ErrTypeUnauthorized = "unauthorized"

	// Prover errors
	ErrTypeProverFailed  = "prover_failed"
	ErrTypeProverTimeout = "prover_timeout"

	// System errors
	ErrTypeTimeout            = "timeout"
	ErrTypeInternal           = "internal_error"
	ErrTypeServiceUnavailable = "service_unavailable"
)

// ErrorCategory represents error categories for monitoring
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryAuth       ErrorCategory = "auth"
	CategoryProver     ErrorCategory = "prover"
	CategorySystem     ErrorCategory = "system"
	CategoryTimeout    ErrorCategory = "timeout"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeInvalidBody, ErrTypeInvalidField, ErrTypeValidation:
		return CategoryValidation
	case ErrTypeUnauthorized:
		return CategoryAuth
	case ErrTypeProverFailed, ErrTypeProverTimeout:
		return CategoryProver
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

// VersionInfo contains server version information
type VersionInfo struct {
	ServerVersion string `json:"server_version"`
	GitCommit     string `json:"git_commit,omitempty"`
	BuildTime     string `json:"build_time,omitempty"`
}

// ServerName is reported by GET /api/health.
const ServerName = "zkLabubuio SP1 Backend"

// ProofType is reported for every proof this server produces.
const ProofType = "Compressed (SP1ReduceReceipt)"

// GenerateProofResponse is the body of POST /api/generate-proof. The
// desktop client decodes the same shape.
type GenerateProofResponse = proof.Response

// HealthResponse is the body of GET /api/health.
type HealthResponse = proof.Health
