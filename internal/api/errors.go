package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]interface{}
	requestID string
}

// NewError creates a new error builder
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID adds request ID to the error
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// WithCause records the underlying cause in the error context
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	if err != nil {
		eb.context["cause"] = err.Error()
	}
	return eb
}

// Build creates the final ProofError
func (eb *ErrorBuilder) Build() ProofError {
	return ProofError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   eb.context,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ErrorHandler writes ProofError responses and logs them
type ErrorHandler struct {
	logger         *log.Logger
	securityLogger *SecurityLogger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *log.Logger, securityLogger *SecurityLogger) *ErrorHandler {
	return &ErrorHandler{
		logger:         logger,
		securityLogger: securityLogger,
	}
}

// HandleError writes err with the given status. Plain errors become
// internal errors.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error, status int) {
	proofErr, ok := err.(ProofError)
	if !ok {
		proofErr = NewError(ErrTypeInternal, err.Error()).
			WithRequestID(middleware.GetReqID(r.Context())).
			WithContext("path", r.URL.Path).
			WithContext("method", r.Method).
			Build()
	}
	eh.logError(r, proofErr, status)
	eh.writeErrorResponse(w, status, proofErr)
}

// HandleValidationError rejects a request whose field failed validation
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, errType, field, message string) {
	requestID := middleware.GetReqID(r.Context())

	proofErr := NewError(errType, fmt.Sprintf("Validation failed: %s", message)).
		WithRequestID(requestID).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	eh.securityLogger.LogSecurityEvent(
		requestID,
		"validation_failure",
		message,
		map[string]interface{}{
			"field": field,
			"path":  r.URL.Path,
		},
		r.RemoteAddr,
	)

	eh.logError(r, proofErr, http.StatusBadRequest)
	eh.writeErrorResponse(w, http.StatusBadRequest, proofErr)
}

// HandleUnauthorized rejects a request with a missing or wrong token
func (eh *ErrorHandler) HandleUnauthorized(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	proofErr := NewError(ErrTypeUnauthorized, "Missing or invalid proof token").
		WithRequestID(requestID).
		WithContext("path", r.URL.Path).
		Build()

	eh.securityLogger.LogSecurityEvent(
		requestID,
		"auth_failure",
		"proof token rejected",
		map[string]interface{}{
			"path":          r.URL.Path,
			"authorization": r.Header.Get(TokenHeader),
		},
		r.RemoteAddr,
	)

	eh.logError(r, proofErr, http.StatusUnauthorized)
	eh.writeErrorResponse(w, http.StatusUnauthorized, proofErr)
}

func (eh *ErrorHandler) logError(r *http.Request, proofErr ProofError, status int) {
	category := GetErrorCategory(proofErr.Type)

	logLevel := "ERROR"
	if category == CategoryValidation || category == CategoryAuth {
		logLevel = "WARN"
	}

	eh.logger.Printf(
		"error_occurred level=%s type=%s category=%s status=%d request_id=%s method=%s path=%s message=%q context=%+v",
		logLevel, proofErr.Type, category, status, proofErr.RequestID, r.Method, r.URL.Path, proofErr.Message,
		eh.securityLogger.sanitizeContext(proofErr.Context),
	)
}

func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, proofErr ProofError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Server-Version", ServerVersion)
	w.Header().Set("X-Error-Type", proofErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(proofErr.Type)))
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(proofErr); err != nil {
		eh.logger.Printf("error_response_encode_failed request_id=%s error=%v", proofErr.RequestID, err)
	}
}

// RecoveryHandler turns a handler panic into a 500 ProofError
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := middleware.GetReqID(r.Context())

				eh.logger.Printf(
					"panic_recovered request_id=%s path=%s method=%s panic=%v",
					requestID, r.URL.Path, r.Method, rvr,
				)

				proofErr := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(requestID).
					WithContext("panic", fmt.Sprintf("%v", rvr)).
					WithContext("path", r.URL.Path).
					WithContext("method", r.Method).
					Build()

				eh.writeErrorResponse(w, http.StatusInternalServerError, proofErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
