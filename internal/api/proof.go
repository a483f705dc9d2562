package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/d3lta02/zklabubu-desktop/internal/prover"
	"github.com/d3lta02/zklabubu-desktop/internal/scoring"
)

const maxRequestBytes = 64 << 10

var maxCount = decimal.NewFromInt(math.MaxUint32)

// proofFields lists the request fields in the order they are validated.
var proofFields = []string{"yellowEggs", "blueEggs", "purpleEggs", "score", "gameTime", "lives"}

// fieldError is a request field that is not a non-negative number.
type fieldError struct {
	field   string
	message string
}

func (e *fieldError) Error() string {
	return e.field + ": " + e.message
}

// parseCount reads one request field. Missing and null values are 0 and
// fractions are truncated toward zero.
func parseCount(field string, raw json.RawMessage) (uint32, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return 0, &fieldError{field: field, message: "must be a number"}
	}
	if d.IsNegative() {
		return 0, &fieldError{field: field, message: "must not be negative"}
	}
	d = d.Truncate(0)
	if d.GreaterThan(maxCount) {
		return 0, &fieldError{field: field, message: "is too large"}
	}
	return uint32(d.IntPart()), nil
}

// parseMetrics decodes a generate-proof body into session metrics.
func parseMetrics(body map[string]json.RawMessage) (scoring.SessionMetrics, error) {
	var values [6]uint32
	for i, field := range proofFields {
		v, err := parseCount(field, body[field])
		if err != nil {
			return scoring.SessionMetrics{}, err
		}
		values[i] = v
	}
	return scoring.SessionMetrics{
		YellowCount:     values[0],
		BlueCount:       values[1],
		PurpleCount:     values[2],
		Score:           values[3],
		GameTimeSeconds: values[4],
		LivesRemaining:  values[5],
	}, nil
}

// handleGenerateProof runs the prover for the posted game and answers
// with a compressed proof identifier.
func (s *Server) handleGenerateProof(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	start := time.Now()

	var body map[string]json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil || body == nil {
		s.errorHandler.HandleValidationError(w, r, ErrTypeInvalidBody, "body", "request body must be a JSON object")
		return
	}

	m, err := parseMetrics(body)
	if err != nil {
		var fe *fieldError
		if errors.As(err, &fe) {
			s.errorHandler.HandleValidationError(w, r, ErrTypeInvalidField, fe.field, fe.Error())
			return
		}
		s.errorHandler.HandleError(w, r, err, http.StatusBadRequest)
		return
	}

	if s.runner == nil {
		s.errorHandler.HandleError(w, r,
			NewError(ErrTypeServiceUnavailable, "Prover not configured").WithRequestID(requestID).Build(),
			http.StatusServiceUnavailable)
		return
	}

	out, err := s.runner.Prove(r.Context(), m)
	if err != nil {
		details := err.Error()
		var execErr *prover.ExecError
		if errors.As(err, &execErr) && execErr.Stderr != "" {
			details = execErr.Stderr
		}
		errType := ErrTypeProverFailed
		if r.Context().Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			errType = ErrTypeProverTimeout
		}
		s.logger.Printf("proof_generation_failed request_id=%s type=%s error=%q", requestID, errType, err)
		s.securityLogger.LogProofOperation(requestID, m, "failure", time.Since(start), r.RemoteAddr)

		w.Header().Set("X-Error-Type", errType)
		w.Header().Set("X-Error-Category", string(GetErrorCategory(errType)))
		s.writeJSON(w, http.StatusInternalServerError, GenerateProofResponse{
			Success: false,
			Error:   "Could not generate proof",
			Details: details,
		})
		return
	}

	hash, err := scoring.CompressedHash(m, s.random)
	if err != nil {
		s.errorHandler.HandleError(w, r, fmt.Errorf("proof hash: %w", err), http.StatusInternalServerError)
		return
	}

	s.securityLogger.LogProofOperation(requestID, m, "success", time.Since(start), r.RemoteAddr)
	s.logger.Printf("proof_generated request_id=%s hash=%s duration=%v", requestID, hash, out.Duration)

	gameData := m
	s.writeJSON(w, http.StatusOK, GenerateProofResponse{
		Success:         true,
		ProofHash:       hash,
		ProofType:       ProofType,
		Output:          out.Stdout,
		CalculatedScore: m.CalculatedScore(),
		ScoreIsValid:    m.ScoreIsValid(),
		GameData:        &gameData,
	})
}
