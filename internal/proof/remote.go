package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/d3lta02/zklabubu-desktop/internal/scoring"
)

// TokenHeader carries the optional shared secret for the proving backend.
const TokenHeader = "X-Proof-Token"

// TransportError reports a failed remote proof request. It always triggers
// the fallback to simulation.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("proof: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("proof: %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("proof: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("proof: %s: %s", e.Op, e.Message)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Reason is the human-readable cause used in the proof log.
func (e *TransportError) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("HTTP error! Status: %d", e.StatusCode)
}

// Request is the body of POST /api/generate-proof.
type Request struct {
	YellowEggs uint32 `json:"yellowEggs"`
	BlueEggs   uint32 `json:"blueEggs"`
	PurpleEggs uint32 `json:"purpleEggs"`
	Score      uint32 `json:"score"`
	GameTime   uint32 `json:"gameTime"`
	Lives      uint32 `json:"lives"`
}

// RequestFor builds the request body for m.
func RequestFor(m scoring.SessionMetrics) Request {
	return Request{
		YellowEggs: m.YellowCount,
		BlueEggs:   m.BlueCount,
		PurpleEggs: m.PurpleCount,
		Score:      m.Score,
		GameTime:   m.GameTimeSeconds,
		Lives:      m.LivesRemaining,
	}
}

// Response is the backend's reply to a proof request.
type Response struct {
	Success         bool                    `json:"success"`
	ProofHash       string                  `json:"proofHash,omitempty"`
	ProofType       string                  `json:"proofType,omitempty"`
	Output          string                  `json:"output,omitempty"`
	CalculatedScore uint64                  `json:"calculatedScore"`
	ScoreIsValid    bool                    `json:"scoreIsValid"`
	GameData        *scoring.SessionMetrics `json:"gameData,omitempty"`
	Error           string                  `json:"error,omitempty"`
	Details         string                  `json:"details,omitempty"`
}

// Health is the backend's liveness reply.
type Health struct {
	Status    string `json:"status"`
	Server    string `json:"server"`
	Timestamp string `json:"timestamp"`
}

// Prover produces a proof on a remote backend.
type Prover interface {
	GenerateProof(ctx context.Context, m scoring.SessionMetrics) (*Response, error)
}

// ClientConfig configures a RemoteClient.
type ClientConfig struct {
	// BaseURL of the proving backend, e.g. http://localhost:3000.
	BaseURL string
	// Token is sent as X-Proof-Token when non-empty.
	Token string
	// Timeout bounds one request when HTTPClient is nil. Defaults to 5m.
	Timeout time.Duration
	// HTTPClient allows injecting a custom client (useful for testing).
	HTTPClient *http.Client
}

// RemoteClient talks to the proving backend.
type RemoteClient struct {
	cfg  ClientConfig
	http *http.Client
}

// NewRemoteClient returns a client for cfg.BaseURL.
func NewRemoteClient(cfg ClientConfig) *RemoteClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &RemoteClient{cfg: cfg, http: httpClient}
}

// BaseURL returns the configured backend URL.
func (c *RemoteClient) BaseURL() string { return c.cfg.BaseURL }

func (c *RemoteClient) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

// GenerateProof issues one proof request. There is no retry.
func (c *RemoteClient) GenerateProof(ctx context.Context, m scoring.SessionMetrics) (*Response, error) {
	const op = "generate proof"
	body, err := json.Marshal(RequestFor(m))
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/generate-proof"), bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set(TokenHeader, c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var out Response
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ""
		if decodeErr == nil {
			msg = out.Error
		}
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Message: "malformed response", Err: decodeErr}
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "backend reported failure"
		}
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if out.ProofHash == "" {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Message: "response missing proofHash"}
	}
	return &out, nil
}

// Health probes GET /api/health.
func (c *RemoteClient) Health(ctx context.Context) (*Health, error) {
	const op = "health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/health"), nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode}
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, &TransportError{Op: op, Message: "malformed response", Err: err}
	}
	if h.Status != "ok" {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Message: "status " + h.Status}
	}
	return &h, nil
}
