// Package proof runs the proof protocol over a finished session: a request
// to the proving backend, or a scripted local simulation when the backend
// is unavailable or disabled.
package proof

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/d3lta02/zklabubu-desktop/internal/clock"
	zotel "github.com/d3lta02/zklabubu-desktop/internal/otel"
	"github.com/d3lta02/zklabubu-desktop/internal/scoring"
)

// ErrSuperseded is returned by Run when a newer run started before this one
// finished. The result is still returned but was not published.
var ErrSuperseded = errors.New("proof: run superseded by a newer run")

// Result is the outcome of one proof run.
type Result struct {
	RunID           string                 `json:"runId"`
	ProofHash       string                 `json:"proofHash"`
	ScoreIsValid    bool                   `json:"scoreIsValid"`
	CalculatedScore uint64                 `json:"calculatedScore"`
	Simulation      bool                   `json:"simulation"`
	ProofType       string                 `json:"proofType,omitempty"`
	Metrics         scoring.SessionMetrics `json:"metrics"`
}

// Verdict renders the final result. A display error is logged and never
// changes the result.
type Verdict interface {
	ShowVerdict(r Result) error
}

// Run is what a Recorder persists for each finished run.
type Run struct {
	Result     Result
	Lines      []string
	Fallback   string
	Superseded bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Recorder persists finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, run Run) error
}

// Config wires an Orchestrator.
type Config struct {
	// Remote is the proving backend. Nil means simulation only.
	Remote Prover
	// Restricted skips the backend entirely, as on a hosted deployment.
	Restricted bool
	// ForceSimulation reports the persisted preference at run time.
	ForceSimulation func() bool
	Clock           clock.Clock
	Verdict         Verdict
	Recorder        Recorder
	Logger          *log.Logger
	Tracer          trace.Tracer
}

// Orchestrator runs proof runs. Only the most recently started run may
// publish log lines or a verdict.
type Orchestrator struct {
	cfg    Config
	clock  clock.Clock
	logger *log.Logger
	tracer trace.Tracer

	gen     atomic.Uint64
	mu      sync.Mutex
	current *Result
}

// New returns an Orchestrator.
func New(cfg Config) *Orchestrator {
	c := cfg.Clock
	if c == nil {
		c = clock.System{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[PROOF] ", log.LstdFlags|log.Lshortfile)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = zotel.Tracer("github.com/d3lta02/zklabubu-desktop/internal/proof")
	}
	return &Orchestrator{cfg: cfg, clock: c, logger: logger, tracer: tracer}
}

// Current returns the live result, if any. Starting a run clears it.
func (o *Orchestrator) Current() (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return Result{}, false
	}
	return *o.current, true
}

func (o *Orchestrator) simulationForced() bool {
	if o.cfg.Restricted {
		return true
	}
	return o.cfg.ForceSimulation != nil && o.cfg.ForceSimulation()
}

// Run proves m and streams log lines to sink. Exactly one path produces the
// result. A remote failure is logged and falls back to simulation. Once
// started, the simulation runs to completion even if ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, m scoring.SessionMetrics, sink LogSink) (Result, error) {
	gen := o.gen.Add(1)
	o.mu.Lock()
	o.current = nil
	o.mu.Unlock()

	runID := uuid.NewString()
	started := o.clock.Now()
	ctx, span := o.tracer.Start(ctx, "proof.run", trace.WithAttributes(
		attribute.String("proof.run_id", runID),
		attribute.Int64("game.score", int64(m.Score)),
		attribute.Int64("game.calculated_score", int64(m.CalculatedScore())),
	))
	defer span.End()

	var lines []string
	emit := func(line string) {
		lines = append(lines, line)
		if sink != nil && o.gen.Load() == gen {
			sink.Log(line)
		}
	}

	o.logger.Printf("proof_run_started run_id=%s score=%d yellow=%d blue=%d purple=%d",
		runID, m.Score, m.YellowCount, m.BlueCount, m.PurpleCount)

	emit("Starting SP1 Compressed Proof system...")
	simulate := o.simulationForced() || o.cfg.Remote == nil
	if simulate {
		emit("Using Vercel environment/simulation mode.")
		emit("Note: Real SP1 compressed proofs only work in local environment.")
	}
	emit(fmt.Sprintf("Score: %d, Yellow Eggs: %d, Blue Eggs: %d, Purple Eggs: %d",
		m.Score, m.YellowCount, m.BlueCount, m.PurpleCount))
	emit("Running SP1 ZK program (Compressed mode)...")

	var (
		res      Result
		fallback string
	)
	if !simulate {
		emit("Connecting to SP1 backend...")
		remote, err := o.remote(ctx, m)
		if err == nil {
			res = Result{
				ProofHash:       remote.ProofHash,
				ScoreIsValid:    remote.ScoreIsValid,
				CalculatedScore: m.CalculatedScore(),
				ProofType:       remote.ProofType,
			}
			emit("SP1 Compressed Proof successfully generated!")
			emit("Proof Type: " + remote.ProofType)
			emit("Proof Hash: " + remote.ProofHash)
			if remote.ScoreIsValid {
				emit("Score verification: SUCCESS")
			} else {
				emit("Score verification: FAILED. Reported score could not be verified!")
			}
		} else {
			fallback = err.Error()
			reason := err.Error()
			var terr *TransportError
			if errors.As(err, &terr) {
				reason = terr.Reason()
				if terr.StatusCode != 0 {
					emit("API Error: " + reason)
				}
			}
			emit("Error: " + reason)
			emit("Switching to simulation mode...")
			o.logger.Printf("proof_remote_failed run_id=%s error=%q", runID, err)
			simulate = true
		}
	}
	if simulate {
		res = o.simulate(ctx, m, emit)
	}
	res.RunID = runID
	res.Metrics = m

	for _, line := range ResultBlock(res) {
		emit(line)
	}

	span.SetAttributes(
		attribute.Bool("proof.simulation", res.Simulation),
		attribute.Bool("proof.score_valid", res.ScoreIsValid),
	)

	o.mu.Lock()
	published := o.gen.Load() == gen
	if published {
		r := res
		o.current = &r
	}
	o.mu.Unlock()

	if published && o.cfg.Verdict != nil {
		if err := o.showVerdict(res); err != nil {
			o.logger.Printf("proof_display_failed run_id=%s error=%q", runID, err)
		}
	}

	if o.cfg.Recorder != nil {
		run := Run{
			Result:     res,
			Lines:      lines,
			Fallback:   fallback,
			Superseded: !published,
			StartedAt:  started,
			FinishedAt: o.clock.Now(),
		}
		if err := o.cfg.Recorder.RecordRun(context.WithoutCancel(ctx), run); err != nil {
			o.logger.Printf("proof_record_failed run_id=%s error=%q", runID, err)
		}
	}

	o.logger.Printf("proof_run_finished run_id=%s simulation=%t valid=%t hash=%s published=%t",
		runID, res.Simulation, res.ScoreIsValid, res.ProofHash, published)
	if !published {
		return res, ErrSuperseded
	}
	return res, nil
}

func (o *Orchestrator) showVerdict(r Result) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return o.cfg.Verdict.ShowVerdict(r)
}

func (o *Orchestrator) remote(ctx context.Context, m scoring.SessionMetrics) (resp *Response, err error) {
	ctx, span := o.tracer.Start(ctx, "proof.remote")
	defer span.End()
	defer func() {
		if rec := recover(); rec != nil {
			resp, err = nil, &TransportError{Op: "generate proof", Err: fmt.Errorf("panic: %v", rec)}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	return o.cfg.Remote.GenerateProof(ctx, m)
}

// simulate walks the step table on the injected clock and synthesizes a
// simulation hash.
func (o *Orchestrator) simulate(ctx context.Context, m scoring.SessionMetrics, emit func(string)) Result {
	ctx, span := o.tracer.Start(ctx, "proof.simulate")
	defer span.End()

	res := Result{
		ScoreIsValid:    m.ScoreIsValid(),
		CalculatedScore: m.CalculatedScore(),
		Simulation:      true,
	}
	sleepCtx := context.WithoutCancel(ctx)
	for _, step := range SimulationSteps(m) {
		emit(step.Message)
		_ = o.clock.Sleep(sleepCtx, step.Delay)
	}
	res.ProofHash = scoring.SimulationHash(m, o.clock.Now())
	return res
}
