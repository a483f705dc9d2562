// Package prover runs the external zero-knowledge prover command for one
// finished game.
package prover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	zotel "github.com/d3lta02/zklabubu-desktop/internal/otel"
	"github.com/d3lta02/zklabubu-desktop/internal/scoring"
)

// DefaultCommand is the prover invocation used when none is configured.
// The per-game flags are appended to it.
var DefaultCommand = []string{"cargo", "run", "--bin", "prove", "--release", "--", "--prove"}

// Output is what a successful prover run printed.
type Output struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner proves one game.
type Runner interface {
	Prove(ctx context.Context, m scoring.SessionMetrics) (Output, error)
}

// ExecError reports a prover process that failed or could not start.
type ExecError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("prover: %s exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("prover: %s: %v", e.Command, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Config configures an ExecRunner.
type Config struct {
	// Dir is the working directory of the prover command.
	Dir string
	// Command is the argv template. Arguments may reference {yellow},
	// {blue}, {purple}, {score}, {game_time} and {lives}; when none do, the
	// standard flags are appended.
	Command []string
	// Timeout bounds one run. Defaults to 10m.
	Timeout time.Duration
	Logger  *log.Logger
	Tracer  trace.Tracer
}

// ExecRunner runs the prover as a child process.
type ExecRunner struct {
	cfg    Config
	logger *log.Logger
	tracer trace.Tracer
}

// NewExecRunner returns a runner for cfg.
func NewExecRunner(cfg Config) *ExecRunner {
	if len(cfg.Command) == 0 {
		cfg.Command = DefaultCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[PROVER] ", log.LstdFlags|log.Lshortfile)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = zotel.Tracer("github.com/d3lta02/zklabubu-desktop/internal/prover")
	}
	return &ExecRunner{cfg: cfg, logger: logger, tracer: tracer}
}

// Args expands the command template for m.
func (r *ExecRunner) Args(m scoring.SessionMetrics) []string {
	return expand(r.cfg.Command, m)
}

func expand(template []string, m scoring.SessionMetrics) []string {
	values := map[string]uint32{
		"yellow":    m.YellowCount,
		"blue":      m.BlueCount,
		"purple":    m.PurpleCount,
		"score":     m.Score,
		"game_time": m.GameTimeSeconds,
		"lives":     m.LivesRemaining,
	}
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", strconv.FormatUint(uint64(v), 10))
	}
	replacer := strings.NewReplacer(pairs...)

	out := make([]string, 0, len(template)+12)
	templated := false
	for _, arg := range template {
		expanded := replacer.Replace(arg)
		if expanded != arg {
			templated = true
		}
		out = append(out, expanded)
	}
	if templated {
		return out
	}
	return append(out,
		"--yellow-eggs", strconv.FormatUint(uint64(m.YellowCount), 10),
		"--blue-eggs", strconv.FormatUint(uint64(m.BlueCount), 10),
		"--purple-eggs", strconv.FormatUint(uint64(m.PurpleCount), 10),
		"--score", strconv.FormatUint(uint64(m.Score), 10),
		"--game-time", strconv.FormatUint(uint64(m.GameTimeSeconds), 10),
		"--lives", strconv.FormatUint(uint64(m.LivesRemaining), 10),
	)
}

// Prove runs the prover and captures its output.
func (r *ExecRunner) Prove(ctx context.Context, m scoring.SessionMetrics) (Output, error) {
	args := r.Args(m)
	name := strings.Join(args, " ")

	ctx, span := r.tracer.Start(ctx, "prover.exec", trace.WithAttributes(
		attribute.String("prover.command", args[0]),
		attribute.Int64("game.score", int64(m.Score)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = r.cfg.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	r.logger.Printf("prover_started dir=%s command=%q", r.cfg.Dir, name)
	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}
	if err != nil {
		execErr := &ExecError{Command: args[0], Stderr: out.Stderr, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			execErr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			execErr.Err = fmt.Errorf("%w: %v", ctxErr, err)
			execErr.ExitCode = 0
		}
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		r.logger.Printf("prover_failed duration=%v exit_code=%d error=%q", out.Duration, execErr.ExitCode, err)
		return out, execErr
	}
	r.logger.Printf("prover_completed duration=%v stdout_bytes=%d", out.Duration, len(out.Stdout))
	return out, nil
}

// Check reports whether the prover command and working directory exist.
func (r *ExecRunner) Check(ctx context.Context) error {
	if r.cfg.Dir != "" {
		info, err := os.Stat(r.cfg.Dir)
		if err != nil {
			return fmt.Errorf("prover: script dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("prover: script dir %s is not a directory", r.cfg.Dir)
		}
	}
	if _, err := exec.LookPath(r.cfg.Command[0]); err != nil {
		return fmt.Errorf("prover: %w", err)
	}
	return ctx.Err()
}
