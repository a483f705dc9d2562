package proof

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/d3lta02/zklabubu-desktop/internal/clock"
	"github.com/d3lta02/zklabubu-desktop/internal/scoring"
)

var testStart = time.Date(2026, 3, 14, 13, 4, 5, 0, time.UTC)

type verdictRecorder struct {
	results []Result
	err     error
}

func (v *verdictRecorder) ShowVerdict(r Result) error {
	v.results = append(v.results, r)
	return v.err
}

type runRecorder struct {
	runs []Run
}

func (r *runRecorder) RecordRun(_ context.Context, run Run) error {
	r.runs = append(r.runs, run)
	return nil
}

type failingProver struct{ err error }

func (p failingProver) GenerateProof(context.Context, scoring.SessionMetrics) (*Response, error) {
	return nil, p.err
}

func newOrchestrator(cfg Config) (*Orchestrator, *clock.Fake) {
	fake := clock.NewFake(testStart)
	cfg.Clock = fake
	cfg.Logger = log.New(io.Discard, "", 0)
	return New(cfg), fake
}

func indexOf(lines []string, want string) int {
	for i, l := range lines {
		if l == want {
			return i
		}
	}
	return -1
}

func TestSimulationPath(t *testing.T) {
	verdict := &verdictRecorder{}
	o, fake := newOrchestrator(Config{Restricted: true, Verdict: verdict})
	sink := &Buffer{}
	m := scoring.SessionMetrics{Score: 100, YellowCount: 10, BlueCount: 5, GameTimeSeconds: 30, LivesRemaining: 1}

	res, err := o.Run(context.Background(), m, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Simulation || !res.ScoreIsValid || res.CalculatedScore != 100 {
		t.Fatalf("unexpected result: %+v", res)
	}

	var total time.Duration
	steps := SimulationSteps(m)
	for _, s := range steps {
		total += s.Delay
	}
	if total != 11700*time.Millisecond {
		t.Fatalf("step delays sum to %v, want 11.7s", total)
	}
	if want := scoring.SimulationHash(m, testStart.Add(total)); res.ProofHash != want {
		t.Fatalf("hash = %s, want %s", res.ProofHash, want)
	}
	if !strings.HasPrefix(res.ProofHash, "0xSIM00640a0500") || len(res.ProofHash) != len("0xSIM00640a0500")+8 {
		t.Fatalf("malformed simulation hash %q", res.ProofHash)
	}

	sleeps := fake.Sleeps()
	if len(sleeps) != len(steps) {
		t.Fatalf("slept %d times, want %d", len(sleeps), len(steps))
	}
	for i, s := range steps {
		if sleeps[i] != s.Delay {
			t.Fatalf("sleep %d = %v, want %v", i, sleeps[i], s.Delay)
		}
	}

	lines := sink.Lines()
	want := []string{
		"Starting SP1 Compressed Proof system...",
		"Using Vercel environment/simulation mode.",
		"Note: Real SP1 compressed proofs only work in local environment.",
		"Score: 100, Yellow Eggs: 10, Blue Eggs: 5, Purple Eggs: 0",
		"Running SP1 ZK program (Compressed mode)...",
	}
	for _, s := range steps {
		want = append(want, s.Message)
	}
	want = append(want, ResultBlock(res)...)
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), strings.Join(lines, "\n"))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}

	if cur, ok := o.Current(); !ok || cur.ProofHash != res.ProofHash {
		t.Fatalf("Current = %+v, %v", cur, ok)
	}
	if len(verdict.results) != 1 || VerdictLine(verdict.results[0]) != "PROOF VERIFIED! Hash: "+res.ProofHash {
		t.Fatalf("verdicts = %+v", verdict.results)
	}
}

func TestSimulationStepsAreSequential(t *testing.T) {
	o, fake := newOrchestrator(Config{Restricted: true})
	sink := &Buffer{}
	var seen []int
	fake.OnSleep(func(time.Duration) { seen = append(seen, len(sink.Lines())) })

	if _, err := o.Run(context.Background(), scoring.SessionMetrics{}, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Five preface lines, then exactly one new line before each pause.
	for i, n := range seen {
		if n != 5+i+1 {
			t.Fatalf("sleep %d happened after %d lines, want %d", i, n, 5+i+1)
		}
	}
}

func TestSimulationInvalidScore(t *testing.T) {
	o, _ := newOrchestrator(Config{Restricted: true})
	sink := &Buffer{}
	m := scoring.SessionMetrics{Score: 999, YellowCount: 1, BlueCount: 1, PurpleCount: 1}

	res, err := o.Run(context.Background(), m, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ScoreIsValid || res.CalculatedScore != 35 {
		t.Fatalf("unexpected result: %+v", res)
	}
	lines := sink.Lines()
	for _, want := range []string{
		"Score calculation: (Yellow*5)+(Blue*10)+(Purple*20) = 35",
		"Score verification: FAILED!",
		"Verification: FAILED",
	} {
		if indexOf(lines, want) == -1 {
			t.Fatalf("missing line %q in:\n%s", want, strings.Join(lines, "\n"))
		}
	}
	if VerdictLine(res) != "PROOF FAILED! Hash: "+res.ProofHash {
		t.Fatalf("verdict line = %q", VerdictLine(res))
	}
}

func TestRemotePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"proofHash":"0xCOMP0023010101cafebabe","proofType":"Compressed (SP1ReduceReceipt)","calculatedScore":35,"scoreIsValid":false}`))
	}))
	defer srv.Close()

	rec := &runRecorder{}
	o, fake := newOrchestrator(Config{
		Remote:   NewRemoteClient(ClientConfig{BaseURL: srv.URL, HTTPClient: srv.Client()}),
		Recorder: rec,
	})
	sink := &Buffer{}
	m := scoring.SessionMetrics{Score: 999, YellowCount: 1, BlueCount: 1, PurpleCount: 1}

	res, err := o.Run(context.Background(), m, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Simulation || res.ProofHash != "0xCOMP0023010101cafebabe" || res.ScoreIsValid {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.CalculatedScore != 35 {
		t.Fatalf("calculated score = %d, want 35", res.CalculatedScore)
	}
	if len(fake.Sleeps()) != 0 {
		t.Fatal("remote path must not run the scripted steps")
	}

	lines := sink.Lines()
	for _, want := range []string{
		"Connecting to SP1 backend...",
		"SP1 Compressed Proof successfully generated!",
		"Proof Type: Compressed (SP1ReduceReceipt)",
		"Proof Hash: 0xCOMP0023010101cafebabe",
		"Score verification: FAILED. Reported score could not be verified!",
	} {
		if indexOf(lines, want) == -1 {
			t.Fatalf("missing line %q", want)
		}
	}
	if indexOf(lines, "Using Vercel environment/simulation mode.") != -1 {
		t.Fatal("remote path must not announce simulation mode")
	}
	if len(rec.runs) != 1 || rec.runs[0].Superseded || rec.runs[0].Fallback != "" || len(rec.runs[0].Lines) != len(lines) {
		t.Fatalf("unexpected recorded run: %+v", rec.runs)
	}
}

func TestRemoteFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"Could not generate proof","details":"exit status 101"}`))
	}))
	defer srv.Close()

	tests := []struct {
		name      string
		prover    Prover
		wantLines []string
	}{
		{
			name:      "http status",
			prover:    NewRemoteClient(ClientConfig{BaseURL: srv.URL, HTTPClient: srv.Client()}),
			wantLines: []string{"API Error: Could not generate proof", "Error: Could not generate proof"},
		},
		{
			name:      "transport",
			prover:    failingProver{err: &TransportError{Op: "generate proof", Err: errors.New("connection refused")}},
			wantLines: []string{"Error: connection refused"},
		},
		{
			name:      "untyped",
			prover:    failingProver{err: errors.New("boom")},
			wantLines: []string{"Error: boom"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &runRecorder{}
			o, _ := newOrchestrator(Config{Remote: tt.prover, Recorder: rec})
			sink := &Buffer{}
			m := scoring.SessionMetrics{Score: 20, PurpleCount: 1}

			res, err := o.Run(context.Background(), m, sink)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !res.Simulation || !strings.HasPrefix(res.ProofHash, "0xSIM0014000001") || len(res.ProofHash) != 23 {
				t.Fatalf("fallback result malformed: %+v", res)
			}
			lines := sink.Lines()
			errAt := indexOf(lines, tt.wantLines[0])
			switchAt := indexOf(lines, "Switching to simulation mode...")
			if errAt == -1 || switchAt != errAt+len(tt.wantLines) {
				t.Fatalf("fallback lines missing or out of order:\n%s", strings.Join(lines, "\n"))
			}
			for i, want := range tt.wantLines {
				if lines[errAt+i] != want {
					t.Fatalf("line %d = %q, want %q", errAt+i, lines[errAt+i], want)
				}
			}
			if strings.HasPrefix(lines[errAt-1], "API Error: ") {
				t.Fatalf("unexpected extra line %q", lines[errAt-1])
			}
			if indexOf(lines, "Loading SP1 RISC-V program...") < switchAt {
				t.Fatal("simulation must start after the fallback notice")
			}
			if rec.runs[0].Fallback == "" {
				t.Fatal("recorded run should carry the fallback reason")
			}
		})
	}
}

func TestForceSimulationSkipsRemote(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	force := true
	o, _ := newOrchestrator(Config{
		Remote:          NewRemoteClient(ClientConfig{BaseURL: srv.URL, HTTPClient: srv.Client()}),
		ForceSimulation: func() bool { return force },
	})
	res, err := o.Run(context.Background(), scoring.SessionMetrics{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Simulation || hits.Load() != 0 {
		t.Fatalf("forced simulation contacted backend: hits=%d result=%+v", hits.Load(), res)
	}
}

func TestSupersededRunCannotPublish(t *testing.T) {
	verdict := &verdictRecorder{}
	rec := &runRecorder{}
	o, fake := newOrchestrator(Config{Restricted: true, Verdict: verdict, Recorder: rec})

	first := &Buffer{}
	second := &Buffer{}
	var secondResult Result
	started := false
	fake.OnSleep(func(time.Duration) {
		if started {
			return
		}
		started = true
		var err error
		secondResult, err = o.Run(context.Background(), scoring.SessionMetrics{Score: 5, YellowCount: 1}, second)
		if err != nil {
			t.Errorf("second Run: %v", err)
		}
	})

	res, err := o.Run(context.Background(), scoring.SessionMetrics{Score: 10, YellowCount: 2}, first)
	if !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if res.ProofHash == "" {
		t.Fatal("superseded run should still return its result")
	}

	// The first run published its preface and first step, then nothing.
	if n := len(first.Lines()); n != 6 {
		t.Fatalf("superseded run published %d lines, want 6", n)
	}
	cur, ok := o.Current()
	if !ok || cur.RunID != secondResult.RunID {
		t.Fatalf("Current = %+v, want second run %s", cur, secondResult.RunID)
	}
	if len(verdict.results) != 1 || verdict.results[0].RunID != secondResult.RunID {
		t.Fatalf("only the newest run may show a verdict: %+v", verdict.results)
	}
	if len(rec.runs) != 2 || rec.runs[0].Superseded || !rec.runs[1].Superseded {
		t.Fatalf("recorded runs: %+v", rec.runs)
	}
}

func TestVerdictDisplayFailureKeepsResult(t *testing.T) {
	verdict := &verdictRecorder{err: errors.New("panel detached")}
	o, _ := newOrchestrator(Config{Restricted: true, Verdict: verdict})
	res, err := o.Run(context.Background(), scoring.SessionMetrics{Score: 5, YellowCount: 1}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	cur, ok := o.Current()
	if !ok || cur != res || !res.ScoreIsValid {
		t.Fatalf("display failure must not change the result: %+v", cur)
	}
}

func TestSimulationIgnoresCancellation(t *testing.T) {
	o, fake := newOrchestrator(Config{Restricted: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Run(ctx, scoring.SessionMetrics{}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fake.Sleeps()) != 12 {
		t.Fatalf("simulation stopped early: %d steps", len(fake.Sleeps()))
	}
}

func TestTimestamped(t *testing.T) {
	buf := &Buffer{}
	sink := Timestamped(clock.NewFake(testStart), buf)
	sink.Log("Starting SP1 Compressed Proof system...")
	if got := buf.Lines()[0]; got != "[13:04:05] Starting SP1 Compressed Proof system..." {
		t.Fatalf("line = %q", got)
	}
}
