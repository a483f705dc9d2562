package proof

import (
	"fmt"
	"time"

	"github.com/d3lta02/zklabubu-desktop/internal/scoring"
)

// Step is one scripted line of the simulated proof and the pause that
// follows it.
type Step struct {
	Message string
	Delay   time.Duration
}

// SimulationSteps returns the fixed step table for m.
func SimulationSteps(m scoring.SessionMetrics) []Step {
	verdict := "Score verification: SUCCESS"
	if !m.ScoreIsValid() {
		verdict = "Score verification: FAILED!"
	}
	return []Step{
		{Message: "Loading SP1 RISC-V program...", Delay: 500 * time.Millisecond},
		{Message: "Preparing zkLabubuio game data for verification...", Delay: 500 * time.Millisecond},
		{
			Message: fmt.Sprintf("Input values: Yellow=%d, Blue=%d, Purple=%d, Score=%d",
				m.YellowCount, m.BlueCount, m.PurpleCount, m.Score),
			Delay: 1000 * time.Millisecond,
		},
		{Message: "Verifying game rules...", Delay: 800 * time.Millisecond},
		{
			Message: fmt.Sprintf("Score calculation: (Yellow*5)+(Blue*10)+(Purple*20) = %d", m.CalculatedScore()),
			Delay:   1200 * time.Millisecond,
		},
		{Message: verdict, Delay: 1000 * time.Millisecond},
		{Message: "Creating SP1 ZK circuit...", Delay: 1000 * time.Millisecond},
		{Message: "Generating standard proof...", Delay: 1200 * time.Millisecond},
		{Message: "Compressing proof with recursive circuit...", Delay: 1500 * time.Millisecond},
		{Message: "Finalizing compressed proof...", Delay: 1200 * time.Millisecond},
		{Message: "Verifying compressed proof...", Delay: 1000 * time.Millisecond},
		{Message: "Compressed proof successfully generated and verified! (SIMULATION)", Delay: 800 * time.Millisecond},
	}
}

// ResultBlock returns the closing lines for a finished run.
func ResultBlock(r Result) []string {
	verification := "SUCCESS"
	if !r.ScoreIsValid {
		verification = "FAILED"
	}
	return []string{
		"=== PROOF RESULT ===",
		"Hash: " + r.ProofHash,
		"Verification: " + verification,
		"===================",
	}
}

// VerdictLine is the one-line verdict shown in the proof panel.
func VerdictLine(r Result) string {
	if r.ScoreIsValid {
		return "PROOF VERIFIED! Hash: " + r.ProofHash
	}
	return "PROOF FAILED! Hash: " + r.ProofHash
}
