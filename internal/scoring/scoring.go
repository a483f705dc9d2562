// Package scoring holds the deterministic score rules shared by the game
// client, the proof orchestrator and the proving backend.
package scoring

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Point values per egg colour.
const (
	YellowPoints = 5
	BluePoints   = 10
	PurplePoints = 20
)

// Proof hash prefixes.
const (
	SimulationPrefix = "0xSIM"
	CompressedPrefix = "0xCOMP"
)

// SessionMetrics is the snapshot of a finished game session. The JSON shape
// matches the proving backend request body.
type SessionMetrics struct {
	Score           uint32 `json:"score"`
	YellowCount     uint32 `json:"yellowEggs"`
	BlueCount       uint32 `json:"blueEggs"`
	PurpleCount     uint32 `json:"purpleEggs"`
	GameTimeSeconds uint32 `json:"gameTime"`
	LivesRemaining  uint32 `json:"lives"`
}

// CalculateScore returns 5*yellow + 10*blue + 20*purple. The sum is widened
// to uint64 so no uint32 egg counts can wrap it.
func CalculateScore(yellow, blue, purple uint32) uint64 {
	return uint64(yellow)*YellowPoints + uint64(blue)*BluePoints + uint64(purple)*PurplePoints
}

// TotalEggs returns the number of eggs collected across all colours.
func TotalEggs(yellow, blue, purple uint32) uint32 {
	return yellow + blue + purple
}

// CalculatedScore recomputes the score from the egg counts.
func (m SessionMetrics) CalculatedScore() uint64 {
	return CalculateScore(m.YellowCount, m.BlueCount, m.PurpleCount)
}

// ScoreIsValid reports whether the reported score matches the egg counts.
func (m SessionMetrics) ScoreIsValid() bool {
	return m.CalculatedScore() == uint64(m.Score)
}

// TotalEggs returns the total egg count of the session.
func (m SessionMetrics) TotalEggs() uint32 {
	return TotalEggs(m.YellowCount, m.BlueCount, m.PurpleCount)
}

// ProofHash builds prefix + hex(score,4) + hex(yellow,2) + hex(blue,2) +
// hex(purple,2) + suffix. Widths are minimums; larger values are not
// truncated.
func ProofHash(prefix string, m SessionMetrics, suffix string) string {
	return fmt.Sprintf("%s%04x%02x%02x%02x%s", prefix, m.Score, m.YellowCount, m.BlueCount, m.PurpleCount, suffix)
}

// TimeSuffix returns the last 8 hex digits of t in unix milliseconds,
// zero padded when the value is shorter.
func TimeSuffix(t time.Time) string {
	ms := t.UnixMilli()
	if ms < 0 {
		ms = -ms
	}
	h := strconv.FormatInt(ms, 16)
	if len(h) > 8 {
		return h[len(h)-8:]
	}
	return strings.Repeat("0", 8-len(h)) + h
}

// RandomSuffix returns 4 random bytes from r as 8 hex digits. A nil reader
// uses crypto/rand.
func RandomSuffix(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", fmt.Errorf("scoring: random suffix: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// SimulationHash is the identifier produced by the simulated proof path.
func SimulationHash(m SessionMetrics, now time.Time) string {
	return ProofHash(SimulationPrefix, m, TimeSuffix(now))
}

// CompressedHash is the identifier produced by the proving backend.
func CompressedHash(m SessionMetrics, r io.Reader) (string, error) {
	suffix, err := RandomSuffix(r)
	if err != nil {
		return "", err
	}
	return ProofHash(CompressedPrefix, m, suffix), nil
}

// ShareText is the message offered for sharing a finished session.
func ShareText(m SessionMetrics) string {
	return fmt.Sprintf("I scored %d points in zkLabubu Game! Collected 🟡%d 🔵%d 🟣%d eggs! @SuccinctLabs",
		m.Score, m.YellowCount, m.BlueCount, m.PurpleCount)
}
