package scoring

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

const wordSize = 32

// PublicValues is the committed output of the scoring program. Score is the
// calculated score, never the reported one.
type PublicValues struct {
	Score      uint64 `json:"score"`
	YellowEggs uint32 `json:"yellowEggs"`
	BlueEggs   uint32 `json:"blueEggs"`
	PurpleEggs uint32 `json:"purpleEggs"`
	GameTime   uint32 `json:"gameTime"`
	Lives      uint32 `json:"lives"`
}

// Execute runs the scoring program over the reported metrics.
func Execute(m SessionMetrics) PublicValues {
	return PublicValues{
		Score:      m.CalculatedScore(),
		YellowEggs: m.YellowCount,
		BlueEggs:   m.BlueCount,
		PurpleEggs: m.PurpleCount,
		GameTime:   m.GameTimeSeconds,
		Lives:      m.LivesRemaining,
	}
}

func (v PublicValues) fields() []uint64 {
	return []uint64{v.Score, uint64(v.YellowEggs), uint64(v.BlueEggs), uint64(v.PurpleEggs), uint64(v.GameTime), uint64(v.Lives)}
}

// Encode returns the ABI encoding: six 32-byte big-endian words. Score may
// use the low 8 bytes of its word, every other field the low 4.
func (v PublicValues) Encode() []byte {
	fields := v.fields()
	out := make([]byte, len(fields)*wordSize)
	for i, f := range fields {
		binary.BigEndian.PutUint64(out[(i+1)*wordSize-8:(i+1)*wordSize], f)
	}
	return out
}

// Hex returns the 0x-prefixed hex encoding of Encode.
func (v PublicValues) Hex() string {
	return "0x" + hex.EncodeToString(v.Encode())
}

// DecodePublicValues parses the ABI encoding produced by Encode.
func DecodePublicValues(b []byte) (PublicValues, error) {
	if len(b) != 6*wordSize {
		return PublicValues{}, fmt.Errorf("scoring: public values: want %d bytes, got %d", 6*wordSize, len(b))
	}
	var words [6]uint64
	for i := range words {
		word := b[i*wordSize : (i+1)*wordSize]
		for _, pad := range word[:wordSize-8] {
			if pad != 0 {
				return PublicValues{}, fmt.Errorf("scoring: public values: word %d overflows uint64", i)
			}
		}
		words[i] = binary.BigEndian.Uint64(word[wordSize-8:])
		if i > 0 && words[i] > math.MaxUint32 {
			return PublicValues{}, fmt.Errorf("scoring: public values: word %d overflows uint32", i)
		}
	}
	return PublicValues{
		Score:      words[0],
		YellowEggs: uint32(words[1]),
		BlueEggs:   uint32(words[2]),
		PurpleEggs: uint32(words[3]),
		GameTime:   uint32(words[4]),
		Lives:      uint32(words[5]),
	}, nil
}
