// Package engine defines the capability set of the game-state engine and the
// bridge that loads it.
package engine

import (
	"fmt"

	"github.com/d3lta02/zklabubu-desktop/internal/scoring"
)

// GameState mirrors the engine's internal state enum.
type GameState int

const (
	StateNotStarted GameState = iota
	StatePlaying
	StatePaused
	StateGameOver
)

func (s GameState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateGameOver:
		return "game_over"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// KeyEvent is a keyboard event forwarded from the frontend.
type KeyEvent struct {
	Key string `json:"key"`
}

// Asset roles a session needs bound before it can be constructed.
const (
	RolePlayer         = "player"
	RolePlayerShield   = "player_shield"
	RolePlayerDouble   = "player_double"
	RoleYellowEgg      = "yellow_egg"
	RoleBlueEgg        = "blue_egg"
	RolePurpleEgg      = "purple_egg"
	RoleRock           = "rock"
	RoleShield         = "shield"
	RoleDoublePoints   = "double_points"
	RoleExtraLife      = "extra_life"
	RoleSlowdown       = "slowdown"
	RoleEggSound       = "egg_sound"
	RoleRockSound      = "rock_sound"
	RoleShieldHitSound = "shield_hit_sound"
)

// RequiredRoles lists every role NewSession checks for.
var RequiredRoles = []string{
	RolePlayer, RolePlayerShield, RolePlayerDouble,
	RoleYellowEgg, RoleBlueEgg, RolePurpleEgg, RoleRock,
	RoleShield, RoleDoublePoints, RoleExtraLife, RoleSlowdown,
	RoleEggSound, RoleRockSound, RoleShieldHitSound,
}

// Bindings are the resolved assets and host callbacks of one session.
type Bindings struct {
	Variant string
	// Assets maps a role to the loaded asset name filling it.
	Assets map[string]string
	// OnSound is called with the asset name of each sound the engine plays.
	OnSound func(asset string)
	// OnProofSurface is called when the engine shows or hides the proof panel.
	OnProofSurface func(visible bool)
}

// Validate reports the first required role with no asset bound.
func (b Bindings) Validate() error {
	for _, role := range RequiredRoles {
		if b.Assets[role] == "" {
			return fmt.Errorf("engine: no asset bound for role %q", role)
		}
	}
	return nil
}

// Module is an initialized engine able to construct sessions.
type Module interface {
	NewSession(b Bindings) (Session, error)
}

// Session is one game-state object. Every call may fail; callers treat a
// failure as an engine error.
type Session interface {
	Start() error
	Stop() error
	Restart() error
	// Advance moves the simulation forward by dt seconds and reports whether
	// the game is over.
	Advance(dt float64) (bool, error)

	Score() (uint32, error)
	Lives() (uint32, error)
	YellowCount() (uint32, error)
	BlueCount() (uint32, error)
	PurpleCount() (uint32, error)
	GameTimeSeconds() (uint32, error)
	GameState() (GameState, error)
	IsGameOver() (bool, error)

	SetSoundEnabled(enabled bool) error
	HandleKeyPress(ev KeyEvent) error
	ShowProofInterface() error
	HideProofInterface() error

	// Snapshot returns the drawable state of the current frame.
	Snapshot() (Frame, error)
}

// Frame is the drawable state handed to the presentation layer.
type Frame struct {
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	PlayerX    float64 `json:"playerX"`
	PlayerY    float64 `json:"playerY"`
	PlayerLane int     `json:"playerLane"`
	Items      []Item  `json:"items"`
	Shield     bool    `json:"shield"`
	Double     bool    `json:"double"`
	Slowdown   bool    `json:"slowdown"`
}

// Item is one falling object.
type Item struct {
	Kind string  `json:"kind"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Stats is the per-frame HUD data.
type Stats struct {
	Score  uint32 `json:"score"`
	Lives  uint32 `json:"lives"`
	Yellow uint32 `json:"yellow"`
	Blue   uint32 `json:"blue"`
	Purple uint32 `json:"purple"`
}

// ReadStats reads the HUD values from s.
func ReadStats(s Session) (Stats, error) {
	var st Stats
	var err error
	if st.Score, err = s.Score(); err != nil {
		return Stats{}, fmt.Errorf("engine: read score: %w", err)
	}
	if st.Lives, err = s.Lives(); err != nil {
		return Stats{}, fmt.Errorf("engine: read lives: %w", err)
	}
	if st.Yellow, err = s.YellowCount(); err != nil {
		return Stats{}, fmt.Errorf("engine: read yellow count: %w", err)
	}
	if st.Blue, err = s.BlueCount(); err != nil {
		return Stats{}, fmt.Errorf("engine: read blue count: %w", err)
	}
	if st.Purple, err = s.PurpleCount(); err != nil {
		return Stats{}, fmt.Errorf("engine: read purple count: %w", err)
	}
	return st, nil
}

// ReadMetrics captures the end-of-session snapshot from s.
func ReadMetrics(s Session) (scoring.SessionMetrics, error) {
	st, err := ReadStats(s)
	if err != nil {
		return scoring.SessionMetrics{}, err
	}
	gameTime, err := s.GameTimeSeconds()
	if err != nil {
		return scoring.SessionMetrics{}, fmt.Errorf("engine: read game time: %w", err)
	}
	return scoring.SessionMetrics{
		Score:           st.Score,
		YellowCount:     st.Yellow,
		BlueCount:       st.Blue,
		PurpleCount:     st.Purple,
		GameTimeSeconds: gameTime,
		LivesRemaining:  st.Lives,
	}, nil
}
