// Package session owns the lifecycle of one game session and drives the
// per-frame loop against the engine.
package session

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/d3lta02/zklabubu-desktop/internal/engine"
	"github.com/d3lta02/zklabubu-desktop/internal/scoring"
)

// State is the controller's view of the session.
type State int

const (
	NotStarted State = iota
	Playing
	Paused
	Ended
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Screen names a presentation screen.
type Screen string

const (
	ScreenMenu     Screen = "menu"
	ScreenGame     Screen = "game"
	ScreenPaused   Screen = "paused"
	ScreenGameOver Screen = "gameover"
)

// ModuleSource yields the initialized engine module. *engine.Bridge
// implements it.
type ModuleSource interface {
	Module() (engine.Module, bool)
}

// Resolver maps a variant to the engine bindings of its assets.
// *assets.Library implements it.
type Resolver interface {
	Bindings(variant string) (engine.Bindings, error)
}

// Presenter receives state publications. Its methods are called with the
// controller lock held and must not call back into the Controller.
type Presenter interface {
	ShowScreen(screen Screen)
	UpdateHUD(stats engine.Stats)
	RenderFrame(frame engine.Frame)
	PlaySound(asset string)
	ProofSurface(visible bool)
	Alert(err error)
}

// Config wires a Controller.
type Config struct {
	Engine    ModuleSource
	Assets    Resolver
	Scheduler FrameScheduler
	Presenter Presenter
	// OnSessionEnd receives the metrics of each session that reaches game
	// over. It runs after the controller lock is released.
	OnSessionEnd func(m scoring.SessionMetrics)
	Logger       *log.Logger
}

// Controller is the session state machine.
type Controller struct {
	cfg    Config
	logger *log.Logger

	mu           sync.Mutex
	state        State
	variant      string
	session      engine.Session
	soundEnabled bool
	closed       bool
	lastErr      error

	looping  bool
	frame    FrameHandle
	frameGen uint64
	lastTS   time.Time
	anchored bool
}

// New returns a controller in NotStarted.
func New(cfg Config) (*Controller, error) {
	if cfg.Engine == nil || cfg.Assets == nil || cfg.Scheduler == nil || cfg.Presenter == nil {
		return nil, fmt.Errorf("session: engine, assets, scheduler and presenter are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SESSION] ", log.LstdFlags|log.Lshortfile)
	}
	return &Controller{cfg: cfg, logger: logger, soundEnabled: true}, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Variant returns the selected variant, if any.
func (c *Controller) Variant() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.variant
}

// SoundEnabled returns the stored sound preference.
func (c *Controller) SoundEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.soundEnabled
}

// Err returns the last runtime error, cleared when a session starts.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SelectVariant discards any existing session and starts a new one bound to
// the assets of variant.
func (c *Controller) SelectVariant(variant string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &PreconditionError{Op: "select_variant", Reason: "controller closed"}
	}

	c.stopLoopLocked()
	c.discardSessionLocked("select_variant")
	c.anchored = false
	c.variant = variant
	c.state = NotStarted
	c.logger.Printf("variant_selected variant=%s", variant)
	return c.startLocked("select_variant")
}

// Start starts a session for the selected variant, restarting the existing
// session object if there is one.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked("start")
}

// Restart is Start under another name, used from the game-over screen.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked("restart")
}

func (c *Controller) startLocked(op string) error {
	if c.closed {
		return &PreconditionError{Op: op, Reason: "controller closed"}
	}
	mod, ok := c.cfg.Engine.Module()
	if !ok {
		return &PreconditionError{Op: op, Reason: "engine not initialized"}
	}
	if c.variant == "" {
		return &PreconditionError{Op: op, Reason: "no variant selected"}
	}

	c.stopLoopLocked()
	c.lastErr = nil

	if c.session == nil {
		b, err := c.cfg.Assets.Bindings(c.variant)
		if err != nil {
			return &PreconditionError{Op: op, Reason: "variant assets unavailable", Err: err}
		}
		presenter := c.cfg.Presenter
		b.OnSound = presenter.PlaySound
		b.OnProofSurface = presenter.ProofSurface

		var s engine.Session
		if err := guard(func() error {
			var err error
			s, err = mod.NewSession(b)
			return err
		}); err != nil {
			return c.failLocked("construct", err)
		}
		c.session = s
		if err := guard(func() error { return s.SetSoundEnabled(c.soundEnabled) }); err != nil {
			return c.failLocked("set_sound", err)
		}
		if err := guard(s.Start); err != nil {
			return c.failLocked("start", err)
		}
	} else if err := guard(c.session.Restart); err != nil {
		return c.failLocked("restart", err)
	}

	c.state = Playing
	c.anchored = false
	c.cfg.Presenter.ShowScreen(ScreenGame)
	c.startLoopLocked()
	c.logger.Printf("session_started op=%s variant=%s", op, c.variant)
	return nil
}

// Pause stops the engine clock. The loop stays scheduled but does no work.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseLocked()
}

func (c *Controller) pauseLocked() error {
	if c.state != Playing {
		return &PreconditionError{Op: "pause", Reason: "session is " + c.state.String()}
	}
	if err := guard(c.session.Stop); err != nil {
		return c.failLocked("stop", err)
	}
	c.state = Paused
	c.cfg.Presenter.ShowScreen(ScreenPaused)
	c.logger.Printf("session_paused variant=%s", c.variant)
	return nil
}

// Resume restarts the engine clock and re-anchors the frame timestamp so
// the paused interval is not counted.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeLocked()
}

func (c *Controller) resumeLocked() error {
	if c.state != Paused {
		return &PreconditionError{Op: "resume", Reason: "session is " + c.state.String()}
	}
	if err := guard(c.session.Start); err != nil {
		return c.failLocked("start", err)
	}
	c.state = Playing
	c.anchored = false
	if !c.looping {
		c.startLoopLocked()
	}
	c.cfg.Presenter.ShowScreen(ScreenGame)
	c.logger.Printf("session_resumed variant=%s", c.variant)
	return nil
}

// TogglePause pauses a playing session or resumes a paused one.
func (c *Controller) TogglePause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.togglePauseLocked()
}

func (c *Controller) togglePauseLocked() error {
	switch c.state {
	case Playing:
		return c.pauseLocked()
	case Paused:
		return c.resumeLocked()
	default:
		return &PreconditionError{Op: "toggle_pause", Reason: "session is " + c.state.String()}
	}
}

// End captures the session metrics, stops the engine and hands the metrics
// to OnSessionEnd.
func (c *Controller) End() (scoring.SessionMetrics, error) {
	c.mu.Lock()
	if c.state != Playing && c.state != Paused {
		state := c.state
		c.mu.Unlock()
		return scoring.SessionMetrics{}, &PreconditionError{Op: "end", Reason: "session is " + state.String()}
	}
	m, err := c.endLocked()
	c.mu.Unlock()
	if err != nil {
		return scoring.SessionMetrics{}, err
	}
	c.notifyEnd(m)
	return m, nil
}

// endLocked reads metrics while the engine object is still valid, then
// stops it.
func (c *Controller) endLocked() (scoring.SessionMetrics, error) {
	c.stopLoopLocked()

	var m scoring.SessionMetrics
	if err := guard(func() error {
		var err error
		m, err = engine.ReadMetrics(c.session)
		return err
	}); err != nil {
		return scoring.SessionMetrics{}, c.failLocked("read_metrics", err)
	}
	if err := guard(c.session.Stop); err != nil {
		c.logger.Printf("engine_stop_failed op=end error=%q", err)
	}

	c.state = Ended
	c.cfg.Presenter.UpdateHUD(engine.Stats{Score: m.Score, Lives: m.LivesRemaining, Yellow: m.YellowCount, Blue: m.BlueCount, Purple: m.PurpleCount})
	c.cfg.Presenter.ShowScreen(ScreenGameOver)
	c.logger.Printf("session_ended variant=%s score=%d yellow=%d blue=%d purple=%d game_time=%d lives=%d",
		c.variant, m.Score, m.YellowCount, m.BlueCount, m.PurpleCount, m.GameTimeSeconds, m.LivesRemaining)
	return m, nil
}

func (c *Controller) notifyEnd(m scoring.SessionMetrics) {
	if c.cfg.OnSessionEnd == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("session_end_hook_panic error=%q", fmt.Sprint(r))
		}
	}()
	c.cfg.OnSessionEnd(m)
}

// GoHome cancels the loop, clears the variant and returns to NotStarted.
func (c *Controller) GoHome() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLoopLocked()
	c.discardSessionLocked("go_home")
	c.variant = ""
	c.state = NotStarted
	c.cfg.Presenter.ShowScreen(ScreenMenu)
	c.logger.Printf("session_home")
}

// HandleKey routes a key press. Escape toggles pause; other keys reach the
// engine only while Playing.
func (c *Controller) HandleKey(ev engine.KeyEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Key == "Escape" {
		if c.state == Playing || c.state == Paused {
			return c.togglePauseLocked()
		}
		return nil
	}
	if c.state != Playing {
		return nil
	}
	if err := guard(func() error { return c.session.HandleKeyPress(ev) }); err != nil {
		return c.failLocked("key_press", err)
	}
	return nil
}

// SetSoundEnabled stores the preference and forwards it to the live session.
func (c *Controller) SetSoundEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.soundEnabled = enabled
	if c.session == nil {
		return nil
	}
	if err := guard(func() error { return c.session.SetSoundEnabled(enabled) }); err != nil {
		c.logger.Printf("engine_set_sound_failed enabled=%t error=%q", enabled, err)
		return &RuntimeError{Op: "set_sound", Err: err}
	}
	return nil
}

// ShowProofSurface asks the engine to show the proof panel.
func (c *Controller) ShowProofSurface() error {
	return c.proofSurface("show_proof", true)
}

// HideProofSurface asks the engine to hide the proof panel.
func (c *Controller) HideProofSurface() error {
	return c.proofSurface("hide_proof", false)
}

func (c *Controller) proofSurface(op string, visible bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return &PreconditionError{Op: op, Reason: "no session"}
	}
	fn := c.session.HideProofInterface
	if visible {
		fn = c.session.ShowProofInterface
	}
	if err := guard(fn); err != nil {
		c.logger.Printf("engine_proof_surface_failed op=%s error=%q", op, err)
		return &RuntimeError{Op: op, Err: err}
	}
	return nil
}

// Close cancels the loop and discards the session.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopLoopLocked()
	c.discardSessionLocked("close")
	c.closed = true
	c.logger.Printf("session_controller_closed")
}

func (c *Controller) discardSessionLocked(op string) {
	if c.session == nil {
		return
	}
	if err := guard(c.session.Stop); err != nil {
		c.logger.Printf("engine_stop_failed op=%s error=%q", op, err)
	}
	if err := guard(c.session.HideProofInterface); err != nil {
		c.logger.Printf("engine_hide_proof_failed op=%s error=%q", op, err)
	}
	c.session = nil
}

func (c *Controller) startLoopLocked() {
	c.looping = true
	c.frameGen++
	c.scheduleLocked()
}

func (c *Controller) scheduleLocked() {
	gen := c.frameGen
	c.frame = c.cfg.Scheduler.RequestFrame(func(ts time.Time) {
		c.onFrame(gen, ts)
	})
}

func (c *Controller) stopLoopLocked() {
	if c.frame != 0 {
		c.cfg.Scheduler.CancelFrame(c.frame)
		c.frame = 0
	}
	c.looping = false
	c.frameGen++
}

func (c *Controller) onFrame(gen uint64, ts time.Time) {
	c.mu.Lock()
	m, ended := c.stepLocked(gen, ts)
	c.mu.Unlock()
	if ended {
		c.notifyEnd(m)
	}
}

// stepLocked runs one loop iteration and reports whether the session ended
// with metrics to hand on.
func (c *Controller) stepLocked(gen uint64, ts time.Time) (scoring.SessionMetrics, bool) {
	if gen != c.frameGen || !c.looping {
		return scoring.SessionMetrics{}, false
	}
	c.frame = 0

	switch c.state {
	case Paused:
		c.scheduleLocked()
		return scoring.SessionMetrics{}, false
	case Playing:
	default:
		c.looping = false
		return scoring.SessionMetrics{}, false
	}

	delta := 0.0
	if c.anchored {
		if d := ts.Sub(c.lastTS).Seconds(); d > 0 {
			delta = d
		}
	}
	c.lastTS = ts
	c.anchored = true

	var over bool
	if err := guard(func() error {
		var err error
		over, err = c.session.Advance(delta)
		return err
	}); err != nil {
		_ = c.failLocked("advance", err)
		return scoring.SessionMetrics{}, false
	}

	var stats engine.Stats
	var frame engine.Frame
	if err := guard(func() error {
		var err error
		if stats, err = engine.ReadStats(c.session); err != nil {
			return err
		}
		frame, err = c.session.Snapshot()
		return err
	}); err != nil {
		_ = c.failLocked("read_state", err)
		return scoring.SessionMetrics{}, false
	}
	c.cfg.Presenter.UpdateHUD(stats)
	c.cfg.Presenter.RenderFrame(frame)

	if !over {
		if err := guard(func() error {
			isOver, err := c.session.IsGameOver()
			if err != nil {
				return err
			}
			st, err := c.session.GameState()
			if err != nil {
				return err
			}
			over = isOver || st == engine.StateGameOver
			return nil
		}); err != nil {
			_ = c.failLocked("game_state", err)
			return scoring.SessionMetrics{}, false
		}
	}

	if over {
		m, err := c.endLocked()
		if err != nil {
			return scoring.SessionMetrics{}, false
		}
		return m, true
	}

	c.scheduleLocked()
	return scoring.SessionMetrics{}, false
}

// failLocked tears the loop down, forces Ended and surfaces one error.
func (c *Controller) failLocked(op string, err error) error {
	c.stopLoopLocked()
	rerr := &RuntimeError{Op: op, Err: err}
	c.lastErr = rerr
	c.state = Ended
	if c.session != nil {
		if serr := guard(c.session.Stop); serr != nil {
			c.logger.Printf("engine_stop_failed op=%s error=%q", op, serr)
		}
	}
	c.logger.Printf("engine_runtime_error op=%s variant=%s error=%q", op, c.variant, err)
	c.cfg.Presenter.Alert(rerr)
	c.cfg.Presenter.ShowScreen(ScreenGameOver)
	return rerr
}

// guard calls fn and converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
