package engine

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

//go:embed game.js
var defaultSource string

// DefaultSource returns the embedded falling-eggs engine script.
func DefaultSource() string { return defaultSource }

const (
	defaultCallTimeout = 250 * time.Millisecond
	defaultWidth       = 800
	defaultHeight      = 600
)

// ScriptError wraps an exception raised by the engine script.
type ScriptError struct {
	Op  string
	Err error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("engine: %s: %v", e.Op, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// ScriptConfig configures the goja-backed engine.
type ScriptConfig struct {
	// Name is used in stack traces. Defaults to "game.js".
	Name   string
	Width  float64
	Height float64
	// Seed feeds the engine RNG. Zero picks a time-based seed per session.
	Seed int64
	// CallTimeout interrupts a single engine call that runs too long.
	CallTimeout time.Duration
	Logger      *log.Logger
}

// ScriptLoader returns a Loader that compiles source into a ScriptModule.
func ScriptLoader(source string, cfg ScriptConfig) Loader {
	return LoaderFunc(func(ctx context.Context) (Module, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewScriptModule(source, cfg)
	})
}

// FileLoader reads the engine script from path at load time. An empty path
// loads the embedded script.
func FileLoader(path string, cfg ScriptConfig) Loader {
	return LoaderFunc(func(ctx context.Context) (Module, error) {
		source := defaultSource
		if strings.TrimSpace(path) != "" {
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("engine: read script: %w", err)
			}
			source = string(raw)
			if cfg.Name == "" {
				cfg.Name = path
			}
		}
		return ScriptLoader(source, cfg).Load(ctx)
	})
}

// ScriptModule is an engine module implemented by a JavaScript program
// exposing createGame(config).
type ScriptModule struct {
	program *goja.Program
	cfg     ScriptConfig
	logger  *log.Logger
	seq     atomic.Int64
}

// NewScriptModule compiles source. Compilation errors are returned here so
// that a broken script fails initialization rather than the first session.
func NewScriptModule(source string, cfg ScriptConfig) (*ScriptModule, error) {
	if cfg.Name == "" {
		cfg.Name = "game.js"
	}
	if cfg.Width <= 0 {
		cfg.Width = defaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = defaultHeight
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[ENGINE] ", log.LstdFlags|log.Lshortfile)
	}

	program, err := goja.Compile(cfg.Name, source, false)
	if err != nil {
		return nil, fmt.Errorf("engine: compile script: %w", err)
	}
	return &ScriptModule{program: program, cfg: cfg, logger: logger}, nil
}

// NewSession runs the program in a fresh sandboxed runtime and constructs a
// game object bound to b.
func (m *ScriptModule) NewSession(b Bindings) (Session, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	rt := goja.New()
	sandbox(rt)
	s := &scriptSession{rt: rt, bindings: b, timeout: m.cfg.CallTimeout, logger: m.logger}
	if err := s.injectHost(); err != nil {
		return nil, err
	}

	if _, err := s.guard("load", func() (goja.Value, error) {
		return rt.RunProgram(m.program)
	}); err != nil {
		return nil, err
	}

	create, ok := goja.AssertFunction(rt.Get("createGame"))
	if !ok {
		return nil, &ScriptError{Op: "createGame", Err: fmt.Errorf("createGame is not a function")}
	}

	seed := m.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	seed += m.seq.Add(1) - 1

	config := rt.NewObject()
	_ = config.Set("width", m.cfg.Width)
	_ = config.Set("height", m.cfg.Height)
	_ = config.Set("seed", seed&0xffffffff)
	_ = config.Set("variant", b.Variant)

	v, err := s.guard("createGame", func() (goja.Value, error) {
		return create(goja.Undefined(), config)
	})
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*goja.Object)
	if !ok || obj == nil {
		return nil, &ScriptError{Op: "createGame", Err: fmt.Errorf("createGame did not return an object")}
	}
	s.game = obj
	return s, nil
}

// sandbox removes globals an engine script has no business touching.
func sandbox(rt *goja.Runtime) {
	for _, name := range []string{"require", "fetch", "XMLHttpRequest", "eval", "Function"} {
		_ = rt.Set(name, goja.Undefined())
	}
}

type scriptSession struct {
	mu       sync.Mutex
	rt       *goja.Runtime
	game     *goja.Object
	bindings Bindings
	timeout  time.Duration
	logger   *log.Logger
}

func (s *scriptSession) injectHost() error {
	host := s.rt.NewObject()
	if err := host.Set("playSound", func(role string) {
		if s.bindings.OnSound == nil {
			return
		}
		if asset := s.bindings.Assets[role]; asset != "" {
			s.bindings.OnSound(asset)
		}
	}); err != nil {
		return err
	}
	if err := host.Set("log", func(msg string) {
		s.logger.Printf("script_log variant=%s message=%q", s.bindings.Variant, msg)
	}); err != nil {
		return err
	}
	if err := host.Set("proofSurface", func(visible bool) {
		if s.bindings.OnProofSurface != nil {
			s.bindings.OnProofSurface(visible)
		}
	}); err != nil {
		return err
	}
	return s.rt.Set("host", host)
}

// guard runs fn with an interrupt deadline and converts exceptions and
// panics into *ScriptError.
func (s *scriptSession) guard(op string, fn func() (goja.Value, error)) (v goja.Value, err error) {
	timer := time.AfterFunc(s.timeout, func() {
		s.rt.Interrupt("engine call timeout")
	})
	defer func() {
		timer.Stop()
		s.rt.ClearInterrupt()
		if r := recover(); r != nil {
			v = nil
			err = &ScriptError{Op: op, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	v, err = fn()
	if err != nil {
		return nil, &ScriptError{Op: op, Err: err}
	}
	return v, nil
}

func (s *scriptSession) call(op string, args ...any) (goja.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := goja.AssertFunction(s.game.Get(op))
	if !ok {
		return nil, &ScriptError{Op: op, Err: fmt.Errorf("%s is not a function", op)}
	}
	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = s.rt.ToValue(a)
	}
	return s.guard(op, func() (goja.Value, error) {
		return fn(s.game, vals...)
	})
}

// callUint reads a counter from the script. Values that are not whole
// numbers in the uint32 range are errors rather than clamped.
func (s *scriptSession) callUint(op string) (uint32, error) {
	v, err := s.call(op)
	if err != nil {
		return 0, err
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return 0, &ScriptError{Op: op, Err: fmt.Errorf("%s returned no value", op)}
	}
	f := v.ToFloat()
	if f != math.Trunc(f) || f < 0 || f > math.MaxUint32 {
		return 0, &ScriptError{Op: op, Err: fmt.Errorf("%s returned out-of-range value %v", op, v)}
	}
	return uint32(f), nil
}

func (s *scriptSession) callBool(op string) (bool, error) {
	v, err := s.call(op)
	if err != nil {
		return false, err
	}
	return v.ToBoolean(), nil
}

func (s *scriptSession) Start() error {
	_, err := s.call("start")
	return err
}

func (s *scriptSession) Stop() error {
	_, err := s.call("stop")
	return err
}

func (s *scriptSession) Restart() error {
	_, err := s.call("restart")
	return err
}

func (s *scriptSession) Advance(dt float64) (bool, error) {
	if math.IsNaN(dt) || math.IsInf(dt, 0) || dt < 0 {
		return false, fmt.Errorf("engine: invalid frame delta %v", dt)
	}
	v, err := s.call("update", dt)
	if err != nil {
		return false, err
	}
	return v.ToBoolean(), nil
}

func (s *scriptSession) Score() (uint32, error) { return s.callUint("score") }
func (s *scriptSession) Lives() (uint32, error) { return s.callUint("lives") }
func (s *scriptSession) YellowCount() (uint32, error) { return s.callUint("yellow") }
func (s *scriptSession) BlueCount() (uint32, error) { return s.callUint("blue") }
func (s *scriptSession) PurpleCount() (uint32, error) { return s.callUint("purple") }
func (s *scriptSession) GameTimeSeconds() (uint32, error) { return s.callUint("gameTime") }
func (s *scriptSession) IsGameOver() (bool, error) { return s.callBool("isGameOver") }

func (s *scriptSession) GameState() (GameState, error) {
	n, err := s.callUint("state")
	if err != nil {
		return 0, err
	}
	if n > uint32(StateGameOver) {
		return 0, fmt.Errorf("engine: unknown game state %d", n)
	}
	return GameState(n), nil
}

func (s *scriptSession) SetSoundEnabled(enabled bool) error {
	_, err := s.call("setSound", enabled)
	return err
}

func (s *scriptSession) HandleKeyPress(ev KeyEvent) error {
	_, err := s.call("keyPress", ev.Key)
	return err
}

func (s *scriptSession) ShowProofInterface() error {
	_, err := s.call("showProof")
	return err
}

func (s *scriptSession) HideProofInterface() error {
	_, err := s.call("hideProof")
	return err
}

func (s *scriptSession) Snapshot() (Frame, error) {
	v, err := s.call("snapshot")
	if err != nil {
		return Frame{}, err
	}
	raw, ok := v.Export().(map[string]any)
	if !ok {
		return Frame{}, &ScriptError{Op: "snapshot", Err: fmt.Errorf("snapshot did not return an object")}
	}
	f := Frame{
		Width:      toFloat(raw["width"]),
		Height:     toFloat(raw["height"]),
		PlayerX:    toFloat(raw["playerX"]),
		PlayerY:    toFloat(raw["playerY"]),
		PlayerLane: int(toFloat(raw["playerLane"])),
		Shield:     raw["shield"] == true,
		Double:     raw["double"] == true,
		Slowdown:   raw["slowdown"] == true,
	}
	if items, ok := raw["items"].([]any); ok {
		f.Items = make([]Item, 0, len(items))
		for _, it := range items {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			kind, _ := m["kind"].(string)
			f.Items = append(f.Items, Item{Kind: kind, X: toFloat(m["x"]), Y: toFloat(m["y"])})
		}
	}
	return f, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
