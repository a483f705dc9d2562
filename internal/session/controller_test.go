package session

import (
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/d3lta02/zklabubu-desktop/internal/engine"
	"github.com/d3lta02/zklabubu-desktop/internal/scoring"
)

// manualScheduler fires frames only when the test asks it to.
type manualScheduler struct {
	mu      sync.Mutex
	next    FrameHandle
	pending map[FrameHandle]func(time.Time)
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{pending: make(map[FrameHandle]func(time.Time))}
}

func (s *manualScheduler) RequestFrame(fn func(time.Time)) FrameHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.pending[s.next] = fn
	return s.next
}

func (s *manualScheduler) CancelFrame(h FrameHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, h)
}

func (s *manualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Fire runs every pending frame with ts.
func (s *manualScheduler) Fire(ts time.Time) {
	s.mu.Lock()
	fns := make([]func(time.Time), 0, len(s.pending))
	for h, fn := range s.pending {
		fns = append(fns, fn)
		delete(s.pending, h)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ts)
	}
}

type fakeSession struct {
	calls        []string
	advances     []float64
	state        engine.GameState
	score        uint32
	yellow       uint32
	lives        uint32
	gameTime     uint32
	sound        bool
	overAfter    int
	engineOver   bool
	advanceErr   error
	advancePanic bool
	stopErr      error
	keys         []string
}

func (f *fakeSession) Start() error {
	f.calls = append(f.calls, "start")
	f.state = engine.StatePlaying
	return nil
}

func (f *fakeSession) Restart() error {
	f.calls = append(f.calls, "restart")
	f.state = engine.StatePlaying
	return nil
}

func (f *fakeSession) Stop() error {
	f.calls = append(f.calls, "stop")
	if f.stopErr != nil {
		return f.stopErr
	}
	if f.state == engine.StatePlaying {
		f.state = engine.StatePaused
	}
	return nil
}

func (f *fakeSession) Advance(dt float64) (bool, error) {
	f.calls = append(f.calls, "advance")
	if f.advancePanic {
		panic("wasm trap")
	}
	if f.advanceErr != nil {
		return false, f.advanceErr
	}
	f.advances = append(f.advances, dt)
	if f.overAfter > 0 && len(f.advances) >= f.overAfter {
		f.state = engine.StateGameOver
		return true, nil
	}
	return false, nil
}

func (f *fakeSession) Score() (uint32, error) {
	f.calls = append(f.calls, "score")
	return f.score, nil
}

func (f *fakeSession) Lives() (uint32, error) { return f.lives, nil }
func (f *fakeSession) YellowCount() (uint32, error) { return f.yellow, nil }
func (f *fakeSession) BlueCount() (uint32, error) { return 0, nil }
func (f *fakeSession) PurpleCount() (uint32, error) { return 0, nil }
func (f *fakeSession) GameTimeSeconds() (uint32, error) { return f.gameTime, nil }
func (f *fakeSession) GameState() (engine.GameState, error) { return f.state, nil }
func (f *fakeSession) IsGameOver() (bool, error) { return f.engineOver, nil }

func (f *fakeSession) SetSoundEnabled(on bool) error {
	f.sound = on
	return nil
}

func (f *fakeSession) HandleKeyPress(ev engine.KeyEvent) error {
	f.keys = append(f.keys, ev.Key)
	return nil
}

func (f *fakeSession) ShowProofInterface() error {
	f.calls = append(f.calls, "show_proof")
	return nil
}

func (f *fakeSession) HideProofInterface() error {
	f.calls = append(f.calls, "hide_proof")
	return nil
}

func (f *fakeSession) Snapshot() (engine.Frame, error) { return engine.Frame{Width: 800}, nil }

type fakeModule struct {
	sessions []*fakeSession
	bindings []engine.Bindings
	newErr   error
	next     func() *fakeSession
}

func (m *fakeModule) NewSession(b engine.Bindings) (engine.Session, error) {
	if m.newErr != nil {
		return nil, m.newErr
	}
	s := &fakeSession{lives: 3}
	if m.next != nil {
		s = m.next()
	}
	m.sessions = append(m.sessions, s)
	m.bindings = append(m.bindings, b)
	return s, nil
}

func (m *fakeModule) last() *fakeSession { return m.sessions[len(m.sessions)-1] }

type moduleSource struct {
	mod   engine.Module
	ready bool
}

func (s *moduleSource) Module() (engine.Module, bool) { return s.mod, s.ready }

type resolver struct{}

func (resolver) Bindings(variant string) (engine.Bindings, error) {
	if variant == "unknown" {
		return engine.Bindings{}, errors.New("unknown variant")
	}
	return engine.Bindings{Variant: variant, Assets: map[string]string{engine.RolePlayer: "labubu_" + variant}}, nil
}

type recordingPresenter struct {
	screens []Screen
	huds    []engine.Stats
	frames  int
	alerts  []error
	proof   []bool
}

func (p *recordingPresenter) ShowScreen(s Screen) { p.screens = append(p.screens, s) }
func (p *recordingPresenter) UpdateHUD(st engine.Stats) { p.huds = append(p.huds, st) }
func (p *recordingPresenter) RenderFrame(engine.Frame) { p.frames++ }
func (p *recordingPresenter) PlaySound(string) {}
func (p *recordingPresenter) ProofSurface(visible bool) { p.proof = append(p.proof, visible) }
func (p *recordingPresenter) Alert(err error) { p.alerts = append(p.alerts, err) }
func (p *recordingPresenter) lastScreen() Screen { return p.screens[len(p.screens)-1] }

type harness struct {
	ctrl      *Controller
	mod       *fakeModule
	src       *moduleSource
	sched     *manualScheduler
	presenter *recordingPresenter
	ended     []scoring.SessionMetrics
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		mod:       &fakeModule{},
		sched:     newManualScheduler(),
		presenter: &recordingPresenter{},
		now:       time.Unix(1_700_000_000, 0),
	}
	h.src = &moduleSource{mod: h.mod, ready: true}
	ctrl, err := New(Config{
		Engine:       h.src,
		Assets:       resolver{},
		Scheduler:    h.sched,
		Presenter:    h.presenter,
		OnSessionEnd: func(m scoring.SessionMetrics) { h.ended = append(h.ended, m) },
		Logger:       log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.ctrl = ctrl
	return h
}

// tick fires one frame d after the previous one.
func (h *harness) tick(d time.Duration) {
	h.now = h.now.Add(d)
	h.sched.Fire(h.now)
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestStartPreconditions(t *testing.T) {
	h := newHarness(t)

	if err := h.ctrl.Start(); !IsPrecondition(err) {
		t.Fatalf("Start without variant: expected PreconditionError, got %v", err)
	}

	h.src.ready = false
	err := h.ctrl.SelectVariant("blue")
	var pe *PreconditionError
	if !errors.As(err, &pe) || pe.Reason != "engine not initialized" {
		t.Fatalf("expected engine precondition error, got %v", err)
	}
	if h.ctrl.State() != NotStarted {
		t.Fatalf("state = %v, want not_started", h.ctrl.State())
	}

	h.src.ready = true
	if err := h.ctrl.SelectVariant("unknown"); !IsPrecondition(err) {
		t.Fatalf("unresolvable variant: expected PreconditionError, got %v", err)
	}
}

func TestSelectVariantStartsLoop(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.SelectVariant("pink"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	if h.ctrl.State() != Playing {
		t.Fatalf("state = %v, want playing", h.ctrl.State())
	}
	if h.mod.bindings[0].Variant != "pink" || h.mod.bindings[0].OnSound == nil {
		t.Fatalf("bindings not resolved for variant: %+v", h.mod.bindings[0])
	}
	if !h.mod.last().sound {
		t.Fatal("stored sound preference should be forwarded to the new session")
	}
	if h.sched.Pending() != 1 {
		t.Fatalf("pending frames = %d, want 1", h.sched.Pending())
	}
	if h.presenter.lastScreen() != ScreenGame {
		t.Fatalf("screen = %s, want game", h.presenter.lastScreen())
	}
}

func TestFirstFrameDeltaIsZero(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.SelectVariant("blue"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	h.tick(0)
	h.tick(16 * time.Millisecond)
	h.tick(20 * time.Millisecond)

	got := h.mod.last().advances
	want := []float64{0, 0.016, 0.020}
	if len(got) != len(want) {
		t.Fatalf("advances = %v, want %v", got, want)
	}
	for i := range want {
		if diff := got[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("advance[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if len(h.presenter.huds) != 3 || h.presenter.frames != 3 {
		t.Fatalf("hud publications = %d frames = %d, want 3", len(h.presenter.huds), h.presenter.frames)
	}
}

func TestPauseSkipsEngineUpdates(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.SelectVariant("blue"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	h.tick(0)
	h.tick(16 * time.Millisecond)

	if err := h.ctrl.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	hudsBefore := len(h.presenter.huds)
	for i := 0; i < 10; i++ {
		h.tick(time.Second)
	}
	s := h.mod.last()
	if len(s.advances) != 2 {
		t.Fatalf("advance called while paused: %v", s.advances)
	}
	if len(h.presenter.huds) != hudsBefore {
		t.Fatal("state published while paused")
	}
	if h.sched.Pending() != 1 {
		t.Fatal("loop must stay scheduled while paused")
	}

	if err := h.ctrl.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	h.tick(16 * time.Millisecond)
	h.tick(16 * time.Millisecond)
	if len(s.advances) != 4 || s.advances[2] != 0 {
		t.Fatalf("resume must re-anchor the frame timestamp: %v", s.advances)
	}
	if err := h.ctrl.Resume(); !IsPrecondition(err) {
		t.Fatalf("Resume while playing: expected PreconditionError, got %v", err)
	}
}

func TestEscapeTogglesPauseAndKeysForwardOnlyWhilePlaying(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.HandleKey(engine.KeyEvent{Key: "Escape"}); err != nil {
		t.Fatalf("Escape before start should be ignored: %v", err)
	}
	if err := h.ctrl.SelectVariant("blue"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	s := h.mod.last()

	_ = h.ctrl.HandleKey(engine.KeyEvent{Key: "ArrowLeft"})
	if err := h.ctrl.HandleKey(engine.KeyEvent{Key: "Escape"}); err != nil {
		t.Fatalf("Escape: %v", err)
	}
	if h.ctrl.State() != Paused {
		t.Fatalf("state = %v, want paused", h.ctrl.State())
	}
	_ = h.ctrl.HandleKey(engine.KeyEvent{Key: "ArrowRight"})
	if err := h.ctrl.HandleKey(engine.KeyEvent{Key: "Escape"}); err != nil {
		t.Fatalf("Escape: %v", err)
	}
	if h.ctrl.State() != Playing {
		t.Fatalf("state = %v, want playing", h.ctrl.State())
	}
	if len(s.keys) != 1 || s.keys[0] != "ArrowLeft" {
		t.Fatalf("forwarded keys = %v, want [ArrowLeft]", s.keys)
	}
}

func TestGameOverHandledOnce(t *testing.T) {
	h := newHarness(t)
	h.mod.next = func() *fakeSession {
		return &fakeSession{overAfter: 3, score: 100, yellow: 10, lives: 0, gameTime: 42}
	}
	if err := h.ctrl.SelectVariant("blue"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	for i := 0; i < 6; i++ {
		h.tick(16 * time.Millisecond)
	}

	if len(h.ended) != 1 {
		t.Fatalf("end-of-session handled %d times, want 1", len(h.ended))
	}
	m := h.ended[0]
	if m.Score != 100 || m.YellowCount != 10 || m.GameTimeSeconds != 42 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if h.ctrl.State() != Ended {
		t.Fatalf("state = %v, want ended", h.ctrl.State())
	}
	if h.sched.Pending() != 0 {
		t.Fatal("loop must stop after game over")
	}

	s := h.mod.last()
	scoreAt, stopAt := -1, -1
	for i, c := range s.calls {
		if c == "score" {
			scoreAt = i
		}
		if c == "stop" && stopAt == -1 && scoreAt != -1 {
			stopAt = i
		}
	}
	if scoreAt == -1 || stopAt == -1 || stopAt < scoreAt {
		t.Fatalf("metrics must be read before stop: %v", s.calls)
	}
	if h.presenter.lastScreen() != ScreenGameOver {
		t.Fatalf("screen = %s, want gameover", h.presenter.lastScreen())
	}

	if err := h.ctrl.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if h.ctrl.State() != Playing || s.calls[len(s.calls)-1] != "restart" {
		t.Fatalf("restart should reuse the session object: %v", s.calls)
	}
}

func TestEngineReportedGameOver(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.SelectVariant("blue"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	h.tick(0)
	h.mod.last().engineOver = true
	h.tick(16 * time.Millisecond)
	if len(h.ended) != 1 || h.ctrl.State() != Ended {
		t.Fatalf("engine-reported game over not handled: ended=%d state=%v", len(h.ended), h.ctrl.State())
	}
}

func TestRuntimeErrorStopsLoop(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeSession)
	}{
		{name: "error", setup: func(s *fakeSession) { s.advanceErr = errors.New("unreachable executed") }},
		{name: "panic", setup: func(s *fakeSession) { s.advancePanic = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if err := h.ctrl.SelectVariant("blue"); err != nil {
				t.Fatalf("SelectVariant: %v", err)
			}
			h.tick(0)
			s := h.mod.last()
			tt.setup(s)

			h.tick(16 * time.Millisecond)
			h.tick(16 * time.Millisecond)

			if len(h.presenter.alerts) != 1 || !IsRuntime(h.presenter.alerts[0]) {
				t.Fatalf("alerts = %v, want one RuntimeError", h.presenter.alerts)
			}
			if !IsRuntime(h.ctrl.Err()) {
				t.Fatalf("Err() = %v", h.ctrl.Err())
			}
			if h.ctrl.State() != Ended {
				t.Fatalf("state = %v, want ended", h.ctrl.State())
			}
			if h.sched.Pending() != 0 {
				t.Fatal("loop re-entered after an engine error")
			}
			if len(h.ended) != 0 {
				t.Fatal("failed session must not be handed to the proof flow")
			}
		})
	}
}

func TestStaleFrameIsDropped(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.SelectVariant("blue"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	var stale func(time.Time)
	h.sched.mu.Lock()
	for _, fn := range h.sched.pending {
		stale = fn
	}
	h.sched.mu.Unlock()

	if err := h.ctrl.SelectVariant("pink"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	stale(h.now)
	if len(h.mod.sessions[0].advances) != 0 || len(h.mod.sessions[1].advances) != 0 {
		t.Fatal("a frame scheduled for a previous loop must not run")
	}
}

func TestSelectVariantToleratesStopFailure(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.SelectVariant("blue"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	h.mod.last().stopErr = errors.New("detached")

	if err := h.ctrl.SelectVariant("pink"); err != nil {
		t.Fatalf("SelectVariant should tolerate stop failure: %v", err)
	}
	if len(h.mod.sessions) != 2 || h.ctrl.Variant() != "pink" {
		t.Fatalf("expected a fresh pink session, sessions=%d variant=%s", len(h.mod.sessions), h.ctrl.Variant())
	}
}

func TestGoHome(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.SelectVariant("blue"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	s := h.mod.last()
	s.stopErr = errors.New("already stopped")

	h.ctrl.GoHome()
	if h.ctrl.State() != NotStarted || h.ctrl.Variant() != "" {
		t.Fatalf("state=%v variant=%q after GoHome", h.ctrl.State(), h.ctrl.Variant())
	}
	if h.sched.Pending() != 0 {
		t.Fatal("GoHome must cancel the loop")
	}
	if s.calls[len(s.calls)-1] != "hide_proof" {
		t.Fatalf("GoHome should hide the proof surface: %v", s.calls)
	}
	if h.presenter.lastScreen() != ScreenMenu {
		t.Fatalf("screen = %s, want menu", h.presenter.lastScreen())
	}
	if err := h.ctrl.Start(); !IsPrecondition(err) {
		t.Fatalf("Start after GoHome: expected PreconditionError, got %v", err)
	}
}

func TestExplicitEnd(t *testing.T) {
	h := newHarness(t)
	if _, err := h.ctrl.End(); !IsPrecondition(err) {
		t.Fatalf("End before start: expected PreconditionError, got %v", err)
	}
	h.mod.next = func() *fakeSession { return &fakeSession{score: 35, yellow: 7, lives: 2} }
	if err := h.ctrl.SelectVariant("blue"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	m, err := h.ctrl.End()
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if m.Score != 35 || m.LivesRemaining != 2 || len(h.ended) != 1 {
		t.Fatalf("unexpected end result %+v ended=%d", m, len(h.ended))
	}
	if _, err := h.ctrl.End(); !IsPrecondition(err) {
		t.Fatalf("second End: expected PreconditionError, got %v", err)
	}
}

func TestSetSoundEnabled(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.SetSoundEnabled(false); err != nil {
		t.Fatalf("SetSoundEnabled: %v", err)
	}
	if err := h.ctrl.SelectVariant("blue"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	s := h.mod.last()
	if s.sound {
		t.Fatal("new session should start with sound disabled")
	}
	if err := h.ctrl.SetSoundEnabled(true); err != nil {
		t.Fatalf("SetSoundEnabled: %v", err)
	}
	if !s.sound || !h.ctrl.SoundEnabled() {
		t.Fatal("sound preference not forwarded")
	}
}

func TestConstructFailureIsRuntimeError(t *testing.T) {
	h := newHarness(t)
	h.mod.newErr = errors.New("bad handle")
	if err := h.ctrl.SelectVariant("blue"); !IsRuntime(err) {
		t.Fatalf("expected RuntimeError, got %v", err)
	}
	if h.ctrl.State() != Ended {
		t.Fatalf("state = %v, want ended", h.ctrl.State())
	}
}

func TestCloseCancelsLoop(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.SelectVariant("blue"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	h.ctrl.Close()
	if h.sched.Pending() != 0 {
		t.Fatal("Close must cancel the loop")
	}
	if err := h.ctrl.Start(); !IsPrecondition(err) {
		t.Fatalf("Start after Close: expected PreconditionError, got %v", err)
	}
}

func TestTickerSchedulerFires(t *testing.T) {
	s := NewTickerScheduler(200, nil)
	fired := make(chan time.Time, 1)
	s.RequestFrame(func(ts time.Time) { fired <- ts })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("frame never fired")
	}
	if s.Pending() != 0 {
		t.Fatalf("pending = %d after firing", s.Pending())
	}
}

func TestTickerSchedulerCancel(t *testing.T) {
	s := NewTickerScheduler(1, nil)
	var fired atomic.Bool
	h := s.RequestFrame(func(time.Time) { fired.Store(true) })
	if s.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", s.Pending())
	}
	s.CancelFrame(h)
	if s.Pending() != 0 || fired.Load() {
		t.Fatalf("pending = %d fired = %v after cancel", s.Pending(), fired.Load())
	}
}
