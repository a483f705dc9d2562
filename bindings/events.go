package bindings

import (
	"context"
	"sync"

	wruntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/d3lta02/zklabubu-desktop/internal/engine"
	"github.com/d3lta02/zklabubu-desktop/internal/proof"
	"github.com/d3lta02/zklabubu-desktop/internal/scoring"
	"github.com/d3lta02/zklabubu-desktop/internal/session"
)

// Events emitted to the frontend.
const (
	EventLoadingProgress = "loading:progress"
	EventScreen          = "screen"
	EventHUD             = "hud"
	EventFrame           = "frame"
	EventSound           = "sound"
	EventProofSurface    = "proof:surface"
	EventProofLog        = "proof:log"
	EventProofResult     = "proof:result"
	EventSessionEnd      = "session:end"
	EventAlert           = "alert"
)

// Screens owned by the app rather than the session controller.
const (
	ScreenLoading session.Screen = "loading"
	ScreenError   session.Screen = "error"
)

// Emitter delivers named events to the presentation layer.
type Emitter interface {
	Emit(event string, data ...any)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event string, data ...any)

// Emit calls f.
func (f EmitterFunc) Emit(event string, data ...any) { f(event, data...) }

// WailsEmitter emits through the Wails runtime bound to Ctx.
type WailsEmitter struct {
	Ctx context.Context
}

// Emit forwards to runtime.EventsEmit.
func (w WailsEmitter) Emit(event string, data ...any) {
	wruntime.EventsEmit(w.Ctx, event, data...)
}

// ProofResultEvent is the payload of EventProofResult.
type ProofResultEvent struct {
	RunID      string                 `json:"runId"`
	Valid      bool                   `json:"valid"`
	Hash       string                 `json:"hash"`
	Simulation bool                   `json:"simulation"`
	ProofType  string                 `json:"proofType,omitempty"`
	Metrics    scoring.SessionMetrics `json:"metrics"`
}

// presenter turns controller and orchestrator callbacks into events. Events
// emitted before an Emitter is attached are dropped.
type presenter struct {
	mu  sync.RWMutex
	out Emitter
}

func (p *presenter) attach(e Emitter) {
	p.mu.Lock()
	p.out = e
	p.mu.Unlock()
}

func (p *presenter) emit(event string, data ...any) {
	p.mu.RLock()
	out := p.out
	p.mu.RUnlock()
	if out != nil {
		out.Emit(event, data...)
	}
}

func (p *presenter) ShowScreen(screen session.Screen) { p.emit(EventScreen, string(screen)) }
func (p *presenter) UpdateHUD(stats engine.Stats) { p.emit(EventHUD, stats) }
func (p *presenter) RenderFrame(frame engine.Frame) { p.emit(EventFrame, frame) }
func (p *presenter) PlaySound(asset string) { p.emit(EventSound, asset) }
func (p *presenter) ProofSurface(visible bool) { p.emit(EventProofSurface, visible) }
func (p *presenter) Progress(percent float64) { p.emit(EventLoadingProgress, percent) }
func (p *presenter) ProofLog(line string) { p.emit(EventProofLog, line) }

func (p *presenter) Alert(err error) {
	if err != nil {
		p.emit(EventAlert, err.Error())
	}
}

// ShowVerdict publishes the final proof result.
func (p *presenter) ShowVerdict(r proof.Result) error {
	p.emit(EventProofResult, ProofResultEvent{
		RunID:      r.RunID,
		Valid:      r.ScoreIsValid,
		Hash:       r.ProofHash,
		Simulation: r.Simulation,
		ProofType:  r.ProofType,
		Metrics:    r.Metrics,
	})
	return nil
}
