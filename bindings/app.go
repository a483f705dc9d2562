// Package bindings exposes the game to the Wails frontend. It owns startup
// sequencing, the session controller, the proof orchestrator and local
// persistence, and publishes everything the UI draws as runtime events.
package bindings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/d3lta02/zklabubu-desktop/internal/assets"
	"github.com/d3lta02/zklabubu-desktop/internal/clock"
	"github.com/d3lta02/zklabubu-desktop/internal/config"
	"github.com/d3lta02/zklabubu-desktop/internal/engine"
	"github.com/d3lta02/zklabubu-desktop/internal/prefs"
	"github.com/d3lta02/zklabubu-desktop/internal/proof"
	"github.com/d3lta02/zklabubu-desktop/internal/scoring"
	"github.com/d3lta02/zklabubu-desktop/internal/session"
	"github.com/d3lta02/zklabubu-desktop/internal/store"
)

const (
	dbFileName      = "zklabubu.db"
	prefsFileName   = "prefs.json"
	secretsFileName = "secrets.json"

	// menuDelay is how long the completed progress bar stays on screen.
	menuDelay = 500 * time.Millisecond
)

// ErrNotLoaded is returned by variant resolution before assets finish loading.
var ErrNotLoaded = errors.New("bindings: assets not loaded")

// Options wires an App. Zero fields take production defaults.
type Options struct {
	Config config.App
	// Assets is the filesystem holding manifest paths. Nil reads Config.AssetDir.
	Assets fs.FS
	// Emitter receives UI events. Nil uses the Wails runtime after Startup.
	Emitter   Emitter
	Clock     clock.Clock
	Scheduler session.FrameScheduler
	// Loader produces the engine module. Nil compiles Config.EngineScript or
	// the embedded game script.
	Loader engine.Loader
	// Remote overrides the HTTP proving client.
	Remote proof.Prover
	Logger *log.Logger
}

// App is the object bound to the frontend.
type App struct {
	cfg    config.App
	opts   Options
	clock  clock.Clock
	logger *log.Logger

	pres       *presenter
	bridge     *engine.Bridge
	controller *session.Controller

	ctx context.Context

	bootMu  sync.Mutex
	libMu   sync.RWMutex
	library *assets.Library

	prefs   *prefs.File
	secrets *prefs.KeyringStore
	store   *store.Store
	remote  *tokenProver
	proofs  *proof.Orchestrator

	mu          sync.Mutex
	lastMetrics *scoring.SessionMetrics
	lastSession string
}

// New builds an App. Persistence is opened by Open.
func New(opts Options) (*App, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[APP] ", log.LstdFlags|log.Lshortfile)
	}
	c := opts.Clock
	if c == nil {
		c = clock.System{}
	}

	a := &App{
		cfg:    opts.Config,
		opts:   opts,
		clock:  c,
		logger: logger,
		pres:   &presenter{},
		ctx:    context.Background(),
	}
	if opts.Emitter != nil {
		a.pres.attach(opts.Emitter)
	}

	loader := opts.Loader
	if loader == nil {
		scfg := engine.ScriptConfig{Seed: opts.Config.EngineSeed}
		if opts.Config.EngineScript != "" {
			loader = engine.FileLoader(opts.Config.EngineScript, scfg)
		} else {
			loader = engine.ScriptLoader(engine.DefaultSource(), scfg)
		}
	}
	a.bridge = engine.NewBridge(loader, nil)

	sched := opts.Scheduler
	if sched == nil {
		sched = session.NewTickerScheduler(opts.Config.FrameRate, c)
	}
	ctrl, err := session.New(session.Config{
		Engine:       a.bridge,
		Assets:       libraryResolver{a},
		Scheduler:    sched,
		Presenter:    a.pres,
		OnSessionEnd: a.onSessionEnd,
	})
	if err != nil {
		return nil, err
	}
	a.controller = ctrl
	return a, nil
}

// Startup is the Wails OnStartup hook.
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx
	if a.opts.Emitter == nil {
		a.pres.attach(WailsEmitter{Ctx: ctx})
	}
	if err := a.Open(); err != nil {
		a.logger.Printf("open_failed error=%q", err)
	}
	go func() {
		if err := a.Boot(ctx); err != nil {
			a.logger.Printf("boot_failed error=%q", err)
		}
	}()
}

// Shutdown is the Wails OnShutdown hook.
func (a *App) Shutdown(ctx context.Context) {
	a.controller.Close()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Printf("store_close_failed error=%q", err)
		}
	}
	a.logger.Printf("app_shutdown")
}

// Open prepares the data directory, preferences, the backend token, the
// database and the proof orchestrator. Only a missing data directory is
// fatal; the other parts degrade with a log line.
func (a *App) Open() error {
	dir := a.cfg.ResolveDataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bindings: create data dir: %w", err)
	}

	p, err := prefs.Open(filepath.Join(dir, prefsFileName))
	if err != nil {
		a.logger.Printf("prefs_load_failed error=%q", err)
		p = prefs.New(filepath.Join(dir, prefsFileName))
	}
	a.prefs = p

	a.secrets = prefs.NewKeyringStore("", filepath.Join(dir, secretsFileName))
	token := a.cfg.BackendToken
	if token == "" {
		if saved, err := a.secrets.Token(); err == nil {
			token = saved
		} else if !errors.Is(err, prefs.ErrNoToken) {
			a.logger.Printf("token_load_failed error=%q", err)
		}
	}

	st, err := store.New(filepath.Join(dir, dbFileName))
	if err == nil {
		if err = st.Migrate(); err != nil {
			_ = st.Close()
		}
	}
	if err != nil {
		a.logger.Printf("store_unavailable error=%q", err)
	} else {
		a.store = st
	}

	a.remote = newTokenProver(a.cfg, token, a.opts.Remote)
	pcfg := proof.Config{
		Remote:          a.remote,
		Restricted:      a.cfg.Restricted,
		ForceSimulation: a.prefs.ForceSimulation,
		Clock:           a.clock,
		Verdict:         a.pres,
	}
	if a.store != nil {
		pcfg.Recorder = a.store
	}
	a.proofs = proof.New(pcfg)

	if err := a.controller.SetSoundEnabled(a.prefs.Get().SoundEnabled); err != nil {
		a.logger.Printf("apply_sound_pref_failed error=%q", err)
	}
	a.logger.Printf("app_opened data_dir=%s store=%t restricted=%t", dir, a.store != nil, a.cfg.Restricted)
	return nil
}

// Boot runs the loading sequence: assets to 50%, engine to 60%, then 100%
// and the menu. An engine failure leaves the error screen up; Reload tries
// again.
func (a *App) Boot(ctx context.Context) error {
	a.bootMu.Lock()
	defer a.bootMu.Unlock()

	start := a.clock.Now()
	a.pres.ShowScreen(ScreenLoading)
	a.pres.Progress(10)

	manifest := assets.DefaultManifest()
	if a.cfg.AssetManifest != "" {
		m, err := assets.LoadManifestFile(a.cfg.AssetManifest)
		if err != nil {
			return a.bootFailed(err)
		}
		manifest = m
	}

	fsys := a.opts.Assets
	if fsys == nil {
		fsys = os.DirFS(a.cfg.AssetDir)
	}
	loader := assets.NewLoader(assets.Config{
		Fetcher:  assets.FSFetcher{FS: fsys},
		Progress: a.pres.Progress,
		Low:      20,
		High:     50,
	})
	lib, err := loader.Load(ctx, manifest)
	if err != nil {
		return a.bootFailed(err)
	}
	a.libMu.Lock()
	a.library = lib
	a.libMu.Unlock()
	a.pres.Progress(50)

	if _, err := a.bridge.Initialize(ctx); err != nil {
		a.pres.Progress(60)
		return a.bootFailed(err)
	}
	a.pres.Progress(60)
	a.pres.Progress(100)

	if err := a.clock.Sleep(ctx, menuDelay); err != nil {
		return err
	}
	a.pres.ShowScreen(session.ScreenMenu)
	a.logger.Printf("boot_completed assets=%d failed=%d duration=%v",
		lib.Len(), len(lib.Failures()), a.clock.Now().Sub(start))
	return nil
}

func (a *App) bootFailed(err error) error {
	a.pres.ShowScreen(ScreenError)
	a.pres.Alert(err)
	a.logger.Printf("boot_failed error=%q", err)
	return err
}

// Reload retries the boot sequence when the engine never came up.
func (a *App) Reload() error {
	if a.bridge.Ready() {
		return nil
	}
	return a.Boot(a.ctx)
}

// libraryResolver resolves variants against whichever library the latest
// boot loaded.
type libraryResolver struct{ a *App }

func (r libraryResolver) Bindings(variant string) (engine.Bindings, error) {
	r.a.libMu.RLock()
	lib := r.a.library
	r.a.libMu.RUnlock()
	if lib == nil {
		return engine.Bindings{}, ErrNotLoaded
	}
	return lib.Bindings(variant)
}

func (a *App) onSessionEnd(m scoring.SessionMetrics) {
	var id string
	if a.store != nil {
		var err error
		id, err = a.store.RecordSession(a.ctx, a.controller.Variant(), m, a.clock.Now())
		if err != nil {
			a.logger.Printf("record_session_failed error=%q", err)
		}
	}
	a.mu.Lock()
	a.lastMetrics = &m
	a.lastSession = id
	a.mu.Unlock()
	a.pres.emit(EventSessionEnd, m)
}

// alert reports controller failures to the UI and passes err through.
func (a *App) alert(err error) error {
	if err != nil && session.IsPrecondition(err) {
		a.pres.Alert(err)
	}
	return err
}

// SelectVariant starts a session with the chosen character and remembers
// the choice.
func (a *App) SelectVariant(variant string) error {
	if err := a.alert(a.controller.SelectVariant(variant)); err != nil {
		return err
	}
	if a.prefs != nil {
		if err := a.prefs.Update(func(p *prefs.Prefs) { p.Variant = variant }); err != nil {
			a.logger.Printf("save_variant_failed error=%q", err)
		}
	}
	return nil
}

func (a *App) Restart() error { return a.alert(a.controller.Restart()) }
func (a *App) Pause() error { return a.alert(a.controller.Pause()) }
func (a *App) Resume() error { return a.alert(a.controller.Resume()) }
func (a *App) TogglePause() error { return a.alert(a.controller.TogglePause()) }

// GoHome returns to the character menu.
func (a *App) GoHome() {
	a.controller.GoHome()
}

// HandleKey forwards a key press from the frontend.
func (a *App) HandleKey(key string) error {
	return a.alert(a.controller.HandleKey(engine.KeyEvent{Key: key}))
}

// EndSession ends the running session and returns its metrics.
func (a *App) EndSession() (scoring.SessionMetrics, error) {
	m, err := a.controller.End()
	return m, a.alert(err)
}

// State reports the session state name.
func (a *App) State() string {
	return a.controller.State().String()
}

// Variants lists the selectable characters.
func (a *App) Variants() []assets.Variant {
	return assets.ListVariants()
}

// Settings returns the persisted preferences.
func (a *App) Settings() prefs.Prefs {
	if a.prefs == nil {
		return prefs.Defaults()
	}
	return a.prefs.Get()
}

// SetSoundEnabled toggles sound for the current and future sessions.
func (a *App) SetSoundEnabled(enabled bool) error {
	if a.prefs != nil {
		if err := a.prefs.Update(func(p *prefs.Prefs) { p.SoundEnabled = enabled }); err != nil {
			return err
		}
	}
	return a.controller.SetSoundEnabled(enabled)
}

// SetForceSimulation makes later proof runs skip the backend.
func (a *App) SetForceSimulation(force bool) error {
	if a.prefs == nil {
		return fmt.Errorf("bindings: preferences unavailable")
	}
	return a.prefs.Update(func(p *prefs.Prefs) { p.ForceSimulation = force })
}

// SetBackendToken stores the proving backend token. An empty token removes
// it.
func (a *App) SetBackendToken(token string) error {
	if a.secrets == nil || a.remote == nil {
		return fmt.Errorf("bindings: not opened")
	}
	var err error
	if token == "" {
		err = a.secrets.DeleteToken()
	} else {
		err = a.secrets.SetToken(token)
	}
	if err != nil {
		return err
	}
	a.remote.SetToken(token)
	return nil
}

// GenerateProof proves the metrics of the last finished session.
func (a *App) GenerateProof() (proof.Result, error) {
	if a.proofs == nil {
		return proof.Result{}, fmt.Errorf("bindings: not opened")
	}
	a.mu.Lock()
	last := a.lastMetrics
	sessionID := a.lastSession
	a.mu.Unlock()
	if last == nil {
		err := &session.PreconditionError{Op: "generate_proof", Reason: "no finished session"}
		a.pres.Alert(err)
		return proof.Result{}, err
	}

	if err := a.controller.ShowProofSurface(); err != nil {
		a.logger.Printf("show_proof_surface_failed error=%q", err)
	}
	ctx := a.ctx
	if sessionID != "" {
		ctx = store.WithSessionID(ctx, sessionID)
	}
	return a.proofs.Run(ctx, *last, proof.Timestamped(a.clock, proof.SinkFunc(a.pres.ProofLog)))
}

// HideProof closes the proof surface.
func (a *App) HideProof() error {
	return a.controller.HideProofSurface()
}

// CurrentProof returns the live proof result, if any.
func (a *App) CurrentProof() *proof.Result {
	if a.proofs == nil {
		return nil
	}
	r, ok := a.proofs.Current()
	if !ok {
		return nil
	}
	return &r
}

// ShareText formats the share message for the current proof.
func (a *App) ShareText() (string, error) {
	r := a.CurrentProof()
	if r == nil {
		return "", fmt.Errorf("bindings: no proof to share")
	}
	return scoring.ShareText(r.Metrics), nil
}

// Sessions lists recorded sessions newest first.
func (a *App) Sessions(limit, offset int) ([]store.Session, error) {
	if a.store == nil {
		return nil, fmt.Errorf("bindings: store unavailable")
	}
	out, _, err := a.store.ListSessions(a.ctx, limit, offset)
	return out, err
}

// ProofRuns lists proof runs, optionally for one session.
func (a *App) ProofRuns(sessionID string, limit int) ([]store.ProofRun, error) {
	if a.store == nil {
		return nil, fmt.Errorf("bindings: store unavailable")
	}
	return a.store.ListRuns(a.ctx, sessionID, limit)
}

// ProofLogs returns the log lines of one run.
func (a *App) ProofLogs(runID string) ([]string, error) {
	if a.store == nil {
		return nil, fmt.Errorf("bindings: store unavailable")
	}
	return a.store.RunLogs(a.ctx, runID)
}

// tokenProver rebuilds the HTTP client when the backend token changes.
type tokenProver struct {
	cfg      config.App
	override proof.Prover

	mu     sync.RWMutex
	client proof.Prover
}

func newTokenProver(cfg config.App, token string, override proof.Prover) *tokenProver {
	t := &tokenProver{cfg: cfg, override: override}
	t.SetToken(token)
	return t
}

func (t *tokenProver) SetToken(token string) {
	var client proof.Prover = t.override
	if client == nil {
		client = proof.NewRemoteClient(proof.ClientConfig{
			BaseURL: t.cfg.BackendURL,
			Token:   token,
			Timeout: t.cfg.ProofTimeout,
		})
	}
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
}

func (t *tokenProver) GenerateProof(ctx context.Context, m scoring.SessionMetrics) (*proof.Response, error) {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	return client.GenerateProof(ctx, m)
}
