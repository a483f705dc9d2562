package assets

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// LoadError records one resource that failed to load.
type LoadError struct {
	Name string
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("assets: load %s (%s): %v", e.Name, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Handle is a loaded resource.
type Handle struct {
	Name   string
	Path   string
	Kind   Kind
	Data   []byte
	Volume float64
	Loop   bool
	// FellBack is set when Data belongs to another resource.
	FellBack bool
	// Source names the resource Data was loaded for.
	Source string
}

// Missing reports whether neither the resource nor any fallback loaded.
func (h *Handle) Missing() bool { return len(h.Data) == 0 }

// Library holds the handles produced by a load.
type Library struct {
	mu       sync.RWMutex
	handles  map[string]*Handle
	failures []*LoadError
}

// Get returns the handle for name.
func (l *Library) Get(name string) (*Handle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.handles[name]
	return h, ok
}

// Names returns every handle name in sorted order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.handles))
	for name := range l.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of handles.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handles)
}

// Failures returns the load errors recorded during the load.
func (l *Library) Failures() []*LoadError {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*LoadError(nil), l.failures...)
}

// Config configures a Loader.
type Config struct {
	Fetcher Fetcher
	// Progress receives percentages in [Low, High]. It is called from the
	// load goroutines but never concurrently.
	Progress func(percent float64)
	Low      float64
	High     float64
	// Concurrency bounds in-flight fetches. Zero means unbounded.
	Concurrency int
	Logger      *log.Logger
}

// Loader loads every resource of a manifest.
type Loader struct {
	cfg    Config
	logger *log.Logger
}

// NewLoader returns a Loader. Low and High default to 20 and 50.
func NewLoader(cfg Config) *Loader {
	if cfg.Low == 0 && cfg.High == 0 {
		cfg.Low, cfg.High = 20, 50
	}
	if cfg.High < cfg.Low {
		cfg.Low, cfg.High = cfg.High, cfg.Low
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[ASSETS] ", log.LstdFlags|log.Lshortfile)
	}
	return &Loader{cfg: cfg, logger: logger}
}

// Load fetches every resource in m concurrently and returns once each has
// either loaded or failed. Failed resources are re-pointed at their
// fallback after all fetches have reported. Only context cancellation or an
// invalid manifest produce an error.
func (l *Loader) Load(ctx context.Context, m *Manifest) (*Library, error) {
	if m == nil {
		return nil, fmt.Errorf("assets: nil manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if l.cfg.Fetcher == nil {
		return nil, fmt.Errorf("assets: no fetcher configured")
	}

	entries := m.entries()
	total := len(entries)
	lib := &Library{handles: make(map[string]*Handle, total)}
	byName := make(map[string]entry, total)
	for _, e := range entries {
		byName[e.name] = e
	}

	start := time.Now()
	var (
		mu       sync.Mutex
		done     int
		loaded   = make(map[string][]byte, total)
		failures []*LoadError
	)
	l.report(l.cfg.Low)

	g, gctx := errgroup.WithContext(ctx)
	if l.cfg.Concurrency > 0 {
		g.SetLimit(l.cfg.Concurrency)
	}
	for _, e := range entries {
		g.Go(func() error {
			data, err := l.cfg.Fetcher.Fetch(gctx, e.path)
			if err == nil && len(data) == 0 {
				err = fmt.Errorf("empty resource")
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lerr := &LoadError{Name: e.name, Path: e.path, Err: err}
				failures = append(failures, lerr)
				l.logger.Printf("asset_load_failed name=%s path=%s fallback=%s error=%q", e.name, e.path, e.fallback, err)
			} else {
				loaded[e.name] = data
			}
			done++
			l.report(l.cfg.Low + (l.cfg.High-l.cfg.Low)*float64(done)/float64(total))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("assets: load cancelled: %w", err)
	}

	for _, e := range entries {
		h := &Handle{Name: e.name, Path: e.path, Kind: e.kind, Volume: e.volume, Loop: e.loop, Source: e.name}
		if data, ok := loaded[e.name]; ok {
			h.Data = data
		} else {
			h.FellBack = true
			h.Source = ""
			for cur := e.fallback; cur != ""; cur = byName[cur].fallback {
				if data, ok := loaded[cur]; ok {
					h.Data = data
					h.Source = cur
					break
				}
			}
			if h.Source != "" {
				l.logger.Printf("asset_fallback name=%s source=%s", e.name, h.Source)
			}
		}
		lib.handles[e.name] = h
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Name < failures[j].Name })
	lib.failures = failures

	if total == 0 {
		l.report(l.cfg.High)
	}
	l.logger.Printf("assets_loaded total=%d failed=%d duration=%v", total, len(failures), time.Since(start))
	return lib, nil
}

func (l *Loader) report(p float64) {
	if l.cfg.Progress != nil {
		l.cfg.Progress(p)
	}
}
