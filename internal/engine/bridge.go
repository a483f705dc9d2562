package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Loader performs one load-and-initialize attempt of an engine module.
type Loader interface {
	Load(ctx context.Context) (Module, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Module, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context) (Module, error) { return f(ctx) }

// InitError reports a failed engine initialization. It is never retried
// automatically.
type InitError struct {
	Cause error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("engine: initialization failed: %v", e.Cause)
}

func (e *InitError) Unwrap() error { return e.Cause }

// Bridge loads the engine module exactly once and caches it.
type Bridge struct {
	loader Loader
	logger *log.Logger

	mu     sync.Mutex
	module Module
}

// NewBridge returns a bridge around loader. A nil logger logs to stdout.
func NewBridge(loader Loader, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.New(os.Stdout, "[ENGINE] ", log.LstdFlags|log.Lshortfile)
	}
	return &Bridge{loader: loader, logger: logger}
}

// Initialize loads the module. Once it has succeeded, later calls return the
// cached module without loading again. Concurrent callers wait for the
// in-flight attempt. A failure is returned as *InitError and leaves the
// bridge uninitialized so that a later explicit call can try again.
func (b *Bridge) Initialize(ctx context.Context) (Module, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.module != nil {
		return b.module, nil
	}

	start := time.Now()
	m, err := b.load(ctx)
	if err != nil {
		b.logger.Printf("engine_init_failed duration=%v error=%q", time.Since(start), err)
		return nil, &InitError{Cause: err}
	}
	if m == nil {
		b.logger.Printf("engine_init_failed duration=%v error=%q", time.Since(start), "loader returned no module")
		return nil, &InitError{Cause: fmt.Errorf("loader returned no module")}
	}

	b.module = m
	b.logger.Printf("engine_initialized duration=%v", time.Since(start))
	return m, nil
}

func (b *Bridge) load(ctx context.Context) (m Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during load: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.loader.Load(ctx)
}

// Ready reports whether Initialize has succeeded.
func (b *Bridge) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.module != nil
}

// Module returns the cached module, if any.
func (b *Bridge) Module() (Module, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.module, b.module != nil
}
