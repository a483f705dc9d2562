// Command proof-server is the local proving backend. It accepts session
// metrics over HTTP and runs the SP1 prover toolchain for each request.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/d3lta02/zklabubu-desktop/internal/api"
	"github.com/d3lta02/zklabubu-desktop/internal/config"
	zotel "github.com/d3lta02/zklabubu-desktop/internal/otel"
	"github.com/d3lta02/zklabubu-desktop/internal/prover"
	"github.com/d3lta02/zklabubu-desktop/internal/scoring"
)

func main() {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags|log.Lshortfile)

	var cfg config.Server
	fs := flag.NewFlagSet("proof-server", flag.ExitOnError)
	host := fs.String("host", "", "listen host (overrides PROOF_SERVER_HOST)")
	port := fs.Int("port", 0, "listen port (overrides PORT)")
	scriptDir := fs.String("script-dir", "", "prover workspace directory (overrides PROOF_SCRIPT_DIR)")
	command := fs.String("command", "", "prover command line (overrides PROOF_COMMAND)")
	timeout := fs.Duration("timeout", 0, "per-proof timeout (overrides PROOF_TIMEOUT)")
	if err := config.ParseConfigFromArgs(&cfg, fs, os.Args[1:]); err != nil {
		logger.Fatalf("config: %v", err)
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *scriptDir != "" {
		cfg.ScriptDir = *scriptDir
	}
	if *command != "" {
		cfg.Command = strings.Fields(*command)
	}
	if *timeout != 0 {
		cfg.Timeout = *timeout
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := zotel.Setup(ctx, "zklabubu-proof-server")
	if err != nil {
		logger.Printf("tracing_disabled error=%q", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing_shutdown_failed error=%q", err)
		}
	}()

	runner := prover.NewExecRunner(prover.Config{
		Dir:     cfg.ScriptDir,
		Command: cfg.Command,
		Timeout: cfg.Timeout,
	})
	if err := runner.Check(ctx); err != nil {
		logger.Printf("prover_unavailable error=%q", err)
	}

	srv := api.NewServer(api.Config{
		Runner:         runner,
		Token:          cfg.Token,
		RequestTimeout: cfg.Timeout + time.Minute,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srv.SecurityLogger().LogSystemStartup(cfg.Addr(), map[string]interface{}{
		"script_dir": cfg.ScriptDir,
		"command":    strings.Join(runner.Args(scoring.SessionMetrics{}), " "),
		"timeout":    cfg.Timeout.String(),
		"token":      cfg.Token,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening addr=%s", cfg.Addr())
		errCh <- httpServer.ListenAndServe()
	}()

	reason := "signal"
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("serve_failed error=%q", err)
			reason = "serve error"
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown_failed error=%q", err)
	}
	srv.SecurityLogger().LogSystemShutdown(reason, srv.Uptime())
}
