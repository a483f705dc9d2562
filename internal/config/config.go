// Package config loads process configuration from environment variables.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// AppDirName is the per-user data directory name of the desktop app.
const AppDirName = "zklabubu-desktop"

// App configures the desktop client.
type App struct {
	BackendURL    string        `env:"ZKLABUBU_BACKEND_URL" envDefault:"http://localhost:3000"`
	BackendToken  string        `env:"ZKLABUBU_BACKEND_TOKEN"`
	Restricted    bool          `env:"ZKLABUBU_RESTRICTED" envDefault:"false"`
	AssetDir      string        `env:"ZKLABUBU_ASSET_DIR" envDefault:"frontend/dist/assets"`
	AssetManifest string        `env:"ZKLABUBU_ASSET_MANIFEST"`
	EngineScript  string        `env:"ZKLABUBU_ENGINE_SCRIPT"`
	EngineSeed    int64         `env:"ZKLABUBU_ENGINE_SEED"`
	FrameRate     int           `env:"ZKLABUBU_FRAME_RATE" envDefault:"60"`
	ProofTimeout  time.Duration `env:"ZKLABUBU_PROOF_TIMEOUT" envDefault:"5m"`
	DataDir       string        `env:"ZKLABUBU_DATA_DIR"`
}

// Validate checks value ranges env parsing cannot express.
func (a App) Validate() error {
	if a.FrameRate <= 0 || a.FrameRate > 240 {
		return fmt.Errorf("config: frame rate %d out of range (1-240)", a.FrameRate)
	}
	if a.ProofTimeout <= 0 {
		return fmt.Errorf("config: proof timeout must be positive")
	}
	if a.BackendURL == "" {
		return fmt.Errorf("config: backend url is required")
	}
	return nil
}

// ResolveDataDir returns DataDir or an OS-appropriate writable directory.
func (a App) ResolveDataDir() string {
	if a.DataDir != "" {
		return a.DataDir
	}
	if d, err := os.UserConfigDir(); err == nil && d != "" {
		return filepath.Join(d, AppDirName)
	}
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return filepath.Join(h, "."+AppDirName)
	}
	return "."
}

// Server configures the proving backend.
type Server struct {
	Host      string        `env:"PROOF_SERVER_HOST" envDefault:"127.0.0.1"`
	Port      int           `env:"PORT" envDefault:"3000"`
	ScriptDir string        `env:"PROOF_SCRIPT_DIR" envDefault:"zklabubu_proof/script"`
	Command   []string      `env:"PROOF_COMMAND" envSeparator:" "`
	Token     string        `env:"PROOF_TOKEN"`
	Timeout   time.Duration `env:"PROOF_TIMEOUT" envDefault:"10m"`
}

// Addr returns host:port.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate checks value ranges env parsing cannot express.
func (s Server) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", s.Port)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("config: prover timeout must be positive")
	}
	return nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseConfig parses cfg from the environment.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return ParseEnv(cfg)
}

// ParseConfigFromArgs parses the environment first, then flags that may
// override it.
func ParseConfigFromArgs[T any](cfg *T, fs *flag.FlagSet, args []string) error {
	if err := ParseConfig(cfg); err != nil {
		return err
	}
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}
