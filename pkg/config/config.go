// Package config loads parley's configuration from defaults, an optional
// TOML file, an optional .env file and the environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/papercomputeco/parley/pkg/transport"
)

// Environment variables that override the file.
const (
	EnvBaseURL    = "PARLEY_API_BASE_URL"
	EnvPath       = "PARLEY_API_PATH"
	EnvTimeout    = "PARLEY_API_TIMEOUT"
	EnvSQLitePath = "PARLEY_SQLITE_PATH"
	EnvDebug      = "PARLEY_DEBUG"
	EnvLogFile    = "PARLEY_LOG_FILE"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	dirName        = ".parley"
)

// Config is the complete parley configuration.
type Config struct {
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Log     LogConfig     `toml:"log"`
}

// APIConfig locates the remote chat API.
type APIConfig struct {
	BaseURL string   `toml:"base_url"`
	Path    string   `toml:"path"`
	Timeout Duration `toml:"timeout"`
}

// StorageConfig locates the local conversation history.
type StorageConfig struct {
	// SQLitePath is the history database. Use ":memory:" to keep nothing.
	SQLitePath string `toml:"sqlite_path"`
}

// LogConfig controls logging.
type LogConfig struct {
	Debug bool   `toml:"debug"`
	File  string `toml:"file"`
}

// Transport returns the transport client configuration.
func (a APIConfig) Transport() transport.Config {
	return transport.Config{
		BaseURL: a.BaseURL,
		Path:    a.Path,
		Timeout: a.Timeout.Duration,
	}
}

// Duration is a time.Duration written either as a Go duration string
// ("30s") or as an integer number of milliseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ParseDuration parses a Go duration string or integer milliseconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("invalid duration %q: must be positive", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid duration %q: must be positive", s)
	}
	return d, nil
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	dir := Dir()
	return Config{
		API: APIConfig{
			BaseURL: DefaultBaseURL,
			Path:    transport.DefaultPath,
			Timeout: Duration{transport.DefaultTimeout},
		},
		Storage: StorageConfig{
			SQLitePath: filepath.Join(dir, "parley.db"),
		},
		Log: LogConfig{
			File: filepath.Join(dir, "parley.log"),
		},
	}
}

// Dir returns parley's per-user directory (~/.parley), or a relative
// ".parley" when the home directory is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return dirName
	}
	return filepath.Join(home, dirName)
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load builds the configuration. A missing file at path is not an error;
// an explicitly requested file that is unreadable or invalid is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// .env only fills variables that are not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv(EnvPath); v != "" {
		cfg.API.Path = v
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		cfg.API.Timeout = Duration{d}
	}
	if v := os.Getenv(EnvSQLitePath); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv(EnvDebug); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDebug, err)
		}
		cfg.Log.Debug = debug
	}
	return nil
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.Timeout.Duration <= 0 {
		return errors.New("api.timeout must be positive")
	}
	if c.Storage.SQLitePath == "" {
		return errors.New("storage.sqlite_path is required")
	}
	return nil
}
