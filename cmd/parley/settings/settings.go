// Package settings resolves the configuration shared by parley's
// commands from the config file, the environment and global flags.
package settings

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/parley/pkg/config"
	"github.com/papercomputeco/parley/pkg/history"
	"github.com/papercomputeco/parley/pkg/logger"
	"github.com/papercomputeco/parley/pkg/transport"
)

// Flags holds the persistent flags of the root command. Set flags win
// over the environment, which wins over the config file.
type Flags struct {
	ConfigPath string
	Debug      bool
	SQLitePath string
}

// ConfigFile is the config file in use.
func (f *Flags) ConfigFile() string {
	if f.ConfigPath != "" {
		return f.ConfigPath
	}
	return config.DefaultPath()
}

// Load reads the configuration and applies flag overrides.
func (f *Flags) Load() (config.Config, error) {
	cfg, err := config.Load(f.ConfigFile())
	if err != nil {
		return config.Config{}, fmt.Errorf("could not load configuration: %w", err)
	}
	return f.Apply(cfg), nil
}

// Apply overrides cfg with the flags that were set.
func (f *Flags) Apply(cfg config.Config) config.Config {
	if f.Debug {
		cfg.Log.Debug = true
	}
	if f.SQLitePath != "" {
		cfg.Storage.SQLitePath = f.SQLitePath
	}
	return cfg
}

// OpenStore opens the conversation history database.
func OpenStore(cfg config.Config) (*history.SQLiteStore, error) {
	store, err := history.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("could not open history %s: %w", cfg.Storage.SQLitePath, err)
	}
	return store, nil
}

// FileLogger logs to the configured log file, leaving the terminal to the
// command's own output.
func FileLogger(cfg config.Config) *zap.Logger {
	return logger.NewLogger(logger.Options{Debug: cfg.Log.Debug, File: cfg.Log.File})
}

// NewClient creates the chat API client for cfg.
func NewClient(cfg config.Config, log *zap.Logger, observer transport.Observer) (*transport.Client, error) {
	client, err := transport.New(cfg.API.Transport(), log, transport.WithObserver(observer))
	if err != nil {
		return nil, fmt.Errorf("could not create chat client: %w", err)
	}
	return client, nil
}
