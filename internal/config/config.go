// Package config loads the corral configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/corral-io/corral/internal/destroy"
	"github.com/corral-io/corral/internal/library"
	"github.com/corral-io/corral/internal/resolver"
	"github.com/corral-io/corral/internal/snapshot"
	"github.com/corral-io/corral/internal/store"
)

// Config is the full corral.toml shape.
type Config struct {
	LogLevel string `toml:"log_level"`

	Store     store.Config    `toml:"store"`
	Resolver  resolver.Config `toml:"resolver"`
	Evaluator library.Config  `toml:"evaluator"`
	Destroy   destroy.Config  `toml:"destroy"`
	Snapshot  snapshot.Config `toml:"snapshot"`

	Lock LockConfig `toml:"lock"`
}

// LockConfig tunes the blocking lock protocol.
type LockConfig struct {
	// EventWaitMS bounds each wait for an unlock event, in milliseconds.
	EventWaitMS int `toml:"event_wait_ms"`
}

// EventWaitTime returns the configured wait as a duration, zero when
// unset.
func (c LockConfig) EventWaitTime() time.Duration {
	return time.Duration(c.EventWaitMS) * time.Millisecond
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		LogLevel: "info",
		Store: store.Config{
			Backend: "sqlite",
			DataDir: "data",
		},
		Resolver:  resolver.Config{Kind: "pkl", ProjectDir: "projects"},
		Evaluator: library.Config{Kind: "builtin"},
		Destroy:   destroy.Config{Backend: "null"},
		Lock:      LockConfig{EventWaitMS: 60000},
	}
}

// Load reads path over the defaults. A missing file returns the defaults
// untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
