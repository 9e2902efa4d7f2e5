package store

import "fmt"

// Config selects and configures a storage backend. The discriminator-to-
// implementation mapping is explicit configuration, not reflection.
type Config struct {
	// Backend is the storage backend discriminator. Only "sqlite" is
	// implemented today; the factory exists so additional row stores can
	// be slotted in without touching callers.
	Backend string `toml:"backend"`
	DataDir string `toml:"data_dir"`
}

// NewStore creates the configured storage backend.
func NewStore(cfg Config) (*Store, error) {
	switch cfg.Backend {
	case "sqlite", "":
		return Open(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}
