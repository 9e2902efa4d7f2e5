// Package destroy is the seam to the infrastructure-destroy backend:
// idempotent, best-effort teardown of the live resources behind one
// instance state.
package destroy

import (
	"context"
	"fmt"
)

// Request identifies the instance state whose backing resources should be
// destroyed.
type Request struct {
	ProjectID    string
	StateID      string
	LibraryID    string
	InstanceName string
	InstanceType string
}

// Destroyer tears down the live resources behind an instance state.
// Implementations must be idempotent: destroying an already-gone instance
// succeeds.
type Destroyer interface {
	DeleteState(ctx context.Context, req Request) error
}

// Config selects a destroy backend by discriminator string.
type Config struct {
	// Backend is "docker" or "null".
	Backend string `toml:"backend"`
}

// New creates the configured destroy backend.
func New(cfg Config) (Destroyer, error) {
	switch cfg.Backend {
	case "null", "":
		return Null{}, nil
	case "docker":
		return NewDocker()
	default:
		return nil, fmt.Errorf("unknown destroy backend: %s", cfg.Backend)
	}
}

// Null is a destroyer that does nothing. Used when instances hold no
// locally-destroyable resources.
type Null struct{}

func (Null) DeleteState(context.Context, Request) error { return nil }
