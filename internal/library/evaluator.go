// Package library is the seam to the declarative resource-construction
// library: given instances and resolved inputs, it evaluates composite
// instances into a tree of virtual instances, or reports errors. The
// library itself lives elsewhere; this package carries the contract and
// the client implementations.
package library

import (
	"context"
	"fmt"

	"github.com/corral-io/corral/internal/model"
)

// Result is the evaluator's verdict for one run.
type Result struct {
	Success bool `json:"success"`
	// VirtualInstances is the evaluated tree, set on success.
	VirtualInstances []model.VirtualInstance `json:"virtualInstances,omitempty"`
	// TopLevelErrors maps instance ids whose evaluation failed to a
	// per-instance message, set on success.
	TopLevelErrors map[string]string `json:"topLevelErrors,omitempty"`
	// Error is the global failure message when Success is false.
	Error string `json:"error,omitempty"`
}

// Evaluator evaluates composite instances against a library. A returned
// error means the evaluation call itself failed (transport, crash);
// content-level failures come back inside the Result.
type Evaluator interface {
	EvaluateCompositeInstances(ctx context.Context, libraryID string, instances []model.DeclaredInstance, resolvedInputs map[string]map[string]any) (*Result, error)
}

// Config selects an evaluator backend by discriminator string.
type Config struct {
	// Kind is "builtin" or "remote".
	Kind string `toml:"kind"`
	// Address is the gRPC target of the remote evaluator.
	Address string `toml:"address"`
}

// New creates the configured evaluator.
func New(cfg Config) (Evaluator, error) {
	switch cfg.Kind {
	case "builtin", "":
		return NewBuiltin(), nil
	case "remote":
		return NewRemote(cfg.Address)
	default:
		return nil, fmt.Errorf("unknown evaluator kind: %s", cfg.Kind)
	}
}
