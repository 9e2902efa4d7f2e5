// Package resolver supplies the declared instance/hub graph and the
// resolved-inputs map for a project. Input resolution itself happens
// upstream; this package only loads its results.
package resolver

import (
	"context"
	"fmt"

	"github.com/corral-io/corral/internal/model"
)

// Resolution is the declared shape of one project.
type Resolution struct {
	Project        model.Project
	Library        model.Library
	Instances      []model.DeclaredInstance
	Hubs           []model.Hub
	ResolvedInputs map[string]map[string]any
}

// ProjectResolver loads the declared model of a project.
type ProjectResolver interface {
	Resolve(ctx context.Context, projectID string) (*Resolution, error)
}

// Config selects a resolver backend by discriminator string.
type Config struct {
	// Kind is "pkl" or "static".
	Kind string `toml:"kind"`
	// ProjectDir is the directory holding <projectID>.pkl declarations
	// for the pkl resolver.
	ProjectDir string `toml:"project_dir"`
}

// New creates the configured resolver.
func New(cfg Config) (ProjectResolver, error) {
	switch cfg.Kind {
	case "pkl", "":
		return NewPklResolver(cfg.ProjectDir), nil
	case "static":
		return NewStaticResolver(nil), nil
	default:
		return nil, fmt.Errorf("unknown resolver kind: %s", cfg.Kind)
	}
}

// StaticResolver serves fixed resolutions from memory.
type StaticResolver struct {
	resolutions map[string]*Resolution
}

func NewStaticResolver(resolutions map[string]*Resolution) *StaticResolver {
	if resolutions == nil {
		resolutions = make(map[string]*Resolution)
	}
	return &StaticResolver{resolutions: resolutions}
}

// Set registers or replaces the resolution of one project.
func (r *StaticResolver) Set(projectID string, res *Resolution) {
	r.resolutions[projectID] = res
}

func (r *StaticResolver) Resolve(_ context.Context, projectID string) (*Resolution, error) {
	res, ok := r.resolutions[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, model.ErrNotFound)
	}
	return res, nil
}
