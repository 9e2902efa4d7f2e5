package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apple/pkl-go/pkl"

	"github.com/corral-io/corral/internal/model"
)

// PklResolver loads project declarations from PKL modules on disk, one
// module per project.
type PklResolver struct {
	projectDir string
}

func NewPklResolver(projectDir string) *PklResolver {
	return &PklResolver{projectDir: projectDir}
}

// projectModule mirrors the PKL module shape of a project declaration.
type projectModule struct {
	Project        model.Project             `pkl:"project"`
	Library        model.Library             `pkl:"library"`
	Instances      []model.DeclaredInstance  `pkl:"instances"`
	Hubs           []model.Hub               `pkl:"hubs"`
	ResolvedInputs map[string]map[string]any `pkl:"resolvedInputs"`
}

func (r *PklResolver) Resolve(ctx context.Context, projectID string) (*Resolution, error) {
	path := filepath.Join(r.projectDir, projectID+".pkl")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("project declaration %s: %w", path, model.ErrNotFound)
	}

	evaluator, err := pkl.NewEvaluator(ctx, pkl.PreconfiguredOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var mod projectModule
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(path), &mod); err != nil {
		return nil, fmt.Errorf("failed to evaluate project declaration %s: %w", path, err)
	}

	if mod.Project.ID == "" {
		mod.Project.ID = projectID
	}

	return &Resolution{
		Project:        mod.Project,
		Library:        mod.Library,
		Instances:      mod.Instances,
		Hubs:           mod.Hubs,
		ResolvedInputs: mod.ResolvedInputs,
	}, nil
}
