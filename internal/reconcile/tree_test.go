package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corral-io/corral/internal/model"
)

func TestRenderTree(t *testing.T) {
	instances := []model.VirtualInstance{
		{InstanceID: "stack", Kind: model.KindComposite,
			Model: &model.InstanceModel{Type: "stack"}},
		{InstanceID: "stack/db", ParentID: "stack", Kind: model.KindUnit,
			Model: &model.InstanceModel{Type: "postgres"}},
		{InstanceID: "stack/web", ParentID: "stack", Kind: model.KindUnit,
			Model: &model.InstanceModel{Type: "nginx"}},
		{InstanceID: "stack/web/cache", ParentID: "stack/web", Kind: model.KindUnit},
	}

	forest := buildForest(instances)
	got := renderTree(forest["stack"], forest)

	want := "stack (stack)\n" +
		"  stack/db (postgres)\n" +
		"  stack/web (nginx)\n" +
		"    stack/web/cache"
	assert.Equal(t, want, got)
}

func TestRenderTreeIgnoresCycles(t *testing.T) {
	instances := []model.VirtualInstance{
		{InstanceID: "a", ParentID: "b", Kind: model.KindComposite},
		{InstanceID: "b", ParentID: "a", Kind: model.KindComposite},
	}

	forest := buildForest(instances)
	got := renderTree(forest["a"], forest)
	assert.Equal(t, "a\n  b", got)
}
