package library

import (
	"context"
	"fmt"

	"github.com/corral-io/corral/internal/model"
)

// Builtin is a self-contained evaluator: every composite expands into the
// virtual-instance tree described by the "children" entry of its resolved
// inputs. It exists so a project can be driven end to end without a
// remote library service.
type Builtin struct{}

func NewBuiltin() *Builtin {
	return &Builtin{}
}

type childSpec struct {
	name     string
	typ      string
	kind     model.InstanceKind
	inputs   map[string]any
	children []map[string]any
}

func (b *Builtin) EvaluateCompositeInstances(_ context.Context, _ string, instances []model.DeclaredInstance, resolvedInputs map[string]map[string]any) (*Result, error) {
	result := &Result{
		Success:        true,
		TopLevelErrors: make(map[string]string),
	}

	for _, inst := range instances {
		if inst.Kind != model.KindComposite {
			continue
		}

		inputs := resolvedInputs[inst.InstanceID]
		if inputs == nil {
			inputs = inst.Inputs
		}

		tree, err := b.expand(inst, inputs)
		if err != nil {
			result.TopLevelErrors[inst.InstanceID] = err.Error()
			continue
		}
		result.VirtualInstances = append(result.VirtualInstances, tree...)
	}

	if len(result.TopLevelErrors) == 0 {
		result.TopLevelErrors = nil
	}
	return result, nil
}

// expand produces the composite's subtree: the composite itself as root
// plus one virtual instance per declared child, depth-first. An explicit
// worklist keeps the recursion depth independent of tree depth.
func (b *Builtin) expand(inst model.DeclaredInstance, inputs map[string]any) ([]model.VirtualInstance, error) {
	root := model.VirtualInstance{
		InstanceID: inst.InstanceID,
		Kind:       model.KindComposite,
		Model: &model.InstanceModel{
			Name:   inst.InstanceID,
			Type:   inst.Type,
			Kind:   model.KindComposite,
			Inputs: inputs,
		},
	}
	out := []model.VirtualInstance{root}

	type item struct {
		parentID string
		spec     map[string]any
	}
	var work []item

	children, err := childSpecs(inputs)
	if err != nil {
		return nil, fmt.Errorf("composite %s: %w", inst.InstanceID, err)
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("composite %s declares no children", inst.InstanceID)
	}
	for _, c := range children {
		work = append(work, item{parentID: inst.InstanceID, spec: c})
	}

	for len(work) > 0 {
		it := work[0]
		work = work[1:]

		spec, err := parseChild(it.spec)
		if err != nil {
			return nil, fmt.Errorf("composite %s: %w", inst.InstanceID, err)
		}

		id := it.parentID + "/" + spec.name
		out = append(out, model.VirtualInstance{
			InstanceID: id,
			ParentID:   it.parentID,
			Kind:       spec.kind,
			Model: &model.InstanceModel{
				Name:   spec.name,
				Type:   spec.typ,
				Kind:   spec.kind,
				Inputs: spec.inputs,
			},
		})
		for _, c := range spec.children {
			work = append(work, item{parentID: id, spec: c})
		}
	}
	return out, nil
}

func childSpecs(inputs map[string]any) ([]map[string]any, error) {
	raw, ok := inputs["children"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("children must be a list")
	}
	var out []map[string]any
	for _, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("child entries must be objects")
		}
		out = append(out, m)
	}
	return out, nil
}

func parseChild(m map[string]any) (childSpec, error) {
	name, _ := m["name"].(string)
	if name == "" {
		return childSpec{}, fmt.Errorf("child is missing a name")
	}
	spec := childSpec{
		name: name,
		kind: model.KindUnit,
	}
	if t, ok := m["type"].(string); ok {
		spec.typ = t
	}
	if k, ok := m["kind"].(string); ok && k != "" {
		spec.kind = model.InstanceKind(k)
	}
	if in, ok := m["inputs"].(map[string]any); ok {
		spec.inputs = in
	}
	if spec.kind == model.KindComposite {
		nested, err := childSpecs(map[string]any{"children": m["children"]})
		if err != nil {
			return childSpec{}, err
		}
		spec.children = nested
	}
	return spec, nil
}
