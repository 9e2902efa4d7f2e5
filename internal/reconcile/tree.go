package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/corral-io/corral/internal/model"
)

// treeNode is one virtual instance inside the evaluated forest.
type treeNode struct {
	instance model.VirtualInstance
	children []string
}

// buildForest indexes the evaluated virtual instances by id and wires
// parent edges into child lists.
func buildForest(instances []model.VirtualInstance) map[string]*treeNode {
	forest := make(map[string]*treeNode, len(instances))
	for _, vi := range instances {
		forest[vi.InstanceID] = &treeNode{instance: vi}
	}
	for _, vi := range instances {
		if vi.ParentID == "" {
			continue
		}
		if parent, ok := forest[vi.ParentID]; ok {
			parent.children = append(parent.children, vi.InstanceID)
		}
	}
	for _, node := range forest {
		sort.Strings(node.children)
	}
	return forest
}

// renderTree writes the subtree rooted at node as indented text, depth
// first. The rendering ends up as the human-readable success message of
// the evaluation state.
func renderTree(node *treeNode, forest map[string]*treeNode) string {
	var b strings.Builder
	renderNode(&b, node, forest, 0, make(map[string]bool))
	return strings.TrimRight(b.String(), "\n")
}

func renderNode(b *strings.Builder, node *treeNode, forest map[string]*treeNode, depth int, seen map[string]bool) {
	id := node.instance.InstanceID
	if seen[id] {
		return
	}
	seen[id] = true

	label := id
	if m := node.instance.Model; m != nil && m.Type != "" {
		label = fmt.Sprintf("%s (%s)", id, m.Type)
	}
	fmt.Fprintf(b, "%s%s\n", strings.Repeat("  ", depth), label)

	for _, childID := range node.children {
		if child, ok := forest[childID]; ok {
			renderNode(b, child, forest, depth+1, seen)
		}
	}
}
