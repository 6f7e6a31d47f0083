package rbac

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Tree is an arena over a flat catalog node list.
// Parent links are resolved by id lookup, never by pointers between nodes.
type Tree struct {
	nodes    []PermissionNode
	index    map[uuid.UUID]int
	children map[uuid.UUID][]int
	roots    []int
}

// NewTree indexes nodes by id and parent.
// A parent id that is not part of the list makes the node a root.
func NewTree(nodes []PermissionNode) (*Tree, error) {
	t := &Tree{
		nodes:    make([]PermissionNode, len(nodes)),
		index:    make(map[uuid.UUID]int, len(nodes)),
		children: make(map[uuid.UUID][]int),
	}
	copy(t.nodes, nodes)

	for i, n := range t.nodes {
		if _, dup := t.index[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate catalog node %s", ErrInvalidArgument, n.ID)
		}
		t.index[n.ID] = i
	}

	for i, n := range t.nodes {
		if n.ParentID == nil {
			t.roots = append(t.roots, i)
			continue
		}
		if _, ok := t.index[*n.ParentID]; !ok {
			t.roots = append(t.roots, i)
			continue
		}
		t.children[*n.ParentID] = append(t.children[*n.ParentID], i)
	}

	t.sortIndexes(t.roots)
	for id := range t.children {
		t.sortIndexes(t.children[id])
	}

	// every node must be reachable from a root, otherwise parent links form a cycle
	if visited := len(t.Walk()); visited != len(t.nodes) {
		return nil, fmt.Errorf("%w: catalog contains a parent cycle (%d of %d nodes reachable)",
			ErrInvalidArgument, visited, len(t.nodes))
	}

	return t, nil
}

func (t *Tree) sortIndexes(idx []int) {
	sort.SliceStable(idx, func(a, b int) bool {
		na, nb := t.nodes[idx[a]], t.nodes[idx[b]]
		if na.Index != nb.Index {
			return na.Index < nb.Index
		}
		return na.ID.String() < nb.ID.String()
	})
}

// Node returns the node with the given id
func (t *Tree) Node(id uuid.UUID) (PermissionNode, bool) {
	i, ok := t.index[id]
	if !ok {
		return PermissionNode{}, false
	}
	return t.nodes[i], true
}

// Walk returns all nodes reachable from the roots, depth first, parents before children
func (t *Tree) Walk() []PermissionNode {
	out := make([]PermissionNode, 0, len(t.nodes))
	stack := make([]int, 0, len(t.roots))
	for i := len(t.roots) - 1; i >= 0; i-- {
		stack = append(stack, t.roots[i])
	}

	seen := make(map[int]bool, len(t.nodes))
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, t.nodes[i])

		kids := t.children[t.nodes[i].ID]
		for k := len(kids) - 1; k >= 0; k-- {
			stack = append(stack, kids[k])
		}
	}
	return out
}

// Ancestors returns the parent chain of id, nearest first
func (t *Tree) Ancestors(id uuid.UUID) ([]PermissionNode, error) {
	i, ok := t.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: catalog node %s", ErrNotFound, id)
	}

	var out []PermissionNode
	seen := map[uuid.UUID]bool{id: true}
	for n := t.nodes[i]; n.ParentID != nil; {
		pi, ok := t.index[*n.ParentID]
		if !ok {
			break
		}
		if seen[*n.ParentID] {
			return nil, fmt.Errorf("%w: parent cycle at %s", ErrInvalidArgument, *n.ParentID)
		}
		seen[*n.ParentID] = true
		n = t.nodes[pi]
		out = append(out, n)
	}
	return out, nil
}

// path names a node by its ancestry, root first, for error messages
func (t *Tree) path(id uuid.UUID) string {
	n, ok := t.Node(id)
	if !ok {
		return id.String()
	}
	ancestors, err := t.Ancestors(id)
	if err != nil {
		return n.Name
	}

	parts := make([]string, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		parts = append(parts, ancestors[i].Name)
	}
	return strings.Join(append(parts, n.Name), "/")
}
