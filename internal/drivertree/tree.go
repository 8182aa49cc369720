package drivertree

import (
	"fmt"
	"sort"
)

// Node is one member of the business hierarchy. Amounts holds period-keyed
// aggregates populated by the fact aggregator.
type Node struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Level    int                `json:"level"`
	ParentID string             `json:"parent_id,omitempty"`
	Children []*Node            `json:"children,omitempty"`
	Amounts  map[string]float64 `json:"amounts,omitempty"`
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Amount returns the amount for period, 0 when absent.
func (n *Node) Amount(period string) float64 { return n.Amounts[period] }

type nodeKey struct {
	name   string
	level  int
	parent string
}

// Tree is an arena of nodes with an identity index keyed by
// (name, level, parent ID).
type Tree struct {
	Roots []*Node `json:"roots"`
	nodes []*Node
	index map[nodeKey]*Node
	byID  map[string]*Node
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{
		index: make(map[nodeKey]*Node),
		byID:  make(map[string]*Node),
	}
}

// Upsert returns the node identified by (name, level, parent), creating and
// attaching it when it does not exist yet. The bool reports creation.
func (t *Tree) Upsert(name string, level int, parent *Node) (*Node, bool) {
	parentID := ""
	if parent != nil {
		parentID = parent.ID
	}
	key := nodeKey{name: name, level: level, parent: parentID}
	if n, ok := t.index[key]; ok {
		return n, false
	}
	n := &Node{
		ID:       fmt.Sprintf("n%d", len(t.nodes)+1),
		Name:     name,
		Level:    level,
		ParentID: parentID,
		Amounts:  map[string]float64{},
	}
	t.nodes = append(t.nodes, n)
	t.index[key] = n
	t.byID[n.ID] = n
	if parent == nil {
		t.Roots = append(t.Roots, n)
	} else {
		parent.Children = append(parent.Children, n)
	}
	return n, true
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Nodes returns every node in creation order.
func (t *Tree) Nodes() []*Node { return t.nodes }

// Find returns the node with the given ID.
func (t *Tree) Find(id string) (*Node, bool) {
	n, ok := t.byID[id]
	return n, ok
}

// Walk visits nodes depth-first, parents before children, in child order.
// Returning false from fn skips the node's subtree.
func (t *Tree) Walk(fn func(n *Node) bool) {
	var visit func(n *Node)
	visit = func(n *Node) {
		if !fn(n) {
			return
		}
		for _, c := range n.Children {
			visit(c)
		}
	}
	for _, r := range t.Roots {
		visit(r)
	}
}

// Flatten returns nodes in depth-first display order.
func (t *Tree) Flatten() []*Node {
	out := make([]*Node, 0, len(t.nodes))
	t.Walk(func(n *Node) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Leaves returns leaf nodes in depth-first order.
func (t *Tree) Leaves() []*Node {
	var out []*Node
	t.Walk(func(n *Node) bool {
		if n.IsLeaf() {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Periods returns the sorted union of period keys across all nodes.
func (t *Tree) Periods() []string {
	seen := map[string]struct{}{}
	for _, n := range t.nodes {
		for p := range n.Amounts {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clone deep-copies the tree, amounts included. IDs are preserved.
func (t *Tree) Clone() *Tree {
	c := New()
	c.nodes = make([]*Node, 0, len(t.nodes))
	var copyNode func(n *Node) *Node
	copyNode = func(n *Node) *Node {
		cp := &Node{
			ID:       n.ID,
			Name:     n.Name,
			Level:    n.Level,
			ParentID: n.ParentID,
			Amounts:  make(map[string]float64, len(n.Amounts)),
		}
		for p, v := range n.Amounts {
			cp.Amounts[p] = v
		}
		c.nodes = append(c.nodes, cp)
		c.byID[cp.ID] = cp
		c.index[nodeKey{name: cp.Name, level: cp.Level, parent: cp.ParentID}] = cp
		for _, ch := range n.Children {
			cp.Children = append(cp.Children, copyNode(ch))
		}
		return cp
	}
	for _, r := range t.Roots {
		c.Roots = append(c.Roots, copyNode(r))
	}
	return c
}

// RollUp recomputes every non-leaf amount as the sum of its children's
// amounts, bottom-up. A period missing on a child counts as 0; periods seen
// anywhere in a subtree are present on its root.
func RollUp(t *Tree) {
	var visit func(n *Node)
	visit = func(n *Node) {
		if n.IsLeaf() {
			return
		}
		for _, c := range n.Children {
			visit(c)
		}
		sums := map[string]float64{}
		for _, c := range n.Children {
			for p, v := range c.Amounts {
				sums[p] += v
			}
		}
		n.Amounts = sums
	}
	for _, r := range t.Roots {
		visit(r)
	}
}

// FillPeriods ensures every node carries an entry for every listed period.
func FillPeriods(t *Tree, periods []string) {
	for _, n := range t.nodes {
		if n.Amounts == nil {
			n.Amounts = map[string]float64{}
		}
		for _, p := range periods {
			if _, ok := n.Amounts[p]; !ok {
				n.Amounts[p] = 0
			}
		}
	}
}
