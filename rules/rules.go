// Package rules implements the hierarchical on/off/inherit rule tree used to
// decide whether an event path is enabled.
//
// A rule is addressed by a Path, a sequence of opaque segments compared by
// exact string equality. Every node may carry an explicit default. A lookup
// returns the value of the most specific node along the path that carries
// one; when no node does, the answer is false.
package rules

import (
	"encoding/json"
	"iter"
	"sort"
	"strings"
)

// Path is an ordered list of segments, e.g. [C024BE91L issue opened].
type Path []string

// String joins the segments with spaces, the way they are typed in chat.
func (p Path) String() string {
	return strings.Join(p, " ")
}

// Node is one node of a rule tree.
type Node struct {
	Default *bool            `json:"default,omitempty"`
	Rules   map[string]*Node `json:"rules"`
}

// MarshalJSON always emits the rules object, even when empty.
func (n *Node) MarshalJSON() ([]byte, error) {
	type node Node
	out := node(*n)
	if out.Rules == nil {
		out.Rules = map[string]*Node{}
	}
	return json.Marshal(out)
}

func (n *Node) empty() bool {
	return n.Default == nil && len(n.Rules) == 0
}

// lookup reports the value decided by the deepest node along path that
// carries a default. ok is false when no visited node has an opinion.
func (n *Node) lookup(path Path) (value, ok bool) {
	if len(path) > 0 {
		if child, found := n.Rules[path[0]]; found {
			if v, decided := child.lookup(path[1:]); decided {
				return v, true
			}
		}
	}
	if n.Default != nil {
		return *n.Default, true
	}
	return false, false
}

// Tree is a rule tree. The zero value is an empty tree. Tree does no locking
// of its own.
type Tree struct {
	root Node
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

// Lookup reports whether path is enabled. Only the ancestors of path (and
// path itself) are consulted; rules below it contribute nothing.
func (t *Tree) Lookup(path Path) bool {
	v, _ := t.root.lookup(path)
	return v
}

// Get returns the explicit value stored at exactly path, or nil.
func (t *Tree) Get(path Path) *bool {
	n := t.find(path)
	if n == nil || n.Default == nil {
		return nil
	}
	v := *n.Default
	return &v
}

// Set stores value at path, creating intermediate nodes as needed. A nil value
// removes the explicit default so the path inherits again. Nodes left without
// a default and without children are pruned.
func (t *Tree) Set(path Path, value *bool) {
	trail := make([]*Node, 0, len(path)+1)
	n := &t.root
	trail = append(trail, n)
	for _, seg := range path {
		child, ok := n.Rules[seg]
		if !ok {
			if value == nil {
				// nothing to unset
				return
			}
			if n.Rules == nil {
				n.Rules = make(map[string]*Node)
			}
			child = &Node{}
			n.Rules[seg] = child
		}
		n = child
		trail = append(trail, n)
	}

	if value == nil {
		n.Default = nil
	} else {
		v := *value
		n.Default = &v
	}

	for i := len(path); i > 0; i-- {
		if !trail[i].empty() {
			break
		}
		delete(trail[i-1].Rules, path[i-1])
	}
}

// All enumerates, depth first and in segment order, every node under prefix
// that carries an explicit default. Paths are relative to prefix.
func (t *Tree) All(prefix Path) iter.Seq2[Path, bool] {
	return func(yield func(Path, bool) bool) {
		n := t.find(prefix)
		if n == nil {
			return
		}
		walk(n, nil, yield)
	}
}

func walk(n *Node, at Path, yield func(Path, bool) bool) bool {
	if n.Default != nil {
		p := make(Path, len(at))
		copy(p, at)
		if !yield(p, *n.Default) {
			return false
		}
	}

	keys := make([]string, 0, len(n.Rules))
	for k := range n.Rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !walk(n.Rules[k], append(at, k), yield) {
			return false
		}
	}
	return true
}

func (t *Tree) find(path Path) *Node {
	n := &t.root
	for _, seg := range path {
		child, ok := n.Rules[seg]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

// Empty reports whether the tree holds no rules at all.
func (t *Tree) Empty() bool {
	return t.root.empty()
}

// MarshalJSON encodes the tree as its root node.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return t.root.MarshalJSON()
}

// UnmarshalJSON decodes a root node and drops nodes that carry no rules.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var root Node
	if err := json.Unmarshal(data, &root); err != nil {
		return err
	}
	prune(&root)
	t.root = root
	return nil
}

func prune(n *Node) {
	for k, child := range n.Rules {
		if child == nil {
			delete(n.Rules, k)
			continue
		}
		prune(child)
		if child.empty() {
			delete(n.Rules, k)
		}
	}
}

// Bool is a convenience for building *bool values.
func Bool(v bool) *bool {
	return &v
}
