// Package tree is the narrow view of a behavior tree the monitor consumes.
// The execution engine owns the values; the monitor only reads them.
package tree

import (
	"sort"
	"sync"
)

// Node is one tree node as seen by the monitor.
type Node interface {
	UID() uint16
	Name() string
}

// Blackboard is the key/value store of one subtree.
type Blackboard interface {
	Keys() []string
	Get(key string) (any, bool)
}

// Subtree groups the nodes sharing one blackboard.
type Subtree struct {
	// TreeID is the BehaviorTree ID the subtree was instantiated from.
	TreeID string
	// InstanceName is empty for the root tree.
	InstanceName string

	Nodes      []Node
	Blackboard Blackboard
}

// Name is the name a client uses to ask for this subtree's blackboard.
func (s *Subtree) Name() string {
	if s.InstanceName != "" {
		return s.InstanceName
	}
	return s.TreeID
}

// Tree is fixed at build time: its set of nodes never changes.
type Tree interface {
	Subtrees() []*Subtree
	// XML is the static structure of the tree, including node uids.
	XML() (string, error)
}

// UIDs lists every node uid of t in build order.
func UIDs(t Tree) []uint16 {
	var out []uint16
	for _, st := range t.Subtrees() {
		for _, n := range st.Nodes {
			out = append(out, n.UID())
		}
	}
	return out
}

// ---- basic implementations ----

// BasicNode is a plain Node.
type BasicNode struct {
	ID    uint16
	Label string
	// Kind is the registration name of the node, e.g. "Sequence".
	Kind string
}

func (n *BasicNode) UID() uint16  { return n.ID }
func (n *BasicNode) Name() string { return n.Label }

// MapBlackboard is a Blackboard safe for use by the ticking goroutine
// and the monitor at the same time.
type MapBlackboard struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewMapBlackboard() *MapBlackboard {
	return &MapBlackboard{values: make(map[string]any)}
}

func (b *MapBlackboard) Set(key string, v any) {
	b.mu.Lock()
	b.values[key] = v
	b.mu.Unlock()
}

func (b *MapBlackboard) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, ok
}

// Keys are returned sorted.
func (b *MapBlackboard) Keys() []string {
	b.mu.RLock()
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	b.mu.RUnlock()

	sort.Strings(keys)
	return keys
}
