package spectree

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pmengelbert/stack"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Graph is the fully-resolved, acyclic dependency graph rooted at a
// single source key. Only the root's ancestor closure is retained;
// unrelated siblings declared in the spec are dropped during
// resolution.
type Graph struct {
	m       *sync.Mutex
	root    SourceKey
	nodes   map[SourceKey]*Node
	ordered []*Node
	edges   sets.Set[dependency]
}

type dependency struct {
	from *vertex
	to   *vertex
}

type vertex struct {
	key     SourceKey
	index   *int
	lowlink int
	onStack bool
}

// ErrCycle is returned when the declared graph contains a reference
// cycle.
type ErrCycle struct {
	Members []SourceKey
}

func (e *ErrCycle) Error() string {
	parts := make([]string, len(e.Members))
	for i, m := range e.Members {
		parts[i] = string(m)
	}
	return fmt.Sprintf("spectree: dependency cycle: { %s }", strings.Join(parts, ", "))
}

// ErrUnknownDependency is returned when a node references a dependency
// key that does not exist in the spec.
type ErrUnknownDependency struct {
	Node SourceKey
	Dep  SourceKey
}

func (e *ErrUnknownDependency) Error() string {
	return fmt.Sprintf("spectree: node %q references unknown dependency %q", e.Node, e.Dep)
}

// ErrDuplicateKey is returned when two nodes in the input share a
// source key.
type ErrDuplicateKey struct {
	Key SourceKey
}

func (e *ErrDuplicateKey) Error() string {
	return fmt.Sprintf("spectree: duplicate source key %q", e.Key)
}

// ErrRootNotFound is returned when the requested root source key is not
// present among the provided nodes.
type ErrRootNotFound struct {
	Root SourceKey
}

func (e *ErrRootNotFound) Error() string {
	return fmt.Sprintf("spectree: root source key %q not found", e.Root)
}

// NewGraph validates nodes (duplicate keys, unknown dependency
// references), restricts the graph to root's ancestor closure, detects
// cycles via Tarjan's strongly-connected-components algorithm, and
// returns the graph with Nodes in topological (leaves-first) order.
func NewGraph(nodes []*Node, root SourceKey) (*Graph, error) {
	g := &Graph{
		m:     new(sync.Mutex),
		root:  root,
		nodes: make(map[SourceKey]*Node, len(nodes)),
		edges: sets.New[dependency](),
	}

	for _, n := range nodes {
		if n == nil {
			return nil, fmt.Errorf("spectree: nil node provided")
		}
		if _, ok := g.nodes[n.Key]; ok {
			return nil, &ErrDuplicateKey{Key: n.Key}
		}
		g.nodes[n.Key] = n
	}

	if _, ok := g.nodes[root]; !ok {
		return nil, &ErrRootNotFound{Root: root}
	}

	for _, n := range nodes {
		for _, dep := range n.Deps {
			if _, ok := g.nodes[dep.Key]; !ok {
				return nil, &ErrUnknownDependency{Node: n.Key, Dep: dep.Key}
			}
		}
	}

	closure := g.ancestorClosure(root)

	vertices := make(map[SourceKey]*vertex, len(closure))
	for key := range closure {
		vertices[key] = &vertex{key: key}
	}

	for key := range closure {
		n := g.nodes[key]
		v := vertices[key]
		for _, dep := range n.Deps {
			if dep.Key == key {
				return nil, &ErrCycle{Members: []SourceKey{key}}
			}
			w, ok := vertices[dep.Key]
			if !ok {
				continue
			}
			g.edges.Insert(dependency{from: v, to: w})
		}
	}

	g.m.Lock()
	defer g.m.Unlock()

	sccs := g.tarjan(vertices)
	if err := verifyAcyclic(sccs); err != nil {
		return nil, err
	}

	g.ordered = make([]*Node, 0, len(closure))
	for i := 0; i < len(sccs); i++ {
		for _, v := range sccs[i] {
			g.ordered = append(g.ordered, g.nodes[v.key])
		}
	}

	for key := range g.nodes {
		if _, ok := closure[key]; !ok {
			delete(g.nodes, key)
		}
	}

	return g, nil
}

// ancestorClosure returns the set of source keys reachable from root by
// following dependency edges (root included).
func (g *Graph) ancestorClosure(root SourceKey) map[SourceKey]struct{} {
	seen := map[SourceKey]struct{}{}
	var visit func(SourceKey)
	visit = func(key SourceKey) {
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		n, ok := g.nodes[key]
		if !ok {
			return
		}
		for _, dep := range n.Deps {
			visit(dep.Key)
		}
	}
	visit(root)
	return seen
}

// Root returns the root node of the graph.
func (g *Graph) Root() *Node {
	return g.nodes[g.root]
}

// Get looks up a node by key within the resolved closure.
func (g *Graph) Get(key SourceKey) (*Node, bool) {
	n, ok := g.nodes[key]
	return n, ok
}

// Ordered returns the closure's nodes in topological (leaves-first)
// order: every node appears after all of its dependencies.
func (g *Graph) Ordered() []*Node {
	out := make([]*Node, len(g.ordered))
	copy(out, g.ordered)
	return out
}

// DepsClosure returns the set of ancestor keys whose artifacts must be
// staged for key, per the direct-only propagation rule: key's direct
// edges are all included; for each included ancestor, its transitive
// (non-direct-only) edges are further included; an ancestor's
// direct-only edges stop there and are not inherited by key.
func (g *Graph) DepsClosure(key SourceKey) ([]SourceKey, error) {
	n, ok := g.nodes[key]
	if !ok {
		return nil, fmt.Errorf("spectree: unknown source key %q", key)
	}

	included := map[SourceKey]struct{}{}
	order := []SourceKey{}

	var include func(SourceKey)
	include = func(k SourceKey) {
		if _, ok := included[k]; ok {
			return
		}
		included[k] = struct{}{}
		order = append(order, k)

		anc, ok := g.nodes[k]
		if !ok {
			return
		}
		for _, e := range anc.Deps {
			if e.DirectOnly {
				continue
			}
			include(e.Key)
		}
	}

	for _, e := range n.Deps {
		include(e.Key)
	}

	return order, nil
}

// tarjan computes strongly-connected components in the order they
// are completed: sccs[0] is the component containing the first vertex
// finished (a pure leaf, no unvisited outgoing edges when it was
// popped), sccs[len-1] is the component containing the last vertex
// finished (closest to the root of the traversal).
//
// https://en.wikipedia.org/wiki/Tarjan%27s_strongly_connected_components_algorithm
func (g *Graph) tarjan(vertices map[SourceKey]*vertex) [][]*vertex {
	index := 0
	s := stack.New[*vertex]()
	var sccs [][]*vertex

	byFrom := map[SourceKey][]*vertex{}
	for e := range g.edges {
		byFrom[e.from.key] = append(byFrom[e.from.key], e.to)
	}

	var strongConnect func(v *vertex)
	strongConnect = func(v *vertex) {
		v.index = new(int)
		*v.index = index
		v.lowlink = index
		index++
		s.Push(v)
		v.onStack = true

		for _, w := range byFrom[v.key] {
			if w.index == nil {
				strongConnect(w)
				v.lowlink = min(v.lowlink, w.lowlink)
			} else if w.onStack {
				v.lowlink = min(v.lowlink, *w.index)
			}
		}

		if v.lowlink == *v.index {
			var component []*vertex
			for {
				opt := s.Pop()
				if !opt.IsSome() {
					break
				}
				w := opt.Unwrap()
				w.onStack = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, component)
		}
	}

	for _, v := range vertices {
		if v.index == nil {
			strongConnect(v)
		}
	}

	return sccs
}

func verifyAcyclic(sccs [][]*vertex) error {
	for _, c := range sccs {
		if len(c) > 1 {
			members := make([]SourceKey, len(c))
			for i, v := range c {
				members[i] = v.key
			}
			return &ErrCycle{Members: members}
		}
		// a self-referencing node also shows up as a length-1 SCC with a
		// self edge; tarjan alone won't flag it, which is why NewGraph
		// rejects self edges before tarjan runs.
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
