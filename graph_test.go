package spectree

import (
	"testing"
)

func node(key string, deps ...string) *Node {
	n := &Node{Key: SourceKey(key)}
	for _, d := range deps {
		n.Deps = append(n.Deps, ParseDependencyToken(d))
	}
	return n
}

func TestNewGraphLeafOnly(t *testing.T) {
	g, err := NewGraph([]*Node{node("a")}, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ordered := g.Ordered()
	if len(ordered) != 1 || ordered[0].Key != "a" {
		t.Fatalf("expected single-node order [a], got %v", ordered)
	}
}

func TestNewGraphLinearChain(t *testing.T) {
	nodes := []*Node{
		node("a", "b"),
		node("b", "c"),
		node("c"),
	}

	g, err := NewGraph(nodes, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ordered := g.Ordered()
	pos := map[SourceKey]int{}
	for i, n := range ordered {
		pos[n.Key] = i
	}

	if pos["c"] > pos["b"] || pos["b"] > pos["a"] {
		t.Fatalf("expected leaves-first order c, b, a; got %v", ordered)
	}
}

func TestNewGraphRejectsSelfCycle(t *testing.T) {
	nodes := []*Node{node("a", "a")}

	if _, err := NewGraph(nodes, "a"); err == nil {
		t.Fatalf("expected self-dependency to be rejected as a cycle")
	}
}

func TestNewGraphRejectsLongerCycle(t *testing.T) {
	nodes := []*Node{
		node("a", "b"),
		node("b", "c"),
		node("c", "a"),
	}

	if _, err := NewGraph(nodes, "a"); err == nil {
		t.Fatalf("expected a -> b -> c -> a to be rejected as a cycle")
	}
}

func TestNewGraphRejectsUnknownDependency(t *testing.T) {
	nodes := []*Node{node("a", "missing")}

	if _, err := NewGraph(nodes, "a"); err == nil {
		t.Fatalf("expected reference to unknown source key to be rejected")
	}
}

func TestNewGraphRejectsDuplicateKey(t *testing.T) {
	nodes := []*Node{node("a"), node("a")}

	if _, err := NewGraph(nodes, "a"); err == nil {
		t.Fatalf("expected duplicate source key to be rejected")
	}
}

func TestNewGraphRejectsMissingRoot(t *testing.T) {
	nodes := []*Node{node("a")}

	if _, err := NewGraph(nodes, "nope"); err == nil {
		t.Fatalf("expected missing root to be rejected")
	}
}

// Diamond: root depends on both mid1 and mid2, each of which depends on
// base. base must appear exactly once in Ordered and before both mids.
func TestNewGraphDiamondOrdering(t *testing.T) {
	nodes := []*Node{
		node("root", "mid1", "mid2"),
		node("mid1", "base"),
		node("mid2", "base"),
		node("base"),
	}

	g, err := NewGraph(nodes, "root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ordered := g.Ordered()
	if len(ordered) != 4 {
		t.Fatalf("expected all 4 nodes in root's closure, got %d", len(ordered))
	}

	pos := map[SourceKey]int{}
	for i, n := range ordered {
		pos[n.Key] = i
	}
	if pos["base"] > pos["mid1"] || pos["base"] > pos["mid2"] || pos["mid1"] > pos["root"] || pos["mid2"] > pos["root"] {
		t.Fatalf("expected base before mid1/mid2 before root, got %v", ordered)
	}
}

// A node outside root's ancestor closure is parsed but excluded from
// Ordered and from DepsClosure computations reachable from root.
func TestNewGraphExcludesUnrelatedNodes(t *testing.T) {
	nodes := []*Node{
		node("root", "dep"),
		node("dep"),
		node("unrelated"),
	}

	g, err := NewGraph(nodes, "root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, n := range g.Ordered() {
		if n.Key == "unrelated" {
			t.Fatalf("expected unrelated node to be excluded from root's closure")
		}
	}
}

func TestDepsClosureDirectOnlyDoesNotPropagate(t *testing.T) {
	// root -> mid -> ~base (direct-only)
	// root's closure must include mid but NOT base, since base is only
	// direct-only staged for mid, not inherited by mid's dependents.
	nodes := []*Node{
		node("root", "mid"),
		node("mid", "~base"),
		node("base"),
	}

	g, err := NewGraph(nodes, "root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	closure, err := g.DepsClosure("root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, k := range closure {
		if k == "base" {
			t.Fatalf("expected direct-only edge of mid not to propagate to root's closure, got %v", closure)
		}
	}

	midClosure, err := g.DepsClosure("mid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, k := range midClosure {
		if k == "base" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected mid's own closure to include its direct-only dependency base, got %v", midClosure)
	}
}

func TestDepsClosureTransitivePropagates(t *testing.T) {
	nodes := []*Node{
		node("root", "mid"),
		node("mid", "base"),
		node("base"),
	}

	g, err := NewGraph(nodes, "root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	closure, err := g.DepsClosure("root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, k := range closure {
		if k == "base" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a normal transitive edge of mid to propagate into root's closure, got %v", closure)
	}
}
