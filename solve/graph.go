package solve

import (
	"sync"

	"github.com/pakfs/pakfs/ident"
)

// Node is one vertex of the decision graph. Nodes cache the package
// iterators opened while exploring them so that re-entering a node
// resumes iteration where it left off.
type Node struct {
	State *State

	mu        sync.Mutex
	iterators map[ident.PkgName]PackageIterator
	branches  []branch
}

type branch struct {
	decision *Decision
	target   uint64
}

func newNode(state *State) *Node {
	return &Node{
		State:     state,
		iterators: map[ident.PkgName]PackageIterator{},
	}
}

// ID returns the identity of this node's state.
func (n *Node) ID() uint64 { return n.State.ID() }

// GetIterator returns the cached iterator for the named package, if one
// was opened at this node.
func (n *Node) GetIterator(name ident.PkgName) PackageIterator {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.iterators[name]
}

// SetIterator caches the iterator for the named package at this node.
func (n *Node) SetIterator(name ident.PkgName, iterator PackageIterator) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.iterators[name] = iterator
}

// Graph is the decision graph built during a solve: a tree of states
// joined by decisions, rooted at the empty state.
type Graph struct {
	mu    sync.RWMutex
	Root  *Node
	nodes map[uint64]*Node
}

// NewGraph creates a graph holding only the root node.
func NewGraph() *Graph {
	root := newNode(NewState())
	return &Graph{
		Root:  root,
		nodes: map[uint64]*Node{root.ID(): root},
	}
}

// Node returns the node with the given state id, if present.
func (g *Graph) Node(id uint64) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id]
	return node, ok
}

// AddBranch applies the decision to the identified source node and
// returns the resulting node. When the produced state was already
// visited, the existing node (and its cached iterators) is reused.
func (g *Graph) AddBranch(sourceID uint64, decision *Decision) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	source, ok := g.nodes[sourceID]
	if !ok {
		source = g.Root
	}
	state := decision.Apply(source.State)
	var node *Node
	if state.IsDead() {
		// the dead state is terminal and never registered, so it can
		// not be confused with the (equally empty) root state
		node = newNode(state)
	} else if existing, ok := g.nodes[state.ID()]; ok {
		node = existing
	} else {
		node = newNode(state)
		g.nodes[state.ID()] = node
	}
	source.mu.Lock()
	source.branches = append(source.branches, branch{decision: decision, target: node.ID()})
	source.mu.Unlock()
	return node
}

// Len returns the number of distinct states visited.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Walk visits every branch of the graph in creation order, starting from
// the root.
func (g *Graph) Walk(fn func(source *Node, decision *Decision, target *Node)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := map[uint64]struct{}{}
	var visit func(node *Node)
	visit = func(node *Node) {
		if _, ok := seen[node.ID()]; ok {
			return
		}
		seen[node.ID()] = struct{}{}
		node.mu.Lock()
		branches := append([]branch{}, node.branches...)
		node.mu.Unlock()
		for _, br := range branches {
			target := g.nodes[br.target]
			fn(node, br.decision, target)
			if target != nil {
				visit(target)
			}
		}
	}
	visit(g.Root)
}

// FailureNotes collects the notes of every blocked decision in the
// graph, preserving discovery order, for failure reporting.
func (g *Graph) FailureNotes() []string {
	var reasons []string
	seen := map[string]struct{}{}
	g.Walk(func(source *Node, decision *Decision, target *Node) {
		for _, note := range decision.Notes {
			rendered := note.String()
			if _, ok := seen[rendered]; ok {
				continue
			}
			seen[rendered] = struct{}{}
			reasons = append(reasons, rendered)
		}
		for _, change := range decision.Changes {
			if stepBack, ok := change.(StepBack); ok {
				if _, dup := seen[stepBack.Cause]; !dup {
					seen[stepBack.Cause] = struct{}{}
					reasons = append(reasons, stepBack.Cause)
				}
			}
		}
	})
	return reasons
}
