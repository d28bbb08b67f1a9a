/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package graph is the core package for dagpipe. It models machine-learning
// pipelines as immutable directed acyclic graphs (DAGs) of producers: root
// nodes (Placeholder, Generator, Constant) and child nodes (Prepared and
// Preparable transformers, TransformerView).
//
// The main elements in the package are:
//
//   - Producer: a node of the DAG. See the taxonomy in producer.go: roots vs.
//     children, prepared vs. preparable.
//   - Graph: an immutable DAG over producers, with a designated ordered list
//     of outputs and the placeholders it expects as inputs. Built once, never
//     mutated -- reduction and preparation produce new Graphs.
//   - Reduce: a rewrite-rule engine that simplifies a Graph (constant
//     folding, merging of structurally equal nodes) into a functionally
//     equivalent but cheaper Graph, without requiring example data.
//   - Preparer: the protocol a Preparable transformer follows to consume a
//     stream of example values and emit its prepared (inference only)
//     replacement. The engine driving it lives in ml/prepare.
//   - Graph.Apply / Graph.ApplyBatch: inference over a fully prepared Graph.
//
// Errors are returned explicitly; every constructor has a Must variant that
// panics (with an error value, via the exceptions package) for use in tests
// and short programs.
package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

// NodeId is a unique node index within a Graph. It indexes the Graph's
// internal arena, in topological order: parents always come before children.
type NodeId int

// InvalidNodeId indicates a node that is not part of a Graph.
const InvalidNodeId = NodeId(-1)

// Graph is an immutable DAG of producers with a designated ordered list of
// output nodes.
//
// A Graph contains exactly the nodes reachable from its outputs, plus any
// declared-but-unused placeholders, which are preserved as the documented
// expected inputs. Construction rejects cyclic graphs.
//
// Once constructed a Graph is never mutated and is safe for concurrent reads
// without locking.
type Graph struct {
	nodes    []Producer // Topological order, parents before children.
	byHandle map[Handle]NodeId

	parents  [][]NodeId // Ordered as the node's arguments.
	children [][]NodeId // Deduplicated, ascending.

	outputs      []NodeId
	placeholders []NodeId // Declared (or discovery) order.

	// needed marks nodes on a path to some output; only unused placeholders
	// are not needed.
	needed []bool

	level Level
}

// New builds a Graph from the given outputs, automatically discovering the
// placeholders that feed them (in a deterministic, breadth-first discovery
// order). Use NewWithInputs to fix the placeholder order explicitly.
func New(outputs ...Producer) (*Graph, error) {
	return newGraph(nil, outputs)
}

// MustNew is like New but panics on error.
func MustNew(outputs ...Producer) *Graph {
	g, err := New(outputs...)
	if err != nil {
		exceptions.Panicf("graph.New: %+v", err)
	}
	return g
}

// NewWithInputs builds a Graph with an explicit, ordered list of input
// placeholders. Placeholders that are declared but not reachable from any
// output are preserved as expected inputs of the DAG; conversely it is an
// error for an undeclared placeholder to be reachable from an output.
func NewWithInputs(inputs []*Placeholder, outputs ...Producer) (*Graph, error) {
	if inputs == nil {
		inputs = []*Placeholder{}
	}
	return newGraph(inputs, outputs)
}

// MustNewWithInputs is like NewWithInputs but panics on error.
func MustNewWithInputs(inputs []*Placeholder, outputs ...Producer) *Graph {
	g, err := NewWithInputs(inputs, outputs...)
	if err != nil {
		exceptions.Panicf("graph.NewWithInputs: %+v", err)
	}
	return g
}

// newGraph builds the graph. declared == nil means "discover placeholders".
func newGraph(declared []*Placeholder, outputs []Producer) (*Graph, error) {
	if len(outputs) == 0 {
		return nil, errors.Errorf("a graph requires at least one output node")
	}
	for i, out := range outputs {
		if out == nil {
			return nil, errors.Errorf("output #%d is nil", i)
		}
	}

	g := &Graph{byHandle: make(map[Handle]NodeId)}

	// Declared placeholders come first: they are roots, so any topological
	// order allows them at the front. This also preserves unused ones.
	for i, ph := range declared {
		if ph == nil {
			return nil, errors.Errorf("declared input placeholder #%d is nil", i)
		}
		if _, found := g.byHandle[ph.Handle()]; found {
			return nil, errors.Errorf("input placeholder %q declared more than once", ph.Name())
		}
		g.register(ph)
	}

	// Iterative DFS from the outputs: detects cycles and appends nodes in
	// post-order, so parents always precede children.
	const (
		colorUnseen = iota
		colorOnPath
		colorDone
	)
	colors := make(map[Handle]int)
	for _, ph := range declared {
		colors[ph.Handle()] = colorDone
	}
	type frame struct {
		node      Producer
		nextChild int
	}
	for _, out := range outputs {
		if colors[out.Handle()] == colorDone {
			continue
		}
		stack := []frame{{node: out}}
		colors[out.Handle()] = colorOnPath
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			node := top.node
			nodeParents := node.Parents()
			if top.nextChild < len(nodeParents) {
				parent := nodeParents[top.nextChild]
				top.nextChild++
				if parent == nil {
					return nil, errors.Errorf("node %q (%T) has a nil parent (input #%d)", node.Name(), node, top.nextChild-1)
				}
				switch colors[parent.Handle()] {
				case colorDone:
					continue
				case colorOnPath:
					return nil, errors.Errorf("cycle detected: node %q (%T) is its own ancestor through parent %q",
						node.Name(), node, parent.Name())
				}
				colors[parent.Handle()] = colorOnPath
				stack = append(stack, frame{node: parent})
				continue
			}
			colors[node.Handle()] = colorDone
			g.register(node)
			stack = stack[:len(stack)-1]
		}
	}

	// Validate all nodes; all configuration errors are reported together.
	var err error
	for _, node := range g.nodes {
		err = multierr.Append(err, validateProducer(node))
	}
	if err != nil {
		return nil, err
	}

	// Wire parents/children.
	g.parents = make([][]NodeId, len(g.nodes))
	g.children = make([][]NodeId, len(g.nodes))
	for id, node := range g.nodes {
		nodeParents := node.Parents()
		if len(nodeParents) == 0 {
			continue
		}
		ids := make([]NodeId, len(nodeParents))
		for i, parent := range nodeParents {
			pId, found := g.byHandle[parent.Handle()]
			if !found {
				if ph, ok := parent.(*Placeholder); ok && declared != nil {
					return nil, errors.Errorf("placeholder %q feeds node %q but was not declared as an input",
						ph.Name(), node.Name())
				}
				return nil, errors.Errorf("internal: parent %q of node %q was not registered", parent.Name(), node.Name())
			}
			ids[i] = pId
		}
		g.parents[NodeId(id)] = ids
		for _, pId := range ids {
			if !slices.Contains(g.children[pId], NodeId(id)) {
				g.children[pId] = append(g.children[pId], NodeId(id))
			}
		}
	}

	// Collect placeholders: discovery order if none were declared. With a
	// declared list, any other placeholder reachable from an output is a
	// configuration error.
	for id, node := range g.nodes {
		ph, ok := node.(*Placeholder)
		if !ok {
			continue
		}
		if declared != nil && id >= len(declared) {
			return nil, errors.Errorf("placeholder %q feeds an output but was not declared as an input", ph.Name())
		}
		g.placeholders = append(g.placeholders, NodeId(id))
	}

	g.outputs = make([]NodeId, len(outputs))
	for i, out := range outputs {
		g.outputs[i] = g.byHandle[out.Handle()]
	}

	g.markNeeded()
	return g, nil
}

// register appends the node to the arena, returning its id.
func (g *Graph) register(node Producer) NodeId {
	id := NodeId(len(g.nodes))
	g.nodes = append(g.nodes, node)
	g.byHandle[node.Handle()] = id
	return id
}

// markNeeded flags every node on a path to an output.
func (g *Graph) markNeeded() {
	g.needed = make([]bool, len(g.nodes))
	var mark func(id NodeId)
	mark = func(id NodeId) {
		if g.needed[id] {
			return
		}
		g.needed[id] = true
		for _, pId := range g.parents[id] {
			mark(pId)
		}
	}
	for _, id := range g.outputs {
		mark(id)
	}
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Nodes enumerates all nodes in topological order: parents always before
// children. The returned slice is a copy.
func (g *Graph) Nodes() []Producer { return slices.Clone(g.nodes) }

// NodeById returns the node at the given id, or nil if the id is invalid.
func (g *Graph) NodeById(id NodeId) Producer {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// IdOf returns the NodeId of the given producer within the graph, or
// InvalidNodeId if the producer (by handle) is not part of it.
func (g *Graph) IdOf(p Producer) NodeId {
	id, found := g.byHandle[p.Handle()]
	if !found {
		return InvalidNodeId
	}
	return id
}

// HasNode reports whether p (by handle) is part of the graph.
func (g *Graph) HasNode(p Producer) bool { return g.IdOf(p) != InvalidNodeId }

// Outputs returns the designated output nodes, in order.
func (g *Graph) Outputs() []Producer {
	outs := make([]Producer, len(g.outputs))
	for i, id := range g.outputs {
		outs[i] = g.nodes[id]
	}
	return outs
}

// Placeholders returns the expected inputs of the DAG, in declared (or
// discovery) order. Graph.Apply takes one value per placeholder, in this
// order.
func (g *Graph) Placeholders() []*Placeholder {
	phs := make([]*Placeholder, len(g.placeholders))
	for i, id := range g.placeholders {
		phs[i] = g.nodes[id].(*Placeholder)
	}
	return phs
}

// Parents returns the ordered parents of p. It returns nil if p is not part
// of the graph.
func (g *Graph) Parents(p Producer) []Producer {
	id := g.IdOf(p)
	if id == InvalidNodeId {
		return nil
	}
	parents := make([]Producer, len(g.parents[id]))
	for i, pId := range g.parents[id] {
		parents[i] = g.nodes[pId]
	}
	return parents
}

// ParentIds returns the ids of the ordered parents of the node at id. The
// returned slice must not be modified.
func (g *Graph) ParentIds(id NodeId) []NodeId { return g.parents[id] }

// Children returns the distinct nodes that consume p's output, in
// topological order. It returns nil if p is not part of the graph.
func (g *Graph) Children(p Producer) []Producer {
	id := g.IdOf(p)
	if id == InvalidNodeId {
		return nil
	}
	children := make([]Producer, len(g.children[id]))
	for i, cId := range g.children[id] {
		children[i] = g.nodes[cId]
	}
	return children
}

// OutputIds returns the ids of the output nodes. The returned slice must not
// be modified.
func (g *Graph) OutputIds() []NodeId { return g.outputs }

// ReductionLevel records how aggressively rewrite rules have already been
// applied to this graph. Reducing again at the same or a lower level is a
// no-op.
func (g *Graph) ReductionLevel() Level { return g.level }

// IsPrepared reports whether every node of the graph can be applied directly:
// no Preparable transformers and no TransformerViews remain.
func (g *Graph) IsPrepared() bool {
	for _, node := range g.nodes {
		switch node.(type) {
		case *Placeholder, *Constant:
		default:
			if _, ok := node.(Generator); ok {
				continue
			}
			if _, ok := node.(Prepared); !ok {
				return false
			}
		}
	}
	return true
}

// AncestorPath describes one ancestor of a queried node, along with one
// shortest chain of parent edges connecting them: Path[0] is the ancestor,
// and the last element is the queried node itself.
type AncestorPath struct {
	Ancestor Producer
	Path     []Producer
}

// Ancestors enumerates, breadth-first, the ancestors of p up to maxDepth
// generations (1 yields only the direct parents). For each ancestor exactly
// one shortest path back to p is reported. Ties between equally short paths
// are broken deterministically, following the parents' argument order.
func (g *Graph) Ancestors(p Producer, maxDepth int) ([]AncestorPath, error) {
	id := g.IdOf(p)
	if id == InvalidNodeId {
		return nil, errors.Errorf("node %q (%T) is not part of the graph", p.Name(), p)
	}
	if maxDepth < 1 {
		return nil, errors.Errorf("Ancestors maxDepth must be >= 1, got %d", maxDepth)
	}

	// via[a] is the next hop from ancestor a towards p.
	via := make(map[NodeId]NodeId)
	seen := map[NodeId]bool{id: true}
	frontier := []NodeId{id}
	var result []AncestorPath
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []NodeId
		for _, cur := range frontier {
			for _, pId := range g.parents[cur] {
				if seen[pId] {
					continue
				}
				seen[pId] = true
				via[pId] = cur
				next = append(next, pId)

				path := []Producer{g.nodes[pId]}
				for hop := cur; ; hop = via[hop] {
					path = append(path, g.nodes[hop])
					if hop == id {
						break
					}
				}
				result = append(result, AncestorPath{Ancestor: g.nodes[pId], Path: path})
			}
		}
		frontier = next
	}
	return result, nil
}
