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

package graph_test

import (
	"testing"

	. "github.com/gomlx/dagpipe/graph"
	"github.com/gomlx/dagpipe/transformers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mutableNode is a test-only child producer whose parents can be re-pointed
// after creation, to build otherwise unbuildable graphs (cycles).
type mutableNode struct {
	NodeBase
	parents []Producer
}

func newMutableNode(name string, parents ...Producer) *mutableNode {
	return &mutableNode{NodeBase: MakeNodeBase(name), parents: parents}
}

func (m *mutableNode) Parents() []Producer { return m.parents }
func (m *mutableNode) Validate() error     { return nil }
func (m *mutableNode) WithParents(parents []Producer) (Producer, error) {
	return newMutableNode(m.Name(), parents...), nil
}
func (m *mutableNode) Apply(inputs []any) (any, error) { return inputs[0], nil }
func (m *mutableNode) EqualStructure(other Producer) bool {
	o, ok := other.(*mutableNode)
	return ok && o.Name() == m.Name()
}
func (m *mutableNode) StructureHash() uint64 {
	return HashStructure("graph_test.mutableNode", m.Name())
}

func TestGraphConstruction(t *testing.T) {
	x := NewPlaceholder("x")
	c := NewConstant(5.0)
	sum := transformers.NewSum(x, c)
	g, err := New(sum)
	require.NoError(t, err)

	assert.Equal(t, 3, g.NumNodes())
	require.Len(t, g.Placeholders(), 1)
	assert.Same(t, x, g.Placeholders()[0])
	require.Len(t, g.Outputs(), 1)
	assert.Same(t, Producer(sum), g.Outputs()[0])

	// Topological order: parents before children.
	sumId := g.IdOf(sum)
	for _, parent := range g.Parents(sum) {
		assert.Less(t, int(g.IdOf(parent)), int(sumId))
	}
	// Parent order matches the argument order.
	parents := g.Parents(sum)
	require.Len(t, parents, 2)
	assert.Same(t, Producer(x), parents[0])
	assert.Same(t, Producer(c), parents[1])

	children := g.Children(x)
	require.Len(t, children, 1)
	assert.Same(t, Producer(sum), children[0])
}

func TestGraphRejectsCycles(t *testing.T) {
	a := newMutableNode("a")
	b := newMutableNode("b", a)
	a.parents = []Producer{b} // a <-> b

	_, err := New(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestGraphDeadNodeElimination(t *testing.T) {
	x := NewPlaceholder("x")
	used := transformers.NewScale(x, 2)
	dead := transformers.NewScale(x, 3)

	g, err := New(used)
	require.NoError(t, err)
	assert.True(t, g.HasNode(used))
	assert.False(t, g.HasNode(dead), "node with no path to an output must be excluded")
	assert.Equal(t, InvalidNodeId, g.IdOf(dead))
}

func TestGraphPreservesDeclaredPlaceholders(t *testing.T) {
	x := NewPlaceholder("x")
	unused := NewPlaceholder("unused")
	g, err := NewWithInputs([]*Placeholder{x, unused}, transformers.NewScale(x, 2))
	require.NoError(t, err)

	require.Len(t, g.Placeholders(), 2)
	assert.Same(t, unused, g.Placeholders()[1])
	assert.True(t, g.HasNode(unused))
}

func TestGraphRejectsUndeclaredPlaceholder(t *testing.T) {
	x := NewPlaceholder("x")
	hidden := NewPlaceholder("hidden")
	sum := transformers.NewSum(x, hidden)
	_, err := NewWithInputs([]*Placeholder{x}, sum)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hidden")
	assert.Contains(t, err.Error(), "not declared")
}

func TestGraphValidatesNodes(t *testing.T) {
	_, err := New(transformers.NewSum())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one input")
}

func TestAncestors(t *testing.T) {
	x := NewPlaceholder("x")
	s1 := transformers.NewScale(x, 2)
	s2 := transformers.NewScale(s1, 3)
	g := MustNew(s2)

	// Depth 1: only the direct parent.
	paths, err := g.Ancestors(s2, 1)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Same(t, Producer(s1), paths[0].Ancestor)

	// Depth 2: also x, with the shortest path back to s2.
	paths, err = g.Ancestors(s2, 2)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Same(t, Producer(s1), paths[0].Ancestor)
	assert.Same(t, Producer(x), paths[1].Ancestor)
	require.Len(t, paths[1].Path, 3)
	assert.Same(t, Producer(x), paths[1].Path[0])
	assert.Same(t, Producer(s1), paths[1].Path[1])
	assert.Same(t, Producer(s2), paths[1].Path[2])
}

func TestAncestorsShortestPath(t *testing.T) {
	// x reaches out both directly and through scale: the shortest path wins.
	x := NewPlaceholder("x")
	scale := transformers.NewScale(x, 2)
	out := transformers.NewSum(x, scale)
	g := MustNew(out)

	paths, err := g.Ancestors(out, 10)
	require.NoError(t, err)
	byAncestor := make(map[Producer]AncestorPath)
	for _, p := range paths {
		byAncestor[p.Ancestor] = p
	}
	require.Contains(t, byAncestor, Producer(x))
	assert.Len(t, byAncestor[Producer(x)].Path, 2, "expected the direct x->out path")
}

func TestHandleIdentity(t *testing.T) {
	p1 := NewPlaceholder("p")
	p2 := NewPlaceholder("p")
	assert.NotEqual(t, p1.Handle(), p2.Handle())
	assert.False(t, p1.EqualStructure(p2), "distinct placeholders must never be structurally equal")
	assert.True(t, p1.EqualStructure(p1))

	c1 := NewConstant(7)
	c2 := NewConstant(7)
	assert.NotEqual(t, c1.Handle(), c2.Handle())
	assert.True(t, c1.EqualStructure(c2))
	assert.Equal(t, c1.StructureHash(), c2.StructureHash())
}

func TestNodesByType(t *testing.T) {
	x := NewPlaceholder("x")
	sum := transformers.NewSum(x, NewConstant(1.0))
	g := MustNew(sum)
	byType := g.NodesByType()
	assert.Len(t, byType["*transformers.Sum"], 1)
	assert.Len(t, byType["*graph.Placeholder"], 1)
	assert.NotEmpty(t, g.String())
}
