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

package graph

import (
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Handle is the opaque identity of a Producer instance. Two producers are the
// same literal node if, and only if, their handles are equal. This is distinct
// from structural ("value") equality -- see Producer.EqualStructure -- which is
// used for graph simplification: structurally identical nodes are
// interchangeable, but only same-handle nodes are the same instance.
type Handle uuid.UUID

// NewHandle returns a fresh, unique Handle.
func NewHandle() Handle { return Handle(uuid.New()) }

// String implements fmt.Stringer.
func (h Handle) String() string { return uuid.UUID(h).String() }

// IsZero reports whether the handle was never initialized.
func (h Handle) IsZero() bool { return h == Handle(uuid.Nil) }

// Producer is a node of a computation DAG. It is polymorphic over two
// orthogonal axes:
//
//   - Root vs. child: root producers (Placeholder, Generator) have no parents
//     and produce a value from the example index or from externally supplied
//     example data. Child producers (ChildProducer) compute their value from
//     their parents' outputs.
//   - Prepared vs. preparable: a Prepared transformer can be applied directly;
//     a Preparable transformer must first be prepared ("trained") against a
//     stream of example data -- see Preparer.
//
// Concrete producers must be immutable once handed to a Graph: all graph
// transformations (reduction, preparation) produce re-wired copies instead of
// mutating nodes in place.
type Producer interface {
	// Handle returns the instance identity of this node.
	Handle() Handle

	// Name is a short human-readable label, used in error messages and
	// introspection. It carries no semantics.
	Name() string

	// Parents returns the ordered inputs of this node, or nil for roots.
	// The order is significant: it matches the positional values given to
	// Prepared.Apply and Preparer.Process.
	Parents() []Producer

	// Validate checks the node's configuration, before any data is seen.
	// It must fail fast with a descriptive error if required configuration
	// is missing or invalid.
	Validate() error

	// EqualStructure reports whether other is structurally identical to this
	// node: same concrete type and same configuration, ignoring handles and
	// parents. Placeholders are the exception: they compare by handle, so
	// distinct placeholder instances are never conflated.
	EqualStructure(other Producer) bool

	// StructureHash is consistent with EqualStructure: equal structures must
	// hash equal. Collisions are permitted.
	StructureHash() uint64
}

// Generator is a root producer computing its value purely from the example's
// ordinal index, with no external input.
type Generator interface {
	Producer

	// Generate returns the value for the example at the given index.
	Generate(index int64) (any, error)
}

// ChildProducer is a producer with at least one parent.
type ChildProducer interface {
	Producer

	// WithParents returns a copy of this node (with a fresh Handle) wired to
	// the given parents. It errors if the number of parents is incompatible.
	// Used by the reducer and by the preparation engine when substituting
	// nodes in a graph.
	WithParents(parents []Producer) (Producer, error)
}

// Prepared is a child producer directly usable for inference.
//
// Implementations must be stateless and side effect free with respect to
// example order: Apply may be called concurrently from multiple goroutines,
// and in any order across examples.
type Prepared interface {
	ChildProducer

	// Apply computes the node's value given its parents' values for one
	// example, in Parents() order.
	Apply(inputs []any) (any, error)
}

// Preparable is a child producer that must be prepared against a stream of
// example data before it can be applied to new data.
type Preparable interface {
	ChildProducer

	// NewPreparer returns a fresh Preparer for one preparation run. The
	// returned preparer is owned by a single goroutine-sequence and is
	// discarded after Preparer.Finish.
	NewPreparer(pctx *PreparerContext) (Preparer, error)
}

// TransformerView is a child producer whose single parent is a Preparable
// transformer, and whose value is not derived per example: once the parent is
// prepared, ComputeView derives a single value from the resulting prepared
// transformer, and that value becomes a constant in the prepared graph.
//
// An example is extracting the learned centroids out of a clustering
// transformer, to make them available to sibling branches.
type TransformerView interface {
	ChildProducer

	// ComputeView derives the view's value from the prepared counterpart of
	// the viewed transformer.
	ComputeView(prepared Prepared) (any, error)
}

// PreparationDataViewer is optionally implemented by a TransformerView that
// wants to observe the "preparation data" prepared transformer -- the variant
// used to transform the very examples it was trained on -- instead of reusing
// the "new data" value.
type PreparationDataViewer interface {
	// ComputeViewForPreparationData derives the view's value as seen by
	// consumers of preparation-time data.
	ComputeViewForPreparationData(prepared Prepared) (any, error)
}

// NodeBase provides Handle and Name for concrete producers, which should
// embed it by value and initialize it with MakeNodeBase.
type NodeBase struct {
	handle Handle
	name   string
}

// MakeNodeBase initializes a NodeBase with a fresh handle.
func MakeNodeBase(name string) NodeBase {
	return NodeBase{handle: NewHandle(), name: name}
}

// Handle implements Producer.
func (b *NodeBase) Handle() Handle { return b.handle }

// Name implements Producer.
func (b *NodeBase) Name() string { return b.name }

// IsRoot reports whether p is a root producer: a Placeholder or a Generator.
func IsRoot(p Producer) bool {
	if _, ok := p.(*Placeholder); ok {
		return true
	}
	_, ok := p.(Generator)
	return ok
}

// Placeholder is a root producer representing a per-example, externally
// supplied value -- e.g., one column of the training data. The placeholders of
// a Graph define its expected inputs, in order.
//
// Placeholders have instance identity only: two placeholders are never merged
// by reduction, even if they look identical.
type Placeholder struct {
	NodeBase
}

// NewPlaceholder creates a new placeholder with the given name. The name is
// only used for error messages and introspection.
func NewPlaceholder(name string) *Placeholder {
	if name == "" {
		name = "placeholder"
	}
	return &Placeholder{NodeBase: MakeNodeBase(name)}
}

// Parents implements Producer. Placeholders are roots.
func (p *Placeholder) Parents() []Producer { return nil }

// Validate implements Producer.
func (p *Placeholder) Validate() error { return nil }

// EqualStructure implements Producer: placeholders compare by handle.
func (p *Placeholder) EqualStructure(other Producer) bool {
	o, ok := other.(*Placeholder)
	return ok && o.Handle() == p.Handle()
}

// StructureHash implements Producer.
func (p *Placeholder) StructureHash() uint64 {
	u := uuid.UUID(p.handle)
	return HashStructure("graph.Placeholder", string(u[:]))
}

// Constant is a root producer holding a fixed value, independent of the
// example. Constants are created by user code and by the reducer, when
// folding subgraphs whose transitive inputs are all constants.
type Constant struct {
	NodeBase
	value any
}

// NewConstant creates a constant node holding value.
func NewConstant(value any) *Constant {
	return &Constant{NodeBase: MakeNodeBase("constant"), value: value}
}

// Value returns the constant's value.
func (c *Constant) Value() any { return c.value }

// Parents implements Producer. Constants are roots.
func (c *Constant) Parents() []Producer { return nil }

// Generate implements Generator, ignoring the index.
func (c *Constant) Generate(index int64) (any, error) { return c.value, nil }

// Validate implements Producer.
func (c *Constant) Validate() error { return nil }

// EqualStructure implements Producer. Two constants are structurally equal
// when their values are provably equal; values the implementation cannot
// compare are conservatively reported unequal.
func (c *Constant) EqualStructure(other Producer) bool {
	o, ok := other.(*Constant)
	return ok && valuesEqual(c.value, o.value)
}

// StructureHash implements Producer.
func (c *Constant) StructureHash() uint64 {
	return HashStructure("graph.Constant", fmt.Sprintf("%T/%v", c.value, c.value))
}

// valuesEqual compares two example values for the purpose of structural
// equality. It only returns true when equality is provable: comparable types
// via ==, plus the common slice types used for example data. Anything else is
// conservatively unequal.
func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case []float64:
		bv, ok := b.([]float64)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i, v := range av {
			if v != bv[i] {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i, v := range av {
			if !valuesEqual(v, bv[i]) {
				return false
			}
		}
		return true
	}
	defer func() { _ = recover() }() // Uncomparable types: report unequal.
	return a == b
}

// HashStructure is a helper for implementing Producer.StructureHash: it
// hashes the given parts with FNV-1a. Implementations typically pass their
// concrete type name followed by their configuration fields formatted as
// strings.
func HashStructure(parts ...string) uint64 {
	h := fnv.New64a()
	for _, part := range parts {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// validateProducer runs p.Validate and wraps any failure with the node name.
func validateProducer(p Producer) error {
	if err := p.Validate(); err != nil {
		return errors.WithMessagef(err, "invalid configuration for node %q (%T)", p.Name(), p)
	}
	if len(p.Parents()) == 0 && !IsRoot(p) {
		return errors.Errorf("node %q (%T) has no parents but is not a root producer (Placeholder or Generator)", p.Name(), p)
	}
	if len(p.Parents()) > 0 {
		if _, ok := p.(ChildProducer); !ok {
			return errors.Errorf("node %q (%T) has parents but does not implement graph.ChildProducer", p.Name(), p)
		}
	}
	return nil
}
