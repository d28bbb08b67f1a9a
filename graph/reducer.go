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
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Level selects how aggressively Reduce rewrites a graph. Levels are ordered:
// each level includes every rewrite of the levels below it.
type Level int

const (
	// LevelNone applies no rewrite rules. Freshly built graphs are at this
	// level.
	LevelNone Level = iota

	// LevelEssential applies rewrites that are always cheap wins: constant
	// folding of prepared transformers whose transitive inputs are all
	// constants.
	LevelEssential

	// LevelAggressive additionally merges structurally equal nodes with
	// identical parents (common subexpression elimination). Placeholders are
	// never merged.
	LevelAggressive
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "LevelNone"
	case LevelEssential:
		return "LevelEssential"
	case LevelAggressive:
		return "LevelAggressive"
	default:
		return "LevelUnknown"
	}
}

// Reduce rewrites g into a functionally equivalent graph with fewer or
// simpler nodes, without requiring any example data. The result computes
// identical outputs to g for every valid input; it may have a different node
// count and different intermediate node identities.
//
// Rewrite rules fire only when equivalence is provable -- there are no
// heuristic rewrites. Rules are applied bottom-up, repeatedly, until a fixed
// point for the requested level.
//
// Reducing a graph at or below its current ReductionLevel is a no-op and
// returns g itself.
func Reduce(g *Graph, level Level) (*Graph, error) {
	if level <= g.level {
		return g, nil
	}

	// subst maps a node (by handle) to its replacement. Replacements may
	// chain when rules cascade.
	subst := make(map[Handle]Producer)
	resolve := func(p Producer) Producer {
		for {
			next, found := subst[p.Handle()]
			if !found || next.Handle() == p.Handle() {
				return p
			}
			p = next
		}
	}

	// Nodes kept so far, bucketed by structure hash, for the merge rule.
	kept := make(map[uint64][]Producer)

	for changed := true; changed; {
		changed = false
		kept = make(map[uint64][]Producer)
		for _, node := range g.nodes {
			current := resolve(node)
			// Rules below compare against the resolution at the start of this
			// pass: a node already substituted in an earlier pass is not
			// "changed" again unless a rule fires on it now.
			prev := current

			// Re-wire to the reduced parents, if any changed.
			oldParents := current.Parents()
			if len(oldParents) > 0 {
				newParents := make([]Producer, len(oldParents))
				rewire := false
				for i, parent := range oldParents {
					newParents[i] = resolve(parent)
					rewire = rewire || newParents[i].Handle() != parent.Handle()
				}
				if rewire {
					child, ok := current.(ChildProducer)
					if !ok {
						return nil, errors.Errorf("node %q (%T) has parents but is not a graph.ChildProducer", current.Name(), current)
					}
					rewired, err := child.WithParents(newParents)
					if err != nil {
						return nil, errors.WithMessagef(err, "re-wiring node %q while reducing graph", current.Name())
					}
					current = rewired
				}
			}

			// Rule: constant folding. A Prepared transformer is stateless and
			// side effect free by contract, so with all-constant inputs its
			// output is the same constant for every example.
			if folded, ok := foldConstants(current); ok {
				current = folded
			}

			// Rule: merge structurally equal nodes with identical parents.
			// Placeholder structural equality is handle identity, so distinct
			// placeholders never merge.
			if level >= LevelAggressive {
				if merged, ok := findEqualKept(kept, current); ok {
					current = merged
				}
			}

			if current.Handle() != prev.Handle() {
				subst[node.Handle()] = current
				if prev.Handle() != node.Handle() {
					// Keep chains through intermediate rewrites resolvable.
					subst[prev.Handle()] = current
				}
				changed = true
			}
			hash := current.StructureHash()
			kept[hash] = append(kept[hash], current)
		}
	}

	outputs := make([]Producer, len(g.outputs))
	for i, id := range g.outputs {
		outputs[i] = resolve(g.nodes[id])
	}
	reduced, err := NewWithInputs(g.Placeholders(), outputs...)
	if err != nil {
		return nil, errors.WithMessagef(err, "rebuilding graph after reduction at %s", level)
	}
	reduced.level = level
	if klog.V(1).Enabled() {
		klog.Infof("graph.Reduce(%s): %d nodes -> %d nodes", level, g.NumNodes(), reduced.NumNodes())
	}
	return reduced, nil
}

// MustReduce is like Reduce but panics on error.
func MustReduce(g *Graph, level Level) *Graph {
	reduced, err := Reduce(g, level)
	if err != nil {
		exceptions.Panicf("graph.Reduce: %+v", err)
	}
	return reduced
}

// foldConstants replaces a Prepared transformer whose parents are all
// constants with a single Constant holding the applied value. It does not
// fire if the application fails -- equivalence would not be provable.
func foldConstants(p Producer) (Producer, bool) {
	prepared, ok := p.(Prepared)
	if !ok {
		return p, false
	}
	parents := prepared.Parents()
	values := make([]any, len(parents))
	for i, parent := range parents {
		c, isConst := parent.(*Constant)
		if !isConst {
			return p, false
		}
		values[i] = c.Value()
	}
	value, err := prepared.Apply(values)
	if err != nil {
		return p, false
	}
	return NewConstant(value), true
}

// findEqualKept searches the kept nodes for one interchangeable with p: same
// structure and the same parents (by handle), in the same order.
func findEqualKept(kept map[uint64][]Producer, p Producer) (Producer, bool) {
	for _, candidate := range kept[p.StructureHash()] {
		if candidate.Handle() == p.Handle() {
			return candidate, true
		}
		if !candidate.EqualStructure(p) {
			continue
		}
		cParents, pParents := candidate.Parents(), p.Parents()
		if len(cParents) != len(pParents) {
			continue
		}
		same := true
		for i := range cParents {
			if cParents[i].Handle() != pParents[i].Handle() {
				same = false
				break
			}
		}
		if same {
			return candidate, true
		}
	}
	return nil, false
}
