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
	"runtime"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Apply transforms one example through a fully prepared graph: one value per
// placeholder, in Placeholders() order, and one result per output, in
// Outputs() order.
//
// Only nodes on a path to an output are evaluated: constant-folded outputs
// return their precomputed value without touching the placeholder values.
// Generators see example index 0; use ApplyIndexed to control the index.
//
// It errors if any needed node still requires preparation (see ml/prepare).
// Errors from a node's Apply are propagated as is: the engine never retries.
func (g *Graph) Apply(inputs ...any) ([]any, error) {
	return g.ApplyIndexed(0, inputs...)
}

// MustApply is like Apply but panics on error.
func (g *Graph) MustApply(inputs ...any) []any {
	outputs, err := g.ApplyIndexed(0, inputs...)
	if err != nil {
		exceptions.Panicf("Graph.Apply: %+v", err)
	}
	return outputs
}

// ApplyIndexed is Apply with an explicit example index, seen by Generator
// nodes.
func (g *Graph) ApplyIndexed(index int64, inputs ...any) ([]any, error) {
	if len(inputs) != len(g.placeholders) {
		return nil, errors.Errorf("graph expects %d input value(s) (one per placeholder), got %d",
			len(g.placeholders), len(inputs))
	}
	values := make([]any, len(g.nodes))
	for i, phId := range g.placeholders {
		values[phId] = inputs[i]
	}
	for id, node := range g.nodes {
		if !g.needed[id] {
			continue
		}
		if _, ok := node.(*Placeholder); ok {
			continue
		}
		var err error
		switch n := node.(type) {
		case Generator:
			values[id], err = n.Generate(index)
		case Prepared:
			parentIds := g.parents[NodeId(id)]
			args := make([]any, len(parentIds))
			for i, pId := range parentIds {
				args[i] = values[pId]
			}
			values[id], err = n.Apply(args)
		default:
			return nil, errors.Errorf("node %q (%T) requires preparation before the graph can be applied -- see ml/prepare",
				node.Name(), node)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "applying node %q (%T) to example #%d", node.Name(), node, index)
		}
	}
	outputs := make([]any, len(g.outputs))
	for i, id := range g.outputs {
		outputs[i] = values[id]
	}
	return outputs, nil
}

// ApplyBatch transforms a batch of examples, one slice of placeholder values
// per example, in parallel: up to workers goroutines (0 means NumCPU). The
// result preserves the example order.
//
// Prepared transformers are stateless and order independent by contract,
// which is what makes inference-time parallelism across examples legal --
// unlike preparation, where order may matter.
func (g *Graph) ApplyBatch(examples [][]any, workers int) ([][]any, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	results := make([][]any, len(examples))
	if workers == 1 {
		for i, example := range examples {
			outputs, err := g.ApplyIndexed(int64(i), example...)
			if err != nil {
				return nil, err
			}
			results[i] = outputs
		}
		return results, nil
	}
	var group errgroup.Group
	group.SetLimit(workers)
	for i, example := range examples {
		group.Go(func() error {
			outputs, err := g.ApplyIndexed(int64(i), example...)
			if err != nil {
				return err
			}
			results[i] = outputs
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
