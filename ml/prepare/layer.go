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

package prepare

import (
	"context"
	"io"

	"github.com/gomlx/dagpipe/graph"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// layerBatch carries one minibatch of already-computed parent values for a
// layer: args[layerPos][exampleInBatch] is the positional argument slice for
// one Process call. It is built by the streaming goroutine and read -- never
// written -- by the workers.
type layerBatch struct {
	args [][][]any
}

// runLayer trains the given layer nodes in one streaming pass over the
// example source.
//
// Data-dependency ordering: a preparer only ever sees parent values computed
// from fully resolved (preparation-data) ancestors, for the exact example
// being processed. Each preparer is owned by a single worker and receives
// its minibatches in stream order, so per-preparer example order always
// matches the source order; independent preparers may interleave freely.
//
// Any failure aborts the run: workers are cancelled cooperatively and the
// layer's partial work is discarded.
func (run *preparationRun) runLayer(pass int, layer []graph.NodeId) error {
	g := run.graph

	preparers := make([]graph.Preparer, len(layer))
	for i, id := range layer {
		node := g.NodeById(id).(graph.Preparable)
		pctx := &graph.PreparerContext{
			EstimatedExampleCount: run.hint,
			Workers:               run.workers,
			MinibatchSize:         run.config.minibatchSize,
		}
		preparer, err := node.NewPreparer(pctx)
		if err != nil {
			return errors.WithMessagef(err, "creating preparer for node %q (%T)", node.Name(), node)
		}
		if preparer == nil {
			return errors.Errorf("node %q (%T) returned a nil preparer", node.Name(), node)
		}
		preparers[i] = preparer
	}

	plan := run.evaluationPlan(layer)
	results := make([]graph.PreparerResult, len(layer))

	var err error
	if run.workers <= 1 || len(layer) == 1 {
		err = run.streamSerial(pass, layer, preparers, plan, results)
	} else {
		err = run.streamParallel(pass, layer, preparers, plan, results)
	}
	run.passes = pass + 1
	if err != nil {
		return err
	}

	// Layer barrier: substitution is a single-writer operation, done here by
	// the Run goroutine after all workers finished.
	for i, id := range layer {
		node := g.NodeById(id)
		parentIds := g.ParentIds(id)
		newParents := make([]graph.Producer, len(parentIds))
		prepParents := make([]graph.Producer, len(parentIds))
		for j, pId := range parentIds {
			newParents[j] = run.newSub[pId]
			prepParents[j] = run.prepSub[pId]
		}
		newNode, err := results[i].ForNewData().WithParents(newParents)
		if err != nil {
			return errors.WithMessagef(err, "wiring prepared replacement of node %q", node.Name())
		}
		prepNode, err := results[i].ForPreparationData().WithParents(prepParents)
		if err != nil {
			return errors.WithMessagef(err, "wiring preparation-data replacement of node %q", node.Name())
		}
		run.newSub[id] = newNode
		run.prepSub[id] = prepNode
	}
	return nil
}

// evalStep is one node of the upstream evaluation plan for a layer.
type evalStep struct {
	id graph.NodeId

	// Exactly one of the following drives the step.
	placeholderPos int // -1 unless the node is a placeholder.
	generator      graph.Generator
	prepared       graph.Prepared
	parentIds      []graph.NodeId
}

// evaluationPlan lists the resolved nodes whose per-example values are
// needed to feed the layer's preparers, in dependency order, using the
// preparation-data substitution.
func (run *preparationRun) evaluationPlan(layer []graph.NodeId) []evalStep {
	g := run.graph
	needed := make([]bool, g.NumNodes())
	var mark func(id graph.NodeId)
	mark = func(id graph.NodeId) {
		if needed[id] {
			return
		}
		needed[id] = true
		for _, pId := range g.ParentIds(id) {
			mark(pId)
		}
	}
	for _, id := range layer {
		for _, pId := range g.ParentIds(id) {
			mark(pId)
		}
	}

	var plan []evalStep
	for id := graph.NodeId(0); int(id) < g.NumNodes(); id++ {
		if !needed[id] {
			continue
		}
		step := evalStep{id: id, placeholderPos: -1}
		resolved := run.prepSub[id]
		switch n := resolved.(type) {
		case *graph.Placeholder:
			step.placeholderPos = run.placeholderPos[id]
		case graph.Generator:
			step.generator = n
		case graph.Prepared:
			step.prepared = n
			step.parentIds = g.ParentIds(id)
		}
		plan = append(plan, step)
	}
	return plan
}

// evalExample computes the plan's values for one example into the values
// scratch slice (indexed by NodeId).
func (run *preparationRun) evalExample(plan []evalStep, index int64, example []any, values []any) error {
	for _, step := range plan {
		switch {
		case step.placeholderPos >= 0:
			values[step.id] = example[step.placeholderPos]
		case step.generator != nil:
			v, err := step.generator.Generate(index)
			if err != nil {
				return errors.WithMessagef(err, "generating value of node %q for example #%d",
					run.graph.NodeById(step.id).Name(), index)
			}
			values[step.id] = v
		default:
			args := make([]any, len(step.parentIds))
			for i, pId := range step.parentIds {
				args[i] = values[pId]
			}
			v, err := step.prepared.Apply(args)
			if err != nil {
				return errors.WithMessagef(err, "applying node %q to example #%d",
					run.graph.NodeById(step.id).Name(), index)
			}
			values[step.id] = v
		}
	}
	return nil
}

// readBatch computes one minibatch of layer arguments. Returns 0 examples at
// the end of the stream.
func (run *preparationRun) readBatch(layer []graph.NodeId, plan []evalStep, baseIndex int64, values []any) (*layerBatch, int, error) {
	g := run.graph
	numPlaceholders := len(run.placeholderPos)
	batch := &layerBatch{args: make([][][]any, len(layer))}
	size := 0
	for ; size < run.config.minibatchSize; size++ {
		example, err := run.src.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, errors.WithMessagef(err, "reading example #%d", baseIndex+int64(size))
		}
		if len(example) != numPlaceholders {
			return nil, 0, errors.Errorf("example #%d has %d value(s), graph expects %d (one per placeholder)",
				baseIndex+int64(size), len(example), numPlaceholders)
		}
		if err := run.evalExample(plan, baseIndex+int64(size), example, values); err != nil {
			return nil, 0, err
		}
		for i, id := range layer {
			parentIds := g.ParentIds(id)
			args := make([]any, len(parentIds))
			for j, pId := range parentIds {
				args[j] = values[pId]
			}
			batch.args[i] = append(batch.args[i], args)
		}
	}
	return batch, size, nil
}

// processOne runs one Process call, converting error-valued panics into
// returned errors.
func processOne(preparer graph.Preparer, args []any) error {
	var callErr error
	if panicErr := exceptions.TryCatch[error](func() { callErr = preparer.Process(args) }); panicErr != nil {
		return panicErr
	}
	return callErr
}

// finishOne runs Finish, converting error-valued panics into returned
// errors.
func finishOne(preparer graph.Preparer) (graph.PreparerResult, error) {
	var result graph.PreparerResult
	var callErr error
	if panicErr := exceptions.TryCatch[error](func() { result, callErr = preparer.Finish() }); panicErr != nil {
		return result, panicErr
	}
	return result, callErr
}

// streamSerial is the deterministic single-worker path: no goroutines, nodes
// processed in fixed order within each minibatch.
func (run *preparationRun) streamSerial(pass int, layer []graph.NodeId, preparers []graph.Preparer, plan []evalStep, results []graph.PreparerResult) error {
	g := run.graph
	if err := run.src.Reset(); err != nil {
		return errors.WithMessage(err, "resetting example source")
	}
	values := make([]any, g.NumNodes())
	var index int64
	for {
		batch, size, err := run.readBatch(layer, plan, index, values)
		if err != nil {
			return err
		}
		if size == 0 {
			break
		}
		for i, preparer := range preparers {
			for _, args := range batch.args[i] {
				if err := processOne(preparer, args); err != nil {
					return errors.WithMessagef(err, "preparing node %q", g.NodeById(layer[i]).Name())
				}
			}
		}
		index += int64(size)
		if run.config.progress != nil {
			run.config.progress(pass, index)
		}
	}
	for i, preparer := range preparers {
		result, err := finishOne(preparer)
		if err != nil {
			return errors.WithMessagef(err, "finishing preparation of node %q", g.NodeById(layer[i]).Name())
		}
		if result.ForNewData() == nil {
			return errors.Errorf("preparer of node %q finished with a nil prepared transformer", g.NodeById(layer[i]).Name())
		}
		results[i] = result
	}
	return nil
}

// streamParallel partitions the layer nodes across at most run.workers
// workers. The streaming goroutine computes upstream values and fans
// minibatches out to per-worker channels; each worker owns its preparers
// exclusively and writes only its own result slots, so no locking is needed
// beyond the channels and the errgroup barrier.
func (run *preparationRun) streamParallel(pass int, layer []graph.NodeId, preparers []graph.Preparer, plan []evalStep, results []graph.PreparerResult) error {
	g := run.graph
	numWorkers := min(run.workers, len(layer))

	channels := make([]chan *layerBatch, numWorkers)
	for w := range channels {
		channels[w] = make(chan *layerBatch, 2)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	group, ctx := errgroup.WithContext(runCtx)
	for w := 0; w < numWorkers; w++ {
		group.Go(func() error {
			for batch := range channels[w] {
				for i := w; i < len(layer); i += numWorkers {
					for _, args := range batch.args[i] {
						if err := processOne(preparers[i], args); err != nil {
							return errors.WithMessagef(err, "preparing node %q", g.NodeById(layer[i]).Name())
						}
					}
					if ctx.Err() != nil {
						return ctx.Err()
					}
				}
			}
			// The stream aborting cancels the run: nothing to finish.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			for i := w; i < len(layer); i += numWorkers {
				result, err := finishOne(preparers[i])
				if err != nil {
					return errors.WithMessagef(err, "finishing preparation of node %q", g.NodeById(layer[i]).Name())
				}
				if result.ForNewData() == nil {
					return errors.Errorf("preparer of node %q finished with a nil prepared transformer", g.NodeById(layer[i]).Name())
				}
				results[i] = result
			}
			return nil
		})
	}

	streamErr := func() error {
		if err := run.src.Reset(); err != nil {
			return errors.WithMessage(err, "resetting example source")
		}
		values := make([]any, g.NumNodes())
		var index int64
		for {
			batch, size, err := run.readBatch(layer, plan, index, values)
			if err != nil {
				return err
			}
			if size == 0 {
				return nil
			}
			for _, ch := range channels {
				select {
				case ch <- batch:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			index += int64(size)
			if run.config.progress != nil {
				run.config.progress(pass, index)
			}
		}
	}()
	if streamErr != nil {
		cancel()
	}
	for _, ch := range channels {
		close(ch)
	}
	waitErr := group.Wait()
	if streamErr != nil && !errors.Is(streamErr, context.Canceled) {
		return streamErr
	}
	if waitErr != nil {
		return waitErr
	}
	return nil
}
