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

// Package prepare implements the DAG preparation engine: it takes a graph
// mixing already-prepared and still-preparable transformers plus a stream of
// example data, trains every preparable transformer in dependency order and
// returns a new, fully prepared graph ready for inference.
//
// The engine works in layers: a layer is the set of not-yet-resolved
// preparable transformers whose parents are all resolved. Each layer costs
// one streaming pass over the example source: upstream values are computed
// per example and fed, in source order, to each transformer's Preparer.
// Within a layer independent preparers run concurrently, bounded by a
// configurable worker count; a worker count of 1 serializes everything
// deterministically.
//
// Example:
//
//	x := graph.NewPlaceholder("x")
//	km := transformers.NewKMeans(x, 2)
//	g := graph.MustNew(km)
//	trained, err := prepare.Prepare(g, data.Single(points))
//	...
//	cluster := trained.MustApply(point)[0]
package prepare

import (
	"runtime"

	"github.com/gomlx/dagpipe/graph"
	"github.com/gomlx/dagpipe/ml/data"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ProgressFn observes a preparation run: it is called after every minibatch
// with the 0-based index of the current streaming pass (one pass per layer,
// plus one final pass when outputs are kept) and the number of examples
// processed so far in that pass.
type ProgressFn func(pass int, examples int64)

// Preparation configures and runs the training of one graph. Configure it
// with the chained setters and then call Run; the zero configuration is
// usable.
//
// A Preparation is not reusable: create a new one per Run.
type Preparation struct {
	graph *graph.Graph

	workers          int
	minibatchSize    int
	exampleCountHint int64
	reductionLevel   graph.Level
	keepOutputs      bool
	progress         ProgressFn
}

// New creates a Preparation for the given graph, with defaults: NumCPU
// workers, minibatches of 64 examples, reduction at graph.LevelEssential.
func New(g *graph.Graph) *Preparation {
	return &Preparation{
		graph:          g,
		minibatchSize:  64,
		reductionLevel: graph.LevelEssential,
	}
}

// Workers sets the maximum number of concurrent workers. 0 (the default)
// means runtime.NumCPU; 1 deterministically serializes all processing.
//
// It returns the updated Preparation, so calls can be cascaded.
func (p *Preparation) Workers(n int) *Preparation {
	p.workers = n
	return p
}

// MinibatchSize sets how many examples are moved per scheduling unit. It
// amortizes the per-call overhead; preparers still observe examples one at a
// time, in stream order.
//
// It returns the updated Preparation, so calls can be cascaded.
func (p *Preparation) MinibatchSize(n int) *Preparation {
	if n < 1 {
		n = 1
	}
	p.minibatchSize = n
	return p
}

// ExampleCountHint tells preparers roughly how many examples to expect. A
// hint only, never authoritative. If unset, the reader is asked (see
// data.SizedReader).
//
// It returns the updated Preparation, so calls can be cascaded.
func (p *Preparation) ExampleCountHint(n int64) *Preparation {
	p.exampleCountHint = n
	return p
}

// ReductionLevel sets the graph reduction applied before execution and to
// the final prepared graph. Defaults to graph.LevelEssential.
//
// It returns the updated Preparation, so calls can be cascaded.
func (p *Preparation) ReductionLevel(level graph.Level) *Preparation {
	p.reductionLevel = level
	return p
}

// KeepOutputs requests that Run also return the graph outputs for every
// preparation example, computed with the preparation-data transformers. This
// costs one extra streaming pass.
//
// It returns the updated Preparation, so calls can be cascaded.
func (p *Preparation) KeepOutputs() *Preparation {
	p.keepOutputs = true
	return p
}

// OnProgress registers a progress observer. See ProgressFn.
//
// It returns the updated Preparation, so calls can be cascaded.
func (p *Preparation) OnProgress(fn ProgressFn) *Preparation {
	p.progress = fn
	return p
}

// Result of a preparation run.
type Result struct {
	// Graph is the trained DAG: every node is prepared, immediately usable
	// for single or batch inference.
	Graph *graph.Graph

	// Outputs holds, when Preparation.KeepOutputs was requested, the graph
	// outputs for each preparation example (in stream order), computed with
	// the preparation-data transformers.
	Outputs [][]any
}

// Prepare trains the graph against the example stream with the default
// configuration. See Preparation for the configurable form.
func Prepare(g *graph.Graph, src data.Reader) (*graph.Graph, error) {
	result, err := New(g).Run(src)
	if err != nil {
		return nil, err
	}
	return result.Graph, nil
}

// Run executes the preparation: it blocks until the whole DAG is trained and
// returns the prepared graph (plus preparation-time outputs if requested).
//
// Any error -- from the reader, from a preparer, from a view -- is fatal to
// the run: partial work is discarded and the error is returned.
func (p *Preparation) Run(src data.Reader) (*Result, error) {
	workers := p.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g, err := graph.Reduce(p.graph, p.reductionLevel)
	if err != nil {
		return nil, errors.WithMessage(err, "reducing graph before preparation")
	}

	hint := p.exampleCountHint
	if hint == 0 {
		hint = data.NumExamplesHint(src)
	}

	run := &preparationRun{
		config:  p,
		graph:   g,
		src:     src,
		workers: workers,
		hint:    hint,
		newSub:  make([]graph.Producer, g.NumNodes()),
		prepSub: make([]graph.Producer, g.NumNodes()),
	}
	phs := g.Placeholders()
	run.placeholderPos = make(map[graph.NodeId]int, len(phs))
	for i, ph := range phs {
		run.placeholderPos[g.IdOf(ph)] = i
	}

	for pass := 0; ; pass++ {
		if err := run.resolveClosure(); err != nil {
			return nil, err
		}
		layer := run.nextLayer()
		if len(layer) == 0 {
			break
		}
		klog.V(1).Infof("prepare: pass #%d trains %d node(s) with %d worker(s)", pass, len(layer), workers)
		if err := run.runLayer(pass, layer); err != nil {
			return nil, err
		}
	}

	result := &Result{}
	result.Graph, err = run.assemble(run.newSub)
	if err != nil {
		return nil, errors.WithMessage(err, "assembling prepared graph")
	}
	result.Graph, err = graph.Reduce(result.Graph, p.reductionLevel)
	if err != nil {
		return nil, errors.WithMessage(err, "reducing prepared graph")
	}

	if p.keepOutputs {
		prepGraph, err := run.assemble(run.prepSub)
		if err != nil {
			return nil, errors.WithMessage(err, "assembling preparation-data graph")
		}
		pass := run.passes
		collect := func(index int64, outputs []any) error {
			result.Outputs = append(result.Outputs, outputs)
			if p.progress != nil {
				p.progress(pass, index+1)
			}
			return nil
		}
		if err := TransformFunc(prepGraph, src, workers, collect); err != nil {
			return nil, errors.WithMessage(err, "computing preparation-data outputs")
		}
	}
	return result, nil
}

// preparationRun is the mutable state of one Run. The substitution slices
// are only ever written by the goroutine running Run -- workers hand their
// results back at the layer barrier.
type preparationRun struct {
	config  *Preparation
	graph   *graph.Graph
	src     data.Reader
	workers int
	hint    int64

	// newSub and prepSub map each NodeId of graph to its resolved
	// replacement: the "new data" counterpart (used by the returned trained
	// DAG) and the "preparation data" counterpart (used to compute the
	// values downstream nodes train on). nil while unresolved.
	newSub  []graph.Producer
	prepSub []graph.Producer

	placeholderPos map[graph.NodeId]int

	passes int // Streaming passes done so far.
}

// resolveClosure resolves every node that requires no example data: roots,
// prepared children with resolved parents, and views over resolved
// transformers. A single ascending pass suffices since parents always have
// lower ids.
func (run *preparationRun) resolveClosure() error {
	g := run.graph
	for id := graph.NodeId(0); int(id) < g.NumNodes(); id++ {
		if run.newSub[id] != nil {
			continue
		}
		node := g.NodeById(id)

		if len(node.Parents()) == 0 {
			run.newSub[id] = node
			run.prepSub[id] = node
			continue
		}

		if view, ok := node.(graph.TransformerView); ok {
			if err := run.resolveView(id, view); err != nil {
				return err
			}
			continue
		}
		if _, ok := node.(graph.Preparable); ok {
			continue // Needs a training pass; handled by layers.
		}

		prepared, ok := node.(graph.Prepared)
		if !ok {
			return errors.Errorf("node %q (%T) is neither preparable nor prepared", node.Name(), node)
		}
		parentIds := g.ParentIds(id)
		if !run.resolved(parentIds) {
			continue
		}
		var err error
		run.newSub[id], err = rewire(prepared, parentIds, run.newSub)
		if err == nil {
			run.prepSub[id], err = rewire(prepared, parentIds, run.prepSub)
		}
		if err != nil {
			return errors.WithMessagef(err, "substituting prepared parents of node %q", node.Name())
		}
	}
	return nil
}

// resolveView folds a TransformerView into constants once the transformer it
// observes is resolved.
func (run *preparationRun) resolveView(id graph.NodeId, view graph.TransformerView) error {
	g := run.graph
	parentIds := g.ParentIds(id)
	if len(parentIds) != 1 {
		return errors.Errorf("view %q (%T) must have exactly one parent, the transformer it observes; it has %d",
			view.Name(), view, len(parentIds))
	}
	if !run.resolved(parentIds) {
		return nil // The observed transformer is not prepared yet.
	}
	pId := parentIds[0]

	newPrepared, ok := run.newSub[pId].(graph.Prepared)
	if !ok {
		return errors.Errorf("view %q observes node %q (%T), which does not resolve to a prepared transformer",
			view.Name(), g.NodeById(pId).Name(), run.newSub[pId])
	}
	value, err := view.ComputeView(newPrepared)
	if err != nil {
		return errors.WithMessagef(err, "computing view %q", view.Name())
	}
	newConst := graph.NewConstant(value)
	run.newSub[id] = newConst

	// By default the view's preparation-data value is the new-data value.
	if viewer, ok := view.(graph.PreparationDataViewer); ok {
		prepPrepared, ok := run.prepSub[pId].(graph.Prepared)
		if !ok {
			return errors.Errorf("view %q observes node %q, which has no prepared preparation-data counterpart",
				view.Name(), g.NodeById(pId).Name())
		}
		prepValue, err := viewer.ComputeViewForPreparationData(prepPrepared)
		if err != nil {
			return errors.WithMessagef(err, "computing preparation-data view %q", view.Name())
		}
		run.prepSub[id] = graph.NewConstant(prepValue)
		return nil
	}
	run.prepSub[id] = newConst
	return nil
}

// nextLayer returns the unresolved preparable nodes whose parents are all
// resolved, in topological (deterministic) order.
func (run *preparationRun) nextLayer() []graph.NodeId {
	g := run.graph
	var layer []graph.NodeId
	for id := graph.NodeId(0); int(id) < g.NumNodes(); id++ {
		if run.newSub[id] != nil {
			continue
		}
		if _, ok := g.NodeById(id).(graph.Preparable); !ok {
			continue
		}
		if _, isView := g.NodeById(id).(graph.TransformerView); isView {
			continue
		}
		if run.resolved(g.ParentIds(id)) {
			layer = append(layer, id)
		}
	}
	return layer
}

func (run *preparationRun) resolved(ids []graph.NodeId) bool {
	for _, id := range ids {
		if run.newSub[id] == nil {
			return false
		}
	}
	return true
}

// rewire substitutes a node's parents according to sub. When nothing
// changed, the node itself is reused: nodes with no preparable ancestor are
// left untouched, preserving their handles.
func rewire(child graph.ChildProducer, parentIds []graph.NodeId, sub []graph.Producer) (graph.Producer, error) {
	changed := false
	parents := make([]graph.Producer, len(parentIds))
	for i, pId := range parentIds {
		parents[i] = sub[pId]
		if parents[i].Handle() != child.Parents()[i].Handle() {
			changed = true
		}
	}
	if !changed {
		return child, nil
	}
	return child.WithParents(parents)
}

// assemble builds the graph resulting from substituting every output.
func (run *preparationRun) assemble(sub []graph.Producer) (*graph.Graph, error) {
	g := run.graph
	outputs := make([]graph.Producer, len(g.OutputIds()))
	for i, id := range g.OutputIds() {
		if sub[id] == nil {
			return nil, errors.Errorf("internal: output node %q was never resolved", g.NodeById(id).Name())
		}
		outputs[i] = sub[id]
	}
	return graph.NewWithInputs(g.Placeholders(), outputs...)
}
