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

package transformers

import (
	"math"

	"github.com/gomlx/dagpipe/graph"
	"github.com/pkg/errors"
)

// Standardize is a preparable transformer over one numeric input: during
// preparation it accumulates the input's mean and standard deviation, and
// the prepared transformer maps v to (v-mean)/stddev.
//
// The accumulation is order insensitive (Welford's online algorithm), so
// Standardize prepares to the same result at any worker count.
type Standardize struct {
	graph.NodeBase
	input graph.Producer
}

var _ graph.Preparable = &Standardize{}

// NewStandardize creates a standardizing transformer over input.
func NewStandardize(input graph.Producer) *Standardize {
	return &Standardize{NodeBase: graph.MakeNodeBase("standardize"), input: input}
}

// Parents implements graph.Producer.
func (s *Standardize) Parents() []graph.Producer { return []graph.Producer{s.input} }

// Validate implements graph.Producer.
func (s *Standardize) Validate() error {
	if s.input == nil {
		return errors.Errorf("Standardize requires an input")
	}
	return nil
}

// WithParents implements graph.ChildProducer.
func (s *Standardize) WithParents(parents []graph.Producer) (graph.Producer, error) {
	if len(parents) != 1 {
		return nil, errors.Errorf("Standardize has exactly one input, cannot re-wire to %d", len(parents))
	}
	return NewStandardize(parents[0]), nil
}

// EqualStructure implements graph.Producer.
func (s *Standardize) EqualStructure(other graph.Producer) bool {
	_, ok := other.(*Standardize)
	return ok
}

// StructureHash implements graph.Producer.
func (s *Standardize) StructureHash() uint64 {
	return graph.HashStructure("transformers.Standardize")
}

// NewPreparer implements graph.Preparable.
func (s *Standardize) NewPreparer(pctx *graph.PreparerContext) (graph.Preparer, error) {
	return &standardizePreparer{}, nil
}

// standardizePreparer accumulates running mean and variance with Welford's
// algorithm.
type standardizePreparer struct {
	count    int64
	mean, m2 float64
}

func (p *standardizePreparer) Process(values []any) error {
	v, err := toFloat64(values[0])
	if err != nil {
		return errors.WithMessage(err, "Standardize input")
	}
	p.count++
	delta := v - p.mean
	p.mean += delta / float64(p.count)
	p.m2 += delta * (v - p.mean)
	return nil
}

func (p *standardizePreparer) Finish() (graph.PreparerResult, error) {
	if p.count == 0 {
		return graph.PreparerResult{}, errors.Errorf("Standardize saw no examples during preparation")
	}
	stddev := math.Sqrt(p.m2 / float64(p.count))
	if stddev == 0 {
		stddev = 1 // Constant input: standardizing only centers it.
	}
	return graph.PreparerResult{
		NewData: &Standardized{
			NodeBase: graph.MakeNodeBase("standardized"),
			mean:     p.mean,
			stddev:   stddev,
		},
	}, nil
}

// Standardized is the prepared counterpart of Standardize.
type Standardized struct {
	graph.NodeBase
	input        graph.Producer
	mean, stddev float64
}

var _ graph.Prepared = &Standardized{}

// Mean learned during preparation.
func (s *Standardized) Mean() float64 { return s.mean }

// StdDev learned during preparation; 1 if the input was constant.
func (s *Standardized) StdDev() float64 { return s.stddev }

// Parents implements graph.Producer.
func (s *Standardized) Parents() []graph.Producer {
	if s.input == nil {
		return nil
	}
	return []graph.Producer{s.input}
}

// Validate implements graph.Producer.
func (s *Standardized) Validate() error {
	if s.input == nil {
		return errors.Errorf("Standardized requires an input")
	}
	return nil
}

// WithParents implements graph.ChildProducer.
func (s *Standardized) WithParents(parents []graph.Producer) (graph.Producer, error) {
	if len(parents) != 1 {
		return nil, errors.Errorf("Standardized has exactly one input, cannot re-wire to %d", len(parents))
	}
	return &Standardized{
		NodeBase: graph.MakeNodeBase("standardized"),
		input:    parents[0],
		mean:     s.mean,
		stddev:   s.stddev,
	}, nil
}

// Apply implements graph.Prepared.
func (s *Standardized) Apply(inputs []any) (any, error) {
	v, err := toFloat64(inputs[0])
	if err != nil {
		return nil, errors.WithMessage(err, "Standardized input")
	}
	return (v - s.mean) / s.stddev, nil
}

// EqualStructure implements graph.Producer.
func (s *Standardized) EqualStructure(other graph.Producer) bool {
	o, ok := other.(*Standardized)
	return ok && o.mean == s.mean && o.stddev == s.stddev
}

// StructureHash implements graph.Producer.
func (s *Standardized) StructureHash() uint64 {
	return graph.HashStructure("transformers.Standardized", fmtFloat(s.mean), fmtFloat(s.stddev))
}

// MeanOf is a TransformerView over a Standardize transformer: once the
// transformer is prepared, the view's value is the learned mean, available
// as a constant to sibling branches of the graph.
type MeanOf struct {
	graph.NodeBase
	viewed *Standardize
}

var _ graph.TransformerView = &MeanOf{}

// NewMeanOf creates a view of the mean learned by s.
func NewMeanOf(s *Standardize) *MeanOf {
	return &MeanOf{NodeBase: graph.MakeNodeBase("mean-of"), viewed: s}
}

// Parents implements graph.Producer: the single parent is the viewed
// transformer.
func (v *MeanOf) Parents() []graph.Producer { return []graph.Producer{v.viewed} }

// Validate implements graph.Producer.
func (v *MeanOf) Validate() error {
	if v.viewed == nil {
		return errors.Errorf("MeanOf requires the Standardize transformer it observes")
	}
	return nil
}

// WithParents implements graph.ChildProducer.
func (v *MeanOf) WithParents(parents []graph.Producer) (graph.Producer, error) {
	if len(parents) != 1 {
		return nil, errors.Errorf("MeanOf has exactly one parent, cannot re-wire to %d", len(parents))
	}
	viewed, ok := parents[0].(*Standardize)
	if !ok {
		return nil, errors.Errorf("MeanOf must observe a *Standardize, got %T", parents[0])
	}
	return NewMeanOf(viewed), nil
}

// ComputeView implements graph.TransformerView.
func (v *MeanOf) ComputeView(prepared graph.Prepared) (any, error) {
	s, ok := prepared.(*Standardized)
	if !ok {
		return nil, errors.Errorf("MeanOf expected a *Standardized, got %T", prepared)
	}
	return s.Mean(), nil
}

// EqualStructure implements graph.Producer.
func (v *MeanOf) EqualStructure(other graph.Producer) bool {
	_, ok := other.(*MeanOf)
	return ok
}

// StructureHash implements graph.Producer.
func (v *MeanOf) StructureHash() uint64 {
	return graph.HashStructure("transformers.MeanOf")
}

// StdDevOf is a TransformerView over a Standardize transformer: once the
// transformer is prepared, the view's value is the learned standard
// deviation, available as a constant to sibling branches of the graph.
type StdDevOf struct {
	graph.NodeBase
	viewed *Standardize
}

var _ graph.TransformerView = &StdDevOf{}

// NewStdDevOf creates a view of the standard deviation learned by s.
func NewStdDevOf(s *Standardize) *StdDevOf {
	return &StdDevOf{NodeBase: graph.MakeNodeBase("stddev-of"), viewed: s}
}

// Parents implements graph.Producer: the single parent is the viewed
// transformer.
func (v *StdDevOf) Parents() []graph.Producer { return []graph.Producer{v.viewed} }

// Validate implements graph.Producer.
func (v *StdDevOf) Validate() error {
	if v.viewed == nil {
		return errors.Errorf("StdDevOf requires the Standardize transformer it observes")
	}
	return nil
}

// WithParents implements graph.ChildProducer.
func (v *StdDevOf) WithParents(parents []graph.Producer) (graph.Producer, error) {
	if len(parents) != 1 {
		return nil, errors.Errorf("StdDevOf has exactly one parent, cannot re-wire to %d", len(parents))
	}
	viewed, ok := parents[0].(*Standardize)
	if !ok {
		return nil, errors.Errorf("StdDevOf must observe a *Standardize, got %T", parents[0])
	}
	return NewStdDevOf(viewed), nil
}

// ComputeView implements graph.TransformerView.
func (v *StdDevOf) ComputeView(prepared graph.Prepared) (any, error) {
	s, ok := prepared.(*Standardized)
	if !ok {
		return nil, errors.Errorf("StdDevOf expected a *Standardized, got %T", prepared)
	}
	return s.StdDev(), nil
}

// EqualStructure implements graph.Producer.
func (v *StdDevOf) EqualStructure(other graph.Producer) bool {
	_, ok := other.(*StdDevOf)
	return ok
}

// StructureHash implements graph.Producer.
func (v *StdDevOf) StructureHash() uint64 {
	return graph.HashStructure("transformers.StdDevOf")
}
