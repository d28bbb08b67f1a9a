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

// Package transformers provides ready-made producers for dagpipe graphs:
// simple arithmetic transformers, generators, and trainable (preparable)
// transformers like Standardize and KMeans.
//
// They are also the reference for implementing new producers: each concrete
// type shows the full contract -- configuration validation, structural
// equality, parent re-wiring and, for the preparable ones, the Preparer
// protocol.
package transformers

import (
	"github.com/gomlx/dagpipe/graph"
	"github.com/pkg/errors"
)

// toFloat64 coerces the numeric types accepted by the arithmetic
// transformers.
func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, errors.Errorf("expected a numeric value, got %T", value)
	}
}

// Sum is a prepared transformer returning the float64 sum of its inputs.
type Sum struct {
	graph.NodeBase
	inputs []graph.Producer
}

var _ graph.Prepared = &Sum{}

// NewSum creates a transformer summing the given inputs.
func NewSum(inputs ...graph.Producer) *Sum {
	return &Sum{NodeBase: graph.MakeNodeBase("sum"), inputs: inputs}
}

// Parents implements graph.Producer.
func (s *Sum) Parents() []graph.Producer { return s.inputs }

// Validate implements graph.Producer.
func (s *Sum) Validate() error {
	if len(s.inputs) == 0 {
		return errors.Errorf("Sum requires at least one input")
	}
	for i, input := range s.inputs {
		if input == nil {
			return errors.Errorf("Sum input #%d is nil", i)
		}
	}
	return nil
}

// WithParents implements graph.ChildProducer.
func (s *Sum) WithParents(parents []graph.Producer) (graph.Producer, error) {
	if len(parents) != len(s.inputs) {
		return nil, errors.Errorf("Sum has %d input(s), cannot re-wire to %d", len(s.inputs), len(parents))
	}
	return NewSum(parents...), nil
}

// Apply implements graph.Prepared.
func (s *Sum) Apply(inputs []any) (any, error) {
	total := 0.0
	for i, input := range inputs {
		v, err := toFloat64(input)
		if err != nil {
			return nil, errors.WithMessagef(err, "Sum input #%d", i)
		}
		total += v
	}
	return total, nil
}

// EqualStructure implements graph.Producer.
func (s *Sum) EqualStructure(other graph.Producer) bool {
	o, ok := other.(*Sum)
	return ok && len(o.inputs) == len(s.inputs)
}

// StructureHash implements graph.Producer.
func (s *Sum) StructureHash() uint64 {
	return graph.HashStructure("transformers.Sum")
}

// Scale is a prepared transformer multiplying its single input by a fixed
// factor.
type Scale struct {
	graph.NodeBase
	input  graph.Producer
	factor float64
}

var _ graph.Prepared = &Scale{}

// NewScale creates a transformer computing input*factor.
func NewScale(input graph.Producer, factor float64) *Scale {
	return &Scale{NodeBase: graph.MakeNodeBase("scale"), input: input, factor: factor}
}

// Parents implements graph.Producer.
func (s *Scale) Parents() []graph.Producer { return []graph.Producer{s.input} }

// Validate implements graph.Producer.
func (s *Scale) Validate() error {
	if s.input == nil {
		return errors.Errorf("Scale requires an input")
	}
	return nil
}

// WithParents implements graph.ChildProducer.
func (s *Scale) WithParents(parents []graph.Producer) (graph.Producer, error) {
	if len(parents) != 1 {
		return nil, errors.Errorf("Scale has exactly one input, cannot re-wire to %d", len(parents))
	}
	return NewScale(parents[0], s.factor), nil
}

// Apply implements graph.Prepared.
func (s *Scale) Apply(inputs []any) (any, error) {
	v, err := toFloat64(inputs[0])
	if err != nil {
		return nil, errors.WithMessage(err, "Scale input")
	}
	return v * s.factor, nil
}

// EqualStructure implements graph.Producer.
func (s *Scale) EqualStructure(other graph.Producer) bool {
	o, ok := other.(*Scale)
	return ok && o.factor == s.factor
}

// StructureHash implements graph.Producer.
func (s *Scale) StructureHash() uint64 {
	return graph.HashStructure("transformers.Scale", fmtFloat(s.factor))
}
