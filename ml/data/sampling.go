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

package data

import (
	"io"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// SampledReader filters a source Reader down to a deterministic subset of its
// examples, selected by mapping each example index to a point in the unit
// interval. See Sample.
type SampledReader struct {
	source   Reader
	seed     uint64
	from, to float64

	index int64 // Index within the source stream, across included and excluded examples.

	sized    bool
	numCache int64
}

var _ SizedReader = &SampledReader{}

// Sample returns a reader over the subset of source whose examples map into
// [from, to) of the unit interval. The mapping is a pure function of (seed,
// example index): a fixed seed and range always select the same subset, and
// disjoint ranges select disjoint subsets -- the usual way to split one
// stream into training and evaluation segments:
//
//	train := data.Sample(source, seed, 0.0, 0.9)
//	eval := data.Sample(source, seed, 0.9, 1.0)
func Sample(source Reader, seed uint64, from, to float64) (*SampledReader, error) {
	if from < 0 || to > 1 || from > to {
		return nil, errors.Errorf("data.Sample range [%g, %g) is not a sub-interval of [0, 1)", from, to)
	}
	return &SampledReader{source: source, seed: seed, from: from, to: to}, nil
}

// unitPoint deterministically maps an example index to [0, 1).
func (r *SampledReader) unitPoint(index int64) float64 {
	rng := rand.New(rand.NewPCG(r.seed, uint64(index)))
	return rng.Float64()
}

// Reset implements Reader.
func (r *SampledReader) Reset() error {
	r.index = 0
	return r.source.Reset()
}

// Yield implements Reader: it returns the next included example, skipping
// over excluded ones.
func (r *SampledReader) Yield() ([]any, error) {
	for {
		values, err := r.source.Yield()
		if err != nil {
			return nil, err
		}
		u := r.unitPoint(r.index)
		r.index++
		if u >= r.from && u < r.to {
			return values, nil
		}
	}
}

// NumExamples implements SizedReader. The count requires a full pass over
// the source on first call; it is cached afterwards.
func (r *SampledReader) NumExamples() (int64, error) {
	if r.sized {
		return r.numCache, nil
	}
	if err := r.source.Reset(); err != nil {
		return 0, err
	}
	var count, index int64
	for {
		_, err := r.source.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		u := r.unitPoint(index)
		index++
		if u >= r.from && u < r.to {
			count++
		}
	}
	r.sized = true
	r.numCache = count
	// Leave the source ready for a fresh pass.
	if err := r.source.Reset(); err != nil {
		return 0, err
	}
	r.index = 0
	return count, nil
}
