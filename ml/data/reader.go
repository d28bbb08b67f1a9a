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

// Package data provides the example-stream abstraction consumed by the
// preparation engine (ml/prepare): readers over per-example values, usually
// one value per graph placeholder, that can be iterated multiple times,
// sampled into disjoint deterministic partitions and prefetched in the
// background.
//
// The engine never requires a stream to be materialized in memory: readers
// may be backed by arbitrarily large stores, as long as Reset allows another
// pass.
package data

import (
	"io"

	"github.com/pkg/errors"
)

// Reader is a stream of examples. Each Yield returns the values of one
// example -- by convention one value per placeholder of the graph being
// prepared, in placeholder order -- and io.EOF when the stream ends.
//
// The preparation engine performs one full pass per execution layer, so a
// Reader must support being Reset and iterated again, yielding the same
// examples in the same order.
type Reader interface {
	// Reset restarts the stream from the beginning. Called before every pass.
	Reset() error

	// Yield returns the next example's values, or io.EOF after the last
	// example. Any other error aborts the consuming run.
	Yield() ([]any, error)
}

// SizedReader is optionally implemented by readers able to report how many
// examples one pass yields. The count may be computed lazily (and possibly
// expensively) on first call.
type SizedReader interface {
	Reader

	// NumExamples returns the number of examples per pass.
	NumExamples() (int64, error)
}

// NumExamplesHint returns the reader's example count if it is cheaply
// available -- i.e. the reader implements SizedReader -- and 0 otherwise.
// The result is a hint, never authoritative.
func NumExamplesHint(r Reader) int64 {
	sized, ok := r.(SizedReader)
	if !ok {
		return 0
	}
	n, err := sized.NumExamples()
	if err != nil {
		return 0
	}
	return n
}

// InMemoryReader is a Reader over a materialized slice of examples.
type InMemoryReader struct {
	examples [][]any
	next     int
}

var _ SizedReader = &InMemoryReader{}

// InMemory creates a Reader over the given examples. The slice is not
// copied; it must not be modified while the reader is in use.
func InMemory(examples [][]any) *InMemoryReader {
	return &InMemoryReader{examples: examples}
}

// Single creates a Reader over a single column of values: example i is
// []any{values[i]}. A convenience for single-placeholder graphs.
func Single[T any](values []T) *InMemoryReader {
	examples := make([][]any, len(values))
	for i, v := range values {
		examples[i] = []any{v}
	}
	return InMemory(examples)
}

// Reset implements Reader.
func (r *InMemoryReader) Reset() error {
	r.next = 0
	return nil
}

// Yield implements Reader.
func (r *InMemoryReader) Yield() ([]any, error) {
	if r.next >= len(r.examples) {
		return nil, io.EOF
	}
	values := r.examples[r.next]
	r.next++
	return values, nil
}

// NumExamples implements SizedReader.
func (r *InMemoryReader) NumExamples() (int64, error) {
	return int64(len(r.examples)), nil
}

// ReadAll drains the reader (after a Reset) into memory. Mostly useful for
// tests and small streams; the preparation engine itself never materializes
// a stream.
func ReadAll(r Reader) ([][]any, error) {
	if err := r.Reset(); err != nil {
		return nil, errors.WithMessage(err, "resetting reader")
	}
	var examples [][]any
	for {
		values, err := r.Yield()
		if err == io.EOF {
			return examples, nil
		}
		if err != nil {
			return nil, err
		}
		examples = append(examples, values)
	}
}
