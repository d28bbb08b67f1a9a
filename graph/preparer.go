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

// PreparerContext carries the configuration of one preparation run, handed to
// Preparable.NewPreparer. It is an explicit struct -- there is no ambient or
// global executor state.
type PreparerContext struct {
	// EstimatedExampleCount is a hint of how many examples the preparer will
	// see, never authoritative: 0 means unknown, and the true count may
	// differ. Useful to pre-allocate buffers.
	EstimatedExampleCount int64

	// Workers is the maximum worker count of the enclosing run. A preparer
	// may use it to size its own internal parallelism; the framework itself
	// never calls the same Preparer from two goroutines.
	Workers int

	// MinibatchSize examples are delivered per scheduling unit. Purely
	// informational: Process is still called once per example.
	MinibatchSize int
}

// Preparer is the transient, per-run object that trains one Preparable
// transformer instance. The engine (ml/prepare) feeds it one Process call per
// example, in a single linear pass matching the source stream order, and then
// calls Finish exactly once. After Finish the preparer is discarded.
//
// A Preparer instance is always driven by a single goroutine-sequence: its
// internal state needs no synchronization.
//
// An error (or panic) from Process or Finish is fatal to the entire
// preparation run: no partial results are salvaged.
type Preparer interface {
	// Process consumes one example. values holds the already-computed outputs
	// of the transformer's parents for this example, in Parents() order.
	Process(values []any) error

	// Finish is called once, after the last example, and yields the prepared
	// replacement(s) for the transformer.
	Finish() (PreparerResult, error)
}

// PreparerResult is the outcome of a preparation: up to two prepared
// transformers. NewData is used for all future, unseen data. PreparationData,
// when non-nil, is used instead to transform the very examples the
// transformer was prepared on -- some algorithms intentionally differ there,
// e.g. to avoid leaking the training data into downstream training.
type PreparerResult struct {
	NewData         Prepared
	PreparationData Prepared
}

// ForNewData returns the transformer to use on future, unseen data.
func (r PreparerResult) ForNewData() Prepared { return r.NewData }

// ForPreparationData returns the transformer to use on preparation-time
// data, defaulting to the new-data transformer.
func (r PreparerResult) ForPreparationData() Prepared {
	if r.PreparationData != nil {
		return r.PreparationData
	}
	return r.NewData
}
