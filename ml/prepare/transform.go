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
	"io"
	"runtime"

	"github.com/gomlx/dagpipe/graph"
	"github.com/gomlx/dagpipe/ml/data"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// TransformFunc streams the examples of src through the prepared graph g,
// calling visit once per example, in stream order, with the example's global
// index and the graph's outputs. Examples are transformed in parallel (up to
// workers goroutines, 0 meaning NumCPU) in small batches, but visit is
// always called sequentially and in order.
//
// The stream is never materialized: arbitrarily large sources are fine.
func TransformFunc(g *graph.Graph, src data.Reader, workers int, visit func(index int64, outputs []any) error) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	numPlaceholders := len(g.Placeholders())
	if err := src.Reset(); err != nil {
		return errors.WithMessage(err, "resetting example source")
	}

	const batchSize = 64
	var base int64
	for {
		var batch [][]any
		for len(batch) < batchSize {
			example, err := src.Yield()
			if err == io.EOF {
				break
			}
			if err != nil {
				return errors.WithMessagef(err, "reading example #%d", base+int64(len(batch)))
			}
			if len(example) != numPlaceholders {
				return errors.Errorf("example #%d has %d value(s), graph expects %d (one per placeholder)",
					base+int64(len(batch)), len(example), numPlaceholders)
			}
			batch = append(batch, example)
		}
		if len(batch) == 0 {
			return nil
		}

		outputs := make([][]any, len(batch))
		var group errgroup.Group
		group.SetLimit(workers)
		for i, example := range batch {
			group.Go(func() error {
				var err error
				outputs[i], err = g.ApplyIndexed(base+int64(i), example...)
				return err
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}
		for i := range batch {
			if err := visit(base+int64(i), outputs[i]); err != nil {
				return err
			}
		}
		base += int64(len(batch))
	}
}

// Transform is TransformFunc collecting all outputs in memory.
func Transform(g *graph.Graph, src data.Reader, workers int) ([][]any, error) {
	var results [][]any
	err := TransformFunc(g, src, workers, func(index int64, outputs []any) error {
		results = append(results, outputs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
