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

package prepare_test

import (
	"testing"

	"github.com/gomlx/dagpipe/graph"
	"github.com/gomlx/dagpipe/ml/data"
	"github.com/gomlx/dagpipe/ml/prepare"
	"github.com/gomlx/dagpipe/transformers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform(t *testing.T) {
	x := graph.NewPlaceholder("x")
	g := graph.MustNew(transformers.NewScale(x, 2))

	values := floatColumn(200)
	for _, workers := range []int{1, 8} {
		results, err := prepare.Transform(g, data.Single(values), workers)
		require.NoError(t, err)
		require.Len(t, results, len(values))
		for i, v := range values {
			assert.Equal(t, []any{v * 2}, results[i], "%d workers", workers)
		}
	}
}

func TestTransformFeedsExampleIndex(t *testing.T) {
	// Generators receive the global example index, spanning batches.
	g := graph.MustNew(transformers.NewIndex())

	examples := make([][]any, 150)
	for i := range examples {
		examples[i] = []any{}
	}
	// The graph has no placeholders, so examples must be empty.
	results, err := prepare.Transform(g, data.InMemory(examples), 4)
	require.NoError(t, err)
	require.Len(t, results, len(examples))
	for i := range results {
		assert.Equal(t, int64(i), results[i][0])
	}
}

func TestTransformFuncVisitOrder(t *testing.T) {
	x := graph.NewPlaceholder("x")
	g := graph.MustNew(transformers.NewScale(x, 1))

	var indexes []int64
	err := prepare.TransformFunc(g, data.Single(floatColumn(100)), 8,
		func(index int64, outputs []any) error {
			indexes = append(indexes, index)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, indexes, 100)
	for i, index := range indexes {
		assert.Equal(t, int64(i), index)
	}
}

func TestTransformPropagatesErrors(t *testing.T) {
	x := graph.NewPlaceholder("x")
	g := graph.MustNew(transformers.NewScale(x, 2))

	src := data.InMemory([][]any{{1.0}, {"nope"}})
	_, err := prepare.Transform(g, src, 4)
	require.Error(t, err)
}
