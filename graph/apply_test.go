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

package graph_test

import (
	"testing"

	. "github.com/gomlx/dagpipe/graph"
	"github.com/gomlx/dagpipe/transformers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	x := NewPlaceholder("x")
	sum := transformers.NewSum(x, NewConstant(5.0))
	g := MustNew(transformers.NewScale(sum, 2))

	outputs, err := g.Apply(3.0)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, 16.0, outputs[0])
}

func TestApplyMultipleOutputs(t *testing.T) {
	x := NewPlaceholder("x")
	sum := transformers.NewSum(x, NewConstant(1.0))
	g := MustNew(sum, transformers.NewScale(sum, 10))

	outputs, err := g.Apply(2.0)
	require.NoError(t, err)
	assert.Equal(t, []any{3.0, 30.0}, outputs)
}

func TestApplyWrongArity(t *testing.T) {
	x := NewPlaceholder("x")
	g := MustNew(transformers.NewScale(x, 2))

	_, err := g.Apply()
	require.Error(t, err)
	_, err = g.Apply(1.0, 2.0)
	require.Error(t, err)
}

func TestApplyRejectsUnpreparedGraph(t *testing.T) {
	x := NewPlaceholder("x")
	g := MustNew(transformers.NewStandardize(x))
	require.False(t, g.IsPrepared())

	_, err := g.Apply(1.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preparation")
}

func TestApplyIndexedFeedsGenerators(t *testing.T) {
	g := MustNew(transformers.NewSum(transformers.NewIndex()))
	for _, index := range []int64{0, 7, 1000} {
		outputs, err := g.ApplyIndexed(index)
		require.NoError(t, err)
		assert.Equal(t, float64(index), outputs[0])
	}
}

func TestApplyBatch(t *testing.T) {
	x := NewPlaceholder("x")
	g := MustNew(transformers.NewScale(x, 3))

	examples := [][]any{{1.0}, {2.0}, {3.0}, {4.0}}
	for _, workers := range []int{1, 4} {
		results, err := g.ApplyBatch(examples, workers)
		require.NoError(t, err)
		require.Len(t, results, 4)
		// Results come back in example order regardless of worker count.
		assert.Equal(t, []any{3.0}, results[0])
		assert.Equal(t, []any{6.0}, results[1])
		assert.Equal(t, []any{9.0}, results[2])
		assert.Equal(t, []any{12.0}, results[3])
	}
}

func TestApplyBatchPropagatesErrors(t *testing.T) {
	x := NewPlaceholder("x")
	g := MustNew(transformers.NewScale(x, 2))

	// A string input fails the numeric conversion inside Scale.
	_, err := g.ApplyBatch([][]any{{1.0}, {"oops"}}, 2)
	require.Error(t, err)
}

func TestMustApplyPanics(t *testing.T) {
	x := NewPlaceholder("x")
	g := MustNew(transformers.NewStandardize(x))
	assert.Panics(t, func() { g.MustApply(1.0) })
}
