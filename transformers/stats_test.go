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

package transformers_test

import (
	"math"
	"testing"

	"github.com/gomlx/dagpipe/graph"
	"github.com/gomlx/dagpipe/transformers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trainStandardize runs the Preparer protocol by hand over the given values.
func trainStandardize(t *testing.T, values []float64) *transformers.Standardized {
	x := graph.NewPlaceholder("x")
	s := transformers.NewStandardize(x)
	preparer, err := s.NewPreparer(&graph.PreparerContext{})
	require.NoError(t, err)
	for _, v := range values {
		require.NoError(t, preparer.Process([]any{v}))
	}
	result, err := preparer.Finish()
	require.NoError(t, err)
	prepared, ok := result.ForNewData().(*transformers.Standardized)
	require.True(t, ok, "got %T", result.ForNewData())
	return prepared
}

func TestStandardizeMoments(t *testing.T) {
	s := trainStandardize(t, []float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, s.Mean(), 1e-12)
	assert.InDelta(t, 2.0, s.StdDev(), 1e-12) // Population standard deviation.

	v, err := s.Apply([]any{9.0})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, v.(float64), 1e-12)
}

func TestStandardizeOrderInsensitive(t *testing.T) {
	forward := trainStandardize(t, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	reversed := trainStandardize(t, []float64{8, 7, 6, 5, 4, 3, 2, 1})
	assert.InDelta(t, forward.Mean(), reversed.Mean(), 1e-9)
	assert.InDelta(t, forward.StdDev(), reversed.StdDev(), 1e-9)
}

func TestStandardizeConstantInput(t *testing.T) {
	// A constant input has stddev 0: standardizing only centers it.
	s := trainStandardize(t, []float64{3, 3, 3})
	assert.Equal(t, 1.0, s.StdDev())
	v, err := s.Apply([]any{3.0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestStandardizeEmptyStream(t *testing.T) {
	s := transformers.NewStandardize(graph.NewPlaceholder("x"))
	preparer, err := s.NewPreparer(&graph.PreparerContext{})
	require.NoError(t, err)
	_, err = preparer.Finish()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no examples")
}

func TestStandardizeRejectsNonNumeric(t *testing.T) {
	s := transformers.NewStandardize(graph.NewPlaceholder("x"))
	preparer, err := s.NewPreparer(&graph.PreparerContext{})
	require.NoError(t, err)
	require.Error(t, preparer.Process([]any{"nope"}))
}

func TestMeanOfView(t *testing.T) {
	x := graph.NewPlaceholder("x")
	s := transformers.NewStandardize(x)
	view := transformers.NewMeanOf(s)
	require.NoError(t, view.Validate())
	require.Len(t, view.Parents(), 1)
	assert.Equal(t, s.Handle(), view.Parents()[0].Handle())

	prepared := trainStandardize(t, []float64{1, 2, 3})
	value, err := view.ComputeView(prepared)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, value.(float64), 1e-12)
	assert.InDelta(t, math.Sqrt(2.0/3.0), prepared.StdDev(), 1e-12)
}

func TestStdDevOfView(t *testing.T) {
	x := graph.NewPlaceholder("x")
	s := transformers.NewStandardize(x)
	view := transformers.NewStdDevOf(s)
	require.NoError(t, view.Validate())
	require.Len(t, view.Parents(), 1)
	assert.Equal(t, s.Handle(), view.Parents()[0].Handle())

	prepared := trainStandardize(t, []float64{2, 4, 4, 4, 5, 5, 7, 9})
	value, err := view.ComputeView(prepared)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, value.(float64), 1e-12)

	_, err = view.ComputeView(transformers.NewScale(x, 2))
	require.Error(t, err)
}
