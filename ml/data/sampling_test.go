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

package data_test

import (
	"testing"

	"github.com/gomlx/dagpipe/ml/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rangeExamples(n int) [][]any {
	examples := make([][]any, n)
	for i := range examples {
		examples[i] = []any{i}
	}
	return examples
}

func TestSampleDeterminism(t *testing.T) {
	examples := rangeExamples(1000)
	sampled, err := data.Sample(data.InMemory(examples), 42, 0, 0.5)
	require.NoError(t, err)

	first, err := data.ReadAll(sampled)
	require.NoError(t, err)
	second, err := data.ReadAll(sampled)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same seed and range must select the same subset")

	// Loosely half the stream for a [0, 0.5) range.
	assert.Greater(t, len(first), 350)
	assert.Less(t, len(first), 650)
}

func TestSampleDisjointRangesPartition(t *testing.T) {
	examples := rangeExamples(500)
	source := data.InMemory(examples)
	train, err := data.Sample(source, 7, 0, 0.8)
	require.NoError(t, err)
	eval, err := data.Sample(source, 7, 0.8, 1)
	require.NoError(t, err)

	trainExamples, err := data.ReadAll(train)
	require.NoError(t, err)
	evalExamples, err := data.ReadAll(eval)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for _, ex := range trainExamples {
		seen[ex[0].(int)] = true
	}
	for _, ex := range evalExamples {
		i := ex[0].(int)
		assert.False(t, seen[i], "example %d selected by both ranges", i)
		seen[i] = true
	}
	assert.Len(t, seen, 500, "disjoint ranges covering [0, 1) must partition the stream")
}

func TestSampleDifferentSeeds(t *testing.T) {
	examples := rangeExamples(1000)
	a, err := data.Sample(data.InMemory(examples), 1, 0, 0.5)
	require.NoError(t, err)
	b, err := data.Sample(data.InMemory(examples), 2, 0, 0.5)
	require.NoError(t, err)

	aExamples, err := data.ReadAll(a)
	require.NoError(t, err)
	bExamples, err := data.ReadAll(b)
	require.NoError(t, err)
	assert.NotEqual(t, aExamples, bExamples)
}

func TestSampleNumExamples(t *testing.T) {
	sampled, err := data.Sample(data.InMemory(rangeExamples(200)), 3, 0, 0.25)
	require.NoError(t, err)

	n, err := sampled.NumExamples()
	require.NoError(t, err)
	selected, err := data.ReadAll(sampled)
	require.NoError(t, err)
	assert.Equal(t, int64(len(selected)), n)

	// Counting must not disturb iteration: the reader still yields from the
	// start afterwards.
	n2, err := sampled.NumExamples()
	require.NoError(t, err)
	assert.Equal(t, n, n2)
}

func TestSampleRejectsBadRange(t *testing.T) {
	source := data.InMemory(nil)
	for _, r := range [][2]float64{{-0.1, 0.5}, {0, 1.5}, {0.7, 0.3}} {
		_, err := data.Sample(source, 0, r[0], r[1])
		assert.Error(t, err, "range [%g, %g)", r[0], r[1])
	}
}
