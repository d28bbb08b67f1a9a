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
	"io"
	"testing"

	"github.com/gomlx/dagpipe/ml/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryReader(t *testing.T) {
	r := data.InMemory([][]any{{1.0}, {2.0}, {3.0}})

	for round := 0; round < 2; round++ {
		require.NoError(t, r.Reset())
		for _, want := range []float64{1.0, 2.0, 3.0} {
			example, err := r.Yield()
			require.NoError(t, err)
			assert.Equal(t, []any{want}, example)
		}
		_, err := r.Yield()
		assert.Equal(t, io.EOF, err)
	}

	n, err := r.NumExamples()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSingle(t *testing.T) {
	r := data.Single([]float64{7.0, 8.0})
	examples, err := data.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{7.0}, {8.0}}, examples)
}

func TestNumExamplesHint(t *testing.T) {
	assert.Equal(t, int64(2), data.NumExamplesHint(data.InMemory([][]any{{1}, {2}})))
	assert.Equal(t, int64(0), data.NumExamplesHint(unsizedReader{}))
}

// unsizedReader is a Reader without the optional NumExamples method.
type unsizedReader struct{}

func (unsizedReader) Reset() error          { return nil }
func (unsizedReader) Yield() ([]any, error) { return nil, io.EOF }
