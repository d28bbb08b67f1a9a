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
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefetchPreservesOrder(t *testing.T) {
	examples := rangeExamples(100)
	r := data.Prefetch(data.InMemory(examples), 8)
	defer r.Cancel()

	for round := 0; round < 3; round++ {
		got, err := data.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, examples, got)
	}
}

func TestPrefetchSmallBuffer(t *testing.T) {
	// A buffer smaller than the stream forces the background goroutine to
	// block mid-stream; consuming everything must still drain in order.
	examples := rangeExamples(50)
	r := data.Prefetch(data.InMemory(examples), 2)
	defer r.Cancel()

	got, err := data.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, examples, got)

	_, err = r.Yield()
	assert.Equal(t, io.EOF, err)
}

func TestPrefetchCancelMidStream(t *testing.T) {
	r := data.Prefetch(data.InMemory(rangeExamples(1000)), 4)
	require.NoError(t, r.Reset())
	_, err := r.Yield()
	require.NoError(t, err)
	r.Cancel()

	// Cancel is not final: a Reset restarts from the beginning.
	got, err := data.ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, got, 1000)
}

func TestPrefetchForwardsNumExamples(t *testing.T) {
	// Wrapping a sized reader keeps the example count visible, so the hint
	// survives the wrapping.
	r := data.Prefetch(data.InMemory(rangeExamples(42)), 4)
	defer r.Cancel()
	n, err := r.NumExamples()
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, int64(42), data.NumExamplesHint(r))

	_, err = data.Prefetch(unsizedReader{}, 4).NumExamples()
	require.Error(t, err)
	assert.Equal(t, int64(0), data.NumExamplesHint(data.Prefetch(unsizedReader{}, 4)))
}

type failingReader struct {
	yields int
	err    error
}

func (r *failingReader) Reset() error { r.yields = 0; return nil }

func (r *failingReader) Yield() ([]any, error) {
	if r.yields >= 3 {
		return nil, r.err
	}
	r.yields++
	return []any{r.yields}, nil
}

func TestPrefetchPropagatesSourceError(t *testing.T) {
	boom := errors.New("storage gone")
	r := data.Prefetch(&failingReader{err: boom}, 4)
	defer r.Cancel()
	require.NoError(t, r.Reset())

	var err error
	for i := 0; i < 3; i++ {
		_, err = r.Yield()
		require.NoError(t, err)
	}
	_, err = r.Yield()
	assert.Equal(t, boom, err)
}
