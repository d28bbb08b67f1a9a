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
	"runtime"

	"github.com/pkg/errors"
)

// PrefetchReader wraps a Reader and reads ahead in a background goroutine,
// overlapping the source's I/O with the consumer's work. Unlike a fan-out
// parallel reader, it uses a single background goroutine, so the example
// order of the source is preserved exactly.
type PrefetchReader struct {
	source Reader
	buffer int

	// impl is swapped on Reset; it must not point back to the PrefetchReader,
	// so garbage collecting the reader also stops the goroutine.
	impl *prefetchImpl
}

type prefetchUnit struct {
	values []any
}

type prefetchImpl struct {
	cache chan prefetchUnit
	stop  chan struct{}
	done  chan struct{}

	// finalErr is the error that ended the stream (usually io.EOF). Written
	// before cache is closed, read only after cache is seen closed.
	finalErr error
}

// Prefetch wraps source with a background reader holding up to buffer
// examples. If buffer is 0 it defaults to 32.
//
// To avoid leaking the background goroutine on early exits, call Cancel when
// done with the reader; it is also stopped when the PrefetchReader is
// garbage collected.
func Prefetch(source Reader, buffer int) *PrefetchReader {
	if buffer <= 0 {
		buffer = 32
	}
	r := &PrefetchReader{source: source, buffer: buffer}
	runtime.SetFinalizer(r, func(r *PrefetchReader) { r.stopImpl() })
	return r
}

// start launches the background goroutine. The caller must have stopped any
// previous impl.
func (r *PrefetchReader) start() {
	impl := &prefetchImpl{
		cache: make(chan prefetchUnit, r.buffer),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	r.impl = impl
	source := r.source
	go func() {
		defer close(impl.done)
		for {
			values, err := source.Yield()
			if err != nil {
				impl.finalErr = err
				close(impl.cache)
				return
			}
			select {
			case impl.cache <- prefetchUnit{values: values}:
			case <-impl.stop:
				return
			}
		}
	}()
}

// stopImpl stops the current background goroutine, if any, and waits for it
// to exit, so the source is no longer being read.
func (r *PrefetchReader) stopImpl() {
	impl := r.impl
	if impl == nil {
		return
	}
	r.impl = nil
	// A goroutine blocked sending to a full cache takes the stop case.
	close(impl.stop)
	<-impl.done
}

// Reset implements Reader: it stops the in-flight prefetching, resets the
// source and starts reading ahead again.
func (r *PrefetchReader) Reset() error {
	r.stopImpl()
	if err := r.source.Reset(); err != nil {
		return errors.WithMessage(err, "resetting prefetched source")
	}
	r.start()
	return nil
}

// Yield implements Reader.
func (r *PrefetchReader) Yield() ([]any, error) {
	if r.impl == nil {
		// Reset was never called (or Cancel was): read through.
		return r.source.Yield()
	}
	unit, ok := <-r.impl.cache
	if !ok {
		return nil, r.impl.err()
	}
	return unit.values, nil
}

// err returns the stream-ending error once the cache is closed.
func (impl *prefetchImpl) err() error {
	<-impl.done
	return impl.finalErr
}

// NumExamples implements SizedReader by delegating to the source, so
// wrapping a sized reader does not lose its example count. It errors when
// the source does not report a size.
//
// If the source counts by scanning (e.g. a SampledReader on first call),
// ask before prefetching starts, or after a Cancel, so the count does not
// race with the background reads.
func (r *PrefetchReader) NumExamples() (int64, error) {
	sized, ok := r.source.(SizedReader)
	if !ok {
		return 0, errors.Errorf("prefetched source (%T) does not report a size", r.source)
	}
	return sized.NumExamples()
}

// Cancel stops the background goroutine. The reader remains usable -- a
// Reset restarts prefetching.
func (r *PrefetchReader) Cancel() { r.stopImpl() }
