/*
Copyright 2023 The Meterproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package wrappers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/meterproj/meterflow/pkg/store"
	"github.com/meterproj/meterflow/pkg/store/memory"
)

// flaky fails the first n Get calls; its other methods pass straight through.
type flaky struct {
	store.Store
	failures int32
	calls    int32
	err      error
}

func (f *flaky) Get(ctx context.Context, id string) (store.Doc, error) {
	if atomic.AddInt32(&f.calls, 1) <= f.failures {
		return nil, f.err
	}
	return f.Store.Get(ctx, id)
}

func TestRetrierRecovers(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore("test")
	_, err := mem.Put(ctx, store.Doc{"id": "a"})
	assert.NoError(t, err)

	f := &flaky{Store: mem, failures: 2, err: errors.New("transient")}
	r := NewRetrier(f, wait.Backoff{Steps: 5, Duration: time.Millisecond, Factor: 1.0})

	doc, err := r.Get(ctx, "a")
	assert.NoError(t, err)
	assert.NotNil(t, doc)
	assert.Equal(t, int32(3), atomic.LoadInt32(&f.calls))
}

func TestRetrierStopsOnNoRetry(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore("test")
	_, err := mem.Put(ctx, store.Doc{"id": "a"})
	assert.NoError(t, err)

	r := NewRetrier(mem, wait.Backoff{Steps: 5, Duration: time.Millisecond, Factor: 1.0})
	// conflicts are terminal, not retried
	_, err = r.Put(ctx, store.Doc{"id": "a"})
	assert.True(t, store.IsConflict(err))
}

func TestRetrierExhausts(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("down")
	f := &flaky{Store: memory.NewStore("test"), failures: 100, err: boom}
	r := NewRetrier(f, wait.Backoff{Steps: 3, Duration: time.Millisecond, Factor: 1.0})
	_, err := r.Get(ctx, "a")
	assert.Equal(t, boom, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&f.calls))
}

func TestBreakerOpens(t *testing.T) {
	ctx := context.Background()
	f := &flaky{Store: memory.NewStore("test"), failures: 1 << 30, err: errors.New("down")}
	b := NewBreaker(f, "test")

	for i := 0; i < 20; i++ {
		_, _ = b.Get(ctx, "a")
	}
	before := atomic.LoadInt32(&f.calls)
	_, err := b.Get(ctx, "a")
	assert.Error(t, err)
	// breaker is open, the underlying store is no longer hit
	assert.Equal(t, before, atomic.LoadInt32(&f.calls))
}

func TestBreakerIgnoresConflicts(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore("test")
	_, err := mem.Put(ctx, store.Doc{"id": "a"})
	assert.NoError(t, err)
	b := NewBreaker(mem, "test")

	for i := 0; i < 30; i++ {
		_, err := b.Put(ctx, store.Doc{"id": "a"})
		// conflicts keep flowing, the breaker never trips on them
		assert.True(t, store.IsConflict(err))
	}
}

func TestBatcherCoalesces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := memory.NewStore("test")
	for _, id := range []string{"a", "b", "c"} {
		_, err := mem.Put(ctx, store.Doc{"id": id})
		assert.NoError(t, err)
	}

	b := NewBatcher(mem)
	b.Start(ctx)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "missing"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			doc, err := b.Get(ctx, id)
			assert.NoError(t, err)
			if id == "missing" {
				assert.Nil(t, doc)
			} else {
				assert.Equal(t, id, doc.ID())
			}
		}(id)
	}
	wg.Wait()
}

func TestBatcherBulkPutKeepsPerDocOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := memory.NewStore("test")
	_, err := mem.Put(ctx, store.Doc{"id": "taken"})
	assert.NoError(t, err)

	b := NewBatcher(mem)
	b.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := b.Put(ctx, store.Doc{"id": "fresh"})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := b.Put(ctx, store.Doc{"id": "taken"})
		assert.True(t, store.IsConflict(err))
	}()
	wg.Wait()
}

func TestWrapIsTransparent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := memory.NewStore("test")
	s := Wrap(ctx, mem, "test", WithMaxConcurrent(4))

	rev, err := s.Put(ctx, store.Doc{"id": "a", "total": 1})
	assert.NoError(t, err)
	assert.NotEmpty(t, rev)

	doc, err := s.Get(ctx, "a")
	assert.NoError(t, err)
	assert.Equal(t, rev, doc.Rev())

	rows, err := s.AllDocs(ctx, store.RangeOpts{StartKey: "a", EndKey: "z"})
	assert.NoError(t, err)
	assert.Len(t, rows, 1)

	assert.NoError(t, s.Remove(ctx, store.Doc{"id": "a"}))
}
