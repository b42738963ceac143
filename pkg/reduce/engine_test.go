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

package reduce

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meterproj/meterflow/pkg/doclog"
	"github.com/meterproj/meterflow/pkg/keys"
	"github.com/meterproj/meterflow/pkg/shared/logging"
	"github.com/meterproj/meterflow/pkg/sinks"
	"github.com/meterproj/meterflow/pkg/store"
	"github.com/meterproj/meterflow/pkg/store/memory"
)

const testNow = int64(1700000100000)

// sumReducer accumulates the usage field per output slot.
func sumReducer(ctx context.Context, accum []store.Doc, input store.Doc) ([]store.Doc, error) {
	total := store.Int64(input["usage"])
	if len(accum) > 0 && accum[0] != nil {
		total += store.Int64(accum[0]["total"])
	}
	return []store.Doc{{"total": total}}, nil
}

func newTestEngine(t *testing.T, odb store.Store, reducer Reducer, opts ...Option) *Engine {
	t.Helper()
	ctx := context.Background()
	log := logging.NewLogger()
	logger := doclog.NewLogger(ctx, nil, odb, nil)
	poster := sinks.NewPoster(ctx, sinks.WithRetries(2))
	opts = append([]Option{WithInputType("usage"), WithClock(func() int64 { return testNow })}, opts...)
	return NewEngine(ctx, reducer, odb, logger, poster, log, opts...)
}

func usageCall(usage int64, itime int64, okey string) *Call {
	idoc := store.Doc{
		"id":           keys.TKURI(okey, itime),
		"processed_id": keys.Pad16(itime),
		"processed":    itime,
		"usage":        usage,
		"org":          okey,
	}
	return &Call{
		IDoc:    idoc,
		ITime:   itime,
		IGroups: []string{okey},
		OKeys:   []string{okey},
		OTimes:  []int64{itime},
	}
}

func TestHappyReduce(t *testing.T) {
	ctx := context.Background()
	odb := memory.NewStore("output")
	e := newTestEngine(t, odb, sumReducer)

	results := e.Reduce(ctx, []*Call{usageCall(1, 1700000000000, "o1")})
	assert.NoError(t, results[0].Err)
	assert.Len(t, results[0].Outputs, 1)

	out := results[0].Outputs[0]
	assert.Equal(t, keys.KTURI("o1", 1700000000000), out.ID())
	assert.Equal(t, int64(1), store.Int64(out["total"]))
	assert.Equal(t, keys.TKURI("o1", 1700000000000), out["usage_id"])
	assert.Equal(t, keys.Pad16(testNow), out["processed_id"])
	assert.Equal(t, testNow, store.Int64(out["processed"]))

	logged, err := odb.Get(ctx, out.ID())
	assert.NoError(t, err)
	assert.NotNil(t, logged)
	assert.Equal(t, int64(1), store.Int64(logged["total"]))
}

func TestAccumulatorUpdateReusesRev(t *testing.T) {
	ctx := context.Background()
	odb := memory.NewStore("output")
	e := newTestEngine(t, odb, sumReducer)

	r1 := e.Reduce(ctx, []*Call{usageCall(1, 1700000000000, "o1")})
	assert.NoError(t, r1[0].Err)

	first, err := odb.Get(ctx, keys.KTURI("o1", 1700000000000))
	assert.NoError(t, err)
	rev1 := first.Rev()

	// same slot again: the accumulator is folded and updated in place
	r2 := e.Reduce(ctx, []*Call{usageCall(2, 1700000000000, "o1")})
	assert.NoError(t, r2[0].Err)
	assert.Equal(t, int64(3), store.Int64(r2[0].Outputs[0]["total"]))

	second, err := odb.Get(ctx, keys.KTURI("o1", 1700000000000))
	assert.NoError(t, err)
	assert.NotEqual(t, rev1, second.Rev())
	assert.Equal(t, 2, memory.Gen(second.Rev()))
	assert.Equal(t, int64(3), store.Int64(second["total"]))
}

func TestAccumulatorScansWithinMonth(t *testing.T) {
	ctx := context.Background()
	odb := memory.NewStore("output")
	e := newTestEngine(t, odb, sumReducer)

	// accumulator from a prior month must not seed this month's fold
	lastMonth := int64(1697000000000) // 2023-10-11
	_, err := odb.Put(ctx, store.Doc{"id": keys.KTURI("o1", lastMonth), "total": 99})
	assert.NoError(t, err)

	results := e.Reduce(ctx, []*Call{usageCall(1, 1700000000000, "o1")})
	assert.NoError(t, results[0].Err)
	assert.Equal(t, int64(1), store.Int64(results[0].Outputs[0]["total"]))
}

func TestBatchFoldsInOrder(t *testing.T) {
	ctx := context.Background()
	odb := memory.NewStore("output")
	e := newTestEngine(t, odb, sumReducer)

	calls := []*Call{
		usageCall(1, 1700000000000, "o1"),
		usageCall(2, 1700000001000, "o1"),
		usageCall(4, 1700000002000, "o1"),
	}
	// one group, three calls: the fold threads through the batch
	for i := range calls {
		calls[i].OTimes = []int64{1700000000000}
	}
	results := e.Reduce(ctx, calls)
	assert.Equal(t, int64(1), store.Int64(results[0].Outputs[0]["total"]))
	assert.Equal(t, int64(3), store.Int64(results[1].Outputs[0]["total"]))
	assert.Equal(t, int64(7), store.Int64(results[2].Outputs[0]["total"]))

	// dedupe kept the last write for the shared output id
	logged, err := odb.Get(ctx, keys.KTURI("o1", 1700000000000))
	assert.NoError(t, err)
	assert.Equal(t, int64(7), store.Int64(logged["total"]))
	assert.Equal(t, 1, odb.Len())
}

func TestGroupsReduceSerially(t *testing.T) {
	ctx := context.Background()
	odb := memory.NewStore("output")

	var mu sync.Mutex
	inFlight := map[string]int{}
	maxInFlight := 0
	reducer := func(ctx context.Context, accum []store.Doc, input store.Doc) ([]store.Doc, error) {
		g, _ := input["org"].(string)
		mu.Lock()
		inFlight[g]++
		if inFlight[g] > maxInFlight {
			maxInFlight = inFlight[g]
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			inFlight[g]--
			mu.Unlock()
		}()
		return sumReducer(ctx, accum, input)
	}
	e := newTestEngine(t, odb, reducer)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.Reduce(ctx, []*Call{usageCall(1, 1700000000000+int64(i), "o1")})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, maxInFlight)
}

func TestReducerErrorFailsBatch(t *testing.T) {
	ctx := context.Background()
	odb := memory.NewStore("output")
	boom := errors.New("boom")
	calls := 0
	reducer := func(ctx context.Context, accum []store.Doc, input store.Doc) ([]store.Doc, error) {
		calls++
		if calls == 2 {
			return nil, boom
		}
		return sumReducer(ctx, accum, input)
	}
	e := newTestEngine(t, odb, reducer)

	results := e.Reduce(ctx, []*Call{
		usageCall(1, 1700000000000, "o1"),
		usageCall(2, 1700000001000, "o1"),
	})
	var re *ReducerErr
	assert.ErrorAs(t, results[0].Err, &re)
	assert.ErrorAs(t, results[1].Err, &re)
	assert.ErrorIs(t, results[1].Err, boom)
	// nothing was logged
	assert.Equal(t, 0, odb.Len())
}

func TestReducerErrorMarkFailsCallOnly(t *testing.T) {
	ctx := context.Background()
	odb := memory.NewStore("output")
	reducer := func(ctx context.Context, accum []store.Doc, input store.Doc) ([]store.Doc, error) {
		if store.Int64(input["usage"]) == 0 {
			return []store.Doc{{"error": "expression", "reason": "usage missing"}}, nil
		}
		return sumReducer(ctx, accum, input)
	}
	e := newTestEngine(t, odb, reducer)

	results := e.Reduce(ctx, []*Call{
		usageCall(0, 1700000000000, "o1"),
		usageCall(2, 1700000001000, "o2"),
	})

	var me *MarkErr
	assert.ErrorAs(t, results[0].Err, &me)
	assert.Equal(t, 422, me.Status())
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 1, odb.Len())
}

func TestSinkFailureSkipsOutputLog(t *testing.T) {
	ctx := context.Background()
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	odb := memory.NewStore("output")
	e := newTestEngine(t, odb, sumReducer, WithSink(srv.URL, 1, []string{"/v1/sink"}))

	results := e.Reduce(ctx, []*Call{usageCall(1, 1700000000000, "o1")})
	assert.Error(t, results[0].Err)
	assert.Equal(t, 502, store.StatusOf(results[0].Err, 500))
	assert.Equal(t, 0, odb.Len())
	assert.Greater(t, atomic.LoadInt32(&posts), int32(0))
}

func TestSinkReceivesOutputs(t *testing.T) {
	ctx := context.Background()
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	odb := memory.NewStore("output")
	e := newTestEngine(t, odb, sumReducer, WithSink(srv.URL, 1, []string{"/v1/sink"}))

	results := e.Reduce(ctx, []*Call{usageCall(1, 1700000000000, "o1")})
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "/v1/sink", path)
	assert.Equal(t, 1, odb.Len())
}

func TestConcurrentWriterSurfacesConflict(t *testing.T) {
	ctx := context.Background()
	odb := memory.NewStore("output")

	// seed an accumulator
	e := newTestEngine(t, odb, sumReducer)
	r := e.Reduce(ctx, []*Call{usageCall(1, 1700000000000, "o1")})
	assert.NoError(t, r[0].Err)

	// a reducer that sneaks a concurrent write in between the accumulator
	// read and the output log
	sneaky := func(c context.Context, accum []store.Doc, input store.Doc) ([]store.Doc, error) {
		stale, err := odb.Get(ctx, keys.KTURI("o1", 1700000000000))
		if err != nil {
			return nil, err
		}
		if _, err := odb.Put(ctx, stale); err != nil {
			return nil, err
		}
		return sumReducer(c, accum, input)
	}
	e2 := newTestEngine(t, odb, sneaky)
	r2 := e2.Reduce(ctx, []*Call{usageCall(2, 1700000000000, "o1")})
	assert.True(t, store.IsConflict(r2[0].Err))
}

func TestNoOutputStore(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, sumReducer)
	results := e.Reduce(ctx, []*Call{usageCall(1, 1700000000000, "o1")})
	assert.NoError(t, results[0].Err)
	assert.Len(t, results[0].Outputs, 1)
}
