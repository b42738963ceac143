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

// Package reduce folds batches of input documents into per-group
// accumulators. Calls sharing a group key reduce together: the engine reads
// the latest accumulator per output slot, folds every input through the user
// reducer in batch order, posts the materialized outputs to the sink and
// only then logs them, reusing the accumulator revision read at the start so
// a concurrent writer surfaces as a conflict instead of a lost update.
package reduce

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meterproj/meterflow/pkg/doclog"
	"github.com/meterproj/meterflow/pkg/keys"
	"github.com/meterproj/meterflow/pkg/lock"
	"github.com/meterproj/meterflow/pkg/partition"
	"github.com/meterproj/meterflow/pkg/sinks"
	"github.com/meterproj/meterflow/pkg/store"
)

// Call is one input's reduce request.
type Call struct {
	IDoc    store.Doc
	ITime   int64
	IGroups []string
	OKeys   []string
	OTimes  []int64
	SKeys   []string
	STimes  []int64
}

// GroupKey is the equivalence class the call reduces under.
func (c *Call) GroupKey() string {
	return strings.Join(c.IGroups, "/")
}

// Result is the outcome of one call, aligned with the Reduce input slice.
type Result struct {
	Outputs []store.Doc
	Err     error
}

// Reducer folds one input document into the previous output row. accum is
// the row the previous fold produced (the accumulator row for the first
// input; entries may be nil on the very first reduce of a slot). The
// returned row aligns with the call's output slots.
type Reducer func(ctx context.Context, accum []store.Doc, input store.Doc) ([]store.Doc, error)

// Engine runs group batches.
type Engine struct {
	reducer   Reducer
	odb       store.Store
	logger    *doclog.Logger
	locks     *lock.Registry
	poster    *sinks.Poster
	sinkHost  string
	sinkApps  int
	sinkPosts []string
	inputType string
	now       func() int64
	log       *zap.SugaredLogger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSink configures the downstream sink fan-out.
func WithSink(host string, apps int, posts []string) Option {
	return func(e *Engine) {
		e.sinkHost = host
		e.sinkApps = apps
		e.sinkPosts = posts
	}
}

// WithInputType names the input document type, which names the
// back-reference field stamped on outputs.
func WithInputType(t string) Option {
	return func(e *Engine) { e.inputType = t }
}

// WithClock overrides the processed-time source.
func WithClock(now func() int64) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an Engine. odb may be nil when output logging is off.
func NewEngine(ctx context.Context, reducer Reducer, odb store.Store, logger *doclog.Logger, poster *sinks.Poster, log *zap.SugaredLogger, opts ...Option) *Engine {
	e := &Engine{
		reducer:   reducer,
		odb:       odb,
		logger:    logger,
		locks:     lock.NewRegistry(),
		poster:    poster,
		sinkApps:  1,
		inputType: "doc",
		now:       func() int64 { return time.Now().UnixMilli() },
		log:       log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reduce processes a batch of calls. Calls with identical group keys reduce
// together, serially per group; distinct groups run concurrently. The
// returned slice aligns with calls.
func (e *Engine) Reduce(ctx context.Context, calls []*Call) []Result {
	results := make([]Result, len(calls))

	groups := make(map[string][]int)
	var order []string
	for i, c := range calls {
		k := c.GroupKey()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	var wg sync.WaitGroup
	for _, k := range order {
		wg.Add(1)
		go func(idx []int) {
			defer wg.Done()
			e.reduceGroup(ctx, calls, idx, results)
		}(groups[k])
	}
	wg.Wait()
	return results
}

// reduceGroup runs one group batch under the group lock.
func (e *Engine) reduceGroup(ctx context.Context, calls []*Call, idx []int, results []Result) {
	start := time.Now()
	first := calls[idx[0]]
	group := first.GroupKey()
	reduceCount.WithLabelValues(group).Inc()

	fail := func(err error) {
		reduceErrorCount.WithLabelValues(group).Inc()
		for _, i := range idx {
			if results[i].Err == nil {
				results[i].Err = err
			}
		}
	}

	release, err := e.locks.Lock(ctx, first.IGroups[0])
	if err != nil {
		fail(err)
		return
	}
	defer release()

	// latest accumulator per output slot, revision retained for the write
	accums := make([]store.Doc, len(first.OKeys))
	for i := range first.OKeys {
		accum, err := e.lastAccum(ctx, first.OKeys[i], first.OTimes[i])
		if err != nil {
			fail(err)
			return
		}
		if accum != nil {
			accumHitCount.Inc()
		}
		accums[i] = accum
	}

	// fold every input through the reducer in batch order
	folds := [][]store.Doc{accums}
	for _, i := range idx {
		c := calls[i]
		res, err := e.reducer(ctx, folds[len(folds)-1], c.IDoc)
		if err != nil {
			fail(&ReducerErr{Group: c.GroupKey(), Err: err})
			return
		}
		for _, r := range res {
			if r != nil {
				r[store.FieldProcessed] = c.IDoc[store.FieldProcessedID]
			}
		}
		folds = append(folds, res)
	}

	// materialize each call's outputs
	now := e.now()
	var logDocs []store.Doc
	sinkOK := true
	for j, i := range idx {
		c := calls[i]
		outputs := e.materialize(c, folds[j+1], accums, now)

		if marked := errorMark(outputs); marked != nil {
			results[i].Err = &MarkErr{Output: marked}
			continue
		}
		results[i].Outputs = outputs

		if e.sinkHost != "" {
			if err := e.post(ctx, c, outputs); err != nil {
				results[i].Err = err
				sinkOK = false
				continue
			}
		}
		logDocs = append(logDocs, outputs...)
	}

	// outputs are only durable if the whole batch cleared the sink
	if !sinkOK {
		err := &sinks.Error{StatusCode: 500}
		for _, i := range idx {
			if results[i].Err == nil {
				results[i].Err = err
			}
		}
		reduceErrorCount.WithLabelValues(group).Inc()
		return
	}

	if err := e.logger.LogOutputs(ctx, logDocs); err != nil {
		e.log.Errorw("Failed to log outputs", "group", group, zap.Error(err))
		fail(err)
		return
	}

	reduceProcessTime.WithLabelValues(group).Observe(float64(time.Since(start).Milliseconds()))
}

// lastAccum reads the most recent output for the slot's key within the
// month bucket of otime, scanning the padded id range backwards.
func (e *Engine) lastAccum(ctx context.Context, okey string, otime int64) (store.Doc, error) {
	if e.odb == nil {
		return nil, nil
	}
	rows, err := e.odb.AllDocs(ctx, store.RangeOpts{
		StartKey:    keys.KTURI(okey, partition.MonthEnd(otime)) + "ZZZ",
		EndKey:      keys.KTURI(okey, partition.MonthStart(otime)),
		Descending:  true,
		Limit:       1,
		IncludeDocs: true,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].Doc, nil
}

// materialize turns one fold row into final output documents.
func (e *Engine) materialize(c *Call, row []store.Doc, accums []store.Doc, now int64) []store.Doc {
	n := len(c.OKeys)
	if len(row) < n {
		n = len(row)
	}
	outputs := make([]store.Doc, 0, n)
	for i := 0; i < n; i++ {
		if row[i] == nil {
			continue
		}
		doc := row[i].Clone()
		if id := c.IDoc.ID(); id != "" {
			doc[e.inputType+"_id"] = id
		}
		doc[store.FieldID] = keys.KTURI(c.OKeys[i], c.OTimes[i])
		doc[store.FieldProcessedID] = keys.Pad16(now)
		doc[store.FieldProcessed] = now
		if i < len(accums) && accums[i] != nil && accums[i].ID() == doc.ID() {
			doc[store.FieldRev] = accums[i].Rev()
		} else {
			delete(doc, store.FieldRev)
		}
		outputs = append(outputs, doc)
	}
	return outputs
}

// post fans one call's outputs out to the sink in parallel.
func (e *Engine) post(ctx context.Context, c *Call, outputs []store.Doc) error {
	targets := make([]string, len(outputs))
	for i, doc := range outputs {
		routeID := doc.ID()
		if i < len(c.SKeys) && i < len(c.STimes) {
			routeID = keys.KTURI(c.SKeys[i], c.STimes[i])
		}
		base, err := sinks.Route(routeID, e.sinkHost, e.sinkApps)
		if err != nil {
			return err
		}
		targets[i] = base + e.postPath(i)
	}
	return e.poster.PostAll(ctx, targets, outputs)
}

func (e *Engine) postPath(i int) string {
	if len(e.sinkPosts) == 0 {
		return ""
	}
	if i >= len(e.sinkPosts) {
		i = len(e.sinkPosts) - 1
	}
	return e.sinkPosts[i]
}

func errorMark(outputs []store.Doc) store.Doc {
	for _, doc := range outputs {
		if _, ok := doc["error"]; ok {
			return doc
		}
	}
	return nil
}
