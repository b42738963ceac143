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

// Package pipeline wires the full reduce dataflow end to end: stamp the
// incoming document, reject duplicates, log the input, reduce it against
// its group's accumulator, fan the outputs out to the sink, and log the
// outcome. It also carries the router-facing read and delete operations.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/meterproj/meterflow/pkg/dedupe"
	"github.com/meterproj/meterflow/pkg/doclog"
	"github.com/meterproj/meterflow/pkg/keys"
	"github.com/meterproj/meterflow/pkg/reduce"
	"github.com/meterproj/meterflow/pkg/replay"
	"github.com/meterproj/meterflow/pkg/shared/logging"
	"github.com/meterproj/meterflow/pkg/sinks"
	"github.com/meterproj/meterflow/pkg/store"
)

// MonthMillis is the error query window cap.
const MonthMillis = int64(2629746000)

const defaultDedupeCapacity = 1 << 20

// Stores are the three document stores a pipeline persists to. Any may be
// nil when the corresponding log is disabled.
type Stores struct {
	Input  store.Store
	Output store.Store
	Error  store.Store
}

// Pipeline is one configured dataflow reduce pipeline.
type Pipeline struct {
	opts   Options
	stores Stores
	engine *reduce.Engine
	logger *doclog.Logger
	filter dedupe.Filter
	window int64
	pages  int

	sinkRetries int
	now         func() int64
	log         *zap.SugaredLogger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithReplayWindow enables startup replay over the trailing window (ms).
func WithReplayWindow(window int64) Option {
	return func(p *Pipeline) { p.window = window }
}

// WithPageSize sets the replay scan page size.
func WithPageSize(n int) Option {
	return func(p *Pipeline) { p.pages = n }
}

// WithClock overrides the time source.
func WithClock(now func() int64) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithSinkRetries bounds sink post attempts.
func WithSinkRetries(n int) Option {
	return func(p *Pipeline) { p.sinkRetries = n }
}

// New builds a pipeline over the given stores.
func New(ctx context.Context, opts Options, stores Stores, popts ...Option) (*Pipeline, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)

	p := &Pipeline{
		opts:        opts,
		stores:      stores,
		pages:       replay.DefaultPageSize,
		now:         func() int64 { return time.Now().UnixMilli() },
		log:         log,
		sinkRetries: 5,
	}
	for _, o := range popts {
		o(p)
	}

	p.filter = dedupe.Disabled()
	if opts.Input.Dedupe {
		capacity := opts.Input.DedupeCapacity
		if capacity == 0 {
			capacity = defaultDedupeCapacity
		}
		p.filter = dedupe.New(capacity, 0.001)
	}

	p.logger = doclog.NewLogger(ctx, stores.Input, stores.Output, stores.Error)

	posterOpts := []sinks.PosterOption{
		sinks.WithRetries(p.sinkRetries),
		sinks.WithDedupe(p.filter.Enabled()),
	}
	if opts.Sink.Authentication != nil {
		posterOpts = append(posterOpts, sinks.WithAuth(opts.Sink.Authentication))
	}
	poster := sinks.NewPoster(ctx, posterOpts...)

	engineOpts := []reduce.Option{
		reduce.WithInputType(opts.Input.Type),
		reduce.WithClock(func() int64 { return p.now() }),
	}
	if opts.Sink.Host != "" {
		apps := opts.Sink.Apps
		if apps == 0 {
			apps = 1
		}
		engineOpts = append(engineOpts, reduce.WithSink(opts.Sink.Host, apps, opts.Sink.Posts))
	}
	p.engine = reduce.NewEngine(ctx, opts.Reducer, stores.Output, p.logger, poster, log, engineOpts...)
	return p, nil
}

// Play runs one input document through the full pipeline. The stamped input
// is always returned; err carries the structured failure when there is one.
func (p *Pipeline) Play(ctx context.Context, idoc store.Doc, auth string) (store.Doc, error) {
	ikey := p.opts.Input.Key(idoc, auth)
	itime := p.opts.Input.Time(idoc)

	stamped := idoc.Clone()
	stamped[store.FieldID] = keys.TKURI(ikey, itime)
	stamped[store.FieldProcessedID] = keys.Pad16(itime)
	if _, ok := stamped[store.FieldProcessed]; !ok {
		stamped[store.FieldProcessed] = itime
	}

	okeys := p.opts.Output.Keys(stamped)
	otimes := p.opts.Output.Times(stamped)
	oid := keys.KTURI(okeys[len(okeys)-1], otimes[len(otimes)-1])

	// the filter is approximate; only the store's word rejects
	if p.filter.Has(oid) && p.stores.Output != nil {
		existing, err := p.stores.Output.Get(ctx, oid)
		if err != nil {
			return stamped, err
		}
		if existing != nil {
			return stamped, &DuplicateErr{ID: stamped.ID()}
		}
	}

	if err := p.logger.LogInput(ctx, stamped); err != nil {
		return stamped, p.logFailure(ctx, stamped, auth, err)
	}

	call := &reduce.Call{
		IDoc:    stamped,
		ITime:   itime,
		IGroups: p.opts.Input.Groups(stamped),
		OKeys:   okeys,
		OTimes:  otimes,
	}
	if p.opts.Sink.Keys != nil {
		call.SKeys = p.opts.Sink.Keys(stamped)
	}
	if p.opts.Sink.Times != nil {
		call.STimes = p.opts.Sink.Times(stamped)
	}

	res := p.engine.Reduce(ctx, []*reduce.Call{call})[0]
	if res.Err != nil {
		return stamped, p.logFailure(ctx, stamped, auth, res.Err)
	}

	p.filter.Add(oid)
	return stamped, nil
}

// logFailure writes the error document for a failed play and hands the
// error back for HTTP translation. Duplicates are not failures.
func (p *Pipeline) logFailure(ctx context.Context, stamped store.Doc, auth string, err error) error {
	if IsDuplicate(err) {
		return err
	}
	edoc := p.errorDoc(stamped, auth, err)
	if logErr := p.logger.LogError(ctx, edoc); logErr != nil {
		p.log.Errorw("Failed to log error document", "id", edoc.ID(), zap.Error(logErr))
	}
	return err
}

// errorDoc builds the error record for a failed input. The original input
// id survives under doc_id for callers inspecting error documents.
func (p *Pipeline) errorDoc(stamped store.Doc, auth string, err error) store.Doc {
	ekey, etime := p.errorID(stamped, auth)
	edoc := stamped.Clone()
	edoc["doc_id"] = stamped.ID()
	edoc[store.FieldID] = keys.TKURI(ekey, etime)

	type coder interface{ Code() string }
	var c coder
	if errors.As(err, &c) {
		edoc["error"] = c.Code()
	} else {
		edoc["error"] = "internal"
	}

	var se *sinks.Error
	var me *reduce.MarkErr
	switch {
	case errors.As(err, &se):
		edoc["reason"] = se.Reasons
	case errors.As(err, &me):
		if v, ok := me.Output["error"]; ok {
			edoc["error"] = v
		}
		edoc["reason"] = me.Output["reason"]
		edoc["cause"] = me.Output
	default:
		edoc["reason"] = err.Error()
	}
	return edoc
}

func (p *Pipeline) errorID(stamped store.Doc, auth string) (string, int64) {
	ekey := ""
	if p.opts.Error.Key != nil {
		ekey = p.opts.Error.Key(stamped, auth)
	}
	if ekey == "" {
		ekey = p.opts.Input.Key(stamped, auth)
	}
	var etime int64
	if p.opts.Error.Time != nil {
		etime = p.opts.Error.Time(stamped)
	} else {
		etime = p.opts.Input.Time(stamped)
	}
	return ekey, etime
}

// GetInput fetches a logged input by key and time; nil when absent.
func (p *Pipeline) GetInput(ctx context.Context, k string, t int64) (store.Doc, error) {
	if p.stores.Input == nil {
		return nil, nil
	}
	return p.stores.Input.Get(ctx, keys.TKURI(k, t))
}

// GetOutput fetches a logged output by key and time; nil when absent.
func (p *Pipeline) GetOutput(ctx context.Context, k string, t int64) (store.Doc, error) {
	if p.stores.Output == nil {
		return nil, nil
	}
	return p.stores.Output.Get(ctx, keys.KTURI(k, t))
}

// GetErrors lists error documents in [tstart, tend], newest first. Windows
// over one month are rejected with errlimit.
func (p *Pipeline) GetErrors(ctx context.Context, tstart, tend int64) ([]store.Doc, error) {
	window := tend - tstart
	if window > MonthMillis {
		return nil, &WindowLimitErr{Window: window}
	}
	if p.stores.Error == nil {
		return nil, nil
	}
	rows, err := p.stores.Error.AllDocs(ctx, store.RangeOpts{
		StartKey:    "t/" + keys.Pad16(tend) + "ZZZ",
		EndKey:      "t/" + keys.Pad16(tstart),
		Descending:  true,
		IncludeDocs: true,
	})
	if err != nil {
		return nil, err
	}
	docs := make([]store.Doc, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.Doc)
	}
	return docs, nil
}

// DeleteError removes one error document. The removal is audited with the
// caller's identity. Returns false when no document exists at the id.
func (p *Pipeline) DeleteError(ctx context.Context, k string, t int64, caller string) (bool, error) {
	if p.stores.Error == nil {
		return false, nil
	}
	id := keys.TKURI(k, t)
	doc, err := p.stores.Error.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}
	if err := p.stores.Error.Remove(ctx, doc); err != nil {
		return false, err
	}
	p.log.Infow("Deleted error document", "id", id, "caller", caller)
	return true, nil
}

// Replay rescans the trailing replay window and resubmits inputs that have
// neither an output nor an error record.
func (p *Pipeline) Replay(ctx context.Context) (replay.Stats, error) {
	if p.window <= 0 || p.stores.Input == nil {
		return replay.Stats{}, nil
	}
	d := replay.NewDriver(ctx, p, p.stores.Input, p.stores.Output, p.stores.Error, replay.Options{
		Window:   p.window,
		PageSize: p.pages,
		OutputKeys: func(doc store.Doc) []string {
			return p.opts.Output.Keys(doc)
		},
		OutputTimes: func(doc store.Doc) []int64 {
			return p.opts.Output.Times(doc)
		},
		ErrorID: func(doc store.Doc) string {
			k, t := p.errorID(doc, "")
			return keys.TKURI(k, t)
		},
		Now: p.now,
	})
	return d.Run(ctx)
}
