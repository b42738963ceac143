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

// Package wrappers layers batching, retry, circuit breaking and throttling
// over a store.Store. The layers are transparent: callers keep the plain
// Store interface and the composition order is
// Throttle(Retry(Breaker(Batch(store)))).
package wrappers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/meterproj/meterflow/pkg/store"
)

const (
	defaultBatchItems = 100
	defaultBatchBytes = 1 << 20
	defaultBatchWait  = 10 * time.Millisecond
)

type getReq struct {
	id   string
	done chan getRes
}

type getRes struct {
	doc store.Doc
	err error
}

type putReq struct {
	doc  store.Doc
	size int
	done chan putRes
}

type putRes struct {
	rev string
	err error
}

// Batcher coalesces concurrent Get and Put calls into bulk round-trips when
// the underlying store supports them. Flushes happen on item count, byte
// size or a short wait window, whichever comes first.
type Batcher struct {
	store.Store
	bulkGet store.BulkGetter
	bulkPut store.BulkPutter

	maxItems int
	maxBytes int
	wait     time.Duration

	getCh chan getReq
	putCh chan putReq
}

// NewBatcher wraps s. Call Start before use; until then calls pass through.
func NewBatcher(s store.Store) *Batcher {
	b := &Batcher{
		Store:    s,
		maxItems: defaultBatchItems,
		maxBytes: defaultBatchBytes,
		wait:     defaultBatchWait,
	}
	b.bulkGet, _ = s.(store.BulkGetter)
	b.bulkPut, _ = s.(store.BulkPutter)
	return b
}

// Start launches the coalescing loops; they stop when ctx is done.
func (b *Batcher) Start(ctx context.Context) {
	if b.bulkGet != nil {
		b.getCh = make(chan getReq)
		go b.loopGets(ctx)
	}
	if b.bulkPut != nil {
		b.putCh = make(chan putReq)
		go b.loopPuts(ctx)
	}
}

// Get coalesces with concurrent gets when the store supports bulk reads.
func (b *Batcher) Get(ctx context.Context, id string) (store.Doc, error) {
	if b.getCh == nil {
		return b.Store.Get(ctx, id)
	}
	req := getReq{id: id, done: make(chan getRes, 1)}
	select {
	case b.getCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.doc, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put coalesces with concurrent puts when the store supports bulk writes.
func (b *Batcher) Put(ctx context.Context, doc store.Doc) (string, error) {
	if b.putCh == nil {
		return b.Store.Put(ctx, doc)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	req := putReq{doc: doc, size: len(body), done: make(chan putRes, 1)}
	select {
	case b.putCh <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.rev, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *Batcher) loopGets(ctx context.Context) {
	var pending []getReq
	var timerC <-chan time.Time
	flush := func() {
		b.flushGets(ctx, pending)
		pending, timerC = nil, nil
	}
	for {
		select {
		case <-ctx.Done():
			for _, r := range pending {
				r.done <- getRes{err: ctx.Err()}
			}
			return
		case r := <-b.getCh:
			pending = append(pending, r)
			if len(pending) == 1 {
				timerC = time.After(b.wait)
			}
			if len(pending) >= b.maxItems {
				flush()
			}
		case <-timerC:
			flush()
		}
	}
}

func (b *Batcher) flushGets(ctx context.Context, pending []getReq) {
	ids := make([]string, len(pending))
	for i, r := range pending {
		ids[i] = r.id
	}
	docs, err := b.bulkGet.BulkGet(ctx, ids)
	for i, r := range pending {
		if err != nil {
			r.done <- getRes{err: err}
			continue
		}
		r.done <- getRes{doc: docs[i]}
	}
}

func (b *Batcher) loopPuts(ctx context.Context) {
	var pending []putReq
	var bytes int
	var timerC <-chan time.Time
	flush := func() {
		b.flushPuts(ctx, pending)
		pending, timerC, bytes = nil, nil, 0
	}
	for {
		select {
		case <-ctx.Done():
			for _, r := range pending {
				r.done <- putRes{err: ctx.Err()}
			}
			return
		case r := <-b.putCh:
			pending = append(pending, r)
			bytes += r.size
			if len(pending) == 1 {
				timerC = time.After(b.wait)
			}
			if len(pending) >= b.maxItems || bytes >= b.maxBytes {
				flush()
			}
		case <-timerC:
			flush()
		}
	}
}

func (b *Batcher) flushPuts(ctx context.Context, pending []putReq) {
	docs := make([]store.Doc, len(pending))
	for i, r := range pending {
		docs[i] = r.doc
	}
	results, err := b.bulkPut.BulkPut(ctx, docs)
	for i, r := range pending {
		if err != nil {
			r.done <- putRes{err: err}
			continue
		}
		r.done <- putRes{rev: results[i].Rev, err: results[i].Err}
	}
}
