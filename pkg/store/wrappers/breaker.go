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
	"time"

	"github.com/sony/gobreaker"

	"github.com/meterproj/meterflow/pkg/store"
)

// Breaker opens after sustained store failures so a dead partition fails
// fast instead of queueing work. Errors marked nobreaker (conflicts,
// duplicates) do not count against the failure budget.
type Breaker struct {
	next store.Store
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a per-facade circuit breaker.
func NewBreaker(next store.Store, name string) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && counts.TotalFailures*2 > counts.Requests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerStateChanges.WithLabelValues(name).Inc()
		},
		IsSuccessful: func(err error) bool {
			return err == nil || store.IsNoBreaker(err)
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Get(ctx context.Context, id string) (store.Doc, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Get(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	doc, _ := v.(store.Doc)
	return doc, nil
}

func (b *Breaker) Put(ctx context.Context, doc store.Doc) (string, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Put(ctx, doc)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *Breaker) Remove(ctx context.Context, doc store.Doc) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Remove(ctx, doc)
	})
	return err
}

func (b *Breaker) AllDocs(ctx context.Context, opts store.RangeOpts) ([]store.Row, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.AllDocs(ctx, opts)
	})
	if err != nil {
		return nil, err
	}
	rows, _ := v.([]store.Row)
	return rows, nil
}
