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

	"golang.org/x/sync/semaphore"

	"github.com/meterproj/meterflow/pkg/store"
)

// Throttle bounds the number of in-flight store calls. Waiters suspend on
// their context.
type Throttle struct {
	next store.Store
	sem  *semaphore.Weighted
}

// NewThrottle wraps next allowing at most n concurrent calls.
func NewThrottle(next store.Store, n int64) *Throttle {
	return &Throttle{next: next, sem: semaphore.NewWeighted(n)}
}

func (t *Throttle) Get(ctx context.Context, id string) (store.Doc, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.sem.Release(1)
	return t.next.Get(ctx, id)
}

func (t *Throttle) Put(ctx context.Context, doc store.Doc) (string, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer t.sem.Release(1)
	return t.next.Put(ctx, doc)
}

func (t *Throttle) Remove(ctx context.Context, doc store.Doc) error {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.sem.Release(1)
	return t.next.Remove(ctx, doc)
}

func (t *Throttle) AllDocs(ctx context.Context, opts store.RangeOpts) ([]store.Row, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.sem.Release(1)
	return t.next.AllDocs(ctx, opts)
}
