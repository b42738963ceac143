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

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/meterproj/meterflow/pkg/store"
)

// DefaultBackoff bounds per-call store retries.
var DefaultBackoff = wait.Backoff{
	Steps:    5,
	Duration: 50 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
}

// Retrier retries each store call with exponential backoff. Errors marked
// noretry (conflicts, duplicates) surface immediately.
type Retrier struct {
	next    store.Store
	backoff wait.Backoff
}

// NewRetrier wraps next with the given backoff.
func NewRetrier(next store.Store, backoff wait.Backoff) *Retrier {
	return &Retrier{next: next, backoff: backoff}
}

func (r *Retrier) retry(ctx context.Context, f func() error) error {
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, r.backoff, func(_ context.Context) (bool, error) {
		lastErr = f()
		if lastErr == nil {
			return true, nil
		}
		if store.IsNoRetry(lastErr) {
			return false, lastErr
		}
		return false, nil
	})
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}

func (r *Retrier) Get(ctx context.Context, id string) (store.Doc, error) {
	var doc store.Doc
	err := r.retry(ctx, func() error {
		var err error
		doc, err = r.next.Get(ctx, id)
		return err
	})
	return doc, err
}

func (r *Retrier) Put(ctx context.Context, doc store.Doc) (string, error) {
	var rev string
	err := r.retry(ctx, func() error {
		var err error
		rev, err = r.next.Put(ctx, doc)
		return err
	})
	return rev, err
}

func (r *Retrier) Remove(ctx context.Context, doc store.Doc) error {
	return r.retry(ctx, func() error {
		return r.next.Remove(ctx, doc)
	})
}

func (r *Retrier) AllDocs(ctx context.Context, opts store.RangeOpts) ([]store.Row, error) {
	var rows []store.Row
	err := r.retry(ctx, func() error {
		var err error
		rows, err = r.next.AllDocs(ctx, opts)
		return err
	})
	return rows, err
}
