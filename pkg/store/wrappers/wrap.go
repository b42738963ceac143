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

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/meterproj/meterflow/pkg/store"
)

const defaultMaxConcurrent = 100

// Options tune the wrapper chain.
type Options struct {
	MaxConcurrent int64
	Backoff       wait.Backoff
}

// Option mutates Options.
type Option func(*Options)

// WithMaxConcurrent bounds concurrent calls through the throttle layer.
func WithMaxConcurrent(n int64) Option {
	return func(o *Options) { o.MaxConcurrent = n }
}

// WithBackoff overrides the per-call retry backoff.
func WithBackoff(b wait.Backoff) Option {
	return func(o *Options) { o.Backoff = b }
}

// Wrap composes the full middleware chain over s:
// Throttle(Retry(Breaker(Batch(s)))). The batcher's coalescing loops stop
// when ctx is done.
func Wrap(ctx context.Context, s store.Store, name string, opts ...Option) store.Store {
	options := &Options{
		MaxConcurrent: defaultMaxConcurrent,
		Backoff:       DefaultBackoff,
	}
	for _, opt := range opts {
		opt(options)
	}
	batcher := NewBatcher(s)
	batcher.Start(ctx)
	return NewThrottle(NewRetrier(NewBreaker(batcher, name), options.Backoff), options.MaxConcurrent)
}
