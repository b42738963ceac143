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

// Package dedupe holds the in-memory duplicate filter. The filter is
// probabilistic: Has may report a false positive, never a false negative,
// so a positive answer is always confirmed against the output store before
// an input is rejected as a duplicate. Process-local; multi-instance
// deployments rely on input partitioning for a single writer per group.
package dedupe

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Filter is an approximate set of processed output ids.
type Filter interface {
	// Has reports whether id may have been seen. False is authoritative.
	Has(id string) bool
	// Add marks id as seen.
	Add(id string)
	// Enabled reports whether duplicate filtering is on. Sink 409 handling
	// depends on it: without a filter a sink conflict is a real failure.
	Enabled() bool
}

type bloomFilter struct {
	mu sync.Mutex
	f  *bloom.BloomFilter
}

// New returns a bloom backed filter sized for the expected number of ids at
// the given false positive rate.
func New(capacity uint, fpRate float64) Filter {
	return &bloomFilter{f: bloom.NewWithEstimates(capacity, fpRate)}
}

func (b *bloomFilter) Has(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.f.TestString(id)
}

func (b *bloomFilter) Add(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.f.AddString(id)
}

func (b *bloomFilter) Enabled() bool { return true }

type disabled struct{}

// Disabled returns the bypass filter used when dedupe is configured off.
func Disabled() Filter { return disabled{} }

func (disabled) Has(string) bool { return false }
func (disabled) Add(string)      {}
func (disabled) Enabled() bool   { return false }
