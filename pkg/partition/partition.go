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

// Package partition maps a (bucket, period, op) triple to the storage and
// sink destinations holding documents for that bucket. Buckets hash to a
// partition, periods collapse to a per-month epoch, and the combination
// selects the physical shard a document lives on.
package partition

import (
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Op is the operation a destination is being selected for.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// Target is a (partition, epoch) destination pair.
type Target struct {
	Partition int
	Epoch     int64
}

// Func selects the destinations for a bucket and period.
type Func func(bucket string, period int64, op Op) []Target

// Epoch collapses a millisecond timestamp to its YYYYMM month bucket.
func Epoch(t int64) int64 {
	u := time.UnixMilli(t).UTC()
	return int64(u.Year())*100 + int64(u.Month())
}

// MonthStart returns the first millisecond of the month containing t.
func MonthStart(t int64) int64 {
	u := time.UnixMilli(t).UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC).UnixMilli()
}

// MonthEnd returns the last millisecond of the month containing t.
func MonthEnd(t int64) int64 {
	u := time.UnixMilli(t).UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC).UnixMilli() - 1
}

// Forward returns a partitioner that hashes the bucket over n partitions.
// The hash is stable, so a bucket always lands on the same shard.
func Forward(n int) Func {
	return func(bucket string, period int64, op Op) []Target {
		p := 0
		if n > 1 {
			p = int(xxhash.Sum64String(bucket) % uint64(n))
		}
		return []Target{{Partition: p, Epoch: Epoch(period)}}
	}
}

// Balance wraps a partitioner and picks a single destination from its
// candidates, round-robin on write ops.
func Balance(f Func) Func {
	var rr uint64
	return func(bucket string, period int64, op Op) []Target {
		targets := f(bucket, period, op)
		if len(targets) <= 1 {
			return targets
		}
		i := 0
		if op == OpWrite {
			i = int(atomic.AddUint64(&rr, 1) % uint64(len(targets)))
		}
		return []Target{targets[i]}
	}
}

// SingleDB returns the input-side partitioner, one partition per app
// instance with per-month epochs.
func SingleDB(instance int) Func {
	return func(bucket string, period int64, op Op) []Target {
		return []Target{{Partition: instance, Epoch: Epoch(period)}}
	}
}

// NoPartition short-circuits partition selection when a store runs as a
// single shard.
func NoPartition() Func {
	return func(bucket string, period int64, op Op) []Target {
		return []Target{{Partition: 0, Epoch: Epoch(period)}}
	}
}
