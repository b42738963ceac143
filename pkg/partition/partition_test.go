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

package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpoch(t *testing.T) {
	// 2023-11-14T22:13:20Z
	assert.Equal(t, int64(202311), Epoch(1700000000000))
	assert.Equal(t, int64(197001), Epoch(0))
}

func TestMonthBounds(t *testing.T) {
	start := MonthStart(1700000000000)
	end := MonthEnd(1700000000000)
	assert.Equal(t, int64(1698796800000), start) // 2023-11-01T00:00:00Z
	assert.True(t, start < 1700000000000)
	assert.True(t, end > 1700000000000)
	assert.Equal(t, Epoch(start), Epoch(end))
	assert.NotEqual(t, Epoch(start), Epoch(end+1))
}

func TestForwardIsDeterministic(t *testing.T) {
	f := Forward(4)
	a := f("o1/resource", 1700000000000, OpWrite)
	b := f("o1/resource", 1700000000000, OpWrite)
	assert.Equal(t, a, b)
	assert.Len(t, a, 1)
	assert.True(t, a[0].Partition >= 0 && a[0].Partition < 4)
	assert.Equal(t, int64(202311), a[0].Epoch)
}

func TestForwardSingleShard(t *testing.T) {
	f := Forward(1)
	assert.Equal(t, 0, f("anything", 1700000000000, OpRead)[0].Partition)
}

func TestForwardSpreadsBuckets(t *testing.T) {
	f := Forward(8)
	seen := map[int]bool{}
	buckets := []string{"o1", "o2", "o3", "o4", "o5", "o6", "o7", "o8", "o9", "o10"}
	for _, b := range buckets {
		seen[f(b, 1700000000000, OpWrite)[0].Partition] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestBalanceRoundRobin(t *testing.T) {
	fixed := func(bucket string, period int64, op Op) []Target {
		return []Target{{Partition: 0}, {Partition: 1}, {Partition: 2}}
	}
	b := Balance(fixed)
	seen := map[int]int{}
	for i := 0; i < 9; i++ {
		targets := b("x", 0, OpWrite)
		assert.Len(t, targets, 1)
		seen[targets[0].Partition]++
	}
	assert.Equal(t, map[int]int{0: 3, 1: 3, 2: 3}, seen)
}

func TestSingleDB(t *testing.T) {
	f := SingleDB(3)
	targets := f("ignored", 1700000000000, OpWrite)
	assert.Equal(t, []Target{{Partition: 3, Epoch: 202311}}, targets)
}
