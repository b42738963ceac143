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

package store_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meterproj/meterflow/pkg/keys"
	"github.com/meterproj/meterflow/pkg/partition"
	"github.com/meterproj/meterflow/pkg/store"
	"github.com/meterproj/meterflow/pkg/store/memory"
)

func newShards(n int) ([]store.Store, []*memory.Store) {
	shards := make([]store.Store, n)
	mems := make([]*memory.Store, n)
	for i := range shards {
		mems[i] = memory.NewStore(fmt.Sprintf("shard-%d", i))
		shards[i] = mems[i]
	}
	return shards, mems
}

func TestPartitionedRoutesConsistently(t *testing.T) {
	ctx := context.Background()
	shards, mems := newShards(4)
	p := store.NewPartitioned(shards, partition.Forward(4))

	for i := 0; i < 20; i++ {
		id := keys.KTURI(fmt.Sprintf("o%d", i), 1700000000000)
		_, err := p.Put(ctx, store.Doc{"id": id, "n": i})
		assert.NoError(t, err)
		doc, err := p.Get(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, i, doc["n"])
	}

	total := 0
	spread := 0
	for _, m := range mems {
		total += m.Len()
		if m.Len() > 0 {
			spread++
		}
	}
	assert.Equal(t, 20, total)
	assert.Greater(t, spread, 1)
}

func TestPartitionedMergedScan(t *testing.T) {
	ctx := context.Background()
	shards, _ := newShards(3)
	p := store.NewPartitioned(shards, partition.Forward(3))

	for i := 0; i < 10; i++ {
		id := keys.TKURI(fmt.Sprintf("o%d", i), int64(1000+i))
		_, err := p.Put(ctx, store.Doc{"id": id})
		assert.NoError(t, err)
	}

	rows, err := p.AllDocs(ctx, store.RangeOpts{
		StartKey:   "t/" + keys.Pad16(2000),
		EndKey:     "t/" + keys.Pad16(0),
		Descending: true,
		Limit:      5,
	})
	assert.NoError(t, err)
	assert.Len(t, rows, 5)
	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i-1].ID > rows[i].ID)
	}
}
