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

package replay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meterproj/meterflow/pkg/keys"
	"github.com/meterproj/meterflow/pkg/store"
	"github.com/meterproj/meterflow/pkg/store/memory"
)

const now = int64(1700000000000)

type fakePlayer struct {
	played []store.Doc
	fail   bool
}

func (f *fakePlayer) Play(ctx context.Context, idoc store.Doc, auth string) (store.Doc, error) {
	f.played = append(f.played, idoc)
	if f.fail {
		return idoc, errors.New("esink")
	}
	return idoc, nil
}

func opts(window int64) Options {
	return Options{
		Window:   window,
		PageSize: 2,
		OutputKeys: func(doc store.Doc) []string {
			org, _ := doc["org"].(string)
			return []string{org}
		},
		OutputTimes: func(doc store.Doc) []int64 {
			return []int64{store.Int64(doc["t"])}
		},
		ErrorID: func(doc store.Doc) string {
			org, _ := doc["org"].(string)
			return keys.TKURI(org, store.Int64(doc["t"]))
		},
		Now: func() int64 { return now },
	}
}

func logInput(t *testing.T, idb *memory.Store, org string, tm int64) {
	t.Helper()
	_, err := idb.Put(context.Background(), store.Doc{
		"id":           keys.TKURI(org, tm),
		"processed_id": keys.Pad16(tm),
		"processed":    tm,
		"org":          org,
		"t":            tm,
		"usage":        1,
	})
	assert.NoError(t, err)
}

func TestReplaySkipsProcessedInputs(t *testing.T) {
	ctx := context.Background()
	idb := memory.NewStore("input")
	odb := memory.NewStore("output")
	edb := memory.NewStore("error")

	// one input with an output, one without
	logInput(t, idb, "o1", now-1000)
	logInput(t, idb, "o2", now-2000)
	_, err := odb.Put(ctx, store.Doc{"id": keys.KTURI("o1", now-1000)})
	assert.NoError(t, err)

	p := &fakePlayer{}
	d := NewDriver(ctx, p, idb, odb, edb, opts(3600000))
	stats, err := d.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, Stats{Replayed: 1, Failed: 0}, stats)
	assert.Len(t, p.played, 1)

	// the resubmitted doc was stripped of its stamps
	assert.NotContains(t, p.played[0], "id")
	assert.NotContains(t, p.played[0], "processed")
	assert.Equal(t, "o2", p.played[0]["org"])
}

func TestReplaySkipsErroredInputs(t *testing.T) {
	ctx := context.Background()
	idb := memory.NewStore("input")
	odb := memory.NewStore("output")
	edb := memory.NewStore("error")

	logInput(t, idb, "o1", now-1000)
	_, err := edb.Put(ctx, store.Doc{"id": keys.TKURI("o1", now-1000), "error": "esink"})
	assert.NoError(t, err)

	p := &fakePlayer{}
	d := NewDriver(ctx, p, idb, odb, edb, opts(3600000))
	stats, err := d.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Empty(t, p.played)
}

func TestReplayIgnoresInputsOutsideWindow(t *testing.T) {
	ctx := context.Background()
	idb := memory.NewStore("input")

	logInput(t, idb, "old", now-7200000)
	logInput(t, idb, "new", now-1000)

	p := &fakePlayer{}
	d := NewDriver(ctx, p, idb, memory.NewStore("output"), memory.NewStore("error"), opts(3600000))
	stats, err := d.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Replayed)
	assert.Equal(t, "new", p.played[0]["org"])
}

func TestReplayPaginates(t *testing.T) {
	ctx := context.Background()
	idb := memory.NewStore("input")
	for i := int64(0); i < 7; i++ {
		logInput(t, idb, "o1", now-10000+i)
	}

	p := &fakePlayer{}
	d := NewDriver(ctx, p, idb, memory.NewStore("output"), memory.NewStore("error"), opts(3600000))
	stats, err := d.Run(ctx)
	assert.NoError(t, err)
	// page size 2, seven docs, every page visited
	assert.Equal(t, 7, stats.Replayed)
}

func TestReplayCountsFailures(t *testing.T) {
	ctx := context.Background()
	idb := memory.NewStore("input")
	logInput(t, idb, "o1", now-1000)

	p := &fakePlayer{fail: true}
	d := NewDriver(ctx, p, idb, memory.NewStore("output"), memory.NewStore("error"), opts(3600000))
	stats, err := d.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, Stats{Replayed: 0, Failed: 1}, stats)
}
