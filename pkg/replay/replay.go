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

// Package replay repairs the gap an engine crash leaves behind: inputs that
// were logged but produced neither an output nor an error record. At
// startup it rescans a bounded trailing window of input documents and
// resubmits the unprocessed ones through the normal pipeline, whose
// duplicate filter and output-existence check keep the rescan idempotent.
// Replay deletes nothing: input, output and error documents it scans or
// checks stay in their stores, and none of them expires through a replay.
package replay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meterproj/meterflow/pkg/keys"
	"github.com/meterproj/meterflow/pkg/shared/logging"
	"github.com/meterproj/meterflow/pkg/store"
)

// DefaultPageSize is the scan page size when none is configured.
const DefaultPageSize = 200

// Player resubmits one input through the full pipeline.
type Player interface {
	Play(ctx context.Context, idoc store.Doc, auth string) (store.Doc, error)
}

// Options tune a replay run.
type Options struct {
	// Window is the trailing scan window in milliseconds.
	Window int64
	// PageSize bounds each scan page.
	PageSize int
	// OutputKeys and OutputTimes derive the output id checked for
	// existence; the last slot decides.
	OutputKeys  func(doc store.Doc) []string
	OutputTimes func(doc store.Doc) []int64
	// ErrorID derives the error document id checked for existence.
	ErrorID func(doc store.Doc) string
	// Now overrides the clock.
	Now func() int64
}

// Stats counts a replay run's outcomes.
type Stats struct {
	Replayed int
	Failed   int
}

// Driver runs one replay pass.
type Driver struct {
	player Player
	idb    store.Store
	odb    store.Store
	edb    store.Store
	opts   Options
	log    *zap.SugaredLogger
}

// NewDriver returns a Driver over the given stores.
func NewDriver(ctx context.Context, player Player, idb, odb, edb store.Store, opts Options) *Driver {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Driver{
		player: player,
		idb:    idb,
		odb:    odb,
		edb:    edb,
		opts:   opts,
		log:    logging.FromContext(ctx),
	}
}

// Run scans the window and resubmits inputs lacking both an output and an
// error record. Failures are counted and logged, not retried here.
func (d *Driver) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	now := d.opts.Now()
	startKey := "t/" + keys.Pad16(now-d.opts.Window)
	endKey := "t/" + keys.Pad16(now) + "ZZZ"

	d.log.Infow("Replaying unprocessed inputs", "window", d.opts.Window, "pageSize", d.opts.PageSize)

	for {
		rows, err := d.idb.AllDocs(ctx, store.RangeOpts{
			StartKey:    startKey,
			EndKey:      endKey,
			Limit:       d.opts.PageSize,
			IncludeDocs: true,
		})
		if err != nil {
			return stats, err
		}
		for _, row := range rows {
			if err := d.replayOne(ctx, row.Doc, &stats); err != nil {
				return stats, err
			}
		}
		if len(rows) < d.opts.PageSize {
			break
		}
		// resume just past the last id of the page
		startKey = rows[len(rows)-1].ID + "\x00"
	}

	d.log.Infow("Replay done", "replayed", stats.Replayed, "failed", stats.Failed)
	return stats, nil
}

func (d *Driver) replayOne(ctx context.Context, idoc store.Doc, stats *Stats) error {
	okeys := d.opts.OutputKeys(idoc)
	otimes := d.opts.OutputTimes(idoc)
	oid := keys.KTURI(okeys[len(okeys)-1], otimes[len(otimes)-1])

	if d.odb != nil {
		out, err := d.odb.Get(ctx, oid)
		if err != nil {
			return err
		}
		if out != nil {
			return nil
		}
	}
	if d.edb != nil && d.opts.ErrorID != nil {
		edoc, err := d.edb.Get(ctx, d.opts.ErrorID(idoc))
		if err != nil {
			return err
		}
		if edoc != nil {
			return nil
		}
	}

	fresh := idoc.WithoutRev()
	delete(fresh, store.FieldID)
	delete(fresh, store.FieldProcessed)
	delete(fresh, store.FieldProcessedID)

	if _, err := d.player.Play(ctx, fresh, ""); err != nil {
		stats.Failed++
		d.log.Warnw("Replay failed for input", "oid", oid, zap.Error(err))
		return nil
	}
	stats.Replayed++
	return nil
}
