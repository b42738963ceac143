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

package store

import (
	"context"
	"sort"

	"github.com/meterproj/meterflow/pkg/keys"
	"github.com/meterproj/meterflow/pkg/partition"
)

// Partitioned routes document operations over a set of shards using a
// partition function on the id's key and time components. Range scans fan
// out to every shard and merge, so callers keep the plain Store view.
type Partitioned struct {
	shards []Store
	pf     partition.Func
}

// NewPartitioned returns a partitioned facade over the shards. With one
// shard the partition function short-circuits.
func NewPartitioned(shards []Store, pf partition.Func) *Partitioned {
	if len(shards) == 1 {
		pf = partition.NoPartition()
	}
	return &Partitioned{shards: shards, pf: pf}
}

func (p *Partitioned) shard(id string, op partition.Op) Store {
	t, err := keys.TimeOf(id)
	if err != nil {
		t = 0
	}
	targets := p.pf(keys.K(id), t, op)
	return p.shards[targets[0].Partition%len(p.shards)]
}

func (p *Partitioned) Get(ctx context.Context, id string) (Doc, error) {
	return p.shard(id, partition.OpRead).Get(ctx, id)
}

func (p *Partitioned) Put(ctx context.Context, doc Doc) (string, error) {
	return p.shard(doc.ID(), partition.OpWrite).Put(ctx, doc)
}

func (p *Partitioned) Remove(ctx context.Context, doc Doc) error {
	return p.shard(doc.ID(), partition.OpWrite).Remove(ctx, doc)
}

// AllDocs merges per-shard scans back into one ordered result.
func (p *Partitioned) AllDocs(ctx context.Context, opts RangeOpts) ([]Row, error) {
	var rows []Row
	for _, s := range p.shards {
		r, err := s.AllDocs(ctx, opts)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r...)
	}
	sort.Slice(rows, func(i, j int) bool {
		if opts.Descending {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].ID < rows[j].ID
	})
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows, nil
}
