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

// Package memory implements an in-memory document store. It backs
// single-node deployments and tests; range scans honor the same inclusive
// lexicographic bounds the partitioned stores provide.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/meterproj/meterflow/pkg/store"
)

type entry struct {
	doc store.Doc
	rev string
	gen int
}

// Store is an in-memory store.Store implementation.
type Store struct {
	name string
	mu   sync.RWMutex
	docs map[string]*entry
	ids  []string // sorted
}

// NewStore returns an empty in-memory store.
func NewStore(name string) *Store {
	return &Store{
		name: name,
		docs: make(map[string]*entry),
	}
}

// Get returns the document with the given id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (store.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return s.withRev(e), nil
}

// Put writes the document after checking its carried revision.
func (s *Store) Put(ctx context.Context, doc store.Doc) (string, error) {
	id := doc.ID()
	if id == "" {
		return "", fmt.Errorf("(%s) document has no id", s.name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(id, doc)
}

func (s *Store) putLocked(id string, doc store.Doc) (string, error) {
	e, exists := s.docs[id]
	if exists && e.rev != doc.Rev() {
		return "", store.ConflictErr{Name: s.name, ID: id}
	}
	if !exists && doc.Rev() != "" {
		return "", store.ConflictErr{Name: s.name, ID: id}
	}
	gen := 1
	if exists {
		gen = e.gen + 1
	}
	rev := fmt.Sprintf("%d-%s", gen, uuid.NewString()[:8])
	stored := doc.Clone()
	delete(stored, store.FieldRev)
	s.docs[id] = &entry{doc: stored, rev: rev, gen: gen}
	if !exists {
		i := sort.SearchStrings(s.ids, id)
		s.ids = append(s.ids, "")
		copy(s.ids[i+1:], s.ids[i:])
		s.ids[i] = id
	}
	return rev, nil
}

// Remove deletes the document by id.
func (s *Store) Remove(ctx context.Context, doc store.Doc) error {
	id := doc.ID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return nil
	}
	delete(s.docs, id)
	i := sort.SearchStrings(s.ids, id)
	if i < len(s.ids) && s.ids[i] == id {
		s.ids = append(s.ids[:i], s.ids[i+1:]...)
	}
	return nil
}

// AllDocs scans a lexicographic id range, bounds inclusive. For descending
// scans StartKey is the upper bound, matching the partitioned store.
func (s *Store) AllDocs(ctx context.Context, opts store.RangeOpts) ([]store.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo, hi := opts.StartKey, opts.EndKey
	if opts.Descending {
		lo, hi = opts.EndKey, opts.StartKey
	}

	var rows []store.Row
	appendRow := func(id string) {
		row := store.Row{ID: id}
		if opts.IncludeDocs {
			row.Doc = s.withRev(s.docs[id])
		}
		rows = append(rows, row)
	}

	if opts.Descending {
		for i := len(s.ids) - 1; i >= 0; i-- {
			id := s.ids[i]
			if id > hi {
				continue
			}
			if id < lo {
				break
			}
			appendRow(id)
			if opts.Limit > 0 && len(rows) >= opts.Limit {
				break
			}
		}
	} else {
		start := sort.SearchStrings(s.ids, lo)
		for i := start; i < len(s.ids); i++ {
			id := s.ids[i]
			if id > hi {
				break
			}
			appendRow(id)
			if opts.Limit > 0 && len(rows) >= opts.Limit {
				break
			}
		}
	}
	return rows, nil
}

// BulkGet serves coalesced point reads. Absent ids yield nil docs.
func (s *Store) BulkGet(ctx context.Context, ids []string) ([]store.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]store.Doc, len(ids))
	for i, id := range ids {
		if e, ok := s.docs[id]; ok {
			docs[i] = s.withRev(e)
		}
	}
	return docs, nil
}

// BulkPut serves coalesced writes with per-doc outcomes.
func (s *Store) BulkPut(ctx context.Context, docs []store.Doc) ([]store.PutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]store.PutResult, len(docs))
	for i, doc := range docs {
		id := doc.ID()
		if id == "" {
			results[i] = store.PutResult{Err: fmt.Errorf("(%s) document has no id", s.name)}
			continue
		}
		rev, err := s.putLocked(id, doc)
		results[i] = store.PutResult{Rev: rev, Err: err}
	}
	return results, nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) withRev(e *entry) store.Doc {
	d := e.doc.Clone()
	d[store.FieldRev] = e.rev
	return d
}

// Gen parses the generation out of a revision token.
func Gen(rev string) int {
	n, _ := strconv.Atoi(strings.SplitN(rev, "-", 2)[0])
	return n
}
