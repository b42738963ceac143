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

// Package store defines the typed handle over the partitioned document
// store. Implementations provide point reads, revision-checked writes and
// lexicographic range scans; the wrappers subpackage layers batching, retry,
// circuit breaking and throttling on top without changing the interface.
package store

import (
	"context"
)

// RangeOpts selects a contiguous id range for AllDocs.
type RangeOpts struct {
	StartKey    string
	EndKey      string
	Descending  bool
	Limit       int
	IncludeDocs bool
}

// Row is one AllDocs result row. Doc is nil unless IncludeDocs was set.
type Row struct {
	ID  string
	Doc Doc
}

// Store provides methods to read, write, delete and scan documents.
type Store interface {
	// Get returns the document with the given id, or nil when absent.
	Get(ctx context.Context, id string) (Doc, error)
	// Put writes the document, checking its carried revision against the
	// stored one. Returns the new revision, or a ConflictErr on mismatch.
	Put(ctx context.Context, doc Doc) (string, error)
	// Remove deletes the document by id.
	Remove(ctx context.Context, doc Doc) error
	// AllDocs scans a lexicographic id range.
	AllDocs(ctx context.Context, opts RangeOpts) ([]Row, error)
}

// BulkGetter is implemented by stores that can serve coalesced point reads.
type BulkGetter interface {
	BulkGet(ctx context.Context, ids []string) ([]Doc, error)
}

// BulkPutter is implemented by stores that can serve coalesced writes.
// Results are per-doc so a single conflict does not fail its neighbors.
type BulkPutter interface {
	BulkPut(ctx context.Context, docs []Doc) ([]PutResult, error)
}

// PutResult is the outcome of one write in a bulk put.
type PutResult struct {
	Rev string
	Err error
}
