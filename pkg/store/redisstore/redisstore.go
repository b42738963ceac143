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

// Package redisstore implements the document store on Redis. Documents live
// in per-id hashes and a zset keyed at score zero indexes the ids, so range
// scans map onto ZRANGEBYLEX which is lexicographic the same way the padded
// time components are.
package redisstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/meterproj/meterflow/pkg/store"
)

//go:embed put.lua
var putLuaScript string

// Store is a Redis backed store.Store implementation.
type Store struct {
	name      string
	client    redis.UniversalClient
	putScript *redis.Script
}

// NewStore returns a store named name on the given client. The name scopes
// the Redis keys, so one client can carry the input, output and error stores.
func NewStore(client redis.UniversalClient, name string) *Store {
	return &Store{
		name:      name,
		client:    client,
		putScript: redis.NewScript(putLuaScript),
	}
}

// NewClient builds a Redis client from a redis:// URI.
func NewClient(uri string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis uri: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (s *Store) docKey(id string) string { return s.name + ":doc:" + id }
func (s *Store) indexKey() string        { return s.name + ":index" }

// Get returns the document with the given id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (store.Doc, error) {
	vals, err := s.client.HMGet(ctx, s.docKey(id), "doc", "rev").Result()
	if err != nil {
		return nil, fmt.Errorf("(%s) failed to get %s: %w", s.name, id, err)
	}
	return s.toDoc(vals)
}

// Put writes the document after checking its carried revision server-side.
func (s *Store) Put(ctx context.Context, doc store.Doc) (string, error) {
	id := doc.ID()
	if id == "" {
		return "", fmt.Errorf("(%s) document has no id", s.name)
	}
	expected := doc.Rev()
	body, err := json.Marshal(doc.WithoutRev())
	if err != nil {
		return "", fmt.Errorf("(%s) failed to marshal %s: %w", s.name, id, err)
	}
	rev := nextRev(expected)
	_, err = s.putScript.Run(ctx, s.client, []string{s.docKey(id), s.indexKey()}, id, expected, rev, string(body)).Result()
	if err != nil {
		if strings.Contains(err.Error(), "conflict") {
			return "", store.ConflictErr{Name: s.name, ID: id}
		}
		return "", fmt.Errorf("(%s) failed to put %s: %w", s.name, id, err)
	}
	return rev, nil
}

// Remove deletes the document by id.
func (s *Store) Remove(ctx context.Context, doc store.Doc) error {
	id := doc.ID()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.docKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("(%s) failed to remove %s: %w", s.name, id, err)
	}
	return nil
}

// AllDocs scans a lexicographic id range off the index zset.
func (s *Store) AllDocs(ctx context.Context, opts store.RangeOpts) ([]store.Row, error) {
	rangeBy := &redis.ZRangeBy{Min: "[" + opts.EndKey, Max: "[" + opts.StartKey}
	if !opts.Descending {
		rangeBy = &redis.ZRangeBy{Min: "[" + opts.StartKey, Max: "[" + opts.EndKey}
	}
	if opts.Limit > 0 {
		rangeBy.Count = int64(opts.Limit)
	}

	var ids []string
	var err error
	if opts.Descending {
		ids, err = s.client.ZRevRangeByLex(ctx, s.indexKey(), rangeBy).Result()
	} else {
		ids, err = s.client.ZRangeByLex(ctx, s.indexKey(), rangeBy).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("(%s) failed to scan: %w", s.name, err)
	}

	rows := make([]store.Row, 0, len(ids))
	if !opts.IncludeDocs {
		for _, id := range ids {
			rows = append(rows, store.Row{ID: id})
		}
		return rows, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, s.docKey(id), "doc", "rev")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("(%s) failed to fetch scanned docs: %w", s.name, err)
	}
	for i, id := range ids {
		doc, err := s.toDoc(cmds[i].Val())
		if err != nil {
			return nil, err
		}
		rows = append(rows, store.Row{ID: id, Doc: doc})
	}
	return rows, nil
}

// BulkGet serves coalesced point reads through one pipeline round-trip.
func (s *Store) BulkGet(ctx context.Context, ids []string) ([]store.Doc, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, s.docKey(id), "doc", "rev")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("(%s) failed to bulk get: %w", s.name, err)
	}
	docs := make([]store.Doc, len(ids))
	for i := range ids {
		doc, err := s.toDoc(cmds[i].Val())
		if err != nil {
			return nil, err
		}
		docs[i] = doc
	}
	return docs, nil
}

// BulkPut serves coalesced writes; each doc keeps its own outcome so one
// conflict does not fail its neighbors.
func (s *Store) BulkPut(ctx context.Context, docs []store.Doc) ([]store.PutResult, error) {
	results := make([]store.PutResult, len(docs))
	for i, doc := range docs {
		rev, err := s.Put(ctx, doc)
		results[i] = store.PutResult{Rev: rev, Err: err}
	}
	return results, nil
}

func (s *Store) toDoc(vals []interface{}) (store.Doc, error) {
	if len(vals) != 2 || vals[0] == nil {
		return nil, nil
	}
	body, _ := vals[0].(string)
	rev, _ := vals[1].(string)
	var doc store.Doc
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("(%s) failed to unmarshal document: %w", s.name, err)
	}
	doc[store.FieldRev] = rev
	return doc, nil
}

func nextRev(expected string) string {
	gen := 1
	if expected != "" {
		if n, err := strconv.Atoi(strings.SplitN(expected, "-", 2)[0]); err == nil {
			gen = n + 1
		}
	}
	return fmt.Sprintf("%d-%s", gen, uuid.NewString()[:8])
}
