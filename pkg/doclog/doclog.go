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

// Package doclog persists the documents the pipeline produces: inputs once
// and idempotently, outputs with their accumulator revisions, and error
// records exactly once.
package doclog

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/meterproj/meterflow/pkg/shared/logging"
	"github.com/meterproj/meterflow/pkg/store"
)

// Logger writes input, output and error documents. Any store may be nil
// when the corresponding log is disabled.
type Logger struct {
	idb store.Store
	odb store.Store
	edb store.Store
	log *zap.SugaredLogger
}

// NewLogger returns a Logger over the three stores.
func NewLogger(ctx context.Context, idb, odb, edb store.Store) *Logger {
	return &Logger{
		idb: idb,
		odb: odb,
		edb: edb,
		log: logging.FromContext(ctx),
	}
}

// LogInput writes the input document. Conflicts are swallowed: a replayed
// input has already been logged and that is success.
func (l *Logger) LogInput(ctx context.Context, doc store.Doc) error {
	if l.idb == nil {
		return nil
	}
	_, err := l.idb.Put(ctx, doc)
	if store.IsConflict(err) {
		l.log.Debugw("Input already logged", "id", doc.ID())
		return nil
	}
	return err
}

// LogOutput writes one output document, honoring a carried revision as an
// in-place accumulator update. Conflicts propagate so the caller replays.
func (l *Logger) LogOutput(ctx context.Context, doc store.Doc) (string, error) {
	if l.odb == nil {
		return "", nil
	}
	return l.odb.Put(ctx, doc)
}

// LogOutputs writes a batch of outputs, deduplicated by id keeping the last
// occurrence, in reverse chronological order.
func (l *Logger) LogOutputs(ctx context.Context, docs []store.Doc) error {
	if l.odb == nil {
		return nil
	}
	seen := make(map[string]bool, len(docs))
	var errs error
	for i := len(docs) - 1; i >= 0; i-- {
		doc := docs[i]
		if seen[doc.ID()] {
			continue
		}
		seen[doc.ID()] = true
		if _, err := l.odb.Put(ctx, doc); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// LogError writes an error document once; an existing record at the same id
// is left untouched.
func (l *Logger) LogError(ctx context.Context, doc store.Doc) error {
	if l.edb == nil {
		return nil
	}
	existing, err := l.edb.Get(ctx, doc.ID())
	if err != nil {
		return err
	}
	if existing != nil {
		l.log.Debugw("Error already logged", "id", doc.ID())
		return nil
	}
	_, err = l.edb.Put(ctx, doc)
	if store.IsConflict(err) {
		return nil
	}
	return err
}
