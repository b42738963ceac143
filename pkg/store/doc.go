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
	"encoding/json"
)

// Field names every document shares.
const (
	FieldID          = "id"
	FieldRev         = "_rev"
	FieldProcessed   = "processed"
	FieldProcessedID = "processed_id"
)

// Doc is a schemaless metering document. Payload shape is owned by the
// application; the engine only reads and stamps the shared fields.
type Doc map[string]interface{}

// ID returns the document id, or "" when unset.
func (d Doc) ID() string {
	s, _ := d[FieldID].(string)
	return s
}

// Rev returns the revision token carried by the document, or "".
func (d Doc) Rev() string {
	s, _ := d[FieldRev].(string)
	return s
}

// Processed returns the numeric processed timestamp, or 0 when unset.
func (d Doc) Processed() int64 {
	return Int64(d[FieldProcessed])
}

// Clone returns a shallow copy of the document.
func (d Doc) Clone() Doc {
	c := make(Doc, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// WithoutRev returns a copy of the document with the revision stripped,
// which is the shape documents travel over the wire in.
func (d Doc) WithoutRev() Doc {
	c := d.Clone()
	delete(c, FieldRev)
	return c
}

// Int64 coerces the numeric encodings a document field can carry after a
// JSON round-trip.
func Int64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
