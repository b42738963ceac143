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

package pipeline

import (
	"fmt"

	"github.com/meterproj/meterflow/pkg/reduce"
	"github.com/meterproj/meterflow/pkg/sinks"
	"github.com/meterproj/meterflow/pkg/store"
)

// Key and time derivation callbacks supplied by the application.
type (
	// KeyFunc derives a document's key from its payload and the caller's
	// authorization.
	KeyFunc func(doc store.Doc, auth string) string
	// TimeFunc derives a document's time from its payload.
	TimeFunc func(doc store.Doc) int64
	// GroupsFunc derives the group components an input reduces under.
	GroupsFunc func(doc store.Doc) []string
	// KeysFunc derives the output keys, one per output slot.
	KeysFunc func(doc store.Doc) []string
	// TimesFunc derives the output times, one per output slot.
	TimesFunc func(doc store.Doc) []int64
)

// InputOptions describe the input document side of a pipeline.
type InputOptions struct {
	Type   string
	DBName string
	Post   string
	Get    string
	Key    KeyFunc
	Time   TimeFunc
	Groups GroupsFunc
	// Dedupe toggles the in-memory duplicate filter.
	Dedupe bool
	// DedupeCapacity sizes the filter; zero takes the default.
	DedupeCapacity uint
	Authentication sinks.AuthProvider
}

// OutputOptions describe the output document side.
type OutputOptions struct {
	Type   string
	DBName string
	Get    string
	Keys   KeysFunc
	Times  TimesFunc
}

// SinkOptions describe the downstream sink fan-out.
type SinkOptions struct {
	Host  string
	Apps  int
	Posts []string
	// Keys and Times override the routing id derivation; the output keys
	// and times apply when unset.
	Keys           KeysFunc
	Times          TimesFunc
	Authentication sinks.AuthProvider
}

// ErrorOptions describe the error document store and its id derivation.
// Key and Time default to the input's when unset.
type ErrorOptions struct {
	DBName string
	Get    string
	Delete string
	Key    KeyFunc
	Time   TimeFunc
}

// Options is the full configuration record for one pipeline.
type Options struct {
	Input   InputOptions
	Output  OutputOptions
	Sink    SinkOptions
	Error   ErrorOptions
	Reducer reduce.Reducer
}

func (o *Options) validate() error {
	if o.Reducer == nil {
		return fmt.Errorf("pipeline needs a reducer")
	}
	if o.Input.Key == nil || o.Input.Time == nil || o.Input.Groups == nil {
		return fmt.Errorf("pipeline needs input key, time and groups functions")
	}
	if o.Output.Keys == nil || o.Output.Times == nil {
		return fmt.Errorf("pipeline needs output keys and times functions")
	}
	return nil
}
