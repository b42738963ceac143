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

package commands

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/meterproj/meterflow/pkg/config"
	"github.com/meterproj/meterflow/pkg/partition"
	"github.com/meterproj/meterflow/pkg/pipeline"
	"github.com/meterproj/meterflow/pkg/store"
	"github.com/meterproj/meterflow/pkg/store/memory"
	"github.com/meterproj/meterflow/pkg/store/redisstore"
	"github.com/meterproj/meterflow/pkg/store/wrappers"
)

// meteringOptions is the built-in usage metering pipeline: usage documents
// keyed by org and resource, accumulated per org per month.
func meteringOptions(conf *config.Config) pipeline.Options {
	key := func(doc store.Doc, auth string) string {
		org, _ := doc["org"].(string)
		if resource, ok := doc["resource_id"].(string); ok && resource != "" {
			return org + "/" + resource
		}
		return org
	}
	docTime := func(doc store.Doc) int64 {
		if t := store.Int64(doc["t"]); t != 0 {
			return t
		}
		return time.Now().UnixMilli()
	}

	return pipeline.Options{
		Input: pipeline.InputOptions{
			Type:   "usage",
			DBName: conf.InputDB,
			Post:   "/v1/metering/usage",
			Get:    "/v1/metering/usage",
			Dedupe: true,
			Key:    key,
			Time:   docTime,
			Groups: func(doc store.Doc) []string {
				org, _ := doc["org"].(string)
				return []string{org}
			},
		},
		Output: pipeline.OutputOptions{
			Type:   "accumulated_usage",
			DBName: conf.OutputDB,
			Get:    "/v1/metering/accumulated/usage",
			Keys: func(doc store.Doc) []string {
				return []string{key(doc, "")}
			},
			Times: func(doc store.Doc) []int64 {
				return []int64{docTime(doc)}
			},
		},
		Sink: pipeline.SinkOptions{
			Host:  conf.SinkHost,
			Apps:  conf.SinkApps,
			Posts: []string{"/v1/metering/accumulated/usage"},
		},
		Error: pipeline.ErrorOptions{
			DBName: conf.ErrorDB,
			Get:    "/v1/metering/errors",
			Delete: "/v1/metering/errors",
			Key:    key,
			Time:   docTime,
		},
		Reducer: func(ctx context.Context, accum []store.Doc, input store.Doc) ([]store.Doc, error) {
			total := store.Int64(input["usage"])
			if len(accum) > 0 && accum[0] != nil {
				total += store.Int64(accum[0]["total"])
			}
			return []store.Doc{{"total": total}}, nil
		},
	}
}

// buildStores opens the three document stores behind the full wrapper
// chain. The output store shards over DB_PARTITIONS.
func buildStores(ctx context.Context, conf *config.Config) (pipeline.Stores, error) {
	u, err := url.Parse(conf.DBURI)
	if err != nil {
		return pipeline.Stores{}, fmt.Errorf("failed to parse DB_URI: %w", err)
	}

	var open func(name string) (store.Store, error)
	switch u.Scheme {
	case "memory":
		open = func(name string) (store.Store, error) {
			return memory.NewStore(name), nil
		}
	case "redis", "rediss":
		client, err := redisstore.NewClient(conf.DBURI)
		if err != nil {
			return pipeline.Stores{}, err
		}
		open = func(name string) (store.Store, error) {
			return redisstore.NewStore(client, name), nil
		}
	default:
		return pipeline.Stores{}, fmt.Errorf("unsupported DB_URI scheme %q", u.Scheme)
	}

	var stores pipeline.Stores
	if conf.InputDB != "" {
		s, err := open(conf.InputDB)
		if err != nil {
			return pipeline.Stores{}, err
		}
		stores.Input = wrappers.Wrap(ctx, s, conf.InputDB)
	}
	if conf.OutputDB != "" {
		s, err := openPartitioned(open, conf.OutputDB, conf.DBPartitions)
		if err != nil {
			return pipeline.Stores{}, err
		}
		stores.Output = wrappers.Wrap(ctx, s, conf.OutputDB)
	}
	if conf.ErrorDB != "" {
		s, err := open(conf.ErrorDB)
		if err != nil {
			return pipeline.Stores{}, err
		}
		stores.Error = wrappers.Wrap(ctx, s, conf.ErrorDB)
	}
	return stores, nil
}

func openPartitioned(open func(string) (store.Store, error), name string, parts int) (store.Store, error) {
	if parts <= 1 {
		return open(name)
	}
	shards := make([]store.Store, parts)
	for i := range shards {
		s, err := open(fmt.Sprintf("%s-%d", name, i))
		if err != nil {
			return nil, err
		}
		shards[i] = s
	}
	return store.NewPartitioned(shards, partition.Forward(parts)), nil
}
