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

// Package config loads the engine configuration from the environment once
// at startup. The loaded value is threaded through explicitly; nothing
// reads the environment after boot.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/meterproj/meterflow/pkg/shared/util"
)

// Config is the engine configuration.
type Config struct {
	// DBURI selects the document store backend, e.g. "memory://" or
	// "redis://localhost:6379".
	DBURI string
	// DBPartitions is the output store partition count.
	DBPartitions int
	// SinkHost is the downstream sink base URL; empty disables posting.
	SinkHost string
	// SinkApps is the sink partition count.
	SinkApps int
	// SinkRetries bounds sink post attempts.
	SinkRetries int
	// InputDB, OutputDB and ErrorDB name the stores; empty disables one.
	InputDB  string
	OutputDB string
	ErrorDB  string
	// ReplayWindow is the startup replay window in ms; zero disables.
	ReplayWindow int64
	// PageSize is the replay scan page size.
	PageSize int
	// ServerPort is the HTTP surface port.
	ServerPort int
	// MetricsPort is the prometheus endpoint port.
	MetricsPort int
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("DB_PARTITIONS", 1)
	v.SetDefault("SINK_APPS", 1)
	v.SetDefault("SINK_RETRIES", 5)
	v.SetDefault("INPUT_DB", "meter-input")
	v.SetDefault("OUTPUT_DB", "meter-output")
	v.SetDefault("ERROR_DB", "meter-error")
	v.SetDefault("REPLAY", 0)
	v.SetDefault("PAGE_SIZE", 200)
	v.SetDefault("SERVER_PORT", 9080)

	c := &Config{
		DBURI:        v.GetString("DB_URI"),
		DBPartitions: v.GetInt("DB_PARTITIONS"),
		SinkHost:     v.GetString("SINK"),
		SinkApps:     v.GetInt("SINK_APPS"),
		SinkRetries:  v.GetInt("SINK_RETRIES"),
		InputDB:      dbName(v, "INPUT_DB"),
		OutputDB:     dbName(v, "OUTPUT_DB"),
		ErrorDB:      dbName(v, "ERROR_DB"),
		ReplayWindow: v.GetInt64("REPLAY"),
		PageSize:     v.GetInt("PAGE_SIZE"),
		ServerPort:   v.GetInt("SERVER_PORT"),
		// ambient METERFLOW_* knobs live outside the spec-named record
		MetricsPort: util.LookupEnvIntOr("METERFLOW_METRICS_PORT", 9090),
	}
	if c.DBURI == "" {
		return nil, fmt.Errorf("Missing DB configuration")
	}
	return c, nil
}

// dbName reads a store name; "false" and "" disable the store. viper treats
// an empty variable as unset, so an empty value is checked directly.
func dbName(v *viper.Viper, key string) string {
	if s, ok := os.LookupEnv(key); ok && s == "" {
		return ""
	}
	if s := v.GetString(key); s != "false" {
		return s
	}
	return ""
}
