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

// Package util reads the ambient METERFLOW_* environment knobs that sit
// outside the spec-named configuration record: debug logging, the metrics
// port. Unset and empty values fall back; a value that does not parse is a
// deployment mistake and panics at boot rather than being silently ignored.
package util

import (
	"fmt"
	"os"
	"strconv"
)

// LookupEnvIntOr returns key parsed as an int, or the fallback when key is
// unset or empty.
func LookupEnvIntOr(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Errorf("env variable %q holds %q, not an integer", key, v))
	}
	return n
}

// LookupEnvBoolOr returns key parsed as a bool, or the fallback.
func LookupEnvBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		panic(fmt.Errorf("env variable %q holds %q, not a boolean", key, v))
	}
	return b
}
