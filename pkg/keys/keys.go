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

// Package keys encodes and decodes the composite document ids used across the
// metering stores. Ids combine a key tuple and a time tuple, either
// time-first (inputs and errors, scanned by time window) or key-first
// (outputs and accumulators, scanned per key). Times are zero padded so that
// numeric order survives the lexicographic range scans the stores run.
package keys

import (
	"fmt"
	"strconv"
	"strings"
)

// Pad16 returns the 16 digit zero padded decimal representation of n.
// a < b implies Pad16(a) < Pad16(b) lexicographically.
func Pad16(n int64) string {
	return fmt.Sprintf("%016d", n)
}

// TKURI builds a time-then-key document id, "t/<pad16>/k/<key>".
func TKURI(k string, t int64) string {
	return "t/" + Pad16(t) + "/k/" + k
}

// KTURI builds a key-then-time document id, "k/<key>/t/<pad16>".
func KTURI(k string, t int64) string {
	return "k/" + k + "/t/" + Pad16(t)
}

// K extracts the slash joined key components of a composite id.
func K(id string) string {
	return components(id, "k")
}

// T extracts the slash joined time components of a composite id.
func T(id string) string {
	return components(id, "t")
}

// TimeOf parses the first time component of a composite id.
func TimeOf(id string) (int64, error) {
	t := T(id)
	if i := strings.Index(t, "/"); i >= 0 {
		t = t[:i]
	}
	if t == "" {
		return 0, fmt.Errorf("id %q has no time component", id)
	}
	return strconv.ParseInt(t, 10, 64)
}

// components walks the id segments collecting those that follow the given
// marker, up to the next marker.
func components(id, marker string) string {
	var out []string
	collecting := false
	for _, seg := range strings.Split(id, "/") {
		switch seg {
		case "k", "t":
			collecting = seg == marker
		default:
			if collecting {
				out = append(out, seg)
			}
		}
	}
	return strings.Join(out, "/")
}
