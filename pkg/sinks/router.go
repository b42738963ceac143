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

// Package sinks routes finalized output documents to the downstream sink
// service and posts them. The target instance is derived from the output id
// the same way storage partitions are, so one id always lands on the same
// sink app.
package sinks

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/meterproj/meterflow/pkg/keys"
	"github.com/meterproj/meterflow/pkg/partition"
)

// Route computes the sink base URL for an output id over parts sink apps.
// With one app the host passes through. With more, hosts with an explicit
// port shift the port by the partition; otherwise the leftmost hostname
// label gets a "-<p>" suffix.
func Route(id, host string, parts int) (string, error) {
	if parts <= 1 {
		return host, nil
	}
	t, err := keys.TimeOf(id)
	if err != nil {
		return "", err
	}
	targets := partition.Forward(parts)(keys.K(id), t, partition.OpWrite)
	p := targets[0].Partition

	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("failed to parse sink host %q: %w", host, err)
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return "", fmt.Errorf("failed to parse sink port %q: %w", port, err)
		}
		u.Host = u.Hostname() + ":" + strconv.Itoa(n+p)
		return u.String(), nil
	}

	labels := strings.SplitN(u.Hostname(), ".", 2)
	labels[0] = fmt.Sprintf("%s-%d", labels[0], p)
	u.Host = strings.Join(labels, ".")
	return u.String(), nil
}
