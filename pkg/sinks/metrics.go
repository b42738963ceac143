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

package sinks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meterproj/meterflow/pkg/metrics"
)

// sinkPostsCount is used to indicate the number of documents posted
var sinkPostsCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "sink",
	Name:      "post_total",
	Help:      "Total number of documents posted to the sink",
}, []string{metrics.LabelStatus})

// sinkPostErrors is used to indicate the number of failed posts
var sinkPostErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "sink",
	Name:      "post_error_total",
	Help:      "Total number of failed sink posts",
}, []string{metrics.LabelStatus})

// sinkPostTime sink post latency
var sinkPostTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Subsystem: "sink",
	Name:      "post_time",
	Help:      "Sink post time (1 to 60000 milliseconds)",
	Buckets:   prometheus.ExponentialBucketsRange(1, 60000, 5),
}, []string{metrics.LabelStatus})
