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

package reduce

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meterproj/meterflow/pkg/metrics"
)

// reduceCount is used to indicate the number of group batches reduced
var reduceCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "reduce",
	Name:      "batch_total",
	Help:      "Total number of group batches reduced",
}, []string{metrics.LabelGroup})

// reduceErrorCount is used to indicate the number of failed group batches
var reduceErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "reduce",
	Name:      "batch_error_total",
	Help:      "Total number of failed group batches",
}, []string{metrics.LabelGroup})

// accumHitCount counts reduces seeded from an existing accumulator
var accumHitCount = promauto.NewCounter(prometheus.CounterOpts{
	Subsystem: "reduce",
	Name:      "accumulator_hit_total",
	Help:      "Total number of reduces seeded from an existing accumulator",
})

// reduceProcessTime reduce batch processing latency
var reduceProcessTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Subsystem: "reduce",
	Name:      "process_time",
	Help:      "Reduce batch process time (1 to 60000 milliseconds)",
	Buckets:   prometheus.ExponentialBucketsRange(1, 60000, 5),
}, []string{metrics.LabelGroup})
