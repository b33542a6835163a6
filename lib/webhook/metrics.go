// Copyright (c) 2025 Tigera, Inc. All rights reserved.

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomePartial = "partial"
	outcomeInvalid = "invalid"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conversion_webhook_requests_total",
		Help: "Conversion requests handled, by outcome.",
	}, []string{"outcome"})

	conversionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conversion_webhook_conversions_total",
		Help: "Individual object conversions, by outcome.",
	}, []string{"outcome"})

	batchObjects = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "conversion_webhook_batch_objects",
		Help:    "Number of objects per conversion request.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	conversionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "conversion_webhook_conversion_duration_seconds",
		Help:    "Wall time of individual object conversions.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		requestsTotal,
		conversionsTotal,
		batchObjects,
		conversionDuration,
	)
}
