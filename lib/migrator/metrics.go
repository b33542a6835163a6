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

package migrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	objectsMigrated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conversion_migration_objects_total",
		Help: "Objects rewritten to the storage version, per resource kind.",
	}, []string{"kind"})

	conflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conversion_migration_conflicts_total",
		Help: "Optimistic write conflicts deferred to a later pass, per resource kind.",
	}, []string{"kind"})

	runState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conversion_migration_state",
		Help: "Current migration run state per resource kind (0 Idle, 1 Scanning, 2 Converting, 3 Finalizing, 4 Done, -1 Failed).",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(objectsMigrated, conflictsTotal, runState)
}

func stateValue(s State) float64 {
	switch s {
	case StateScanning:
		return 1
	case StateConverting:
		return 2
	case StateFinalizing:
		return 3
	case StateDone:
		return 4
	case StateFailed:
		return -1
	default:
		return 0
	}
}
