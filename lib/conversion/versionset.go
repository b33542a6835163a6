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

package conversion

import (
	"fmt"

	cerrors "github.com/tigera/libconversion-go/lib/errors"
)

// VersionInfo describes one version supported by a resource kind.
type VersionInfo struct {
	Name string `json:"name" validate:"required"`

	// Served indicates the version is reachable through the read/write API.
	Served bool `json:"served"`

	// Storage indicates this is the canonical persisted encoding.  Exactly
	// one version in a set must have it.
	Storage bool `json:"storage"`
}

// VersionSet is the full set of versions a resource kind supports.
type VersionSet []VersionInfo

// Validate checks the structural invariants of the set: non-empty, no
// duplicate names, exactly one storage version.
func (vs VersionSet) Validate() error {
	if len(vs) == 0 {
		return cerrors.ErrorValidation{Reason: "version set is empty"}
	}
	seen := map[string]bool{}
	storage := 0
	for _, v := range vs {
		if v.Name == "" {
			return cerrors.ErrorValidation{Reason: "version set contains an unnamed version"}
		}
		if seen[v.Name] {
			return cerrors.ErrorValidation{Reason: fmt.Sprintf("version %s appears twice in the version set", v.Name)}
		}
		seen[v.Name] = true
		if v.Storage {
			storage++
		}
	}
	if storage != 1 {
		return cerrors.ErrorValidation{Reason: fmt.Sprintf("version set must have exactly one storage version, found %d", storage)}
	}
	return nil
}

// StorageVersion returns the name of the single storage version.
func (vs VersionSet) StorageVersion() (string, error) {
	for _, v := range vs {
		if v.Storage {
			return v.Name, nil
		}
	}
	return "", cerrors.ErrorValidation{Reason: "version set has no storage version"}
}

// Names returns the version names in declared order.
func (vs VersionSet) Names() []string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.Name
	}
	return names
}

// Contains returns whether the named version is a member of the set.
func (vs VersionSet) Contains(name string) bool {
	for _, v := range vs {
		if v.Name == name {
			return true
		}
	}
	return false
}
