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
	"github.com/tigera/libconversion-go/lib/backend/model"
)

// Edge is an author-supplied pairwise converter between two adjacent API
// versions.  Versions() returns the pair (a, b); Upgrade maps an object
// encoded at a to one encoded at b, and Downgrade maps b back to a.  Both
// functions must be pure and total on valid input; the engine only invokes
// them, it never inspects what they do to the payload.  In particular,
// whether un-round-trippable data is stashed in side-channel metadata on
// Downgrade is the edge's own policy.
type Edge interface {
	Versions() (a, b string)
	Upgrade(obj *model.RawObject) (*model.RawObject, error)
	Downgrade(obj *model.RawObject) (*model.RawObject, error)
}

// ConvertFunc is a single directed conversion function.
type ConvertFunc func(obj *model.RawObject) (*model.RawObject, error)

// funcEdge implements Edge over a pair of functions.  Most schema version
// modules register their converters through NewEdge rather than implementing
// Edge themselves.
type funcEdge struct {
	a, b      string
	upgrade   ConvertFunc
	downgrade ConvertFunc
}

// NewEdge returns an Edge between versions a and b where upgrade maps a to b
// and downgrade maps b to a.
func NewEdge(a, b string, upgrade, downgrade ConvertFunc) Edge {
	return &funcEdge{a: a, b: b, upgrade: upgrade, downgrade: downgrade}
}

func (e *funcEdge) Versions() (string, string) {
	return e.a, e.b
}

func (e *funcEdge) Upgrade(obj *model.RawObject) (*model.RawObject, error) {
	return e.upgrade(obj)
}

func (e *funcEdge) Downgrade(obj *model.RawObject) (*model.RawObject, error) {
	return e.downgrade(obj)
}
