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

// Package widget registers the conversion schema for the Widget example
// resource.  It demonstrates the pattern schema version modules follow:
// declare the version set and pairwise edges from init(), leaving graph
// construction and coverage validation to the daemon.
//
// Widget's schema history:
//   - v1alpha1 carried spec.limit
//   - v1beta1 renamed it to spec.maxWidgets
//   - v1 kept spec.maxWidgets and added spec.replicas (default 1)
package widget

import (
	"encoding/json"

	"github.com/tigera/libconversion-go/lib/backend/model"
	"github.com/tigera/libconversion-go/lib/conversion"
)

// KindWidget is the resource kind this package registers conversions for.
const KindWidget = "Widget"

// Versions supported by this build, newest first.
var Versions = conversion.VersionSet{
	{Name: "v1", Served: true, Storage: true},
	{Name: "v1beta1", Served: true},
	{Name: "v1alpha1", Served: true},
}

func init() {
	conversion.DefaultRegistry.MustRegisterVersionSet(KindWidget, Versions)
	conversion.DefaultRegistry.MustRegisterEdge(KindWidget, conversion.NewEdge(
		"v1alpha1", "v1beta1",
		reshape("v1beta1", renameField("limit", "maxWidgets")),
		reshape("v1alpha1", renameField("maxWidgets", "limit")),
	))
	conversion.DefaultRegistry.MustRegisterEdge(KindWidget, conversion.NewEdge(
		"v1beta1", "v1",
		reshape("v1", defaultField("replicas", float64(1))),
		reshape("v1beta1", dropField("replicas")),
	))
}

type specMutation func(spec map[string]interface{})

// reshape decodes the object, applies the spec mutations, and restamps the
// apiVersion to the target version.
func reshape(to string, mutations ...specMutation) conversion.ConvertFunc {
	return func(obj *model.RawObject) (*model.RawObject, error) {
		var decoded map[string]interface{}
		if err := json.Unmarshal(obj.Raw, &decoded); err != nil {
			return nil, err
		}
		spec, _ := decoded["spec"].(map[string]interface{})
		if spec == nil {
			spec = map[string]interface{}{}
		}
		for _, m := range mutations {
			m(spec)
		}
		decoded["spec"] = spec
		reshaped, err := model.MarshalRawObject(decoded)
		if err != nil {
			return nil, err
		}
		return reshaped.WithAPIVersion(to)
	}
}

func renameField(from, to string) specMutation {
	return func(spec map[string]interface{}) {
		if v, ok := spec[from]; ok {
			spec[to] = v
			delete(spec, from)
		}
	}
}

func defaultField(name string, value interface{}) specMutation {
	return func(spec map[string]interface{}) {
		if _, ok := spec[name]; !ok {
			spec[name] = value
		}
	}
}

func dropField(name string) specMutation {
	return func(spec map[string]interface{}) {
		delete(spec, name)
	}
}
