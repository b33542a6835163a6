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

package model

import (
	"encoding/json"
	"errors"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// RawObject is an opaque typed+versioned encoded object.  The embedded type
// metadata (apiVersion/kind) is the source of truth for the object's current
// version; nothing else about the encoding is interpreted by the engine.
//
// RawObject marshals as the raw encoding itself, so it embeds directly in
// request and response payloads.
type RawObject struct {
	Raw []byte
}

// metaOnly decodes just the type and object metadata from the raw encoding.
type metaOnly struct {
	metav1.TypeMeta `json:",inline"`
	Metadata        struct {
		Name            string `json:"name"`
		ResourceVersion string `json:"resourceVersion"`
	} `json:"metadata"`
}

// NewRawObject wraps an encoded object.  The bytes are owned by the returned
// RawObject and must not be mutated by the caller.
func NewRawObject(raw []byte) *RawObject {
	return &RawObject{Raw: raw}
}

// MarshalRawObject encodes an arbitrary value as a RawObject.
func MarshalRawObject(v interface{}) (*RawObject, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &RawObject{Raw: raw}, nil
}

func (r RawObject) MarshalJSON() ([]byte, error) {
	if r.Raw == nil {
		return []byte("null"), nil
	}
	return r.Raw, nil
}

func (r *RawObject) UnmarshalJSON(data []byte) error {
	if r == nil {
		return errors.New("RawObject: UnmarshalJSON on nil pointer")
	}
	r.Raw = append(r.Raw[0:0], data...)
	return nil
}

// TypeMeta returns the embedded type metadata.  Errors if the encoding is not
// a JSON object.
func (r *RawObject) TypeMeta() (metav1.TypeMeta, error) {
	var m metaOnly
	if err := json.Unmarshal(r.Raw, &m); err != nil {
		return metav1.TypeMeta{}, err
	}
	return m.TypeMeta, nil
}

// APIVersion returns the version part of the embedded apiVersion field
// ("v1beta1" for apiVersion "example.org/v1beta1" or plain "v1beta1").
// An empty or undecodable apiVersion returns an error; the version string
// itself is not checked for well-formedness here, the comparator handles
// malformed identifiers.
func (r *RawObject) APIVersion() (string, error) {
	tm, err := r.TypeMeta()
	if err != nil {
		return "", err
	}
	if tm.APIVersion == "" {
		return "", errors.New("object has no apiVersion")
	}
	gv, err := schema.ParseGroupVersion(tm.APIVersion)
	if err != nil {
		return "", err
	}
	return gv.Version, nil
}

// Kind returns the embedded kind field, which may be empty.
func (r *RawObject) Kind() (string, error) {
	tm, err := r.TypeMeta()
	if err != nil {
		return "", err
	}
	return tm.Kind, nil
}

// Name returns the embedded metadata.name field, which may be empty.
func (r *RawObject) Name() (string, error) {
	var m metaOnly
	if err := json.Unmarshal(r.Raw, &m); err != nil {
		return "", err
	}
	return m.Metadata.Name, nil
}

// WithAPIVersion returns a copy of the object with the version part of its
// apiVersion field replaced, preserving the group.  Used by conversion edges
// that only need to restamp type metadata after reshaping fields.
func (r *RawObject) WithAPIVersion(version string) (*RawObject, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(r.Raw, &obj); err != nil {
		return nil, err
	}
	current, _ := obj["apiVersion"].(string)
	gv, err := schema.ParseGroupVersion(current)
	if err != nil {
		return nil, err
	}
	gv.Version = version
	obj["apiVersion"] = gv.String()
	return MarshalRawObject(obj)
}
