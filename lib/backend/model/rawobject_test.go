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

package model_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tigera/libconversion-go/lib/backend/model"
)

var _ = Describe("RawObject", func() {
	It("should extract the version part of a grouped apiVersion", func() {
		obj := model.NewRawObject([]byte(`{"apiVersion":"example.org/v1beta1","kind":"Widget"}`))
		version, err := obj.APIVersion()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal("v1beta1"))
	})

	It("should accept an ungrouped apiVersion", func() {
		obj := model.NewRawObject([]byte(`{"apiVersion":"v1","kind":"Widget"}`))
		version, err := obj.APIVersion()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal("v1"))
	})

	It("should error on a missing apiVersion", func() {
		obj := model.NewRawObject([]byte(`{"kind":"Widget"}`))
		_, err := obj.APIVersion()
		Expect(err).To(HaveOccurred())
	})

	It("should error on an undecodable payload", func() {
		obj := model.NewRawObject([]byte(`"just a string"`))
		_, err := obj.APIVersion()
		Expect(err).To(HaveOccurred())
	})

	It("should restamp the version while preserving the group and payload", func() {
		obj := model.NewRawObject([]byte(
			`{"apiVersion":"example.org/v1beta1","kind":"Widget","spec":{"maxWidgets":3}}`))
		restamped, err := obj.WithAPIVersion("v1")
		Expect(err).NotTo(HaveOccurred())
		Expect(restamped.Raw).To(MatchJSON(
			`{"apiVersion":"example.org/v1","kind":"Widget","spec":{"maxWidgets":3}}`))

		// The original is untouched.
		version, err := obj.APIVersion()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal("v1beta1"))
	})

	It("should marshal as its raw encoding and unmarshal back", func() {
		type envelope struct {
			Object model.RawObject `json:"object"`
		}
		in := envelope{Object: *model.NewRawObject([]byte(`{"apiVersion":"v1","kind":"Widget"}`))}
		data, err := json.Marshal(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(MatchJSON(`{"object":{"apiVersion":"v1","kind":"Widget"}}`))

		var out envelope
		Expect(json.Unmarshal(data, &out)).NotTo(HaveOccurred())
		Expect(out.Object.Raw).To(MatchJSON(in.Object.Raw))
	})
})

var _ = Describe("Keys", func() {
	It("should build and parse resource paths", func() {
		key := model.ResourceKey{Kind: "Widget", Name: "a"}
		path, err := key.DefaultPath()
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal("/conversion/resources/widget/a"))

		l := model.ResourceListOptions{Kind: "Widget"}
		Expect(l.KeyFromDefaultPath(path)).To(Equal(key))
	})

	It("should not parse paths of a different kind", func() {
		l := model.ResourceListOptions{Kind: "Widget"}
		Expect(l.KeyFromDefaultPath("/conversion/resources/gadget/a")).To(BeNil())
	})

	It("should reject an incomplete resource key", func() {
		_, err := model.ResourceKey{Kind: "Widget"}.DefaultPath()
		Expect(err).To(HaveOccurred())
	})
})
