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

package webhook_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tigera/libconversion-go/lib/backend/model"
	"github.com/tigera/libconversion-go/lib/conversion"
	"github.com/tigera/libconversion-go/lib/webhook"
)

// widgetGraphs builds a validated graph for kind Widget over the chain
// v1alpha1 - v1beta1 - v1, restamping apiVersion at each hop.
func widgetGraphs() map[string]*conversion.Graph {
	restamp := func(to string) conversion.ConvertFunc {
		return func(obj *model.RawObject) (*model.RawObject, error) {
			return obj.WithAPIVersion(to)
		}
	}
	g := conversion.NewGraph()
	Expect(g.Register(conversion.NewEdge("v1alpha1", "v1beta1", restamp("v1beta1"), restamp("v1alpha1")))).NotTo(HaveOccurred())
	Expect(g.Register(conversion.NewEdge("v1beta1", "v1", restamp("v1"), restamp("v1beta1")))).NotTo(HaveOccurred())
	Expect(g.Validate(conversion.VersionSet{
		{Name: "v1", Served: true, Storage: true},
		{Name: "v1beta1", Served: true},
		{Name: "v1alpha1", Served: true},
	})).NotTo(HaveOccurred())
	return map[string]*conversion.Graph{"Widget": g}
}

func rawWidget(version, name string) model.RawObject {
	return *model.NewRawObject([]byte(
		`{"apiVersion":"example.org/` + version + `","kind":"Widget","metadata":{"name":"` + name + `"}}`))
}

var _ = Describe("Handler", func() {
	var h *webhook.Handler

	BeforeEach(func() {
		h = webhook.NewHandler(widgetGraphs(), 4)
	})

	It("should convert a batch and copy the correlation identifier verbatim", func() {
		req := webhook.NewConversionRequest("v1", []model.RawObject{
			rawWidget("v1alpha1", "a"),
			rawWidget("v1beta1", "b"),
			rawWidget("v1", "c"),
		})
		resp := h.Handle(context.Background(), req)
		Expect(resp.UID).To(Equal(req.UID))
		Expect(resp.Results).To(HaveLen(3))
		for i, result := range resp.Results {
			Expect(result.Error).To(BeNil(), "item %d", i)
			version, err := result.ConvertedObject.APIVersion()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal("v1"))
		}

		// Conversion preserves per-object identity and order.
		var decoded struct {
			Metadata struct {
				Name string `json:"name"`
			} `json:"metadata"`
		}
		Expect(json.Unmarshal(resp.Results[1].ConvertedObject.Raw, &decoded)).NotTo(HaveOccurred())
		Expect(decoded.Metadata.Name).To(Equal("b"))
	})

	It("should isolate a failing item without dropping any part of the batch", func() {
		req := webhook.NewConversionRequest("v1", []model.RawObject{
			rawWidget("v1alpha1", "a"),
			rawWidget("v9", "poisoned"), // not a registered version
			rawWidget("v1beta1", "c"),
		})
		resp := h.Handle(context.Background(), req)
		Expect(resp.Results).To(HaveLen(3))

		Expect(resp.Results[0].ConvertedObject).NotTo(BeNil())
		Expect(resp.Results[0].Error).To(BeNil())

		Expect(resp.Results[1].ConvertedObject).To(BeNil())
		Expect(resp.Results[1].Error).NotTo(BeNil())
		Expect(resp.Results[1].Error.Reason).To(ContainSubstring("unknown version"))

		Expect(resp.Results[2].ConvertedObject).NotTo(BeNil())
		Expect(resp.Results[2].Error).To(BeNil())
	})

	It("should fail items of unregistered kinds individually", func() {
		req := webhook.NewConversionRequest("v1", []model.RawObject{
			*model.NewRawObject([]byte(`{"apiVersion":"example.org/v1beta1","kind":"Gadget","metadata":{"name":"g"}}`)),
			rawWidget("v1beta1", "w"),
		})
		resp := h.Handle(context.Background(), req)
		Expect(resp.Results).To(HaveLen(2))
		Expect(resp.Results[0].Error).NotTo(BeNil())
		Expect(resp.Results[0].Error.Reason).To(ContainSubstring("Gadget"))
		Expect(resp.Results[1].Error).To(BeNil())
	})

	It("should fail items with undecodable or missing type metadata", func() {
		req := webhook.NewConversionRequest("v1", []model.RawObject{
			*model.NewRawObject([]byte(`"not an object"`)),
			*model.NewRawObject([]byte(`{"metadata":{"name":"untyped"}}`)),
		})
		resp := h.Handle(context.Background(), req)
		Expect(resp.Results).To(HaveLen(2))
		Expect(resp.Results[0].Error).NotTo(BeNil())
		Expect(resp.Results[1].Error).NotTo(BeNil())
	})

	It("should answer a structurally invalid request with a positionally complete response", func() {
		req := &webhook.ConversionRequest{
			// Missing UID and desired version.
			Objects: []model.RawObject{rawWidget("v1beta1", "a"), rawWidget("v1", "b")},
		}
		resp := h.Handle(context.Background(), req)
		Expect(resp.Results).To(HaveLen(2))
		for _, result := range resp.Results {
			Expect(result.Error).NotTo(BeNil())
		}
	})

	It("should return an empty result list for an empty batch", func() {
		req := webhook.NewConversionRequest("v1", nil)
		resp := h.Handle(context.Background(), req)
		Expect(resp.Results).To(BeEmpty())
	})

	It("should leave objects already at the desired version untouched", func() {
		obj := rawWidget("v1", "same")
		req := webhook.NewConversionRequest("v1", []model.RawObject{obj})
		resp := h.Handle(context.Background(), req)
		Expect(resp.Results[0].Error).To(BeNil())
		Expect(resp.Results[0].ConvertedObject.Raw).To(Equal(obj.Raw))
	})
})
