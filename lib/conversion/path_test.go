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

package conversion_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tigera/libconversion-go/lib/backend/model"
	"github.com/tigera/libconversion-go/lib/conversion"
	cerrors "github.com/tigera/libconversion-go/lib/errors"
)

func widgetAt(version string) *model.RawObject {
	return model.NewRawObject([]byte(`{"apiVersion":"` + version + `","kind":"Widget","metadata":{"name":"w"}}`))
}

var _ = Describe("Convert", func() {
	var hops []string
	var g *conversion.Graph

	BeforeEach(func() {
		hops = nil
		g = conversion.NewGraph()
		Expect(g.Register(passthroughEdge("v1alpha1", "v1beta1", &hops))).NotTo(HaveOccurred())
		Expect(g.Register(passthroughEdge("v1beta1", "v1", &hops))).NotTo(HaveOccurred())
		Expect(g.Validate(servedVersions("v1", "v1beta1", "v1alpha1"))).NotTo(HaveOccurred())
	})

	It("should return the object unchanged when source and target match", func() {
		obj := widgetAt("v1")
		out, err := g.Convert(context.Background(), obj, "v1", "v1")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(BeIdenticalTo(obj))
		Expect(hops).To(BeEmpty())
	})

	It("should compose exactly two hops in order across a 3-node chain", func() {
		out, err := g.Convert(context.Background(), widgetAt("v1alpha1"), "v1alpha1", "v1")
		Expect(err).NotTo(HaveOccurred())
		Expect(hops).To(Equal([]string{"v1alpha1->v1beta1", "v1beta1->v1"}))

		version, err := out.APIVersion()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal("v1"))
	})

	It("should walk the chain downward using the downgrade direction", func() {
		out, err := g.Convert(context.Background(), widgetAt("v1"), "v1", "v1alpha1")
		Expect(err).NotTo(HaveOccurred())
		Expect(hops).To(Equal([]string{"v1->v1beta1", "v1beta1->v1alpha1"}))

		version, err := out.APIVersion()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal("v1alpha1"))
	})

	It("should fail with UnknownVersion for endpoints not in the graph", func() {
		_, err := g.Convert(context.Background(), widgetAt("v9"), "v9", "v1")
		Expect(err).To(Equal(cerrors.ErrorUnknownVersion{Version: "v9"}))

		_, err = g.Convert(context.Background(), widgetAt("v1"), "v1", "v9")
		Expect(err).To(Equal(cerrors.ErrorUnknownVersion{Version: "v9"}))
	})

	It("should terminate for every pair in the validated set", func() {
		versions := []string{"v1", "v1beta1", "v1alpha1"}
		for _, from := range versions {
			for _, to := range versions {
				out, err := g.Convert(context.Background(), widgetAt(from), from, to)
				Expect(err).NotTo(HaveOccurred(), "convert %s -> %s", from, to)

				// And back again: path existence, not byte equality.
				_, err = g.Convert(context.Background(), out, to, from)
				Expect(err).NotTo(HaveOccurred(), "convert %s -> %s", to, from)
			}
		}
	})
})

var _ = Describe("Convert failure propagation", func() {
	It("should abort on the first failing hop and preserve the cause", func() {
		var hops []string
		cause := errors.New("spec field widgetColour cannot be represented")
		g := conversion.NewGraph()
		Expect(g.Register(passthroughEdge("v1alpha1", "v1beta1", &hops))).NotTo(HaveOccurred())
		Expect(g.Register(conversion.NewEdge("v1beta1", "v1",
			func(obj *model.RawObject) (*model.RawObject, error) { return nil, cause },
			func(obj *model.RawObject) (*model.RawObject, error) { return nil, cause },
		))).NotTo(HaveOccurred())
		Expect(g.Validate(servedVersions("v1", "v1beta1", "v1alpha1"))).NotTo(HaveOccurred())

		_, err := g.Convert(context.Background(), widgetAt("v1alpha1"), "v1alpha1", "v1")
		Expect(err).To(BeAssignableToTypeOf(cerrors.ErrorConversionFailed{}))
		failure := err.(cerrors.ErrorConversionFailed)
		Expect(failure.FailedAtVersion).To(Equal("v1"))
		Expect(failure.Err).To(Equal(cause))

		// The first hop ran, nothing after the failure did.
		Expect(hops).To(Equal([]string{"v1alpha1->v1beta1"}))
	})

	It("should time out an edge function that loops", func() {
		g := conversion.NewGraph()
		g.SetHopTimeout(50 * time.Millisecond)
		Expect(g.Register(conversion.NewEdge("v1beta1", "v1",
			func(obj *model.RawObject) (*model.RawObject, error) {
				select {} // never returns
			},
			func(obj *model.RawObject) (*model.RawObject, error) { return obj, nil },
		))).NotTo(HaveOccurred())
		Expect(g.Validate(servedVersions("v1", "v1beta1"))).NotTo(HaveOccurred())

		_, err := g.Convert(context.Background(), widgetAt("v1beta1"), "v1beta1", "v1")
		Expect(err).To(BeAssignableToTypeOf(cerrors.ErrorConversionFailed{}))
	})
})

var _ = Describe("Path", func() {
	It("should pick shortest paths and break ties deterministically", func() {
		// Diamond: v1alpha1 connects to both betas, both betas connect to v1.
		g := conversion.NewGraph()
		Expect(g.Register(passthroughEdge("v1alpha1", "v1beta1", nil))).NotTo(HaveOccurred())
		Expect(g.Register(passthroughEdge("v1alpha1", "v1beta2", nil))).NotTo(HaveOccurred())
		Expect(g.Register(passthroughEdge("v1beta1", "v1", nil))).NotTo(HaveOccurred())
		Expect(g.Register(passthroughEdge("v1beta2", "v1", nil))).NotTo(HaveOccurred())
		Expect(g.Validate(servedVersions("v1", "v1beta2", "v1beta1", "v1alpha1"))).NotTo(HaveOccurred())

		// Both routes are two hops; the higher-ordered next hop (v1beta2)
		// wins, and repeated calls agree.
		first, err := g.Path("v1alpha1", "v1")
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(Equal([]string{"v1alpha1", "v1beta2", "v1"}))
		for i := 0; i < 10; i++ {
			path, err := g.Path("v1alpha1", "v1")
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal(first))
		}
	})

	It("should return the single-element path for the identity case", func() {
		g := conversion.NewGraph()
		Expect(g.Validate(servedVersions("v1"))).NotTo(HaveOccurred())
		path, err := g.Path("v1", "v1")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal([]string{"v1"}))
	})
})
