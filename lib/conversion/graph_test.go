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
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tigera/libconversion-go/lib/backend/model"
	"github.com/tigera/libconversion-go/lib/conversion"
	cerrors "github.com/tigera/libconversion-go/lib/errors"
)

// passthroughEdge returns an edge whose conversion functions restamp the
// apiVersion and record each invocation in hops.
func passthroughEdge(a, b string, hops *[]string) conversion.Edge {
	restamp := func(from, to string) conversion.ConvertFunc {
		return func(obj *model.RawObject) (*model.RawObject, error) {
			if hops != nil {
				*hops = append(*hops, from+"->"+to)
			}
			return obj.WithAPIVersion(to)
		}
	}
	return conversion.NewEdge(a, b, restamp(a, b), restamp(b, a))
}

func servedVersions(names ...string) conversion.VersionSet {
	vs := make(conversion.VersionSet, len(names))
	for i, n := range names {
		vs[i] = conversion.VersionInfo{Name: n, Served: true, Storage: i == 0}
	}
	return vs
}

var _ = Describe("Graph registration", func() {
	It("should reject a duplicate edge over the same pair", func() {
		g := conversion.NewGraph()
		Expect(g.Register(passthroughEdge("v1beta1", "v1", nil))).NotTo(HaveOccurred())
		err := g.Register(passthroughEdge("v1beta1", "v1", nil))
		Expect(err).To(BeAssignableToTypeOf(cerrors.ErrorDuplicateEdge{}))
	})

	It("should reject a duplicate edge registered in the opposite order", func() {
		g := conversion.NewGraph()
		Expect(g.Register(passthroughEdge("v1beta1", "v1", nil))).NotTo(HaveOccurred())
		err := g.Register(passthroughEdge("v1", "v1beta1", nil))
		Expect(err).To(BeAssignableToTypeOf(cerrors.ErrorDuplicateEdge{}))
	})

	It("should reject a self edge", func() {
		g := conversion.NewGraph()
		err := g.Register(passthroughEdge("v1", "v1", nil))
		Expect(err).To(BeAssignableToTypeOf(cerrors.ErrorValidation{}))
	})

	It("should reject registration after validation", func() {
		g := conversion.NewGraph()
		Expect(g.Register(passthroughEdge("v1beta1", "v1", nil))).NotTo(HaveOccurred())
		Expect(g.Validate(servedVersions("v1", "v1beta1"))).NotTo(HaveOccurred())
		Expect(g.Register(passthroughEdge("v1", "v2", nil))).To(HaveOccurred())
	})
})

var _ = Describe("Graph validation", func() {
	It("should accept a fully connected chain", func() {
		g := conversion.NewGraph()
		Expect(g.Register(passthroughEdge("v1alpha1", "v1beta1", nil))).NotTo(HaveOccurred())
		Expect(g.Register(passthroughEdge("v1beta1", "v1", nil))).NotTo(HaveOccurred())
		Expect(g.Validate(servedVersions("v1", "v1beta1", "v1alpha1"))).NotTo(HaveOccurred())
	})

	It("should accept a single-version set with no edges", func() {
		g := conversion.NewGraph()
		Expect(g.Validate(servedVersions("v1"))).NotTo(HaveOccurred())
	})

	It("should report every stranded version of a disconnected graph", func() {
		g := conversion.NewGraph()
		Expect(g.Register(passthroughEdge("v1", "v1beta1", nil))).NotTo(HaveOccurred())
		Expect(g.Register(passthroughEdge("v2", "v2beta1", nil))).NotTo(HaveOccurred())

		err := g.Validate(servedVersions("v1", "v1beta1", "v2", "v2beta1"))
		Expect(err).To(BeAssignableToTypeOf(cerrors.ErrorIncompleteCoverage{}))
		// Traversal starts from v1, so the v2 component is the stranded one.
		Expect(err.(cerrors.ErrorIncompleteCoverage).Unreachable).To(Equal([]string{"v2", "v2beta1"}))
	})

	It("should report a version with no edges at all as unreachable", func() {
		g := conversion.NewGraph()
		Expect(g.Register(passthroughEdge("v1beta1", "v1", nil))).NotTo(HaveOccurred())
		err := g.Validate(servedVersions("v1", "v1beta1", "v1alpha1"))
		Expect(err).To(BeAssignableToTypeOf(cerrors.ErrorIncompleteCoverage{}))
		Expect(err.(cerrors.ErrorIncompleteCoverage).Unreachable).To(Equal([]string{"v1alpha1"}))
	})

	It("should reject an edge naming a version outside the set", func() {
		g := conversion.NewGraph()
		Expect(g.Register(passthroughEdge("v1beta1", "v1", nil))).NotTo(HaveOccurred())
		Expect(g.Register(passthroughEdge("v1", "v9", nil))).NotTo(HaveOccurred())
		Expect(g.Validate(servedVersions("v1", "v1beta1"))).To(HaveOccurred())
	})

	It("should reject a set without exactly one storage version", func() {
		g := conversion.NewGraph()
		Expect(g.Register(passthroughEdge("v1beta1", "v1", nil))).NotTo(HaveOccurred())
		vs := conversion.VersionSet{
			{Name: "v1", Served: true, Storage: true},
			{Name: "v1beta1", Served: true, Storage: true},
		}
		Expect(g.Validate(vs)).To(HaveOccurred())
	})
})
