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

package migrator_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/coreos/go-semver/semver"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tigera/libconversion-go/lib/backend/api"
	"github.com/tigera/libconversion-go/lib/backend/memory"
	"github.com/tigera/libconversion-go/lib/backend/model"
	"github.com/tigera/libconversion-go/lib/conversion"
	cerrors "github.com/tigera/libconversion-go/lib/errors"
	"github.com/tigera/libconversion-go/lib/migrator"
)

const kindWidget = "Widget"

var widgetVersions = conversion.VersionSet{
	{Name: "v1", Served: true, Storage: true},
	{Name: "v1beta1", Served: true},
	{Name: "v1alpha1", Served: true},
}

// newWidgetGraph builds a validated v1alpha1 - v1beta1 - v1 chain whose edges
// restamp the apiVersion and bump the shared hop counter.
func newWidgetGraph(hops *int64) *conversion.Graph {
	restamp := func(to string) conversion.ConvertFunc {
		return func(obj *model.RawObject) (*model.RawObject, error) {
			atomic.AddInt64(hops, 1)
			return obj.WithAPIVersion(to)
		}
	}
	g := conversion.NewGraph()
	Expect(g.Register(conversion.NewEdge("v1alpha1", "v1beta1", restamp("v1beta1"), restamp("v1alpha1")))).NotTo(HaveOccurred())
	Expect(g.Register(conversion.NewEdge("v1beta1", "v1", restamp("v1"), restamp("v1beta1")))).NotTo(HaveOccurred())
	Expect(g.Validate(widgetVersions)).NotTo(HaveOccurred())
	return g
}

func newWidgetMigrator(client *memory.MemoryClient, hops *int64) *migrator.Migrator {
	return migrator.New(migrator.Config{
		Client:      client,
		Locker:      client,
		Graphs:      map[string]*conversion.Graph{kindWidget: newWidgetGraph(hops)},
		VersionSets: map[string]conversion.VersionSet{kindWidget: widgetVersions},
		Workers:     2,
		MaxPasses:   3,
	})
}

func seedWidget(client api.Client, version, name string) {
	obj := model.NewRawObject([]byte(
		`{"apiVersion":"example.org/` + version + `","kind":"Widget","metadata":{"name":"` + name + `"}}`))
	_, err := client.Create(context.Background(), &model.KVPair{
		Key:    model.ResourceKey{Kind: kindWidget, Name: name},
		Object: obj,
	})
	Expect(err).NotTo(HaveOccurred())
}

func widgetVersion(client api.Client, name string) string {
	kv, err := client.Get(context.Background(), model.ResourceKey{Kind: kindWidget, Name: name})
	Expect(err).NotTo(HaveOccurred())
	version, err := kv.Object.APIVersion()
	Expect(err).NotTo(HaveOccurred())
	return version
}

func runToCompletion(m *migrator.Migrator, kind string) *migrator.Run {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	run, err := m.Start(ctx, kind)
	Expect(err).NotTo(HaveOccurred())
	Expect(run.Wait(ctx)).NotTo(HaveOccurred())
	Expect(run.Status()).To(Equal(migrator.StateDone))
	return run
}

var _ = Describe("Migrator", func() {
	var client *memory.MemoryClient
	var hops int64

	BeforeEach(func() {
		client = memory.NewMemoryClient()
		hops = 0
	})

	It("should rewrite every object to the storage version and record bookkeeping", func() {
		seedWidget(client, "v1alpha1", "a")
		seedWidget(client, "v1beta1", "b")
		seedWidget(client, "v1", "c")

		m := newWidgetMigrator(client, &hops)
		runToCompletion(m, kindWidget)

		Expect(widgetVersion(client, "a")).To(Equal("v1"))
		Expect(widgetVersion(client, "b")).To(Equal("v1"))
		Expect(widgetVersion(client, "c")).To(Equal("v1"))
		// a took two hops, b one, c none.
		Expect(atomic.LoadInt64(&hops)).To(Equal(int64(3)))

		kv, err := client.Get(context.Background(), model.StorageVersionKey{Kind: kindWidget})
		Expect(err).NotTo(HaveOccurred())
		var bookkeeping struct {
			StorageVersion     string   `json:"storageVersion"`
			ReferencedVersions []string `json:"referencedVersions"`
		}
		Expect(json.Unmarshal(kv.Object.Raw, &bookkeeping)).NotTo(HaveOccurred())
		Expect(bookkeeping.StorageVersion).To(Equal("v1"))
		Expect(bookkeeping.ReferencedVersions).To(Equal([]string{"v1"}))

		// The checkpoint is gone once the run completes.
		_, err = client.Get(context.Background(), model.MigrationCursorKey{Kind: kindWidget})
		Expect(err).To(BeAssignableToTypeOf(cerrors.ErrorResourceDoesNotExist{}))
	})

	It("should be a no-op on a second run over an already-migrated kind", func() {
		seedWidget(client, "v1alpha1", "a")
		m := newWidgetMigrator(client, &hops)
		runToCompletion(m, kindWidget)
		first := atomic.LoadInt64(&hops)

		runToCompletion(m, kindWidget)
		Expect(atomic.LoadInt64(&hops)).To(Equal(first))
	})

	It("should not reconvert objects confirmed by a persisted checkpoint", func() {
		seedWidget(client, "v1beta1", "confirmed")
		seedWidget(client, "v1beta1", "pending")

		// Checkpoint left behind by an interrupted earlier run that had
		// already written "confirmed".
		cursorObj, err := model.MarshalRawObject(map[string]interface{}{
			"kind":         "MigrationCursor",
			"apiVersion":   "conversion.tigera.io/v1",
			"resourceKind": kindWidget,
			"pass":         0,
			"written":      []string{"confirmed"},
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = client.Apply(context.Background(), &model.KVPair{
			Key:    model.MigrationCursorKey{Kind: kindWidget},
			Object: cursorObj,
		})
		Expect(err).NotTo(HaveOccurred())

		m := newWidgetMigrator(client, &hops)
		runToCompletion(m, kindWidget)

		// Only "pending" was converted; "confirmed" was trusted and skipped.
		Expect(atomic.LoadInt64(&hops)).To(Equal(int64(1)))
		Expect(widgetVersion(client, "confirmed")).To(Equal("v1beta1"))
		Expect(widgetVersion(client, "pending")).To(Equal("v1"))
	})

	It("should defer conflicting writes to a later pass instead of clobbering them", func() {
		seedWidget(client, "v1alpha1", "contended")
		seedWidget(client, "v1beta1", "quiet")

		wrapped := &conflictOnFirstUpdate{Client: client, name: "contended"}
		m := migrator.New(migrator.Config{
			Client:      wrapped,
			Locker:      client,
			Graphs:      map[string]*conversion.Graph{kindWidget: newWidgetGraph(&hops)},
			VersionSets: map[string]conversion.VersionSet{kindWidget: widgetVersions},
			Workers:     2,
			MaxPasses:   3,
		})
		runToCompletion(m, kindWidget)

		Expect(widgetVersion(client, "contended")).To(Equal("v1"))
		Expect(widgetVersion(client, "quiet")).To(Equal("v1"))
		Expect(atomic.LoadInt64(&wrapped.conflicts)).To(Equal(int64(1)))
	})

	It("should fail and checkpoint when cancelled, then resume to completion", func() {
		seedWidget(client, "v1beta1", "a")
		seedWidget(client, "v1beta1", "b")

		gate := make(chan struct{})
		var converted int64
		g := conversion.NewGraph()
		blockingRestamp := func(obj *model.RawObject) (*model.RawObject, error) {
			if atomic.AddInt64(&converted, 1) == 1 {
				<-gate
			}
			return obj.WithAPIVersion("v1")
		}
		identity := func(obj *model.RawObject) (*model.RawObject, error) { return obj, nil }
		Expect(g.Register(conversion.NewEdge("v1beta1", "v1", blockingRestamp, identity))).NotTo(HaveOccurred())
		Expect(g.Validate(conversion.VersionSet{
			{Name: "v1", Served: true, Storage: true},
			{Name: "v1beta1", Served: true},
		})).NotTo(HaveOccurred())

		m := migrator.New(migrator.Config{
			Client:      client,
			Locker:      client,
			Graphs:      map[string]*conversion.Graph{kindWidget: g},
			VersionSets: map[string]conversion.VersionSet{kindWidget: widgetVersions},
			Workers:     1,
			MaxPasses:   3,
		})

		ctx, cancel := context.WithCancel(context.Background())
		run, err := m.Start(ctx, kindWidget)
		Expect(err).NotTo(HaveOccurred())

		// Cancel while the first object's conversion is in flight, then let
		// it finish.
		Eventually(func() int64 { return atomic.LoadInt64(&converted) }).Should(BeNumerically(">=", 1))
		cancel()
		close(gate)

		waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer waitCancel()
		err = run.Wait(waitCtx)
		Expect(err).To(HaveOccurred())
		Expect(run.Status()).To(Equal(migrator.StateFailed))
		Expect(err).To(BeAssignableToTypeOf(cerrors.ErrorMigrationAborted{}))

		// The checkpoint survived the failure.
		_, err = client.Get(context.Background(), model.MigrationCursorKey{Kind: kindWidget})
		Expect(err).NotTo(HaveOccurred())

		// Resuming finishes the job.
		resumeCtx, resumeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer resumeCancel()
		Expect(m.Resume(resumeCtx, run)).NotTo(HaveOccurred())
		Expect(run.Wait(resumeCtx)).NotTo(HaveOccurred())
		Expect(run.Status()).To(Equal(migrator.StateDone))
		Expect(widgetVersion(client, "a")).To(Equal("v1"))
		Expect(widgetVersion(client, "b")).To(Equal("v1"))
	})

	It("should refuse a second run for a kind whose run is in flight", func() {
		seedWidget(client, "v1beta1", "a")

		gate := make(chan struct{})
		started := make(chan struct{})
		var once int64
		g := conversion.NewGraph()
		slowRestamp := func(obj *model.RawObject) (*model.RawObject, error) {
			if atomic.AddInt64(&once, 1) == 1 {
				close(started)
				<-gate
			}
			return obj.WithAPIVersion("v1")
		}
		identity := func(obj *model.RawObject) (*model.RawObject, error) { return obj, nil }
		Expect(g.Register(conversion.NewEdge("v1beta1", "v1", slowRestamp, identity))).NotTo(HaveOccurred())
		Expect(g.Validate(conversion.VersionSet{
			{Name: "v1", Served: true, Storage: true},
			{Name: "v1beta1", Served: true},
		})).NotTo(HaveOccurred())

		m := migrator.New(migrator.Config{
			Client:      client,
			Locker:      client,
			Graphs:      map[string]*conversion.Graph{kindWidget: g},
			VersionSets: map[string]conversion.VersionSet{kindWidget: widgetVersions},
			Workers:     1,
			MaxPasses:   3,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		run, err := m.Start(ctx, kindWidget)
		Expect(err).NotTo(HaveOccurred())
		<-started

		_, err = m.Start(ctx, kindWidget)
		Expect(err).To(HaveOccurred())
		Expect(err).To(BeAssignableToTypeOf(cerrors.ErrorValidation{}))

		close(gate)
		Expect(run.Wait(ctx)).NotTo(HaveOccurred())
	})

	It("should refuse to run against a datastore older than the minimum version", func() {
		seedWidget(client, "v1beta1", "a")
		versionObj, err := model.MarshalRawObject(map[string]string{"version": "0.9.0"})
		Expect(err).NotTo(HaveOccurred())
		_, err = client.Apply(context.Background(), &model.KVPair{
			Key:    model.ClusterVersionKey{},
			Object: versionObj,
		})
		Expect(err).NotTo(HaveOccurred())

		m := migrator.New(migrator.Config{
			Client:              client,
			Locker:              client,
			Graphs:              map[string]*conversion.Graph{kindWidget: newWidgetGraph(&hops)},
			VersionSets:         map[string]conversion.VersionSet{kindWidget: widgetVersions},
			Workers:             1,
			MaxPasses:           3,
			MinDatastoreVersion: semver.New("1.0.0"),
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		run, err := m.Start(ctx, kindWidget)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Wait(ctx)).To(HaveOccurred())
		Expect(run.Status()).To(Equal(migrator.StateFailed))
		Expect(atomic.LoadInt64(&hops)).To(BeZero())
		Expect(widgetVersion(client, "a")).To(Equal("v1beta1"))
	})

	It("should allow a run when no datastore version is recorded", func() {
		seedWidget(client, "v1beta1", "a")
		m := migrator.New(migrator.Config{
			Client:              client,
			Locker:              client,
			Graphs:              map[string]*conversion.Graph{kindWidget: newWidgetGraph(&hops)},
			VersionSets:         map[string]conversion.VersionSet{kindWidget: widgetVersions},
			Workers:             1,
			MaxPasses:           3,
			MinDatastoreVersion: semver.New("1.0.0"),
		})
		runToCompletion(m, kindWidget)
		Expect(widgetVersion(client, "a")).To(Equal("v1"))
	})

	It("should fail the run when an object cannot be converted", func() {
		seedWidget(client, "v1alpha1", "stranded")

		// Graph covering only v1beta1 - v1; v1alpha1 is not registered, so
		// the stranded object has no path and must not be copied forward.
		g := conversion.NewGraph()
		restamp := func(to string) conversion.ConvertFunc {
			return func(obj *model.RawObject) (*model.RawObject, error) {
				return obj.WithAPIVersion(to)
			}
		}
		Expect(g.Register(conversion.NewEdge("v1beta1", "v1", restamp("v1"), restamp("v1beta1")))).NotTo(HaveOccurred())
		Expect(g.Validate(conversion.VersionSet{
			{Name: "v1", Served: true, Storage: true},
			{Name: "v1beta1", Served: true},
		})).NotTo(HaveOccurred())

		m := migrator.New(migrator.Config{
			Client: client,
			Locker: client,
			Graphs: map[string]*conversion.Graph{kindWidget: g},
			VersionSets: map[string]conversion.VersionSet{kindWidget: conversion.VersionSet{
				{Name: "v1", Served: true, Storage: true},
				{Name: "v1beta1", Served: true},
			}},
			Workers:   1,
			MaxPasses: 3,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		run, err := m.Start(ctx, kindWidget)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Wait(ctx)).To(HaveOccurred())
		Expect(run.Status()).To(Equal(migrator.StateFailed))
		Expect(widgetVersion(client, "stranded")).To(Equal("v1alpha1"))
	})
})

// conflictOnFirstUpdate fails the first Update of a named object with a write
// conflict, simulating a concurrent writer, then behaves normally.
type conflictOnFirstUpdate struct {
	api.Client
	name      string
	conflicts int64
}

func (c *conflictOnFirstUpdate) Update(ctx context.Context, d *model.KVPair) (*model.KVPair, error) {
	if key, ok := d.Key.(model.ResourceKey); ok && key.Name == c.name {
		if atomic.AddInt64(&c.conflicts, 1) == 1 {
			return nil, cerrors.ErrorResourceUpdateConflict{Identifier: d.Key}
		}
	}
	return c.Client.Update(ctx, d)
}
