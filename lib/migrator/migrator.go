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

// Package migrator rewrites persisted objects of a resource kind from
// whatever versions they were stored at to the kind's current storage
// version, online, using the conversion graph for the rewrites and
// optimistic writes so concurrent mutations are never clobbered.
package migrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tigera/libconversion-go/lib/apiversion"
	"github.com/tigera/libconversion-go/lib/backend/api"
	"github.com/tigera/libconversion-go/lib/backend/model"
	"github.com/tigera/libconversion-go/lib/conversion"
	cerrors "github.com/tigera/libconversion-go/lib/errors"
	"github.com/tigera/libconversion-go/lib/logutils"
)

// State of a migration run.
type State string

const (
	StateIdle       State = "Idle"
	StateScanning   State = "Scanning"
	StateConverting State = "Converting"
	StateFinalizing State = "Finalizing"
	StateDone       State = "Done"
	StateFailed     State = "Failed"
)

const (
	kindStorageVersion = "StorageVersion"

	// Checkpoint the cursor after this many successful writes.
	checkpointEvery = 50
)

// Config for a Migrator.
type Config struct {
	Client api.Client
	Locker api.MigrationLocker

	// Validated conversion graph and version set per resource kind.
	Graphs      map[string]*conversion.Graph
	VersionSets map[string]conversion.VersionSet

	// Bounded parallelism for per-object conversion within a run.
	Workers int

	// Maximum write-conflict passes before the run gives up.
	MaxPasses int

	// Delay between conflict-retry passes.
	PassInterval time.Duration

	// If set, a run refuses to start against a datastore whose recorded
	// schema version is older than this.
	MinDatastoreVersion *semver.Version
}

// Migrator drives storage-version migrations, one run per resource kind at a
// time.
type Migrator struct {
	config Config

	mu   sync.Mutex
	runs map[string]*Run
}

// Run is the handle for a single migration run of one resource kind.
type Run struct {
	ID   string
	Kind string

	mu     sync.Mutex
	state  State
	err    error
	cursor *Cursor
	done   chan struct{}
}

// Status returns the run's current state.
func (r *Run) Status() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the error a Failed run stopped with.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the run reaches Done or Failed, or the context is
// cancelled.  Note that cancelling this context does not cancel the run;
// the run is cancelled through the context passed to Start or Resume.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	runState.WithLabelValues(r.Kind).Set(stateValue(s))
}

func (r *Run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateFailed
	r.err = err
	runState.WithLabelValues(r.Kind).Set(stateValue(StateFailed))
}

// New returns a Migrator over the supplied config.
func New(config Config) *Migrator {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.MaxPasses < 1 {
		config.MaxPasses = 5
	}
	return &Migrator{
		config: config,
		runs:   map[string]*Run{},
	}
}

// Start begins a migration run for a kind in the background and returns its
// handle.  A second Start for a kind whose run is still in flight fails.
// The context cancels the run cooperatively: cancellation is checked before
// each object, and a cancelled run ends Failed with its cursor intact for
// resumption.
func (m *Migrator) Start(ctx context.Context, kind string) (*Run, error) {
	graph, ok := m.config.Graphs[kind]
	if !ok {
		return nil, cerrors.ErrorValidation{Reason: fmt.Sprintf("no conversion graph for kind %s", kind)}
	}
	vs, ok := m.config.VersionSets[kind]
	if !ok {
		return nil, cerrors.ErrorValidation{Reason: fmt.Sprintf("no version set for kind %s", kind)}
	}
	storageVersion, err := vs.StorageVersion()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing := m.runs[kind]; existing != nil {
		state := existing.Status()
		if state != StateDone && state != StateFailed {
			m.mu.Unlock()
			return nil, cerrors.ErrorValidation{Reason: fmt.Sprintf("migration of %s already in flight", kind)}
		}
	}
	run := &Run{
		ID:    uuid.New().String(),
		Kind:  kind,
		state: StateIdle,
		done:  make(chan struct{}),
	}
	m.runs[kind] = run
	m.mu.Unlock()

	go m.execute(ctx, run, graph, storageVersion)
	return run, nil
}

// Resume restarts a Failed run, reusing its persisted cursor so confirmed
// objects are not reconverted.  Resuming a Done run is a no-op.
func (m *Migrator) Resume(ctx context.Context, run *Run) error {
	switch run.Status() {
	case StateDone:
		return nil
	case StateFailed:
	default:
		return cerrors.ErrorValidation{Reason: fmt.Sprintf("migration of %s is still in flight", run.Kind)}
	}

	graph := m.config.Graphs[run.Kind]
	vs := m.config.VersionSets[run.Kind]
	storageVersion, err := vs.StorageVersion()
	if err != nil {
		return err
	}

	run.mu.Lock()
	run.err = nil
	run.state = StateIdle
	run.done = make(chan struct{})
	run.mu.Unlock()

	go m.execute(ctx, run, graph, storageVersion)
	return nil
}

// Get returns the most recent run handle for a kind, if any.
func (m *Migrator) Get(kind string) *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[kind]
}

// objectRef is one scanned object awaiting conversion.
type objectRef struct {
	key      model.ResourceKey
	version  string
	revision string
	object   *model.RawObject
}

// execute drives a run through Scanning, Converting and Finalizing.
func (m *Migrator) execute(ctx context.Context, run *Run, graph *conversion.Graph, storageVersion string) {
	defer close(run.done)

	logCxt := log.WithFields(log.Fields{"kind": run.Kind, "run": run.ID, "storageVersion": storageVersion})
	logCxt.Info("Starting migration run")

	if err := m.checkDatastoreVersion(ctx); err != nil {
		logCxt.WithError(err).Error("Datastore version gate failed")
		run.fail(err)
		return
	}

	unlock, err := m.config.Locker.AcquireMigrationLock(ctx, run.Kind)
	if err != nil {
		logCxt.WithError(err).Error("Failed to acquire migration lock")
		run.fail(err)
		return
	}
	defer unlock()

	// Pick up the checkpoint from any previous failed run of this kind.
	cursor, err := loadCursor(ctx, m.config.Client, run.Kind)
	if err != nil {
		run.fail(err)
		return
	}
	run.mu.Lock()
	run.cursor = cursor
	run.mu.Unlock()
	if n := cursor.WrittenCount(); n > 0 {
		logCxt.WithField("confirmed", n).Info("Resuming from persisted cursor")
	}

	// Scanning.
	run.setState(StateScanning)
	refs, err := m.scan(ctx, run, logCxt)
	if err != nil {
		m.abort(ctx, run, cursor, err, logCxt)
		return
	}

	// Converting.
	run.setState(StateConverting)
	if err := m.convertAll(ctx, run, graph, storageVersion, refs, cursor, logCxt); err != nil {
		m.abort(ctx, run, cursor, err, logCxt)
		return
	}

	// Finalizing.
	run.setState(StateFinalizing)
	if err := m.finalize(ctx, run, storageVersion, logCxt); err != nil {
		m.abort(ctx, run, cursor, err, logCxt)
		return
	}
	if err := cursor.discard(ctx, m.config.Client); err != nil {
		logCxt.WithError(err).Warn("Failed to discard migration cursor")
	}

	run.setState(StateDone)
	logCxt.WithField("objects", cursor.WrittenCount()).Info("Migration run complete")
}

// abort records the failure and checkpoints the cursor so the run can be
// resumed.  Cancellation is recorded as ErrorMigrationAborted.
func (m *Migrator) abort(ctx context.Context, run *Run, cursor *Cursor, err error, logCxt *log.Entry) {
	if ctx.Err() != nil {
		err = cerrors.ErrorMigrationAborted{Kind: run.Kind, Err: err}
	}
	logCxt.WithError(err).Error("Migration run failed")

	// The run context may already be cancelled; checkpoint on a fresh one.
	checkpointCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if cpErr := cursor.checkpoint(checkpointCtx, m.config.Client, true); cpErr != nil {
		logCxt.WithError(cpErr).Warn("Failed to checkpoint migration cursor")
	}
	run.fail(err)
}

// checkDatastoreVersion refuses to migrate a datastore whose recorded schema
// version predates the minimum this build supports.  A datastore with no
// recorded version is treated as fresh and allowed.
func (m *Migrator) checkDatastoreVersion(ctx context.Context) error {
	if m.config.MinDatastoreVersion == nil {
		return nil
	}
	kv, err := m.config.Client.Get(ctx, model.ClusterVersionKey{})
	if err != nil {
		if _, ok := err.(cerrors.ErrorResourceDoesNotExist); ok {
			log.Debug("No recorded datastore version; skipping version gate")
			return nil
		}
		return err
	}

	var data struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(kv.Object.Raw, &data); err != nil {
		return cerrors.ErrorValidation{Reason: fmt.Sprintf("undecodable datastore version entry: %v", err)}
	}
	recorded, err := semver.NewVersion(data.Version)
	if err != nil {
		return cerrors.ErrorValidation{Reason: fmt.Sprintf("unparseable datastore version %q: %v", data.Version, err)}
	}
	if recorded.LessThan(*m.config.MinDatastoreVersion) {
		return cerrors.ErrorValidation{Reason: fmt.Sprintf(
			"datastore version %s is older than the minimum supported %s; upgrade the datastore before migrating",
			recorded, m.config.MinDatastoreVersion)}
	}
	return nil
}

// scan enumerates every persisted object of the kind along with the version
// each was last written at, read from the object's own type metadata.
func (m *Migrator) scan(ctx context.Context, run *Run, logCxt *log.Entry) ([]objectRef, error) {
	list, err := m.config.Client.List(ctx, model.ResourceListOptions{Kind: run.Kind})
	if err != nil {
		return nil, err
	}

	refs := make([]objectRef, 0, len(list.KVPairs))
	for _, kv := range list.KVPairs {
		version, err := kv.Object.APIVersion()
		if err != nil {
			return nil, cerrors.ErrorValidation{Reason: fmt.Sprintf(
				"object %v has no decodable version metadata: %v", kv.Key, err)}
		}
		refs = append(refs, objectRef{
			key:      kv.Key.(model.ResourceKey),
			version:  version,
			revision: kv.Revision,
			object:   kv.Object,
		})
	}
	logCxt.WithField("objects", len(refs)).Info("Scanned persisted objects")
	return refs, nil
}

// convertAll runs conflict-retry passes over the scanned objects until every
// object is confirmed at the storage version, the pass budget is exhausted,
// or the run is cancelled.
func (m *Migrator) convertAll(ctx context.Context, run *Run, graph *conversion.Graph, storageVersion string, refs []objectRef, cursor *Cursor, logCxt *log.Entry) error {
	conflictLog := logutils.NewFirstAndIntervalLogger(30*time.Second, nil).
		WithField("kind", run.Kind)

	pending := refs
	for {
		deferred, err := m.convertPass(ctx, run, graph, storageVersion, pending, cursor, conflictLog)
		if err != nil {
			return err
		}
		if err := cursor.checkpoint(ctx, m.config.Client, false); err != nil {
			return err
		}
		if len(deferred) == 0 {
			return nil
		}

		pass := cursor.nextPass()
		if pass >= m.config.MaxPasses {
			return cerrors.ErrorValidation{Reason: fmt.Sprintf(
				"%d objects still conflicting after %d passes", len(deferred), pass)}
		}
		logCxt.WithFields(log.Fields{"deferred": len(deferred), "pass": pass}).Info(
			"Write conflicts during pass; retrying deferred objects")
		if m.config.PassInterval > 0 {
			select {
			case <-time.After(m.config.PassInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		// Deferred objects are re-read next pass so the conversion starts
		// from the concurrent writer's data, not our stale copy.
		for i := range deferred {
			deferred[i].object = nil
		}
		pending = deferred
	}
}

// convertPass converts the pending objects across the worker pool, returning
// the objects deferred due to write conflicts.
func (m *Migrator) convertPass(ctx context.Context, run *Run, graph *conversion.Graph, storageVersion string, pending []objectRef, cursor *Cursor, conflictLog *logutils.FirstAndIntervalLogger) ([]objectRef, error) {
	var mu sync.Mutex
	var deferred []objectRef

	g, ctx := errgroup.WithContext(ctx)
	work := make(chan objectRef)

	for w := 0; w < m.config.Workers; w++ {
		g.Go(func() error {
			for ref := range work {
				// Cooperative cancellation, checked before each object.
				if err := ctx.Err(); err != nil {
					return err
				}
				retry, err := m.convertObject(ctx, run, graph, storageVersion, ref, cursor, conflictLog)
				if err != nil {
					return err
				}
				if retry != nil {
					mu.Lock()
					deferred = append(deferred, *retry)
					mu.Unlock()
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(work)
		for _, ref := range pending {
			if cursor.IsWritten(ref.key.Name) {
				continue
			}
			select {
			case work <- ref:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return deferred, nil
}

// convertObject migrates a single object.  A write conflict returns the ref
// for the next pass; a conversion failure is a hard error for the run (a
// missing edge is not silently copied forward).
func (m *Migrator) convertObject(ctx context.Context, run *Run, graph *conversion.Graph, storageVersion string, ref objectRef, cursor *Cursor, conflictLog *logutils.FirstAndIntervalLogger) (*objectRef, error) {
	// Deferred refs carry no object; re-read to pick up the latest data and
	// revision.
	if ref.object == nil {
		kv, err := m.config.Client.Get(ctx, ref.key)
		if err != nil {
			if _, ok := err.(cerrors.ErrorResourceDoesNotExist); ok {
				// Deleted since the scan; nothing left to migrate.
				cursor.MarkWritten(ref.key.Name)
				return nil, nil
			}
			return nil, err
		}
		ref.object = kv.Object
		ref.revision = kv.Revision
		if ref.version, err = kv.Object.APIVersion(); err != nil {
			return nil, err
		}
	}

	if ref.version == storageVersion {
		cursor.MarkWritten(ref.key.Name)
		return nil, nil
	}

	converted, err := graph.Convert(ctx, ref.object, ref.version, storageVersion)
	if err != nil {
		return nil, err
	}

	_, err = m.config.Client.Update(ctx, &model.KVPair{
		Key:      ref.key,
		Object:   converted,
		Revision: ref.revision,
	})
	if err != nil {
		if _, ok := err.(cerrors.ErrorResourceUpdateConflict); ok {
			// A concurrent writer got there first.  Never overwrite newer
			// data; pick the object up again next pass.
			conflictsTotal.WithLabelValues(run.Kind).Inc()
			conflictLog.WithField("name", ref.key.Name).Info("Write conflict; deferring object to next pass")
			return &ref, nil
		}
		return nil, err
	}

	cursor.MarkWritten(ref.key.Name)
	objectsMigrated.WithLabelValues(run.Kind).Inc()
	if cursor.WrittenCount()%checkpointEvery == 0 {
		if err := cursor.checkpoint(ctx, m.config.Client, false); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// finalize records which versions remain referenced by persisted objects and
// advances the storage-version bookkeeping entry.
func (m *Migrator) finalize(ctx context.Context, run *Run, storageVersion string, logCxt *log.Entry) error {
	list, err := m.config.Client.List(ctx, model.ResourceListOptions{Kind: run.Kind})
	if err != nil {
		return err
	}

	referencedSet := map[string]bool{}
	for _, kv := range list.KVPairs {
		version, err := kv.Object.APIVersion()
		if err != nil {
			continue
		}
		referencedSet[version] = true
	}
	referenced := make([]string, 0, len(referencedSet))
	for version := range referencedSet {
		referenced = append(referenced, version)
	}
	apiversion.SortDescending(referenced)

	bookkeeping := struct {
		Kind               string    `json:"kind"`
		APIVersion         string    `json:"apiVersion"`
		ResourceKind       string    `json:"resourceKind"`
		StorageVersion     string    `json:"storageVersion"`
		ReferencedVersions []string  `json:"referencedVersions"`
		CompletedAt        time.Time `json:"completedAt"`
	}{
		Kind:               kindStorageVersion,
		APIVersion:         bookkeepingVersion,
		ResourceKind:       run.Kind,
		StorageVersion:     storageVersion,
		ReferencedVersions: referenced,
		CompletedAt:        time.Now().UTC(),
	}

	obj, err := model.MarshalRawObject(bookkeeping)
	if err != nil {
		return err
	}
	if _, err := m.config.Client.Apply(ctx, &model.KVPair{
		Key:    model.StorageVersionKey{Kind: run.Kind},
		Object: obj,
	}); err != nil {
		return err
	}
	logCxt.WithField("referencedVersions", referenced).Info("Updated storage version bookkeeping")
	return nil
}
