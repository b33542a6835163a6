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
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	cerrors "github.com/tigera/libconversion-go/lib/errors"
)

// Registry collects version sets and conversion edges per resource kind.
// Schema version modules register their edges in init(); the daemon then
// builds and validates one graph per kind at startup and fails fast if any
// kind's version set is not fully connected.
type Registry struct {
	mu    sync.Mutex
	kinds map[string]*kindRegistration
}

type kindRegistration struct {
	versions VersionSet
	edges    []Edge
}

// DefaultRegistry is the registry schema version modules register into.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.  Declared as a separate type so it
// can be tested without worrying about the global state.
func NewRegistry() *Registry {
	return &Registry{kinds: map[string]*kindRegistration{}}
}

// RegisterVersionSet declares the versions a kind supports.  Registering a
// kind twice is an error.
func (r *Registry) RegisterVersionSet(kind string, vs VersionSet) error {
	if kind == "" {
		return cerrors.ErrorValidation{Reason: "kind must not be empty"}
	}
	if err := vs.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg := r.kinds[kind]; reg != nil && reg.versions != nil {
		return cerrors.ErrorValidation{Reason: fmt.Sprintf("version set for kind %s already registered", kind)}
	}
	reg := r.kinds[kind]
	if reg == nil {
		reg = &kindRegistration{}
		r.kinds[kind] = reg
	}
	reg.versions = vs
	return nil
}

// RegisterEdge adds a conversion edge for a kind.  Duplicate pairs are
// reported when the kind's graph is built.
func (r *Registry) RegisterEdge(kind string, e Edge) error {
	if kind == "" {
		return cerrors.ErrorValidation{Reason: "kind must not be empty"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.kinds[kind]
	if reg == nil {
		reg = &kindRegistration{}
		r.kinds[kind] = reg
	}
	reg.edges = append(reg.edges, e)
	return nil
}

// MustRegisterVersionSet is RegisterVersionSet that panics on error, for use
// from init() in schema version modules.
func (r *Registry) MustRegisterVersionSet(kind string, vs VersionSet) {
	if err := r.RegisterVersionSet(kind, vs); err != nil {
		log.WithError(err).WithField("kind", kind).Panic("Failed to register version set")
	}
}

// MustRegisterEdge is RegisterEdge that panics on error.
func (r *Registry) MustRegisterEdge(kind string, e Edge) {
	if err := r.RegisterEdge(kind, e); err != nil {
		log.WithError(err).WithField("kind", kind).Panic("Failed to register conversion edge")
	}
}

// Kinds returns the registered kind names.
func (r *Registry) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.kinds))
	for kind := range r.kinds {
		kinds = append(kinds, kind)
	}
	return kinds
}

// VersionSet returns the registered version set for a kind.
func (r *Registry) VersionSet(kind string) (VersionSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.kinds[kind]
	if reg == nil || reg.versions == nil {
		return nil, cerrors.ErrorValidation{Reason: fmt.Sprintf("no version set registered for kind %s", kind)}
	}
	return reg.versions, nil
}

// Build constructs and validates the conversion graph for a kind.
func (r *Registry) Build(kind string, hopTimeout time.Duration) (*Graph, error) {
	r.mu.Lock()
	reg := r.kinds[kind]
	r.mu.Unlock()
	if reg == nil || reg.versions == nil {
		return nil, cerrors.ErrorValidation{Reason: fmt.Sprintf("no version set registered for kind %s", kind)}
	}

	g := NewGraph()
	g.SetHopTimeout(hopTimeout)
	for _, e := range reg.edges {
		if err := g.Register(e); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(reg.versions); err != nil {
		return nil, err
	}
	return g, nil
}

// BuildAll builds and validates the graphs for every registered kind,
// returning the first construction or coverage error encountered.  The
// result is safe for unsynchronized concurrent readers.
func (r *Registry) BuildAll(hopTimeout time.Duration) (map[string]*Graph, error) {
	graphs := map[string]*Graph{}
	for _, kind := range r.Kinds() {
		g, err := r.Build(kind, hopTimeout)
		if err != nil {
			return nil, fmt.Errorf("kind %s: %w", kind, err)
		}
		graphs[kind] = g
	}
	return graphs, nil
}
