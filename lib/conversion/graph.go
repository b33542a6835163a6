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
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tigera/libconversion-go/lib/apiversion"
	cerrors "github.com/tigera/libconversion-go/lib/errors"
)

// adjacency records one traversable direction of a registered edge: from the
// owning node to peer, applying the edge's Upgrade function if forward is
// set, its Downgrade function otherwise.
type adjacency struct {
	peer    string
	edge    Edge
	forward bool
}

// Graph is the registry of pairwise conversion edges between named versions.
// Edges are registered at construction time; after a successful Validate the
// graph is frozen and safe for unsynchronized concurrent readers.  Graph
// shape only changes when a new schema version is added, so validation runs
// once at startup rather than per conversion call.
type Graph struct {
	nodes  map[string][]adjacency
	frozen bool

	// Optional ceiling on each author-supplied hop function.  Edge
	// functions are third-party code assumed CPU-bound; the timeout is a
	// guard against ones that loop.  Zero disables it.
	hopTimeout time.Duration
}

// NewGraph returns an empty conversion graph.
func NewGraph() *Graph {
	return &Graph{nodes: map[string][]adjacency{}}
}

// SetHopTimeout sets the per-hop timeout applied to each edge function
// invocation.  Must be called before Validate.
func (g *Graph) SetHopTimeout(d time.Duration) {
	if g.frozen {
		log.Panic("SetHopTimeout called on a validated conversion graph")
	}
	g.hopTimeout = d
}

// Register adds a conversion edge to the graph.  A second edge over the same
// version pair, in either declared order, is a construction-time error.
func (g *Graph) Register(e Edge) error {
	if g.frozen {
		return cerrors.ErrorValidation{Reason: "conversion graph is frozen; edges must be registered before validation"}
	}
	a, b := e.Versions()
	if a == "" || b == "" {
		return cerrors.ErrorValidation{Reason: "conversion edge has an unnamed version"}
	}
	if a == b {
		return cerrors.ErrorValidation{Reason: fmt.Sprintf("conversion edge connects version %s to itself", a)}
	}
	for _, adj := range g.nodes[a] {
		if adj.peer == b {
			return cerrors.ErrorDuplicateEdge{VersionA: a, VersionB: b}
		}
	}
	g.nodes[a] = append(g.nodes[a], adjacency{peer: b, edge: e, forward: true})
	g.nodes[b] = append(g.nodes[b], adjacency{peer: a, edge: e, forward: false})
	log.WithFields(log.Fields{"from": a, "to": b}).Debug("Registered conversion edge")
	return nil
}

// Validate checks that every version in the set is reachable from every
// other using the registered edges, treating the graph as undirected.  On
// failure it returns ErrorIncompleteCoverage naming every version that is
// not in the component reached from the set's first member.  Edges naming
// versions outside the set are also rejected.  After a successful Validate
// the graph is frozen.
func (g *Graph) Validate(vs VersionSet) error {
	if err := vs.Validate(); err != nil {
		return err
	}
	for node := range g.nodes {
		if !vs.Contains(node) {
			return cerrors.ErrorValidation{Reason: fmt.Sprintf("conversion edge references version %s which is not in the version set", node)}
		}
	}

	// Traverse from any one member and confirm everything else is visited.
	visited := map[string]bool{}
	queue := []string{vs[0].Name}
	visited[vs[0].Name] = true
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, adj := range g.nodes[node] {
			if !visited[adj.peer] {
				visited[adj.peer] = true
				queue = append(queue, adj.peer)
			}
		}
	}

	var unreachable []string
	for _, v := range vs {
		if !visited[v.Name] {
			unreachable = append(unreachable, v.Name)
		}
	}
	if len(unreachable) > 0 {
		apiversion.SortDescending(unreachable)
		return cerrors.ErrorIncompleteCoverage{Unreachable: unreachable}
	}

	g.freeze()
	log.WithField("versions", len(vs)).Info("Validated conversion graph")
	return nil
}

// freeze sorts each node's adjacency list into comparator order so that
// traversal is deterministic, then marks the graph read-only.
func (g *Graph) freeze() {
	for node := range g.nodes {
		adjs := g.nodes[node]
		// Insertion sort; adjacency lists are tiny.
		for i := 1; i < len(adjs); i++ {
			for j := i; j > 0 && apiversion.Compare(adjs[j].peer, adjs[j-1].peer) > 0; j-- {
				adjs[j], adjs[j-1] = adjs[j-1], adjs[j]
			}
		}
	}
	g.frozen = true
}

// HasVersion returns whether the named version is a node in the graph.
func (g *Graph) HasVersion(version string) bool {
	_, ok := g.nodes[version]
	return ok
}
