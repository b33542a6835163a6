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
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/tigera/libconversion-go/lib/backend/model"
	cerrors "github.com/tigera/libconversion-go/lib/errors"
)

// hop is one step of a conversion path.
type hop struct {
	from string
	to   string
	adj  adjacency
}

// Convert produces the object's encoding at the target version by composing
// registered edges along the shortest path from its current version.
//
// The identity case (from == to) returns the object unchanged with no edge
// traversal and no copy.  Unknown endpoints fail with ErrorUnknownVersion.
// The first hop whose edge function fails aborts the walk immediately with
// ErrorConversionFailed carrying the version the hop was converting to and
// the underlying cause; no alternate path is attempted.
func (g *Graph) Convert(ctx context.Context, obj *model.RawObject, from, to string) (*model.RawObject, error) {
	if from == to {
		return obj, nil
	}
	if !g.HasVersion(from) {
		return nil, cerrors.ErrorUnknownVersion{Version: from}
	}
	if !g.HasVersion(to) {
		return nil, cerrors.ErrorUnknownVersion{Version: to}
	}

	path := g.shortestPath(from, to)
	if path == nil {
		// Cannot happen on a validated graph; guard anyway so an unvalidated
		// graph fails cleanly rather than looping.
		return nil, cerrors.ErrorUnknownVersion{Version: to}
	}

	logCxt := log.WithFields(log.Fields{"from": from, "to": to, "hops": len(path)})
	logCxt.Debug("Converting object")

	for _, h := range path {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		converted, err := g.applyHop(ctx, h, obj)
		if err != nil {
			logCxt.WithError(err).WithField("failedAt", h.to).Warn("Conversion hop failed")
			return nil, cerrors.ErrorConversionFailed{FailedAtVersion: h.to, Err: err}
		}
		obj = converted
	}
	return obj, nil
}

// Path returns the version sequence Convert would walk from one version to
// the other, including both endpoints.  Used for diagnostics and tests.
func (g *Graph) Path(from, to string) ([]string, error) {
	if from == to {
		return []string{from}, nil
	}
	if !g.HasVersion(from) {
		return nil, cerrors.ErrorUnknownVersion{Version: from}
	}
	if !g.HasVersion(to) {
		return nil, cerrors.ErrorUnknownVersion{Version: to}
	}
	path := g.shortestPath(from, to)
	if path == nil {
		return nil, cerrors.ErrorUnknownVersion{Version: to}
	}
	versions := []string{from}
	for _, h := range path {
		versions = append(versions, h.to)
	}
	return versions, nil
}

// shortestPath runs a breadth-first search from one version to the other and
// returns the hops along the shortest path, or nil if the target is not
// reachable.  The visited set means no version is entered twice, which both
// guards against cycles and fixes the tie-break: each node's adjacency list
// is in comparator order (set at freeze time), so of two equal-length paths
// the one through the higher-ordered next hop wins, deterministically.
func (g *Graph) shortestPath(from, to string) []hop {
	type parentLink struct {
		prev string
		adj  adjacency
	}
	parents := map[string]parentLink{from: {}}
	queue := []string{from}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node == to {
			break
		}
		for _, adj := range g.nodes[node] {
			if _, seen := parents[adj.peer]; seen {
				continue
			}
			parents[adj.peer] = parentLink{prev: node, adj: adj}
			queue = append(queue, adj.peer)
		}
	}

	if _, ok := parents[to]; !ok {
		return nil
	}

	var reversed []hop
	for node := to; node != from; {
		link := parents[node]
		reversed = append(reversed, hop{from: link.prev, to: node, adj: link.adj})
		node = link.prev
	}
	path := make([]hop, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return path
}

// applyHop invokes the directional edge function for a single hop, applying
// the graph's hop timeout if one is configured.
func (g *Graph) applyHop(ctx context.Context, h hop, obj *model.RawObject) (*model.RawObject, error) {
	invoke := func() (*model.RawObject, error) {
		if h.adj.forward {
			return h.adj.edge.Upgrade(obj)
		}
		return h.adj.edge.Downgrade(obj)
	}

	if g.hopTimeout == 0 {
		return invoke()
	}

	type result struct {
		obj *model.RawObject
		err error
	}
	done := make(chan result, 1)
	go func() {
		obj, err := invoke()
		done <- result{obj: obj, err: err}
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, g.hopTimeout)
	defer cancel()
	select {
	case r := <-done:
		return r.obj, r.err
	case <-timeoutCtx.Done():
		return nil, fmt.Errorf("conversion function %s -> %s did not complete within %v: %v",
			h.from, h.to, g.hopTimeout, timeoutCtx.Err())
	}
}
