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

package migrator

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/tigera/libconversion-go/lib/backend/api"
	"github.com/tigera/libconversion-go/lib/backend/model"
	cerrors "github.com/tigera/libconversion-go/lib/errors"
)

const (
	kindMigrationCursor = "MigrationCursor"
	bookkeepingVersion  = "conversion.tigera.io/v1"
)

// cursorData is the persisted checkpoint encoding.
type cursorData struct {
	Kind         string   `json:"kind"`
	APIVersion   string   `json:"apiVersion"`
	ResourceKind string   `json:"resourceKind"`
	Pass         int      `json:"pass"`
	Written      []string `json:"written"`
}

// Cursor tracks which objects of a kind have been confirmed written at the
// target storage version during a migration run.  It is updated after each
// successful write and checkpointed to the datastore so a failed or
// cancelled run resumes without reconverting confirmed objects.
type Cursor struct {
	mu           sync.Mutex
	resourceKind string
	pass         int
	written      map[string]bool
	dirty        int
}

func newCursor(resourceKind string) *Cursor {
	return &Cursor{
		resourceKind: resourceKind,
		written:      map[string]bool{},
	}
}

// loadCursor fetches the persisted checkpoint for a kind, returning a fresh
// cursor if none exists.
func loadCursor(ctx context.Context, client api.Client, resourceKind string) (*Cursor, error) {
	kv, err := client.Get(ctx, model.MigrationCursorKey{Kind: resourceKind})
	if err != nil {
		if _, ok := err.(cerrors.ErrorResourceDoesNotExist); ok {
			return newCursor(resourceKind), nil
		}
		return nil, err
	}

	var data cursorData
	if err := json.Unmarshal(kv.Object.Raw, &data); err != nil {
		return nil, err
	}
	c := newCursor(resourceKind)
	c.pass = data.Pass
	for _, name := range data.Written {
		c.written[name] = true
	}
	return c, nil
}

// MarkWritten records an object as confirmed at the target version.
func (c *Cursor) MarkWritten(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.written[name] {
		c.written[name] = true
		c.dirty++
	}
}

// IsWritten reports whether an object was already confirmed at the target
// version, either in this run or a previous one.
func (c *Cursor) IsWritten(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written[name]
}

// WrittenCount returns the number of confirmed objects.
func (c *Cursor) WrittenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

// Pass returns the current conflict-retry pass number.
func (c *Cursor) Pass() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pass
}

func (c *Cursor) nextPass() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pass++
	return c.pass
}

// checkpoint persists the cursor if anything changed since the last
// checkpoint.  force writes unconditionally.
func (c *Cursor) checkpoint(ctx context.Context, client api.Client, force bool) error {
	c.mu.Lock()
	if c.dirty == 0 && !force {
		c.mu.Unlock()
		return nil
	}
	data := cursorData{
		Kind:         kindMigrationCursor,
		APIVersion:   bookkeepingVersion,
		ResourceKind: c.resourceKind,
		Pass:         c.pass,
		Written:      make([]string, 0, len(c.written)),
	}
	for name := range c.written {
		data.Written = append(data.Written, name)
	}
	c.dirty = 0
	c.mu.Unlock()
	sort.Strings(data.Written)

	obj, err := model.MarshalRawObject(data)
	if err != nil {
		return err
	}
	_, err = client.Apply(ctx, &model.KVPair{
		Key:    model.MigrationCursorKey{Kind: data.ResourceKind},
		Object: obj,
	})
	return err
}

// discard removes the persisted checkpoint once a run completes.
func (c *Cursor) discard(ctx context.Context, client api.Client) error {
	err := client.Delete(ctx, model.MigrationCursorKey{Kind: c.resourceKind})
	if _, ok := err.(cerrors.ErrorResourceDoesNotExist); ok {
		return nil
	}
	return err
}
