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

// Package memory implements the backend client interface against an
// in-process store.  It is used by tests and single-process deployments; the
// conditional-update semantics match the etcdv3 backend so migrator
// behaviour is identical against either.
package memory

import (
	"context"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tchap/go-patricia/v2/patricia"

	"github.com/tigera/libconversion-go/lib/backend/api"
	"github.com/tigera/libconversion-go/lib/backend/model"
	cerrors "github.com/tigera/libconversion-go/lib/errors"
)

type entry struct {
	value    []byte
	revision int64
}

type MemoryClient struct {
	mu sync.Mutex

	// Keys are held in a patricia trie so List is a prefix visit rather
	// than a full scan.
	keys *patricia.Trie

	// revision counts every mutation, mimicking the etcd header revision.
	revision int64

	locks map[string]bool
}

var _ api.Client = (*MemoryClient)(nil)
var _ api.MigrationLocker = (*MemoryClient)(nil)

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		keys:  patricia.NewTrie(),
		locks: map[string]bool{},
	}
}

func (c *MemoryClient) Get(ctx context.Context, k model.Key) (*model.KVPair, error) {
	key, err := k.DefaultPath()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	item := c.keys.Get(patricia.Prefix(key))
	if item == nil {
		return nil, cerrors.ErrorResourceDoesNotExist{Identifier: k}
	}
	e := item.(*entry)
	return &model.KVPair{
		Key:      k,
		Object:   model.NewRawObject(append([]byte(nil), e.value...)),
		Revision: strconv.FormatInt(e.revision, 10),
	}, nil
}

func (c *MemoryClient) Create(ctx context.Context, d *model.KVPair) (*model.KVPair, error) {
	key, value, err := keyValue(d)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if item := c.keys.Get(patricia.Prefix(key)); item != nil {
		e := item.(*entry)
		existing := &model.KVPair{
			Key:      d.Key,
			Object:   model.NewRawObject(append([]byte(nil), e.value...)),
			Revision: strconv.FormatInt(e.revision, 10),
		}
		return existing, cerrors.ErrorResourceAlreadyExists{Identifier: d.Key}
	}

	c.revision++
	c.keys.Insert(patricia.Prefix(key), &entry{value: append([]byte(nil), value...), revision: c.revision})
	d.Revision = strconv.FormatInt(c.revision, 10)
	return d, nil
}

func (c *MemoryClient) Update(ctx context.Context, d *model.KVPair) (*model.KVPair, error) {
	key, value, err := keyValue(d)
	if err != nil {
		return nil, err
	}
	rev, err := strconv.ParseInt(d.Revision, 10, 64)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	item := c.keys.Get(patricia.Prefix(key))
	if item == nil {
		return nil, cerrors.ErrorResourceDoesNotExist{Identifier: d.Key}
	}
	e := item.(*entry)
	if e.revision != rev {
		existing := &model.KVPair{
			Key:      d.Key,
			Object:   model.NewRawObject(append([]byte(nil), e.value...)),
			Revision: strconv.FormatInt(e.revision, 10),
		}
		return existing, cerrors.ErrorResourceUpdateConflict{Identifier: d.Key}
	}

	c.revision++
	e.value = append([]byte(nil), value...)
	e.revision = c.revision
	d.Revision = strconv.FormatInt(c.revision, 10)
	return d, nil
}

func (c *MemoryClient) Apply(ctx context.Context, d *model.KVPair) (*model.KVPair, error) {
	key, value, err := keyValue(d)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.revision++
	if item := c.keys.Get(patricia.Prefix(key)); item != nil {
		e := item.(*entry)
		e.value = append([]byte(nil), value...)
		e.revision = c.revision
	} else {
		c.keys.Insert(patricia.Prefix(key), &entry{value: append([]byte(nil), value...), revision: c.revision})
	}
	d.Revision = strconv.FormatInt(c.revision, 10)
	return d, nil
}

func (c *MemoryClient) Delete(ctx context.Context, k model.Key) error {
	key, err := k.DefaultPath()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.keys.Delete(patricia.Prefix(key)) {
		return cerrors.ErrorResourceDoesNotExist{Identifier: k}
	}
	c.revision++
	return nil
}

func (c *MemoryClient) List(ctx context.Context, l model.ListInterface) (*model.KVPairList, error) {
	prefix := l.DefaultPathRoot() + "/"

	c.mu.Lock()
	defer c.mu.Unlock()
	kvs := []*model.KVPair{}
	_ = c.keys.VisitSubtree(patricia.Prefix(prefix), func(p patricia.Prefix, item patricia.Item) error {
		k := l.KeyFromDefaultPath(string(p))
		if k == nil {
			return nil
		}
		e := item.(*entry)
		kvs = append(kvs, &model.KVPair{
			Key:      k,
			Object:   model.NewRawObject(append([]byte(nil), e.value...)),
			Revision: strconv.FormatInt(e.revision, 10),
		})
		return nil
	})
	return &model.KVPairList{
		KVPairs:  kvs,
		Revision: strconv.FormatInt(c.revision, 10),
	}, nil
}

func (c *MemoryClient) EnsureInitialized(ctx context.Context) error {
	return nil
}

// AcquireMigrationLock takes the per-kind run lock.  It fails rather than
// blocks if a run already holds it.
func (c *MemoryClient) AcquireMigrationLock(ctx context.Context, kind string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[kind] {
		return nil, cerrors.ErrorResourceUpdateConflict{Identifier: "migration lock for " + kind}
	}
	c.locks[kind] = true
	log.WithField("kind", kind).Debug("Acquired in-memory migration lock")

	var once sync.Once
	release := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.locks, kind)
		})
	}
	return release, nil
}

func keyValue(d *model.KVPair) (string, []byte, error) {
	key, err := d.Key.DefaultPath()
	if err != nil {
		return "", nil, err
	}
	if d.Object == nil || len(d.Object.Raw) == 0 {
		return "", nil, cerrors.ErrorValidation{Reason: "empty object for " + key}
	}
	return key, d.Object.Raw, nil
}
