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

package api

import (
	"context"

	"github.com/tigera/libconversion-go/lib/backend/model"
)

// Client is the interface to a single datastore backend holding versioned
// resource objects.  All object writes carry revision information so callers
// can perform optimistic updates.
type Client interface {
	// Create an entry in the datastore.  If the entry already exists, this
	// returns an ErrorResourceAlreadyExists error and the current entry.
	Create(ctx context.Context, object *model.KVPair) (*model.KVPair, error)

	// Update an entry in the datastore.  The Revision must be supplied; if
	// it does not match the entry's current revision, the update fails with
	// ErrorResourceUpdateConflict and does not overwrite the newer data.
	Update(ctx context.Context, object *model.KVPair) (*model.KVPair, error)

	// Apply an entry unconditionally, creating it if needed.
	Apply(ctx context.Context, object *model.KVPair) (*model.KVPair, error)

	// Get an entry from the datastore.  This errors if the entry does not
	// exist.
	Get(ctx context.Context, key model.Key) (*model.KVPair, error)

	// List entries in the datastore.  This may return an empty list if
	// there are no entries matching the request in the ListInterface.
	List(ctx context.Context, list model.ListInterface) (*model.KVPairList, error)

	// Delete an entry from the datastore.  This errors if the entry does
	// not exist.
	Delete(ctx context.Context, key model.Key) error

	// EnsureInitialized makes sure the datastore is initialized for use by
	// the conversion engine.
	EnsureInitialized(ctx context.Context) error
}

// MigrationLocker serializes migration runs: at most one run per resource
// kind may hold the lock at a time, for the duration of the run.
type MigrationLocker interface {
	// AcquireMigrationLock takes the per-kind run lock, returning a release
	// function.  It fails rather than blocks if another run holds the lock.
	AcquireMigrationLock(ctx context.Context, kind string) (func(), error)
}
