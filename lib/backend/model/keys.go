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

package model

import (
	"fmt"
	"regexp"
	"strings"
)

const pathRoot = "/conversion"

// Key represents a parsed datastore key.
type Key interface {
	// DefaultPath() returns a default stringified path for this object,
	// suitable for use in most datastores.
	DefaultPath() (string, error)
}

// Interface used to perform datastore lookups.
type ListInterface interface {
	// DefaultPathRoot() returns a default stringified root path, i.e. path
	// to the directory containing all the keys to be listed.
	DefaultPathRoot() string
	// KeyFromDefaultPath parses the default path representation of a key
	// into one of our <Type>Key structs.  Returns nil if the string is not
	// a valid path for this list.
	KeyFromDefaultPath(path string) Key
}

// KVPair holds a raw versioned object and datastore revision information for
// a single key.
type KVPair struct {
	Key      Key
	Object   *RawObject
	Revision string
}

// KVPairList holds a list of KVPairs plus the datastore revision the list was
// read at.
type KVPairList struct {
	KVPairs  []*KVPair
	Revision string
}

// ResourceKey identifies a single persisted resource by kind and name.
type ResourceKey struct {
	Kind string
	Name string
}

func (k ResourceKey) DefaultPath() (string, error) {
	if k.Kind == "" || k.Name == "" {
		return "", fmt.Errorf("invalid resource key: %v", k)
	}
	return fmt.Sprintf("%s/resources/%s/%s", pathRoot, strings.ToLower(k.Kind), k.Name), nil
}

func (k ResourceKey) String() string {
	return fmt.Sprintf("%s(%s)", k.Kind, k.Name)
}

// ResourceListOptions lists all persisted resources of a kind.
type ResourceListOptions struct {
	Kind string
}

func (l ResourceListOptions) DefaultPathRoot() string {
	return fmt.Sprintf("%s/resources/%s", pathRoot, strings.ToLower(l.Kind))
}

var matchResource = regexp.MustCompile(`^/conversion/resources/([^/]+)/([^/]+)$`)

func (l ResourceListOptions) KeyFromDefaultPath(path string) Key {
	m := matchResource.FindStringSubmatch(path)
	if m == nil {
		return nil
	}
	if m[1] != strings.ToLower(l.Kind) {
		return nil
	}
	return ResourceKey{Kind: l.Kind, Name: m[2]}
}

// StorageVersionKey identifies the per-kind storage version bookkeeping
// entry, maintained by the migrator's Finalizing phase.
type StorageVersionKey struct {
	Kind string
}

func (k StorageVersionKey) DefaultPath() (string, error) {
	if k.Kind == "" {
		return "", fmt.Errorf("invalid storage version key: %v", k)
	}
	return fmt.Sprintf("%s/storageversions/%s", pathRoot, strings.ToLower(k.Kind)), nil
}

func (k StorageVersionKey) String() string {
	return fmt.Sprintf("StorageVersion(%s)", k.Kind)
}

// MigrationCursorKey identifies the per-kind migration checkpoint entry.
type MigrationCursorKey struct {
	Kind string
}

func (k MigrationCursorKey) DefaultPath() (string, error) {
	if k.Kind == "" {
		return "", fmt.Errorf("invalid migration cursor key: %v", k)
	}
	return fmt.Sprintf("%s/migrationcursors/%s", pathRoot, strings.ToLower(k.Kind)), nil
}

func (k MigrationCursorKey) String() string {
	return fmt.Sprintf("MigrationCursor(%s)", k.Kind)
}

// ClusterVersionKey identifies the single entry recording the datastore's
// schema version, checked by the migrator's version gate.
type ClusterVersionKey struct{}

func (k ClusterVersionKey) DefaultPath() (string, error) {
	return pathRoot + "/clusterversion", nil
}

func (k ClusterVersionKey) String() string {
	return "ClusterVersion"
}
