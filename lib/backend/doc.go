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

/*
Package backend holds the datastore client interface and its implementations.

The client interface provides methods to access, modify and list the raw
versioned objects the conversion engine operates on.  The key structures and
interfaces are:
  - model.KVPair encapsulates a stored object, its key (fully qualified
    identification) and its datastore revision.  The object is carried as an
    opaque encoded payload; only the embedded type metadata is interpreted.
  - model.Key is used by the client to construct a datastore key for a
    particular object, for lookups, conditional writes and deletes.
  - model.ListInterface is used by the client to enumerate all objects of a
    resource kind.

Update is conditional on the revision read: writing with a stale revision
returns ErrorResourceUpdateConflict together with the current entry, which is
what lets the migrator skip and retry objects touched by concurrent writers.

Two implementations are provided: etcdv3 (transactional compare-and-swap on
ModRevision) and memory (an in-process trie with the same semantics, used by
tests and single-process deployments).
*/
package backend
