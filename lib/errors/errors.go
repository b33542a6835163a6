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

package errors

import (
	"fmt"
	"strings"
)

// Error indicating a version identifier that is not a node in the conversion
// graph.  This is a caller error: it is surfaced as an item-level failure and
// is never fatal to a batch.
type ErrorUnknownVersion struct {
	Version string
}

func (e ErrorUnknownVersion) Error() string {
	return fmt.Sprintf("unknown version: %s", e.Version)
}

// Error indicating the conversion graph does not connect the full version
// set.  Raised by graph validation at startup; the process must refuse to
// serve.
type ErrorIncompleteCoverage struct {
	Unreachable []string
}

func (e ErrorIncompleteCoverage) Error() string {
	return fmt.Sprintf("conversion graph does not cover the full version set; unreachable versions: %s",
		strings.Join(e.Unreachable, ", "))
}

// Error indicating a second conversion edge registered over the same version
// pair, in either declared order.  Construction-time, fatal.
type ErrorDuplicateEdge struct {
	VersionA string
	VersionB string
}

func (e ErrorDuplicateEdge) Error() string {
	return fmt.Sprintf("duplicate conversion edge registered between %s and %s", e.VersionA, e.VersionB)
}

// Error indicating an author-supplied conversion function failed on one hop
// of a conversion path.  The failing version and underlying cause are
// preserved for diagnostics.
type ErrorConversionFailed struct {
	FailedAtVersion string
	Err             error
}

func (e ErrorConversionFailed) Error() string {
	return fmt.Sprintf("conversion failed at version %s: %v", e.FailedAtVersion, e.Err)
}

// Error indicating a conditional datastore update lost a race with a
// concurrent writer.  The migrator recovers from this locally by deferring
// the object to the next pass.
type ErrorResourceUpdateConflict struct {
	Identifier interface{}
}

func (e ErrorResourceUpdateConflict) Error() string {
	return fmt.Sprintf("update conflict: %v", e.Identifier)
}

// Error indicating a resource that is not present in the datastore.
type ErrorResourceDoesNotExist struct {
	Identifier interface{}
}

func (e ErrorResourceDoesNotExist) Error() string {
	return fmt.Sprintf("resource does not exist: %v", e.Identifier)
}

// Error indicating a create for a resource that is already present.
type ErrorResourceAlreadyExists struct {
	Identifier interface{}
}

func (e ErrorResourceAlreadyExists) Error() string {
	return fmt.Sprintf("resource already exists: %v", e.Identifier)
}

// Error indicating a migration run was cancelled mid-flight.  The cursor is
// preserved so the run can be resumed.
type ErrorMigrationAborted struct {
	Kind string
	Err  error
}

func (e ErrorMigrationAborted) Error() string {
	return fmt.Sprintf("migration of %s aborted: %v", e.Kind, e.Err)
}

// Error indicating a problem talking to the datastore.
type ErrorDatastoreError struct {
	Err        error
	Identifier interface{}
}

func (e ErrorDatastoreError) Error() string {
	return e.Err.Error()
}

// Error indicating invalid input to an operation.
type ErrorValidation struct {
	Reason string
}

func (e ErrorValidation) Error() string {
	return e.Reason
}

// Error indicating an operation that the backing datastore cannot perform.
type ErrorOperationNotSupported struct {
	Operation  string
	Identifier interface{}
}

func (e ErrorOperationNotSupported) Error() string {
	return fmt.Sprintf("operation %s is not supported on %v", e.Operation, e.Identifier)
}
