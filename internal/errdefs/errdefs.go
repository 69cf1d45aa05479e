/*
Copyright 2025 lhkeeper.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errdefs defines the error taxonomy surfaced by the keeper:
// NotFound, AmbiguousSource, Conflict, ExternalUnavailable and
// PartialFailure. Callers classify with the Is* helpers instead of
// matching error strings.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError reports that a claim, volume or backup does not exist.
type NotFoundError struct {
	Resource string
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
}

// NotFound creates a NotFoundError for the given resource kind and name.
func NotFound(resource, name string) error {
	return &NotFoundError{Resource: resource, Name: name}
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var t *NotFoundError
	return errors.As(err, &t)
}

// AmbiguousSourceError reports that a restore source cannot be resolved:
// neither a live bound claim nor an explicit backup id is available.
type AmbiguousSourceError struct {
	Namespace string
	ClaimName string
}

func (e *AmbiguousSourceError) Error() string {
	return fmt.Sprintf("cannot resolve volume for %s/%s: claim is not bound and no explicit backup id was given", e.Namespace, e.ClaimName)
}

// AmbiguousSource creates an AmbiguousSourceError for the given claim.
func AmbiguousSource(namespace, claimName string) error {
	return &AmbiguousSourceError{Namespace: namespace, ClaimName: claimName}
}

// IsAmbiguousSource reports whether err is or wraps an AmbiguousSourceError.
func IsAmbiguousSource(err error) bool {
	var t *AmbiguousSourceError
	return errors.As(err, &t)
}

// ConflictError reports that a target already exists or was concurrently
// modified. The keeper never resolves conflicts by overwriting.
type ConflictError struct {
	Resource string
	Name     string
	Reason   string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("conflict on %s %q: %s", e.Resource, e.Name, e.Reason)
	}
	return fmt.Sprintf("conflict on %s %q", e.Resource, e.Name)
}

// Conflict creates a ConflictError.
func Conflict(resource, name, reason string) error {
	return &ConflictError{Resource: resource, Name: name, Reason: reason}
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var t *ConflictError
	return errors.As(err, &t)
}

// ExternalUnavailableError reports that the cluster API or the sync tool is
// unreachable. The current operation aborts with persisted state untouched.
type ExternalUnavailableError struct {
	System string
	Err    error
}

func (e *ExternalUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.System, e.Err)
}

func (e *ExternalUnavailableError) Unwrap() error { return e.Err }

// ExternalUnavailable wraps err as an ExternalUnavailableError for the named
// external system.
func ExternalUnavailable(system string, err error) error {
	return &ExternalUnavailableError{System: system, Err: err}
}

// IsExternalUnavailable reports whether err is or wraps an
// ExternalUnavailableError.
func IsExternalUnavailable(err error) bool {
	var t *ExternalUnavailableError
	return errors.As(err, &t)
}

// ItemFailure is one failed item of a batch operation.
type ItemFailure struct {
	Item string
	Err  error
}

func (f ItemFailure) String() string {
	return fmt.Sprintf("%s: %v", f.Item, f.Err)
}

// PartialFailureError reports a batch operation where some items failed.
// Remaining items were still processed.
type PartialFailureError struct {
	Op       string
	Failures []ItemFailure
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("%s partially failed (%d items): %s", e.Op, len(e.Failures), strings.Join(parts, "; "))
}

// PartialFailure creates a PartialFailureError, or nil when there are no
// failures.
func PartialFailure(op string, failures []ItemFailure) error {
	if len(failures) == 0 {
		return nil
	}
	return &PartialFailureError{Op: op, Failures: failures}
}

// IsPartialFailure reports whether err is or wraps a PartialFailureError.
func IsPartialFailure(err error) bool {
	var t *PartialFailureError
	return errors.As(err, &t)
}
