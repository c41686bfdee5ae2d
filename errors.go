// Copyright (C) 2024 igpkg contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public
// License along with this program. If not, see
// <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: LGPL-3.0

package igpkg

import "fmt"

// NotFoundError describes a dependency that could not be resolved by
// any server and is not present in the cache. No function in this
// module returns it: the Resolver reports that case as
// [NoReference] with a nil error, and the Restorer records the
// dependency in a [closure.PackageClosure]'s missing set.
type NotFoundError struct {
	Name  string
	Range string
}

func (e *NotFoundError) Error() string {
	if e.Range == "" {
		return fmt.Sprintf("no source could satisfy %s", e.Name)
	}
	return fmt.Sprintf("no source could satisfy %s@%s", e.Name, e.Range)
}

// MisroutedError is returned when a reference is presented to a
// backend that cannot serve its scope, e.g. a non-CI-scoped reference
// handed to the CI backend.
type MisroutedError struct {
	Scope string
	Want  string
}

func (e *MisroutedError) Error() string {
	return fmt.Sprintf("misrouted reference: scope %q is not %q", e.Scope, e.Want)
}

// ProtocolError is returned for malformed listing JSON, a missing
// required field, or an unparseable version string.
type ProtocolError struct {
	Server string
	Name   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error from %s resolving %s: %s", e.Server, e.Name, e.Reason)
}

// TransportError is returned for a network failure or non-2xx HTTP
// response. The [Resolver] falls through to the next source on this
// error from any but the last configured source.
type TransportError struct {
	Server     string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error from %s: HTTP %d", e.Server, e.StatusCode)
	}
	return fmt.Sprintf("transport error from %s: %v", e.Server, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// VersionMismatchError indicates a synthesis bug: the number of
// versions returned by a listing's VersionSet does not match the
// number of versions present in the synthesized listing.
type VersionMismatchError struct {
	Name string
	Want int
	Got  int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version count mismatch for %s: listing has %d, version set has %d", e.Name, e.Want, e.Got)
}
