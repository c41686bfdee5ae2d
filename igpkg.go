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

// Package igpkg contains the shared data model for resolving and
// restoring FHIR Implementation Guide packages: the identity of a
// concrete package artifact ([PackageReference]), a requirement on one
// ([PackageDependency]), and the contents of a package's manifest
// ([PackageManifest]).
package igpkg

import (
	"fmt"
	"strings"
)

// CIScope is the sentinel scope used to route a [PackageReference] to
// the build.fhir.org CI backend rather than a named NPM scope.
const CIScope = "build.fhir.org"

// NoReference is the sentinel "unresolved" value for [PackageReference].
// [PackageReference.NotFound] is true for this value and nothing else.
var NoReference = PackageReference{}

// PackageReference identifies a concrete package artifact: an optional
// scope, a name, and a version (which may be a concrete semver string,
// a tag such as "current" or "latest", or empty).
//
// PackageReference is immutable once constructed; comparisons on Name
// are case-insensitive, per spec.
type PackageReference struct {
	scope   string
	name    string
	version string
}

// NewPackageReference constructs a [PackageReference]. scope may be
// empty for unscoped packages.
func NewPackageReference(scope, name, version string) PackageReference {
	return PackageReference{scope: scope, name: name, version: version}
}

// Scope returns the reference's scope, or "" if unscoped.
func (r PackageReference) Scope() string { return r.scope }

// Name returns the reference's package name.
func (r PackageReference) Name() string { return r.name }

// Version returns the reference's version, tag, or "" if unset.
func (r PackageReference) Version() string { return r.version }

// Found returns true if this reference is not the [NoReference]
// sentinel.
func (r PackageReference) Found() bool { return r != NoReference }

// NotFound returns true if this reference is the [NoReference]
// sentinel.
func (r PackageReference) NotFound() bool { return r == NoReference }

// EqualName returns true if the two references refer to the same
// package name, ignoring case, per spec.
func (r PackageReference) EqualName(other PackageReference) bool {
	return strings.EqualFold(r.name, other.name)
}

// Moniker returns the stable "{name}@{version}" identity used for
// logging and as the [cache.MemoryCache] storage key, prefixed with
// "@{scope}/" when a scope is present. The version part is omitted
// when the version is empty.
func (r PackageReference) Moniker() string {
	name := r.name
	if r.scope != "" {
		name = fmt.Sprintf("@%s/%s", r.scope, r.name)
	}
	if r.version == "" {
		return name
	}
	return fmt.Sprintf("%s@%s", name, r.version)
}

// String implements [fmt.Stringer].
func (r PackageReference) String() string { return r.Moniker() }
