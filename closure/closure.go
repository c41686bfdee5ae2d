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

// Package closure implements [PackageClosure], the accumulator for a
// restore operation: the set of accepted package references plus any
// dependencies that could not be resolved.
package closure

import (
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/fhir-org/igpkg"
)

// PackageClosure accumulates resolved references for one restore
// operation, enforcing the highest-version-wins conflict policy and
// tracking unresolved dependencies.
//
// A PackageClosure is mutated only by its owning Restorer. The mutex
// here exists only to let sibling dependency resolutions be fanned out
// concurrently and merged back in safely (spec: "results collected and
// merged on one task"); it is not meant to support arbitrary
// multi-writer use.
type PackageClosure struct {
	mu       sync.Mutex
	accepted map[string]igpkg.PackageReference
	missing  map[string]igpkg.PackageDependency
}

// New returns an empty [PackageClosure].
func New() *PackageClosure {
	return &PackageClosure{
		accepted: make(map[string]igpkg.PackageReference),
		missing:  make(map[string]igpkg.PackageDependency),
	}
}

func normalize(name string) string { return strings.ToLower(name) }

// Add records ref as the chosen reference for its package name.
// Returns true iff ref was newly accepted (absent before, or a
// strictly higher version than the incumbent), meaning its manifest
// must be walked by the caller. Version comparison uses full semver
// ordering, including prerelease rules; ties keep the incumbent. A
// non-semver candidate (tag, branch) never replaces an incumbent, while
// a non-semver incumbent is replaced by any parseable semver candidate.
func (c *PackageClosure) Add(ref igpkg.PackageReference) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := normalize(ref.Name())
	incumbent, ok := c.accepted[name]
	if !ok {
		c.accepted[name] = ref
		delete(c.missing, name)
		return true
	}

	if !higherVersion(ref.Version(), incumbent.Version()) {
		return false
	}

	c.accepted[name] = ref
	delete(c.missing, name)
	return true
}

// higherVersion reports whether candidate is a strictly greater semver
// than incumbent. Non-semver strings (tags/branches) never compare as
// higher than anything, so a second Add with the same non-semver
// version is always a no-op, matching the idempotency invariant.
func higherVersion(candidate, incumbent string) bool {
	cv, err := semver.NewVersion(candidate)
	if err != nil {
		return false
	}
	iv, err := semver.NewVersion(incumbent)
	if err != nil {
		// Incumbent isn't a parseable version but the candidate is;
		// prefer the concrete, comparable version.
		return true
	}
	return cv.GreaterThan(iv)
}

// AddMissing records an unresolved requirement without replacing any
// already-accepted reference of the same name.
func (c *PackageClosure) AddMissing(dep igpkg.PackageDependency) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := normalize(dep.Name)
	if _, ok := c.accepted[name]; ok {
		return
	}
	c.missing[name] = dep
}

// Accepted returns a copy of the accepted name→reference mapping.
func (c *PackageClosure) Accepted() map[string]igpkg.PackageReference {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]igpkg.PackageReference, len(c.accepted))
	for k, v := range c.accepted {
		out[k] = v
	}
	return out
}

// Missing returns a copy of the unresolved-dependency set.
func (c *PackageClosure) Missing() map[string]igpkg.PackageDependency {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]igpkg.PackageDependency, len(c.missing))
	for k, v := range c.missing {
		out[k] = v
	}
	return out
}

// Get returns the accepted reference for name, if any.
func (c *PackageClosure) Get(name string) (igpkg.PackageReference, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.accepted[normalize(name)]
	return ref, ok
}
