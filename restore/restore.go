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

// Package restore implements [Restorer], which walks a manifest's
// dependency tree to completion, resolving each dependency, installing
// newly-accepted packages into a cache, and recursing into their
// manifests.
package restore

import (
	"context"
	"fmt"

	"github.com/fhir-org/igpkg"
	"github.com/fhir-org/igpkg/cache"
	"github.com/fhir-org/igpkg/closure"
	"github.com/fhir-org/igpkg/resolve"
	"github.com/pkg/errors"
)

// DefaultMaxDepth bounds the recursion depth of a Restore call. Closure
// idempotency already breaks cycles; this guard only protects against
// a cache or closure bug that would otherwise defeat it, turning a
// runaway recursion into a bounded error instead of a stack overflow.
const DefaultMaxDepth = 64

// OnInstalledFunc is called synchronously after a package is newly
// installed into the cache, before its own dependencies are walked.
type OnInstalledFunc func(ctx context.Context, ref igpkg.PackageReference)

// Restorer orchestrates transitive restoration of a manifest's
// dependency tree.
type Restorer struct {
	resolver    *resolve.Resolver
	cache       cache.CacheBackend
	onInstalled OnInstalledFunc
	maxDepth    int
}

// Option configures a [Restorer].
type Option func(*Restorer)

// WithOnInstalled registers a callback invoked after each newly
// installed package.
func WithOnInstalled(fn OnInstalledFunc) Option {
	return func(r *Restorer) { r.onInstalled = fn }
}

// WithMaxDepth overrides [DefaultMaxDepth].
func WithMaxDepth(depth int) Option {
	return func(r *Restorer) { r.maxDepth = depth }
}

// NewRestorer constructs a [Restorer] using resolver to satisfy
// dependencies and c as both the installation target and the
// bootstrapping fallback for already-installed, unresolvable packages.
func NewRestorer(resolver *resolve.Resolver, c cache.CacheBackend, opts ...Option) *Restorer {
	r := &Restorer{resolver: resolver, cache: c, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Restore walks manifest's transitive dependency tree and returns the
// resulting closure. A server error during resolution of any
// dependency aborts the restore and is returned alongside the
// partially-built closure; a 404-equivalent is not an error and simply
// marks that dependency missing (or is silently accepted if it is
// already installed — the bootstrapping case).
func (r *Restorer) Restore(ctx context.Context, manifest *igpkg.PackageManifest) (*closure.PackageClosure, error) {
	c := closure.New()
	err := r.walk(ctx, manifest, c, 0)
	return c, err
}

// walk performs one depth-first pass over manifest's dependencies. The
// order dependencies are visited in is unspecified; the closure's
// idempotent, commutative Add makes the final result independent of
// that order.
func (r *Restorer) walk(ctx context.Context, manifest *igpkg.PackageManifest, c *closure.PackageClosure, depth int) error {
	if depth > r.maxDepth {
		return fmt.Errorf("restore: max depth %d exceeded at %s", r.maxDepth, manifest.Name)
	}

	for _, dep := range manifest.GetDependencies() {
		ref, err := r.resolver.Resolve(ctx, dep)
		if err != nil {
			return fmt.Errorf("restore: resolve %s: %w", dep.Name, err)
		}

		if ref.NotFound() {
			installed, err := r.cache.GetInstalledVersions(ctx, dep.Name)
			if err != nil {
				return fmt.Errorf("restore: check installed %s: %w", dep.Name, err)
			}
			if len(installed) == 0 {
				c.AddMissing(dep)
			}
			// Already installed under some version: bootstrapping case,
			// silently accepted without a concrete reference to add.
			continue
		}

		if !c.Add(ref) {
			// Already accepted at an equal-or-higher version; don't
			// re-fetch or re-walk it.
			continue
		}

		sub, freshlyInstalled, err := r.ensureInstalled(ctx, ref)
		if err != nil {
			return fmt.Errorf("restore: install %s: %w", ref.Moniker(), err)
		}

		if freshlyInstalled && r.onInstalled != nil {
			r.onInstalled(ctx, ref)
		}

		if err := r.walk(ctx, sub, c, depth+1); err != nil {
			return err
		}
	}

	return nil
}

// ensureInstalled fetches and installs ref into the cache if it isn't
// there already, then returns its manifest and whether this call is
// what performed the install.
func (r *Restorer) ensureInstalled(ctx context.Context, ref igpkg.PackageReference) (manifest *igpkg.PackageManifest, freshlyInstalled bool, err error) {
	installed, err := r.cache.IsInstalled(ctx, ref)
	if err != nil {
		return nil, false, err
	}

	if !installed {
		tarball, err := r.resolver.Fetch(ctx, ref)
		if err != nil {
			return nil, false, errors.Wrap(err, "fetch")
		}
		defer tarball.Close()

		if err := r.cache.Install(ctx, ref, tarball); err != nil {
			return nil, false, errors.Wrap(err, "install")
		}
	}

	manifest, err = r.cache.ReadManifest(ctx, ref)
	return manifest, !installed, err
}
