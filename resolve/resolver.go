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

// Package resolve implements [Resolver], which resolves a single
// [igpkg.PackageDependency] against a priority chain of [backend.
// Backend]s, falling back to a [cache.CacheBackend] when no server can
// answer. The ideal use case is a [restore.Restorer] walking a
// dependency tree.
package resolve

import (
	"context"
	"errors"
	"io"

	"github.com/Masterminds/semver/v3"
	"github.com/fhir-org/igpkg"
	"github.com/fhir-org/igpkg/backend"
	"github.com/fhir-org/igpkg/cache"
	"github.com/fhir-org/igpkg/version"
	"golang.org/x/time/rate"
)

// Resolver resolves dependencies against an ordered chain of backends,
// then a cache, exactly once per call (no internal memoization — each
// backend is free to cache its own listings, as [ci.Backend] does).
type Resolver struct {
	backends []backend.Backend
	cache    cache.CacheBackend
	limiter  *rate.Limiter
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithRateLimit throttles every [Resolver.Resolve] call to at most r
// requests/sec with the given burst, so a wide manifest cannot hammer
// every configured registry at once.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(res *Resolver) {
		res.limiter = rate.NewLimiter(r, burst)
	}
}

// NewResolver constructs a [Resolver] over backends, consulted in the
// given order, falling back to c when every backend answers
// [backend.ErrNotFound].
func NewResolver(backends []backend.Backend, c cache.CacheBackend, opts ...Option) *Resolver {
	r := &Resolver{backends: backends, cache: c}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a concrete [igpkg.PackageReference] for dep. Backends
// are consulted in priority order; the first to return a resolved
// reference wins. A transport error from any but the last backend is
// treated as "this server cannot answer" and falls through; a
// transport error from the last backend is surfaced, as are protocol
// and misrouted errors from any backend. If every backend answers
// [backend.ErrNotFound], the cache's installed versions are consulted.
// Returns [igpkg.NoReference] (with a nil error) only if no source,
// including the cache, can satisfy dep.
func (r *Resolver) Resolve(ctx context.Context, dep igpkg.PackageDependency) (igpkg.PackageReference, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return igpkg.NoReference, err
		}
	}

	for i, b := range r.backends {
		ref, err := b.Resolve(ctx, dep.Name, dep.Range)
		if err == nil {
			if ref.Found() {
				return ref, nil
			}
			continue
		}

		if errors.Is(err, backend.ErrNotFound) {
			continue
		}

		var transportErr *igpkg.TransportError
		if errors.As(err, &transportErr) {
			if i == len(r.backends)-1 {
				return igpkg.NoReference, err
			}
			continue
		}

		// Protocol, misrouted, or any other unexpected error is fatal.
		return igpkg.NoReference, err
	}

	return r.resolveFromCache(ctx, dep)
}

// resolveFromCache is the Resolver's last-resort fallback, per
// contract.
func (r *Resolver) resolveFromCache(ctx context.Context, dep igpkg.PackageDependency) (igpkg.PackageReference, error) {
	if r.cache == nil {
		return igpkg.NoReference, nil
	}

	installed, err := r.cache.GetInstalledVersions(ctx, dep.Name)
	if err != nil {
		return igpkg.NoReference, err
	}
	if len(installed) == 0 {
		return igpkg.NoReference, nil
	}

	versions := make([]string, 0, len(installed))
	byVersion := make(map[string]igpkg.PackageReference, len(installed))
	for _, ref := range installed {
		versions = append(versions, ref.Version())
		byVersion[ref.Version()] = ref
	}

	vs, err := version.New(versions, nil)
	if err != nil {
		// Installed versions should always be concrete semver; treat a
		// parse failure as "cache can't help" rather than fatal.
		return igpkg.NoReference, nil //nolint:nilerr // Why: cache fallback degrades gracefully.
	}

	best, err := vs.Resolve(dep.Range, true)
	if err != nil || best == nil {
		return igpkg.NoReference, nil //nolint:nilerr // Why: cache fallback degrades gracefully.
	}

	return byVersion[best.Original()], nil
}

// Fetch returns the tarball for ref by trying each configured backend in
// order, skipping one that reports the package unknown or the
// reference misrouted to it, and surfacing any other error from the
// last backend tried.
func (r *Resolver) Fetch(ctx context.Context, ref igpkg.PackageReference) (io.ReadCloser, error) {
	for i, b := range r.backends {
		rc, err := b.Fetch(ctx, ref)
		if err == nil {
			return rc, nil
		}

		if errors.Is(err, backend.ErrNotFound) {
			continue
		}
		var misroutedErr *igpkg.MisroutedError
		if errors.As(err, &misroutedErr) {
			continue
		}

		if i == len(r.backends)-1 {
			return nil, err
		}
	}
	return nil, backend.ErrNotFound
}

// GetLatest queries every backend in backends for the latest version
// of name and returns the one with the numerically greatest version
// among Found results, ties broken by enumeration order. Returns
// [igpkg.NoReference] if no backend has name at all.
func (r *Resolver) GetLatest(ctx context.Context, backends []backend.Backend, name string) (igpkg.PackageReference, error) {
	var best igpkg.PackageReference
	var bestVersion *semver.Version

	for _, b := range backends {
		ref, err := b.Resolve(ctx, name, "latest")
		if err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				continue
			}
			var transportErr *igpkg.TransportError
			if errors.As(err, &transportErr) {
				continue
			}
			return igpkg.NoReference, err
		}
		if !ref.Found() {
			continue
		}

		sv, err := semver.NewVersion(ref.Version())
		if err != nil {
			continue
		}

		if bestVersion == nil || sv.GreaterThan(bestVersion) {
			best = ref
			bestVersion = sv
		}
	}

	return best, nil
}
