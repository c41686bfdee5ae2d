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

// Package cache declares [CacheBackend], the contract the core
// depends on for a local store of installed packages. The on-disk
// layout behind a real implementation is out of scope for this
// module; [CacheBackend] is the only surface the core touches.
package cache

import (
	"context"
	"io"

	"github.com/fhir-org/igpkg"
)

// CacheBackend is a local store of installed packages, queried as the
// Resolver's last-resort source and written to by the Restorer.
//
// Install is assumed to be atomic from the caller's perspective: a
// package either becomes fully installed, or the cache is left
// unchanged.
type CacheBackend interface {
	// IsInstalled reports whether ref is already present in the cache.
	IsInstalled(ctx context.Context, ref igpkg.PackageReference) (bool, error)

	// ReadManifest returns the installed package's manifest.
	ReadManifest(ctx context.Context, ref igpkg.PackageReference) (*igpkg.PackageManifest, error)

	// Install extracts/records tarball under ref.
	Install(ctx context.Context, ref igpkg.PackageReference, tarball io.Reader) error

	// GetInstalledVersions returns every installed reference for a
	// package name, used by the Resolver's cache fallback.
	GetInstalledVersions(ctx context.Context, name string) ([]igpkg.PackageReference, error)
}
