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

// Package backend declares the [Backend] interface implemented by each
// concrete package-server protocol (NPM, FHIR-flat, and the FHIR CI
// build server). Kept separate from its implementations to avoid
// import cycles between the implementations and [resolve.Resolver].
package backend

import (
	"context"
	"errors"
	"io"

	"github.com/fhir-org/igpkg"
	"github.com/fhir-org/igpkg/listing"
)

// ErrNotFound is returned by a [Backend] when a package or version
// could not be found on that server. It is a 404-equivalent: the
// caller should fall through to the next source, not treat it as
// fatal.
var ErrNotFound = errors.New("package not found on this server")

// Backend is the uniform resolve/fetch interface implemented by every
// package-server protocol.
type Backend interface {
	// Name identifies the backend for logging and error messages, e.g.
	// "npm:registry.npmjs.org".
	Name() string

	// List returns the full listing document for a package name.
	// Returns ErrNotFound if the server has no such package.
	List(ctx context.Context, name string) (*listing.PackageListing, error)

	// Resolve returns a concrete [igpkg.PackageReference] satisfying
	// rangeOrTag for the named package. Returns ErrNotFound if no
	// version on this server satisfies it.
	Resolve(ctx context.Context, name, rangeOrTag string) (igpkg.PackageReference, error)

	// Fetch returns the tarball bytes for a concrete, resolved
	// reference. The caller is responsible for closing the reader.
	Fetch(ctx context.Context, ref igpkg.PackageReference) (io.ReadCloser, error)
}
