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

// Package npm implements [Backend], a [backend.Backend] for any
// registry that speaks the NPM package-listing protocol.
package npm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fhir-org/igpkg"
	"github.com/fhir-org/igpkg/backend"
	"github.com/fhir-org/igpkg/internal/httperr"
	"github.com/fhir-org/igpkg/listing"
	"github.com/hashicorp/go-retryablehttp"
)

// Backend queries an NPM-protocol registry, e.g. registry.npmjs.org or
// a self-hosted Verdaccio instance.
type Backend struct {
	name   string
	root   string
	client *retryablehttp.Client
}

// New returns a [Backend] rooted at root, stripping any trailing
// slash. name identifies the backend in error messages.
func New(name, root string, client *retryablehttp.Client) *Backend {
	return &Backend{
		name:   name,
		root:   strings.TrimRight(root, "/"),
		client: client,
	}
}

// Name implements [backend.Backend].
func (b *Backend) Name() string { return b.name }

// listingURL builds the registry's package-document URL, URL-encoding
// the scope separator for scoped packages per NPM convention.
func (b *Backend) listingURL(scope, name string) string {
	if scope == "" {
		return fmt.Sprintf("%s/%s", b.root, name)
	}
	return fmt.Sprintf("%s/@%s%%2F%s", b.root, scope, name)
}

// tarballURL builds the registry's tarball URL for a resolved
// reference.
func (b *Backend) tarballURL(ref igpkg.PackageReference) string {
	if ref.Scope() == "" {
		return fmt.Sprintf("%s/%s/-/%s-%s.tgz", b.root, ref.Name(), ref.Name(), ref.Version())
	}
	return fmt.Sprintf("%s/@%s/%s/-/%s-%s.tgz", b.root, ref.Scope(), ref.Name(), ref.Name(), ref.Version())
}

// List implements [backend.Backend].
func (b *Backend) List(ctx context.Context, name string) (*listing.PackageListing, error) {
	scope, unscoped := splitScope(name)
	return b.fetchListing(ctx, scope, unscoped)
}

func (b *Backend) fetchListing(ctx context.Context, scope, name string) (*listing.PackageListing, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", b.listingURL(scope, name), nil)
	if err != nil {
		return nil, fmt.Errorf("npm %s: build request: %w", b.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &igpkg.TransportError{Server: b.name, Err: err}
	}
	defer resp.Body.Close()

	if err := httperr.FromStatus(b.name, resp.StatusCode); err != nil {
		return nil, err
	}

	var l listing.PackageListing
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return nil, &igpkg.ProtocolError{Server: b.name, Name: name, Reason: fmt.Sprintf("decode listing: %v", err)}
	}
	if err := l.Validate(); err != nil {
		return nil, &igpkg.ProtocolError{Server: b.name, Name: name, Reason: err.Error()}
	}

	return &l, nil
}

// Resolve implements [backend.Backend]. The empty string and "latest"
// resolve to the greatest stable version in the listing, without
// consulting dist-tags. Any other rangeOrTag is looked up in the
// listing's dist-tags first; if no tag has that name it is treated as
// a semver range against the listing's versions.
func (b *Backend) Resolve(ctx context.Context, name, rangeOrTag string) (igpkg.PackageReference, error) {
	scope, unscoped := splitScope(name)
	l, err := b.fetchListing(ctx, scope, unscoped)
	if err != nil {
		return igpkg.NoReference, err
	}

	if rangeOrTag != "" && rangeOrTag != "latest" {
		if v, ok := l.ResolveTag(rangeOrTag); ok {
			return igpkg.NewPackageReference(scope, unscoped, v), nil
		}
	}

	vs, err := l.ToVersionSet()
	if err != nil {
		return igpkg.NoReference, &igpkg.ProtocolError{Server: b.name, Name: name, Reason: err.Error()}
	}

	v, err := vs.Resolve(rangeOrTag, true)
	if err != nil {
		return igpkg.NoReference, &igpkg.ProtocolError{Server: b.name, Name: name, Reason: err.Error()}
	}
	if v == nil {
		return igpkg.NoReference, backend.ErrNotFound
	}

	return igpkg.NewPackageReference(scope, unscoped, v.Original()), nil
}

// Fetch implements [backend.Backend].
func (b *Backend) Fetch(ctx context.Context, ref igpkg.PackageReference) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", b.tarballURL(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("npm %s: build request: %w", b.name, err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &igpkg.TransportError{Server: b.name, Err: err}
	}

	if err := httperr.FromStatus(b.name, resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp.Body, nil
}

// splitScope splits an NPM-style "@scope/name" into its parts. A
// plain, unscoped name returns an empty scope.
func splitScope(name string) (scope, unscoped string) {
	if !strings.HasPrefix(name, "@") {
		return "", name
	}
	trimmed := strings.TrimPrefix(name, "@")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return "", name
	}
	return parts[0], parts[1]
}
