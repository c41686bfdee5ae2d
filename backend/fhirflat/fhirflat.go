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

// Package fhirflat implements [Backend], a [backend.Backend] for a
// FHIR-flat registry: the same listing document as NPM, but a flatter
// URL scheme with no scoping and no ".tgz" suffix on tarball URLs.
package fhirflat

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

// Backend queries a FHIR-flat registry.
type Backend struct {
	name   string
	root   string
	client *retryablehttp.Client
}

// New returns a [Backend] rooted at root, stripping any trailing
// slash.
func New(name, root string, client *retryablehttp.Client) *Backend {
	return &Backend{name: name, root: strings.TrimRight(root, "/"), client: client}
}

// Name implements [backend.Backend].
func (b *Backend) Name() string { return b.name }

func (b *Backend) listingURL(name string) string { return fmt.Sprintf("%s/%s", b.root, name) }

func (b *Backend) tarballURL(ref igpkg.PackageReference) string {
	return fmt.Sprintf("%s/%s/%s", b.root, ref.Name(), ref.Version())
}

// List implements [backend.Backend].
func (b *Backend) List(ctx context.Context, name string) (*listing.PackageListing, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", b.listingURL(name), nil)
	if err != nil {
		return nil, fmt.Errorf("fhirflat %s: build request: %w", b.name, err)
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

// Resolve implements [backend.Backend], with the same
// dist-tag-then-range policy as [npm.Backend.Resolve].
func (b *Backend) Resolve(ctx context.Context, name, rangeOrTag string) (igpkg.PackageReference, error) {
	l, err := b.List(ctx, name)
	if err != nil {
		return igpkg.NoReference, err
	}

	if rangeOrTag != "" && rangeOrTag != "latest" {
		if v, ok := l.ResolveTag(rangeOrTag); ok {
			return igpkg.NewPackageReference("", name, v), nil
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

	return igpkg.NewPackageReference("", name, v.Original()), nil
}

// Fetch implements [backend.Backend].
func (b *Backend) Fetch(ctx context.Context, ref igpkg.PackageReference) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", b.tarballURL(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("fhirflat %s: build request: %w", b.name, err)
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
