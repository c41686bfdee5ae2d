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

// Package ci implements [Backend], a [backend.Backend] over the FHIR
// CI build server's aggregated QA record feed at
// https://build.fhir.org/ig/qas.json. Unlike the NPM and FHIR-flat
// backends, nothing here is a real listing document — every version,
// dist-tag, and tarball URL is synthesized from a flat array of build
// records.
package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	giturls "github.com/chainguard-dev/git-urls"
	"github.com/fhir-org/igpkg"
	"github.com/fhir-org/igpkg/backend"
	"github.com/fhir-org/igpkg/internal/httperr"
	"github.com/fhir-org/igpkg/listing"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultRoot is the production CI build server.
const DefaultRoot = "https://build.fhir.org"

// DefaultListingInvalidationSeconds never refreshes a loaded cache.
const DefaultListingInvalidationSeconds = -1

// QaRecord is one entry in qas.json: the build status of a single
// package build.
type QaRecord struct {
	PackageID      string `json:"packageId"`
	PackageVersion string `json:"packageVersion"`
	Name           string `json:"name"`
	Title          string `json:"title,omitempty"`
	Description    string `json:"description,omitempty"`
	Status         string `json:"status"`
	FHIRVersion    string `json:"fhirVersion"`
	URL            string `json:"url"`
	RepositoryURL  string `json:"repositoryUrl,omitempty"`
	BuildDate      string `json:"buildDate,omitempty"`
	BuildDateIso   string `json:"buildDateIso,omitempty"`
}

// snapshot is the CI backend's atomically-swapped cache contents.
type snapshot struct {
	records     []QaRecord
	byPackageID map[string][]QaRecord
	fetchedAt   time.Time
}

// Backend queries the FHIR CI build server.
type Backend struct {
	root                       string
	client                     *retryablehttp.Client
	listingInvalidationSeconds int

	mu   sync.RWMutex
	snap *snapshot
}

// Option configures a [Backend].
type Option func(*Backend)

// WithListingInvalidation sets the cache TTL in seconds: -1 never
// auto-refreshes once loaded, 0 never caches, and any positive value
// refreshes once the cached snapshot is that many seconds old.
func WithListingInvalidation(seconds int) Option {
	return func(b *Backend) { b.listingInvalidationSeconds = seconds }
}

// New returns a [Backend] rooted at root (normally [DefaultRoot]),
// with [DefaultListingInvalidationSeconds] unless overridden by an
// [Option].
func New(root string, client *retryablehttp.Client, opts ...Option) *Backend {
	b := &Backend{
		root:                       strings.TrimRight(root, "/"),
		client:                     client,
		listingInvalidationSeconds: DefaultListingInvalidationSeconds,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements [backend.Backend].
func (b *Backend) Name() string { return fmt.Sprintf("ci:%s", b.root) }

// UpdateCiListingCache forces a refresh of the QA record cache
// regardless of its current age.
func (b *Backend) UpdateCiListingCache(ctx context.Context) error {
	_, err := b.refresh(ctx)
	return err
}

// snapshotFor returns the current cache snapshot, refreshing it first
// if the configured TTL has elapsed or no snapshot has been loaded
// yet.
func (b *Backend) snapshotFor(ctx context.Context) (*snapshot, error) {
	b.mu.RLock()
	snap := b.snap
	b.mu.RUnlock()

	if snap != nil {
		switch {
		case b.listingInvalidationSeconds < 0:
			return snap, nil
		case b.listingInvalidationSeconds > 0 && time.Since(snap.fetchedAt) < time.Duration(b.listingInvalidationSeconds)*time.Second:
			return snap, nil
		}
	}

	return b.refresh(ctx)
}

// refresh downloads qas.json, computes a new snapshot off to the
// side, and publishes it under the lock in one swap. Concurrent
// readers see either the old or the new snapshot, never a partially
// constructed one.
func (b *Backend) refresh(ctx context.Context) (*snapshot, error) {
	records, err := b.downloadQas(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string][]QaRecord, len(records))
	for _, r := range records {
		byID[r.PackageID] = append(byID[r.PackageID], r)
	}
	snap := &snapshot{records: records, byPackageID: byID, fetchedAt: time.Now()}

	b.mu.Lock()
	if b.listingInvalidationSeconds != 0 {
		b.snap = snap
	}
	b.mu.Unlock()

	return snap, nil
}

func (b *Backend) downloadQas(ctx context.Context) ([]QaRecord, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", b.root+"/ig/qas.json", nil)
	if err != nil {
		return nil, fmt.Errorf("ci: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &igpkg.TransportError{Server: b.Name(), Err: err}
	}
	defer resp.Body.Close()

	if err := httperr.FromStatus(b.Name(), resp.StatusCode); err != nil {
		return nil, err
	}

	var records []QaRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, &igpkg.ProtocolError{Server: b.Name(), Name: "qas.json", Reason: err.Error()}
	}
	return records, nil
}

// List implements [backend.Backend].
func (b *Backend) List(ctx context.Context, name string) (*listing.PackageListing, error) {
	snap, err := b.snapshotFor(ctx)
	if err != nil {
		return nil, err
	}
	records, ok := snap.byPackageID[name]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return synthesizeListing(name, records)
}

// Resolve implements [backend.Backend]. rangeOrTag accepts the tag
// grammar (`current`, `current$<branch>`, a bare branch name,
// `latest`, empty) as well as a semver range or exact version.
func (b *Backend) Resolve(ctx context.Context, name, rangeOrTag string) (igpkg.PackageReference, error) {
	snap, err := b.snapshotFor(ctx)
	if err != nil {
		return igpkg.NoReference, err
	}
	records, ok := snap.byPackageID[name]
	if !ok {
		return igpkg.NoReference, backend.ErrNotFound
	}

	l, err := synthesizeListing(name, records)
	if err != nil {
		return igpkg.NoReference, err
	}

	_, version, err := qaRecordFromVersion(b.Name(), name, records, l, rangeOrTag)
	if err != nil {
		return igpkg.NoReference, err
	}

	return igpkg.NewPackageReference(igpkg.CIScope, name, version), nil
}

// Fetch implements [backend.Backend]. ref must carry [igpkg.CIScope];
// any other scope is a [igpkg.MisroutedError].
func (b *Backend) Fetch(ctx context.Context, ref igpkg.PackageReference) (io.ReadCloser, error) {
	if ref.Scope() != igpkg.CIScope {
		return nil, &igpkg.MisroutedError{Scope: ref.Scope(), Want: igpkg.CIScope}
	}

	snap, err := b.snapshotFor(ctx)
	if err != nil {
		return nil, err
	}
	records, ok := snap.byPackageID[ref.Name()]
	if !ok {
		return nil, backend.ErrNotFound
	}

	l, err := synthesizeListing(ref.Name(), records)
	if err != nil {
		return nil, err
	}

	rec, _, err := qaRecordFromVersion(b.Name(), ref.Name(), records, l, ref.Version())
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", tarballURLForRecord(rec), nil)
	if err != nil {
		return nil, fmt.Errorf("ci: build request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &igpkg.TransportError{Server: b.Name(), Err: err}
	}
	if err := httperr.FromStatus(b.Name(), resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp.Body, nil
}

// GetVersions returns every synthesized version for name, verifying
// that the count matches the listing's own version count. A mismatch
// indicates a synthesis bug and is reported as an
// [igpkg.VersionMismatchError] rather than silently tolerated.
func (b *Backend) GetVersions(ctx context.Context, name string) ([]string, error) {
	snap, err := b.snapshotFor(ctx)
	if err != nil {
		return nil, err
	}
	records, ok := snap.byPackageID[name]
	if !ok {
		return nil, backend.ErrNotFound
	}

	l, err := synthesizeListing(name, records)
	if err != nil {
		return nil, err
	}

	versions := make([]string, 0, len(l.Versions))
	for v := range l.Versions {
		versions = append(versions, v)
	}
	sort.Strings(versions)

	vs, err := l.ToVersionSet()
	if err != nil {
		return nil, &igpkg.ProtocolError{Server: b.Name(), Name: name, Reason: err.Error()}
	}
	if vs.Len() != len(versions) {
		return nil, &igpkg.VersionMismatchError{Name: name, Want: len(versions), Got: vs.Len()}
	}

	return versions, nil
}

// CatalogFilter narrows [Backend.CatalogPackages]. All set fields must
// match (AND semantics); a zero-value filter matches every package.
type CatalogFilter struct {
	PackageID        string
	FHIRVersion      string
	URL              string
	RepositoryPrefix string
	Branch           string
}

// CatalogPackages returns one record per distinct packageId (first hit
// wins) matching filter.
func (b *Backend) CatalogPackages(ctx context.Context, filter CatalogFilter) ([]QaRecord, error) {
	snap, err := b.snapshotFor(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	out := make([]QaRecord, 0, len(snap.records))
	for _, rec := range snap.records {
		if filter.PackageID != "" && rec.PackageID != filter.PackageID {
			continue
		}
		if filter.FHIRVersion != "" && rec.FHIRVersion != filter.FHIRVersion {
			continue
		}
		if filter.URL != "" && rec.URL != filter.URL {
			continue
		}
		if filter.RepositoryPrefix != "" && !strings.HasPrefix(stripGithubHost(rec.RepositoryURL), filter.RepositoryPrefix) {
			continue
		}
		if filter.Branch != "" && !strings.HasSuffix(rec.RepositoryURL, "/branches/"+filter.Branch+"/qa.json") {
			continue
		}
		if seen[rec.PackageID] {
			continue
		}
		seen[rec.PackageID] = true
		out = append(out, rec)
	}

	return out, nil
}

// stripGithubHost strips the host portion of a repository URL,
// tolerating both full GitHub URLs and bare "owner/repo" paths.
func stripGithubHost(repo string) string {
	u, err := giturls.Parse(repo)
	// A bare path parses as a local file URL whose host is the owner;
	// keep it whole instead.
	if err != nil || (u.Scheme == "file" && !strings.HasPrefix(repo, "file:")) {
		return strings.TrimPrefix(repo, "/")
	}
	return strings.TrimPrefix(u.Path, "/")
}
