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

package cache

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fhir-org/igpkg"
	"github.com/pkg/errors"
)

// MemoryCache is an in-memory [CacheBackend] used by tests. It extracts only package/package.json from a
// tarball (enough to satisfy ReadManifest); it is not a substitute for
// a real on-disk cache, which is explicitly out of scope for this
// module.
type MemoryCache struct {
	mu        sync.RWMutex
	manifests map[string]*igpkg.PackageManifest
	refs      map[string][]igpkg.PackageReference
}

// NewMemoryCache returns an empty [MemoryCache].
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		manifests: make(map[string]*igpkg.PackageManifest),
		refs:      make(map[string][]igpkg.PackageReference),
	}
}

func key(ref igpkg.PackageReference) string { return ref.Moniker() }

// IsInstalled implements [CacheBackend].
func (c *MemoryCache) IsInstalled(_ context.Context, ref igpkg.PackageReference) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.manifests[key(ref)]
	return ok, nil
}

// ReadManifest implements [CacheBackend].
func (c *MemoryCache) ReadManifest(_ context.Context, ref igpkg.PackageReference) (*igpkg.PackageManifest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.manifests[key(ref)]
	if !ok {
		return nil, fmt.Errorf("not installed: %s", ref.Moniker())
	}
	return m, nil
}

// Install implements [CacheBackend]. It reads package/package.json out
// of tarball and records it; other files in the archive are discarded
// since no component in this module reads them.
func (c *MemoryCache) Install(_ context.Context, ref igpkg.PackageReference, tarball io.Reader) error {
	manifest, err := readManifest(tarball)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("install %s", ref.Moniker()))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.manifests[key(ref)] = manifest
	c.refs[strings.ToLower(ref.Name())] = append(c.refs[strings.ToLower(ref.Name())], ref)
	return nil
}

// GetInstalledVersions implements [CacheBackend].
func (c *MemoryCache) GetInstalledVersions(_ context.Context, name string) ([]igpkg.PackageReference, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	refs := c.refs[strings.ToLower(name)]
	out := make([]igpkg.PackageReference, len(refs))
	copy(out, refs)
	return out, nil
}

// readManifest extracts package/package.json from a gzipped tarball.
func readManifest(r io.Reader) (*igpkg.PackageManifest, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "gzip")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "tar")
		}

		name := strings.TrimPrefix(hdr.Name, "package/")
		if name != "package.json" {
			continue
		}

		var m igpkg.PackageManifest
		if err := json.NewDecoder(tr).Decode(&m); err != nil {
			return nil, errors.Wrap(err, "decode package.json")
		}
		return &m, nil
	}

	return nil, errors.New("package.json not found in tarball")
}
