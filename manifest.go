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

package igpkg

// PackageManifest is the contents of the package.json found inside a
// FHIR Implementation Guide's tarball. Only [PackageManifest.
// GetDependencies] and [PackageManifest.GetPackageReference] are
// consumed by the resolve/closure/restore packages; the rest of the
// fields are carried because a real package.json has them.
type PackageManifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	License     string `json:"license,omitempty"`
	Homepage    string `json:"homepage,omitempty"`

	// Dependencies maps a required package's name to a semver range.
	Dependencies map[string]string `json:"dependencies,omitempty"`

	// Keywords are free-text tags as published in package.json.
	Keywords []string `json:"keywords,omitempty"`

	// FHIRVersions lists the FHIR versions (e.g. "4.0.1") this IG
	// targets.
	FHIRVersions []string `json:"fhirVersions,omitempty"`

	// Canonical is the IG's canonical base URL.
	Canonical string `json:"canonical,omitempty"`
}

// GetDependencies returns the manifest's dependencies as
// [PackageDependency] values.
func (m *PackageManifest) GetDependencies() []PackageDependency {
	deps := make([]PackageDependency, 0, len(m.Dependencies))
	for name, rng := range m.Dependencies {
		deps = append(deps, PackageDependency{Name: name, Range: rng})
	}
	return deps
}

// GetPackageReference returns a concrete [PackageReference] for the
// package this manifest describes.
func (m *PackageManifest) GetPackageReference() PackageReference {
	return NewPackageReference("", m.Name, m.Version)
}
