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

// PackageDependency is a requirement on a package: a name and a semver
// range expression. An empty Range, or the literal string "latest",
// means "the latest stable release."
type PackageDependency struct {
	// Name is the required package's name.
	Name string

	// Range is a semver range expression, e.g. ">=1.0.0 <2.0.0". May be
	// empty or "latest".
	Range string
}

// IsLatest returns true if this dependency should resolve to the
// latest stable release rather than a specific range.
func (d PackageDependency) IsLatest() bool {
	return d.Range == "" || d.Range == "latest"
}

// String returns a user-friendly "name@range" representation.
func (d PackageDependency) String() string {
	if d.Range == "" {
		return d.Name
	}
	return d.Name + "@" + d.Range
}
