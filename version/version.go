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

// Package version implements [VersionSet], an ordered set of semantic
// versions that resolves a range expression to the best match under a
// stable/prerelease policy. Versions must follow semantic versioning.
// The empty string and "latest" are the only non-range inputs handled
// here (both mean the greatest version); other tags such as "current"
// are resolved one layer up, against a listing's dist-tags.
package version

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// VersionSet is an ordered collection of semver versions, one entry
// per input string (duplicates are not merged), partitioned into
// listed and unlisted members. Unlisted versions are
// still resolvable by exact match but are excluded from [VersionSet.
// Latest].
type VersionSet struct {
	listed   []*semver.Version
	unlisted map[string]*semver.Version
}

// New builds a [VersionSet] from raw version strings. unlisted names
// the subset of versions (by their original string) that are marked
// unlisted in the source listing. An unparseable version string is a
// protocol error, reported via the returned error.
func New(versions []string, unlisted map[string]bool) (*VersionSet, error) {
	vs := &VersionSet{unlisted: make(map[string]*semver.Version)}
	for _, raw := range versions {
		sv, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("parse version %q: %w", raw, err)
		}
		if unlisted[raw] {
			vs.unlisted[raw] = sv
			continue
		}
		vs.listed = append(vs.listed, sv)
	}
	sort.Sort(sort.Reverse(bySemver(vs.listed)))
	return vs, nil
}

// bySemver sorts ascending; callers wrap it in sort.Reverse for
// descending (latest-first) order.
type bySemver []*semver.Version

func (b bySemver) Len() int           { return len(b) }
func (b bySemver) Less(i, j int) bool { return b[i].LessThan(b[j]) }
func (b bySemver) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }

// Versions returns the listed versions, greatest first.
func (vs *VersionSet) Versions() []*semver.Version {
	out := make([]*semver.Version, len(vs.listed))
	copy(out, vs.listed)
	return out
}

// Len returns the number of listed versions. Unlisted versions are not
// counted, so Len is smaller than the source listing's `versions` map
// whenever that map has unlisted entries.
func (vs *VersionSet) Len() int { return len(vs.listed) }

// Latest returns the greatest listed version, excluding prereleases
// when stable is true. Returns nil if no version qualifies.
func (vs *VersionSet) Latest(stable bool) *semver.Version {
	for _, v := range vs.listed {
		if stable && v.Prerelease() != "" {
			continue
		}
		return v
	}
	return nil
}

// Resolve returns the greatest version satisfying rng (a semver range
// expression), additionally restricted to non-prerelease versions when
// stable is true. An empty rng or "latest" returns [VersionSet.Latest].
// Returns nil if no version satisfies the constraint.
//
// An exact version that only appears in the unlisted set is still
// resolvable when rng names it precisely.
func (vs *VersionSet) Resolve(rng string, stable bool) (*semver.Version, error) {
	if rng == "" || rng == "latest" {
		return vs.Latest(stable), nil
	}

	if sv, ok := vs.unlisted[rng]; ok {
		return sv, nil
	}

	c, err := semver.NewConstraint(rng)
	if err != nil {
		return nil, fmt.Errorf("parse range %q: %w", rng, err)
	}

	for _, v := range vs.listed {
		if stable && v.Prerelease() != "" {
			continue
		}
		if c.Check(v) {
			return v, nil
		}
	}
	return nil, nil
}
