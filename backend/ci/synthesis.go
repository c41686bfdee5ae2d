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

package ci

import (
	"sort"
	"strings"
	"time"

	"github.com/fhir-org/igpkg"
	"github.com/fhir-org/igpkg/backend"
	"github.com/fhir-org/igpkg/listing"
)

// buildMetaLayout is the "yyyyMMdd-HHmmssZ" build-metadata grammar,
// always a literal "Z" suffix, not an offset.
const buildMetaLayout = "20060102-150405"

// buildTimeLayouts are tried in order against a record's BuildDateIso
// (preferred) or BuildDate field.
var buildTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05",
}

// parseBuildTime parses a record's build timestamp, preferring
// BuildDateIso over BuildDate, trying each known layout.
func parseBuildTime(rec QaRecord) (time.Time, bool) {
	raw := rec.BuildDateIso
	if raw == "" {
		raw = rec.BuildDate
	}
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range buildTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// formattedBuildMeta renders a record's build time in the
// "yyyyMMdd-HHmmssZ" grammar used as version build metadata.
func formattedBuildMeta(rec QaRecord) (string, bool) {
	t, ok := parseBuildTime(rec)
	if !ok {
		return "", false
	}
	return t.UTC().Format(buildMetaLayout) + "Z", true
}

// sanitizeForSemVer replaces every non-alphanumeric byte with '-',
// preserving length.
func sanitizeForSemVer(s string) string {
	b := []byte(s)
	for i, c := range b {
		alnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !alnum {
			b[i] = '-'
		}
	}
	return string(b)
}

// branchFromRepo extracts a branch name following a "branches/" or
// "tree/" marker in repositoryUrl. isDefault reports whether the
// extracted branch is "main" or "master". A repositoryUrl with
// neither marker returns ("", false).
func branchFromRepo(repositoryURL string) (branch string, isDefault bool) {
	for _, marker := range [...]string{"branches/", "tree/"} {
		idx := strings.Index(repositoryURL, marker)
		if idx == -1 {
			continue
		}
		rest := repositoryURL[idx+len(marker):]
		if slash := strings.Index(rest, "/"); slash != -1 {
			branch = rest[:slash]
		} else {
			branch = rest
		}
		return branch, branch == "main" || branch == "master"
	}
	return "", false
}

// repoPrefix joins the first two slash-separated components of
// repositoryUrl with '.', falling back to "ci" when there aren't two.
func repoPrefix(repositoryURL string) string {
	trimmed := strings.Trim(repositoryURL, "/")
	if trimmed == "" {
		return "ci"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "ci"
	}
	return parts[0] + "." + parts[1]
}

// stripIGSuffix removes a trailing "/ImplementationGuide/..." segment
// from a site canonical URL.
func stripIGSuffix(u string) string {
	if idx := strings.Index(u, "/ImplementationGuide/"); idx != -1 {
		return u[:idx]
	}
	return u
}

// versionStringOf deterministically synthesizes a semver string from
// a single QaRecord.
func versionStringOf(rec QaRecord) string {
	version := rec.PackageVersion
	if version == "" {
		version = "0.0.0"
	}

	prerelease := ""
	if !strings.Contains(rec.PackageVersion, "-") {
		prerelease = "-cibuild"
	}

	meta, ok := formattedBuildMeta(rec)
	if !ok {
		branch, isDefault := branchFromRepo(rec.RepositoryURL)
		if branch != "" && !isDefault {
			prerelease += ".b-" + sanitizeForSemVer(branch)
		}
		meta = repoPrefix(rec.RepositoryURL)
	}

	return version + prerelease + "+" + sanitizeForSemVer(meta)
}

// tarballURLForRecord builds a record's tarball URL: the site URL
// (with any ImplementationGuide suffix stripped) plus "/package.tgz",
// or "/branches/{branch}/package.tgz" when the record was built off a
// non-default branch.
func tarballURLForRecord(rec QaRecord) string {
	base := stripIGSuffix(rec.URL)
	branch, isDefault := branchFromRepo(rec.RepositoryURL)
	if branch != "" && !isDefault {
		return base + "/branches/" + branch + "/package.tgz"
	}
	return base + "/package.tgz"
}

// synthesizeListing builds the [listing.PackageListing] for one
// packageId's grouped records.
func synthesizeListing(packageID string, records []QaRecord) (*listing.PackageListing, error) {
	sorted := make([]QaRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Status < sorted[j].Status })

	l := &listing.PackageListing{
		ID:       packageID,
		Name:     packageID,
		Versions: make(map[string]listing.Release, len(sorted)),
		DistTags: make(map[string]string),
	}

	versions := make([]string, len(sorted))
	for i, rec := range sorted {
		v := versionStringOf(rec)
		versions[i] = v
		if _, exists := l.Versions[v]; exists {
			continue // earliest status (active before retired) wins
		}
		l.Versions[v] = listing.Release{
			Dist:        listing.Dist{Tarball: tarballURLForRecord(rec)},
			FHIRVersion: rec.FHIRVersion,
			URL:         stripIGSuffix(rec.URL),
		}
	}

	// Dist-tags are built from the same records ordered by build date
	// ascending, so a later build overwrites an earlier one's tag.
	tagOrder := make([]int, len(sorted))
	for i := range tagOrder {
		tagOrder[i] = i
	}
	sort.SliceStable(tagOrder, func(i, j int) bool {
		ti, oki := parseBuildTime(sorted[tagOrder[i]])
		tj, okj := parseBuildTime(sorted[tagOrder[j]])
		if !oki || !okj {
			return false
		}
		return ti.Before(tj)
	})

	currentSetByDefaultBranch := false
	for _, idx := range tagOrder {
		rec := sorted[idx]
		branch, isDefault := branchFromRepo(rec.RepositoryURL)

		tag := "current"
		if branch != "" {
			tag = "current$" + branch
		}
		l.DistTags[tag] = versions[idx]

		if isDefault && !currentSetByDefaultBranch {
			l.DistTags["current"] = versions[idx]
			currentSetByDefaultBranch = true
		}
	}

	return l, nil
}

// qaRecordFromVersion resolves discriminator (a tag, bare branch name,
// semver range, or exact version) against l and records, returning the
// underlying QaRecord and the concrete version string it resolved to.
func qaRecordFromVersion(server, name string, records []QaRecord, l *listing.PackageListing, discriminator string) (QaRecord, string, error) {
	if discriminator == "" {
		discriminator = "current"
	}

	version := discriminator
	if !strings.Contains(discriminator, "+") {
		if v, ok := l.DistTags[discriminator]; ok {
			version = v
		} else if v, ok := l.DistTags["current$"+discriminator]; ok {
			version = v
		} else {
			vs, err := l.ToVersionSet()
			if err != nil {
				return QaRecord{}, "", &igpkg.ProtocolError{Server: server, Name: name, Reason: err.Error()}
			}
			// Every synthesized version carries a prerelease, so
			// prereleases must stay eligible here.
			sv, err := vs.Resolve(discriminator, false)
			if err != nil {
				return QaRecord{}, "", &igpkg.ProtocolError{Server: server, Name: name, Reason: err.Error()}
			}
			if sv == nil {
				return QaRecord{}, "", backend.ErrNotFound
			}
			version = sv.Original()
		}
	}

	idx := strings.LastIndex(version, "+")
	if idx == -1 {
		return QaRecord{}, "", &igpkg.ProtocolError{Server: server, Name: name, Reason: "synthesized version has no build metadata: " + version}
	}
	meta := version[idx+1:]

	for _, rec := range records {
		formatted, ok := formattedBuildMeta(rec)
		if ok && formatted == meta {
			return rec, version, nil
		}
	}

	return QaRecord{}, "", backend.ErrNotFound
}
