package restore_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/fhir-org/igpkg"
	"github.com/fhir-org/igpkg/backend"
	"github.com/fhir-org/igpkg/cache"
	"github.com/fhir-org/igpkg/listing"
	"github.com/fhir-org/igpkg/resolve"
	"github.com/fhir-org/igpkg/restore"
	"gotest.tools/v3/assert"
)

// pkgFixture is one node in a small, in-memory package graph served by
// a fakeRegistry, standing in for a real NPM or FHIR-flat server.
type pkgFixture struct {
	version string
	deps    map[string]string
}

type fakeRegistry struct {
	packages map[string]pkgFixture
}

func (f *fakeRegistry) Name() string { return "fake" }

func (f *fakeRegistry) List(_ context.Context, _ string) (*listing.PackageListing, error) {
	return nil, backend.ErrNotFound
}

func (f *fakeRegistry) Resolve(_ context.Context, name, _ string) (igpkg.PackageReference, error) {
	p, ok := f.packages[name]
	if !ok {
		return igpkg.NoReference, backend.ErrNotFound
	}
	return igpkg.NewPackageReference("", name, p.version), nil
}

func (f *fakeRegistry) Fetch(_ context.Context, ref igpkg.PackageReference) (io.ReadCloser, error) {
	p, ok := f.packages[ref.Name()]
	if !ok {
		return nil, backend.ErrNotFound
	}

	deps := make(map[string]string, len(p.deps))
	for k, v := range p.deps {
		deps[k] = v
	}
	body, err := json.Marshal(struct {
		Name         string            `json:"name"`
		Version      string            `json:"version"`
		Dependencies map[string]string `json:"dependencies"`
	}{ref.Name(), p.version, deps})
	if err != nil {
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(tarballOf(body))), nil
}

// tarballOf wraps body as package/package.json inside a gzipped tar
// archive, the minimum a [cache.CacheBackend] needs to extract it.
func tarballOf(body []byte) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	_ = tw.WriteHeader(&tar.Header{Name: "package/package.json", Mode: 0o644, Size: int64(len(body))})
	_, _ = tw.Write(body)
	_ = tw.Close()
	_ = gz.Close()
	return buf.Bytes()
}

func TestRestorer_Restore_WalksTransitiveDependencies(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{packages: map[string]pkgFixture{
		"a": {version: "1.0.0", deps: map[string]string{"b": "latest"}},
		"b": {version: "2.0.0"},
	}}

	r := resolve.NewResolver([]backend.Backend{registry}, cache.NewMemoryCache())
	c := cache.NewMemoryCache()

	var installedOrder []string
	rest := restore.NewRestorer(r, c, restore.WithOnInstalled(func(_ context.Context, ref igpkg.PackageReference) {
		installedOrder = append(installedOrder, ref.Moniker())
	}))

	root := &igpkg.PackageManifest{
		Name:         "root",
		Version:      "0.0.0",
		Dependencies: map[string]string{"a": "latest"},
	}

	closureResult, err := rest.Restore(context.Background(), root)
	assert.NilError(t, err)

	a, ok := closureResult.Get("a")
	assert.Assert(t, ok)
	assert.Equal(t, a.Version(), "1.0.0")

	b, ok := closureResult.Get("b")
	assert.Assert(t, ok)
	assert.Equal(t, b.Version(), "2.0.0")

	assert.Equal(t, len(installedOrder), 2)
}

func TestRestorer_Restore_MissingDependencyIsRecorded(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{packages: map[string]pkgFixture{}}
	r := resolve.NewResolver([]backend.Backend{registry}, cache.NewMemoryCache())
	c := cache.NewMemoryCache()
	rest := restore.NewRestorer(r, c)

	root := &igpkg.PackageManifest{
		Name:         "root",
		Dependencies: map[string]string{"hl7.terminology.r4": "latest"},
	}

	closureResult, err := rest.Restore(context.Background(), root)
	assert.NilError(t, err)

	missing := closureResult.Missing()
	_, ok := missing["hl7.terminology.r4"]
	assert.Assert(t, ok)
}

func TestRestorer_Restore_BootstrappingCaseSilentlyAccepted(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{packages: map[string]pkgFixture{}}
	r := resolve.NewResolver([]backend.Backend{registry}, cache.NewMemoryCache())
	c := cache.NewMemoryCache()

	// Pre-populate the cache as if this package had been vendored in
	// out of band, so there's no server for it but it's "bootstrapped".
	body, err := json.Marshal(struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}{"hl7.terminology.r4", "1.0.0"})
	assert.NilError(t, err)
	assert.NilError(t, c.Install(context.Background(),
		igpkg.NewPackageReference("", "hl7.terminology.r4", "1.0.0"),
		bytes.NewReader(tarballOf(body))))

	rest := restore.NewRestorer(r, c)
	root := &igpkg.PackageManifest{
		Name:         "root",
		Dependencies: map[string]string{"hl7.terminology.r4": "latest"},
	}

	closureResult, err := rest.Restore(context.Background(), root)
	assert.NilError(t, err)
	assert.Equal(t, len(closureResult.Missing()), 0)
	_, ok := closureResult.Get("hl7.terminology.r4")
	assert.Assert(t, !ok) // accepted silently, no concrete ref recorded
}

func TestRestorer_Restore_OnInstalledSkipsAlreadyCachedBytes(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{packages: map[string]pkgFixture{
		"a": {version: "1.0.0"},
	}}
	r := resolve.NewResolver([]backend.Backend{registry}, cache.NewMemoryCache())
	c := cache.NewMemoryCache()

	// "a"'s tarball is already present in the cache, as if a previous
	// restore had installed it; the registry still resolves it (this
	// isn't the bootstrapping/not-found case).
	body, err := json.Marshal(struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}{"a", "1.0.0"})
	assert.NilError(t, err)
	assert.NilError(t, c.Install(context.Background(),
		igpkg.NewPackageReference("", "a", "1.0.0"),
		bytes.NewReader(tarballOf(body))))

	var installedOrder []string
	rest := restore.NewRestorer(r, c, restore.WithOnInstalled(func(_ context.Context, ref igpkg.PackageReference) {
		installedOrder = append(installedOrder, ref.Moniker())
	}))

	root := &igpkg.PackageManifest{
		Name:         "root",
		Dependencies: map[string]string{"a": "latest"},
	}

	closureResult, err := rest.Restore(context.Background(), root)
	assert.NilError(t, err)

	a, ok := closureResult.Get("a")
	assert.Assert(t, ok)
	assert.Equal(t, a.Version(), "1.0.0")
	assert.Equal(t, len(installedOrder), 0)
}

type erroringBackend struct{}

func (e *erroringBackend) Name() string { return "erroring" }

func (e *erroringBackend) List(context.Context, string) (*listing.PackageListing, error) {
	return nil, backend.ErrNotFound
}

func (e *erroringBackend) Resolve(context.Context, string, string) (igpkg.PackageReference, error) {
	return igpkg.NoReference, &igpkg.ProtocolError{Server: "erroring", Name: "a", Reason: "malformed dist-tags"}
}

func (e *erroringBackend) Fetch(context.Context, igpkg.PackageReference) (io.ReadCloser, error) {
	return nil, backend.ErrNotFound
}

func TestRestorer_Restore_ServerErrorAborts(t *testing.T) {
	t.Parallel()

	r := resolve.NewResolver([]backend.Backend{&erroringBackend{}}, cache.NewMemoryCache())
	c := cache.NewMemoryCache()
	rest := restore.NewRestorer(r, c)

	root := &igpkg.PackageManifest{
		Name:         "root",
		Dependencies: map[string]string{"a": "latest"},
	}

	_, err := rest.Restore(context.Background(), root)
	assert.ErrorContains(t, err, "malformed")
}
