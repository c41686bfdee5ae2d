package resolve_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"testing"

	"github.com/fhir-org/igpkg"
	"github.com/fhir-org/igpkg/backend"
	"github.com/fhir-org/igpkg/cache"
	"github.com/fhir-org/igpkg/listing"
	"github.com/fhir-org/igpkg/resolve"
	"gotest.tools/v3/assert"
)

// fakeBackend is a minimal, scriptable [backend.Backend] for exercising
// [resolve.Resolver]'s fallback policy without touching the network.
type fakeBackend struct {
	name      string
	resolve   func(name, rangeOrTag string) (igpkg.PackageReference, error)
	listCalls int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) List(_ context.Context, _ string) (*listing.PackageListing, error) {
	f.listCalls++
	return nil, backend.ErrNotFound
}

func (f *fakeBackend) Resolve(_ context.Context, name, rangeOrTag string) (igpkg.PackageReference, error) {
	return f.resolve(name, rangeOrTag)
}

func (f *fakeBackend) Fetch(_ context.Context, _ igpkg.PackageReference) (io.ReadCloser, error) {
	return nil, backend.ErrNotFound
}

func notFound(string, string) (igpkg.PackageReference, error) {
	return igpkg.NoReference, backend.ErrNotFound
}

func found(name, version string) func(string, string) (igpkg.PackageReference, error) {
	return func(string, string) (igpkg.PackageReference, error) {
		return igpkg.NewPackageReference("", name, version), nil
	}
}

func TestResolver_Resolve_FirstBackendWins(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", resolve: found("hl7.fhir.ca.baseline", "1.2.0")}
	secondary := &fakeBackend{name: "secondary", resolve: found("hl7.fhir.ca.baseline", "9.9.9")}

	r := resolve.NewResolver([]backend.Backend{primary, secondary}, cache.NewMemoryCache())
	ref, err := r.Resolve(context.Background(), igpkg.PackageDependency{Name: "hl7.fhir.ca.baseline", Range: "latest"})
	assert.NilError(t, err)
	assert.Equal(t, ref.Version(), "1.2.0")
}

func TestResolver_Resolve_FallsThroughOnNotFound(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", resolve: notFound}
	secondary := &fakeBackend{name: "secondary", resolve: found("hl7.fhir.ca.baseline", "3.0.0")}

	r := resolve.NewResolver([]backend.Backend{primary, secondary}, cache.NewMemoryCache())
	ref, err := r.Resolve(context.Background(), igpkg.PackageDependency{Name: "hl7.fhir.ca.baseline", Range: "latest"})
	assert.NilError(t, err)
	assert.Equal(t, ref.Version(), "3.0.0")
}

func TestResolver_Resolve_TransportErrorFallsThroughUnlessLast(t *testing.T) {
	t.Parallel()

	transportErr := &igpkg.TransportError{Server: "primary", StatusCode: 503}

	t.Run("not the last backend", func(t *testing.T) {
		t.Parallel()
		primary := &fakeBackend{name: "primary", resolve: func(string, string) (igpkg.PackageReference, error) {
			return igpkg.NoReference, transportErr
		}}
		secondary := &fakeBackend{name: "secondary", resolve: found("hl7.fhir.ca.baseline", "1.0.0")}

		r := resolve.NewResolver([]backend.Backend{primary, secondary}, cache.NewMemoryCache())
		ref, err := r.Resolve(context.Background(), igpkg.PackageDependency{Name: "hl7.fhir.ca.baseline", Range: "latest"})
		assert.NilError(t, err)
		assert.Equal(t, ref.Version(), "1.0.0")
	})

	t.Run("the last backend", func(t *testing.T) {
		t.Parallel()
		only := &fakeBackend{name: "only", resolve: func(string, string) (igpkg.PackageReference, error) {
			return igpkg.NoReference, transportErr
		}}

		r := resolve.NewResolver([]backend.Backend{only}, cache.NewMemoryCache())
		_, err := r.Resolve(context.Background(), igpkg.PackageDependency{Name: "hl7.fhir.ca.baseline", Range: "latest"})
		assert.ErrorContains(t, err, "503")
	})
}

func TestResolver_Resolve_ProtocolErrorIsFatal(t *testing.T) {
	t.Parallel()

	protoErr := &igpkg.ProtocolError{Server: "primary", Name: "hl7.fhir.ca.baseline", Reason: "malformed dist-tags"}
	primary := &fakeBackend{name: "primary", resolve: func(string, string) (igpkg.PackageReference, error) {
		return igpkg.NoReference, protoErr
	}}
	secondary := &fakeBackend{name: "secondary", resolve: found("hl7.fhir.ca.baseline", "1.0.0")}

	r := resolve.NewResolver([]backend.Backend{primary, secondary}, cache.NewMemoryCache())
	_, err := r.Resolve(context.Background(), igpkg.PackageDependency{Name: "hl7.fhir.ca.baseline", Range: "latest"})
	assert.ErrorContains(t, err, "malformed dist-tags")
}

func TestResolver_Resolve_FallsBackToCache(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", resolve: notFound}
	c := cache.NewMemoryCache()
	ctx := context.Background()
	assert.NilError(t, c.Install(ctx, igpkg.NewPackageReference("", "hl7.fhir.ca.baseline", "1.0.0"), mustTarball(t)))

	r := resolve.NewResolver([]backend.Backend{primary}, c)
	ref, err := r.Resolve(ctx, igpkg.PackageDependency{Name: "hl7.fhir.ca.baseline", Range: "latest"})
	assert.NilError(t, err)
	assert.Equal(t, ref.Version(), "1.0.0")
}

func TestResolver_Resolve_NoSourceSatisfiesReturnsNoReference(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", resolve: notFound}
	r := resolve.NewResolver([]backend.Backend{primary}, cache.NewMemoryCache())
	ref, err := r.Resolve(context.Background(), igpkg.PackageDependency{Name: "hl7.fhir.ca.baseline", Range: "latest"})
	assert.NilError(t, err)
	assert.Assert(t, ref.NotFound())
}

func TestResolver_GetLatest_PicksGreatestAcrossBackends(t *testing.T) {
	t.Parallel()

	a := &fakeBackend{name: "a", resolve: found("hl7.fhir.ca.baseline", "1.5.0")}
	b := &fakeBackend{name: "b", resolve: found("hl7.fhir.ca.baseline", "2.0.0")}

	r := resolve.NewResolver(nil, cache.NewMemoryCache())
	ref, err := r.GetLatest(context.Background(), []backend.Backend{a, b}, "hl7.fhir.ca.baseline")
	assert.NilError(t, err)
	assert.Equal(t, ref.Version(), "2.0.0")
}

// mustTarball builds a minimal package/package.json tarball; the full
// extraction path is already covered by the cache package's own tests.
func mustTarball(t *testing.T) io.Reader {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	body := []byte(`{"name":"hl7.fhir.ca.baseline","version":"1.0.0"}`)
	assert.NilError(t, tw.WriteHeader(&tar.Header{
		Name: "package/package.json",
		Mode: 0o644,
		Size: int64(len(body)),
	}))
	_, err := tw.Write(body)
	assert.NilError(t, err)
	assert.NilError(t, tw.Close())
	assert.NilError(t, gz.Close())
	return &buf
}
