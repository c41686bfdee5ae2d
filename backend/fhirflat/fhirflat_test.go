package fhirflat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fhir-org/igpkg"
	"github.com/fhir-org/igpkg/backend/fhirflat"
	"github.com/fhir-org/igpkg/internal/httpclient"
	"gotest.tools/v3/assert"
)

func sampleListingJSON() []byte {
	body, _ := json.Marshal(map[string]any{
		"name": "cinc.fhir.ig",
		"versions": map[string]any{
			"0.3.8": map[string]any{"dist": map[string]any{"tarball": "https://example/cinc.fhir.ig/0.3.8"}},
			"0.3.9": map[string]any{"dist": map[string]any{"tarball": "https://example/cinc.fhir.ig/0.3.9"}},
		},
		"dist-tags": map[string]any{"latest": "0.3.9"},
	})
	return body
}

func TestBackend_List(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/cinc.fhir.ig")
		w.Header().Set("Content-Type", "application/json")
		w.Write(sampleListingJSON())
	}))
	t.Cleanup(srv.Close)

	b := fhirflat.New("fhirflat:test", srv.URL, httpclient.New(httpclient.Options{}))
	l, err := b.List(context.Background(), "cinc.fhir.ig")
	assert.NilError(t, err)
	assert.Equal(t, len(l.Versions), 2)
}

func TestBackend_Resolve_Latest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(sampleListingJSON())
	}))
	t.Cleanup(srv.Close)

	b := fhirflat.New("fhirflat:test", srv.URL, httpclient.New(httpclient.Options{}))
	ref, err := b.Resolve(context.Background(), "cinc.fhir.ig", "latest")
	assert.NilError(t, err)
	assert.Equal(t, ref.Version(), "0.3.9")
}

func TestBackend_Fetch_URLHasNoTgzSuffix(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/cinc.fhir.ig/0.3.9")
		w.Write([]byte("tarball-bytes"))
	}))
	t.Cleanup(srv.Close)

	b := fhirflat.New("fhirflat:test", srv.URL, httpclient.New(httpclient.Options{}))
	rc, err := b.Fetch(context.Background(), igpkg.NewPackageReference("", "cinc.fhir.ig", "0.3.9"))
	assert.NilError(t, err)
	defer rc.Close()
}
