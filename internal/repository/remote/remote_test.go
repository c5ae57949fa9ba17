package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wheelhouse/wheelhouse/internal/repository"
)

const upstreamListJSON = `{"meta":{"api-version":"1.0"},"projects":[{"name":"Zeta_Pkg"},{"name":"alpha"}]}`

const upstreamPageJSON = `{
  "meta": {"api-version": "1.0"},
  "name": "demo",
  "files": [
    {"filename": "demo-1.0-py3-none-any.whl", "url": "../../packages/demo-1.0-py3-none-any.whl",
     "hashes": {"sha256": "abc123"}, "requires-python": ">=3.8", "core-metadata": true},
    {"filename": "demo-1.0.tar.gz", "url": "https://files.example/demo-1.0.tar.gz", "hashes": {}},
    {"filename": "demo-2.0-py3-none-any.whl", "url": "demo-2.0-py3-none-any.whl",
     "hashes": {}, "core-metadata": {"sha256": "def456"}}
  ]
}`

const upstreamListHTML = `<!DOCTYPE html><html><body>
<a href="/simple/alpha/">alpha</a>
<a href="/simple/zeta-pkg/">Zeta_Pkg</a>
</body></html>`

const upstreamPageHTML = `<!DOCTYPE html><html><body>
<a href="../../packages/demo-1.0-py3-none-any.whl#sha256=abc123" data-requires-python="&gt;=3.8" data-dist-info-metadata="sha256=def">demo-1.0-py3-none-any.whl</a>
<a href="https://files.example/demo-1.0.tar.gz">demo-1.0.tar.gz</a>
</body></html>`

func jsonIndex(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/simple/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.pypi.simple.v1+json")
		w.Write([]byte(upstreamListJSON))
	})
	mux.HandleFunc("/simple/demo/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.pypi.simple.v1+json")
		w.Write([]byte(upstreamPageJSON))
	})
	return httptest.NewServer(mux)
}

func TestProjectListJSON(t *testing.T) {
	ts := jsonIndex(t)
	defer ts.Close()
	repo := New(ts.URL+"/simple/", ts.Client())

	list, err := repo.GetProjectList(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetProjectList: %v", err)
	}
	// Upstream names come back canonicalized and sorted.
	if len(list.Projects) != 2 {
		t.Fatalf("projects = %v", list.Projects)
	}
	if list.Projects[0].Name != "alpha" || list.Projects[1].Name != "zeta-pkg" {
		t.Errorf("projects = %v, want [alpha zeta-pkg]", list.Projects)
	}
}

func TestProjectListHTMLFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(upstreamListHTML))
	}))
	defer ts.Close()
	repo := New(ts.URL+"/simple/", ts.Client())

	list, err := repo.GetProjectList(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetProjectList: %v", err)
	}
	if len(list.Projects) != 2 {
		t.Fatalf("projects = %v", list.Projects)
	}
	if list.Projects[0].Name != "alpha" || list.Projects[1].Name != "zeta-pkg" {
		t.Errorf("projects = %v", list.Projects)
	}
}

func TestProjectPageJSON(t *testing.T) {
	ts := jsonIndex(t)
	defer ts.Close()
	repo := New(ts.URL+"/simple/", ts.Client())

	page, err := repo.GetProjectPage(context.Background(), "demo", nil)
	if err != nil {
		t.Fatalf("GetProjectPage: %v", err)
	}
	if page.Name != "demo" {
		t.Errorf("Name = %q", page.Name)
	}
	if len(page.Files) != 3 {
		t.Fatalf("files = %v", page.Files)
	}

	// Relative upstream URLs are resolved against the page URL.
	wheel := page.Files[0]
	want := ts.URL + "/packages/demo-1.0-py3-none-any.whl"
	if wheel.URL != want {
		t.Errorf("URL = %q, want %q", wheel.URL, want)
	}
	if wheel.Hashes["sha256"] != "abc123" {
		t.Errorf("Hashes = %v", wheel.Hashes)
	}
	if wheel.RequiresPython != ">=3.8" {
		t.Errorf("RequiresPython = %q", wheel.RequiresPython)
	}
	if !wheel.CoreMetadata {
		t.Error("CoreMetadata should carry through")
	}

	// Absolute URLs stay as sent.
	if page.Files[1].URL != "https://files.example/demo-1.0.tar.gz" {
		t.Errorf("URL = %q", page.Files[1].URL)
	}

	// PyPI encodes the marker as a hash object rather than a boolean.
	if !page.Files[2].CoreMetadata {
		t.Error("CoreMetadata not detected from the hash-object form")
	}
}

func TestProjectPageHTMLFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(upstreamPageHTML))
	}))
	defer ts.Close()
	repo := New(ts.URL+"/simple/", ts.Client())

	page, err := repo.GetProjectPage(context.Background(), "demo", nil)
	if err != nil {
		t.Fatalf("GetProjectPage: %v", err)
	}
	if len(page.Files) != 2 {
		t.Fatalf("files = %v", page.Files)
	}

	wheel := page.Files[0]
	if wheel.Filename != "demo-1.0-py3-none-any.whl" {
		t.Errorf("Filename = %q", wheel.Filename)
	}
	// The digest moves from the URL fragment into the hash map.
	if wheel.Hashes["sha256"] != "abc123" {
		t.Errorf("Hashes = %v", wheel.Hashes)
	}
	want := ts.URL + "/packages/demo-1.0-py3-none-any.whl"
	if wheel.URL != want {
		t.Errorf("URL = %q, want the fragment stripped: %q", wheel.URL, want)
	}
	if wheel.RequiresPython != ">=3.8" {
		t.Errorf("RequiresPython = %q", wheel.RequiresPython)
	}
	// The legacy attribute name counts as a metadata marker too.
	if !wheel.CoreMetadata {
		t.Error("CoreMetadata not detected from data-dist-info-metadata")
	}
}

func TestProjectPageNotFound(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	repo := New(ts.URL+"/simple/", ts.Client())

	_, err := repo.GetProjectPage(context.Background(), "ghost", nil)
	var notFound *repository.PackageNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want *PackageNotFoundError", err)
	}
	if notFound.Package != "ghost" {
		t.Errorf("Package = %q", notFound.Package)
	}
}

func TestProjectListUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()
	repo := New(ts.URL+"/simple/", ts.Client())

	if _, err := repo.GetProjectList(context.Background(), nil); err == nil {
		t.Error("expected an error for an upstream 502")
	}
}

func TestGetResource(t *testing.T) {
	ts := jsonIndex(t)
	defer ts.Close()
	repo := New(ts.URL+"/simple/", ts.Client())

	res, err := repo.GetResource(context.Background(), "demo", "demo-1.0.tar.gz", nil)
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}
	remote, ok := res.(*repository.HttpResource)
	if !ok {
		t.Fatalf("resource type = %T", res)
	}
	if remote.URL != "https://files.example/demo-1.0.tar.gz" {
		t.Errorf("URL = %q", remote.URL)
	}
}

func TestGetResourceMetadataViaUpstream(t *testing.T) {
	ts := jsonIndex(t)
	defer ts.Close()
	repo := New(ts.URL+"/simple/", ts.Client())

	// The wheel advertises core-metadata, so the metadata document lives
	// next to it upstream.
	res, err := repo.GetResource(context.Background(), "demo", "demo-1.0-py3-none-any.whl.metadata", nil)
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}
	remote := res.(*repository.HttpResource)
	want := ts.URL + "/packages/demo-1.0-py3-none-any.whl.metadata"
	if remote.URL != want {
		t.Errorf("URL = %q, want %q", remote.URL, want)
	}
}

func TestGetResourceUnknown(t *testing.T) {
	ts := jsonIndex(t)
	defer ts.Close()
	repo := New(ts.URL+"/simple/", ts.Client())

	_, err := repo.GetResource(context.Background(), "demo", "ghost.whl", nil)
	var unavailable *repository.ResourceUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want *ResourceUnavailableError", err)
	}

	// Without the advertisement there is no upstream metadata either.
	_, err = repo.GetResource(context.Background(), "demo", "demo-1.0.tar.gz.metadata", nil)
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want *ResourceUnavailableError", err)
	}
}
