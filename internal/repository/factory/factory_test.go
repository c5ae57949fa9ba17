package factory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wheelhouse/wheelhouse/internal/metacache"
	"github.com/wheelhouse/wheelhouse/internal/repository"
	"github.com/wheelhouse/wheelhouse/internal/repository/local"
	"github.com/wheelhouse/wheelhouse/internal/repository/remote"
	s3repo "github.com/wheelhouse/wheelhouse/internal/repository/s3"
)

func testOptions() Options {
	return Options{
		Client: &http.Client{},
		Cache:  metacache.NewMemory(),
	}
}

func TestFromSpecLocalDirectory(t *testing.T) {
	repo, err := FromSpec(context.Background(), t.TempDir(), testOptions())
	if err != nil {
		t.Fatalf("FromSpec: %v", err)
	}
	if _, ok := repo.(*local.Repository); !ok {
		t.Errorf("repository type = %T, want *local.Repository", repo)
	}
}

func TestFromSpecRemoteURL(t *testing.T) {
	for _, spec := range []string{"http://pypi.example/simple/", "https://pypi.example/simple/"} {
		repo, err := FromSpec(context.Background(), spec, testOptions())
		if err != nil {
			t.Fatalf("FromSpec(%q): %v", spec, err)
		}
		if _, ok := repo.(*remote.Repository); !ok {
			t.Errorf("FromSpec(%q) type = %T, want *remote.Repository", spec, repo)
		}
	}
}

func TestFromSpecS3(t *testing.T) {
	var probed string
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probed = r.Method + " " + r.URL.Path
	}))
	defer endpoint.Close()

	opts := testOptions()
	opts.S3 = s3repo.Config{
		Endpoint:     endpoint.URL,
		AccessKey:    "test",
		SecretKey:    "test",
		Region:       "us-east-1",
		UsePathStyle: true,
	}

	repo, err := FromSpec(context.Background(), "s3://wheels/nightly", opts)
	if err != nil {
		t.Fatalf("FromSpec: %v", err)
	}
	if _, ok := repo.(*s3repo.Repository); !ok {
		t.Errorf("repository type = %T, want *s3.Repository", repo)
	}
	// The startup probe reveals which bucket the locator selected.
	if probed != "HEAD /wheels" {
		t.Errorf("bucket probe = %q, want HEAD /wheels", probed)
	}
}

func TestFromSpecS3MissingBucket(t *testing.T) {
	_, err := FromSpec(context.Background(), "s3://", testOptions())
	if err == nil || !strings.Contains(err.Error(), "missing bucket name") {
		t.Errorf("error = %v, want a missing-bucket error", err)
	}
}

func TestFromSpecInvalid(t *testing.T) {
	_, err := FromSpec(context.Background(), "no-such-directory", testOptions())
	if err == nil || !strings.Contains(err.Error(), "invalid repository") {
		t.Errorf("error = %v, want an invalid-repository error", err)
	}
}

func TestBuildRequiresRepository(t *testing.T) {
	_, err := Build(context.Background(), nil, testOptions())
	if err == nil {
		t.Error("expected an error for an empty repository list")
	}
}

func TestBuildWrapsWithMetadataInjector(t *testing.T) {
	repo, err := Build(context.Background(), []string{t.TempDir()}, testOptions())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := repo.(*repository.MetadataInjector); !ok {
		t.Errorf("repository type = %T, want *repository.MetadataInjector", repo)
	}
}

func TestBuildStopsAtFirstBadRepository(t *testing.T) {
	_, err := Build(context.Background(), []string{t.TempDir(), "no-such-directory"}, testOptions())
	if err == nil {
		t.Error("expected the invalid second repository to fail the build")
	}
}
