// Package factory builds the serving repository from positional
// repository arguments: an http(s) URL proxies an upstream index, an
// existing directory serves local files, and s3://bucket[/prefix] serves a
// bucket. Multiple repositories combine in priority order.
package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/wheelhouse/wheelhouse/internal/metacache"
	"github.com/wheelhouse/wheelhouse/internal/repository"
	"github.com/wheelhouse/wheelhouse/internal/repository/local"
	"github.com/wheelhouse/wheelhouse/internal/repository/remote"
	s3repo "github.com/wheelhouse/wheelhouse/internal/repository/s3"
)

// Options carries the shared dependencies backends are wired with. S3 holds
// ambient credentials and endpoint settings; bucket and prefix come from
// the repository argument.
type Options struct {
	Client *http.Client
	Cache  metacache.Cache
	S3     s3repo.Config
}

// Build constructs the full repository chain: one backend per argument,
// combined by priority when there is more than one, always wrapped so
// wheel metadata is served.
func Build(ctx context.Context, specs []string, opts Options) (repository.Repository, error) {
	if len(specs) == 0 {
		return nil, errors.New("at least one repository is required")
	}
	sources := make([]repository.Repository, 0, len(specs))
	for _, spec := range specs {
		source, err := FromSpec(ctx, spec, opts)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}

	var repo repository.Repository
	if len(sources) > 1 {
		repo = repository.NewPrioritySelected(sources)
	} else {
		repo = sources[0]
	}
	return repository.NewMetadataInjector(repo, opts.Client, opts.Cache), nil
}

// FromSpec builds a single backend from one repository argument.
func FromSpec(ctx context.Context, spec string, opts Options) (repository.Repository, error) {
	if u, err := url.Parse(spec); err == nil {
		switch u.Scheme {
		case "http", "https":
			return remote.New(spec, opts.Client), nil
		case "s3":
			cfg := opts.S3
			cfg.Bucket = u.Host
			cfg.Prefix = strings.TrimPrefix(u.Path, "/")
			if cfg.Bucket == "" {
				return nil, fmt.Errorf("invalid repository %q: missing bucket name", spec)
			}
			return s3repo.New(ctx, cfg)
		}
	}
	if info, err := os.Stat(spec); err == nil && info.IsDir() {
		return local.New(spec)
	}
	return nil, fmt.Errorf("invalid repository %q: expected an http(s) URL, an existing directory, or s3://bucket[/prefix]", spec)
}
