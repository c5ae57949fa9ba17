// Package local serves a package index from a directory tree laid out as
// <root>/<project>/<file>. Directory names are expected to be canonical
// project names.
package local

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wheelhouse/wheelhouse/internal/metrics"
	"github.com/wheelhouse/wheelhouse/internal/repository"
)

type Repository struct {
	root string
}

// New creates a repository rooted at dir, which must be an existing
// directory.
func New(dir string) (*Repository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository path %s is not a directory", abs)
	}
	return &Repository{root: abs}, nil
}

func (r *Repository) GetProjectList(ctx context.Context, _ *repository.RequestContext) (repository.ProjectList, error) {
	start := time.Now()
	defer func() { metrics.ObserveBackendLookup("list", time.Since(start)) }()

	entries, err := os.ReadDir(r.root)
	if err != nil {
		metrics.RecordBackendError("local")
		return repository.ProjectList{}, fmt.Errorf("failed to read repository directory: %w", err)
	}

	seen := make(map[string]struct{}, len(entries))
	projects := make([]repository.ProjectEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := repository.CanonicalizeName(entry.Name())
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		projects = append(projects, repository.ProjectEntry{Name: name})
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })

	return repository.ProjectList{
		Meta:     repository.Meta{APIVersion: repository.RepositoryVersion},
		Projects: projects,
	}, nil
}

func (r *Repository) GetProjectPage(ctx context.Context, project string, _ *repository.RequestContext) (repository.ProjectDetail, error) {
	start := time.Now()
	defer func() { metrics.ObserveBackendLookup("page", time.Since(start)) }()

	dir, err := r.projectDir(project)
	if err != nil {
		return repository.ProjectDetail{}, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return repository.ProjectDetail{}, &repository.PackageNotFoundError{Package: project}
		}
		metrics.RecordBackendError("local")
		return repository.ProjectDetail{}, fmt.Errorf("failed to read project directory: %w", err)
	}

	files := make([]repository.File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		fileURL := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(dir, entry.Name()))}
		files = append(files, repository.File{
			Filename: entry.Name(),
			URL:      fileURL.String(),
			Size:     info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })

	return repository.ProjectDetail{
		Meta:  repository.Meta{APIVersion: repository.RepositoryVersion},
		Name:  project,
		Files: files,
	}, nil
}

func (r *Repository) GetResource(ctx context.Context, project, resource string, _ *repository.RequestContext) (repository.Resource, error) {
	start := time.Now()
	defer func() { metrics.ObserveBackendLookup("resource", time.Since(start)) }()

	if !safeName(resource) {
		return nil, &repository.ResourceUnavailableError{Resource: resource}
	}
	dir, err := r.projectDir(project)
	if err != nil {
		return nil, err
	}
	filePath := filepath.Join(dir, resource)
	info, err := os.Stat(filePath)
	if err != nil || info.IsDir() {
		return nil, &repository.ResourceUnavailableError{Resource: resource}
	}
	return &repository.LocalResource{
		Path: filePath,
		ETag: fileETag(info),
	}, nil
}

func (r *Repository) projectDir(project string) (string, error) {
	if !safeName(project) {
		return "", &repository.PackageNotFoundError{Package: project}
	}
	dir := filepath.Join(r.root, project)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir, nil
	}
	// The listing canonicalizes directory names, so a project it
	// advertises must resolve even when the directory on disk is not
	// canonical itself.
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return "", &repository.PackageNotFoundError{Package: project}
	}
	for _, entry := range entries {
		if entry.IsDir() && repository.CanonicalizeName(entry.Name()) == project {
			return filepath.Join(r.root, entry.Name()), nil
		}
	}
	return "", &repository.PackageNotFoundError{Package: project}
}

// safeName rejects names that could escape the project directory.
func safeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// fileETag derives a validator from file identity. It survives restarts
// and changes whenever the file is rewritten.
func fileETag(info os.FileInfo) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%d-%d", info.Name(), info.Size(), info.ModTime().UnixNano())))
	return fmt.Sprintf("%q", fmt.Sprintf("%x", sum)[:12])
}
