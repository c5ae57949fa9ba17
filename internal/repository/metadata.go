package repository

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/wheelhouse/wheelhouse/internal/logging"
	"github.com/wheelhouse/wheelhouse/internal/metacache"
	"github.com/wheelhouse/wheelhouse/internal/metrics"
)

// MetadataInjector makes wheel metadata retrievable as "<wheel>.metadata"
// resources. Project pages are rewritten to advertise the metadata on every
// wheel; metadata resources the wrapped repository cannot serve itself are
// produced by fetching the wheel and extracting its METADATA file.
// Extracted text goes through the cache so a wheel is unpacked at most once.
type MetadataInjector struct {
	inner  Repository
	client *http.Client
	cache  metacache.Cache
}

func NewMetadataInjector(inner Repository, client *http.Client, cache metacache.Cache) *MetadataInjector {
	return &MetadataInjector{inner: inner, client: client, cache: cache}
}

func (m *MetadataInjector) GetProjectList(ctx context.Context, rctx *RequestContext) (ProjectList, error) {
	return m.inner.GetProjectList(ctx, rctx)
}

func (m *MetadataInjector) GetProjectPage(ctx context.Context, project string, rctx *RequestContext) (ProjectDetail, error) {
	page, err := m.inner.GetProjectPage(ctx, project, rctx)
	if err != nil {
		return ProjectDetail{}, err
	}
	for i, file := range page.Files {
		if file.URL != "" && strings.HasSuffix(file.Filename, ".whl") {
			page.Files[i].CoreMetadata = true
		}
	}
	return page, nil
}

func (m *MetadataInjector) GetResource(ctx context.Context, project, resource string, rctx *RequestContext) (Resource, error) {
	res, err := m.inner.GetResource(ctx, project, resource, rctx)
	if err == nil || !IsNotFound(err) {
		return res, err
	}
	wheelName, ok := strings.CutSuffix(resource, ".metadata")
	if !ok || !strings.HasSuffix(wheelName, ".whl") {
		return nil, err
	}

	key := project + "/" + resource
	if text, ok, cacheErr := m.cache.Get(ctx, key); cacheErr != nil {
		logging.Warn("metadata cache read failed",
			logging.String("key", key), logging.Err(cacheErr))
		metrics.RecordMetadataCache("error")
	} else if ok {
		metrics.RecordMetadataCache("hit")
		return &TextResource{Text: text}, nil
	} else {
		metrics.RecordMetadataCache("miss")
	}

	wheel, err := m.inner.GetResource(ctx, project, wheelName, rctx)
	if err != nil {
		return nil, err
	}

	var text string
	switch wheel := wheel.(type) {
	case *LocalResource:
		text, err = metadataFromWheelFile(wheel.Path)
	case *HttpResource:
		text, err = m.metadataFromRemoteWheel(ctx, wheelName, wheel.URL)
	default:
		return nil, &ResourceUnavailableError{Resource: resource}
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordMetadataExtracted()
	if err := m.cache.Put(ctx, key, text); err != nil {
		logging.Warn("metadata cache write failed",
			logging.String("key", key), logging.Err(err))
	}
	return &TextResource{Text: text}, nil
}

// metadataFromRemoteWheel downloads the wheel to a temporary file and
// extracts its metadata. Wheels can be hundreds of megabytes, so the body
// is spooled to disk rather than held in memory.
func (m *MetadataInjector) metadataFromRemoteWheel(ctx context.Context, name, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build wheel request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download wheel %s: %w", name, err)
	}
	defer resp.Body.Close()
	metrics.RecordUpstreamRequest(resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download wheel %s: unexpected status %d", name, resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "wheelhouse-*.whl")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return "", fmt.Errorf("failed to download wheel %s: %w", name, err)
	}
	return metadataFromWheelFile(tmp.Name())
}

func metadataFromWheelFile(filePath string) (string, error) {
	archive, err := zip.OpenReader(filePath)
	if err != nil {
		return "", &InvalidPackageError{Detail: fmt.Sprintf("failed to open wheel archive: %v", err)}
	}
	defer archive.Close()

	// The wheel format allows exactly one top-level *.dist-info directory.
	for _, member := range archive.File {
		dir, base := path.Split(member.Name)
		if base != "METADATA" || !strings.HasSuffix(dir, ".dist-info/") {
			continue
		}
		if strings.Count(member.Name, "/") != 1 {
			continue
		}
		rc, err := member.Open()
		if err != nil {
			return "", &InvalidPackageError{Detail: fmt.Sprintf("failed to read wheel metadata: %v", err)}
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return "", &InvalidPackageError{Detail: fmt.Sprintf("failed to read wheel metadata: %v", err)}
		}
		return string(data), nil
	}
	return "", &InvalidPackageError{Detail: "wheel does not contain a metadata file"}
}
