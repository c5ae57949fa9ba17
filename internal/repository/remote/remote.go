// Package remote proxies an upstream Simple API index over HTTP. It
// negotiates PEP 691 JSON but falls back to parsing PEP 503 HTML for
// indexes that predate the JSON format.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/net/html"

	"github.com/wheelhouse/wheelhouse/internal/metrics"
	"github.com/wheelhouse/wheelhouse/internal/repository"
)

const pageAccept = "application/vnd.pypi.simple.v1+json, application/vnd.pypi.simple.v1+html;q=0.2, text/html;q=0.01"

type Repository struct {
	baseURL string
	client  *http.Client
}

// New creates a repository backed by the index at baseURL, e.g.
// "https://pypi.org/simple/". The client is shared so netrc credentials
// and connection pooling apply to every upstream call.
func New(baseURL string, client *http.Client) *Repository {
	return &Repository{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

func (r *Repository) GetProjectList(ctx context.Context, _ *repository.RequestContext) (repository.ProjectList, error) {
	start := time.Now()
	defer func() { metrics.ObserveBackendLookup("list", time.Since(start)) }()

	pageURL := r.baseURL + "/"
	status, contentType, body, err := r.getIndexPage(ctx, pageURL)
	if err != nil {
		metrics.RecordBackendError("remote")
		return repository.ProjectList{}, err
	}
	if status != http.StatusOK {
		metrics.RecordBackendError("remote")
		return repository.ProjectList{}, fmt.Errorf("unexpected status %d from upstream index", status)
	}

	var list repository.ProjectList
	if isJSON(contentType) {
		if err := json.Unmarshal(body, &list); err != nil {
			return repository.ProjectList{}, fmt.Errorf("failed to parse upstream project list: %w", err)
		}
	} else {
		list, err = parseProjectListHTML(body)
		if err != nil {
			return repository.ProjectList{}, err
		}
	}

	for i, project := range list.Projects {
		list.Projects[i].Name = repository.CanonicalizeName(project.Name)
	}
	sort.Slice(list.Projects, func(i, j int) bool { return list.Projects[i].Name < list.Projects[j].Name })
	list.Meta = repository.Meta{APIVersion: repository.RepositoryVersion}
	return list, nil
}

func (r *Repository) GetProjectPage(ctx context.Context, project string, _ *repository.RequestContext) (repository.ProjectDetail, error) {
	start := time.Now()
	defer func() { metrics.ObserveBackendLookup("page", time.Since(start)) }()

	pageURL := r.baseURL + "/" + project + "/"
	status, contentType, body, err := r.getIndexPage(ctx, pageURL)
	if err != nil {
		metrics.RecordBackendError("remote")
		return repository.ProjectDetail{}, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return repository.ProjectDetail{}, &repository.PackageNotFoundError{Package: project}
	default:
		metrics.RecordBackendError("remote")
		return repository.ProjectDetail{}, fmt.Errorf("unexpected status %d from upstream index", status)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return repository.ProjectDetail{}, fmt.Errorf("failed to parse page url: %w", err)
	}

	var detail repository.ProjectDetail
	if isJSON(contentType) {
		var page wirePage
		if err := json.Unmarshal(body, &page); err != nil {
			return repository.ProjectDetail{}, fmt.Errorf("failed to parse upstream project page: %w", err)
		}
		detail.Files = make([]repository.File, len(page.Files))
		for i, wf := range page.Files {
			file := wf.File
			file.CoreMetadata = metadataAdvertised(wf.CoreMetadata) || metadataAdvertised(wf.DistInfoMetadata)
			if resolved, err := base.Parse(file.URL); err == nil {
				file.URL = resolved.String()
			}
			detail.Files[i] = file
		}
	} else {
		detail, err = parseProjectPageHTML(base, body)
		if err != nil {
			return repository.ProjectDetail{}, err
		}
	}

	detail.Meta = repository.Meta{APIVersion: repository.RepositoryVersion}
	detail.Name = project
	return detail, nil
}

func (r *Repository) GetResource(ctx context.Context, project, resource string, rctx *repository.RequestContext) (repository.Resource, error) {
	page, err := r.GetProjectPage(ctx, project, rctx)
	if err != nil {
		return nil, err
	}
	for _, file := range page.Files {
		if file.Filename == resource {
			return &repository.HttpResource{URL: file.URL}, nil
		}
	}
	// PEP 658: upstream serves the metadata document next to the wheel.
	if wheelName, ok := strings.CutSuffix(resource, ".metadata"); ok {
		for _, file := range page.Files {
			if file.Filename == wheelName && file.CoreMetadata {
				return &repository.HttpResource{URL: file.URL + ".metadata"}, nil
			}
		}
	}
	return nil, &repository.ResourceUnavailableError{Resource: resource}
}

// getIndexPage performs one upstream GET and returns the decoded body.
// Compression is negotiated explicitly because the shared transport
// disables transparent decompression for the resource proxy.
func (r *Repository) getIndexPage(ctx context.Context, pageURL string) (int, string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Accept", pageAccept)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to query upstream index: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordUpstreamRequest(resp.StatusCode)

	var reader io.Reader = resp.Body
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return 0, "", nil, fmt.Errorf("failed to decompress upstream response: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	return resp.StatusCode, resp.Header.Get("Content-Type"), body, nil
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, "json")
}

// wireFile tolerates the upstream encodings of the metadata marker: a
// boolean or a hash object, under the PEP 714 name or the legacy PEP 691
// one. The shallower fields take the keys, leaving the embedded bool
// untouched until metadataAdvertised decides.
type wireFile struct {
	repository.File
	CoreMetadata     json.RawMessage `json:"core-metadata"`
	DistInfoMetadata json.RawMessage `json:"dist-info-metadata"`
}

type wirePage struct {
	Files []wireFile `json:"files"`
}

func metadataAdvertised(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var hashes map[string]string
	return json.Unmarshal(raw, &hashes) == nil && hashes != nil
}

func parseProjectListHTML(body []byte) (repository.ProjectList, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return repository.ProjectList{}, fmt.Errorf("failed to parse upstream project list: %w", err)
	}
	var list repository.ProjectList
	forEachAnchor(doc, func(n *html.Node) {
		if name := strings.TrimSpace(textContent(n)); name != "" {
			list.Projects = append(list.Projects, repository.ProjectEntry{Name: name})
		}
	})
	return list, nil
}

func parseProjectPageHTML(base *url.URL, body []byte) (repository.ProjectDetail, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return repository.ProjectDetail{}, fmt.Errorf("failed to parse upstream project page: %w", err)
	}
	var detail repository.ProjectDetail
	forEachAnchor(doc, func(n *html.Node) {
		if file, ok := fileFromAnchor(base, n); ok {
			detail.Files = append(detail.Files, file)
		}
	})
	return detail, nil
}

func fileFromAnchor(base *url.URL, n *html.Node) (repository.File, bool) {
	var href, requiresPython, coreMetadata string
	for _, attr := range n.Attr {
		switch attr.Key {
		case "href":
			href = attr.Val
		case "data-requires-python":
			requiresPython = attr.Val
		case "data-core-metadata", "data-dist-info-metadata":
			coreMetadata = attr.Val
		}
	}
	if href == "" {
		return repository.File{}, false
	}
	resolved, err := base.Parse(href)
	if err != nil {
		return repository.File{}, false
	}

	hashes := map[string]string{}
	if algo, digest, ok := strings.Cut(resolved.Fragment, "="); ok && digest != "" {
		hashes[strings.ToLower(algo)] = digest
	}
	resolved.Fragment = ""

	name := strings.TrimSpace(textContent(n))
	if name == "" {
		name = path.Base(resolved.Path)
	}
	return repository.File{
		Filename:       name,
		URL:            resolved.String(),
		Hashes:         hashes,
		RequiresPython: requiresPython,
		CoreMetadata:   coreMetadata != "" && coreMetadata != "false",
	}, true
}

func forEachAnchor(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode && n.Data == "a" {
		fn(n)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		forEachAnchor(c, fn)
	}
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
