package repository

import (
	"context"
	"net/http"
)

// Repository is the backend collaborator the HTTP layer serves from. All
// implementations must be safe for concurrent use; one instance is built at
// startup and shared by every request.
//
// GetProjectList is expected not to fail in normal operation.
// GetProjectPage fails with *PackageNotFoundError for unknown projects.
// GetResource fails with *ResourceUnavailableError or *InvalidPackageError.
// Project names passed in are always canonical.
type Repository interface {
	GetProjectList(ctx context.Context, rctx *RequestContext) (ProjectList, error)
	GetProjectPage(ctx context.Context, project string, rctx *RequestContext) (ProjectDetail, error)
	GetResource(ctx context.Context, project, resource string, rctx *RequestContext) (Resource, error)
}

// proxiedRequestHeaders is the complete set of inbound request headers that
// may cross the trust boundary to a backend or to an operator-configured
// upstream host. Everything else is dropped before a request context is
// built; keep this a single auditable declaration.
var proxiedRequestHeaders = map[string]struct{}{
	"Accept":              {},
	"User-Agent":          {},
	"Accept-Encoding":     {},
	"If-Unmodified-Since": {},
	"If-Range":            {},
	"If-None-Match":       {},
	"If-Modified-Since":   {},
	"If-Match":            {},
	"Range":               {},
	"Referer":             {},
}

// RequestContext is an immutable view of the proxied subset of one inbound
// request's headers, passed opaquely to backends. A nil *RequestContext is
// valid and empty.
type RequestContext struct {
	header http.Header
}

// NewRequestContext filters h down to the proxied header allow-list.
func NewRequestContext(h http.Header) *RequestContext {
	kept := make(http.Header, len(proxiedRequestHeaders))
	for name := range proxiedRequestHeaders {
		if values := h.Values(name); len(values) > 0 {
			kept[name] = append([]string(nil), values...)
		}
	}
	return &RequestContext{header: kept}
}

// Get returns the first value of a retained header, or "".
func (c *RequestContext) Get(name string) string {
	if c == nil {
		return ""
	}
	return c.header.Get(name)
}

// ForwardHeader returns a copy of the retained headers suitable for
// attaching to an upstream request.
func (c *RequestContext) ForwardHeader() http.Header {
	h := make(http.Header)
	if c == nil {
		return h
	}
	for name, values := range c.header {
		h[name] = append([]string(nil), values...)
	}
	return h
}
