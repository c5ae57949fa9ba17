package repository

import (
	"fmt"
	"net/http"
	"testing"
)

func TestRequestContextFiltersHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Accept", "text/html")
	h.Set("User-Agent", "pip/23.0")
	h.Set("Range", "bytes=0-9")
	h.Set("Cookie", "session=1")
	h.Set("Authorization", "Bearer token")
	h.Set("X-Forwarded-For", "10.0.0.1")

	rctx := NewRequestContext(h)

	if got := rctx.Get("Accept"); got != "text/html" {
		t.Errorf("Accept = %q", got)
	}
	if got := rctx.Get("Range"); got != "bytes=0-9" {
		t.Errorf("Range = %q", got)
	}
	for _, name := range []string{"Cookie", "Authorization", "X-Forwarded-For"} {
		if got := rctx.Get(name); got != "" {
			t.Errorf("%s = %q, want it dropped", name, got)
		}
	}
}

func TestRequestContextForwardHeaderIsACopy(t *testing.T) {
	h := http.Header{}
	h.Set("Accept", "text/html")
	rctx := NewRequestContext(h)

	forward := rctx.ForwardHeader()
	forward.Set("Accept", "changed")
	forward.Set("X-New", "1")

	if got := rctx.Get("Accept"); got != "text/html" {
		t.Errorf("mutating the forwarded copy changed the context: %q", got)
	}
}

func TestRequestContextNil(t *testing.T) {
	var rctx *RequestContext
	if got := rctx.Get("Accept"); got != "" {
		t.Errorf("nil context Get = %q", got)
	}
	if h := rctx.ForwardHeader(); len(h) != 0 {
		t.Errorf("nil context ForwardHeader = %v", h)
	}
}

func TestErrorPredicates(t *testing.T) {
	notFound := &PackageNotFoundError{Package: "ghost"}
	unavailable := &ResourceUnavailableError{Resource: "ghost.whl"}
	invalid := &InvalidPackageError{Detail: "truncated archive"}

	if !IsNotFound(notFound) || !IsNotFound(unavailable) {
		t.Error("IsNotFound should accept both not-found variants")
	}
	if IsNotFound(invalid) {
		t.Error("IsNotFound accepted an integrity error")
	}
	if !IsInvalidPackage(invalid) {
		t.Error("IsInvalidPackage rejected an integrity error")
	}

	// Wrapped errors must still be recognized.
	wrapped := fmt.Errorf("lookup failed: %w", notFound)
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should unwrap")
	}
}

func TestErrorMessages(t *testing.T) {
	err := &PackageNotFoundError{Package: "ghost"}
	if err.Error() != "Package 'ghost' was not found in the configured source" {
		t.Errorf("message = %q", err.Error())
	}
	rerr := &ResourceUnavailableError{Resource: "ghost.whl"}
	if rerr.Error() != "Resource 'ghost.whl' was not found in the configured source" {
		t.Errorf("message = %q", rerr.Error())
	}
}
