package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/munnerz/goautoneg"
)

// ResponseFormat is a serialization the index can produce, identified by
// the media type emitted verbatim in Content-Type.
type ResponseFormat string

const (
	// FormatHTMLLegacy is the alias every installer predating the
	// versioned media types sends; it is also the default when a client
	// states no preference.
	FormatHTMLLegacy ResponseFormat = "text/html"
	FormatHTMLV1     ResponseFormat = "application/vnd.pypi.simple.v1+html"
	FormatJSONV1     ResponseFormat = "application/vnd.pypi.simple.v1+json"
)

// supportedFormats is in default-preference order: the first entry wins on
// wildcard and quality ties.
var supportedFormats = []ResponseFormat{FormatHTMLLegacy, FormatHTMLV1, FormatJSONV1}

// UnsupportedSerializationError reports an Accept value (or format
// override) that matches none of the supported serializations.
type UnsupportedSerializationError struct {
	ContentType string
}

func (e *UnsupportedSerializationError) Error() string {
	return fmt.Sprintf("unsupported serialization format %q", e.ContentType)
}

// SelectResponseFormat resolves the effective negotiation input to a
// response format. An empty input selects the legacy HTML default; a
// non-empty input matching nothing is an error, surfaced as 406.
func SelectResponseFormat(contentType string) (ResponseFormat, error) {
	if strings.TrimSpace(contentType) == "" {
		return FormatHTMLLegacy, nil
	}
	alternatives := make([]string, len(supportedFormats))
	for i, format := range supportedFormats {
		alternatives[i] = string(format)
	}
	if selected := goautoneg.Negotiate(contentType, alternatives); selected != "" {
		return ResponseFormat(selected), nil
	}
	return "", &UnsupportedSerializationError{ContentType: contentType}
}

// requestedFormat returns the value to negotiate on. The format query
// parameter replaces the Accept header entirely; URL decoding turns the
// literal '+' of a media type into a space, which is restored here.
func requestedFormat(r *http.Request) string {
	if format := r.URL.Query().Get("format"); format != "" {
		return strings.ReplaceAll(format, " ", "+")
	}
	return r.Header.Get("Accept")
}
