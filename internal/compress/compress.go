// Package compress provides response compression for serialized index
// pages. Proxied artifact bodies are never compressed here, they are
// mirrored exactly as the upstream sent them.
package compress

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// SelectEncoding picks the content coding to apply from an Accept-Encoding
// header, preferring zstd over gzip over deflate among codings the client
// accepts with a positive quality. Empty means no compression.
func SelectEncoding(acceptEncoding string) string {
	if acceptEncoding == "" {
		return ""
	}

	supported := make(map[string]float64)
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.TrimSpace(name)
		quality := 1.0
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if parsed, err := strconv.ParseFloat(q, 64); err == nil {
				quality = parsed
			}
		}
		switch name {
		case "zstd", "gzip", "deflate":
			supported[name] = quality
		case "*":
			for _, coding := range []string{"zstd", "gzip", "deflate"} {
				if _, ok := supported[coding]; !ok {
					supported[coding] = quality
				}
			}
		}
	}

	best, bestQuality := "", 0.0
	for _, coding := range []string{"zstd", "gzip", "deflate"} {
		if q, ok := supported[coding]; ok && q > bestQuality {
			best, bestQuality = coding, q
		}
	}
	return best
}

// ResponseWriter compresses everything written through it. Content-Length
// is dropped and Vary set the moment compressed bytes are produced, since
// the on-wire size no longer matches the serialized page.
type ResponseWriter struct {
	http.ResponseWriter
	writer        io.Writer
	encoding      string
	headerWritten bool
	wroteHeader   bool
}

// NewResponseWriter wraps w with the given content coding. An unknown
// coding passes writes through uncompressed.
func NewResponseWriter(w http.ResponseWriter, encoding string) (*ResponseWriter, error) {
	cw := &ResponseWriter{ResponseWriter: w, encoding: encoding}

	var err error
	switch encoding {
	case "zstd":
		cw.writer, err = zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	case "gzip":
		cw.writer = gzip.NewWriter(w)
	case "deflate":
		cw.writer, err = flate.NewWriter(w, flate.DefaultCompression)
	default:
		cw.writer = w
		cw.encoding = ""
	}
	if err != nil {
		return nil, err
	}
	return cw, nil
}

func (cw *ResponseWriter) Write(data []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	return cw.writer.Write(data)
}

func (cw *ResponseWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	if cw.encoding != "" && !cw.headerWritten {
		cw.headerWritten = true
		cw.ResponseWriter.Header().Set("Content-Encoding", cw.encoding)
		cw.ResponseWriter.Header().Del("Content-Length")
		cw.ResponseWriter.Header().Set("Vary", "Accept-Encoding")
	}
	cw.ResponseWriter.WriteHeader(code)
}

// Close flushes the compressor's trailing frame. It must run before the
// handler returns or the client receives a truncated stream.
func (cw *ResponseWriter) Close() error {
	if closer, ok := cw.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
