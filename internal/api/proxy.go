package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// proxiedChunkSize is the read granularity for mirrored upstream bodies.
const proxiedChunkSize = 1 << 20

// ProxyStream is an open upstream response. Opening it performs the single
// upstream GET, so status and headers are known before one body byte is
// consumed; the body then streams through without ever being buffered in
// full. A stream is not restartable and holds one upstream connection
// until Close.
type ProxyStream struct {
	resp *http.Response
}

// OpenProxyStream fetches url, forwarding only the caller-filtered request
// headers. Cancelling ctx aborts the transfer and releases the connection.
func OpenProxyStream(ctx context.Context, client *http.Client, url string, header http.Header) (*ProxyStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	for name, values := range header {
		req.Header[name] = values
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open upstream stream: %w", err)
	}
	return &ProxyStream{resp: resp}, nil
}

func (p *ProxyStream) StatusCode() int {
	return p.resp.StatusCode
}

func (p *ProxyStream) Header() http.Header {
	return p.resp.Header
}

// Stream copies the upstream body to w in chunks, flushing after each so
// bytes reach the client while the upstream transfer is in flight. It
// returns the bytes written and the first upstream or downstream error.
func (p *ProxyStream) Stream(w io.Writer) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, proxiedChunkSize)
	var written int64
	for {
		n, err := p.resp.Body.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// Close releases the upstream connection.
func (p *ProxyStream) Close() error {
	return p.resp.Body.Close()
}
