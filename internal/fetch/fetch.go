// Package fetch provides the outbound HTTP client shared by everything
// that talks to upstream servers: index page lookups, wheel downloads, and
// the resource proxy.
package fetch

import (
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	netrc "github.com/jdx/go-netrc"

	"github.com/wheelhouse/wheelhouse/internal/logging"
)

// NewClient builds the shared client. The client timeout stays zero:
// artifact bodies stream for as long as the consumer drains them, and
// per-request deadlines come from the request context.
func NewClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// Proxied bodies must reach clients byte for byte, so the
		// transport must not decompress them transparently.
		DisableCompression: true,
	}

	var rt http.RoundTripper = transport
	if path, ok := NetrcPath(); ok {
		creds, err := netrc.Parse(path)
		if err != nil {
			logging.Warn("failed to parse netrc file",
				logging.String("path", path), logging.Err(err))
		} else {
			logging.Info("using netrc authentication",
				logging.String("path", path))
			rt = &netrcTransport{base: transport, creds: creds}
		}
	}
	return &http.Client{Transport: rt}
}

// NetrcPath resolves the netrc file location. NETRC wins when set; when it
// names a missing or irregular file there is no fallback to ~/.netrc.
func NetrcPath() (string, bool) {
	if env := os.Getenv("NETRC"); env != "" {
		if isRegularFile(env) {
			return env, true
		}
		return "", false
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	path := filepath.Join(home, ".netrc")
	if isRegularFile(path) {
		return path, true
	}
	return "", false
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// netrcTransport attaches basic-auth credentials to requests whose host
// has a netrc machine entry. Requests that already carry Authorization are
// passed through untouched.
type netrcTransport struct {
	base  http.RoundTripper
	creds *netrc.Netrc
}

func (t *netrcTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" {
		return t.base.RoundTrip(req)
	}
	machine := t.creds.Machine(req.URL.Hostname())
	if machine == nil {
		return t.base.RoundTrip(req)
	}
	// Round trippers must not mutate the caller's request.
	clone := req.Clone(req.Context())
	clone.SetBasicAuth(machine.Get("login"), machine.Get("password"))
	return t.base.RoundTrip(clone)
}
