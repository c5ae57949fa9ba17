package fetch

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	netrc "github.com/jdx/go-netrc"
)

func TestNetrcPathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netrc")
	if err := os.WriteFile(path, []byte("machine pypi.example login u password p\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NETRC", path)

	got, ok := NetrcPath()
	if !ok || got != path {
		t.Errorf("NetrcPath = %q ok=%v, want the NETRC value", got, ok)
	}
}

func TestNetrcPathEnvMissingFileHasNoFallback(t *testing.T) {
	// An explicitly configured location that does not exist disables
	// netrc entirely rather than silently using the home file.
	t.Setenv("NETRC", filepath.Join(t.TempDir(), "nope"))
	t.Setenv("HOME", t.TempDir())

	if got, ok := NetrcPath(); ok {
		t.Errorf("NetrcPath = %q, want none", got)
	}
}

func TestNetrcPathDefaultsToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("NETRC", "")
	t.Setenv("HOME", home)

	if _, ok := NetrcPath(); ok {
		t.Error("NetrcPath found a file in an empty home")
	}

	path := filepath.Join(home, ".netrc")
	if err := os.WriteFile(path, []byte("machine pypi.example login u password p\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, ok := NetrcPath()
	if !ok || got != path {
		t.Errorf("NetrcPath = %q ok=%v, want ~/.netrc", got, ok)
	}
}

func TestNetrcTransportAttachesCredentials(t *testing.T) {
	var got string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer upstream.Close()

	netrcPath := filepath.Join(t.TempDir(), "netrc")
	if err := os.WriteFile(netrcPath, []byte("machine 127.0.0.1 login user password pass\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	creds, err := netrc.Parse(netrcPath)
	if err != nil {
		t.Fatal(err)
	}

	client := &http.Client{Transport: &netrcTransport{base: http.DefaultTransport, creds: creds}}
	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	want := "Basic dXNlcjpwYXNz"
	if got != want {
		t.Errorf("Authorization = %q, want %q", got, want)
	}
}

func TestNetrcTransportKeepsExistingAuthorization(t *testing.T) {
	var got string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer upstream.Close()

	netrcPath := filepath.Join(t.TempDir(), "netrc")
	if err := os.WriteFile(netrcPath, []byte("machine 127.0.0.1 login user password pass\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	creds, err := netrc.Parse(netrcPath)
	if err != nil {
		t.Fatal(err)
	}

	client := &http.Client{Transport: &netrcTransport{base: http.DefaultTransport, creds: creds}}
	req, err := http.NewRequest("GET", upstream.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer already-set")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got != "Bearer already-set" {
		t.Errorf("Authorization = %q, want the caller's header kept", got)
	}
}

func TestNetrcTransportIgnoresUnknownHosts(t *testing.T) {
	var got string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer upstream.Close()

	netrcPath := filepath.Join(t.TempDir(), "netrc")
	if err := os.WriteFile(netrcPath, []byte("machine other.example login user password pass\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	creds, err := netrc.Parse(netrcPath)
	if err != nil {
		t.Fatal(err)
	}

	client := &http.Client{Transport: &netrcTransport{base: http.DefaultTransport, creds: creds}}
	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got != "" {
		t.Errorf("Authorization = %q, want none for an unlisted host", got)
	}
}

func TestNewClientDisablesTransparentDecompression(t *testing.T) {
	t.Setenv("NETRC", filepath.Join(t.TempDir(), "absent"))

	client := NewClient()
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport type = %T", client.Transport)
	}
	// Proxied artifact bytes must pass through exactly as sent.
	if !transport.DisableCompression {
		t.Error("DisableCompression should be set")
	}
	if client.Timeout != 0 {
		t.Errorf("Timeout = %v, want none so long downloads can finish", client.Timeout)
	}
}
