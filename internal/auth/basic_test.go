package auth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func writeHtpasswd(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "htpasswd")
	if err := os.WriteFile(path, []byte(lines), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func bcryptHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(hash)
}

func TestLoadHtpasswd(t *testing.T) {
	path := writeHtpasswd(t, "# deploy credentials\n\nalice:"+bcryptHash(t, "wonderland")+"\nbob:"+bcryptHash(t, "builder")+"\n")

	guard, err := LoadHtpasswd(path)
	if err != nil {
		t.Fatalf("LoadHtpasswd: %v", err)
	}
	if !guard.check("alice", "wonderland") {
		t.Error("alice's password rejected")
	}
	if !guard.check("bob", "builder") {
		t.Error("bob's password rejected")
	}
	if guard.check("alice", "builder") {
		t.Error("wrong password accepted")
	}
	if guard.check("mallory", "wonderland") {
		t.Error("unknown user accepted")
	}
}

func TestLoadHtpasswdRejectsMalformedLines(t *testing.T) {
	if _, err := LoadHtpasswd(writeHtpasswd(t, "alice-no-separator\n")); err == nil {
		t.Error("expected an error for a line without ':'")
	}
	if _, err := LoadHtpasswd(writeHtpasswd(t, "alice:5f4dcc3b5aa765d61d8327deb882cf99\n")); err == nil {
		t.Error("expected an error for a non-bcrypt hash")
	}
	if _, err := LoadHtpasswd(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestMiddleware(t *testing.T) {
	path := writeHtpasswd(t, "alice:"+bcryptHash(t, "wonderland")+"\n")
	guard, err := LoadHtpasswd(path)
	if err != nil {
		t.Fatal(err)
	}

	var reached bool
	handler := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	r := httptest.NewRequest("GET", "/simple/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status = %d, want 401", w.Code)
	}
	if reached {
		t.Error("handler ran without credentials")
	}
	if got := w.Header().Get("WWW-Authenticate"); got != `Basic realm="wheelhouse"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	r = httptest.NewRequest("GET", "/simple/", nil)
	r.SetBasicAuth("alice", "wrong")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: status = %d, want 401", w.Code)
	}

	r = httptest.NewRequest("GET", "/simple/", nil)
	r.SetBasicAuth("alice", "wonderland")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK || !reached {
		t.Fatalf("valid credentials: status = %d reached=%v", w.Code, reached)
	}
}

func TestNilGuardPassesThrough(t *testing.T) {
	var guard *Guard
	handler := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest("GET", "/simple/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want the handler to run unguarded", w.Code)
	}
}
