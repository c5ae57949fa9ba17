// Package auth provides optional basic-auth protection backed by an
// htpasswd file of bcrypt hashes.
package auth

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/wheelhouse/wheelhouse/internal/logging"
	"github.com/wheelhouse/wheelhouse/internal/metrics"
)

// Guard validates requests against an htpasswd credential set.
type Guard struct {
	users map[string]string
}

// LoadHtpasswd reads an htpasswd file of "user:bcrypt-hash" lines. Blank
// lines and # comments are skipped. Non-bcrypt hashes are rejected so a
// misconfigured file fails at startup rather than at request time.
func LoadHtpasswd(path string) (*Guard, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open htpasswd file: %w", err)
	}
	defer f.Close()

	users := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("htpasswd line %d: missing ':' separator", lineNo)
		}
		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("htpasswd line %d: only bcrypt hashes are supported", lineNo)
		}
		users[user] = hash
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read htpasswd file: %w", err)
	}

	logging.Info("loaded htpasswd credentials", logging.Int("users", len(users)))
	return &Guard{users: users}, nil
}

// Middleware rejects requests that lack valid credentials. A nil Guard
// passes everything through, so callers can wire it unconditionally.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	if g == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !g.check(user, pass) {
			metrics.RecordAuthAttempt(false)
			w.Header().Set("WWW-Authenticate", `Basic realm="wheelhouse"`)
			sendAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		metrics.RecordAuthAttempt(true)
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) check(user, pass string) bool {
	hash, ok := g.users[user]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) == nil
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}{message, code})
}
