package repository

import (
	"regexp"
	"strings"
)

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// CanonicalizeName normalizes a project name per PEP 503: lowercase, with
// every run of "-", "_" and "." collapsed to a single "-". The function is
// idempotent; lookups only ever see canonical names.
func CanonicalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}
