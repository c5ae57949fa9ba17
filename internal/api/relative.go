package api

import (
	"fmt"
	"net/url"
	"strings"
)

// RelativeURL rewrites destination as a path relative to origin, so links
// in serialized pages and redirect Locations stay correct under any
// reverse-proxy path prefix. Both URLs must be absolute http or https and
// share their host.
//
// The final path segment on each side names the resource itself and never
// takes part in the comparison. That makes this deliberately different
// from a filesystem relative-path routine: "/simple" relative to
// "/simple" is "simple", not ".".
func RelativeURL(origin, destination string) (string, error) {
	originURL, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("cannot create a relative url from %s to %s: %w", origin, destination, err)
	}
	destinationURL, err := url.Parse(destination)
	if err != nil {
		return "", fmt.Errorf("cannot create a relative url from %s to %s: %w", origin, destination, err)
	}
	if originURL.Scheme != destinationURL.Scheme ||
		(originURL.Scheme != "http" && originURL.Scheme != "https") ||
		originURL.Host != destinationURL.Host {
		return "", fmt.Errorf("cannot create a relative url from %s to %s", origin, destination)
	}

	destinationTokens := pathDirs(destinationURL.Path)
	originTokens := pathDirs(originURL.Path)

	// Every remaining origin directory needs one ascent unless it is part
	// of the shared leading prefix.
	dirsUp := len(originTokens)
	commonPrefix := "/"
	for i := 0; i < len(destinationTokens) && i < len(originTokens); i++ {
		if destinationTokens[i] != originTokens[i] {
			break
		}
		dirsUp--
		commonPrefix += destinationTokens[i] + "/"
	}

	return strings.Repeat("../", dirsUp) + strings.TrimPrefix(destinationURL.Path, commonPrefix), nil
}

// pathDirs returns the directory segments of a path: everything between
// the leading slash and the final segment.
func pathDirs(path string) []string {
	parts := strings.Split(path, "/")
	if len(parts) <= 2 {
		return nil
	}
	return parts[1 : len(parts)-1]
}
