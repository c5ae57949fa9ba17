// Package api provides the HTTP server and handlers: the negotiated
// project list and project pages under /simple/, and resource delivery
// under /resources/.
package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/wheelhouse/wheelhouse/internal/auth"
	"github.com/wheelhouse/wheelhouse/internal/compress"
	"github.com/wheelhouse/wheelhouse/internal/logging"
	"github.com/wheelhouse/wheelhouse/internal/metrics"
	"github.com/wheelhouse/wheelhouse/internal/repository"
)

// Server is the HTTP server.
type Server struct {
	repo         repository.Repository
	client       *http.Client
	streamRemote bool
	guard        *auth.Guard
}

// NewServer creates a new server. When streamRemote is set, remote
// resources are proxied through this process instead of redirected to.
func NewServer(repo repository.Repository, client *http.Client, streamRemote bool, guard *auth.Guard) *Server {
	return &Server{
		repo:         repo,
		client:       client,
		streamRemote: streamRemote,
		guard:        guard,
	}
}

// Handler returns the HTTP handler with auth, metrics, and logging
// middleware. GET patterns also match HEAD.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	// The index lives under /simple/; the root and bare /simple redirect
	// to the slash-terminated form so relative links resolve correctly.
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		redirect(w, http.StatusMovedPermanently, withQuery("simple/", r))
	})

	index := http.NewServeMux()
	index.HandleFunc("GET /simple", func(w http.ResponseWriter, r *http.Request) {
		redirect(w, http.StatusMovedPermanently, withQuery("simple/", r))
	})
	index.HandleFunc("GET /simple/{$}", s.handleProjectList)
	index.HandleFunc("GET /simple/{project}", s.handleMissingSlash)
	index.HandleFunc("GET /simple/{project}/{$}", s.handleProjectPage)
	index.HandleFunc("GET /resources/{project}/{resource}", s.handleResource)

	guarded := s.guard.Middleware(index)
	mux.Handle("/simple", guarded)
	mux.Handle("/simple/", guarded)
	mux.Handle("/resources/", guarded)

	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

// ─── Project list ───────────────────────────────────────────────────────────

func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request) {
	format, err := SelectResponseFormat(requestedFormat(r))
	if err != nil {
		s.sendError(w, http.StatusNotAcceptable, err.Error())
		return
	}
	recordPipClient(r)

	list, err := s.repo.GetProjectList(r.Context(), repository.NewRequestContext(r.Header))
	if err != nil {
		logging.Error("project list lookup failed", logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}

	body, err := SerializeProjectList(list, format)
	if err != nil {
		logging.Error("project list serialization failed", logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "failed to serialize project list")
		return
	}
	s.writePage(w, r, format, body)
}

// ─── Project page ───────────────────────────────────────────────────────────

func (s *Server) handleMissingSlash(w http.ResponseWriter, r *http.Request) {
	canonical := repository.CanonicalizeName(r.PathValue("project"))
	redirect(w, http.StatusMovedPermanently, withQuery(canonical+"/", r))
}

func (s *Server) handleProjectPage(w http.ResponseWriter, r *http.Request) {
	// Non-canonical names redirect before anything else; the canonical
	// page is the one that negotiates and serves.
	project := r.PathValue("project")
	if canonical := repository.CanonicalizeName(project); canonical != project {
		location, err := s.canonicalLocation(r, canonical)
		if err != nil {
			logging.Error("failed to build canonical redirect", logging.String("project", project), logging.Err(err))
			s.sendError(w, http.StatusInternalServerError, "failed to build redirect")
			return
		}
		redirect(w, http.StatusMovedPermanently, withQuery(location, r))
		return
	}

	format, err := SelectResponseFormat(requestedFormat(r))
	if err != nil {
		s.sendError(w, http.StatusNotAcceptable, err.Error())
		return
	}
	recordPipClient(r)

	detail, err := s.repo.GetProjectPage(r.Context(), project, repository.NewRequestContext(r.Header))
	if err != nil {
		if repository.IsNotFound(err) {
			s.sendError(w, http.StatusNotFound, err.Error())
			return
		}
		logging.Error("project page lookup failed", logging.String("project", project), logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "failed to load project page")
		return
	}

	detail, err = s.rewriteFileURLs(r, detail)
	if err != nil {
		logging.Error("failed to rewrite file urls", logging.String("project", project), logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "failed to build project page")
		return
	}

	body, err := SerializeProjectDetail(detail, format)
	if err != nil {
		logging.Error("project page serialization failed", logging.String("project", project), logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "failed to serialize project page")
		return
	}
	s.writePage(w, r, format, body)
}

// canonicalLocation computes the relative Location from the current page
// to its canonical sibling, so the redirect survives any reverse-proxy
// path prefix.
func (s *Server) canonicalLocation(r *http.Request, canonical string) (string, error) {
	origin := requestBaseURL(r)
	dest := *origin
	dest.Path = parentPath(origin.Path) + canonical + "/"
	return RelativeURL(origin.String(), dest.String())
}

// rewriteFileURLs points every file at this server's resource endpoint,
// relative to the page being served. Serialized pages never carry the
// backend's own URLs.
func (s *Server) rewriteFileURLs(r *http.Request, detail repository.ProjectDetail) (repository.ProjectDetail, error) {
	origin := requestBaseURL(r)
	for i, file := range detail.Files {
		dest := *origin
		dest.Path = "/resources/" + detail.Name + "/" + file.Filename
		rel, err := RelativeURL(origin.String(), dest.String())
		if err != nil {
			return detail, err
		}
		detail.Files[i].URL = rel
	}
	return detail, nil
}

// ─── Resources ──────────────────────────────────────────────────────────────

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	project := repository.CanonicalizeName(r.PathValue("project"))
	resourceName := r.PathValue("resource")
	rctx := repository.NewRequestContext(r.Header)

	resource, err := s.repo.GetResource(r.Context(), project, resourceName, rctx)
	if err != nil {
		switch {
		case repository.IsNotFound(err):
			s.sendError(w, http.StatusNotFound, err.Error())
		case repository.IsInvalidPackage(err):
			logging.Warn("invalid package",
				logging.String("project", project),
				logging.String("resource", resourceName),
				logging.Err(err))
			s.sendError(w, http.StatusBadGateway, err.Error())
		default:
			logging.Error("resource lookup failed",
				logging.String("project", project),
				logging.String("resource", resourceName),
				logging.Err(err))
			s.sendError(w, http.StatusInternalServerError, "failed to resolve resource")
		}
		return
	}

	switch res := resource.(type) {
	case *repository.TextResource:
		s.serveText(w, r, res)
	case *repository.LocalResource:
		s.serveLocal(w, r, res)
	case *repository.HttpResource:
		if s.streamRemote {
			s.streamRemoteResource(w, r, res, rctx)
		} else {
			redirect(w, http.StatusFound, res.URL)
			metrics.RecordResourceDownload("redirect", 0, true)
		}
	default:
		// The variant set is closed. Anything else is an internal
		// consistency fault, never a client error.
		logging.Error("unhandled resource variant",
			logging.String("type", fmt.Sprintf("%T", resource)),
			logging.String("resource", resourceName))
		s.sendError(w, http.StatusInternalServerError, "unsupported resource type")
	}
}

func (s *Server) serveText(w http.ResponseWriter, r *http.Request, res *repository.TextResource) {
	sum := sha256.Sum256([]byte(res.Text))
	etag := `"` + hex.EncodeToString(sum[:])[:12] + `"`

	// The ETag is sent on 304 and on mismatched revalidation alike.
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Text)))
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	io.WriteString(w, res.Text)
	metrics.RecordResourceDownload("text", int64(len(res.Text)), true)
}

func (s *Server) serveLocal(w http.ResponseWriter, r *http.Request, res *repository.LocalResource) {
	if res.ETag != "" {
		// The backend's validator is served verbatim, never recomputed
		// from file content.
		w.Header().Set("ETag", res.ETag)
		if r.Header.Get("If-None-Match") == res.ETag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	f, err := os.Open(res.Path)
	if err != nil {
		logging.Error("failed to open local resource", logging.String("path", res.Path), logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "failed to open resource")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	n, err := io.Copy(w, f)
	if err != nil {
		logging.Warn("local resource transfer error", logging.String("path", res.Path), logging.Err(err))
	}
	metrics.RecordResourceDownload("local", n, err == nil)
}

func (s *Server) streamRemoteResource(w http.ResponseWriter, r *http.Request, res *repository.HttpResource, rctx *repository.RequestContext) {
	stream, err := OpenProxyStream(r.Context(), s.client, res.URL, rctx.ForwardHeader())
	if err != nil {
		logging.Error("failed to open upstream stream", logging.String("url", res.URL), logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "failed to fetch resource")
		metrics.RecordResourceDownload("stream", 0, false)
		return
	}
	defer stream.Close()

	copyProxyHeaders(w.Header(), stream.Header())
	w.WriteHeader(stream.StatusCode())
	if r.Method == http.MethodHead {
		return
	}

	n, err := stream.Stream(w)
	if err != nil {
		// Status and part of the body are already on the wire; all that
		// can be done is stop, leaving the response truncated.
		logging.Warn("upstream stream truncated",
			logging.String("url", res.URL),
			logging.Int64("bytes_sent", n),
			logging.Err(err))
		metrics.RecordProxyTruncated()
	}
	metrics.RecordResourceDownload("stream", n, err == nil)
}

// hopByHopHeaders never propagate end to end; the upstream's values
// describe its connection, not the one to our client.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func copyProxyHeaders(dst, src http.Header) {
	for name, values := range src {
		dst[name] = append([]string(nil), values...)
	}
	for _, value := range src.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		dst.Del(name)
	}
}

// ─── Response helpers ───────────────────────────────────────────────────────

// writePage sends a negotiated page body. The Content-Type is the selected
// format's media type verbatim. Bodies are compressed when the client
// accepts it; proxied artifact bodies never pass through here.
func (s *Server) writePage(w http.ResponseWriter, r *http.Request, format ResponseFormat, body []byte) {
	w.Header().Set("Content-Type", string(format))
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		return
	}

	if coding := compress.SelectEncoding(r.Header.Get("Accept-Encoding")); coding != "" {
		cw, err := compress.NewResponseWriter(w, coding)
		if err == nil {
			defer cw.Close()
			cw.Write(body)
			return
		}
		logging.Warn("failed to set up response compression", logging.String("coding", coding), logging.Err(err))
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Write(body)
}

// redirect writes the Location header exactly as given. http.Redirect
// would resolve a relative Location against the request path, defeating
// the reverse-proxy-safe relative form.
func redirect(w http.ResponseWriter, code int, location string) {
	w.Header().Set("Location", location)
	w.WriteHeader(code)
}

// withQuery re-attaches the request's query string to a redirect target.
func withQuery(location string, r *http.Request) string {
	if r.URL.RawQuery != "" {
		return location + "?" + r.URL.RawQuery
	}
	return location
}

// requestBaseURL reconstructs the absolute URL of the current request,
// used as the origin for relative link computation.
func requestBaseURL(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path}
}

// parentPath strips the final segment of a directory-style path:
// "/simple/Name/" becomes "/simple/".
func parentPath(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "/"
	}
	return trimmed[:idx+1]
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}

// ─── Client metrics ─────────────────────────────────────────────────────────

var pipUserAgentPrefix = regexp.MustCompile(`^.*?{`)

// recordPipClient extracts the installer version from pip's JSON
// user-agent, e.g. "pip/23.1 {...}", for the client-version metric.
// Anything that is not pip's shape is ignored.
func recordPipClient(r *http.Request) {
	ua := r.Header.Get("User-Agent")
	if !strings.Contains(ua, "{") {
		return
	}
	payload := pipUserAgentPrefix.ReplaceAllString(ua, "{")
	var info struct {
		Installer struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"installer"`
	}
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		return
	}
	if v := info.Installer.Version; v != "" {
		// Label by major.minor so patch releases do not fan out the series.
		if parts := strings.SplitN(v, ".", 3); len(parts) >= 2 {
			v = parts[0] + "." + parts[1]
		}
		metrics.RecordPipClient(v)
	}
}
