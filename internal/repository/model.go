// Package repository defines the package-index data model and the backend
// interface the HTTP layer serves from: project lists, per-project file
// pages, and deliverable resources. Implementations live in the
// subpackages (local, remote, s3) and in the combinators in this package.
package repository

// RepositoryVersion is the Simple API protocol version marker emitted in
// every serialized page.
const RepositoryVersion = "1.0"

// Meta carries the protocol-version marker of a serialized page.
type Meta struct {
	APIVersion string `json:"api-version"`
}

// ProjectEntry is one name in a project list.
type ProjectEntry struct {
	Name string `json:"name"`
}

// ProjectList is a snapshot of all project names a repository serves.
// Entries are sorted by name so serialized output is deterministic.
type ProjectList struct {
	Meta     Meta           `json:"meta"`
	Projects []ProjectEntry `json:"projects"`
}

// File is one downloadable artifact of a project release.
type File struct {
	Filename string `json:"filename"`
	// URL is backend-relative until the HTTP layer rewrites it to be
	// relative to the page that contains it; serialized pages never carry
	// absolute URLs.
	URL            string            `json:"url"`
	Hashes         map[string]string `json:"hashes"`
	Size           int64             `json:"size,omitempty"`
	RequiresPython string            `json:"requires-python,omitempty"`
	// CoreMetadata advertises that "<Filename>.metadata" is retrievable
	// alongside the file (PEP 658/714). Set by the metadata injector for
	// wheels.
	CoreMetadata bool `json:"core-metadata,omitempty"`
}

// ProjectDetail is the file listing of a single project.
type ProjectDetail struct {
	Meta  Meta   `json:"meta"`
	Name  string `json:"name"`
	Files []File `json:"files"`
}

// Resource is a deliverable artifact. The variant set is closed: inline
// text, a file on local disk, or a remote URL. The dispatcher handles each
// variant explicitly and treats anything else as an internal fault, so new
// variants must be added here and handled there, never coerced.
type Resource interface {
	isResource()
}

// TextResource is an inline text document, typically extracted metadata.
type TextResource struct {
	Text string
}

// LocalResource is a file on local disk. ETag, when non-empty, is the
// quoted validator clients may revalidate against; it is served verbatim
// and never recomputed from file content.
type LocalResource struct {
	Path string
	ETag string
}

// HttpResource is an artifact living at a remote URL. Delivery mode
// (redirect or stream) is server configuration, not a per-resource choice.
type HttpResource struct {
	URL string
}

func (*TextResource) isResource()  {}
func (*LocalResource) isResource() {}
func (*HttpResource) isResource()  {}
