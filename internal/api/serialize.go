package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"

	"github.com/wheelhouse/wheelhouse/internal/repository"
)

// Both HTML formats share one shape; the versioned media type only changes
// the Content-Type. The JSON format marshals the model directly, so the
// struct tags define the wire field names.

var listTemplate = template.Must(template.New("list").Parse(`<!DOCTYPE html>
    <html>
    <head>
        <meta name="pypi:repository-version" content="{{.Meta.APIVersion}}">
        <title>Simple index</title>
    </head>
    <body>
{{range .Projects}}<a href="{{.Name}}/">{{.Name}}</a><br/>
{{end}}</body>
</html>`))

var detailTemplate = template.Must(template.New("detail").Funcs(template.FuncMap{
	"fileHref": fileHref,
}).Parse(`<!DOCTYPE html>
    <html>
    <head>
        <meta name="pypi:repository-version" content="{{.Meta.APIVersion}}">
        <title>Links for {{.Name}}</title>
    </head>
    <body>
    <h1>Links for {{.Name}}</h1>
{{range .Files}}<a href="{{fileHref .}}"{{if .RequiresPython}} data-requires-python="{{.RequiresPython}}"{{end}}{{if .CoreMetadata}} data-core-metadata="true"{{end}}>{{.Filename}}</a><br/>
{{end}}</body>
</html>`))

// fileHref appends the strongest available digest as a URL fragment, the
// form installers expect file hashes in within HTML pages.
func fileHref(file repository.File) string {
	if len(file.Hashes) == 0 {
		return file.URL
	}
	algo := "sha256"
	if _, ok := file.Hashes[algo]; !ok {
		algos := make([]string, 0, len(file.Hashes))
		for a := range file.Hashes {
			algos = append(algos, a)
		}
		sort.Strings(algos)
		algo = algos[0]
	}
	return file.URL + "#" + algo + "=" + file.Hashes[algo]
}

// SerializeProjectList renders a project list in the given format.
func SerializeProjectList(list repository.ProjectList, format ResponseFormat) ([]byte, error) {
	switch format {
	case FormatHTMLLegacy, FormatHTMLV1:
		var buf bytes.Buffer
		if err := listTemplate.Execute(&buf, list); err != nil {
			return nil, fmt.Errorf("failed to render project list: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSONV1:
		if list.Projects == nil {
			list.Projects = []repository.ProjectEntry{}
		}
		return json.Marshal(list)
	}
	return nil, fmt.Errorf("no serializer for format %q", format)
}

// SerializeProjectDetail renders a project's file listing in the given
// format. Hash maps are never omitted from JSON, an artifact with no
// digests serializes as an empty object.
func SerializeProjectDetail(detail repository.ProjectDetail, format ResponseFormat) ([]byte, error) {
	switch format {
	case FormatHTMLLegacy, FormatHTMLV1:
		var buf bytes.Buffer
		if err := detailTemplate.Execute(&buf, detail); err != nil {
			return nil, fmt.Errorf("failed to render project page: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSONV1:
		if detail.Files == nil {
			detail.Files = []repository.File{}
		}
		for i := range detail.Files {
			if detail.Files[i].Hashes == nil {
				detail.Files[i].Hashes = map[string]string{}
			}
		}
		return json.Marshal(detail)
	}
	return nil, fmt.Errorf("no serializer for format %q", format)
}
