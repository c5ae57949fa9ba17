package repository

import (
	"context"
	"sort"
)

// PrioritySelected merges several repositories into one. The project list
// is the union of all sources; pages and resources come from the first
// source, in configuration order, that has the project. A project present
// in two sources is therefore always served from the higher-priority one,
// never merged.
type PrioritySelected struct {
	sources []Repository
}

// NewPrioritySelected builds a priority-ordered combinator over sources.
func NewPrioritySelected(sources []Repository) *PrioritySelected {
	return &PrioritySelected{sources: sources}
}

func (p *PrioritySelected) GetProjectList(ctx context.Context, rctx *RequestContext) (ProjectList, error) {
	seen := make(map[string]struct{})
	for _, source := range p.sources {
		list, err := source.GetProjectList(ctx, rctx)
		if err != nil {
			return ProjectList{}, err
		}
		for _, entry := range list.Projects {
			seen[CanonicalizeName(entry.Name)] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	projects := make([]ProjectEntry, len(names))
	for i, name := range names {
		projects[i] = ProjectEntry{Name: name}
	}
	return ProjectList{
		Meta:     Meta{APIVersion: RepositoryVersion},
		Projects: projects,
	}, nil
}

func (p *PrioritySelected) GetProjectPage(ctx context.Context, project string, rctx *RequestContext) (ProjectDetail, error) {
	for _, source := range p.sources {
		page, err := source.GetProjectPage(ctx, project, rctx)
		if err == nil {
			return page, nil
		}
		if !IsNotFound(err) {
			return ProjectDetail{}, err
		}
	}
	return ProjectDetail{}, &PackageNotFoundError{Package: project}
}

func (p *PrioritySelected) GetResource(ctx context.Context, project, resource string, rctx *RequestContext) (Resource, error) {
	for _, source := range p.sources {
		res, err := source.GetResource(ctx, project, resource, rctx)
		if err == nil {
			return res, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}
	return nil, &ResourceUnavailableError{Resource: resource}
}
