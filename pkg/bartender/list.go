package bartender

import (
	"context"

	"github.com/marmos91/bartender/pkg/catalog"
)

// ListEntry is one child of a listed collection.
type ListEntry struct {
	GUID     string
	Metadata *catalog.Metadata
}

// ListResult is the outcome of one list sub-request.
type ListResult struct {
	Status  string
	Entries map[string]ListEntry
}

// List returns the children of collections with the metadata selected by
// filters. The metadata of every child of the whole batch is read with a
// single Get.
//
// Statuses: found, is a file, not found, denied.
func (s *Service) List(ctx context.Context, names map[string]string, filters []catalog.Filter) map[string]ListResult {
	b := s.begin("list", len(names))
	defer b.end()

	results := make(map[string]ListResult, len(names))
	finish := func(id string, res ListResult) {
		if res.Entries == nil {
			res.Entries = map[string]ListEntry{}
		}
		results[id] = res
		b.result(res.Status)
	}

	traversals, err := s.resolve(ctx, names)
	if err != nil {
		for id := range names {
			finish(id, ListResult{Status: upstreamFailure(err)})
		}
		return results
	}

	found := make(map[string]map[string]string) // id -> name -> GUID
	var children []string
	seen := make(map[string]struct{})
	for id := range names {
		status := safely("list", id, internalErrorStatus, func() string {
			tr := traversals[id]
			switch {
			case !tr.Complete:
				return StatusNotFound
			case tr.Metadata.IsFile():
				return StatusIsAFile
			}
			if s.decide(ctx, tr.Metadata, ActionRead) == Deny {
				return StatusDenied
			}
			return StatusFound
		})
		if status != StatusFound {
			finish(id, ListResult{Status: status})
			continue
		}

		entries := traversals[id].Metadata.Entries
		found[id] = entries
		for _, guid := range entries {
			if _, dup := seen[guid]; dup {
				continue
			}
			seen[guid] = struct{}{}
			children = append(children, guid)
		}
	}
	if len(found) == 0 {
		return results
	}

	childMD, err := s.getEntries(ctx, children, filters)
	if err != nil {
		for id := range found {
			finish(id, ListResult{Status: upstreamFailure(err)})
		}
		return results
	}

	for id, entries := range found {
		res := ListResult{Status: StatusFound, Entries: make(map[string]ListEntry, len(entries))}
		for name, guid := range entries {
			md := childMD[guid]
			if md == nil {
				// Dangling link: the child was removed concurrently.
				md = &catalog.Metadata{}
			} else {
				md = md.Clone()
			}
			res.Entries[name] = ListEntry{GUID: guid, Metadata: md}
		}
		finish(id, res)
	}
	return results
}

// Stat returns the metadata of each fully resolved name. Names that do not
// resolve, or that the caller may not read, yield empty metadata.
func (s *Service) Stat(ctx context.Context, names map[string]string) map[string]*catalog.Metadata {
	b := s.begin("stat", len(names))
	defer b.end()

	results := make(map[string]*catalog.Metadata, len(names))
	traversals, err := s.resolve(ctx, names)
	if err != nil {
		for id := range names {
			results[id] = &catalog.Metadata{}
			b.result(upstreamFailure(err))
		}
		return results
	}

	for id := range names {
		md := safely("stat", id, func() *catalog.Metadata { return &catalog.Metadata{} }, func() *catalog.Metadata {
			tr := traversals[id]
			if !tr.Complete || tr.Metadata == nil {
				return &catalog.Metadata{}
			}
			if s.decide(ctx, tr.Metadata, ActionRead) == Deny {
				return &catalog.Metadata{}
			}
			return tr.Metadata
		})
		results[id] = md
		if md.Empty() {
			b.result(StatusNotFound)
		} else {
			b.result(StatusFound)
		}
	}
	return results
}
