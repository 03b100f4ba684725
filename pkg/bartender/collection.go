package bartender

import (
	"context"

	"github.com/marmos91/bartender/pkg/catalog"
)

// MakeCollectionRequest creates a collection at LN with optional extra
// metadata.
type MakeCollectionRequest struct {
	LN       string
	Metadata *catalog.Metadata
}

// CreateResult is the outcome of makeCollection.
type CreateResult struct {
	Status string
	GUID   string
}

// MakeCollection creates empty collections.
//
// Statuses: done, LN exists, parent does not exist, denied, failed to
// create new librarian entry, GUID exists, failed to add child to parent.
func (s *Service) MakeCollection(ctx context.Context, requests map[string]MakeCollectionRequest) map[string]CreateResult {
	b := s.begin("makeCollection", len(requests))
	defer b.end()

	results := make(map[string]CreateResult, len(requests))
	finish := func(id string, res CreateResult) {
		results[id] = res
		b.result(res.Status)
	}

	names := make(map[string]string, len(requests))
	for id, req := range requests {
		names[id] = req.LN
	}
	traversals, err := s.resolve(ctx, names)
	if err != nil {
		for id := range requests {
			finish(id, CreateResult{Status: upstreamFailure(err)})
		}
		return results
	}

	for id, req := range requests {
		res := safely("makeCollection", id, func() CreateResult {
			return CreateResult{Status: StatusInternalError}
		}, func() CreateResult {
			target, status := resolveCreationTarget(req.LN, traversals[id])
			if status != "" {
				return CreateResult{Status: status}
			}

			md := newEntryMetadata(req.Metadata, catalog.EntryTypeCollection, target.explicitGUID)

			checked := md
			if target.parentMD != nil {
				checked = target.parentMD
			}
			if s.decide(ctx, checked, ActionAddEntry) == Deny {
				return CreateResult{Status: StatusDenied}
			}

			guid, status := s.create(ctx, md, target.childName, target.parentGUID)
			return CreateResult{Status: status, GUID: guid}
		})
		finish(id, res)
	}
	return results
}

// isWellKnown reports whether guid is one of the entries every catalog
// needs to function.
func isWellKnown(guid string) bool {
	return guid == catalog.GlobalRootGUID || guid == catalog.ShepherdRegistryGUID
}

// UnmakeCollection removes empty collections.
//
// The collection is first unlinked from its parent, then removed. Unlinks
// and removals of the whole batch go to the Librarian in one call each.
//
// Statuses: removed, no such LN, not a collection, collection is not
// empty, denied, failed: <status>.
func (s *Service) UnmakeCollection(ctx context.Context, names map[string]string) map[string]string {
	b := s.begin("unmakeCollection", len(names))
	defer b.end()

	results := make(map[string]string, len(names))
	finish := func(id, status string) {
		results[id] = status
		b.result(status)
	}

	traversals, err := s.resolve(ctx, names)
	if err != nil {
		for id := range names {
			finish(id, upstreamFailure(err))
		}
		return results
	}

	pending := make(map[string]string) // id -> collection GUID
	unlink := make(map[string]catalog.Change)
	for id := range names {
		status := safely("unmakeCollection", id, internalErrorStatus, func() string {
			tr := traversals[id]
			switch {
			case !tr.Complete:
				return StatusNoSuchLN
			case !tr.Metadata.IsCollection():
				return StatusNotACollection
			case isWellKnown(tr.GUID):
				return StatusDenied
			}
			if s.decide(ctx, tr.Metadata, ActionDelete) == Deny {
				return StatusDenied
			}
			if len(tr.Metadata.Entries) > 0 {
				return StatusCollectionNotEmpty
			}

			if parent, ok := tr.Parent(); ok {
				unlink[id] = catalog.Change{
					GUID:     parent.GUID,
					Type:     catalog.ChangeUnset,
					Section:  catalog.SectionEntries,
					Property: linkName(tr),
				}
			}
			return ""
		})
		if status != "" {
			finish(id, status)
			continue
		}
		pending[id] = traversals[id].GUID
	}

	unlinked, err := s.modifyMetadata(ctx, unlink)
	remove := make(map[string]string, len(pending))
	for id, guid := range pending {
		if _, linked := unlink[id]; linked {
			if err != nil {
				finish(id, upstreamFailure(err))
				continue
			}
			if unlinked[id] != catalog.StatusUnset {
				finish(id, failed(unlinked[id]))
				continue
			}
		}
		remove[id] = guid
	}

	removed, err := s.removeEntries(ctx, remove)
	for id := range remove {
		switch {
		case err != nil:
			finish(id, upstreamFailure(err))
		case removed[id] != catalog.StatusRemoved:
			finish(id, failed(removed[id]))
		default:
			finish(id, StatusRemoved)
		}
	}
	return results
}
