package bartender

import (
	"context"

	"github.com/marmos91/bartender/pkg/catalog"
)

// ModifyRequest changes one metadata property of the entry at LN.
type ModifyRequest struct {
	LN         string
	ChangeType catalog.ChangeType
	Section    string
	Property   string
	Value      string
}

// structural reports whether section is maintained by the namespace
// operations and may not be edited directly.
func structural(section string) bool {
	switch section {
	case catalog.SectionEntry, catalog.SectionEntries, catalog.SectionParents, catalog.SectionLocations:
		return true
	}
	return false
}

// Modify edits entry metadata. The changes of the whole batch go to the
// Librarian in one call and each sub-request gets the Librarian's status.
//
// Statuses: set, unset, entry exists, no such LN, denied, failed: <err>.
func (s *Service) Modify(ctx context.Context, requests map[string]ModifyRequest) map[string]string {
	b := s.begin("modify", len(requests))
	defer b.end()

	results := make(map[string]string, len(requests))
	finish := func(id, status string) {
		results[id] = status
		b.result(status)
	}

	names := make(map[string]string, len(requests))
	for id, req := range requests {
		names[id] = req.LN
	}
	traversals, err := s.resolve(ctx, names)
	if err != nil {
		for id := range requests {
			finish(id, upstreamFailure(err))
		}
		return results
	}

	changes := make(map[string]catalog.Change, len(requests))
	for id, req := range requests {
		status := safely("modify", id, internalErrorStatus, func() string {
			tr := traversals[id]
			if !tr.Complete {
				return StatusNoSuchLN
			}
			if structural(req.Section) {
				return failed("section " + req.Section + " is managed by the namespace")
			}
			if s.decide(ctx, tr.Metadata, actionForSection(req.Section)) == Deny {
				return StatusDenied
			}
			changes[id] = catalog.Change{
				GUID:     tr.GUID,
				Type:     req.ChangeType,
				Section:  req.Section,
				Property: req.Property,
				Value:    req.Value,
			}
			return ""
		})
		if status != "" {
			finish(id, status)
		}
	}

	modified, err := s.modifyMetadata(ctx, changes)
	for id := range changes {
		if err != nil {
			finish(id, upstreamFailure(err))
			continue
		}
		finish(id, modified[id])
	}
	return results
}
