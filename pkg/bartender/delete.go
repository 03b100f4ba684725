package bartender

import (
	"context"
	"sort"

	"github.com/marmos91/bartender/internal/logger"
	"github.com/marmos91/bartender/pkg/catalog"
)

// unlinkChanges builds the two changes that detach the entry reached by tr
// from its immediate parent: the parent's entries property and the entry's
// own parents back-reference. They are keyed under prefix.
func unlinkChanges(prefix string, tr catalog.Traversal) map[string]catalog.Change {
	parent, ok := tr.Parent()
	if !ok {
		return nil
	}
	name := linkName(tr)
	return map[string]catalog.Change{
		prefix + "/entries": {
			GUID:     parent.GUID,
			Type:     catalog.ChangeUnset,
			Section:  catalog.SectionEntries,
			Property: name,
		},
		prefix + "/parents": {
			GUID:     tr.GUID,
			Type:     catalog.ChangeUnset,
			Section:  catalog.SectionParents,
			Property: catalog.ParentKey(parent.GUID, name),
		},
	}
}

// unlinkOK reports whether an unset either happened or found nothing left
// to detach.
func unlinkOK(status string) bool {
	return status == catalog.StatusUnset || status == catalog.StatusNoSuchGUID
}

// DelFile deletes files by Logical Name.
//
// Each sub-request removes the link it names. The file entry itself is
// removed when that link was its last one. Links seen as "not the last"
// are checked again once every unlink of the batch is done: concurrent
// deletes of sibling hardlinks may each see the other link still present,
// and the second look removes any file no collection points at anymore.
//
// Statuses: deleted, nosuchLN, denied, failed: <err>.
func (s *Service) DelFile(ctx context.Context, names map[string]string) map[string]string {
	b := s.begin("delFile", len(names))
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

	var (
		pending = make(map[string]catalog.Traversal)
		unlink  = make(map[string]catalog.Change)
		owners  = make(map[string]string) // change key -> id
	)

	for id := range names {
		status := safely("delFile", id, internalErrorStatus, func() string {
			tr := traversals[id]
			if !tr.Complete || !tr.Metadata.IsFile() {
				return StatusNosuchLN
			}
			if s.decide(ctx, tr.Metadata, ActionDelete) == Deny {
				return StatusDenied
			}

			for key, change := range unlinkChanges(id, tr) {
				unlink[key] = change
				owners[key] = id
			}
			return ""
		})
		if status != "" {
			finish(id, status)
			continue
		}
		pending[id] = traversals[id]
	}

	// Unlink every named link in one call.
	unlinked, err := s.modifyMetadata(ctx, unlink)
	failures := make(map[string]string)
	for key, id := range owners {
		switch {
		case err != nil:
			failures[id] = upstreamFailure(err)
		case !unlinkOK(unlinked[key]):
			failures[id] = failed(unlinked[key])
		}
	}

	// A file whose link could not be dropped stays as it is.
	remove := make(map[string][]string)
	recheck := make(map[string][]string)
	for id, tr := range pending {
		if _, ok := failures[id]; ok {
			continue
		}
		if tr.Metadata.RefCount() < 2 {
			remove[tr.GUID] = append(remove[tr.GUID], id)
		} else {
			recheck[tr.GUID] = append(recheck[tr.GUID], id)
		}
	}

	// Remove files whose last link was just dropped.
	s.removeFiles(ctx, remove, failures)

	// Second look at files that still had other links.
	if len(recheck) > 0 {
		s.recheckOrphans(ctx, recheck, failures)
	}

	for id := range pending {
		if status, ok := failures[id]; ok {
			finish(id, status)
			continue
		}
		finish(id, StatusDeleted)
	}
	return results
}

// removeFiles removes each GUID once and records a failure for every
// sub-request that asked for it when the removal failed.
func (s *Service) removeFiles(ctx context.Context, guids map[string][]string, failures map[string]string) {
	if len(guids) == 0 {
		return
	}

	batch := make(map[string]string, len(guids))
	for guid := range guids {
		batch[guid] = guid
	}

	removed, err := s.removeEntries(ctx, batch)
	for guid, ids := range guids {
		var status string
		switch {
		case err != nil:
			status = upstreamFailure(err)
		case removed[guid] == catalog.StatusRemoved, removed[guid] == catalog.StatusNoSuchGUID:
			continue
		default:
			status = failed(removed[guid])
		}
		logger.Warn("delFile: failed to remove %s: %s", guid, status)
		for _, id := range ids {
			if _, seen := failures[id]; !seen {
				failures[id] = status
			}
		}
	}
}

// recheckOrphans re-reads files that were linked elsewhere when their link
// was dropped, and removes those no collection links to anymore.
func (s *Service) recheckOrphans(ctx context.Context, guids map[string][]string, failures map[string]string) {
	list := make([]string, 0, len(guids))
	for guid := range guids {
		list = append(list, guid)
	}
	sort.Strings(list)

	current, err := s.getEntries(ctx, list, []catalog.Filter{
		{Section: catalog.SectionEntry},
		{Section: catalog.SectionParents},
	})
	if err != nil {
		// The links are gone already; a later delete or an operator
		// sweep picks up the orphan.
		logger.Warn("delFile: orphan recheck of %v failed: %v", list, err)
		s.metrics.RecordConsistencyGap("delFile")
		return
	}

	orphans := make(map[string][]string)
	for guid, ids := range guids {
		md, ok := current[guid]
		if !ok || md.RefCount() != 0 {
			continue
		}
		logger.Debug("delFile: %s lost its last link concurrently, removing", guid)
		orphans[guid] = ids
	}
	s.removeFiles(ctx, orphans, failures)
}
