package bartender

import (
	"context"

	"github.com/marmos91/bartender/internal/logger"
	"github.com/marmos91/bartender/pkg/catalog"
	"github.com/marmos91/bartender/pkg/ln"
)

// MoveRequest moves or hardlinks SourceLN to TargetLN.
//
// A TargetLN ending in a separator names an existing collection the
// source is linked into under its current name. PreserveOriginal keeps
// the source link, creating a hardlink.
type MoveRequest struct {
	SourceLN         string
	TargetLN         string
	PreserveOriginal bool
}

// Move relinks entries inside the namespace. Both names of every
// sub-request are resolved in one call.
//
// The new link is added first, then the old one removed. If removing the
// old link fails the entry stays reachable from both places; the status
// is "failed removing child from parent" and the gap is logged.
//
// Statuses: moved, nosuchLN, targetexists, invalidtarget, denied, failed
// adding child to parent, failed removing child from parent.
func (s *Service) Move(ctx context.Context, requests map[string]MoveRequest) map[string]string {
	b := s.begin("move", len(requests))
	defer b.end()

	results := make(map[string]string, len(requests))
	finish := func(id, status string) {
		results[id] = status
		b.result(status)
	}

	names := make(map[string]string, 2*len(requests))
	for id, req := range requests {
		names["s/"+id] = req.SourceLN
		names["t/"+id] = req.TargetLN
	}
	traversals, err := s.resolve(ctx, names)
	if err != nil {
		for id := range requests {
			finish(id, upstreamFailure(err))
		}
		return results
	}

	for id, req := range requests {
		status := safely("move", id, internalErrorStatus, func() string {
			return s.move(ctx, req, traversals["s/"+id], traversals["t/"+id])
		})
		finish(id, status)
	}
	return results
}

func (s *Service) move(ctx context.Context, req MoveRequest, src, tgt catalog.Traversal) string {
	if !src.Complete {
		return StatusNosuchLN
	}

	// Unlike creation, a trailing "/" on the target means "into this collection".
	tbase := ln.Base(req.TargetLN)

	var parentGUID, childName string
	var parentMD *catalog.Metadata
	if tgt.Complete {
		if tbase != "" {
			return StatusTargetExists
		}
		if !tgt.Metadata.IsCollection() {
			return StatusInvalidTarget
		}
		parentGUID, parentMD, childName = tgt.GUID, tgt.Metadata, linkName(src)
	} else {
		if tgt.RestLN != tbase || len(tgt.Chain) == 0 || !tgt.Metadata.IsCollection() {
			return StatusInvalidTarget
		}
		parentGUID, parentMD, childName = tgt.GUID, tgt.Metadata, tbase
	}
	if childName == "" {
		return StatusInvalidTarget
	}

	// An entry must never end up inside its own subtree.
	if tgt.Contains(src.GUID) {
		return StatusInvalidTarget
	}

	if s.decide(ctx, parentMD, ActionAddEntry) == Deny {
		return StatusDenied
	}
	if !req.PreserveOriginal {
		if parent, ok := src.Parent(); ok {
			if s.decide(ctx, s.metadataOf(ctx, parent.GUID), ActionRemoveEntry) == Deny {
				return StatusDenied
			}
		}
	}

	if status := s.link(ctx, parentGUID, childName, src.GUID); status != "" {
		return status
	}

	if req.PreserveOriginal {
		return StatusMoved
	}
	changes := unlinkChanges("old", src)
	if len(changes) == 0 {
		return StatusMoved
	}
	unlinked, err := s.modifyMetadata(ctx, changes)
	if err != nil || !unlinkOK(unlinked["old/entries"]) || !unlinkOK(unlinked["old/parents"]) {
		logger.Warn("move: %s is now linked at both %s and %s: unlink failed: %v %v",
			src.GUID, src.TraversedLN, req.TargetLN, err, unlinked)
		s.metrics.RecordConsistencyGap("move")
		return StatusFailedRemovingChild
	}
	return StatusMoved
}

// link adds childGUID to the collection parentGUID as name, then the
// back-reference on the child. The entries add fails on an existing name.
// When the back-reference cannot be written the entries add is undone.
func (s *Service) link(ctx context.Context, parentGUID, name, childGUID string) string {
	added, err := s.modifyMetadata(ctx, map[string]catalog.Change{
		"entries": {
			GUID:     parentGUID,
			Type:     catalog.ChangeAdd,
			Section:  catalog.SectionEntries,
			Property: name,
			Value:    childGUID,
		},
	})
	if err != nil || added["entries"] != catalog.StatusSet {
		return StatusFailedAddingChild
	}

	added, err = s.modifyMetadata(ctx, map[string]catalog.Change{
		"parents": {
			GUID:     childGUID,
			Type:     catalog.ChangeSet,
			Section:  catalog.SectionParents,
			Property: catalog.ParentKey(parentGUID, name),
			Value:    catalog.ParentMarker,
		},
	})
	if err == nil && added["parents"] == catalog.StatusSet {
		return ""
	}

	undone, undoErr := s.modifyMetadata(ctx, map[string]catalog.Change{
		"undo": {
			GUID:     parentGUID,
			Type:     catalog.ChangeUnset,
			Section:  catalog.SectionEntries,
			Property: name,
		},
	})
	if undoErr != nil || undone["undo"] != catalog.StatusUnset {
		logger.Warn("move: %s/%s points at %s without back-reference", parentGUID, name, childGUID)
		s.metrics.RecordConsistencyGap("move")
	}
	return StatusFailedAddingChild
}

// metadataOf fetches the policy of one entry for an authorization check.
// A failed read yields nil, which every Authorizer treats as "no policy".
func (s *Service) metadataOf(ctx context.Context, guid string) *catalog.Metadata {
	entries, err := s.getEntries(ctx, []string{guid}, []catalog.Filter{
		{Section: catalog.SectionEntry},
		{Section: catalog.SectionPolicy},
	})
	if err != nil {
		return nil
	}
	return entries[guid]
}
