package bartender

import (
	"context"

	"github.com/marmos91/bartender/internal/logger"
	"github.com/marmos91/bartender/pkg/catalog"
)

// newEntryMetadata returns a copy of the client metadata for a new entry of
// the given type. The namespace sections are dropped: links, back-references,
// replicas and heartbeats are only ever written by the service itself.
func newEntryMetadata(md *catalog.Metadata, entryType catalog.EntryType, guid string) *catalog.Metadata {
	md = md.Clone()
	if md == nil {
		md = &catalog.Metadata{}
	}
	md.Entry = catalog.Entry{Type: entryType, GUID: guid}
	md.Entries = nil
	md.Parents = nil
	md.Locations = nil
	md.Heartbeats = nil
	return md
}

// create adds a new entry to the catalog and, when parentGUID is set, links
// it into that collection under childName.
//
// The two steps form a saga:
//
//  1. New: create the entry, with timestamps.created and, when it will be
//     linked, the parents back-reference already in place.
//  2. Link: add childName → GUID to the parent's entries with "add", so a
//     concurrent creator of the same name loses.
//
// If step 2 fails, step 1 is compensated by removing the new entry. A
// failing compensation leaves an unreachable entry behind; it is logged and
// counted as a consistency gap.
//
// An explicit GUID can be requested through md.Entry.GUID.
func (s *Service) create(ctx context.Context, md *catalog.Metadata, childName, parentGUID string) (string, string) {
	md = md.Clone()
	if md == nil {
		md = &catalog.Metadata{}
	}
	md.Timestamps.Created = s.now().Unix()

	linked := parentGUID != ""
	if linked {
		if md.Parents == nil {
			md.Parents = make(map[string]string)
		}
		md.Parents[catalog.ParentKey(parentGUID, childName)] = catalog.ParentMarker
	}

	// Step 1: New
	created, err := s.newEntries(ctx, map[string]*catalog.Metadata{"new": md})
	if err != nil {
		return "", StatusFailedNewEntry
	}
	res, ok := created["new"]
	if !ok {
		return "", StatusFailedNewEntry
	}
	switch res.Status {
	case catalog.StatusDone:
	case catalog.StatusExists:
		return res.GUID, StatusGUIDExists
	default:
		return "", StatusFailedNewEntry
	}

	if !linked {
		return res.GUID, StatusDone
	}

	// Step 2: Link
	linkedStatus, err := s.modifyMetadata(ctx, map[string]catalog.Change{
		"link": {
			GUID:     parentGUID,
			Type:     catalog.ChangeAdd,
			Section:  catalog.SectionEntries,
			Property: childName,
			Value:    res.GUID,
		},
	})
	if err == nil && linkedStatus["link"] == catalog.StatusSet {
		return res.GUID, StatusDone
	}

	// Compensate step 1
	logger.Debug("create: linking %s as %s/%s failed, removing it", res.GUID, parentGUID, childName)
	removed, err := s.removeEntries(ctx, map[string]string{"undo": res.GUID})
	if err != nil || removed["undo"] != catalog.StatusRemoved {
		logger.Warn("create: failed to remove unlinked entry %s: %v %v", res.GUID, err, removed["undo"])
		s.metrics.RecordConsistencyGap("create")
	}
	return "", StatusFailedLinkChild
}

// creationTarget decides where a new entry named by name goes, given its
// traversal. It returns the parent's link (GUID and metadata) and the child
// name, or a status when the entry cannot be created there.
//
// A bare GUID that does not exist yet yields an empty parent GUID and
// requests the GUID explicitly: the entry is created parentless.
type creationTarget struct {
	parentGUID   string
	parentMD     *catalog.Metadata
	childName    string
	explicitGUID string
}

func resolveCreationTarget(name string, tr catalog.Traversal) (creationTarget, string) {
	if tr.Complete {
		return creationTarget{}, StatusLNExists
	}

	root, base := splitCleaned(name)
	if base == "" {
		if root == "" {
			return creationTarget{}, StatusParentDoesNotExist
		}
		return creationTarget{explicitGUID: root}, ""
	}

	if tr.RestLN != base || tr.GUID == "" || !tr.Metadata.IsCollection() {
		return creationTarget{}, StatusParentDoesNotExist
	}

	return creationTarget{
		parentGUID: tr.GUID,
		parentMD:   tr.Metadata,
		childName:  base,
	}, ""
}
