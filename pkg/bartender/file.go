package bartender

import (
	"context"

	"github.com/marmos91/bartender/pkg/catalog"
)

// PutFileRequest creates a new file entry at LN.
//
// Metadata must carry the size, checksum, checksumType and neededReplicas
// states. The entry type is forced to file.
type PutFileRequest struct {
	LN        string
	Metadata  *catalog.Metadata
	Protocols []string
}

// PutFileResult is the outcome of one putFile sub-request. TransferURL and
// Protocol are set when a replica was provisioned.
type PutFileResult struct {
	Status      string
	GUID        string
	TransferURL string
	Protocol    string
}

// GetFileRequest asks for a download location of the file at LN.
type GetFileRequest struct {
	LN        string
	Protocols []string
}

// requiredStates reports the first missing mandatory states property.
func requiredStates(md *catalog.Metadata) (string, bool) {
	switch {
	case md == nil || md.States.Size == nil:
		return catalog.PropertySize, false
	case md.States.Checksum == "":
		return catalog.PropertyChecksum, false
	case md.States.ChecksumType == "":
		return catalog.PropertyChecksumType, false
	case md.States.NeededReplicas == nil:
		return catalog.PropertyNeededReplicas, false
	}
	return "", true
}

// PutFile creates file entries and provisions their first replica.
//
// Statuses: done, missing metadata: <field>, LN exists, parent does not
// exist, denied, the create saga failures, and, when a replica was
// requested, no shepherd found or put error: <err>.
func (s *Service) PutFile(ctx context.Context, requests map[string]PutFileRequest) map[string]PutFileResult {
	b := s.begin("putFile", len(requests))
	defer b.end()

	results := make(map[string]PutFileResult, len(requests))
	finish := func(id string, res PutFileResult) {
		results[id] = res
		b.result(res.Status)
	}

	names := make(map[string]string, len(requests))
	for id, req := range requests {
		if field, ok := requiredStates(req.Metadata); !ok {
			finish(id, PutFileResult{Status: missingMetadata(field)})
			continue
		}
		names[id] = req.LN
	}
	if len(names) == 0 {
		return results
	}

	traversals, err := s.resolve(ctx, names)
	if err != nil {
		for id := range names {
			finish(id, PutFileResult{Status: upstreamFailure(err)})
		}
		return results
	}

	for id := range names {
		req := requests[id]
		res := safely("putFile", id, func() PutFileResult {
			return PutFileResult{Status: StatusInternalError}
		}, func() PutFileResult {
			return s.putFile(ctx, req, traversals[id])
		})
		finish(id, res)
	}
	return results
}

func (s *Service) putFile(ctx context.Context, req PutFileRequest, tr catalog.Traversal) PutFileResult {
	target, status := resolveCreationTarget(req.LN, tr)
	if status != "" {
		return PutFileResult{Status: status}
	}

	md := newEntryMetadata(req.Metadata, catalog.EntryTypeFile, target.explicitGUID)

	// A parentless entry is checked against its own metadata.
	checked := md
	if target.parentMD != nil {
		checked = target.parentMD
	}
	if s.decide(ctx, checked, ActionAddEntry) == Deny {
		return PutFileResult{Status: StatusDenied}
	}

	guid, status := s.create(ctx, md, target.childName, target.parentGUID)
	res := PutFileResult{Status: status, GUID: guid}
	if status != StatusDone || *md.States.NeededReplicas <= 0 {
		return res
	}

	p := s.selectForWrite(ctx, guid, md.States, req.Protocols, nil)
	res.Status = p.status
	if p.handle != nil {
		res.TransferURL = p.handle.TransferURL
		res.Protocol = p.handle.Protocol
	}
	return res
}

// GetFile returns a download location for each file.
//
// Statuses: done, not found, is not a file, denied, file has no valid
// replica, error while getting TURL (<err>).
func (s *Service) GetFile(ctx context.Context, requests map[string]GetFileRequest) map[string]ReplicaResult {
	b := s.begin("getFile", len(requests))
	defer b.end()

	results := make(map[string]ReplicaResult, len(requests))
	finish := func(id string, res ReplicaResult) {
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
			finish(id, ReplicaResult{Status: upstreamFailure(err)})
		}
		return results
	}

	for id, req := range requests {
		res := safely("getFile", id, func() ReplicaResult {
			return ReplicaResult{Status: StatusInternalError}
		}, func() ReplicaResult {
			tr := traversals[id]
			switch {
			case !tr.Complete:
				return ReplicaResult{Status: StatusNotFound}
			case !tr.Metadata.IsFile():
				return ReplicaResult{Status: StatusIsNotAFile}
			}
			if s.decide(ctx, tr.Metadata, ActionRead) == Deny {
				return ReplicaResult{Status: StatusDenied}
			}
			return s.selectForRead(ctx, tr.Metadata, req.Protocols).replicaResult()
		})
		finish(id, res)
	}
	return results
}
