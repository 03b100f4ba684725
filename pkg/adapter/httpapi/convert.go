package httpapi

import (
	"context"
	"sort"

	"github.com/marmos91/bartender/pkg/adapter"
	"github.com/marmos91/bartender/pkg/bartender"
	"github.com/marmos91/bartender/pkg/catalog"
	"github.com/marmos91/bartender/pkg/wire"
)

// operation runs one decoded request document against the service.
type operation func(ctx context.Context, svc adapter.Service, doc *wire.RequestDoc) []wire.SubResult

var operations = map[string]operation{
	wire.OpStat:             stat,
	wire.OpList:             list,
	wire.OpMakeCollection:   makeCollection,
	wire.OpUnmakeCollection: unmakeCollection,
	wire.OpMove:             move,
	wire.OpPutFile:          putFile,
	wire.OpGetFile:          getFile,
	wire.OpAddReplica:       addReplica,
	wire.OpDelFile:          delFile,
	wire.OpModify:           modify,
}

func names(doc *wire.RequestDoc) map[string]string {
	out := make(map[string]string, len(doc.SubRequests))
	for _, sr := range doc.SubRequests {
		out[sr.ID] = sr.LN
	}
	return out
}

// decodeMetadata converts the metadata of every sub-request. Sub-requests
// with malformed metadata are answered right away and left out of the
// returned map.
func decodeMetadata(doc *wire.RequestDoc, rejected *[]wire.SubResult) map[string]*catalog.Metadata {
	out := make(map[string]*catalog.Metadata, len(doc.SubRequests))
	for _, sr := range doc.SubRequests {
		md, err := catalog.FromTriples(sr.Metadata)
		if err != nil {
			*rejected = append(*rejected, wire.SubResult{ID: sr.ID, Status: "failed: invalid metadata: " + err.Error()})
			continue
		}
		out[sr.ID] = md
	}
	return out
}

func statusResults(statuses map[string]string) []wire.SubResult {
	out := make([]wire.SubResult, 0, len(statuses))
	for id, status := range statuses {
		out = append(out, wire.SubResult{ID: id, Status: status})
	}
	return out
}

func stat(ctx context.Context, svc adapter.Service, doc *wire.RequestDoc) []wire.SubResult {
	res := svc.Stat(ctx, names(doc))
	out := make([]wire.SubResult, 0, len(res))
	for id, md := range res {
		out = append(out, wire.SubResult{ID: id, Metadata: md.Triples()})
	}
	return out
}

func list(ctx context.Context, svc adapter.Service, doc *wire.RequestDoc) []wire.SubResult {
	filters := make([]catalog.Filter, 0, len(doc.Filters))
	for _, f := range doc.Filters {
		filters = append(filters, catalog.Filter{Section: f.Section, Property: f.Property})
	}

	res := svc.List(ctx, names(doc), filters)
	out := make([]wire.SubResult, 0, len(res))
	for id, r := range res {
		entries := make([]wire.ListEntry, 0, len(r.Entries))
		for name, e := range r.Entries {
			entries = append(entries, wire.ListEntry{Name: name, GUID: e.GUID, Metadata: e.Metadata.Triples()})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		out = append(out, wire.SubResult{ID: id, Status: r.Status, Entries: entries})
	}
	return out
}

func makeCollection(ctx context.Context, svc adapter.Service, doc *wire.RequestDoc) []wire.SubResult {
	var out []wire.SubResult
	metadata := decodeMetadata(doc, &out)

	requests := make(map[string]bartender.MakeCollectionRequest, len(metadata))
	for _, sr := range doc.SubRequests {
		if md, ok := metadata[sr.ID]; ok {
			requests[sr.ID] = bartender.MakeCollectionRequest{LN: sr.LN, Metadata: md}
		}
	}
	for id, r := range svc.MakeCollection(ctx, requests) {
		out = append(out, wire.SubResult{ID: id, Status: r.Status, GUID: r.GUID})
	}
	return out
}

func unmakeCollection(ctx context.Context, svc adapter.Service, doc *wire.RequestDoc) []wire.SubResult {
	return statusResults(svc.UnmakeCollection(ctx, names(doc)))
}

func move(ctx context.Context, svc adapter.Service, doc *wire.RequestDoc) []wire.SubResult {
	requests := make(map[string]bartender.MoveRequest, len(doc.SubRequests))
	for _, sr := range doc.SubRequests {
		requests[sr.ID] = bartender.MoveRequest{
			SourceLN:         sr.LN,
			TargetLN:         sr.TargetLN,
			PreserveOriginal: sr.PreserveOriginal,
		}
	}
	return statusResults(svc.Move(ctx, requests))
}

func putFile(ctx context.Context, svc adapter.Service, doc *wire.RequestDoc) []wire.SubResult {
	var out []wire.SubResult
	metadata := decodeMetadata(doc, &out)

	requests := make(map[string]bartender.PutFileRequest, len(metadata))
	for _, sr := range doc.SubRequests {
		if md, ok := metadata[sr.ID]; ok {
			requests[sr.ID] = bartender.PutFileRequest{LN: sr.LN, Metadata: md, Protocols: sr.Protocols}
		}
	}
	for id, r := range svc.PutFile(ctx, requests) {
		out = append(out, wire.SubResult{
			ID:          id,
			Status:      r.Status,
			GUID:        r.GUID,
			TransferURL: r.TransferURL,
			Protocol:    r.Protocol,
		})
	}
	return out
}

func replicaResults(res map[string]bartender.ReplicaResult) []wire.SubResult {
	out := make([]wire.SubResult, 0, len(res))
	for id, r := range res {
		out = append(out, wire.SubResult{ID: id, Status: r.Status, TransferURL: r.TransferURL, Protocol: r.Protocol})
	}
	return out
}

func getFile(ctx context.Context, svc adapter.Service, doc *wire.RequestDoc) []wire.SubResult {
	requests := make(map[string]bartender.GetFileRequest, len(doc.SubRequests))
	for _, sr := range doc.SubRequests {
		requests[sr.ID] = bartender.GetFileRequest{LN: sr.LN, Protocols: sr.Protocols}
	}
	return replicaResults(svc.GetFile(ctx, requests))
}

func addReplica(ctx context.Context, svc adapter.Service, doc *wire.RequestDoc) []wire.SubResult {
	requests := make(map[string]bartender.AddReplicaRequest, len(doc.SubRequests))
	for _, sr := range doc.SubRequests {
		requests[sr.ID] = bartender.AddReplicaRequest{GUID: sr.GUID, Protocols: sr.Protocols}
	}
	return replicaResults(svc.AddReplica(ctx, requests))
}

func delFile(ctx context.Context, svc adapter.Service, doc *wire.RequestDoc) []wire.SubResult {
	return statusResults(svc.DelFile(ctx, names(doc)))
}

func modify(ctx context.Context, svc adapter.Service, doc *wire.RequestDoc) []wire.SubResult {
	requests := make(map[string]bartender.ModifyRequest, len(doc.SubRequests))
	for _, sr := range doc.SubRequests {
		requests[sr.ID] = bartender.ModifyRequest{
			LN:         sr.LN,
			ChangeType: catalog.ChangeType(sr.ChangeType),
			Section:    sr.Section,
			Property:   sr.Property,
			Value:      sr.Value,
		}
	}
	return statusResults(svc.Modify(ctx, requests))
}
