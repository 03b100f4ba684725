// Package wire defines the request and response documents of the
// Bartender transport and the codecs that put them on the wire.
//
// A request document carries a list of sub-requests, each tagged with a
// caller-chosen ID. A response document carries one result per ID. The
// documents are flat (lists of structs, no maps) so that every codec,
// including XDR, encodes them the same way.
package wire

import "github.com/marmos91/bartender/pkg/catalog"

// Operation names, used as the last path segment of the HTTP endpoint.
const (
	OpStat             = "stat"
	OpList             = "list"
	OpMakeCollection   = "makeCollection"
	OpUnmakeCollection = "unmakeCollection"
	OpMove             = "move"
	OpPutFile          = "putFile"
	OpGetFile          = "getFile"
	OpAddReplica       = "addReplica"
	OpDelFile          = "delFile"
	OpModify           = "modify"
)

// Operations lists every operation, in a stable order.
var Operations = []string{
	OpStat, OpList, OpMakeCollection, OpUnmakeCollection, OpMove,
	OpPutFile, OpGetFile, OpAddReplica, OpDelFile, OpModify,
}

// Triple is one (section, property, value) metadata item.
type Triple = catalog.Triple

// Filter selects metadata in list responses.
type Filter struct {
	Section  string `json:"section" cbor:"section"`
	Property string `json:"property,omitempty" cbor:"property,omitempty"`
}

// SubRequest is one tagged sub-request. Each operation reads the fields
// it needs:
//
//	stat, list, unmakeCollection, delFile   LN
//	makeCollection                          LN, Metadata
//	putFile                                 LN, Metadata, Protocols
//	getFile                                 LN, Protocols
//	addReplica                              GUID, Protocols
//	move                                    LN, TargetLN, PreserveOriginal
//	modify                                  LN, ChangeType, Section, Property, Value
type SubRequest struct {
	ID               string   `json:"id" cbor:"id"`
	LN               string   `json:"ln,omitempty" cbor:"ln,omitempty"`
	TargetLN         string   `json:"targetLN,omitempty" cbor:"targetLN,omitempty"`
	PreserveOriginal bool     `json:"preserveOriginal,omitempty" cbor:"preserveOriginal,omitempty"`
	GUID             string   `json:"guid,omitempty" cbor:"guid,omitempty"`
	Metadata         []Triple `json:"metadata,omitempty" cbor:"metadata,omitempty"`
	Protocols        []string `json:"protocols,omitempty" cbor:"protocols,omitempty"`
	ChangeType       string   `json:"changeType,omitempty" cbor:"changeType,omitempty"`
	Section          string   `json:"section,omitempty" cbor:"section,omitempty"`
	Property         string   `json:"property,omitempty" cbor:"property,omitempty"`
	Value            string   `json:"value,omitempty" cbor:"value,omitempty"`
}

// RequestDoc is the body of an operation request. Filters applies to list
// only.
type RequestDoc struct {
	SubRequests []SubRequest `json:"subRequests" cbor:"subRequests"`
	Filters     []Filter     `json:"filters,omitempty" cbor:"filters,omitempty"`
}

// ListEntry is one child of a listed collection.
type ListEntry struct {
	Name     string   `json:"name" cbor:"name"`
	GUID     string   `json:"guid" cbor:"guid"`
	Metadata []Triple `json:"metadata,omitempty" cbor:"metadata,omitempty"`
}

// SubResult is the result of one sub-request, tagged with its ID.
type SubResult struct {
	ID          string      `json:"id" cbor:"id"`
	Status      string      `json:"status,omitempty" cbor:"status,omitempty"`
	GUID        string      `json:"guid,omitempty" cbor:"guid,omitempty"`
	TransferURL string      `json:"transferURL,omitempty" cbor:"transferURL,omitempty"`
	Protocol    string      `json:"protocol,omitempty" cbor:"protocol,omitempty"`
	Metadata    []Triple    `json:"metadata,omitempty" cbor:"metadata,omitempty"`
	Entries     []ListEntry `json:"entries,omitempty" cbor:"entries,omitempty"`
}

// ResponseDoc is the body of an operation response, sorted by ID.
type ResponseDoc struct {
	Results []SubResult `json:"results" cbor:"results"`
}

// ErrorDoc is the body of a request rejected as a whole.
type ErrorDoc struct {
	Error string `json:"error" cbor:"error"`
}

// Result returns the result tagged id, if present.
func (d *ResponseDoc) Result(id string) (SubResult, bool) {
	for _, r := range d.Results {
		if r.ID == id {
			return r, true
		}
	}
	return SubResult{}, false
}
