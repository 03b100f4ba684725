// Package shepherd defines the contract of a Shepherd, a storage node
// holding file replicas, plus the pieces every node implementation shares:
// catalog bookkeeping of replica locations, heartbeats and checksums.
package shepherd

import (
	"context"
	"errors"
	"slices"
)

// Errors returned by Shepherd implementations.
var (
	// ErrReplicaNotFound is returned by Get for an unknown or not yet
	// uploaded reference.
	ErrReplicaNotFound = errors.New("replica not found")

	// ErrUnsupportedProtocol is returned when none of the requested
	// transfer protocols is served by the node.
	ErrUnsupportedProtocol = errors.New("no supported transfer protocol")

	// ErrChecksumMismatch is returned when uploaded bytes do not match the
	// checksum announced at Put.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrUnknownService is returned when a service ID has no Shepherd
	// registered in this process.
	ErrUnknownService = errors.New("unknown shepherd service")
)

// TransferHandle tells a client where to move the bytes of one replica.
type TransferHandle struct {
	TransferURL string
	Protocol    string

	// ReferenceID is the node-local name of the replica.
	ReferenceID string
}

// PutRequest asks a node to allocate a new replica.
type PutRequest struct {
	GUID         string
	Size         int64
	ChecksumType string
	Checksum     string
	Protocols    []string
}

// GetRequest asks a node for a retrieval location of an existing replica.
type GetRequest struct {
	ReferenceID string
	Protocols   []string
}

// Shepherd is the storage node contract consumed by Bartender.
//
// Put allocates a replica, records it in the catalog as "creating" under
// (ServiceID, ReferenceID) and returns the upload location. The node
// itself flips the location to "alive" once the bytes arrived.
type Shepherd interface {
	ServiceID() string
	Put(ctx context.Context, req PutRequest) (*TransferHandle, error)
	Get(ctx context.Context, req GetRequest) (*TransferHandle, error)
}

// NegotiateProtocol returns the first requested protocol the node serves.
// An empty request accepts the node's preferred (first) protocol.
func NegotiateProtocol(requested, served []string) (string, error) {
	if len(served) == 0 {
		return "", ErrUnsupportedProtocol
	}
	if len(requested) == 0 {
		return served[0], nil
	}
	for _, p := range requested {
		if slices.Contains(served, p) {
			return p, nil
		}
	}
	return "", ErrUnsupportedProtocol
}
