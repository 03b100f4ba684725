// Package memory implements an in-process Shepherd that keeps replica
// bytes in memory.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/bartender/internal/logger"
	"github.com/marmos91/bartender/pkg/catalog"
	"github.com/marmos91/bartender/pkg/shepherd"
)

// Scheme is the URL scheme of transfer URLs handed out by the node.
const Scheme = "memory"

type replica struct {
	guid         string
	size         int64
	checksumType string
	checksum     string
	data         []byte
	uploaded     bool
}

// Node is an in-memory Shepherd.
//
// Transfer URLs have the form memory://<serviceID>/<referenceID>; bytes are
// delivered with Upload and read back with Download. Every protocol listed
// in the node's configuration is accepted, they all map to the same URL.
type Node struct {
	serviceID string
	protocols []string
	reporter  *shepherd.Reporter

	mu       sync.Mutex
	replicas map[string]*replica
}

// NewNode creates a node reporting to lib under serviceID.
func NewNode(serviceID string, lib catalog.Librarian, protocols []string) *Node {
	return &Node{
		serviceID: serviceID,
		protocols: protocols,
		reporter:  shepherd.NewReporter(lib, serviceID),
		replicas:  make(map[string]*replica),
	}
}

// ServiceID implements shepherd.Shepherd.
func (n *Node) ServiceID() string {
	return n.serviceID
}

// Reporter returns the node's catalog reporter.
func (n *Node) Reporter() *shepherd.Reporter {
	return n.reporter
}

func (n *Node) transferURL(referenceID string) string {
	return Scheme + "://" + n.serviceID + "/" + referenceID
}

// Put allocates a replica and records it as creating.
func (n *Node) Put(ctx context.Context, req shepherd.PutRequest) (*shepherd.TransferHandle, error) {
	protocol, err := shepherd.NegotiateProtocol(req.Protocols, n.protocols)
	if err != nil {
		return nil, err
	}
	if _, err := shepherd.NewHash(req.ChecksumType); err != nil {
		return nil, err
	}

	referenceID := uuid.NewString()
	if err := n.reporter.AddLocation(ctx, req.GUID, referenceID); err != nil {
		return nil, fmt.Errorf("failed to record replica: %w", err)
	}

	n.mu.Lock()
	n.replicas[referenceID] = &replica{
		guid:         req.GUID,
		size:         req.Size,
		checksumType: req.ChecksumType,
		checksum:     req.Checksum,
	}
	n.mu.Unlock()

	logger.Debug("Shepherd %s: allocated replica %s for %s", n.serviceID, referenceID, req.GUID)

	return &shepherd.TransferHandle{
		TransferURL: n.transferURL(referenceID),
		Protocol:    protocol,
		ReferenceID: referenceID,
	}, nil
}

// Get returns the retrieval location of an uploaded replica.
func (n *Node) Get(ctx context.Context, req shepherd.GetRequest) (*shepherd.TransferHandle, error) {
	protocol, err := shepherd.NegotiateProtocol(req.Protocols, n.protocols)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	r, ok := n.replicas[req.ReferenceID]
	uploaded := ok && r.uploaded
	n.mu.Unlock()

	if !uploaded {
		return nil, fmt.Errorf("%w: %s", shepherd.ErrReplicaNotFound, req.ReferenceID)
	}

	return &shepherd.TransferHandle{
		TransferURL: n.transferURL(req.ReferenceID),
		Protocol:    protocol,
		ReferenceID: req.ReferenceID,
	}, nil
}

// ReferenceFromURL extracts the reference ID from a transfer URL issued by
// this node.
func (n *Node) ReferenceFromURL(transferURL string) (string, error) {
	u, err := url.Parse(transferURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != Scheme || u.Host != n.serviceID {
		return "", fmt.Errorf("transfer URL %q does not belong to %s", transferURL, n.serviceID)
	}
	return strings.TrimPrefix(u.Path, "/"), nil
}

// Upload delivers the bytes of a replica allocated by Put. The size and
// checksum must match what Put announced; on success the replica turns
// alive in the catalog.
func (n *Node) Upload(ctx context.Context, transferURL string, data []byte) error {
	referenceID, err := n.ReferenceFromURL(transferURL)
	if err != nil {
		return err
	}

	n.mu.Lock()
	r, ok := n.replicas[referenceID]
	if !ok {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", shepherd.ErrReplicaNotFound, referenceID)
	}
	if int64(len(data)) != r.size {
		n.mu.Unlock()
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", r.size, len(data))
	}
	if err := shepherd.VerifyChecksum(r.checksumType, r.checksum, data); err != nil {
		n.mu.Unlock()
		return err
	}
	r.data = append([]byte(nil), data...)
	r.uploaded = true
	guid := r.guid
	n.mu.Unlock()

	alive, err := n.reporter.MarkAlive(ctx, guid, referenceID)
	if err != nil {
		return err
	}
	if !alive {
		logger.Warn("Shepherd %s: replica %s of %s uploaded but not creating in catalog", n.serviceID, referenceID, guid)
	}
	return nil
}

// Download returns a copy of the bytes behind a transfer URL.
func (n *Node) Download(transferURL string) ([]byte, error) {
	referenceID, err := n.ReferenceFromURL(transferURL)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	r, ok := n.replicas[referenceID]
	if !ok || !r.uploaded {
		return nil, fmt.Errorf("%w: %s", shepherd.ErrReplicaNotFound, referenceID)
	}
	return append([]byte(nil), r.data...), nil
}

// Len returns the number of replicas held.
func (n *Node) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.replicas)
}

// Reconcile compares the held replicas with the catalog. Replicas whose
// file or location entry is gone are dropped; uploaded replicas still
// marked creating are flipped to alive.
func (n *Node) Reconcile(ctx context.Context) error {
	n.mu.Lock()
	snapshot := make(map[string]replica, len(n.replicas))
	for ref, r := range n.replicas {
		snapshot[ref] = *r
	}
	n.mu.Unlock()

	for referenceID, r := range snapshot {
		state, _, listed, err := n.reporter.ReplicaState(ctx, r.guid, referenceID)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", referenceID, err)
		}

		if !listed {
			n.mu.Lock()
			delete(n.replicas, referenceID)
			n.mu.Unlock()
			logger.Info("Shepherd %s: dropped orphaned replica %s of %s", n.serviceID, referenceID, r.guid)
			continue
		}

		if r.uploaded && state == catalog.ReplicaCreating {
			if _, err := n.reporter.MarkAlive(ctx, r.guid, referenceID); err != nil {
				return fmt.Errorf("reconcile %s: %w", referenceID, err)
			}
		}
	}
	return nil
}

// Run reconciles every interval until ctx is cancelled.
func (n *Node) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := n.Reconcile(ctx); err != nil {
				logger.Warn("Shepherd %s: %v", n.serviceID, err)
			}
		}
	}
}
