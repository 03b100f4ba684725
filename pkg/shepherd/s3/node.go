// Package s3 implements a Shepherd backed by an S3 bucket. Clients move
// bytes with presigned URLs; the node never proxies data.
package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/marmos91/bartender/internal/logger"
	"github.com/marmos91/bartender/pkg/catalog"
	"github.com/marmos91/bartender/pkg/shepherd"
)

// ProtocolHTTPS is the only transfer protocol an S3 node serves.
const ProtocolHTTPS = "https"

// Client is the subset of the S3 API the node uses.
type Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Presigner is the subset of s3.PresignClient the node uses.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error)
}

// PresignedRequest is the part of a presigned request handed to clients.
type PresignedRequest struct {
	URL string
}

// presignClient adapts *s3.PresignClient to Presigner.
type presignClient struct {
	client *s3.PresignClient
}

func (p presignClient) PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error) {
	req, err := p.client.PresignPutObject(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return &PresignedRequest{URL: req.URL}, nil
}

func (p presignClient) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error) {
	req, err := p.client.PresignGetObject(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return &PresignedRequest{URL: req.URL}, nil
}

// NodeConfig configures an S3 Shepherd.
type NodeConfig struct {
	// Bucket holds the replicas
	Bucket string

	// KeyPrefix is prepended to every object key (e.g. "replicas/")
	KeyPrefix string

	// URLExpiry is the lifetime of presigned URLs (default: 15m)
	URLExpiry time.Duration
}

// Node is an S3-backed Shepherd.
//
// Object Keys:
// A replica of file <guid> is stored at <prefix><guid>/<uuid>, and the part
// after the prefix is its reference ID. The key alone tells Reconcile which
// catalog entry an object belongs to, so the node keeps no local state and
// survives restarts.
type Node struct {
	serviceID string
	client    Client
	presigner Presigner
	config    NodeConfig
	reporter  *shepherd.Reporter
}

// NewNode creates an S3 node from an S3 client.
func NewNode(serviceID string, lib catalog.Librarian, client *s3.Client, config NodeConfig) *Node {
	return NewNodeWithClients(serviceID, lib, client, presignClient{client: s3.NewPresignClient(client)}, config)
}

// NewNodeWithClients creates an S3 node from explicit API clients.
func NewNodeWithClients(serviceID string, lib catalog.Librarian, client Client, presigner Presigner, config NodeConfig) *Node {
	if config.URLExpiry == 0 {
		config.URLExpiry = 15 * time.Minute
	}
	return &Node{
		serviceID: serviceID,
		client:    client,
		presigner: presigner,
		config:    config,
		reporter:  shepherd.NewReporter(lib, serviceID),
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

func (n *Node) objectKey(referenceID string) string {
	return n.config.KeyPrefix + referenceID
}

// Put records a new replica as creating and returns a presigned upload URL.
func (n *Node) Put(ctx context.Context, req shepherd.PutRequest) (*shepherd.TransferHandle, error) {
	protocol, err := shepherd.NegotiateProtocol(req.Protocols, []string{ProtocolHTTPS})
	if err != nil {
		return nil, err
	}

	referenceID := req.GUID + "/" + uuid.NewString()
	if err := n.reporter.AddLocation(ctx, req.GUID, referenceID); err != nil {
		return nil, fmt.Errorf("failed to record replica: %w", err)
	}

	presigned, err := n.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(n.config.Bucket),
		Key:           aws.String(n.objectKey(referenceID)),
		ContentLength: aws.Int64(req.Size),
	}, s3.WithPresignExpires(n.config.URLExpiry))
	if err != nil {
		if rmErr := n.reporter.RemoveLocation(ctx, req.GUID, referenceID); rmErr != nil {
			logger.Warn("Shepherd %s: failed to drop location %s: %v", n.serviceID, referenceID, rmErr)
		}
		return nil, fmt.Errorf("presign put: %w", err)
	}

	return &shepherd.TransferHandle{
		TransferURL: presigned.URL,
		Protocol:    protocol,
		ReferenceID: referenceID,
	}, nil
}

// Get returns a presigned download URL for an uploaded replica.
func (n *Node) Get(ctx context.Context, req shepherd.GetRequest) (*shepherd.TransferHandle, error) {
	protocol, err := shepherd.NegotiateProtocol(req.Protocols, []string{ProtocolHTTPS})
	if err != nil {
		return nil, err
	}

	key := n.objectKey(req.ReferenceID)
	if _, err := n.head(ctx, key); err != nil {
		return nil, err
	}

	presigned, err := n.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(n.config.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(n.config.URLExpiry))
	if err != nil {
		return nil, fmt.Errorf("presign get: %w", err)
	}

	return &shepherd.TransferHandle{
		TransferURL: presigned.URL,
		Protocol:    protocol,
		ReferenceID: req.ReferenceID,
	}, nil
}

// head returns the size of an object, mapping a missing object to
// shepherd.ErrReplicaNotFound.
func (n *Node) head(ctx context.Context, key string) (int64, error) {
	out, err := n.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(n.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
			return 0, fmt.Errorf("%w: %s", shepherd.ErrReplicaNotFound, key)
		}
		return 0, fmt.Errorf("head %s: %w", key, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (n *Node) deleteObject(ctx context.Context, key string) error {
	_, err := n.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(n.config.Bucket),
		Key:    aws.String(key),
	})
	return err
}

// Reconcile walks the bucket and brings the catalog and the bucket in line:
//   - objects whose file entry or location is gone are deleted
//   - objects still creating are flipped alive when their size matches
//   - objects whose size does not match are deleted together with their
//     location
func (n *Node) Reconcile(ctx context.Context) error {
	paginator := s3.NewListObjectsV2Paginator(n.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(n.config.Bucket),
		Prefix: aws.String(n.config.KeyPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if err := n.reconcileObject(ctx, key, aws.ToInt64(obj.Size)); err != nil {
				logger.Warn("Shepherd %s: reconcile %s: %v", n.serviceID, key, err)
			}
		}
	}
	return nil
}

func (n *Node) reconcileObject(ctx context.Context, key string, size int64) error {
	referenceID := strings.TrimPrefix(key, n.config.KeyPrefix)
	guid, _, ok := strings.Cut(referenceID, "/")
	if !ok {
		return nil
	}

	state, md, listed, err := n.reporter.ReplicaState(ctx, guid, referenceID)
	if err != nil {
		return err
	}

	if !listed {
		logger.Info("Shepherd %s: deleting orphaned object %s", n.serviceID, key)
		return n.deleteObject(ctx, key)
	}

	if state != catalog.ReplicaCreating {
		return nil
	}

	if md.States.Size != nil && *md.States.Size != size {
		logger.Warn("Shepherd %s: object %s has %d bytes, expected %d", n.serviceID, key, size, *md.States.Size)
		if err := n.deleteObject(ctx, key); err != nil {
			return err
		}
		return n.reporter.RemoveLocation(ctx, guid, referenceID)
	}

	_, err = n.reporter.MarkAlive(ctx, guid, referenceID)
	return err
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
