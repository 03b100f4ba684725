//go:build integration

package s3_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/bartender/pkg/bartender"
	"github.com/marmos91/bartender/pkg/catalog"
	catalogmemory "github.com/marmos91/bartender/pkg/catalog/memory"
	"github.com/marmos91/bartender/pkg/registry"
	shepherds3 "github.com/marmos91/bartender/pkg/shepherd/s3"
)

// setupTestS3 creates an S3 client and test bucket for integration tests.
//
// It connects to Localstack (or other S3-compatible endpoint) and creates a
// test bucket that will be cleaned up when the cleanup function is called.
func setupTestS3(t *testing.T, bucketName string) (*s3.Client, func()) {
	t.Helper()
	ctx := context.Background()

	// Get Localstack endpoint from environment or use default
	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			"test", // AccessKeyID
			"test", // SecretAccessKey
			"",     // SessionToken
		)),
	)
	if err != nil {
		t.Fatalf("Failed to load AWS config: %v", err)
	}

	// Path-style URLs are required for Localstack
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		t.Fatalf("Failed to create test bucket: %v", err)
	}

	cleanup := func() {
		listResp, _ := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucketName),
		})
		if listResp != nil {
			for _, obj := range listResp.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(bucketName),
					Key:    obj.Key,
				})
			}
		}

		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{
			Bucket: aws.String(bucketName),
		})
	}

	return client, cleanup
}

func transfer(t *testing.T, method, url string, body []byte) []byte {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build %s request: %v", method, err)
	}
	if body == nil {
		req.Body = http.NoBody
	}
	req.ContentLength = int64(len(body))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read %s response: %v", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s returned %d: %s", method, resp.StatusCode, data)
	}
	return data
}

// TestS3Shepherd_Integration drives the Bartender service against an S3
// Shepherd backed by Localstack.
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./test/integration/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3Shepherd_Integration(t *testing.T) {
	ctx := context.Background()

	// ========================================================================
	// Setup: Bucket, catalog, node and service
	// ========================================================================

	bucketName := "bartender-test-bucket"
	client, cleanup := setupTestS3(t, bucketName)
	defer cleanup()

	lib := catalogmemory.NewMemoryLibrarian()
	defer lib.Close()

	node := shepherds3.NewNode("s3-1", lib, client, shepherds3.NodeConfig{
		Bucket:    bucketName,
		KeyPrefix: fmt.Sprintf("test-%d/", time.Now().UnixNano()),
		URLExpiry: 5 * time.Minute,
	})
	if err := node.Reporter().Heartbeat(ctx); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	reg := registry.NewRegistry()
	if err := reg.SetLibrarian(lib); err != nil {
		t.Fatalf("SetLibrarian failed: %v", err)
	}
	if err := reg.RegisterShepherd(node); err != nil {
		t.Fatalf("RegisterShepherd failed: %v", err)
	}

	svc := bartender.New(lib, reg, bartender.Config{
		ShepherdTimeout:  10 * time.Second,
		HeartbeatTimeout: time.Minute,
	})

	payload := []byte("replica stored through a presigned URL")

	// ========================================================================
	// Test: putFile, upload, reconcile, getFile, download
	// ========================================================================

	t.Run("RoundTrip", func(t *testing.T) {
		put := svc.PutFile(ctx, map[string]bartender.PutFileRequest{
			"f": {
				LN: "/object",
				Metadata: &catalog.Metadata{States: catalog.States{
					Size:           catalog.Int64(int64(len(payload))),
					Checksum:       "unchecked",
					ChecksumType:   "md5",
					NeededReplicas: catalog.Int(1),
				}},
				Protocols: []string{shepherds3.ProtocolHTTPS},
			},
		})
		if put["f"].Status != bartender.StatusDone {
			t.Fatalf("putFile failed: %s", put["f"].Status)
		}
		if put["f"].Protocol != shepherds3.ProtocolHTTPS {
			t.Fatalf("Expected protocol %q, got %q", shepherds3.ProtocolHTTPS, put["f"].Protocol)
		}

		transfer(t, http.MethodPut, put["f"].TransferURL, payload)

		// The replica turns alive once the node sees the uploaded object
		if err := node.Reconcile(ctx); err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}

		got := svc.GetFile(ctx, map[string]bartender.GetFileRequest{
			"f": {LN: "/object", Protocols: []string{shepherds3.ProtocolHTTPS}},
		})
		if got["f"].Status != bartender.StatusDone {
			t.Fatalf("getFile failed: %s", got["f"].Status)
		}

		data := transfer(t, http.MethodGet, got["f"].TransferURL, nil)
		if !bytes.Equal(data, payload) {
			t.Fatalf("Downloaded %q, want %q", data, payload)
		}
	})

	// ========================================================================
	// Test: Orphaned objects are removed by reconcile
	// ========================================================================

	t.Run("DeleteThenReconcile", func(t *testing.T) {
		del := svc.DelFile(ctx, map[string]string{"f": "/object"})
		if del["f"] != bartender.StatusDeleted {
			t.Fatalf("delFile failed: %s", del["f"])
		}

		if err := node.Reconcile(ctx); err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}

		listResp, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucketName),
		})
		if err != nil {
			t.Fatalf("ListObjectsV2 failed: %v", err)
		}
		if len(listResp.Contents) != 0 {
			t.Fatalf("Expected orphaned replica to be deleted, %d object(s) remain", len(listResp.Contents))
		}
	})
}
