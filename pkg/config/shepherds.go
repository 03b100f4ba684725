package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/bartender/internal/logger"
	"github.com/marmos91/bartender/pkg/catalog"
	"github.com/marmos91/bartender/pkg/shepherd"
	shepherdmemory "github.com/marmos91/bartender/pkg/shepherd/memory"
	shepherds3 "github.com/marmos91/bartender/pkg/shepherd/s3"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/sync/errgroup"
)

// ShepherdNode is a storage node hosted in-process.
type ShepherdNode interface {
	shepherd.Shepherd

	// Reporter publishes the node's heartbeat and replica states
	Reporter() *shepherd.Reporter

	// Run reconciles the node's replicas every interval until ctx is done
	Run(ctx context.Context, interval time.Duration) error
}

// HostedShepherd pairs a node with the intervals of its background loops.
type HostedShepherd struct {
	Node              ShepherdNode
	HeartbeatInterval time.Duration
	ReconcileInterval time.Duration
}

// Run heartbeats and reconciles until ctx is cancelled. The node
// withdraws its heartbeat on the way out.
func (h *HostedShepherd) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Node.Reporter().Run(ctx, h.HeartbeatInterval) })
	g.Go(func() error { return h.Node.Run(ctx, h.ReconcileInterval) })
	return g.Wait()
}

// s3ShepherdConfig is the s3 map of a shepherd entry.
type s3ShepherdConfig struct {
	Region          string        `mapstructure:"region"`
	Bucket          string        `mapstructure:"bucket"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	MaxRetries      int           `mapstructure:"max_retries"`
	URLExpiry       time.Duration `mapstructure:"url_expiry"`
}

// CreateShepherds creates every configured node on top of lib.
func CreateShepherds(ctx context.Context, cfgs []ShepherdConfig, lib catalog.Librarian) ([]*HostedShepherd, error) {
	hosted := make([]*HostedShepherd, 0, len(cfgs))
	for _, cfg := range cfgs {
		node, err := createShepherd(ctx, cfg, lib)
		if err != nil {
			return nil, fmt.Errorf("shepherd %q: %w", cfg.ID, err)
		}
		hosted = append(hosted, &HostedShepherd{
			Node:              node,
			HeartbeatInterval: cfg.HeartbeatInterval,
			ReconcileInterval: cfg.ReconcileInterval,
		})
	}
	return hosted, nil
}

func createShepherd(ctx context.Context, cfg ShepherdConfig, lib catalog.Librarian) (ShepherdNode, error) {
	switch cfg.Type {
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return shepherdmemory.NewNode(cfg.ID, lib, cfg.Protocols), nil
	case "s3":
		return createS3Shepherd(ctx, cfg, lib)
	default:
		return nil, fmt.Errorf("unknown shepherd type: %q (supported: memory, s3)", cfg.Type)
	}
}

func createS3Shepherd(ctx context.Context, cfg ShepherdConfig, lib catalog.Librarian) (ShepherdNode, error) {
	var s3Cfg s3ShepherdConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &s3Cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(cfg.S3); err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}

	if s3Cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 shepherd: bucket is required")
	}
	if s3Cfg.Region == "" {
		return nil, fmt.Errorf("s3 shepherd: region is required")
	}

	client, err := newS3Client(ctx, s3Cfg)
	if err != nil {
		return nil, err
	}

	node := shepherds3.NewNode(cfg.ID, lib, client, shepherds3.NodeConfig{
		Bucket:    s3Cfg.Bucket,
		KeyPrefix: s3Cfg.KeyPrefix,
		URLExpiry: s3Cfg.URLExpiry,
	})

	logger.Info("S3 shepherd %s initialized: bucket=%s, region=%s, prefix=%s",
		cfg.ID, s3Cfg.Bucket, s3Cfg.Region, s3Cfg.KeyPrefix)
	return node, nil
}

// newS3Client builds an S3 client from static credentials or the default
// credential chain.
func newS3Client(ctx context.Context, cfg s3ShepherdConfig) (*s3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
