// Package s3blob archives queue snapshots past retention to S3 or an
// S3-compatible store (MinIO, R2) as JSONL batches keyed by day.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ClientConfig selects the bucket holding snapshot archives.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for S3-compatible stores. A bare
	// host gets https:// when UseSSL is set, http:// otherwise.
	Endpoint string
	UseSSL   bool
	Region   string
	Bucket   string

	// Static credentials. Empty falls back to the default AWS chain.
	AccessKey string
	SecretKey string

	// ForcePathStyle puts the bucket in the path. MinIO needs it.
	ForcePathStyle bool

	// Prefix scopes every archive key, e.g. "mainnet/".
	Prefix string
}

// Client is the S3 connection shared by Reader and Writer.
type Client struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// New builds a Client from cfg. It does not contact the bucket; use Health.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	var missing []string
	if cfg.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if cfg.Region == "" {
		missing = append(missing, "region")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("s3blob: %s required", strings.Join(missing, " and "))
	}

	var loadOpts []func(*config.LoadOptions) error
	loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	svc := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{s3: svc, bucket: cfg.Bucket, prefix: normalisePrefix(cfg.Prefix)}, nil
}

// Health checks that the archive bucket is reachable with HeadBucket.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Key maps an archive key to its full object key.
func (c *Client) Key(key string) string {
	return c.prefix + strings.TrimPrefix(key, "/")
}

// relative strips the configured prefix from an object key.
func (c *Client) relative(objectKey string) string {
	return strings.TrimPrefix(objectKey, c.prefix)
}

func normalisePrefix(prefix string) string {
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		return prefix + "/"
	}
	return ""
}

func normaliseEndpoint(endpoint string, useSSL bool) string {
	switch {
	case strings.Contains(endpoint, "://"):
		return endpoint
	case useSSL:
		return "https://" + endpoint
	default:
		return "http://" + endpoint
	}
}

// isNotFound reports whether err is a missing object. GetObject returns
// NoSuchKey while HeadObject returns a bare 404.
func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == 404
}
