package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOClient reads from an S3-compatible bucket using minio-go.
type MinIOClient struct {
	client *minio.Client
	core   *minio.Core
	bucket string
	name   string
}

// NewMinIOClient creates a new MinIO client for cfg.Bucket at cfg.URL.
func NewMinIOClient(cfg Config) (*MinIOClient, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}

	endpoint, secure, err := cleanEndpoint(cfg.URL, cfg.Secure)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOClient{
		client: client,
		core:   &minio.Core{Client: client},
		bucket: cfg.Bucket,
		name:   "s3://" + endpoint + "/" + cfg.Bucket,
	}, nil
}

// cleanEndpoint strips the scheme from endpoint and returns host:port. An
// explicit http:// or https:// scheme overrides secure.
func cleanEndpoint(endpoint string, secure bool) (string, bool, error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", false, fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, secure, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", false, fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, parsedURL.Scheme == "https", nil
}

// Name returns the s3:// location of the bucket.
func (c *MinIOClient) Name() string {
	return c.name
}

// ListPage lists one page of keys under prefix using ListObjectsV2.
func (c *MinIOClient) ListPage(ctx context.Context, prefix, token string, pageSize int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	result, err := c.core.ListObjectsV2(c.bucket, prefix, "", token, "", pageSize)
	if err != nil {
		return Page{}, err
	}

	page := Page{
		Objects: make([]ObjectInfo, 0, len(result.Contents)),
	}
	for _, obj := range result.Contents {
		// Directory markers carry no payload.
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		page.Objects = append(page.Objects, ObjectInfo{
			Key:  obj.Key,
			Size: obj.Size,
		})
	}
	if result.IsTruncated {
		page.ContinuationToken = result.NextContinuationToken
	}

	return page, nil
}

// Fetch downloads the object at key.
func (c *MinIOClient) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}
