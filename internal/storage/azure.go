package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// azureMaxResults is the service limit on blobs per listing page.
const azureMaxResults = 5000

// Azure authentication modes.
const (
	AuthCLI       = "cli"
	AuthDefault   = "default"
	AuthSharedKey = "shared_key"
	AuthAnonymous = "anonymous"
)

// AzureClient reads blobs from one Azure Storage container.
type AzureClient struct {
	client *container.Client
	name   string
}

// NewAzureClient creates a container client for cfg.URL, e.g.
// https://account.blob.core.windows.net/container.
func NewAzureClient(cfg Config) (*AzureClient, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid container URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return nil, fmt.Errorf("container URL must look like https://<account>.blob.core.windows.net/<container>")
	}

	client, err := newContainerClient(cfg, u)
	if err != nil {
		return nil, err
	}

	// Drop any SAS token from the display name.
	display := *u
	display.RawQuery = ""

	return &AzureClient{
		client: client,
		name:   display.String(),
	}, nil
}

func newContainerClient(cfg Config, u *url.URL) (*container.Client, error) {
	switch cfg.Auth {
	case "", AuthCLI:
		cred, err := azidentity.NewAzureCLICredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure CLI credential: %w", err)
		}
		return container.NewClient(cfg.URL, cred, nil)

	case AuthDefault:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create default Azure credential: %w", err)
		}
		return container.NewClient(cfg.URL, cred, nil)

	case AuthSharedKey:
		account := cfg.AccountName
		if account == "" {
			account = accountFromHost(u.Host)
		}
		cred, err := container.NewSharedKeyCredential(account, cfg.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", err)
		}
		return container.NewClientWithSharedKeyCredential(cfg.URL, cred, nil)

	case AuthAnonymous:
		return container.NewClientWithNoCredential(cfg.URL, nil)

	default:
		return nil, fmt.Errorf("unknown Azure auth mode: %s", cfg.Auth)
	}
}

// accountFromHost extracts "account" from "account.blob.core.windows.net".
func accountFromHost(host string) string {
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i]
	}
	return host
}

// Name returns the container URL without credentials.
func (c *AzureClient) Name() string {
	return c.name
}

// ListPage lists one page of blob names under prefix. The token is the
// listing marker returned by the previous page.
func (c *AzureClient) ListPage(ctx context.Context, prefix, token string, pageSize int) (Page, error) {
	opts := &container.ListBlobsFlatOptions{}
	if prefix != "" {
		opts.Prefix = to.Ptr(prefix)
	}
	if token != "" {
		opts.Marker = to.Ptr(token)
	}
	if pageSize > 0 {
		opts.MaxResults = to.Ptr(int32(min(pageSize, azureMaxResults)))
	}

	pager := c.client.NewListBlobsFlatPager(opts)
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return Page{}, describeAzureError(err)
	}

	var page Page
	if resp.Segment != nil {
		page.Objects = make([]ObjectInfo, 0, len(resp.Segment.BlobItems))
		for _, item := range resp.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			info := ObjectInfo{Key: *item.Name}
			if item.Properties != nil && item.Properties.ContentLength != nil {
				info.Size = *item.Properties.ContentLength
			}
			page.Objects = append(page.Objects, info)
		}
	}
	if resp.NextMarker != nil {
		page.ContinuationToken = *resp.NextMarker
	}

	return page, nil
}

// Fetch downloads the blob named key.
func (c *AzureClient) Fetch(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.client.NewBlobClient(key).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, describeAzureError(err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// describeAzureError prefixes service errors with their status and code.
func describeAzureError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return fmt.Errorf("azure storage: status %d (%s): %w", respErr.StatusCode, respErr.ErrorCode, err)
	}
	return err
}
