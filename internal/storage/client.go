package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Fetch when the object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Page is one page of a listing. An empty ContinuationToken marks the last
// page.
type Page struct {
	Objects           []ObjectInfo
	ContinuationToken string
}

// Lister enumerates objects page by page. Passing the ContinuationToken of a
// page resumes the listing after it.
type Lister interface {
	ListPage(ctx context.Context, prefix, token string, pageSize int) (Page, error)
}

// Fetcher reads the full contents of one object.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Source is a bucket or container the migration reads from.
type Source interface {
	Lister
	Fetcher
	// Name identifies the source in logs and checkpoints.
	Name() string
}

// Config contains source client configuration.
type Config struct {
	Kind        string
	URL         string
	Auth        string
	AccountName string
	AccountKey  string
	Bucket      string
	AccessKey   string
	SecretKey   string
	Secure      bool
}

// Source kinds.
const (
	KindAzure = "azure"
	KindMinIO = "minio"
)

// New creates the source client selected by cfg.Kind.
func New(cfg Config) (Source, error) {
	switch cfg.Kind {
	case KindAzure:
		return NewAzureClient(cfg)
	case KindMinIO:
		return NewMinIOClient(cfg)
	default:
		return nil, errors.New("unknown source kind: " + cfg.Kind)
	}
}
