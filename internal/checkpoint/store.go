package checkpoint

import (
	"time"
)

// ItemStatus is the final state of one migrated object.
type ItemStatus string

const (
	StatusCompleted ItemStatus = "completed"
	StatusFailed    ItemStatus = "failed"
)

// ItemRecord is the checkpoint entry of one object.
type ItemRecord struct {
	Source     string     `json:"source"`
	Key        string     `json:"key"`
	Size       int64      `json:"size"`
	Status     ItemStatus `json:"status"`
	Attempts   int        `json:"attempts"`
	StatusCode int        `json:"status_code"`
	LastError  string     `json:"last_error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Store persists per-object results so a later run can skip completed work.
type Store interface {
	GetItem(source, key string) (*ItemRecord, error)
	SaveItem(record *ItemRecord) error
	CountItems(source string, status ItemStatus) (int, error)
	Close() error
}
