package sync

import (
	"context"
	"errors"
	"time"

	"catalog-sync-service/internal/catalog"
	"catalog-sync-service/internal/remote"
)

type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
)

func ParseSyncType(s string) (SyncType, error) {
	switch SyncType(s) {
	case SyncFull, "":
		return SyncFull, nil
	case SyncIncremental:
		return SyncIncremental, nil
	}
	return "", errors.New("sync type must be full or incremental")
}

type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
)

// Outcome is how the most recent session ended.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

var (
	// ErrInvalidResponse marks a full sync in which the remote returned no objects at all.
	ErrInvalidResponse = errors.New("remote returned an empty catalog")
	// ErrPageLimitExceeded stops a paging loop whose cursor never ends.
	ErrPageLimitExceeded = errors.New("page limit exceeded")
	ErrSyncCancelled     = errors.New("sync cancelled")
)

// CatalogAPI is the part of the remote client the coordinator pages through.
type CatalogAPI interface {
	List(ctx context.Context, cursor string, types []catalog.ObjectType) (*remote.Page, error)
	Search(ctx context.Context, beginTime, cursor string, types []catalog.ObjectType) (*remote.Page, error)
}

// Triggerer starts a sync in the background. It reports false when one is already running.
type Triggerer interface {
	Trigger(typ SyncType) bool
}

type SyncResult struct {
	SyncType       SyncType      `json:"sync_type"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Pages          int           `json:"pages"`
	TotalProcessed int           `json:"total_processed"`
	ItemsProcessed int           `json:"items_processed"`
	Inserted       int           `json:"inserted"`
	Updated        int           `json:"updated"`
	Deleted        int           `json:"deleted"`
	Unchanged      int           `json:"unchanged"`
	Pruned         int           `json:"pruned"`
	Errors         []string      `json:"errors,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

func (r *SyncResult) add(c pageCounts) {
	r.Pages++
	r.TotalProcessed += c.objects
	r.ItemsProcessed += c.items
	r.Inserted += c.inserted
	r.Updated += c.updated
	r.Deleted += c.deleted
	r.Unchanged += c.unchanged
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State       State       `json:"state"`
	CurrentType SyncType    `json:"current_type,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	LastOutcome Outcome     `json:"last_outcome,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	LastResult  *SyncResult `json:"last_result,omitempty"`
}
