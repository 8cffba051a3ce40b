package store

import (
	"context"

	"catalog-sync-service/internal/catalog"
	"catalog-sync-service/internal/database"
)

// ErrCorrupted is returned by any store call that hit a corrupted backing file.
var ErrCorrupted = database.ErrCorrupted

// Writer is the set of operations available inside a transaction.
type Writer interface {
	// Upsert inserts or replaces the row for obj. Applying the same object
	// twice leaves the same row.
	Upsert(ctx context.Context, obj *catalog.CatalogObject) error
	Get(ctx context.Context, id string) (*catalog.CatalogObject, bool, error)
	// Delete tombstones id locally, keeping its current version.
	Delete(ctx context.Context, id string) error
	// MarkDeleted tombstones id with the server-provided version and timestamp.
	// It reports false when no row exists for id.
	MarkDeleted(ctx context.Context, id string, version int64, deletedAt string) (bool, error)
	VariationIDsForItem(ctx context.Context, itemID string) ([]string, error)

	GetSyncState(ctx context.Context, scope string) (*SyncState, error)
	UpdateSyncState(ctx context.Context, state *SyncState) error
}

type Store interface {
	Writer

	// RunInTransaction commits everything fn writes atomically, or nothing.
	RunInTransaction(ctx context.Context, fn func(tx Writer) error) error

	// AllIDs returns the IDs of every non-deleted object.
	AllIDs(ctx context.Context) (map[string]struct{}, error)
	CountActive(ctx context.Context) (int, error)
	ClearAll(ctx context.Context) error

	IntegrityCheck(ctx context.Context) error
	Recreate(ctx context.Context) error

	SearchItems(ctx context.Context, query string, limit int) ([]*catalog.CatalogObject, error)
	ItemsInCategory(ctx context.Context, categoryID string) ([]*catalog.CatalogObject, error)
	VariationsForItem(ctx context.Context, itemID string) ([]*catalog.CatalogObject, error)

	CreateSyncHistory(ctx context.Context, history *SyncHistory) error
	LatestSyncHistory(ctx context.Context, status string) (*SyncHistory, error)
	DeleteSyncHistory(ctx context.Context, id string) error

	Close() error
}
