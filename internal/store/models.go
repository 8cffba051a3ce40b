package store

import (
	"database/sql"
	"time"
)

// CatalogScope is the sync_state row owned by the catalog sync coordinator.
const CatalogScope = "catalog"

type SyncState struct {
	Scope         string         `db:"scope"`
	LastSyncTime  sql.NullTime   `db:"last_sync_time"`
	Cursor        sql.NullString `db:"cursor"`
	SessionID     sql.NullString `db:"session_id"`
	ObjectsSynced int64          `db:"objects_synced"`
	Status        string         `db:"status"`
	ErrorMessage  sql.NullString `db:"error_message"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

type SyncHistory struct {
	ID             string         `db:"id"`
	SyncType       string         `db:"sync_type"`
	StartedAt      time.Time      `db:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
	Status         string         `db:"status"`
	TotalProcessed int64          `db:"total_processed"`
	ErrorMessage   sql.NullString `db:"error_message"`
	ResultJSON     []byte         `db:"result_json"`
}
