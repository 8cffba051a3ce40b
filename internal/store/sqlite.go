package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalog-sync-service/internal/catalog"
	"catalog-sync-service/internal/database"
)

const timeLayout = time.RFC3339Nano

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements Writer against either the pool or an open transaction.
type queries struct {
	db dbtx
}

func (q *queries) Upsert(ctx context.Context, obj *catalog.CatalogObject) error {
	if obj == nil || obj.ID == "" {
		return fmt.Errorf("upsert: object without id")
	}
	if catalog.IsTempID(obj.ID) {
		return fmt.Errorf("upsert %s: refusing to persist a temporary id", obj.ID)
	}
	t, ok := tables[obj.Type]
	if !ok {
		return fmt.Errorf("upsert %s: unsupported object type %q", obj.ID, obj.Type)
	}

	// A tombstone without a payload keeps the last known snapshot.
	if obj.IsDeleted && !obj.HasPayload() {
		existing, found, err := q.Get(ctx, obj.ID)
		if err != nil {
			return err
		}
		if found {
			existing.IsDeleted = true
			if obj.Version > existing.Version {
				existing.Version = obj.Version
			}
			if obj.UpdatedAt != "" {
				existing.UpdatedAt = obj.UpdatedAt
			}
			obj = existing
		}
	}

	snapshot, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("upsert %s: encode snapshot: %w", obj.ID, err)
	}

	var presentAll any
	if obj.PresentAtAllLocations != nil {
		presentAll = boolToInt(*obj.PresentAtAllLocations)
	}

	args := []any{obj.ID, obj.Version, obj.UpdatedAt, boolToInt(obj.IsDeleted), presentAll}
	args = append(args, t.values(obj)...)
	args = append(args, string(snapshot))

	if _, err := q.db.ExecContext(ctx, t.upsertSQL(), args...); err != nil {
		return fmt.Errorf("upsert %s %s: %w", obj.Type, obj.ID, err)
	}
	return nil
}

func (q *queries) Get(ctx context.Context, id string) (*catalog.CatalogObject, bool, error) {
	args := make([]any, len(tableOrder))
	for i := range args {
		args[i] = id
	}

	var raw string
	err := q.db.QueryRowContext(ctx, unionSQL("data_json", "id = ?")+" LIMIT 1", args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", id, err)
	}

	obj, err := decodeSnapshot(raw)
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", id, err)
	}
	return obj, true, nil
}

func (q *queries) Delete(ctx context.Context, id string) error {
	existing, found, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("delete %s: %w", id, catalog.ErrNotFound)
	}
	existing.IsDeleted = true
	return q.Upsert(ctx, existing)
}

func (q *queries) MarkDeleted(ctx context.Context, id string, version int64, deletedAt string) (bool, error) {
	existing, found, err := q.Get(ctx, id)
	if err != nil || !found {
		return false, err
	}
	existing.IsDeleted = true
	if version > existing.Version {
		existing.Version = version
	}
	if deletedAt != "" {
		existing.UpdatedAt = deletedAt
	}
	return true, q.Upsert(ctx, existing)
}

func (q *queries) VariationIDsForItem(ctx context.Context, itemID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id FROM item_variations WHERE item_id = ? AND is_deleted = 0 ORDER BY ordinal, id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("variation ids for %s: %w", itemID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q *queries) GetSyncState(ctx context.Context, scope string) (*SyncState, error) {
	query := `SELECT scope, last_sync_time, cursor, session_id, objects_synced, status, error_message, updated_at
			  FROM sync_state WHERE scope = ?`

	var (
		state    SyncState
		lastSync sql.NullString
		updated  string
	)
	err := q.db.QueryRowContext(ctx, query, scope).Scan(
		&state.Scope,
		&lastSync,
		&state.Cursor,
		&state.SessionID,
		&state.ObjectsSynced,
		&state.Status,
		&state.ErrorMessage,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state.LastSyncTime = parseNullTime(lastSync)
	state.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &state, nil
}

func (q *queries) UpdateSyncState(ctx context.Context, state *SyncState) error {
	query := `INSERT INTO sync_state (scope, last_sync_time, cursor, session_id, objects_synced, status, error_message, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(scope) DO UPDATE SET
			  last_sync_time = excluded.last_sync_time,
			  cursor = excluded.cursor,
			  session_id = excluded.session_id,
			  objects_synced = excluded.objects_synced,
			  status = excluded.status,
			  error_message = excluded.error_message,
			  updated_at = excluded.updated_at`

	state.UpdatedAt = time.Now().UTC()
	_, err := q.db.ExecContext(ctx, query,
		state.Scope,
		formatNullTime(state.LastSyncTime),
		state.Cursor,
		state.SessionID,
		state.ObjectsSynced,
		state.Status,
		state.ErrorMessage,
		state.UpdatedAt.Format(timeLayout),
	)
	return err
}

// SQLiteStore is the Local Catalog Store backed by the shared catalog file.
type SQLiteStore struct {
	db *database.Database
}

func NewSQLiteStore(db *database.Database) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) with(fn func(q *queries) error) error {
	return s.db.Conn(func(db *sql.DB) error {
		return fn(&queries{db: db})
	})
}

func (s *SQLiteStore) RunInTransaction(ctx context.Context, fn func(tx Writer) error) error {
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		return fn(&queries{db: tx})
	})
}

func (s *SQLiteStore) Upsert(ctx context.Context, obj *catalog.CatalogObject) error {
	return s.with(func(q *queries) error { return q.Upsert(ctx, obj) })
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (obj *catalog.CatalogObject, found bool, err error) {
	err = s.with(func(q *queries) error {
		obj, found, err = q.Get(ctx, id)
		return err
	})
	return obj, found, err
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.RunInTransaction(ctx, func(tx Writer) error { return tx.Delete(ctx, id) })
}

func (s *SQLiteStore) MarkDeleted(ctx context.Context, id string, version int64, deletedAt string) (found bool, err error) {
	err = s.RunInTransaction(ctx, func(tx Writer) error {
		found, err = tx.MarkDeleted(ctx, id, version, deletedAt)
		return err
	})
	return found, err
}

func (s *SQLiteStore) VariationIDsForItem(ctx context.Context, itemID string) (ids []string, err error) {
	err = s.with(func(q *queries) error {
		ids, err = q.VariationIDsForItem(ctx, itemID)
		return err
	})
	return ids, err
}

func (s *SQLiteStore) GetSyncState(ctx context.Context, scope string) (state *SyncState, err error) {
	err = s.with(func(q *queries) error {
		state, err = q.GetSyncState(ctx, scope)
		return err
	})
	return state, err
}

func (s *SQLiteStore) UpdateSyncState(ctx context.Context, state *SyncState) error {
	return s.with(func(q *queries) error { return q.UpdateSyncState(ctx, state) })
}

func (s *SQLiteStore) AllIDs(ctx context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	err := s.with(func(q *queries) error {
		rows, err := q.db.QueryContext(ctx, unionSQL("id", "is_deleted = 0"))
		if err != nil {
			return fmt.Errorf("all ids: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids[id] = struct{}{}
		}
		return rows.Err()
	})
	return ids, err
}

func (s *SQLiteStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.with(func(q *queries) error {
		return q.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM ("+unionSQL("id", "is_deleted = 0")+")").Scan(&n)
	})
	return n, err
}

// ClearAll removes every catalog row and the persisted sync state.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		for _, typ := range tableOrder {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+tables[typ].name); err != nil {
				return fmt.Errorf("clear %s: %w", tables[typ].name, err)
			}
		}
		for _, name := range []string{"sync_state", "sync_history"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+name); err != nil {
				return fmt.Errorf("clear %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) IntegrityCheck(ctx context.Context) error {
	return s.db.IntegrityCheck(ctx)
}

func (s *SQLiteStore) Recreate(ctx context.Context) error {
	return s.db.Recreate(ctx)
}

// SearchItems matches active items by name substring or by exact SKU/UPC of
// one of their active variations.
func (s *SQLiteStore) SearchItems(ctx context.Context, query string, limit int) ([]*catalog.CatalogObject, error) {
	term := strings.ToLower(strings.TrimSpace(query))
	if term == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	stmt := `SELECT data_json FROM items
			 WHERE is_deleted = 0 AND (
			   name_lower LIKE ? ESCAPE '\'
			   OR id IN (SELECT item_id FROM item_variations
			             WHERE is_deleted = 0 AND (sku = ? OR upc = ?))
			 )
			 ORDER BY name_lower LIMIT ?`
	like := "%" + escapeLike(term) + "%"
	return s.selectObjects(ctx, stmt, like, strings.TrimSpace(query), strings.TrimSpace(query), limit)
}

func (s *SQLiteStore) ItemsInCategory(ctx context.Context, categoryID string) ([]*catalog.CatalogObject, error) {
	return s.selectObjects(ctx,
		`SELECT data_json FROM items WHERE category_id = ? AND is_deleted = 0 ORDER BY name_lower`, categoryID)
}

func (s *SQLiteStore) VariationsForItem(ctx context.Context, itemID string) ([]*catalog.CatalogObject, error) {
	return s.selectObjects(ctx,
		`SELECT data_json FROM item_variations WHERE item_id = ? AND is_deleted = 0 ORDER BY ordinal, id`, itemID)
}

func (s *SQLiteStore) selectObjects(ctx context.Context, stmt string, args ...any) ([]*catalog.CatalogObject, error) {
	var out []*catalog.CatalogObject
	err := s.with(func(q *queries) error {
		rows, err := q.db.QueryContext(ctx, stmt, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			obj, err := decodeSnapshot(raw)
			if err != nil {
				return err
			}
			out = append(out, obj)
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLiteStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `INSERT INTO sync_history (id, sync_type, started_at, completed_at, status, total_processed, error_message, result_json)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	return s.with(func(q *queries) error {
		_, err := q.db.ExecContext(ctx, query,
			history.ID,
			history.SyncType,
			history.StartedAt.UTC().Format(timeLayout),
			formatNullTime(history.CompletedAt),
			history.Status,
			history.TotalProcessed,
			history.ErrorMessage,
			string(history.ResultJSON),
		)
		return err
	})
}

func (s *SQLiteStore) LatestSyncHistory(ctx context.Context, status string) (*SyncHistory, error) {
	query := `SELECT id, sync_type, started_at, completed_at, status, total_processed, error_message, result_json
			  FROM sync_history WHERE status = ? ORDER BY started_at DESC LIMIT 1`

	var (
		h         SyncHistory
		started   string
		completed sql.NullString
		result    sql.NullString
	)
	err := s.with(func(q *queries) error {
		return q.db.QueryRowContext(ctx, query, status).Scan(
			&h.ID,
			&h.SyncType,
			&started,
			&completed,
			&h.Status,
			&h.TotalProcessed,
			&h.ErrorMessage,
			&result,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	h.StartedAt, _ = time.Parse(timeLayout, started)
	h.CompletedAt = parseNullTime(completed)
	if result.Valid {
		h.ResultJSON = []byte(result.String)
	}
	return &h, nil
}

func (s *SQLiteStore) DeleteSyncHistory(ctx context.Context, id string) error {
	return s.with(func(q *queries) error {
		_, err := q.db.ExecContext(ctx, `DELETE FROM sync_history WHERE id = ?`, id)
		return err
	})
}

func decodeSnapshot(raw string) (*catalog.CatalogObject, error) {
	var obj catalog.CatalogObject
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &obj, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func parseNullTime(s sql.NullString) sql.NullTime {
	if !s.Valid || s.String == "" {
		return sql.NullTime{}
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func formatNullTime(t sql.NullTime) any {
	if !t.Valid {
		return nil
	}
	return t.Time.UTC().Format(timeLayout)
}
