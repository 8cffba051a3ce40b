package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"catalog-sync-service/internal/catalog"
	"catalog-sync-service/internal/config"
	"catalog-sync-service/internal/logger"
	"catalog-sync-service/internal/remote"
	"catalog-sync-service/internal/resilience"
	"catalog-sync-service/internal/store"
)

// Manager is the sync coordinator. At most one session runs at a time; a
// request that arrives while one is running is dropped.
type Manager struct {
	api         CatalogAPI
	store       store.Store
	exec        *resilience.Executor
	types       []catalog.ObjectType
	maxPages    int
	prune       bool
	pagePolicy  resilience.Policy
	writePolicy resilience.Policy
	now         func() time.Time

	mu          sync.Mutex
	state       State
	currentType SyncType
	startedAt   time.Time
	cancel      context.CancelFunc
	lastOutcome Outcome
	lastErr     error
	lastResult  *SyncResult
	wg          sync.WaitGroup
}

func NewManager(cfg config.SyncConfig, api CatalogAPI, st store.Store, exec *resilience.Executor) (*Manager, error) {
	types, err := catalog.ParseTypes(cfg.ObjectTypes)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		types = catalog.AllTypes
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 100
	}

	return &Manager{
		api:         api,
		store:       st,
		exec:        exec,
		types:       types,
		maxPages:    maxPages,
		prune:       cfg.PruneMissing,
		pagePolicy:  resilience.PolicyFromConfig(cfg.PageRetry),
		writePolicy: resilience.PolicyFromConfig(cfg.WriteRetry),
		now:         time.Now,
		state:       StateIdle,
	}, nil
}

// Sync runs one session and blocks until it ends. It returns nil, nil when a
// session is already running.
func (m *Manager) Sync(ctx context.Context, typ SyncType) (*SyncResult, error) {
	runCtx, ok := m.begin(ctx, typ)
	if !ok {
		return nil, nil
	}
	return m.run(runCtx, typ)
}

// Trigger starts a session in the background.
func (m *Manager) Trigger(typ SyncType) bool {
	runCtx, ok := m.begin(context.Background(), typ)
	if !ok {
		return false
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, _ = m.run(runCtx, typ)
	}()
	return true
}

// Cancel asks the running session to stop after its current page.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSyncing || m.cancel == nil {
		return false
	}
	logger.Log.Info("Cancelling catalog sync")
	m.cancel()
	return true
}

// Wait blocks until background sessions started by Trigger have ended.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) Close() {
	m.Cancel()
	m.Wait()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		State:       m.state,
		LastOutcome: m.lastOutcome,
		LastResult:  m.lastResult,
	}
	if m.state == StateSyncing {
		started := m.startedAt
		s.CurrentType = m.currentType
		s.StartedAt = &started
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func (m *Manager) IsSyncing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateSyncing
}

func (m *Manager) begin(ctx context.Context, typ SyncType) (context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateSyncing {
		logger.Log.Info("Sync already in progress, ignoring request", zap.String("type", string(typ)))
		return nil, false
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.state = StateSyncing
	m.currentType = typ
	m.startedAt = m.now()
	m.cancel = cancel
	return runCtx, true
}

func (m *Manager) end(result *SyncResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.state = StateIdle
	m.currentType = ""
	m.lastErr = err
	m.lastResult = result

	switch {
	case err == nil:
		m.lastOutcome = OutcomeCompleted
	case errors.Is(err, ErrSyncCancelled):
		m.lastOutcome = OutcomeCancelled
	default:
		m.lastOutcome = OutcomeFailed
	}
}

func (m *Manager) run(ctx context.Context, typ SyncType) (*SyncResult, error) {
	started := m.now()
	result := &SyncResult{SyncType: typ, StartedAt: started}

	logger.Log.Info("Starting catalog sync", zap.String("type", string(typ)))

	err := m.execute(ctx, result)

	result.Duration = m.now().Sub(started)
	result.Timestamp = m.now()
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	// Bookkeeping must land even when the session was cancelled.
	bgCtx := context.WithoutCancel(ctx)
	if errors.Is(err, store.ErrCorrupted) {
		m.recover(bgCtx, err)
	} else {
		m.recordOutcome(bgCtx, result, err)
	}

	m.end(result, err)

	if err != nil {
		logger.Log.Error("Catalog sync failed",
			zap.String("type", string(result.SyncType)),
			zap.Int("processed", result.TotalProcessed),
			zap.Error(err))
		return result, err
	}

	logger.Log.Info("Catalog sync completed",
		zap.String("type", string(result.SyncType)),
		zap.Int("pages", result.Pages),
		zap.Int("processed", result.TotalProcessed),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("deleted", result.Deleted),
		zap.Int("pruned", result.Pruned),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (m *Manager) execute(ctx context.Context, result *SyncResult) error {
	state, err := m.store.GetSyncState(ctx, store.CatalogScope)
	if err != nil {
		return fmt.Errorf("failed to load sync state: %w", err)
	}
	if state == nil {
		state = &store.SyncState{Scope: store.CatalogScope, Status: string(StateIdle)}
	}

	beginTime := ""
	if result.SyncType == SyncIncremental {
		if !state.LastSyncTime.Valid {
			logger.Log.Info("No previous sync recorded, running full sync instead")
			result.SyncType = SyncFull
		} else {
			beginTime = state.LastSyncTime.Time.UTC().Format(time.RFC3339Nano)
		}
	}
	full := result.SyncType == SyncFull

	session := uuid.New().String()
	var seen map[string]struct{}
	if full {
		seen = make(map[string]struct{})
	}

	latestTime := ""
	cursor := ""
	for page := 1; ; page++ {
		if page > m.maxPages {
			return fmt.Errorf("%w: stopped after %d pages", ErrPageLimitExceeded, m.maxPages)
		}
		if ctx.Err() != nil {
			return ErrSyncCancelled
		}

		p, err := m.fetchPage(ctx, full, beginTime, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrSyncCancelled, err)
			}
			return fmt.Errorf("failed to fetch page %d: %w", page, err)
		}
		if p.LatestTime != "" {
			latestTime = p.LatestTime
		}

		if len(p.Objects) > 0 {
			counts, err := m.applyPage(ctx, p, state, session, seen)
			if err != nil {
				return fmt.Errorf("failed to apply page %d: %w", page, err)
			}
			result.add(counts)
		} else {
			result.Pages++
		}

		logger.Log.Debug("Applied catalog page",
			zap.Int("page", page),
			zap.Int("objects", len(p.Objects)),
			zap.Bool("more", p.Cursor != ""))

		if p.Cursor == "" {
			break
		}
		cursor = p.Cursor
	}

	if full && result.TotalProcessed == 0 {
		return ErrInvalidResponse
	}

	if full && m.prune {
		pruned, err := m.pruneMissing(context.WithoutCancel(ctx), seen)
		if err != nil {
			return fmt.Errorf("failed to prune missing objects: %w", err)
		}
		result.Pruned = pruned
		result.Deleted += pruned
	}

	next := m.nextBeginTime(latestTime, result.StartedAt)
	state.LastSyncTime = sql.NullTime{Time: next, Valid: true}
	state.Cursor = sql.NullString{}
	state.SessionID = sql.NullString{}
	state.ObjectsSynced = int64(result.TotalProcessed)
	state.Status = string(OutcomeCompleted)
	state.ErrorMessage = sql.NullString{}
	bgCtx := context.WithoutCancel(ctx)
	if err := m.store.RunInTransaction(bgCtx, func(tx store.Writer) error {
		return tx.UpdateSyncState(bgCtx, state)
	}); err != nil {
		return fmt.Errorf("failed to advance sync timestamp: %w", err)
	}
	return nil
}

func (m *Manager) fetchPage(ctx context.Context, full bool, beginTime, cursor string) (*remote.Page, error) {
	op := "catalog.search"
	if full {
		op = "catalog.list"
	}
	return resilience.Execute(ctx, m.exec, op, m.pagePolicy, func(ctx context.Context) (*remote.Page, error) {
		if full {
			return m.api.List(ctx, cursor, m.types)
		}
		return m.api.Search(ctx, beginTime, cursor, m.types)
	})
}

// applyPage writes one page and its cursor checkpoint in a single transaction.
// It ignores cancellation so a page is never half-committed.
func (m *Manager) applyPage(ctx context.Context, p *remote.Page, state *store.SyncState, session string, seen map[string]struct{}) (pageCounts, error) {
	txCtx := context.WithoutCancel(ctx)
	var counts pageCounts
	var ids []string

	err := m.exec.Do(txCtx, "store.apply_page", m.writePolicy, func(txCtx context.Context) error {
		// Each attempt counts on its own and publishes only after commit.
		var attemptCounts pageCounts
		var attemptIDs []string
		err := m.store.RunInTransaction(txCtx, func(tx store.Writer) error {
			for _, obj := range p.Objects {
				if obj == nil || obj.ID == "" {
					continue
				}
				if !obj.Type.Valid() {
					logger.Log.Debug("Skipping unsupported catalog object",
						zap.String("id", obj.ID), zap.String("type", string(obj.Type)))
					continue
				}

				attemptCounts.objects++
				if obj.Type == catalog.TypeItem {
					attemptCounts.items++
				}

				rows := append([]*catalog.CatalogObject{obj}, catalog.Explode(obj)...)
				for _, row := range rows {
					existing, found, err := tx.Get(txCtx, row.ID)
					if err != nil {
						return err
					}
					change := classifyChange(existing, found, row)
					if err := tx.Upsert(txCtx, row); err != nil {
						return err
					}
					if row == obj {
						attemptCounts.count(change)
					}
					attemptIDs = append(attemptIDs, row.ID)
				}
			}

			checkpoint := *state
			checkpoint.Cursor = sql.NullString{String: p.Cursor, Valid: p.Cursor != ""}
			checkpoint.SessionID = sql.NullString{String: session, Valid: true}
			checkpoint.Status = string(StateSyncing)
			return tx.UpdateSyncState(txCtx, &checkpoint)
		})
		if err != nil {
			return err
		}
		counts, ids = attemptCounts, attemptIDs
		return nil
	})
	if err != nil {
		return pageCounts{}, err
	}

	if seen != nil {
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	return counts, nil
}

// pruneMissing tombstones active rows the remote no longer lists. It only
// runs when every object type was synced, since a filtered list says nothing
// about the types it skipped.
func (m *Manager) pruneMissing(ctx context.Context, seen map[string]struct{}) (int, error) {
	if len(m.types) != len(catalog.AllTypes) {
		logger.Log.Debug("Skipping prune for filtered sync")
		return 0, nil
	}

	active, err := m.store.AllIDs(ctx)
	if err != nil {
		return 0, err
	}

	var missing []string
	for id := range active {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	deletedAt := m.now().UTC().Format(time.RFC3339Nano)
	err = m.store.RunInTransaction(ctx, func(tx store.Writer) error {
		for _, id := range missing {
			if _, err := tx.MarkDeleted(ctx, id, 0, deletedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.Log.Warn("Tombstoned objects missing from remote", zap.Int("count", len(missing)))
	return len(missing), nil
}

// nextBeginTime prefers the remote's own clock so local skew cannot skip changes.
func (m *Manager) nextBeginTime(latestTime string, started time.Time) time.Time {
	if latestTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, latestTime); err == nil {
			return t.UTC()
		}
		logger.Log.Warn("Ignoring unparsable latest_time", zap.String("latest_time", latestTime))
	}
	return started.UTC()
}

func (m *Manager) recordOutcome(ctx context.Context, result *SyncResult, syncErr error) {
	status := OutcomeCompleted
	switch {
	case errors.Is(syncErr, ErrSyncCancelled):
		status = OutcomeCancelled
	case syncErr != nil:
		status = OutcomeFailed
	}

	if syncErr != nil {
		if err := m.markFailed(ctx, syncErr); err != nil {
			logger.Log.Error("Failed to record sync failure", zap.Error(err))
		}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		logger.Log.Error("Failed to encode sync result", zap.Error(err))
		return
	}

	history := &store.SyncHistory{
		ID:             uuid.New().String(),
		SyncType:       string(result.SyncType),
		StartedAt:      result.StartedAt,
		CompletedAt:    sql.NullTime{Time: result.Timestamp, Valid: true},
		Status:         string(status),
		TotalProcessed: int64(result.TotalProcessed),
		ResultJSON:     raw,
	}
	if syncErr != nil {
		history.ErrorMessage = sql.NullString{String: syncErr.Error(), Valid: true}
	}
	if err := m.store.CreateSyncHistory(ctx, history); err != nil {
		logger.Log.Error("Failed to persist sync result", zap.Error(err))
	}
}

// markFailed clears the session checkpoint and keeps the last good timestamp.
func (m *Manager) markFailed(ctx context.Context, syncErr error) error {
	state, err := m.store.GetSyncState(ctx, store.CatalogScope)
	if err != nil {
		return err
	}
	if state == nil {
		state = &store.SyncState{Scope: store.CatalogScope}
	}
	state.Cursor = sql.NullString{}
	state.SessionID = sql.NullString{}
	state.Status = string(OutcomeFailed)
	state.ErrorMessage = sql.NullString{String: syncErr.Error(), Valid: true}
	return m.store.UpdateSyncState(ctx, state)
}

// recover rebuilds a corrupted store. The next session is then a full sync
// because no timestamp survives.
func (m *Manager) recover(ctx context.Context, cause error) {
	logger.Log.Error("Catalog store is corrupted, recreating", zap.Error(cause))
	if err := m.store.Recreate(ctx); err != nil {
		logger.Log.Error("Failed to recreate catalog store", zap.Error(err))
	}
}

// CheckStore runs the integrity check and recreates the store when it fails.
// It reports whether the store was recreated.
func (m *Manager) CheckStore(ctx context.Context) (bool, error) {
	err := m.store.IntegrityCheck(ctx)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrCorrupted) {
		return false, err
	}
	m.recover(ctx, err)
	return true, nil
}

// LastSyncResult returns the newest completed session. A result that claims
// objects while the store holds none is stale: it is discarded and the sync
// timestamp reset so the next incremental sync runs in full.
func (m *Manager) LastSyncResult(ctx context.Context) (*SyncResult, error) {
	h, err := m.store.LatestSyncHistory(ctx, string(OutcomeCompleted))
	if err != nil || h == nil {
		return nil, err
	}

	var result SyncResult
	if err := json.Unmarshal(h.ResultJSON, &result); err != nil {
		return nil, fmt.Errorf("failed to decode sync result %s: %w", h.ID, err)
	}

	if result.TotalProcessed > 0 {
		active, err := m.store.CountActive(ctx)
		if err != nil {
			return nil, err
		}
		if active == 0 {
			logger.Log.Warn("Discarding stale sync result",
				zap.String("id", h.ID),
				zap.Int("claimed", result.TotalProcessed))
			if err := m.discardStale(ctx, h.ID); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}
	return &result, nil
}

func (m *Manager) discardStale(ctx context.Context, historyID string) error {
	if err := m.store.DeleteSyncHistory(ctx, historyID); err != nil {
		return err
	}
	state, err := m.store.GetSyncState(ctx, store.CatalogScope)
	if err != nil || state == nil {
		return err
	}
	state.LastSyncTime = sql.NullTime{}
	state.Cursor = sql.NullString{}
	state.SessionID = sql.NullString{}
	return m.store.UpdateSyncState(ctx, state)
}
