package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"catalog-sync-service/internal/catalog"
	"catalog-sync-service/internal/config"
	"catalog-sync-service/internal/database"
	"catalog-sync-service/internal/remote"
	"catalog-sync-service/internal/resilience"
	"catalog-sync-service/internal/store"
)

type MockCatalogAPI struct {
	mock.Mock
}

func (m *MockCatalogAPI) List(ctx context.Context, cursor string, types []catalog.ObjectType) (*remote.Page, error) {
	args := m.Called(ctx, cursor, types)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.Page), args.Error(1)
}

func (m *MockCatalogAPI) Search(ctx context.Context, beginTime, cursor string, types []catalog.ObjectType) (*remote.Page, error) {
	args := m.Called(ctx, beginTime, cursor, types)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.Page), args.Error(1)
}

// lockedOnceStore rolls back its first transaction with a lock error after
// fn has already written.
type lockedOnceStore struct {
	store.Store
	txCalls int
}

func (l *lockedOnceStore) RunInTransaction(ctx context.Context, fn func(tx store.Writer) error) error {
	l.txCalls++
	first := l.txCalls == 1
	return l.Store.RunInTransaction(ctx, func(tx store.Writer) error {
		if err := fn(tx); err != nil {
			return err
		}
		if first {
			return &database.TransientError{Err: errors.New("database is locked")}
		}
		return nil
	})
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	s := store.NewSQLiteStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		MaxPages:     100,
		PruneMissing: true,
		PageRetry: config.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
	}
}

func newTestManager(t *testing.T, cfg config.SyncConfig, api CatalogAPI, st store.Store) *Manager {
	t.Helper()
	m, err := NewManager(cfg, api, st, resilience.NewExecutor(resilience.NewMetrics(nil)))
	require.NoError(t, err)
	return m
}

func makeItems(prefix string, n int) []*catalog.CatalogObject {
	out := make([]*catalog.CatalogObject, n)
	for i := range out {
		out[i] = &catalog.CatalogObject{
			Type:      catalog.TypeItem,
			ID:        fmt.Sprintf("%s_%d", prefix, i),
			Version:   1,
			UpdatedAt: "2024-01-01T00:00:00Z",
			ItemData:  &catalog.ItemData{Name: fmt.Sprintf("%s item %d", prefix, i)},
		}
	}
	return out
}

func activeCount(t *testing.T, st store.Store) int {
	t.Helper()
	n, err := st.CountActive(context.Background())
	require.NoError(t, err)
	return n
}

func TestFullSyncTwoPages(t *testing.T) {
	st := newTestStore(t)
	api := new(MockCatalogAPI)
	api.On("List", mock.Anything, "", mock.Anything).Return(&remote.Page{Objects: makeItems("A", 50), Cursor: "abc"}, nil).Once()
	api.On("List", mock.Anything, "abc", mock.Anything).Return(&remote.Page{Objects: makeItems("B", 30)}, nil).Once()

	m := newTestManager(t, testSyncConfig(), api, st)
	result, err := m.Sync(context.Background(), SyncFull)

	require.NoError(t, err)
	api.AssertExpectations(t)
	api.AssertNumberOfCalls(t, "List", 2)
	assert.Equal(t, 80, result.TotalProcessed)
	assert.Equal(t, 80, result.ItemsProcessed)
	assert.Equal(t, 80, result.Inserted)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 80, activeCount(t, st))

	status := m.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, OutcomeCompleted, status.LastOutcome)

	state, err := st.GetSyncState(context.Background(), store.CatalogScope)
	require.NoError(t, err)
	assert.True(t, state.LastSyncTime.Valid)
	assert.False(t, state.Cursor.Valid)
	assert.False(t, state.SessionID.Valid)
	assert.Equal(t, int64(80), state.ObjectsSynced)
}

func TestFullSyncZeroObjectsIsInvalidResponse(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Upsert(ctx, makeItems("KEEP", 1)[0]))

	api := new(MockCatalogAPI)
	api.On("List", mock.Anything, "", mock.Anything).Return(&remote.Page{}, nil).Once()

	m := newTestManager(t, testSyncConfig(), api, st)
	_, err := m.Sync(ctx, SyncFull)

	assert.ErrorIs(t, err, ErrInvalidResponse)
	status := m.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, OutcomeFailed, status.LastOutcome)
	assert.NotEmpty(t, status.LastError)

	obj, found, err := st.Get(ctx, "KEEP_0")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, obj.IsDeleted)
	assert.Equal(t, 1, activeCount(t, st))

	state, err := st.GetSyncState(ctx, store.CatalogScope)
	require.NoError(t, err)
	assert.False(t, state.LastSyncTime.Valid)
}

func TestIncrementalWithoutTimestampRunsFull(t *testing.T) {
	st := newTestStore(t)
	api := new(MockCatalogAPI)
	api.On("List", mock.Anything, "", mock.Anything).Return(&remote.Page{Objects: makeItems("A", 2)}, nil).Once()

	m := newTestManager(t, testSyncConfig(), api, st)
	result, err := m.Sync(context.Background(), SyncIncremental)

	require.NoError(t, err)
	assert.Equal(t, SyncFull, result.SyncType)
	api.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIncrementalAdvancesTimestampOnlyAfterAllPages(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpdateSyncState(ctx, &store.SyncState{
		Scope:        store.CatalogScope,
		LastSyncTime: sql.NullTime{Time: t0, Valid: true},
		Status:       string(OutcomeCompleted),
	}))

	failing := new(MockCatalogAPI)
	failing.On("Search", mock.Anything, "2024-01-01T00:00:00Z", "", mock.Anything).
		Return(&remote.Page{Objects: makeItems("P1", 3), Cursor: "next"}, nil).Once()
	failing.On("Search", mock.Anything, "2024-01-01T00:00:00Z", "next", mock.Anything).
		Return(nil, &remote.Error{Kind: remote.KindClient, StatusCode: 400, Code: "BAD_REQUEST"}).Once()

	m := newTestManager(t, testSyncConfig(), failing, st)
	_, err := m.Sync(ctx, SyncIncremental)
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrClient)

	// page 1 is durable, the timestamp is not advanced
	assert.Equal(t, 3, activeCount(t, st))
	state, err := st.GetSyncState(ctx, store.CatalogScope)
	require.NoError(t, err)
	assert.True(t, state.LastSyncTime.Time.Equal(t0))
	assert.False(t, state.Cursor.Valid)
	assert.Equal(t, string(OutcomeFailed), state.Status)

	ok := new(MockCatalogAPI)
	ok.On("Search", mock.Anything, "2024-01-01T00:00:00Z", "", mock.Anything).
		Return(&remote.Page{Objects: makeItems("P1", 3), Cursor: "next"}, nil).Once()
	ok.On("Search", mock.Anything, "2024-01-01T00:00:00Z", "next", mock.Anything).
		Return(&remote.Page{Objects: makeItems("P2", 2), LatestTime: "2024-06-01T12:00:00Z"}, nil).Once()

	m = newTestManager(t, testSyncConfig(), ok, st)
	result, err := m.Sync(ctx, SyncIncremental)
	require.NoError(t, err)
	ok.AssertExpectations(t)
	assert.Equal(t, 5, result.TotalProcessed)
	assert.Equal(t, 3, result.Unchanged)
	assert.Equal(t, 2, result.Inserted)

	state, err = st.GetSyncState(ctx, store.CatalogScope)
	require.NoError(t, err)
	assert.True(t, state.LastSyncTime.Time.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))
}

func TestIncrementalClassifiesChanges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	existing := makeItems("ITEM", 3)
	for _, obj := range existing {
		require.NoError(t, st.Upsert(ctx, obj))
	}
	require.NoError(t, st.UpdateSyncState(ctx, &store.SyncState{
		Scope:        store.CatalogScope,
		LastSyncTime: sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true},
	}))

	updated := existing[0].Clone()
	updated.Version = 2
	updated.ItemData.Name = "Renamed"
	tombstone := &catalog.CatalogObject{Type: catalog.TypeItem, ID: existing[2].ID, Version: 9, IsDeleted: true}
	fresh := makeItems("NEW", 1)[0]

	api := new(MockCatalogAPI)
	api.On("Search", mock.Anything, mock.Anything, "", mock.Anything).
		Return(&remote.Page{Objects: []*catalog.CatalogObject{updated, tombstone, fresh}}, nil).Once()

	m := newTestManager(t, testSyncConfig(), api, st)
	result, err := m.Sync(ctx, SyncIncremental)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, result.Inserted)
	assert.Zero(t, result.Pruned)

	obj, found, err := st.Get(ctx, existing[2].ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, obj.IsDeleted)
	assert.Equal(t, int64(9), obj.Version)
	assert.Equal(t, existing[2].Name(), obj.Name())
}

func TestCancelStopsAfterCurrentPage(t *testing.T) {
	st := newTestStore(t)
	api := new(MockCatalogAPI)
	var m *Manager
	api.On("List", mock.Anything, "", mock.Anything).
		Run(func(args mock.Arguments) { assert.True(t, m.Cancel()) }).
		Return(&remote.Page{Objects: makeItems("A", 50), Cursor: "abc"}, nil).Once()

	m = newTestManager(t, testSyncConfig(), api, st)
	_, err := m.Sync(context.Background(), SyncFull)

	assert.ErrorIs(t, err, ErrSyncCancelled)
	api.AssertNumberOfCalls(t, "List", 1)
	assert.Equal(t, 50, activeCount(t, st))

	status := m.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, OutcomeCancelled, status.LastOutcome)
	assert.False(t, m.Cancel())

	state, err := st.GetSyncState(context.Background(), store.CatalogScope)
	require.NoError(t, err)
	assert.False(t, state.LastSyncTime.Valid)
	assert.False(t, state.Cursor.Valid)
}

func TestPageLimit(t *testing.T) {
	st := newTestStore(t)
	cfg := testSyncConfig()
	cfg.MaxPages = 3

	api := new(MockCatalogAPI)
	api.On("List", mock.Anything, mock.Anything, mock.Anything).
		Return(&remote.Page{Objects: makeItems("A", 1), Cursor: "again"}, nil)

	m := newTestManager(t, cfg, api, st)
	_, err := m.Sync(context.Background(), SyncFull)

	assert.ErrorIs(t, err, ErrPageLimitExceeded)
	api.AssertNumberOfCalls(t, "List", 3)
}

func TestSyncWhileSyncingIsNoop(t *testing.T) {
	st := newTestStore(t)
	api := new(MockCatalogAPI)
	var m *Manager
	api.On("List", mock.Anything, "", mock.Anything).
		Run(func(args mock.Arguments) {
			res, err := m.Sync(context.Background(), SyncFull)
			assert.Nil(t, res)
			assert.NoError(t, err)
			assert.False(t, m.Trigger(SyncIncremental))
			assert.Equal(t, StateSyncing, m.Status().State)
		}).
		Return(&remote.Page{Objects: makeItems("A", 1)}, nil).Once()

	m = newTestManager(t, testSyncConfig(), api, st)
	_, err := m.Sync(context.Background(), SyncFull)
	require.NoError(t, err)
	api.AssertNumberOfCalls(t, "List", 1)
}

func TestTriggerRunsInBackground(t *testing.T) {
	st := newTestStore(t)
	api := new(MockCatalogAPI)
	api.On("List", mock.Anything, "", mock.Anything).Return(&remote.Page{Objects: makeItems("A", 4)}, nil).Once()

	m := newTestManager(t, testSyncConfig(), api, st)
	require.True(t, m.Trigger(SyncFull))
	m.Wait()

	assert.Equal(t, OutcomeCompleted, m.Status().LastOutcome)
	assert.Equal(t, 4, activeCount(t, st))
}

func TestTransientPageErrorIsRetried(t *testing.T) {
	st := newTestStore(t)
	api := new(MockCatalogAPI)
	api.On("List", mock.Anything, "", mock.Anything).
		Return(nil, &remote.Error{Kind: remote.KindServer, StatusCode: 503}).Once()
	api.On("List", mock.Anything, "", mock.Anything).
		Return(&remote.Page{Objects: makeItems("A", 2)}, nil).Once()

	m := newTestManager(t, testSyncConfig(), api, st)
	result, err := m.Sync(context.Background(), SyncFull)

	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalProcessed)
	api.AssertNumberOfCalls(t, "List", 2)
}

func TestFullSyncPrunesMissingAndExplodesVariations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Upsert(ctx, makeItems("GONE", 1)[0]))

	present := true
	item := &catalog.CatalogObject{
		Type:                  catalog.TypeItem,
		ID:                    "ITEM_1",
		Version:               3,
		PresentAtAllLocations: &present,
		ItemData: &catalog.ItemData{
			Name: "Latte",
			Variations: []*catalog.CatalogObject{
				{Type: catalog.TypeItemVariation, ID: "VAR_1", Version: 3, ItemVariationData: &catalog.ItemVariationData{Name: "Small", SKU: "L-S"}},
				{Type: catalog.TypeItemVariation, ID: "VAR_2", Version: 3, ItemVariationData: &catalog.ItemVariationData{Name: "Large", SKU: "L-L"}},
			},
		},
	}

	api := new(MockCatalogAPI)
	api.On("List", mock.Anything, "", mock.Anything).Return(&remote.Page{Objects: []*catalog.CatalogObject{item}}, nil).Once()

	m := newTestManager(t, testSyncConfig(), api, st)
	result, err := m.Sync(ctx, SyncFull)
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalProcessed)
	assert.Equal(t, 1, result.Pruned)

	gone, _, err := st.Get(ctx, "GONE_0")
	require.NoError(t, err)
	assert.True(t, gone.IsDeleted)

	ids, err := st.VariationIDsForItem(ctx, "ITEM_1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"VAR_1", "VAR_2"}, ids)

	v, _, err := st.Get(ctx, "VAR_1")
	require.NoError(t, err)
	require.NotNil(t, v.PresentAtAllLocations)
	assert.True(t, *v.PresentAtAllLocations)
	assert.Equal(t, "ITEM_1", v.ItemVariationData.ItemID)
}

func TestRetriedPageIsCountedOnce(t *testing.T) {
	base := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, base.Upsert(ctx, makeItems("GONE", 1)[0]))
	st := &lockedOnceStore{Store: base}

	api := new(MockCatalogAPI)
	api.On("List", mock.Anything, "", mock.Anything).Return(&remote.Page{Objects: makeItems("A", 3)}, nil).Once()

	cfg := testSyncConfig()
	cfg.WriteRetry = config.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	m := newTestManager(t, cfg, api, st)

	result, err := m.Sync(ctx, SyncFull)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalProcessed)
	assert.Equal(t, 3, result.Inserted)
	assert.Equal(t, 1, result.Pruned)
	assert.Equal(t, 3, activeCount(t, base))
	assert.GreaterOrEqual(t, st.txCalls, 2)
}

func TestFilteredSyncDoesNotPrune(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Upsert(ctx, makeItems("OTHER", 1)[0]))

	cfg := testSyncConfig()
	cfg.ObjectTypes = []string{"category"}
	api := new(MockCatalogAPI)
	api.On("List", mock.Anything, "", []catalog.ObjectType{catalog.TypeCategory}).Return(&remote.Page{Objects: []*catalog.CatalogObject{
		{Type: catalog.TypeCategory, ID: "CAT_1", CategoryData: &catalog.CategoryData{Name: "Drinks"}},
	}}, nil).Once()

	m := newTestManager(t, cfg, api, st)
	result, err := m.Sync(ctx, SyncFull)
	require.NoError(t, err)
	assert.Zero(t, result.Pruned)
	assert.Equal(t, 2, activeCount(t, st))
}

func TestLastSyncResult(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	api := new(MockCatalogAPI)
	api.On("List", mock.Anything, "", mock.Anything).Return(&remote.Page{Objects: makeItems("A", 5)}, nil).Once()

	m := newTestManager(t, testSyncConfig(), api, st)
	none, err := m.LastSyncResult(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = m.Sync(ctx, SyncFull)
	require.NoError(t, err)

	last, err := m.LastSyncResult(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 5, last.TotalProcessed)
	assert.Equal(t, SyncFull, last.SyncType)
}

func TestStaleSyncResultIsDiscarded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpdateSyncState(ctx, &store.SyncState{
		Scope:        store.CatalogScope,
		LastSyncTime: sql.NullTime{Time: time.Now(), Valid: true},
	}))
	require.NoError(t, st.CreateSyncHistory(ctx, &store.SyncHistory{
		ID:             "stale",
		SyncType:       string(SyncFull),
		StartedAt:      time.Now(),
		Status:         string(OutcomeCompleted),
		TotalProcessed: 10,
		ResultJSON:     []byte(`{"sync_type":"full","total_processed":10}`),
	}))

	m := newTestManager(t, testSyncConfig(), new(MockCatalogAPI), st)
	res, err := m.LastSyncResult(ctx)
	require.NoError(t, err)
	assert.Nil(t, res)

	h, err := st.LatestSyncHistory(ctx, string(OutcomeCompleted))
	require.NoError(t, err)
	assert.Nil(t, h)

	state, err := st.GetSyncState(ctx, store.CatalogScope)
	require.NoError(t, err)
	assert.False(t, state.LastSyncTime.Valid)
}

func TestCheckStoreHealthy(t *testing.T) {
	m := newTestManager(t, testSyncConfig(), new(MockCatalogAPI), newTestStore(t))
	recreated, err := m.CheckStore(context.Background())
	require.NoError(t, err)
	assert.False(t, recreated)
}

func TestNewManagerRejectsUnknownTypes(t *testing.T) {
	cfg := testSyncConfig()
	cfg.ObjectTypes = []string{"PRICING_RULE"}
	_, err := NewManager(cfg, new(MockCatalogAPI), nil, nil)
	assert.Error(t, err)
}
