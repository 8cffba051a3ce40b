package crud

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"catalog-sync-service/internal/catalog"
	"catalog-sync-service/internal/database"
	"catalog-sync-service/internal/remote"
	"catalog-sync-service/internal/resilience"
	"catalog-sync-service/internal/store"
)

type MockCatalogAPI struct {
	mock.Mock
}

func (m *MockCatalogAPI) RetrieveObject(ctx context.Context, id string) (*remote.RetrieveResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.RetrieveResult), args.Error(1)
}

func (m *MockCatalogAPI) UpsertObject(ctx context.Context, obj *catalog.CatalogObject, key string) (*remote.UpsertResult, error) {
	args := m.Called(ctx, obj, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.UpsertResult), args.Error(1)
}

func (m *MockCatalogAPI) DeleteObject(ctx context.Context, id string) (*remote.DeleteResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.DeleteResult), args.Error(1)
}

func (m *MockCatalogAPI) CreateImage(ctx context.Context, key string, img remote.ImageUpload) (*catalog.CatalogObject, error) {
	args := m.Called(ctx, key, img)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.CatalogObject), args.Error(1)
}

type fakeLedger struct {
	mu  sync.Mutex
	ids map[string]string
}

func (l *fakeLedger) RecordLocalOperation(id, kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ids == nil {
		l.ids = make(map[string]string)
	}
	l.ids[id] = kind
}

func (l *fakeLedger) has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ids[id]
	return ok
}

// failingStore accepts reads but rejects every transaction.
type failingStore struct {
	store.Store
}

func (f *failingStore) RunInTransaction(ctx context.Context, fn func(tx store.Writer) error) error {
	return errors.New("disk I/O error")
}

// corruptStore fails every read with a corruption error.
type corruptStore struct {
	store.Store
	mu        sync.Mutex
	recreated int
}

func (c *corruptStore) Get(ctx context.Context, id string) (*catalog.CatalogObject, bool, error) {
	return nil, false, fmt.Errorf("get %s: %w", id, store.ErrCorrupted)
}

func (c *corruptStore) Recreate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recreated++
	return nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	s := store.NewSQLiteStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestService(api CatalogAPI, st store.Store, ledger Ledger) *Service {
	exec := resilience.NewExecutor(resilience.NewMetrics(nil))
	return NewService(api, st, exec, ledger, resilience.Policy{MaxAttempts: 3})
}

func int64Ptr(v int64) *int64 { return &v }

func seedCategory(t *testing.T, st store.Store, id string) {
	t.Helper()
	require.NoError(t, st.Upsert(context.Background(), &catalog.CatalogObject{
		Type:         catalog.TypeCategory,
		ID:           id,
		Version:      1,
		CategoryData: &catalog.CategoryData{Name: "Drinks"},
	}))
}

func variation(id, itemID, name string, version int64) *catalog.CatalogObject {
	return &catalog.CatalogObject{
		Type:    catalog.TypeItemVariation,
		ID:      id,
		Version: version,
		ItemVariationData: &catalog.ItemVariationData{
			ItemID:      itemID,
			Name:        name,
			PricingType: "FIXED_PRICING",
			PriceMoney:  &catalog.Money{Amount: 350, Currency: "USD"},
		},
	}
}

func item(id, name string, version int64, variations ...*catalog.CatalogObject) *catalog.CatalogObject {
	return &catalog.CatalogObject{
		Type:      catalog.TypeItem,
		ID:        id,
		Version:   version,
		UpdatedAt: "2024-03-01T10:00:00Z",
		ItemData:  &catalog.ItemData{Name: name, Variations: variations},
	}
}

func seedItem(t *testing.T, st store.Store, obj *catalog.CatalogObject) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.Upsert(ctx, obj))
	for _, child := range catalog.Explode(obj) {
		require.NoError(t, st.Upsert(ctx, child))
	}
}

func TestCreateItemPersistsRemoteResponse(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedCategory(t, st, "CAT_1")
	api := new(MockCatalogAPI)
	ledger := &fakeLedger{}
	svc := newTestService(api, st, ledger)

	created := item("ITEM_1", "Latte", 100, variation("VAR_1", "ITEM_1", "Small", 100))
	api.On("UpsertObject", mock.Anything, mock.MatchedBy(func(o *catalog.CatalogObject) bool {
		vars := o.Variations()
		return catalog.IsTempID(o.ID) &&
			o.ItemData.Name == "Latte" &&
			o.ItemData.CategoryID == "CAT_1" &&
			*o.PresentAtAllLocations &&
			len(vars) == 1 &&
			catalog.IsTempID(vars[0].ID) &&
			vars[0].ItemVariationData.ItemID == o.ID &&
			vars[0].ItemVariationData.PriceMoney.Amount == 350
	}), mock.AnythingOfType("string")).Return(&remote.UpsertResult{Object: created}, nil).Once()

	obj, err := svc.CreateItem(ctx, &ItemRequest{
		Name:       "  Latte ",
		CategoryID: "CAT_1",
		Variations: []VariationRequest{{Name: "Small", PriceAmount: int64Ptr(350), Currency: "USD"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ITEM_1", obj.ID)

	stored, found, err := st.Get(ctx, "ITEM_1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(100), stored.Version)

	_, found, err = st.Get(ctx, "VAR_1")
	require.NoError(t, err)
	assert.True(t, found)

	assert.True(t, ledger.has("ITEM_1"))
	assert.True(t, ledger.has("VAR_1"))
	assert.False(t, svc.IsProcessing())

	last := svc.LastOperation()
	require.NotNil(t, last)
	assert.Equal(t, OpCreate, last.Kind)
	assert.True(t, last.Success)
	assert.Equal(t, int64(100), last.Version)
	api.AssertExpectations(t)
}

func TestCreateItemRejectsExistingVariationID(t *testing.T) {
	api := new(MockCatalogAPI)
	svc := newTestService(api, newTestStore(t), &fakeLedger{})

	_, err := svc.CreateItem(context.Background(), &ItemRequest{
		Name:       "Latte",
		Variations: []VariationRequest{{ID: "VAR_1", Name: "Small"}},
	})
	require.ErrorIs(t, err, catalog.ErrValidation)
	api.AssertNotCalled(t, "UpsertObject", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateItemValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   *ItemRequest
		field string
	}{
		{
			name:  "blank name",
			req:   &ItemRequest{Name: "   ", Variations: []VariationRequest{{Name: "Small"}}},
			field: "name",
		},
		{
			name:  "no variations",
			req:   &ItemRequest{Name: "Latte"},
			field: "variations",
		},
		{
			name:  "blank variation name",
			req:   &ItemRequest{Name: "Latte", Variations: []VariationRequest{{Name: ""}}},
			field: "variations[0].name",
		},
		{
			name:  "price without currency",
			req:   &ItemRequest{Name: "Latte", Variations: []VariationRequest{{Name: "Small", PriceAmount: int64Ptr(100)}}},
			field: "variations[0].currency",
		},
		{
			name:  "lower case currency",
			req:   &ItemRequest{Name: "Latte", Variations: []VariationRequest{{Name: "Small", PriceAmount: int64Ptr(100), Currency: "usd"}}},
			field: "variations[0].currency",
		},
		{
			name:  "unknown category",
			req:   &ItemRequest{Name: "Latte", CategoryID: "CAT_404", Variations: []VariationRequest{{Name: "Small"}}},
			field: "category_id",
		},
		{
			name:  "unknown tax",
			req:   &ItemRequest{Name: "Latte", TaxIDs: []string{"TAX_404"}, Variations: []VariationRequest{{Name: "Small"}}},
			field: "tax_ids[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := new(MockCatalogAPI)
			svc := newTestService(api, newTestStore(t), &fakeLedger{})

			_, err := svc.CreateItem(context.Background(), tt.req)
			var ve *catalog.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Contains(t, FormatValidationError(err), tt.field)
			assert.False(t, svc.IsProcessing())
			api.AssertNotCalled(t, "UpsertObject", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestUpdateItemUsesFreshRemoteVersion(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedItem(t, st, item("ITEM_1", "Latte", 4, variation("VAR_1", "ITEM_1", "Small", 4)))
	api := new(MockCatalogAPI)
	ledger := &fakeLedger{}
	svc := newTestService(api, st, ledger)

	fresh := item("ITEM_1", "Latte", 5, variation("VAR_1", "ITEM_1", "Small", 5))
	fresh.ItemData.ImageIDs = []string{"IMG_1"}
	api.On("RetrieveObject", mock.Anything, "ITEM_1").Return(&remote.RetrieveResult{Object: fresh}, nil).Once()

	updated := item("ITEM_1", "Latte Grande", 6, variation("VAR_1", "ITEM_1", "Small", 6))
	updated.ItemData.ImageIDs = []string{"IMG_1"}
	api.On("UpsertObject", mock.Anything, mock.MatchedBy(func(o *catalog.CatalogObject) bool {
		vars := o.Variations()
		return o.ID == "ITEM_1" &&
			o.Version == 5 &&
			o.ItemData.Name == "Latte Grande" &&
			assert.ObjectsAreEqual([]string{"IMG_1"}, o.ItemData.ImageIDs) &&
			len(vars) == 1 &&
			vars[0].ID == "VAR_1" &&
			vars[0].Version == 5 &&
			vars[0].ItemVariationData.PriceMoney.Amount == 400
	}), mock.AnythingOfType("string")).Return(&remote.UpsertResult{Object: updated}, nil).Once()

	obj, err := svc.UpdateItem(ctx, "ITEM_1", &ItemRequest{
		Name:       "Latte Grande",
		Variations: []VariationRequest{{ID: "VAR_1", Name: "Small", PriceAmount: int64Ptr(400), Currency: "USD"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6), obj.Version)

	stored, _, err := st.Get(ctx, "ITEM_1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), stored.Version)
	assert.Equal(t, "Latte Grande", stored.Name())
	assert.True(t, ledger.has("ITEM_1"))
	api.AssertExpectations(t)
}

func TestUpdateItemUnknownVariationMakesNoWrites(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedItem(t, st, item("ITEM_1", "Latte", 4, variation("VAR_1", "ITEM_1", "Small", 4)))
	api := new(MockCatalogAPI)
	svc := newTestService(api, st, &fakeLedger{})

	api.On("RetrieveObject", mock.Anything, "ITEM_1").
		Return(&remote.RetrieveResult{Object: item("ITEM_1", "Latte", 5, variation("VAR_1", "ITEM_1", "Small", 5))}, nil).Once()

	_, err := svc.UpdateItem(ctx, "ITEM_1", &ItemRequest{
		Name:       "Latte",
		Variations: []VariationRequest{{ID: "VAR_2", Name: "Large"}},
	})
	require.ErrorIs(t, err, catalog.ErrConsistency)
	assert.True(t, IsConsistencyError(err))
	api.AssertNotCalled(t, "UpsertObject", mock.Anything, mock.Anything, mock.Anything)

	stored, _, err := st.Get(ctx, "ITEM_1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stored.Version)

	last := svc.LastOperation()
	require.NotNil(t, last)
	assert.False(t, last.Success)
	assert.Equal(t, "ITEM_1", last.ObjectID)
}

func TestUpdateItemGoneRemotely(t *testing.T) {
	tests := []struct {
		name string
		res  *remote.RetrieveResult
		err  error
	}{
		{name: "not found", err: &remote.Error{Kind: remote.KindClient, StatusCode: 404}},
		{name: "deleted", res: &remote.RetrieveResult{Object: &catalog.CatalogObject{Type: catalog.TypeItem, ID: "ITEM_1", IsDeleted: true}}},
		{name: "wrong type", res: &remote.RetrieveResult{Object: &catalog.CatalogObject{
			Type: catalog.TypeCategory, ID: "ITEM_1", CategoryData: &catalog.CategoryData{Name: "Drinks"},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := new(MockCatalogAPI)
			svc := newTestService(api, newTestStore(t), &fakeLedger{})
			if tt.res != nil {
				api.On("RetrieveObject", mock.Anything, "ITEM_1").Return(tt.res, nil)
			} else {
				api.On("RetrieveObject", mock.Anything, "ITEM_1").Return(nil, tt.err)
			}

			_, err := svc.UpdateItem(context.Background(), "ITEM_1", &ItemRequest{
				Name:       "Latte",
				Variations: []VariationRequest{{Name: "Small"}},
			})
			require.ErrorIs(t, err, catalog.ErrConsistency)
			api.AssertNotCalled(t, "UpsertObject", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestUpdateItemRejectsTempID(t *testing.T) {
	api := new(MockCatalogAPI)
	svc := newTestService(api, newTestStore(t), &fakeLedger{})

	_, err := svc.UpdateItem(context.Background(), catalog.NewTempID(), &ItemRequest{
		Name:       "Latte",
		Variations: []VariationRequest{{Name: "Small"}},
	})
	require.ErrorIs(t, err, catalog.ErrValidation)
	api.AssertNotCalled(t, "RetrieveObject", mock.Anything, mock.Anything)
}

func TestUpdateItemTombstonesRemovedVariations(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedItem(t, st, item("ITEM_1", "Latte", 4,
		variation("VAR_1", "ITEM_1", "Small", 4),
		variation("VAR_2", "ITEM_1", "Large", 4)))
	api := new(MockCatalogAPI)
	svc := newTestService(api, st, &fakeLedger{})

	api.On("RetrieveObject", mock.Anything, "ITEM_1").Return(&remote.RetrieveResult{Object: item("ITEM_1", "Latte", 5,
		variation("VAR_1", "ITEM_1", "Small", 5),
		variation("VAR_2", "ITEM_1", "Large", 5))}, nil).Once()
	api.On("UpsertObject", mock.Anything, mock.MatchedBy(func(o *catalog.CatalogObject) bool {
		return len(o.Variations()) == 1 && o.Variations()[0].ID == "VAR_1"
	}), mock.Anything).Return(&remote.UpsertResult{
		Object: item("ITEM_1", "Latte", 6, variation("VAR_1", "ITEM_1", "Small", 6)),
	}, nil).Once()

	_, err := svc.UpdateItem(ctx, "ITEM_1", &ItemRequest{
		Name:       "Latte",
		Variations: []VariationRequest{{ID: "VAR_1", Name: "Small"}},
	})
	require.NoError(t, err)

	removed, found, err := st.Get(ctx, "VAR_2")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, removed.IsDeleted)

	ids, err := st.VariationIDsForItem(ctx, "ITEM_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"VAR_1"}, ids)
}

func TestUpsertRetriesWithSameIdempotencyKey(t *testing.T) {
	st := newTestStore(t)
	api := new(MockCatalogAPI)
	svc := newTestService(api, st, &fakeLedger{})

	var keys []string
	record := func(args mock.Arguments) { keys = append(keys, args.String(2)) }
	api.On("UpsertObject", mock.Anything, mock.Anything, mock.Anything).
		Run(record).Return(nil, &remote.Error{Kind: remote.KindServer, StatusCode: 503}).Once()
	api.On("UpsertObject", mock.Anything, mock.Anything, mock.Anything).
		Run(record).Return(&remote.UpsertResult{Object: item("ITEM_1", "Latte", 1)}, nil).Once()

	_, err := svc.CreateItem(context.Background(), &ItemRequest{
		Name:       "Latte",
		Variations: []VariationRequest{{Name: "Small"}},
	})
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
	assert.NotEmpty(t, keys[0])
}

func TestCreateItemReportsDivergence(t *testing.T) {
	api := new(MockCatalogAPI)
	svc := newTestService(api, &failingStore{Store: newTestStore(t)}, &fakeLedger{})

	api.On("UpsertObject", mock.Anything, mock.Anything, mock.Anything).
		Return(&remote.UpsertResult{Object: item("ITEM_1", "Latte", 1)}, nil).Once()

	obj, err := svc.CreateItem(context.Background(), &ItemRequest{
		Name:       "Latte",
		Variations: []VariationRequest{{Name: "Small"}},
	})
	require.ErrorIs(t, err, catalog.ErrLocalStoreDivergence)
	require.NotNil(t, obj)
	assert.Equal(t, "ITEM_1", obj.ID)
	assert.False(t, svc.IsProcessing())
}

func TestDeleteItemTombstonesEveryDeletedObject(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedItem(t, st, item("ITEM_1", "Latte", 4, variation("VAR_1", "ITEM_1", "Small", 4)))
	api := new(MockCatalogAPI)
	ledger := &fakeLedger{}
	svc := newTestService(api, st, ledger)

	deletedAt := "2024-03-02T08:30:00Z"
	api.On("DeleteObject", mock.Anything, "ITEM_1").Return(&remote.DeleteResult{
		DeletedObjectIDs: []string{"ITEM_1", "VAR_1"},
		DeletedAt:        deletedAt,
	}, nil).Once()

	require.NoError(t, svc.DeleteItem(ctx, "ITEM_1"))

	want := catalog.VersionFromTimestamp(deletedAt)
	for _, id := range []string{"ITEM_1", "VAR_1"} {
		obj, found, err := st.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, found, id)
		assert.True(t, obj.IsDeleted, id)
		assert.Equal(t, want, obj.Version, id)
		assert.True(t, ledger.has(id), id)
	}

	ids, err := st.AllIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	last := svc.LastOperation()
	require.NotNil(t, last)
	assert.Equal(t, OpDelete, last.Kind)
	assert.Equal(t, want, last.Version)
}

func TestDeleteItemUnknownLocallyWritesTombstone(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	api := new(MockCatalogAPI)
	svc := newTestService(api, st, &fakeLedger{})

	api.On("DeleteObject", mock.Anything, "ITEM_9").Return(&remote.DeleteResult{
		DeletedObjectIDs: []string{"VAR_9"},
		DeletedAt:        "2024-03-02T08:30:00Z",
	}, nil).Once()

	require.NoError(t, svc.DeleteItem(ctx, "ITEM_9"))

	obj, found, err := st.Get(ctx, "ITEM_9")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, obj.IsDeleted)
	assert.Equal(t, catalog.TypeItem, obj.Type)
}

func TestDeleteItemRemoteFailure(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedItem(t, st, item("ITEM_1", "Latte", 4))
	api := new(MockCatalogAPI)
	svc := newTestService(api, st, &fakeLedger{})

	api.On("DeleteObject", mock.Anything, "ITEM_1").
		Return(nil, &remote.Error{Kind: remote.KindAuthentication, StatusCode: 401}).Once()

	err := svc.DeleteItem(ctx, "ITEM_1")
	require.ErrorIs(t, err, remote.ErrAuthenticationFailed)

	obj, _, err := st.Get(ctx, "ITEM_1")
	require.NoError(t, err)
	assert.False(t, obj.IsDeleted)
	api.AssertNumberOfCalls(t, "DeleteObject", 1)
}

func TestUploadItemImage(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedItem(t, st, item("ITEM_1", "Latte", 4))
	api := new(MockCatalogAPI)
	ledger := &fakeLedger{}
	svc := newTestService(api, st, ledger)

	image := &catalog.CatalogObject{
		Type:      catalog.TypeImage,
		ID:        "IMG_1",
		Version:   7,
		ImageData: &catalog.ImageData{Name: "latte", URL: "https://images.example.com/latte.png"},
	}
	api.On("CreateImage", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(u remote.ImageUpload) bool {
		return u.ObjectID == "ITEM_1" && len(u.Data) > 0
	})).Return(image, nil).Once()

	withImage := item("ITEM_1", "Latte", 7)
	withImage.ItemData.ImageIDs = []string{"IMG_1"}
	api.On("RetrieveObject", mock.Anything, "ITEM_1").Return(&remote.RetrieveResult{Object: withImage}, nil).Once()

	img, err := svc.UploadItemImage(ctx, "ITEM_1", remote.ImageUpload{
		Name:        "latte",
		Filename:    "latte.png",
		ContentType: "image/png",
		Data:        []byte{0x89, 'P', 'N', 'G'},
	})
	require.NoError(t, err)
	assert.Equal(t, "IMG_1", img.ID)

	storedImage, found, err := st.Get(ctx, "IMG_1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "https://images.example.com/latte.png", storedImage.ImageData.URL)

	storedItem, _, err := st.Get(ctx, "ITEM_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"IMG_1"}, storedItem.ItemData.ImageIDs)
	assert.True(t, ledger.has("IMG_1"))
}

func TestUploadItemImageRequiresData(t *testing.T) {
	api := new(MockCatalogAPI)
	svc := newTestService(api, newTestStore(t), &fakeLedger{})

	_, err := svc.UploadItemImage(context.Background(), "ITEM_1", remote.ImageUpload{Filename: "empty.png"})
	require.ErrorIs(t, err, catalog.ErrValidation)
	api.AssertNotCalled(t, "CreateImage", mock.Anything, mock.Anything, mock.Anything)
}

func TestIsProcessingUntilLastCallReturns(t *testing.T) {
	api := new(MockCatalogAPI)
	svc := newTestService(api, newTestStore(t), &fakeLedger{})

	started := make(chan struct{})
	release := make(chan struct{})
	api.On("DeleteObject", mock.Anything, "ITEM_1").Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(&remote.DeleteResult{DeletedObjectIDs: []string{"ITEM_1"}, DeletedAt: "2024-03-02T08:30:00Z"}, nil).Once()

	done := make(chan error, 1)
	go func() { done <- svc.DeleteItem(context.Background(), "ITEM_1") }()
	<-started

	err := svc.DeleteItem(context.Background(), catalog.NewTempID())
	require.ErrorIs(t, err, catalog.ErrValidation)
	assert.True(t, svc.IsProcessing())

	close(release)
	require.NoError(t, <-done)
	assert.False(t, svc.IsProcessing())
}

func TestCorruptedStoreIsRecreated(t *testing.T) {
	api := new(MockCatalogAPI)
	st := &corruptStore{Store: newTestStore(t)}
	svc := newTestService(api, st, &fakeLedger{})

	_, err := svc.CreateItem(context.Background(), &ItemRequest{
		Name:       "Latte",
		CategoryID: "CAT_1",
		Variations: []VariationRequest{{Name: "Small"}},
	})
	require.ErrorIs(t, err, store.ErrCorrupted)
	assert.Equal(t, 1, st.recreated)
	assert.False(t, svc.IsProcessing())
	api.AssertNotCalled(t, "UpsertObject", mock.Anything, mock.Anything, mock.Anything)
}
