// Package crud creates, updates and deletes single catalog items against the
// remote and reconciles the local store with exactly what the remote accepted.
package crud

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"catalog-sync-service/internal/catalog"
	"catalog-sync-service/internal/logger"
	"catalog-sync-service/internal/remote"
	"catalog-sync-service/internal/resilience"
	"catalog-sync-service/internal/store"
)

// CatalogAPI is the part of the remote client the service writes through.
type CatalogAPI interface {
	RetrieveObject(ctx context.Context, id string) (*remote.RetrieveResult, error)
	UpsertObject(ctx context.Context, obj *catalog.CatalogObject, idempotencyKey string) (*remote.UpsertResult, error)
	DeleteObject(ctx context.Context, id string) (*remote.DeleteResult, error)
	CreateImage(ctx context.Context, idempotencyKey string, img remote.ImageUpload) (*catalog.CatalogObject, error)
}

// Ledger records IDs this client wrote so their echoed notifications are ignored.
type Ledger interface {
	RecordLocalOperation(id, kind string)
}

type Service struct {
	api       CatalogAPI
	store     store.Store
	exec      *resilience.Executor
	ledger    Ledger
	policy    resilience.Policy
	validator *Validator
	now       func() time.Time

	mu       sync.Mutex
	inFlight int
	last     *OperationResult
}

func NewService(api CatalogAPI, st store.Store, exec *resilience.Executor, ledger Ledger, policy resilience.Policy) *Service {
	return &Service{
		api:       api,
		store:     st,
		exec:      exec,
		ledger:    ledger,
		policy:    policy,
		validator: NewValidator(),
		now:       time.Now,
	}
}

func (s *Service) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight > 0
}

// LastOperation returns the outcome of the most recent call, or nil.
func (s *Service) LastOperation() *OperationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	c := *s.last
	return &c
}

func (s *Service) begin() {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
}

// finish runs on every exit path. It records the outcome, releases the call's
// processing slot and rebuilds the store when the call hit corruption.
func (s *Service) finish(kind OperationKind, id string, obj *catalog.CatalogObject, err error) {
	res := &OperationResult{
		Kind:       kind,
		ObjectID:   id,
		ObjectType: catalog.TypeItem,
		Success:    err == nil,
		Timestamp:  s.now(),
	}
	if obj != nil {
		res.ObjectID = obj.ID
		res.ObjectType = obj.Type
		res.Version = obj.Version
	}
	if err != nil {
		res.Error = err.Error()
	}

	if errors.Is(err, store.ErrCorrupted) {
		s.recoverStore(err)
	}

	s.mu.Lock()
	s.inFlight--
	s.last = res
	s.mu.Unlock()
}

// recoverStore recreates a corrupted store. The next sync then runs in full
// because no sync timestamp survives.
func (s *Service) recoverStore(cause error) {
	logger.Log.Error("Catalog store is corrupted, recreating", zap.Error(cause))
	if err := s.store.Recreate(context.Background()); err != nil {
		logger.Log.Error("Failed to recreate catalog store", zap.Error(err))
	}
}

// CreateItem writes a new item and its variations. The returned object is the
// remote's response, which is also what the local store now holds.
func (s *Service) CreateItem(ctx context.Context, req *ItemRequest) (obj *catalog.CatalogObject, err error) {
	s.begin()
	defer func() { s.finish(OpCreate, "", obj, err) }()

	if err := s.validator.ValidateItem(ctx, s.store, req); err != nil {
		return nil, err
	}
	for i, vr := range req.Variations {
		if !vr.isNew() {
			return nil, &catalog.ValidationError{
				Field:   fmt.Sprintf("variations[%d].id", i),
				Message: "must be empty or temporary on create",
			}
		}
	}

	present := true
	if req.PresentAtAllLocations != nil {
		present = *req.PresentAtAllLocations
	}
	item := &catalog.CatalogObject{
		Type:                  catalog.TypeItem,
		ID:                    catalog.NewTempID(),
		PresentAtAllLocations: &present,
		ItemData:              &catalog.ItemData{},
	}
	applyItem(item.ItemData, req)
	for i := range req.Variations {
		item.ItemData.Variations = append(item.ItemData.Variations, newVariation(item.ID, &req.Variations[i]))
	}

	written, err := s.upsert(ctx, item)
	if err != nil {
		return nil, err
	}
	if err := s.reconcile(ctx, OpCreate, written, nil); err != nil {
		return written, err
	}
	s.recordLocal(OpCreate, written)

	logger.Log.Info("Created catalog item",
		zap.String("id", written.ID),
		zap.Int64("version", written.Version),
		zap.Int("variations", len(written.Variations())))
	return written, nil
}

// UpdateItem re-reads the item from the remote, applies req on top of that
// fresh copy and writes it back with the version just read.
func (s *Service) UpdateItem(ctx context.Context, id string, req *ItemRequest) (obj *catalog.CatalogObject, err error) {
	s.begin()
	defer func() { s.finish(OpUpdate, id, obj, err) }()

	if id == "" || catalog.IsTempID(id) {
		return nil, &catalog.ValidationError{Field: "id", Message: "item has not been created remotely"}
	}
	if err := s.validator.ValidateItem(ctx, s.store, req); err != nil {
		return nil, err
	}

	current, err := s.fetchCurrent(ctx, id)
	if err != nil {
		return nil, err
	}

	prior, err := s.store.VariationIDsForItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read local variations of %s: %w", id, err)
	}

	draft, err := buildUpdate(current, req)
	if err != nil {
		return nil, err
	}

	written, err := s.upsert(ctx, draft)
	if err != nil {
		return nil, err
	}
	if err := s.reconcile(ctx, OpUpdate, written, prior); err != nil {
		return written, err
	}
	s.recordLocal(OpUpdate, written)

	logger.Log.Info("Updated catalog item",
		zap.String("id", written.ID),
		zap.Int64("from_version", current.Version),
		zap.Int64("version", written.Version))
	return written, nil
}

// fetchCurrent reads the live item. Anything but an active ITEM means the
// local copy is out of sync.
func (s *Service) fetchCurrent(ctx context.Context, id string) (*catalog.CatalogObject, error) {
	res, err := resilience.Execute(ctx, s.exec, "catalog.retrieve", s.policy, func(ctx context.Context) (*remote.RetrieveResult, error) {
		return s.api.RetrieveObject(ctx, id)
	})
	if err != nil {
		if remote.IsNotFound(err) {
			return nil, &catalog.ConsistencyError{ObjectID: id, Reason: "item no longer exists remotely"}
		}
		return nil, err
	}

	current := res.Object
	switch {
	case current.IsDeleted:
		return nil, &catalog.ConsistencyError{ObjectID: id, Reason: "item was deleted remotely"}
	case current.Type != catalog.TypeItem || current.ItemData == nil:
		return nil, &catalog.ConsistencyError{ObjectID: id, Reason: fmt.Sprintf("remote object is %s, not an item", current.Type)}
	}
	return current, nil
}

// buildUpdate starts from the fresh remote copy so fields the edit does not
// carry (images, location overrides, modifier lists) survive the write.
func buildUpdate(current *catalog.CatalogObject, req *ItemRequest) (*catalog.CatalogObject, error) {
	draft := current.Clone()
	draft.Version = current.Version
	if req.PresentAtAllLocations != nil {
		present := *req.PresentAtAllLocations
		draft.PresentAtAllLocations = &present
	}

	applyItem(draft.ItemData, req)
	// The remote clears image_ids when they are omitted.
	draft.ItemData.ImageIDs = append([]string(nil), current.ItemData.ImageIDs...)

	fresh := make(map[string]*catalog.CatalogObject)
	for _, v := range current.Variations() {
		if v != nil && !v.IsDeleted {
			fresh[v.ID] = v
		}
	}

	variations := make([]*catalog.CatalogObject, 0, len(req.Variations))
	for i := range req.Variations {
		vr := &req.Variations[i]
		if vr.isNew() {
			variations = append(variations, newVariation(current.ID, vr))
			continue
		}

		live, ok := fresh[vr.ID]
		if !ok {
			return nil, &catalog.ConsistencyError{
				ObjectID: vr.ID,
				Reason:   fmt.Sprintf("variation of item %s not found remotely", current.ID),
			}
		}
		v := live.Clone()
		v.Version = live.Version
		if v.ItemVariationData == nil {
			v.ItemVariationData = &catalog.ItemVariationData{}
		}
		v.ItemVariationData.ItemID = current.ID
		applyVariation(v.ItemVariationData, vr)
		if live.ItemVariationData != nil {
			v.ItemVariationData.ImageIDs = append([]string(nil), live.ItemVariationData.ImageIDs...)
		}
		variations = append(variations, v)
	}
	draft.ItemData.Variations = variations
	return draft, nil
}

func newVariation(itemID string, vr *VariationRequest) *catalog.CatalogObject {
	id := vr.ID
	if id == "" {
		id = catalog.NewTempID()
	}
	v := &catalog.CatalogObject{
		Type:              catalog.TypeItemVariation,
		ID:                id,
		ItemVariationData: &catalog.ItemVariationData{ItemID: itemID},
	}
	applyVariation(v.ItemVariationData, vr)
	return v
}

// DeleteItem deletes id remotely and tombstones every object the remote
// reports as deleted with it.
func (s *Service) DeleteItem(ctx context.Context, id string) (err error) {
	s.begin()
	var tombstone *catalog.CatalogObject
	defer func() { s.finish(OpDelete, id, tombstone, err) }()

	if id == "" || catalog.IsTempID(id) {
		return &catalog.ValidationError{Field: "id", Message: "item has not been created remotely"}
	}

	res, err := resilience.Execute(ctx, s.exec, "catalog.delete", s.policy, func(ctx context.Context) (*remote.DeleteResult, error) {
		return s.api.DeleteObject(ctx, id)
	})
	if err != nil {
		return err
	}

	deletedAt := res.DeletedAt
	if deletedAt == "" {
		deletedAt = s.now().UTC().Format(time.RFC3339Nano)
	}
	version := catalog.VersionFromTimestamp(deletedAt)

	ids := res.DeletedObjectIDs
	if !contains(ids, id) {
		ids = append([]string{id}, ids...)
	}

	tombstone = &catalog.CatalogObject{
		Type:      catalog.TypeItem,
		ID:        id,
		Version:   version,
		UpdatedAt: deletedAt,
		IsDeleted: true,
	}

	err = s.localWrite(ctx, "store.delete", func(tx store.Writer) error {
		for _, deleted := range ids {
			found, err := tx.MarkDeleted(ctx, deleted, version, deletedAt)
			if err != nil {
				return err
			}
			if !found && deleted == id {
				if err := tx.Upsert(ctx, tombstone); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return s.divergence(OpDelete, id, version, err)
	}

	for _, deleted := range ids {
		s.ledger.RecordLocalOperation(deleted, string(OpDelete))
	}
	logger.Log.Info("Deleted catalog item",
		zap.String("id", id),
		zap.Int("objects", len(ids)))
	return nil
}

// UploadItemImage uploads an image, attaches it to the item and stores both
// the image and the item as the remote now sees them.
func (s *Service) UploadItemImage(ctx context.Context, itemID string, upload remote.ImageUpload) (img *catalog.CatalogObject, err error) {
	s.begin()
	defer func() { s.finish(OpImage, itemID, img, err) }()

	if itemID == "" || catalog.IsTempID(itemID) {
		return nil, &catalog.ValidationError{Field: "item_id", Message: "item has not been created remotely"}
	}
	if len(upload.Data) == 0 {
		return nil, &catalog.ValidationError{Field: "image_file", Message: "is required"}
	}

	upload.ObjectID = itemID
	key := catalog.NewIdempotencyKey()
	img, err = resilience.Execute(ctx, s.exec, "catalog.create_image", s.policy, func(ctx context.Context) (*catalog.CatalogObject, error) {
		return s.api.CreateImage(ctx, key, upload)
	})
	if err != nil {
		return nil, err
	}

	item, err := s.fetchCurrent(ctx, itemID)
	if err != nil {
		return img, err
	}

	err = s.localWrite(ctx, "store.reconcile", func(tx store.Writer) error {
		if err := tx.Upsert(ctx, img); err != nil {
			return err
		}
		return writeWithChildren(ctx, tx, item)
	})
	if err != nil {
		return img, s.divergence(OpImage, img.ID, img.Version, err)
	}

	s.ledger.RecordLocalOperation(img.ID, string(OpImage))
	s.recordLocal(OpImage, item)
	logger.Log.Info("Attached image to catalog item", zap.String("item_id", itemID), zap.String("image_id", img.ID))
	return img, nil
}

func (s *Service) upsert(ctx context.Context, obj *catalog.CatalogObject) (*catalog.CatalogObject, error) {
	// One key per logical write, reused by every retry.
	key := catalog.NewIdempotencyKey()
	res, err := resilience.Execute(ctx, s.exec, "catalog.upsert", s.policy, func(ctx context.Context) (*remote.UpsertResult, error) {
		return s.api.UpsertObject(ctx, obj, key)
	})
	if err != nil {
		return nil, err
	}
	return res.Object, nil
}

// reconcile stores the remote's response as-is. Variations that existed
// locally before the write but are missing from the response are tombstoned.
func (s *Service) reconcile(ctx context.Context, kind OperationKind, written *catalog.CatalogObject, prior []string) error {
	err := s.localWrite(ctx, "store.reconcile", func(tx store.Writer) error {
		if err := writeWithChildren(ctx, tx, written); err != nil {
			return err
		}

		returned := make(map[string]bool)
		for _, v := range written.Variations() {
			if v != nil {
				returned[v.ID] = true
			}
		}
		for _, id := range prior {
			if returned[id] {
				continue
			}
			if _, err := tx.MarkDeleted(ctx, id, 0, written.UpdatedAt); err != nil {
				return err
			}
			logger.Log.Debug("Tombstoned removed variation", zap.String("item_id", written.ID), zap.String("variation_id", id))
		}
		return nil
	})
	if err != nil {
		return s.divergence(kind, written.ID, written.Version, err)
	}
	return nil
}

func writeWithChildren(ctx context.Context, tx store.Writer, obj *catalog.CatalogObject) error {
	if err := tx.Upsert(ctx, obj); err != nil {
		return err
	}
	for _, child := range catalog.Explode(obj) {
		if err := tx.Upsert(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// localWrite runs fn in one store transaction under the retry policy. The
// remote write has already happened, so cancellation is ignored.
func (s *Service) localWrite(ctx context.Context, op string, fn func(tx store.Writer) error) error {
	ctx = context.WithoutCancel(ctx)
	return s.exec.Do(ctx, op, s.policy, func(ctx context.Context) error {
		return s.store.RunInTransaction(ctx, fn)
	})
}

func (s *Service) divergence(kind OperationKind, id string, version int64, cause error) error {
	logger.Log.Error("Remote write succeeded but local store write failed; a full resync is required",
		zap.String("operation", string(kind)),
		zap.String("id", id),
		zap.Int64("remote_version", version),
		zap.Error(cause))
	return fmt.Errorf("%w: %s %s at version %d: %w", catalog.ErrLocalStoreDivergence, kind, id, version, cause)
}

func (s *Service) recordLocal(kind OperationKind, obj *catalog.CatalogObject) {
	s.ledger.RecordLocalOperation(obj.ID, string(kind))
	for _, v := range obj.Variations() {
		if v != nil {
			s.ledger.RecordLocalOperation(v.ID, string(kind))
		}
	}
}

// IsConsistencyError reports whether err requires a resync before editing again.
func IsConsistencyError(err error) bool {
	return errors.Is(err, catalog.ErrConsistency)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
