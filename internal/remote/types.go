package remote

import (
	"catalog-sync-service/internal/catalog"
)

// Page is one page of a list or search call. An empty Cursor means no further pages.
type Page struct {
	Objects []*catalog.CatalogObject `json:"objects"`
	Cursor  string                   `json:"cursor,omitempty"`
	// LatestTime is only set by search.
	LatestTime string `json:"latest_time,omitempty"`
}

type IDMapping struct {
	ClientObjectID string `json:"client_object_id"`
	ObjectID       string `json:"object_id"`
}

type UpsertResult struct {
	Object     *catalog.CatalogObject `json:"catalog_object"`
	IDMappings []IDMapping            `json:"id_mappings,omitempty"`
}

// ResolveID returns the permanent ID assigned to a temporary client ID.
func (r *UpsertResult) ResolveID(clientID string) string {
	for _, m := range r.IDMappings {
		if m.ClientObjectID == clientID {
			return m.ObjectID
		}
	}
	return clientID
}

type DeleteResult struct {
	DeletedObjectIDs []string `json:"deleted_object_ids"`
	DeletedAt        string   `json:"deleted_at"`
}

type RetrieveResult struct {
	Object         *catalog.CatalogObject   `json:"object"`
	RelatedObjects []*catalog.CatalogObject `json:"related_objects,omitempty"`
}

type ImageUpload struct {
	// ObjectID attaches the image to an existing item when set.
	ObjectID    string
	Name        string
	Caption     string
	Filename    string
	ContentType string
	Data        []byte
}

type searchRequest struct {
	Cursor                string   `json:"cursor,omitempty"`
	BeginTime             string   `json:"begin_time,omitempty"`
	ObjectTypes           []string `json:"object_types,omitempty"`
	IncludeDeletedObjects bool     `json:"include_deleted_objects"`
}

type upsertRequest struct {
	IdempotencyKey string                 `json:"idempotency_key"`
	Object         *catalog.CatalogObject `json:"object"`
}

type imageRequest struct {
	IdempotencyKey string                 `json:"idempotency_key"`
	ObjectID       string                 `json:"object_id,omitempty"`
	Image          *catalog.CatalogObject `json:"image"`
}

type imageResponse struct {
	Image *catalog.CatalogObject `json:"image"`
}
