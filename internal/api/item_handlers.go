package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"catalog-sync-service/internal/catalog"
	"catalog-sync-service/internal/crud"
	"catalog-sync-service/internal/remote"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 200
	maxImageBytes      = 10 << 20
)

type itemResponse struct {
	Item       *catalog.CatalogObject   `json:"item"`
	Variations []*catalog.CatalogObject `json:"variations"`
}

func (h *Handler) SearchItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		items []*catalog.CatalogObject
		err   error
	)
	if categoryID := q.Get("category_id"); categoryID != "" {
		items, err = h.catalog.ItemsInCategory(r.Context(), categoryID)
	} else {
		limit := defaultSearchLimit
		if raw := q.Get("limit"); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
				return
			}
			limit = min(n, maxSearchLimit)
		}
		items, err = h.catalog.SearchItems(r.Context(), q.Get("q"), limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []*catalog.CatalogObject{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	obj, found, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found || obj.IsDeleted || obj.Type != catalog.TypeItem {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "item not found"})
		return
	}

	variations, err := h.catalog.VariationsForItem(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if variations == nil {
		variations = []*catalog.CatalogObject{}
	}
	writeJSON(w, http.StatusOK, itemResponse{Item: obj, Variations: variations})
}

func decodeItemRequest(r *http.Request) (*crud.ItemRequest, error) {
	var req crud.ItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &catalog.ValidationError{Field: "body", Message: "invalid JSON"}
	}
	return &req, nil
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	req, err := decodeItemRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	obj, err := h.items.CreateItem(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, obj)
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	req, err := decodeItemRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	obj, err := h.items.UpdateItem(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.items.DeleteItem(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// UploadImage expects a multipart form with an "image_file" part and
// optional "name" and "caption" fields.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+1<<20)
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		writeError(w, &catalog.ValidationError{Field: "body", Message: "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("image_file")
	if err != nil {
		writeError(w, &catalog.ValidationError{Field: "image_file", Message: "is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, &catalog.ValidationError{Field: "image_file", Message: "could not be read"})
		return
	}

	upload := remote.ImageUpload{
		Name:        r.FormValue("name"),
		Caption:     r.FormValue("caption"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	if upload.Name == "" {
		upload.Name = header.Filename
	}

	img, err := h.items.UploadItemImage(r.Context(), chi.URLParam(r, "id"), upload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

func (h *Handler) GetLastOperation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"processing": h.items.IsProcessing(),
		"last":       h.items.LastOperation(),
	})
}
