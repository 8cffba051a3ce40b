package crud

import (
	"strings"
	"time"

	"catalog-sync-service/internal/catalog"
)

// ItemRequest is a local edit of one item and its variations.
type ItemRequest struct {
	Name                  string             `json:"name" validate:"notblank,max=512"`
	Description           string             `json:"description,omitempty" validate:"max=4096"`
	Abbreviation          string             `json:"abbreviation,omitempty" validate:"max=24"`
	CategoryID            string             `json:"category_id,omitempty" validate:"omitempty,excludes=#"`
	TaxIDs                []string           `json:"tax_ids,omitempty" validate:"dive,required,excludes=#"`
	PresentAtAllLocations *bool              `json:"present_at_all_locations,omitempty"`
	Variations            []VariationRequest `json:"variations" validate:"required,min=1,dive"`
}

// VariationRequest is one variation of an ItemRequest. An empty or temporary
// ID creates a new variation; any other ID must already exist remotely.
type VariationRequest struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name" validate:"notblank,max=255"`
	SKU            string `json:"sku,omitempty" validate:"max=128"`
	UPC            string `json:"upc,omitempty" validate:"omitempty,numeric,min=6,max=14"`
	PriceAmount    *int64 `json:"price_amount,omitempty" validate:"omitempty,min=0"`
	Currency       string `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	TrackInventory *bool  `json:"track_inventory,omitempty"`
	Ordinal        int64  `json:"ordinal,omitempty"`
}

func (v VariationRequest) isNew() bool {
	return v.ID == "" || catalog.IsTempID(v.ID)
}

type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
	OpImage  OperationKind = "image"
)

// OperationResult describes the last CRUD call. It is kept in memory only.
type OperationResult struct {
	Kind       OperationKind      `json:"kind"`
	ObjectID   string             `json:"object_id,omitempty"`
	ObjectType catalog.ObjectType `json:"object_type,omitempty"`
	Success    bool               `json:"success"`
	Version    int64              `json:"version,omitempty"`
	Error      string             `json:"error,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// applyItem copies the editable fields of req onto d.
func applyItem(d *catalog.ItemData, req *ItemRequest) {
	d.Name = strings.TrimSpace(req.Name)
	d.Description = req.Description
	d.Abbreviation = req.Abbreviation
	d.CategoryID = req.CategoryID
	if req.CategoryID != "" {
		d.Categories = []catalog.CategoryReference{{ID: req.CategoryID}}
	} else {
		d.Categories = nil
	}
	d.TaxIDs = append([]string(nil), req.TaxIDs...)
}

// applyVariation copies the editable fields of req onto d.
func applyVariation(d *catalog.ItemVariationData, req *VariationRequest) {
	d.Name = strings.TrimSpace(req.Name)
	d.SKU = req.SKU
	d.UPC = req.UPC
	d.Ordinal = req.Ordinal
	d.TrackInventory = req.TrackInventory
	if req.PriceAmount != nil {
		d.PricingType = "FIXED_PRICING"
		d.PriceMoney = &catalog.Money{Amount: *req.PriceAmount, Currency: req.Currency}
	} else {
		d.PricingType = "VARIABLE_PRICING"
		d.PriceMoney = nil
	}
}
