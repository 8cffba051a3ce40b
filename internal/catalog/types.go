// Package catalog holds the remote catalog object model shared by the store,
// the remote client, the sync coordinator and the CRUD service.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ObjectType string

const (
	TypeItem          ObjectType = "ITEM"
	TypeItemVariation ObjectType = "ITEM_VARIATION"
	TypeCategory      ObjectType = "CATEGORY"
	TypeTax           ObjectType = "TAX"
	TypeDiscount      ObjectType = "DISCOUNT"
	TypeModifier      ObjectType = "MODIFIER"
	TypeModifierList  ObjectType = "MODIFIER_LIST"
	TypeImage         ObjectType = "IMAGE"
)

// AllTypes lists every object type the engine persists.
var AllTypes = []ObjectType{
	TypeItem, TypeItemVariation, TypeCategory, TypeTax,
	TypeDiscount, TypeModifier, TypeModifierList, TypeImage,
}

func (t ObjectType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTypes converts configured type names, rejecting unknown ones.
func ParseTypes(names []string) ([]ObjectType, error) {
	types := make([]ObjectType, 0, len(names))
	for _, n := range names {
		t := ObjectType(strings.ToUpper(strings.TrimSpace(n)))
		if !t.Valid() {
			return nil, fmt.Errorf("unknown catalog object type %q", n)
		}
		types = append(types, t)
	}
	return types, nil
}

func TypeNames(types []ObjectType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}

// CatalogObject is the envelope every remote catalog object arrives in.
// Exactly one of the *Data payloads is populated, matching Type.
type CatalogObject struct {
	Type                  ObjectType `json:"type"`
	ID                    string     `json:"id"`
	UpdatedAt             string     `json:"updated_at,omitempty"`
	Version               int64      `json:"version,omitempty"`
	IsDeleted             bool       `json:"is_deleted,omitempty"`
	PresentAtAllLocations *bool      `json:"present_at_all_locations,omitempty"`
	PresentAtLocationIDs  []string   `json:"present_at_location_ids,omitempty"`
	AbsentAtLocationIDs   []string   `json:"absent_at_location_ids,omitempty"`

	ItemData          *ItemData          `json:"item_data,omitempty"`
	ItemVariationData *ItemVariationData `json:"item_variation_data,omitempty"`
	CategoryData      *CategoryData      `json:"category_data,omitempty"`
	TaxData           *TaxData           `json:"tax_data,omitempty"`
	DiscountData      *DiscountData      `json:"discount_data,omitempty"`
	ModifierData      *ModifierData      `json:"modifier_data,omitempty"`
	ModifierListData  *ModifierListData  `json:"modifier_list_data,omitempty"`
	ImageData         *ImageData         `json:"image_data,omitempty"`
}

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type ItemData struct {
	Name              string              `json:"name,omitempty"`
	Description       string              `json:"description,omitempty"`
	Abbreviation      string              `json:"abbreviation,omitempty"`
	LabelColor        string              `json:"label_color,omitempty"`
	IsTaxable         *bool               `json:"is_taxable,omitempty"`
	CategoryID        string              `json:"category_id,omitempty"`
	Categories        []CategoryReference `json:"categories,omitempty"`
	ReportingCategory *CategoryReference  `json:"reporting_category,omitempty"`
	TaxIDs            []string            `json:"tax_ids,omitempty"`
	ModifierListInfo  []ModifierListInfo  `json:"modifier_list_info,omitempty"`
	Variations        []*CatalogObject    `json:"variations,omitempty"`
	ProductType       string              `json:"product_type,omitempty"`
	ImageIDs          []string            `json:"image_ids,omitempty"`
}

type CategoryReference struct {
	ID      string `json:"id"`
	Ordinal int64  `json:"ordinal,omitempty"`
}

type ModifierListInfo struct {
	ModifierListID string `json:"modifier_list_id"`
	MinSelected    *int   `json:"min_selected_modifiers,omitempty"`
	MaxSelected    *int   `json:"max_selected_modifiers,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty"`
}

type ItemVariationData struct {
	ItemID            string             `json:"item_id,omitempty"`
	Name              string             `json:"name,omitempty"`
	SKU               string             `json:"sku,omitempty"`
	UPC               string             `json:"upc,omitempty"`
	Ordinal           int64              `json:"ordinal,omitempty"`
	PricingType       string             `json:"pricing_type,omitempty"`
	PriceMoney        *Money             `json:"price_money,omitempty"`
	TrackInventory    *bool              `json:"track_inventory,omitempty"`
	Sellable          *bool              `json:"sellable,omitempty"`
	Stockable         *bool              `json:"stockable,omitempty"`
	LocationOverrides []LocationOverride `json:"location_overrides,omitempty"`
	ImageIDs          []string           `json:"image_ids,omitempty"`
}

type LocationOverride struct {
	LocationID     string `json:"location_id"`
	PriceMoney     *Money `json:"price_money,omitempty"`
	PricingType    string `json:"pricing_type,omitempty"`
	TrackInventory *bool  `json:"track_inventory,omitempty"`
}

type CategoryData struct {
	Name         string `json:"name,omitempty"`
	CategoryType string `json:"category_type,omitempty"`
	IsTopLevel   *bool  `json:"is_top_level,omitempty"`
}

type TaxData struct {
	Name                   string `json:"name,omitempty"`
	CalculationPhase       string `json:"calculation_phase,omitempty"`
	InclusionType          string `json:"inclusion_type,omitempty"`
	Percentage             string `json:"percentage,omitempty"`
	AppliesToCustomAmounts *bool  `json:"applies_to_custom_amounts,omitempty"`
	Enabled                *bool  `json:"enabled,omitempty"`
}

type DiscountData struct {
	Name         string `json:"name,omitempty"`
	DiscountType string `json:"discount_type,omitempty"`
	Percentage   string `json:"percentage,omitempty"`
	AmountMoney  *Money `json:"amount_money,omitempty"`
	PinRequired  *bool  `json:"pin_required,omitempty"`
}

type ModifierData struct {
	Name           string `json:"name,omitempty"`
	PriceMoney     *Money `json:"price_money,omitempty"`
	Ordinal        int64  `json:"ordinal,omitempty"`
	ModifierListID string `json:"modifier_list_id,omitempty"`
}

type ModifierListData struct {
	Name          string           `json:"name,omitempty"`
	Ordinal       int64            `json:"ordinal,omitempty"`
	SelectionType string           `json:"selection_type,omitempty"`
	Modifiers     []*CatalogObject `json:"modifiers,omitempty"`
}

type ImageData struct {
	Name    string `json:"name,omitempty"`
	URL     string `json:"url,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Name returns the display name carried by whichever payload is populated.
func (o *CatalogObject) Name() string {
	switch {
	case o.ItemData != nil:
		return o.ItemData.Name
	case o.ItemVariationData != nil:
		return o.ItemVariationData.Name
	case o.CategoryData != nil:
		return o.CategoryData.Name
	case o.TaxData != nil:
		return o.TaxData.Name
	case o.DiscountData != nil:
		return o.DiscountData.Name
	case o.ModifierData != nil:
		return o.ModifierData.Name
	case o.ModifierListData != nil:
		return o.ModifierListData.Name
	case o.ImageData != nil:
		return o.ImageData.Name
	}
	return ""
}

// HasPayload reports whether the payload matching Type is populated.
func (o *CatalogObject) HasPayload() bool {
	switch o.Type {
	case TypeItem:
		return o.ItemData != nil
	case TypeItemVariation:
		return o.ItemVariationData != nil
	case TypeCategory:
		return o.CategoryData != nil
	case TypeTax:
		return o.TaxData != nil
	case TypeDiscount:
		return o.DiscountData != nil
	case TypeModifier:
		return o.ModifierData != nil
	case TypeModifierList:
		return o.ModifierListData != nil
	case TypeImage:
		return o.ImageData != nil
	}
	return false
}

// Variations returns the embedded variations of an ITEM, or nil.
func (o *CatalogObject) Variations() []*CatalogObject {
	if o.ItemData == nil {
		return nil
	}
	return o.ItemData.Variations
}

// Clone returns a deep copy of o.
func (o *CatalogObject) Clone() *CatalogObject {
	if o == nil {
		return nil
	}
	raw, err := json.Marshal(o)
	if err != nil {
		panic(fmt.Sprintf("catalog: clone %s: %v", o.ID, err))
	}
	var c CatalogObject
	if err := json.Unmarshal(raw, &c); err != nil {
		panic(fmt.Sprintf("catalog: clone %s: %v", o.ID, err))
	}
	return &c
}
