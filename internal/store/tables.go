package store

import (
	"strings"

	"catalog-sync-service/internal/catalog"
)

// table maps one object type onto its table and the derived, indexed columns
// stored next to the JSON snapshot.
type table struct {
	name    string
	columns []string
	values  func(o *catalog.CatalogObject) []any
}

var tables = map[catalog.ObjectType]table{
	catalog.TypeItem: {
		name:    "items",
		columns: []string{"name", "name_lower", "category_id", "description"},
		values: func(o *catalog.CatalogObject) []any {
			d := o.ItemData
			if d == nil {
				d = &catalog.ItemData{}
			}
			return []any{d.Name, strings.ToLower(d.Name), primaryCategory(d), d.Description}
		},
	},
	catalog.TypeItemVariation: {
		name:    "item_variations",
		columns: []string{"item_id", "name", "sku", "upc", "price_amount", "price_currency", "ordinal"},
		values: func(o *catalog.CatalogObject) []any {
			d := o.ItemVariationData
			if d == nil {
				d = &catalog.ItemVariationData{}
			}
			var amount any
			currency := ""
			if d.PriceMoney != nil {
				amount = d.PriceMoney.Amount
				currency = d.PriceMoney.Currency
			}
			return []any{d.ItemID, d.Name, d.SKU, d.UPC, amount, currency, d.Ordinal}
		},
	},
	catalog.TypeCategory: {
		name:    "categories",
		columns: []string{"name"},
		values:  func(o *catalog.CatalogObject) []any { return []any{o.Name()} },
	},
	catalog.TypeTax: {
		name:    "taxes",
		columns: []string{"name", "percentage"},
		values: func(o *catalog.CatalogObject) []any {
			pct := ""
			if o.TaxData != nil {
				pct = o.TaxData.Percentage
			}
			return []any{o.Name(), pct}
		},
	},
	catalog.TypeDiscount: {
		name:    "discounts",
		columns: []string{"name"},
		values:  func(o *catalog.CatalogObject) []any { return []any{o.Name()} },
	},
	catalog.TypeModifier: {
		name:    "modifiers",
		columns: []string{"name", "modifier_list_id"},
		values: func(o *catalog.CatalogObject) []any {
			listID := ""
			if o.ModifierData != nil {
				listID = o.ModifierData.ModifierListID
			}
			return []any{o.Name(), listID}
		},
	},
	catalog.TypeModifierList: {
		name:    "modifier_lists",
		columns: []string{"name"},
		values:  func(o *catalog.CatalogObject) []any { return []any{o.Name()} },
	},
	catalog.TypeImage: {
		name:    "images",
		columns: []string{"name", "url"},
		values: func(o *catalog.CatalogObject) []any {
			url := ""
			if o.ImageData != nil {
				url = o.ImageData.URL
			}
			return []any{o.Name(), url}
		},
	},
}

// tableOrder fixes iteration order for union queries and resets.
var tableOrder = []catalog.ObjectType{
	catalog.TypeItem, catalog.TypeItemVariation, catalog.TypeCategory, catalog.TypeTax,
	catalog.TypeDiscount, catalog.TypeModifier, catalog.TypeModifierList, catalog.TypeImage,
}

func primaryCategory(d *catalog.ItemData) string {
	if d.CategoryID != "" {
		return d.CategoryID
	}
	if len(d.Categories) > 0 {
		return d.Categories[0].ID
	}
	return ""
}

func (t table) upsertSQL() string {
	cols := append([]string{"id", "version", "updated_at", "is_deleted", "present_at_all_locations"}, t.columns...)
	cols = append(cols, "data_json")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return "INSERT OR REPLACE INTO " + t.name + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders + ")"
}

// unionSQL builds one statement selecting expr from every table, filtered by where.
func unionSQL(expr, where string) string {
	parts := make([]string, 0, len(tableOrder))
	for _, typ := range tableOrder {
		parts = append(parts, "SELECT "+expr+" FROM "+tables[typ].name+" WHERE "+where)
	}
	return strings.Join(parts, " UNION ALL ")
}
