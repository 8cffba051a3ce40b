package crud

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"catalog-sync-service/internal/catalog"
	"catalog-sync-service/internal/store"
)

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("notblank", validateNotBlank)
	return &Validator{validate: v}
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// ValidateItem checks req's shape, then that every referenced category and
// tax exists in the local store.
func (v *Validator) ValidateItem(ctx context.Context, st store.Store, req *ItemRequest) error {
	if req == nil {
		return &catalog.ValidationError{Field: "item", Message: "request body is required"}
	}
	if err := v.validate.Struct(req); err != nil {
		return toValidationError(err)
	}

	seen := make(map[string]bool)
	for i, vr := range req.Variations {
		if vr.ID == "" {
			continue
		}
		if seen[vr.ID] {
			return &catalog.ValidationError{
				Field:   fmt.Sprintf("variations[%d].id", i),
				Message: "duplicate variation id",
			}
		}
		seen[vr.ID] = true
	}
	for i, vr := range req.Variations {
		if vr.PriceAmount != nil && vr.Currency == "" {
			return &catalog.ValidationError{
				Field:   fmt.Sprintf("variations[%d].currency", i),
				Message: "is required with a price",
			}
		}
	}

	if req.CategoryID != "" {
		if err := requireLocal(ctx, st, req.CategoryID, catalog.TypeCategory, "category_id"); err != nil {
			return err
		}
	}
	for i, id := range req.TaxIDs {
		if err := requireLocal(ctx, st, id, catalog.TypeTax, fmt.Sprintf("tax_ids[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

func requireLocal(ctx context.Context, st store.Store, id string, typ catalog.ObjectType, field string) error {
	obj, found, err := st.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up %s %s: %w", typ, id, err)
	}
	if !found || obj.IsDeleted || obj.Type != typ {
		return &catalog.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("unknown %s %q", strings.ToLower(string(typ)), id),
		}
	}
	return nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &catalog.ValidationError{Field: "item", Message: err.Error()}
	}
	fe := verrs[0]
	return &catalog.ValidationError{
		Field:   fieldPath(fe),
		Message: describe(fe),
	}
}

// fieldPath turns "ItemRequest.Variations[0].Name" into "variations[0].name".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("needs at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "numeric":
		return "must contain digits only"
	case "uppercase":
		return "must be upper case"
	case "excludes":
		return "must not be a temporary id"
	}
	return "is invalid"
}

// FormatValidationError renders err as a field → message map for API responses.
func FormatValidationError(err error) map[string]string {
	var ve *catalog.ValidationError
	if errors.As(err, &ve) {
		return map[string]string{ve.Field: ve.Message}
	}
	return map[string]string{"error": "Invalid request"}
}
