package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks client-side placeholder IDs the remote replaces on first write.
const TempIDPrefix = "#"

func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// NewIdempotencyKey returns a fresh key for one logical remote write.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// VersionFromTimestamp derives a version from a server timestamp. The remote's
// versions are the write time in microseconds, so this keeps tombstones ordered
// after the last known write.
func VersionFromTimestamp(ts string) int64 {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return 0
	}
	return t.UnixMicro()
}

// Explode returns the sub-entities embedded in obj (item variations, modifiers)
// as independent objects. Each child inherits the parent's location fields and
// is back-filled with the parent ID. obj itself is not modified.
func Explode(obj *CatalogObject) []*CatalogObject {
	var children []*CatalogObject
	switch {
	case obj.ItemData != nil:
		for _, v := range obj.ItemData.Variations {
			if v == nil {
				continue
			}
			child := *v
			if child.Type == "" {
				child.Type = TypeItemVariation
			}
			inheritLocations(&child, obj)
			if child.ItemVariationData != nil {
				vd := *child.ItemVariationData
				if vd.ItemID == "" {
					vd.ItemID = obj.ID
				}
				child.ItemVariationData = &vd
			}
			children = append(children, &child)
		}
	case obj.ModifierListData != nil:
		for _, m := range obj.ModifierListData.Modifiers {
			if m == nil {
				continue
			}
			child := *m
			if child.Type == "" {
				child.Type = TypeModifier
			}
			inheritLocations(&child, obj)
			if child.ModifierData != nil {
				md := *child.ModifierData
				if md.ModifierListID == "" {
					md.ModifierListID = obj.ID
				}
				child.ModifierData = &md
			}
			children = append(children, &child)
		}
	}
	return children
}

func inheritLocations(child, parent *CatalogObject) {
	child.PresentAtAllLocations = parent.PresentAtAllLocations
	child.PresentAtLocationIDs = append([]string(nil), parent.PresentAtLocationIDs...)
	child.AbsentAtLocationIDs = append([]string(nil), parent.AbsentAtLocationIDs...)
}
