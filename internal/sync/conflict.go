package sync

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"catalog-sync-service/internal/catalog"
)

// Change is what applying a remote object did to the local row.
type Change int

const (
	ChangeUnchanged Change = iota
	ChangeInserted
	ChangeUpdated
	ChangeDeleted
)

func (c Change) String() string {
	switch c {
	case ChangeInserted:
		return "inserted"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	}
	return "unchanged"
}

// classifyChange compares the incoming remote object with the local row.
// The remote always wins; this only decides how the write is counted.
func classifyChange(existing *catalog.CatalogObject, found bool, incoming *catalog.CatalogObject) Change {
	if !found {
		if incoming.IsDeleted {
			return ChangeDeleted
		}
		return ChangeInserted
	}
	if incoming.IsDeleted {
		if existing.IsDeleted {
			return ChangeUnchanged
		}
		return ChangeDeleted
	}
	if existing.IsDeleted {
		return ChangeUpdated
	}
	if existing.Version == incoming.Version && fingerprint(existing) == fingerprint(incoming) {
		return ChangeUnchanged
	}
	return ChangeUpdated
}

func fingerprint(obj *catalog.CatalogObject) string {
	bytes, _ := json.Marshal(obj)
	sum := sha256.Sum256(bytes)
	return fmt.Sprintf("%x", sum)
}

type pageCounts struct {
	objects   int
	items     int
	inserted  int
	updated   int
	deleted   int
	unchanged int
}

func (c *pageCounts) count(ch Change) {
	switch ch {
	case ChangeInserted:
		c.inserted++
	case ChangeUpdated:
		c.updated++
	case ChangeDeleted:
		c.deleted++
	default:
		c.unchanged++
	}
}
