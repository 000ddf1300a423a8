package recordrepo

import (
	"context"
	"time"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/domain"
)

// NewRecord is the insert shape. Status is required; ID and CreatedAt are
// assigned by the store.
type NewRecord struct {
	SKU      string
	Title    string
	Status   domain.RecordStatus
	Brand    *string
	Category *string
}

// Position is a point in the listing order (CreatedAt DESC, ID DESC).
type Position struct {
	CreatedAt time.Time
	ID        domain.RecordID
}

// Filter holds optional equality filters; nil fields are ignored.
type Filter struct {
	Status   *domain.RecordStatus
	Brand    *string
	Category *string
}

// ListQuery selects at most Limit records matching Filter, strictly after After
// in the listing order. A nil After starts from the most recent record.
type ListQuery struct {
	Filter Filter
	After  *Position
	Limit  int
}

// Repository provides access to persisted records.
//
// Every Create is its own committed unit of work. SKU uniqueness is enforced by
// the store, so concurrent creates with the same SKU yield exactly one success and
// ErrDuplicateSKU for the rest.
//
// List must return records ordered by CreatedAt descending, then ID descending.
type Repository interface {
	Create(ctx context.Context, r NewRecord) (domain.Record, error)

	GetByID(ctx context.Context, id domain.RecordID) (domain.Record, error)
	ExistsBySKU(ctx context.Context, sku string) (bool, error)

	List(ctx context.Context, q ListQuery) ([]domain.Record, error)
}

// Before reports whether r sorts strictly after p in the listing order, i.e. it
// would appear on a later page than a cursor positioned at p.
func Before(r domain.Record, p Position) bool {
	if r.CreatedAt.Before(p.CreatedAt) {
		return true
	}
	return r.CreatedAt.Equal(p.CreatedAt) && r.ID < p.ID
}

// Matches reports whether r satisfies every set field of f.
func (f Filter) Matches(r domain.Record) bool {
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Brand != nil && (r.Brand == nil || *r.Brand != *f.Brand) {
		return false
	}
	if f.Category != nil && (r.Category == nil || *r.Category != *f.Category) {
		return false
	}
	return true
}
