package recordrepo

import (
	"context"
	"sort"
	"sync"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/domain"
	clockport "github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/clock"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/recordrepo"
)

// Repo is an in-memory implementation of recordrepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu  sync.RWMutex
	clk clockport.Clock

	nextID domain.RecordID
	byID   map[domain.RecordID]domain.Record
	bySKU  map[string]domain.RecordID
}

func NewRepo(clk clockport.Clock) *Repo {
	return &Repo{
		clk:   clk,
		byID:  make(map[domain.RecordID]domain.Record),
		bySKU: make(map[string]domain.RecordID),
	}
}

func (r *Repo) Create(ctx context.Context, in recordrepo.NewRecord) (domain.Record, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bySKU[in.SKU]; ok {
		return domain.Record{}, recordrepo.ErrDuplicateSKU
	}
	r.nextID++
	rec := domain.Record{
		ID:        r.nextID,
		SKU:       in.SKU,
		Title:     in.Title,
		Status:    in.Status,
		Brand:     cloneStringPtr(in.Brand),
		Category:  cloneStringPtr(in.Category),
		CreatedAt: r.clk.Now().UTC(),
	}
	r.byID[rec.ID] = rec
	r.bySKU[rec.SKU] = rec.ID
	return cloneRecord(rec), nil
}

func (r *Repo) GetByID(ctx context.Context, id domain.RecordID) (domain.Record, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return domain.Record{}, recordrepo.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (r *Repo) ExistsBySKU(ctx context.Context, sku string) (bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySKU[sku]
	return ok, nil
}

func (r *Repo) List(ctx context.Context, q recordrepo.ListQuery) ([]domain.Record, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Record, 0)
	for _, rec := range r.byID {
		if !q.Filter.Matches(rec) {
			continue
		}
		if q.After != nil && !recordrepo.Before(rec, *q.After) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sortByCreatedAtDesc(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Insert stores a record with a caller-chosen CreatedAt. Tests use it to seed
// rows that share timestamps or predate the clock.
func (r *Repo) Insert(rec domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySKU[rec.SKU]; ok {
		return recordrepo.ErrDuplicateSKU
	}
	if rec.ID == 0 {
		r.nextID++
		rec.ID = r.nextID
	} else if rec.ID > r.nextID {
		r.nextID = rec.ID
	}
	r.byID[rec.ID] = cloneRecord(rec)
	r.bySKU[rec.SKU] = rec.ID
	return nil
}

func sortByCreatedAtDesc(rs []domain.Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].ID > rs[j].ID
		}
		return rs[i].CreatedAt.After(rs[j].CreatedAt)
	})
}

func cloneRecord(rec domain.Record) domain.Record {
	out := rec
	out.Brand = cloneStringPtr(rec.Brand)
	out.Category = cloneStringPtr(rec.Category)
	return out
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
