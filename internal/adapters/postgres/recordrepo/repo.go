package recordrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/postgres"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/domain"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/recordrepo"
)

const recordColumns = `id, sku, title, status, brand, category, created_at`

// Repo is a Postgres implementation of recordrepo.Repository.
//
// created_at comes from the database's now() so every instance writing to the
// same table shares one clock for the listing order key.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) Create(ctx context.Context, in recordrepo.NewRecord) (domain.Record, error) {
	if r.pool == nil {
		return domain.Record{}, errors.New("nil postgres pool")
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO records (sku, title, status, brand, category)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING `+recordColumns,
		in.SKU,
		in.Title,
		string(in.Status),
		in.Brand,
		in.Category,
	)
	rec, err := scanRecord(row)
	if err != nil {
		if postgres.IsUniqueViolation(err, postgres.RecordsSKUUniqueConstraint) {
			return domain.Record{}, recordrepo.ErrDuplicateSKU
		}
		return domain.Record{}, err
	}
	return rec, nil
}

func (r *Repo) GetByID(ctx context.Context, id domain.RecordID) (domain.Record, error) {
	if r.pool == nil {
		return domain.Record{}, errors.New("nil postgres pool")
	}
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, int64(id))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, recordrepo.ErrNotFound
		}
		return domain.Record{}, err
	}
	return rec, nil
}

func (r *Repo) ExistsBySKU(ctx context.Context, sku string) (bool, error) {
	if r.pool == nil {
		return false, errors.New("nil postgres pool")
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM records WHERE sku = $1)`, sku).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *Repo) List(ctx context.Context, q recordrepo.ListQuery) ([]domain.Record, error) {
	if r.pool == nil {
		return nil, errors.New("nil postgres pool")
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.Filter.Status != nil {
		where = append(where, "status = "+arg(string(*q.Filter.Status)))
	}
	if q.Filter.Brand != nil {
		where = append(where, "brand = "+arg(*q.Filter.Brand))
	}
	if q.Filter.Category != nil {
		where = append(where, "category = "+arg(*q.Filter.Category))
	}
	if q.After != nil {
		where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(q.After.CreatedAt.UTC()), arg(int64(q.After.ID))))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + recordColumns + ` FROM records`)
	if len(where) > 0 {
		sb.WriteString(` WHERE ` + strings.Join(where, " AND "))
	}
	sb.WriteString(` ORDER BY created_at DESC, id DESC`)
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ` + arg(q.Limit))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var (
		rec    domain.Record
		id     int64
		status string
	)
	if err := row.Scan(&id, &rec.SKU, &rec.Title, &status, &rec.Brand, &rec.Category, &rec.CreatedAt); err != nil {
		return domain.Record{}, err
	}
	rec.ID = domain.RecordID(id)
	rec.Status = domain.RecordStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}
