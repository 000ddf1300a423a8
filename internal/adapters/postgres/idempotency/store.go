package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/postgres"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/idempotency"
)

// Store is a Postgres implementation of idempotency.Store.
// Admission relies on the idempotency_keys primary key.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, token idempotency.Token) (idempotency.Entry, bool, error) {
	if s.pool == nil {
		return idempotency.Entry{}, false, errors.New("nil postgres pool")
	}
	row := s.pool.QueryRow(ctx, `
		SELECT idempotency_key, request_hash, status, status_code, content_type, body,
		       created_at, completed_at, expires_at
		FROM idempotency_keys
		WHERE idempotency_key = $1
	`, string(token))

	var (
		e           idempotency.Entry
		key, hash   string
		status      string
		statusCode  *int32
		contentType *string
	)
	if err := row.Scan(&key, &hash, &status, &statusCode, &contentType, &e.Response.Body, &e.CreatedAt, &e.CompletedAt, &e.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return idempotency.Entry{}, false, nil
		}
		return idempotency.Entry{}, false, err
	}
	e.Token = idempotency.Token(key)
	e.Fingerprint = idempotency.Fingerprint(hash)
	e.Status = idempotency.Status(status)
	if statusCode != nil {
		e.Response.StatusCode = int(*statusCode)
	}
	if contentType != nil {
		e.Response.ContentType = *contentType
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.ExpiresAt = e.ExpiresAt.UTC()
	if e.CompletedAt != nil {
		t := e.CompletedAt.UTC()
		e.CompletedAt = &t
	}
	return e, true, nil
}

func (s *Store) Insert(ctx context.Context, e idempotency.Entry) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, status, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5)
	`,
		string(e.Token),
		string(e.Fingerprint),
		string(e.Status),
		e.CreatedAt.UTC(),
		e.ExpiresAt.UTC(),
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, postgres.IdempotencyKeyPKeyConstraint) {
			return idempotency.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) Complete(ctx context.Context, e idempotency.Entry) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE idempotency_keys
		SET status = $2,
		    status_code = $3,
		    content_type = $4,
		    body = $5,
		    completed_at = $6
		WHERE idempotency_key = $1
		  AND status = 'processing'
	`,
		string(e.Token),
		string(e.Status),
		e.Response.StatusCode,
		e.Response.ContentType,
		e.Response.Body,
		e.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, token idempotency.Token) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE idempotency_key = $1`, string(token))
	return err
}

func (s *Store) DeleteIfExpired(ctx context.Context, token idempotency.Token, now time.Time) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE idempotency_key = $1 AND expires_at < $2`, string(token), now.UTC())
	return err
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if s.pool == nil {
		return 0, errors.New("nil postgres pool")
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Stats(ctx context.Context, now time.Time) (idempotency.Stats, error) {
	if s.pool == nil {
		return idempotency.Stats{}, errors.New("nil postgres pool")
	}
	var total, expired, processing, completed int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE expires_at < $1),
		       count(*) FILTER (WHERE status = 'processing'),
		       count(*) FILTER (WHERE status = 'completed')
		FROM idempotency_keys
	`, now.UTC()).Scan(&total, &expired, &processing, &completed)
	if err != nil {
		return idempotency.Stats{}, err
	}
	return idempotency.Stats{
		Total:      int(total),
		Expired:    int(expired),
		Processing: int(processing),
		Completed:  int(completed),
	}, nil
}
