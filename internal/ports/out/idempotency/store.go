package idempotency

import (
	"context"
	"errors"
	"time"
)

// Token is the caller-provided idempotency token (Idempotency-Key header).
type Token string

// Fingerprint is the hex SHA-256 digest of the raw request body.
type Fingerprint string

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

var (
	// ErrAlreadyExists is returned by Insert when an entry for the token is already
	// stored. It must come from the store's own uniqueness guarantee.
	ErrAlreadyExists = errors.New("idempotency entry already exists")

	// ErrNotFound is returned by Complete when no processing entry exists for the token.
	ErrNotFound = errors.New("idempotency entry not found")
)

// Response is a captured handler response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Entry is one outstanding or completed at-most-once write attempt.
//
// Entries are created in StatusProcessing via NewEntry and move to StatusCompleted
// only through Complete.
type Entry struct {
	Token       Token
	Fingerprint Fingerprint
	Status      Status

	Response Response

	CreatedAt   time.Time
	CompletedAt *time.Time
	ExpiresAt   time.Time
}

// NewEntry returns a processing entry that expires ttl after now.
func NewEntry(token Token, fp Fingerprint, now time.Time, ttl time.Duration) Entry {
	now = now.UTC()
	return Entry{
		Token:       token,
		Fingerprint: fp,
		Status:      StatusProcessing,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// Complete returns e transitioned to StatusCompleted with the captured response.
func (e Entry) Complete(resp Response, at time.Time) Entry {
	at = at.UTC()
	out := e
	out.Status = StatusCompleted
	out.Response = Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		Body:        append([]byte(nil), resp.Body...),
	}
	out.CompletedAt = &at
	return out
}

// IsExpired reports whether now is past the entry's absolute expiry.
func (e Entry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Stats summarizes the stored entries at a point in time.
type Stats struct {
	Total      int
	Expired    int
	Processing int
	Completed  int
}

// Store persists idempotency entries.
//
// Insert is the admission critical section: implementations must reject a second
// entry for the same token atomically (unique constraint, conditional put, SET NX),
// never with an application-level read-then-write.
type Store interface {
	Get(ctx context.Context, token Token) (Entry, bool, error)
	Insert(ctx context.Context, e Entry) error
	// Complete persists a completed entry over the existing processing one.
	Complete(ctx context.Context, e Entry) error
	Delete(ctx context.Context, token Token) error
	// DeleteIfExpired removes the entry only if it is expired at now. It is a no-op
	// when the entry is missing or still live.
	DeleteIfExpired(ctx context.Context, token Token, now time.Time) error
	// DeleteExpired removes every entry expired at now and reports how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
}
