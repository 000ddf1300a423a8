package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/idempotency"
)

const defaultPrefix = "idem:"

// Keys outlive their logical expiry by this much so the sweeper, not Redis, is
// what removes them and Stats can still report expired entries.
const retentionGrace = 10 * time.Minute

// compareAndSwap replaces KEYS[1] with ARGV[2] only if it still holds ARGV[1].
// The remaining TTL is kept.
const compareAndSwapScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "KEEPTTL")
	return 1
end
return 0
`

// compareAndDelete removes KEYS[1] only if it still holds ARGV[1].
const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Store is a Redis implementation of idempotency.Store. Each entry is a JSON
// string at prefix+token; admission uses SET NX.
type Store struct {
	client redis.Cmdable
	prefix string
}

type Option func(*Store)

// WithPrefix sets the key prefix for entries.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func NewStore(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type entryDoc struct {
	Token       string     `json:"token"`
	Fingerprint string     `json:"fingerprint"`
	Status      string     `json:"status"`
	StatusCode  int        `json:"status_code,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	Body        []byte     `json:"body,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

func toDoc(e idempotency.Entry) entryDoc {
	return entryDoc{
		Token:       string(e.Token),
		Fingerprint: string(e.Fingerprint),
		Status:      string(e.Status),
		StatusCode:  e.Response.StatusCode,
		ContentType: e.Response.ContentType,
		Body:        e.Response.Body,
		CreatedAt:   e.CreatedAt.UTC(),
		CompletedAt: e.CompletedAt,
		ExpiresAt:   e.ExpiresAt.UTC(),
	}
}

func (d entryDoc) entry() idempotency.Entry {
	return idempotency.Entry{
		Token:       idempotency.Token(d.Token),
		Fingerprint: idempotency.Fingerprint(d.Fingerprint),
		Status:      idempotency.Status(d.Status),
		Response: idempotency.Response{
			StatusCode:  d.StatusCode,
			ContentType: d.ContentType,
			Body:        d.Body,
		},
		CreatedAt:   d.CreatedAt.UTC(),
		CompletedAt: d.CompletedAt,
		ExpiresAt:   d.ExpiresAt.UTC(),
	}
}

func (s *Store) key(token idempotency.Token) string {
	return s.prefix + string(token)
}

// load returns the raw stored value alongside the decoded entry so callers can
// make compare-and-swap updates against it.
func (s *Store) load(ctx context.Context, key string) (string, idempotency.Entry, bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", idempotency.Entry{}, false, nil
	}
	if err != nil {
		return "", idempotency.Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var d entryDoc
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return "", idempotency.Entry{}, false, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return raw, d.entry(), true, nil
}

func (s *Store) Get(ctx context.Context, token idempotency.Token) (idempotency.Entry, bool, error) {
	_, e, ok, err := s.load(ctx, s.key(token))
	return e, ok, err
}

func (s *Store) Insert(ctx context.Context, e idempotency.Entry) error {
	b, err := json.Marshal(toDoc(e))
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	ttl := e.ExpiresAt.Sub(e.CreatedAt) + retentionGrace
	ok, err := s.client.SetNX(ctx, s.key(e.Token), string(b), ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return idempotency.ErrAlreadyExists
	}
	return nil
}

func (s *Store) Complete(ctx context.Context, e idempotency.Entry) error {
	key := s.key(e.Token)
	raw, cur, ok, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if !ok || cur.Status != idempotency.StatusProcessing {
		return idempotency.ErrNotFound
	}
	b, err := json.Marshal(toDoc(e))
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	n, err := s.client.Eval(ctx, compareAndSwapScript, []string{key}, raw, string(b)).Int()
	if err != nil {
		return fmt.Errorf("redis complete: %w", err)
	}
	if n == 0 {
		return idempotency.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, token idempotency.Token) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *Store) DeleteIfExpired(ctx context.Context, token idempotency.Token, now time.Time) error {
	_, err := s.deleteIfExpired(ctx, s.key(token), now)
	return err
}

func (s *Store) deleteIfExpired(ctx context.Context, key string, now time.Time) (bool, error) {
	raw, cur, ok, err := s.load(ctx, key)
	if err != nil || !ok || !cur.IsExpired(now) {
		return false, err
	}
	n, err := s.client.Eval(ctx, compareAndDeleteScript, []string{key}, raw).Int()
	if err != nil {
		return false, fmt.Errorf("redis delete expired: %w", err)
	}
	return n > 0, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	err := s.scan(ctx, func(key string) error {
		ok, err := s.deleteIfExpired(ctx, key, now)
		if ok {
			removed++
		}
		return err
	})
	return removed, err
}

func (s *Store) Stats(ctx context.Context, now time.Time) (idempotency.Stats, error) {
	var st idempotency.Stats
	err := s.scan(ctx, func(key string) error {
		_, e, ok, err := s.load(ctx, key)
		if err != nil || !ok {
			return err
		}
		st.Total++
		if e.IsExpired(now) {
			st.Expired++
		}
		switch e.Status {
		case idempotency.StatusProcessing:
			st.Processing++
		case idempotency.StatusCompleted:
			st.Completed++
		}
		return nil
	})
	return st, err
}

func (s *Store) scan(ctx context.Context, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range keys {
			if !strings.HasPrefix(k, s.prefix) {
				continue
			}
			if err := fn(k); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
