package idempotency

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/contracttest"
	idempotencyport "github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/idempotency"
)

func TestContract_RedisIdempotencyStore_Mock(t *testing.T) {
	contracttest.RunIdempotencyStore(t, func(t *testing.T) (idempotencyport.Store, func()) {
		t.Helper()
		return NewStore(newMockRedisClient()), nil
	})
}

func TestContract_RedisIdempotencyStore_Live(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping live redis test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	prefix := "test:idem:" + strings.ReplaceAll(t.Name(), "/", "_") + ":" + time.Now().Format("150405.000000") + ":"
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), prefix+"*").Result()
		if len(keys) > 0 {
			_ = client.Del(context.Background(), keys...).Err()
		}
		_ = client.Close()
	})

	contracttest.RunIdempotencyStore(t, func(t *testing.T) (idempotencyport.Store, func()) {
		t.Helper()
		return NewStore(client, WithPrefix(prefix)), nil
	})
}

func TestStore_InsertSetsKeyTTLPastExpiry(t *testing.T) {
	t.Parallel()

	mock := newMockRedisClient()
	s := NewStore(mock, WithPrefix("x:"))
	now := time.Unix(1_700_000_000, 0).UTC()

	if err := s.Insert(context.Background(), idempotencyport.NewEntry("tok", "fp", now, time.Hour)); err != nil {
		t.Fatalf("Insert() err=%v", err)
	}
	if got, want := mock.ttl("x:tok"), time.Hour+retentionGrace; got != want {
		t.Fatalf("ttl=%v, want %v", got, want)
	}
}

func TestStore_CompleteRejectsCompletedEntry(t *testing.T) {
	t.Parallel()

	s := NewStore(newMockRedisClient())
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	e := idempotencyport.NewEntry("tok", "fp", now, time.Hour)
	if err := s.Insert(ctx, e); err != nil {
		t.Fatalf("Insert() err=%v", err)
	}
	first := e.Complete(idempotencyport.Response{StatusCode: 201, Body: []byte("first")}, now)
	if err := s.Complete(ctx, first); err != nil {
		t.Fatalf("Complete() err=%v", err)
	}
	second := e.Complete(idempotencyport.Response{StatusCode: 500, Body: []byte("second")}, now)
	if err := s.Complete(ctx, second); !errors.Is(err, idempotencyport.ErrNotFound) {
		t.Fatalf("second Complete() err=%v, want ErrNotFound", err)
	}
	got, _, _ := s.Get(ctx, "tok")
	if string(got.Response.Body) != "first" {
		t.Fatalf("stored body=%q, want first", got.Response.Body)
	}
}
