package idempotency

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// mockRedisClient is a minimal in-memory redis.Cmdable covering the commands
// the store issues. Unimplemented methods panic through the nil embedded interface.
type mockRedisClient struct {
	redis.Cmdable
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{
		data: make(map[string]string),
		ttls: make(map[string]time.Duration),
	}
}

func (m *mockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = value.(string)
	m.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (m *mockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			delete(m.ttls, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *mockRedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := keys[0]
	expected, _ := args[0].(string)
	if cur, ok := m.data[key]; !ok || cur != expected {
		return redis.NewCmdResult(int64(0), nil)
	}
	switch script {
	case compareAndSwapScript:
		m.data[key] = args[1].(string)
		return redis.NewCmdResult(int64(1), nil)
	case compareAndDeleteScript:
		delete(m.data, key)
		delete(m.ttls, key)
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(nil, redis.Nil)
}

// Scan returns every key matching a trailing-* prefix pattern in a single page.
func (m *mockRedisClient) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(match, "*")
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	cmd := redis.NewScanCmd(ctx, nil)
	cmd.SetVal(keys, 0)
	return cmd
}

func (m *mockRedisClient) ttl(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttls[key]
}
