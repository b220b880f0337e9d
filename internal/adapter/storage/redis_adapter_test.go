package storage

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisAdapter_Contract(t *testing.T) {
	client := getRedisClient(t)
	adapter := NewRedisAdapter(client, "stockgrid:test:contract")
	defer adapter.Close()
	defer client.Del(context.Background(), "stockgrid:test:contract")

	runCacheContract(t, adapter)
}

func TestRedisAdapter_MissingKey(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	client.Del(ctx, "stockgrid:test:missing")
	adapter := NewRedisAdapter(client, "stockgrid:test:missing")

	items, err := adapter.Load(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no items, got %d", len(items))
	}
}

func TestRedisAdapter_CorruptRecord(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	key := "stockgrid:test:corrupt"
	client.Set(ctx, key, "{not json", 0)
	defer client.Del(ctx, key)

	if _, err := NewRedisAdapter(client, key).Load(ctx); err == nil {
		t.Error("expected decode error")
	}
}
