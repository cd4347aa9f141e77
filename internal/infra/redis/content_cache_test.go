package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"training-sync-service/internal/content"
	"training-sync-service/internal/infra/memory"
)

func TestContentCacheStoresInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	loader := &countingLoader{
		Loader: memory.NewStaticLoader(map[string]content.Content{
			content.DefaultID: content.Default(),
		}),
	}
	cache := NewContentCache(client, loader, time.Minute)

	doc, err := cache.LoadContent(context.Background(), content.DefaultID)
	if err != nil {
		t.Fatalf("load content: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("trainsync:content:default") {
		t.Fatalf("expected content key in redis")
	}
	if ttl := mr.TTL("trainsync:content:default"); ttl < time.Minute || ttl > 66*time.Second {
		t.Fatalf("expected ttl within jitter bounds, got %s", ttl)
	}

	again, err := cache.LoadContent(context.Background(), content.DefaultID)
	if err != nil {
		t.Fatalf("load content 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if again.FirstSection() != doc.FirstSection() || len(again.Modules) != len(doc.Modules) {
		t.Fatalf("cached document differs from loaded one")
	}
}

func TestContentCacheFallsBackToLoaderWhenRedisIsDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	mr.Close()

	loader := &countingLoader{
		Loader: memory.NewStaticLoader(map[string]content.Content{
			content.DefaultID: content.Default(),
		}),
	}
	cache := NewContentCache(client, loader, time.Minute)

	if _, err := cache.LoadContent(context.Background(), content.DefaultID); err != nil {
		t.Fatalf("expected loader result despite redis outage, got %v", err)
	}
}

type countingLoader struct {
	content.Loader
	calls int
}

func (l *countingLoader) LoadContent(ctx context.Context, id string) (content.Content, error) {
	l.calls++
	return l.Loader.LoadContent(ctx, id)
}
