package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"training-sync-service/internal/content"
)

// ContentCache caches content documents in Redis and falls back to a loader on miss.
// Documents are stored as: SET trainsync:content:{id} {json}
type ContentCache struct {
	client *redis.Client
	loader content.Loader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewContentCache(client *redis.Client, loader content.Loader, ttl time.Duration) *ContentCache {
	return &ContentCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ContentCache) LoadContent(ctx context.Context, id string) (content.Content, error) {
	if doc, ok := c.cached(ctx, id); ok {
		return doc, nil
	}

	result, err, _ := c.sf.Do(id, func() (interface{}, error) {
		// another caller may have filled it meanwhile
		if doc, ok := c.cached(ctx, id); ok {
			return doc, nil
		}

		doc, err := c.loader.LoadContent(ctx, id)
		if err != nil {
			return content.Content{}, err
		}

		if data, err := json.Marshal(doc); err == nil {
			_ = c.client.Set(ctx, c.key(id), data, c.ttlWithJitter()).Err()
		}
		return doc, nil
	})
	if err != nil {
		return content.Content{}, err
	}
	return result.(content.Content), nil
}

func (c *ContentCache) cached(ctx context.Context, id string) (content.Content, bool) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil || len(data) == 0 {
		return content.Content{}, false
	}
	var doc content.Content
	if err := json.Unmarshal(data, &doc); err != nil {
		return content.Content{}, false
	}
	return doc, true
}

func (c *ContentCache) key(id string) string {
	return "trainsync:content:" + id
}

func (c *ContentCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
