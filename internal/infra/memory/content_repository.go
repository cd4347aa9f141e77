package memory

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"training-sync-service/internal/content"
)

// ContentRepository caches content documents with TTL to avoid repeated loader hits.
type ContentRepository struct {
	loader content.Loader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedContent
}

type cachedContent struct {
	content   content.Content
	expiresAt time.Time
}

func NewContentRepository(loader content.Loader, ttl time.Duration) *ContentRepository {
	return &ContentRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedContent),
	}
}

func (r *ContentRepository) LoadContent(ctx context.Context, id string) (content.Content, error) {
	if c, ok := r.cached(id, r.clock()); ok {
		return c, nil
	}

	result, err, _ := r.sf.Do(id, func() (interface{}, error) {
		now := r.clock()
		if c, ok := r.cached(id, now); ok {
			return c, nil
		}

		c, err := r.loader.LoadContent(ctx, id)
		if err != nil {
			return content.Content{}, err
		}

		r.mu.Lock()
		r.cache[id] = cachedContent{
			content:   c,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return content.Content{}, err
	}
	return result.(content.Content), nil
}

// Invalidate drops a cached document so the next read reloads it.
func (r *ContentRepository) Invalidate(id string) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

func (r *ContentRepository) cached(id string, now time.Time) (content.Content, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[id]
	if !ok || !entry.expiresAt.After(now) {
		return content.Content{}, false
	}
	return entry.content, true
}

func (r *ContentRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// up to 10% jitter spreads expirations across processes
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticLoader serves content documents from a map (default course, tests).
type StaticLoader struct {
	documents map[string]content.Content
}

func NewStaticLoader(documents map[string]content.Content) *StaticLoader {
	return &StaticLoader{documents: documents}
}

func (l *StaticLoader) LoadContent(_ context.Context, id string) (content.Content, error) {
	if c, ok := l.documents[id]; ok {
		return c, nil
	}
	return content.Content{}, content.ErrContentNotFound
}

// LoadContentFile reads a YAML course description into a StaticLoader under
// content.DefaultID.
func LoadContentFile(path string) (*StaticLoader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content file: %w", err)
	}
	var c content.Content
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse content file: %w", err)
	}
	if len(c.Modules) == 0 {
		return nil, fmt.Errorf("content file %s defines no modules", path)
	}
	return NewStaticLoader(map[string]content.Content{content.DefaultID: c}), nil
}
