package cli

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"training-sync-service/internal/app"
	"training-sync-service/internal/config"
	"training-sync-service/internal/content"
	"training-sync-service/internal/infra/memory"
	"training-sync-service/internal/infra/postgres"
	redisbackend "training-sync-service/internal/infra/redis"
	"training-sync-service/internal/store"
)

const (
	driverPostgres = "postgres"
	driverRedis    = "redis"

	defaultContentTTL = 10 * time.Minute
	defaultRosterTTL  = 24 * time.Hour
)

// backends holds the optional external connections a process opened.
type backends struct {
	pool        *pgxpool.Pool
	redisClient *redis.Client
	durable     store.Durable
}

func (b *backends) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.redisClient != nil {
		_ = b.redisClient.Close()
	}
}

// openBackends connects the durable backend when both its URL and credential
// are configured. Otherwise it returns an empty set and the process runs on
// the in-process store alone.
func openBackends(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{}
	if !cfg.DurableEnabled() {
		logger.Info("durable backend not configured, using in-process store only")
		return b, nil
	}

	switch cfg.DurableDriver() {
	case driverPostgres:
		dsn, err := postgresDSN(cfg.Durable.URL, cfg.Durable.Credential)
		if err != nil {
			return nil, err
		}
		poolConfig, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse postgres config: %w", err)
		}
		// connections open on first use so an unreachable database degrades
		// to the in-process store instead of blocking startup
		poolConfig.LazyConnect = true
		pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.pool = pool
		b.durable = postgres.NewSessionBackend(pool)
	case driverRedis:
		opts, err := redisOptions(cfg.Durable.URL, cfg.Durable.Credential)
		if err != nil {
			return nil, err
		}
		b.redisClient = redis.NewClient(opts)
		rosterTTL := config.TTLDuration(cfg.Durable.RosterTTL, defaultRosterTTL)
		b.durable = redisbackend.NewSessionBackend(b.redisClient, rosterTTL)
	default:
		return nil, fmt.Errorf("unknown durable driver %q", cfg.Durable.Driver)
	}
	logger.Info("durable backend configured", zap.String("driver", cfg.DurableDriver()))
	return b, nil
}

// newStore builds the session store over the opened backends.
func newStore(cfg config.Config, b *backends, logger *zap.Logger, defaultSection string) (*store.Store, error) {
	return store.New(store.Config{
		Memory:         memory.NewSessionStore(),
		Durable:        b.durable,
		Logger:         logger,
		DefaultSection: defaultSection,
		DurableTimeout: config.TTLDuration(cfg.Durable.Timeout, 0),
	})
}

// contentRepository layers the content sources: a configured file or the
// built-in course, then postgres documents when a pool is open, then a
// redis or in-process cache in front.
func contentRepository(cfg config.Config, b *backends, logger *zap.Logger) (app.ContentRepository, error) {
	var base content.Loader = memory.NewStaticLoader(map[string]content.Content{content.DefaultID: content.Default()})
	if cfg.Content.File != "" {
		fileLoader, err := memory.LoadContentFile(cfg.Content.File)
		if err != nil {
			return nil, err
		}
		base = fileLoader
	}

	loader := base
	if b.pool != nil {
		loader = postgres.FallbackLoader{Primary: postgres.NewContentLoader(b.pool), Fallback: base, Logger: logger}
	}

	ttl := config.TTLDuration(cfg.Content.TTL, defaultContentTTL)
	if b.redisClient != nil {
		return redisbackend.NewContentCache(b.redisClient, loader, ttl), nil
	}
	return memory.NewContentRepository(loader, ttl), nil
}

// postgresDSN injects the credential as the connection password.
func postgresDSN(raw, credential string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse postgres url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("postgres url must use the postgres scheme, got %q", u.Scheme)
	}
	user := "postgres"
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, credential)
	return u.String(), nil
}

// redisOptions accepts either a redis:// URL or a bare host:port address.
func redisOptions(raw, credential string) (*redis.Options, error) {
	var opts *redis.Options
	if strings.HasPrefix(raw, "redis://") || strings.HasPrefix(raw, "rediss://") {
		parsed, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: raw}
	}
	opts.Password = credential
	return opts, nil
}
