package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"training-sync-service/internal/content"
)

// ContentLoader loads course JSONB from Postgres.
type ContentLoader struct {
	pool *pgxpool.Pool
}

func NewContentLoader(pool *pgxpool.Pool) *ContentLoader {
	return &ContentLoader{pool: pool}
}

func (l *ContentLoader) LoadContent(ctx context.Context, id string) (content.Content, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM training_content WHERE id=$1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return content.Content{}, content.ErrContentNotFound
	}
	if err != nil {
		return content.Content{}, fmt.Errorf("load content: %w", err)
	}
	var doc content.Content
	if err := json.Unmarshal(raw, &doc); err != nil {
		return content.Content{}, fmt.Errorf("unmarshal content: %w", err)
	}
	return doc, nil
}

// SaveContent stores or replaces a course document.
func (l *ContentLoader) SaveContent(ctx context.Context, id string, doc content.Content) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO training_content (id, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`, id, raw)
	if err != nil {
		return fmt.Errorf("save content: %w", err)
	}
	return nil
}

// FallbackLoader tries primary first and serves fallback when primary has no
// document for the id or cannot be reached.
type FallbackLoader struct {
	Primary  content.Loader
	Fallback content.Loader
	Logger   *zap.Logger // nil disables the unreachable warning
}

func (l FallbackLoader) LoadContent(ctx context.Context, id string) (content.Content, error) {
	doc, err := l.Primary.LoadContent(ctx, id)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, content.ErrContentNotFound) && l.Logger != nil {
		l.Logger.Warn("content backend unreachable, serving fallback course",
			zap.String("content_id", id),
			zap.Error(err))
	}
	return l.Fallback.LoadContent(ctx, id)
}
