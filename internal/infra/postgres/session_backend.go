package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"training-sync-service/internal/domain"
	"training-sync-service/internal/infra/schema"
)

// SessionBackend is the Postgres durable backend over the sessions,
// participants and scores tables.
type SessionBackend struct {
	pool  *pgxpool.Pool
	clock func() time.Time
}

func NewSessionBackend(pool *pgxpool.Pool) *SessionBackend {
	return &SessionBackend{pool: pool, clock: time.Now}
}

func (b *SessionBackend) SaveSession(ctx context.Context, session domain.Session) error {
	state, err := json.Marshal(session.State)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO sessions (code, state, created_at, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		session.Code, state, time.UnixMilli(session.CreatedAt).UTC(), b.clock().UTC())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (b *SessionBackend) FindSession(ctx context.Context, code string) (domain.Session, bool, error) {
	rows, err := b.query(ctx, `SELECT code, state, created_at, updated_at FROM sessions WHERE code=$1`, code)
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("find session: %w", err)
	}
	if len(rows) == 0 {
		return domain.Session{}, false, nil
	}
	session, err := schema.SessionFromRow(rows[0], b.clock())
	if err != nil {
		return domain.Session{}, false, err
	}
	return session, true, nil
}

func (b *SessionBackend) UpsertParticipant(ctx context.Context, code string, participant domain.Participant) error {
	var name any
	if participant.Name != "" {
		name = participant.Name
	}
	_, err := b.pool.Exec(ctx, `
		INSERT INTO participants (code, participant_id, name, is_host, last_seen) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code, participant_id) DO UPDATE
		SET name = EXCLUDED.name, is_host = EXCLUDED.is_host, last_seen = EXCLUDED.last_seen`,
		code, participant.ID, name, participant.IsHost, time.UnixMilli(participant.LastSeen).UTC())
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func (b *SessionBackend) DeleteParticipant(ctx context.Context, code, participantID string) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM participants WHERE code=$1 AND participant_id=$2`, code, participantID); err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	return nil
}

func (b *SessionBackend) ListParticipants(ctx context.Context, code string) ([]domain.Participant, error) {
	rows, err := b.query(ctx, `
		SELECT participant_id, name, is_host, last_seen FROM participants
		WHERE code=$1 ORDER BY last_seen DESC`, code)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	now := b.clock()
	participants := make([]domain.Participant, 0, len(rows))
	for _, row := range rows {
		participants = append(participants, schema.ParticipantFromRow(row, now))
	}
	return participants, nil
}

func (b *SessionBackend) UpsertScore(ctx context.Context, code string, score domain.ScoreEntry) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO scores (code, participant_id, participant_name, activity, type, score, total, "timestamp")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (code, participant_id, activity, type) DO UPDATE
		SET participant_name = EXCLUDED.participant_name, score = EXCLUDED.score,
		    total = EXCLUDED.total, "timestamp" = EXCLUDED."timestamp"`,
		code, score.ParticipantID, score.ParticipantName, score.Activity, string(score.Type),
		score.Score, score.Total, time.UnixMilli(score.Timestamp).UTC())
	if err != nil {
		return fmt.Errorf("upsert score: %w", err)
	}
	return nil
}

func (b *SessionBackend) ListScores(ctx context.Context, code string) ([]domain.ScoreEntry, error) {
	rows, err := b.query(ctx, `
		SELECT participant_id, participant_name, activity, type, score, total, "timestamp" FROM scores
		WHERE code=$1 ORDER BY "timestamp" DESC`, code)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	now := b.clock()
	scores := make([]domain.ScoreEntry, 0, len(rows))
	for _, row := range rows {
		scores = append(scores, schema.ScoreFromRow(row, now))
	}
	return scores, nil
}

// ClearAll empties the three session tables in one transaction.
func (b *SessionBackend) ClearAll(ctx context.Context) error {
	return b.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		for _, table := range []string{"scores", "participants", "sessions"} {
			if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
}

// query collects every result row keyed by column name.
func (b *SessionBackend) query(ctx context.Context, sql string, args ...any) ([]schema.Row, error) {
	rows, err := b.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []schema.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(schema.Row, len(fields))
		for i, field := range fields {
			row[string(field.Name)] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
