package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"training-sync-service/internal/domain"
	"training-sync-service/internal/infra/schema"
)

const keyPrefix = "trainsync:session:"

// SessionBackend is the Redis durable backend. Layout:
//
//	trainsync:session:{code}               JSON session row (code, state, created_at, updated_at)
//	trainsync:session:{code}:participants  HASH participant_id -> JSON participant row
//	trainsync:session:{code}:scores        HASH ["participant_id","activity","type"] -> JSON score row
//
// The roster hash expires rosterTTL after the last heartbeat, so abandoned
// rosters are pruned by Redis itself.
type SessionBackend struct {
	client    *redis.Client
	rosterTTL time.Duration
	clock     func() time.Time
}

func NewSessionBackend(client *redis.Client, rosterTTL time.Duration) *SessionBackend {
	return &SessionBackend{
		client:    client,
		rosterTTL: rosterTTL,
		clock:     time.Now,
	}
}

func (b *SessionBackend) SaveSession(ctx context.Context, session domain.Session) error {
	row, err := schema.SessionRow(session, b.clock())
	if err != nil {
		return err
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode session row: %w", err)
	}
	return b.client.Set(ctx, b.sessionKey(session.Code), data, 0).Err()
}

func (b *SessionBackend) FindSession(ctx context.Context, code string) (domain.Session, bool, error) {
	data, err := b.client.Get(ctx, b.sessionKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	row, err := decodeRow(data)
	if err != nil {
		return domain.Session{}, false, err
	}
	session, err := schema.SessionFromRow(row, b.clock())
	if err != nil {
		return domain.Session{}, false, err
	}
	session.Code = code
	return session, true, nil
}

func (b *SessionBackend) UpsertParticipant(ctx context.Context, code string, participant domain.Participant) error {
	data, err := json.Marshal(schema.ParticipantRow(code, participant))
	if err != nil {
		return fmt.Errorf("encode participant row: %w", err)
	}
	key := b.participantsKey(code)
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, key, participant.ID, data)
	if b.rosterTTL > 0 {
		pipe.Expire(ctx, key, b.rosterTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (b *SessionBackend) DeleteParticipant(ctx context.Context, code, participantID string) error {
	return b.client.HDel(ctx, b.participantsKey(code), participantID).Err()
}

func (b *SessionBackend) ListParticipants(ctx context.Context, code string) ([]domain.Participant, error) {
	values, err := b.client.HGetAll(ctx, b.participantsKey(code)).Result()
	if err != nil {
		return nil, err
	}
	now := b.clock()
	participants := make([]domain.Participant, 0, len(values))
	for _, raw := range values {
		row, err := decodeRow([]byte(raw))
		if err != nil {
			return nil, err
		}
		participants = append(participants, schema.ParticipantFromRow(row, now))
	}
	sortParticipantsByLastSeen(participants)
	return participants, nil
}

func (b *SessionBackend) UpsertScore(ctx context.Context, code string, score domain.ScoreEntry) error {
	data, err := json.Marshal(schema.ScoreRow(code, score))
	if err != nil {
		return fmt.Errorf("encode score row: %w", err)
	}
	return b.client.HSet(ctx, b.scoresKey(code), scoreField(score), data).Err()
}

func (b *SessionBackend) ListScores(ctx context.Context, code string) ([]domain.ScoreEntry, error) {
	values, err := b.client.HGetAll(ctx, b.scoresKey(code)).Result()
	if err != nil {
		return nil, err
	}
	now := b.clock()
	scores := make([]domain.ScoreEntry, 0, len(values))
	for _, raw := range values {
		row, err := decodeRow([]byte(raw))
		if err != nil {
			return nil, err
		}
		scores = append(scores, schema.ScoreFromRow(row, now))
	}
	sortScoresByTimestamp(scores)
	return scores, nil
}

// ClearAll deletes every session, roster and ledger key.
func (b *SessionBackend) ClearAll(ctx context.Context) error {
	iter := b.client.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := b.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return b.client.Del(ctx, batch...).Err()
	}
	return nil
}

func (b *SessionBackend) sessionKey(code string) string {
	return keyPrefix + code
}

func (b *SessionBackend) participantsKey(code string) string {
	return keyPrefix + code + ":participants"
}

func (b *SessionBackend) scoresKey(code string) string {
	return keyPrefix + code + ":scores"
}

// scoreField encodes the ledger key as a JSON array so ids containing any
// separator still map to distinct fields.
func scoreField(score domain.ScoreEntry) string {
	key := score.Key()
	field, _ := json.Marshal([]string{key.ParticipantID, key.Activity, string(key.Type)})
	return string(field)
}

func decodeRow(data []byte) (schema.Row, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	row := schema.Row{}
	if err := decoder.Decode(&row); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return row, nil
}
