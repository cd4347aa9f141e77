package syncclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"training-sync-service/internal/domain"
)

// RoomTTL is how long an untouched local room survives cleanup.
const RoomTTL = time.Hour

// localRoom is a published state in the shared local database.
type localRoom struct {
	Code        string `gorm:"primaryKey;size:16"`
	StateJSON   string `gorm:"type:text;not null"`
	OpenedAt    int64  `gorm:"not null"`
	PublishedAt int64  `gorm:"not null;index"`
}

func (localRoom) TableName() string { return "local_rooms" }

// localPresence is one client's heartbeat in a local room.
type localPresence struct {
	Code     string `gorm:"primaryKey;size:16"`
	ID       string `gorm:"primaryKey;size:190"`
	Name     string
	IsHost   bool
	LastSeen int64 `gorm:"not null;index"`
}

func (localPresence) TableName() string { return "local_presence" }

// localScore is one ledger slot of a local room, keyed like the server ledger.
type localScore struct {
	Code            string `gorm:"primaryKey;size:16"`
	ParticipantID   string `gorm:"primaryKey;size:190"`
	Activity        string `gorm:"primaryKey;size:190"`
	Type            string `gorm:"primaryKey;size:16"`
	ParticipantName string
	Score           int
	Total           int
	Timestamp       int64 `gorm:"not null;index"`
}

func (localScore) TableName() string { return "local_scores" }

// LocalRoom is the single-machine fallback used when the session service is
// unreachable or disabled. Every client opening the same database file sees
// the same rooms; nothing leaves the machine.
type LocalRoom struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// OpenLocalRoom opens (or creates) the shared fallback database at path.
func OpenLocalRoom(path string, logger *zap.Logger) (*LocalRoom, error) {
	if path == "" {
		return nil, fmt.Errorf("local room path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&localRoom{}, &localPresence{}, &localScore{}); err != nil {
		return nil, err
	}
	return &LocalRoom{db: db, clock: time.Now, logger: logger}, nil
}

// Close releases the database handle.
func (r *LocalRoom) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create allocates a fresh room code and publishes initial under it.
func (r *LocalRoom) Create(initial domain.PresentationState) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := domain.NewCode()
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(initial)
		if err != nil {
			return "", fmt.Errorf("encode state: %w", err)
		}
		now := r.clock().UnixMilli()
		result := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&localRoom{
			Code:        code,
			StateJSON:   string(data),
			OpenedAt:    now,
			PublishedAt: now,
		})
		if result.Error != nil {
			return "", result.Error
		}
		if result.RowsAffected == 1 {
			return code, nil
		}
	}
	return "", fmt.Errorf("allocate local room code: too many collisions")
}

// Publish replaces the state held for code.
func (r *LocalRoom) Publish(code string, state domain.PresentationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	now := r.clock().UnixMilli()
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"state_json", "published_at"}),
	}).Create(&localRoom{
		Code:        code,
		StateJSON:   string(data),
		OpenedAt:    now,
		PublishedAt: now,
	}).Error
}

// Read returns the state published for code.
func (r *LocalRoom) Read(code string) (domain.PresentationState, bool, error) {
	var room localRoom
	err := r.db.Where("code = ?", code).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.PresentationState{}, false, nil
	}
	if err != nil {
		return domain.PresentationState{}, false, err
	}
	var state domain.PresentationState
	if err := json.Unmarshal([]byte(room.StateJSON), &state); err != nil {
		return domain.PresentationState{}, false, fmt.Errorf("decode local state: %w", err)
	}
	return state.Clone(), true, nil
}

// Heartbeat upserts participant's record in code, stamping lastSeen.
func (r *LocalRoom) Heartbeat(code string, participant domain.Participant) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "is_host", "last_seen"}),
	}).Create(&localPresence{
		Code:     code,
		ID:       participant.ID,
		Name:     participant.Name,
		IsHost:   participant.IsHost,
		LastSeen: r.clock().UnixMilli(),
	}).Error
}

// Leave removes participantID from code.
func (r *LocalRoom) Leave(code, participantID string) error {
	return r.db.Where("code = ? AND id = ?", code, participantID).Delete(&localPresence{}).Error
}

// RecordScore stores entry in code's ledger, replacing any entry with the
// same (participant, activity, type) key.
func (r *LocalRoom) RecordScore(code string, entry domain.ScoreEntry) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}, {Name: "participant_id"}, {Name: "activity"}, {Name: "type"}},
		DoUpdates: clause.AssignmentColumns([]string{"participant_name", "score", "total", "timestamp"}),
	}).Create(&localScore{
		Code:            code,
		ParticipantID:   entry.ParticipantID,
		Activity:        entry.Activity,
		Type:            string(entry.Type),
		ParticipantName: entry.ParticipantName,
		Score:           entry.Score,
		Total:           entry.Total,
		Timestamp:       entry.Timestamp,
	}).Error
}

// ListScores returns code's ledger, newest first.
func (r *LocalRoom) ListScores(code string) ([]domain.ScoreEntry, error) {
	var rows []localScore
	if err := r.db.Where("code = ?", code).Order("timestamp DESC").Order("participant_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	scores := make([]domain.ScoreEntry, 0, len(rows))
	for _, row := range rows {
		scores = append(scores, domain.ScoreEntry{
			ParticipantID:   row.ParticipantID,
			ParticipantName: row.ParticipantName,
			Activity:        row.Activity,
			Score:           row.Score,
			Total:           row.Total,
			Timestamp:       row.Timestamp,
			Type:            domain.ScoreType(row.Type),
		})
	}
	return scores, nil
}

// Count returns the participants of code seen within window and prunes the
// rest.
func (r *LocalRoom) Count(code string, window time.Duration) (int, error) {
	cutoff := r.clock().Add(-window).UnixMilli()
	if err := r.db.Where("code = ? AND last_seen <= ?", code, cutoff).Delete(&localPresence{}).Error; err != nil {
		return 0, err
	}
	var active int64
	if err := r.db.Model(&localPresence{}).Where("code = ?", code).Count(&active).Error; err != nil {
		return 0, err
	}
	return int(active), nil
}

// Cleanup deletes rooms untouched for longer than ttl, with their presence
// and score records.
func (r *LocalRoom) Cleanup(ttl time.Duration) (int64, error) {
	cutoff := r.clock().Add(-ttl).UnixMilli()
	var removed int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&localRoom{}).Select("code").Where("published_at < ?", cutoff)
		if err := tx.Where("code IN (?)", stale).Delete(&localPresence{}).Error; err != nil {
			return err
		}
		if err := tx.Where("code IN (?)", stale).Delete(&localScore{}).Error; err != nil {
			return err
		}
		result := tx.Where("published_at < ?", cutoff).Delete(&localRoom{})
		removed = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.logger.Debug("local rooms cleaned up", zap.Int64("removed", removed))
	}
	return removed, nil
}
