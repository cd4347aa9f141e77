package redis

import (
	"sort"

	"training-sync-service/internal/domain"
)

// Hash iteration order is random; present freshest records first like the SQL backend.
func sortParticipantsByLastSeen(participants []domain.Participant) {
	sort.SliceStable(participants, func(i, j int) bool {
		if participants[i].LastSeen != participants[j].LastSeen {
			return participants[i].LastSeen > participants[j].LastSeen
		}
		return participants[i].ID < participants[j].ID
	})
}

func sortScoresByTimestamp(scores []domain.ScoreEntry) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Timestamp != scores[j].Timestamp {
			return scores[i].Timestamp > scores[j].Timestamp
		}
		return scores[i].ParticipantID < scores[j].ParticipantID
	})
}
