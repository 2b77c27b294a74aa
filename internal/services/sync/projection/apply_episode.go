package projection

import (
	"github.com/louisbranch/castsync/internal/services/sync/domain/aggregate"
	"github.com/louisbranch/castsync/internal/services/sync/domain/episode"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/storage"
)

// EpisodeProjector maintains the episode progress view.
type EpisodeProjector struct{}

func (EpisodeProjector) Name() string                 { return "episodes" }
func (EpisodeProjector) ReadModel() storage.ReadModel { return storage.ReadModelEpisodes }

func (EpisodeProjector) Project(evt event.Event) ([]storage.Mutation, error) {
	userID, ok := userStream(evt)
	if !ok {
		return nil, nil
	}
	if evt.Type == aggregate.EventTypeCheckpoint {
		state, err := aggregate.RestoreCheckpoint(evt)
		if err != nil {
			return nil, err
		}
		records := make([]storage.EpisodeProgressRecord, 0, len(state.Episodes))
		for _, progress := range state.Episodes {
			records = append(records, progressRecord(userID, progress))
		}
		return []storage.Mutation{storage.ReplaceEpisodeProgress{UserID: userID, Records: records}}, nil
	}

	switch evt.Type {
	case episode.EventTypeActionRecorded:
		payload, err := event.DecodePayload[episode.RecordPayload](evt)
		if err != nil {
			return nil, err
		}
		return []storage.Mutation{storage.PutEpisodeProgress{Record: progressRecord(userID, episode.State{
			EpisodeURL: payload.EpisodeURL,
			FeedURL:    payload.FeedURL,
			Action:     payload.Action,
			Position:   payload.Position,
			Total:      payload.Total,
			DeviceID:   evt.DeviceID,
			UpdatedAt:  evt.Timestamp,
		})}}, nil
	case episode.EventTypeHistoryErased:
		payload, err := event.DecodePayload[episode.EraseHistoryPayload](evt)
		if err != nil {
			return nil, err
		}
		return []storage.Mutation{storage.DeleteFeedProgress{UserID: userID, FeedURL: payload.FeedURL}}, nil
	}
	return nil, nil
}

func progressRecord(userID string, progress episode.State) storage.EpisodeProgressRecord {
	return storage.EpisodeProgressRecord{
		UserID:     userID,
		FeedURL:    progress.FeedURL,
		EpisodeURL: progress.EpisodeURL,
		Action:     string(progress.Action),
		Position:   progress.Position,
		Total:      progress.Total,
		DeviceID:   progress.DeviceID,
		UpdatedAt:  progress.UpdatedAt,
	}
}
