package projection

import (
	"slices"

	"github.com/louisbranch/castsync/internal/services/sync/domain/aggregate"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/playlist"
	"github.com/louisbranch/castsync/internal/services/sync/storage"
)

// PlaylistProjector maintains the playlists view.
type PlaylistProjector struct{}

func (PlaylistProjector) Name() string                 { return "playlists" }
func (PlaylistProjector) ReadModel() storage.ReadModel { return storage.ReadModelPlaylists }

func (PlaylistProjector) Project(evt event.Event) ([]storage.Mutation, error) {
	userID, ok := userStream(evt)
	if !ok {
		return nil, nil
	}
	if evt.Type == aggregate.EventTypeCheckpoint {
		state, err := aggregate.RestoreCheckpoint(evt)
		if err != nil {
			return nil, err
		}
		records := make([]storage.PlaylistRecord, 0, len(state.Playlists))
		for _, list := range state.Playlists {
			records = append(records, storage.PlaylistRecord{
				UserID:     userID,
				PlaylistID: list.ID,
				Name:       list.Name,
				Items:      slices.Clone(list.Items),
				CreatedAt:  list.CreatedAt,
				UpdatedAt:  list.UpdatedAt,
			})
		}
		return []storage.Mutation{storage.ReplacePlaylists{UserID: userID, Records: records}}, nil
	}

	switch evt.Type {
	case playlist.EventTypeCreated:
		payload, err := event.DecodePayload[playlist.CreatePayload](evt)
		if err != nil {
			return nil, err
		}
		return []storage.Mutation{storage.PutPlaylist{Record: storage.PlaylistRecord{
			UserID:     userID,
			PlaylistID: payload.PlaylistID,
			Name:       payload.Name,
			Items:      []string{},
			CreatedAt:  evt.Timestamp,
			UpdatedAt:  evt.Timestamp,
		}}}, nil
	case playlist.EventTypeDeleted:
		payload, err := event.DecodePayload[playlist.DeletePayload](evt)
		if err != nil {
			return nil, err
		}
		return []storage.Mutation{storage.DeletePlaylist{UserID: userID, PlaylistID: payload.PlaylistID}}, nil
	case playlist.EventTypeItemAdded:
		payload, err := event.DecodePayload[playlist.ItemPayload](evt)
		if err != nil {
			return nil, err
		}
		return []storage.Mutation{storage.AddPlaylistItem{
			UserID: userID, PlaylistID: payload.PlaylistID, EpisodeURL: payload.EpisodeURL, UpdatedAt: evt.Timestamp,
		}}, nil
	case playlist.EventTypeItemRemoved:
		payload, err := event.DecodePayload[playlist.ItemPayload](evt)
		if err != nil {
			return nil, err
		}
		return []storage.Mutation{storage.RemovePlaylistItem{
			UserID: userID, PlaylistID: payload.PlaylistID, EpisodeURL: payload.EpisodeURL, UpdatedAt: evt.Timestamp,
		}}, nil
	}
	return nil, nil
}
