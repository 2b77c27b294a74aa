package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/castsync/internal/platform/config"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/projection"
	"github.com/louisbranch/castsync/internal/services/sync/storage"
	boltstore "github.com/louisbranch/castsync/internal/services/sync/storage/bbolt"
	sqlitestore "github.com/louisbranch/castsync/internal/services/sync/storage/sqlite"
)

// StorePaths locates the daemon databases. An empty TitlesPath leaves the feed
// title store closed, which callers that only touch the log and SQLite views use
// to avoid the bbolt file lock held by a running daemon.
type StorePaths struct {
	EventsPath      string
	ProjectionsPath string
	TitlesPath      string
}

// Stores holds the opened databases.
type Stores struct {
	Events      *sqlitestore.EventStore
	Projections *sqlitestore.ProjectionStore
	Titles      *boltstore.Store
}

// OpenStores opens every configured database, creating parent directories.
func OpenStores(ctx context.Context, registry *event.Registry, paths StorePaths) (*Stores, error) {
	if strings.TrimSpace(paths.EventsPath) == "" {
		return nil, errors.New("events db path is required")
	}
	if strings.TrimSpace(paths.ProjectionsPath) == "" {
		return nil, errors.New("projections db path is required")
	}
	for _, path := range []string{paths.EventsPath, paths.ProjectionsPath, paths.TitlesPath} {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if err := config.EnsureParentDir(path); err != nil {
			return nil, err
		}
	}

	stores := &Stores{}
	var err error
	if stores.Events, err = sqlitestore.OpenEvents(ctx, paths.EventsPath, registry); err != nil {
		return nil, fmt.Errorf("open events store: %w", err)
	}
	if stores.Projections, err = sqlitestore.OpenProjections(ctx, paths.ProjectionsPath); err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("open projections store: %w", err)
	}
	if strings.TrimSpace(paths.TitlesPath) != "" {
		if stores.Titles, err = boltstore.Open(paths.TitlesPath); err != nil {
			_ = stores.Close()
			return nil, fmt.Errorf("open titles store: %w", err)
		}
	}
	return stores, nil
}

// ProjectionStore returns the store that holds projector's read model.
func (s *Stores) ProjectionStore(projector projection.Projector) (storage.ProjectionStore, error) {
	if projector.ReadModel() == storage.ReadModelFeedTitles {
		if s.Titles == nil {
			return nil, errors.New("titles store is not open")
		}
		return s.Titles, nil
	}
	return s.Projections, nil
}

// Close closes every open database.
func (s *Stores) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Titles != nil {
		errs = append(errs, s.Titles.Close())
	}
	if s.Projections != nil {
		errs = append(errs, s.Projections.Close())
	}
	if s.Events != nil {
		errs = append(errs, s.Events.Close())
	}
	return errors.Join(errs...)
}
