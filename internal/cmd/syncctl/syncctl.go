// Package syncctl implements the operational CLI for the sync daemon stores.
package syncctl

import (
	"context"
	"errors"

	entrypoint "github.com/louisbranch/castsync/internal/platform/cmd"
	"github.com/louisbranch/castsync/internal/platform/discovery"
	syncapp "github.com/louisbranch/castsync/internal/services/sync/app"
	"github.com/louisbranch/castsync/internal/services/sync/domain/aggregate"
	"github.com/spf13/cobra"
)

// Config holds syncctl defaults. Variables are read as CASTSYNC_SYNCCTL_<tag>.
type Config struct {
	EventsDBPath      string `env:"EVENTS_DB_PATH" envDefault:"data/events.db"`
	ProjectionsDBPath string `env:"PROJECTIONS_DB_PATH" envDefault:"data/projections.db"`
	TitlesDBPath      string `env:"TITLES_DB_PATH" envDefault:"data/titles.db"`
	Addr              string `env:"ADDR"`
}

// ParseConfig loads Config from the environment. Flags are bound by
// NewRootCommand.
func ParseConfig() (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg, entrypoint.ServiceSyncctl); err != nil {
		return Config{}, err
	}
	cfg.Addr = discovery.OrDefaultGRPCAddr(cfg.Addr, discovery.ServiceSyncd)
	return cfg, nil
}

// Run executes the CLI with args.
func Run(ctx context.Context, cfg Config, args []string) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSyncctl, func(ctx context.Context) error {
		root := NewRootCommand(cfg)
		root.SetArgs(args)
		return root.ExecuteContext(ctx)
	})
}

// NewRootCommand builds the syncctl command tree.
func NewRootCommand(cfg Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Operate the castsync event log and read models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&cfg.EventsDBPath, "events-db-path", cfg.EventsDBPath, "The event log SQLite database path")
	flags.StringVar(&cfg.ProjectionsDBPath, "projections-db-path", cfg.ProjectionsDBPath, "The read model SQLite database path")
	flags.StringVar(&cfg.TitlesDBPath, "titles-db-path", cfg.TitlesDBPath, "The feed title bbolt database path")
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "The syncd gRPC address")

	root.AddCommand(
		newCompactCommand(&cfg),
		newProjectorCommand(&cfg),
		newStreamCommand(&cfg),
		newRouteCommand(&cfg),
		newHealthCommand(&cfg),
	)
	return root
}

// session holds stores opened for one command.
type session struct {
	stores *syncapp.Stores
	core   *syncapp.Core
}

// openSession opens the SQLite stores, and the titles store when withTitles is
// set. The titles store is locked by a running daemon.
func openSession(ctx context.Context, cfg *Config, withTitles bool) (*session, error) {
	commands, events, err := aggregate.NewRegistries()
	if err != nil {
		return nil, err
	}
	paths := syncapp.StorePaths{EventsPath: cfg.EventsDBPath, ProjectionsPath: cfg.ProjectionsDBPath}
	if withTitles {
		paths.TitlesPath = cfg.TitlesDBPath
	}
	stores, err := syncapp.OpenStores(ctx, events, paths)
	if err != nil {
		return nil, err
	}
	core, err := syncapp.NewCore(stores, commands, events, syncapp.RuntimeConfig{DisableEnrichment: !withTitles}, nil)
	if err != nil {
		return nil, errors.Join(err, stores.Close())
	}
	return &session{stores: stores, core: core}, nil
}

func (s *session) Close() error {
	return s.stores.Close()
}
