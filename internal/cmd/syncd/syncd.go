// Package syncd parses sync daemon flags and launches the daemon runtime.
package syncd

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/castsync/internal/platform/cmd"
	"github.com/louisbranch/castsync/internal/platform/discovery"
	syncapp "github.com/louisbranch/castsync/internal/services/sync/app"
)

// Config holds sync daemon configuration. Variables are read as
// CASTSYNC_SYNCD_<tag>.
type Config struct {
	Port                   int           `env:"PORT"`
	EventsDBPath           string        `env:"EVENTS_DB_PATH" envDefault:"data/events.db"`
	ProjectionsDBPath      string        `env:"PROJECTIONS_DB_PATH" envDefault:"data/projections.db"`
	TitlesDBPath           string        `env:"TITLES_DB_PATH" envDefault:"data/titles.db"`
	CacheSize              int           `env:"CACHE_SIZE" envDefault:"1024"`
	ProjectionBatchSize    int           `env:"PROJECTION_BATCH_SIZE" envDefault:"256"`
	ProjectionPollInterval time.Duration `env:"PROJECTION_POLL_INTERVAL" envDefault:"500ms"`
	CompactionInterval     time.Duration `env:"COMPACTION_INTERVAL" envDefault:"5m"`
	Retention              time.Duration `env:"RETENTION" envDefault:"1080h"`
	SafetyWindow           time.Duration `env:"SAFETY_WINDOW" envDefault:"744h"`
	DeletionRetention      time.Duration `env:"DELETION_RETENTION" envDefault:"720h"`
	CompactionBatchSize    int           `env:"COMPACTION_BATCH_SIZE" envDefault:"100"`
	DisableCompaction      bool          `env:"DISABLE_COMPACTION"`
	TitlePollInterval      time.Duration `env:"TITLE_POLL_INTERVAL" envDefault:"2s"`
	TitleMaxAttempts       int           `env:"TITLE_MAX_ATTEMPTS" envDefault:"8"`
	TitleRetryBackoff      time.Duration `env:"TITLE_RETRY_BACKOFF" envDefault:"5s"`
	TitleRetryMaxDelay     time.Duration `env:"TITLE_RETRY_MAX_DELAY" envDefault:"5m"`
	TitleFetchTimeout      time.Duration `env:"TITLE_FETCH_TIMEOUT" envDefault:"10s"`
	DisableEnrichment      bool          `env:"DISABLE_ENRICHMENT"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg, entrypoint.ServiceSyncd); err != nil {
		return Config{}, err
	}
	if cfg.Port <= 0 {
		cfg.Port = discovery.GRPCPort(discovery.ServiceSyncd)
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The syncd health gRPC server port")
	fs.StringVar(&cfg.EventsDBPath, "events-db-path", cfg.EventsDBPath, "The event log SQLite database path")
	fs.StringVar(&cfg.ProjectionsDBPath, "projections-db-path", cfg.ProjectionsDBPath, "The read model SQLite database path")
	fs.StringVar(&cfg.TitlesDBPath, "titles-db-path", cfg.TitlesDBPath, "The feed title bbolt database path")
	fs.IntVar(&cfg.CacheSize, "cache-size", cfg.CacheSize, "Streams kept in the router state cache")
	fs.IntVar(&cfg.ProjectionBatchSize, "projection-batch-size", cfg.ProjectionBatchSize, "Events read per projector step")
	fs.DurationVar(&cfg.ProjectionPollInterval, "projection-poll-interval", cfg.ProjectionPollInterval, "Idle projector poll interval")
	fs.DurationVar(&cfg.CompactionInterval, "compaction-interval", cfg.CompactionInterval, "Interval between compaction runs")
	fs.DurationVar(&cfg.Retention, "retention", cfg.Retention, "Age after which streams are checkpointed")
	fs.DurationVar(&cfg.SafetyWindow, "safety-window", cfg.SafetyWindow, "Age below which covered events are kept")
	fs.DurationVar(&cfg.DeletionRetention, "deletion-retention", cfg.DeletionRetention, "Age after which covered deletion events may be pruned")
	fs.IntVar(&cfg.CompactionBatchSize, "compaction-batch-size", cfg.CompactionBatchSize, "Streams compacted per run")
	fs.BoolVar(&cfg.DisableCompaction, "disable-compaction", cfg.DisableCompaction, "Skip periodic compaction")
	fs.DurationVar(&cfg.TitlePollInterval, "title-poll-interval", cfg.TitlePollInterval, "Feed title lookup poll interval")
	fs.IntVar(&cfg.TitleMaxAttempts, "title-max-attempts", cfg.TitleMaxAttempts, "Title lookup attempts before dead-letter")
	fs.DurationVar(&cfg.TitleRetryBackoff, "title-retry-backoff", cfg.TitleRetryBackoff, "Base title lookup retry delay")
	fs.DurationVar(&cfg.TitleRetryMaxDelay, "title-retry-max-delay", cfg.TitleRetryMaxDelay, "Maximum title lookup retry delay")
	fs.DurationVar(&cfg.TitleFetchTimeout, "title-fetch-timeout", cfg.TitleFetchTimeout, "Feed fetch timeout")
	fs.BoolVar(&cfg.DisableEnrichment, "disable-enrichment", cfg.DisableEnrichment, "Skip feed title enrichment")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RuntimeConfig converts cfg for the daemon runtime.
func (cfg Config) RuntimeConfig() syncapp.RuntimeConfig {
	return syncapp.RuntimeConfig{
		Port:                   cfg.Port,
		EventsDBPath:           cfg.EventsDBPath,
		ProjectionsDBPath:      cfg.ProjectionsDBPath,
		TitlesDBPath:           cfg.TitlesDBPath,
		CacheSize:              cfg.CacheSize,
		ProjectionBatchSize:    cfg.ProjectionBatchSize,
		ProjectionPollInterval: cfg.ProjectionPollInterval,
		CompactionInterval:     cfg.CompactionInterval,
		Retention:              cfg.Retention,
		SafetyWindow:           cfg.SafetyWindow,
		DeletionRetention:      cfg.DeletionRetention,
		CompactionBatchSize:    cfg.CompactionBatchSize,
		DisableCompaction:      cfg.DisableCompaction,
		TitlePollInterval:      cfg.TitlePollInterval,
		TitleMaxAttempts:       cfg.TitleMaxAttempts,
		TitleRetryBackoff:      cfg.TitleRetryBackoff,
		TitleRetryMaxDelay:     cfg.TitleRetryMaxDelay,
		TitleFetchTimeout:      cfg.TitleFetchTimeout,
		DisableEnrichment:      cfg.DisableEnrichment,
	}
}

// Run starts the sync daemon.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSyncd, func(ctx context.Context) error {
		return syncapp.Run(ctx, cfg.RuntimeConfig())
	})
}
