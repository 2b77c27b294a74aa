package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/castsync/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/castsync/internal/platform/grpc"
	"github.com/louisbranch/castsync/internal/services/sync/compaction"
	"github.com/louisbranch/castsync/internal/services/sync/domain/aggregate"
	"github.com/louisbranch/castsync/internal/services/sync/enrich"
	"github.com/louisbranch/castsync/internal/services/sync/projection"
	"golang.org/x/sync/errgroup"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the health service name of the daemon as a whole.
const HealthService = "castsync.syncd"

const (
	defaultEventsDB        = "data/events.db"
	defaultProjectionsDB   = "data/projections.db"
	defaultTitlesDB        = "data/titles.db"
	defaultCacheSize       = 1024
	defaultTitleFetchLimit = 10 * time.Second
	defaultUserAgent       = "castsync-syncd"
)

// RuntimeConfig controls daemon startup, storage, and loop behavior.
type RuntimeConfig struct {
	Port              int
	EventsDBPath      string
	ProjectionsDBPath string
	TitlesDBPath      string
	CacheSize         int

	ProjectionBatchSize    int
	ProjectionPollInterval time.Duration
	// ProjectionBackOff overrides the projection worker's retry policy.
	ProjectionBackOff func() backoff.BackOff

	CompactionInterval  time.Duration
	Retention           time.Duration
	SafetyWindow        time.Duration
	DeletionRetention   time.Duration
	CompactionBatchSize int
	DisableCompaction   bool

	TitlePollInterval  time.Duration
	TitleMaxAttempts   int
	TitleRetryBackoff  time.Duration
	TitleRetryMaxDelay time.Duration
	TitleFetchTimeout  time.Duration
	UserAgent          string
	DisableEnrichment  bool

	// Now defaults to the UTC wall clock.
	Now func() time.Time
}

// normalized fills zero values with production defaults.
func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if cfg.Port <= 0 {
		cfg.Port = discovery.GRPCPort(discovery.ServiceSyncd)
	}
	if cfg.EventsDBPath == "" {
		cfg.EventsDBPath = defaultEventsDB
	}
	if cfg.ProjectionsDBPath == "" {
		cfg.ProjectionsDBPath = defaultProjectionsDB
	}
	if cfg.TitlesDBPath == "" && !cfg.DisableEnrichment {
		cfg.TitlesDBPath = defaultTitlesDB
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.ProjectionBatchSize <= 0 {
		cfg.ProjectionBatchSize = projection.DefaultBatchSize
	}
	if cfg.ProjectionPollInterval <= 0 {
		cfg.ProjectionPollInterval = projection.DefaultPollInterval
	}
	if cfg.CompactionInterval <= 0 {
		cfg.CompactionInterval = compaction.DefaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = compaction.DefaultRetention
	}
	if cfg.SafetyWindow <= 0 {
		cfg.SafetyWindow = compaction.DefaultSafetyWindow
	}
	if cfg.DeletionRetention <= 0 {
		cfg.DeletionRetention = compaction.DefaultDeletionRetention
	}
	if cfg.CompactionBatchSize <= 0 {
		cfg.CompactionBatchSize = compaction.DefaultBatchSize
	}
	if cfg.TitlePollInterval <= 0 {
		cfg.TitlePollInterval = enrich.DefaultPollInterval
	}
	if cfg.TitleMaxAttempts <= 0 {
		cfg.TitleMaxAttempts = enrich.DefaultMaxAttempts
	}
	if cfg.TitleRetryBackoff <= 0 {
		cfg.TitleRetryBackoff = enrich.DefaultRetryBackoff
	}
	if cfg.TitleRetryMaxDelay <= 0 {
		cfg.TitleRetryMaxDelay = enrich.DefaultRetryMaxDelay
	}
	if cfg.TitleFetchTimeout <= 0 {
		cfg.TitleFetchTimeout = defaultTitleFetchLimit
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return cfg
}

// Run opens storage, serves gRPC health, and runs the background loops until
// ctx ends.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on syncd port %d: %w", cfg.Port, err)
	}
	defer listener.Close()
	return Serve(ctx, listener, cfg)
}

// Serve runs the daemon on an existing listener.
func Serve(ctx context.Context, listener net.Listener, cfg RuntimeConfig) error {
	cfg = cfg.normalized()

	commands, events, err := aggregate.NewRegistries()
	if err != nil {
		return fmt.Errorf("build registries: %w", err)
	}
	paths := StorePaths{EventsPath: cfg.EventsDBPath, ProjectionsPath: cfg.ProjectionsDBPath}
	if !cfg.DisableEnrichment {
		paths.TitlesPath = cfg.TitlesDBPath
	}
	stores, err := OpenStores(ctx, events, paths)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := stores.Close(); closeErr != nil {
			log.Printf("close syncd stores: %v", closeErr)
		}
	}()

	grpcServer, healthServer := platformgrpc.NewHealthServer()
	core, err := NewCore(stores, commands, events, cfg, healthServer)
	if err != nil {
		return err
	}
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()
	log.Printf("syncd server listening at %v", listener.Addr())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return core.Runner.Run(groupCtx)
	})
	if !cfg.DisableCompaction {
		group.Go(func() error {
			return core.Compactor.Run(groupCtx)
		})
	}
	if core.Enricher != nil {
		group.Go(func() error {
			return core.Enricher.Run(groupCtx)
		})
	}
	if err := group.Wait(); err != nil {
		healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		return fmt.Errorf("syncd: %w", err)
	}
	return nil
}
