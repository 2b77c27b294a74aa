package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/louisbranch/castsync/internal/platform/config"
	"github.com/louisbranch/castsync/internal/platform/otel"
	"github.com/louisbranch/castsync/internal/platform/timeouts"
)

// Service identifiers for startup telemetry and environment scoping.
const (
	ServiceSyncd   = "syncd"
	ServiceSyncctl = "syncctl"
)

// EnvScope returns the environment variable scope of a service, e.g.
// "SYNCD_" for CASTSYNC_SYNCD_PORT.
func EnvScope(service string) string {
	return strings.ToUpper(strings.TrimSpace(service)) + "_"
}

// ParseConfig loads environment defaults for service into cfg.
func ParseConfig[T any](cfg *T, service string) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg, EnvScope(service))
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetry configures tracing for service, runs it, and flushes spans on
// the way out.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := otel.Setup(ctx, "castsync-"+service)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("%s otel shutdown: %v", service, err)
		}
	}()
	return run(ctx)
}
