package syncctl

import (
	"errors"
	"fmt"
	"text/tabwriter"

	platformgrpc "github.com/louisbranch/castsync/internal/platform/grpc"
	"github.com/louisbranch/castsync/internal/platform/timeouts"
	syncapp "github.com/louisbranch/castsync/internal/services/sync/app"
	"github.com/louisbranch/castsync/internal/services/sync/projection"
	"github.com/spf13/cobra"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// ErrNotServing indicates at least one daemon service is not serving.
var ErrNotServing = errors.New("syncd is not fully serving")

func newHealthCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the daemon and each projector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := platformgrpc.DialWithHealth(cmd.Context(), nil, cfg.Addr, timeouts.GRPCDial, nil)
			if err != nil {
				return fmt.Errorf("dial %s: %w", cfg.Addr, err)
			}
			defer conn.Close()

			services := []string{syncapp.HealthService}
			for _, projector := range projection.Projectors() {
				services = append(services, projection.HealthService(projector.Name()))
			}
			statuses, err := platformgrpc.CheckServices(cmd.Context(), conn, services)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tSTATUS")
			healthy := true
			for _, service := range services {
				status := statuses[service]
				fmt.Fprintf(w, "%s\t%s\n", service, status)
				if status == grpc_health_v1.HealthCheckResponse_SERVING {
					continue
				}
				// A projector without a store, such as feed_titles with
				// enrichment disabled, is never registered.
				if status != grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN || service == syncapp.HealthService {
					healthy = false
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !healthy {
				return ErrNotServing
			}
			return nil
		},
	}
}
