package syncctl

import (
	"fmt"

	"github.com/louisbranch/castsync/internal/services/sync/compaction"
	"github.com/spf13/cobra"
)

func newCompactCommand(cfg *Config) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "compact [stream-key]",
		Short: "Checkpoint and prune a stream now",
		Long: `Compact one stream immediately, regardless of its age. With --all, run one
periodic compaction pass over every candidate stream instead.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if all {
				report, err := s.core.Compactor.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				for _, stream := range report.Streams {
					printStreamReport(cmd, stream)
				}
				fmt.Fprintln(out, report)
				return nil
			}
			stream, err := s.core.Compactor.CompactStream(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("compact %s: %w", args[0], err)
			}
			printStreamReport(cmd, stream)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Compact every candidate stream")
	return cmd
}

func printStreamReport(cmd *cobra.Command, stream compaction.StreamReport) {
	out := cmd.OutOrStdout()
	switch {
	case stream.Err != nil:
		fmt.Fprintf(out, "%s: failed: %v\n", stream.StreamKey, stream.Err)
	case stream.Skipped != "":
		fmt.Fprintf(out, "%s: skipped: %s\n", stream.StreamKey, stream.Skipped)
	default:
		fmt.Fprintf(out, "%s: checkpoint %d (appended %t), suppressed %d, redacted %d, pruned %d\n",
			stream.StreamKey, stream.CheckpointSeq, stream.CheckpointAppended, stream.Suppressed, stream.Redacted, stream.Pruned)
	}
	if stream.StaleCheckpoints > 0 {
		fmt.Fprintf(out, "%s: warning: %d checkpoints still predate an erasure\n", stream.StreamKey, stream.StaleCheckpoints)
	}
}
