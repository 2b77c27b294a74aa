package syncctl

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/projection"
	"github.com/louisbranch/castsync/internal/services/sync/storage"
	"github.com/spf13/cobra"
)

func newProjectorCommand(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projector",
		Short: "Inspect and reset projector cursors",
	}
	cmd.AddCommand(newProjectorStatusCommand(cfg), newProjectorResetCommand(cfg))
	return cmd
}

func newProjectorStatusCommand(cfg *Config) *cobra.Command {
	var skipTitles bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show each projector's cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cfg, !skipTitles)
			if err != nil {
				return err
			}
			defer s.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROJECTOR\tPOSITION\tUPDATED")
			for _, projector := range projection.Projectors() {
				if skipTitles && projector.ReadModel() == storage.ReadModelFeedTitles {
					fmt.Fprintf(w, "%s\t-\tskipped\n", projector.Name())
					continue
				}
				store, err := s.stores.ProjectionStore(projector)
				if err != nil {
					return err
				}
				cursor, err := store.GetCursor(cmd.Context(), projector.Name())
				if err != nil {
					return fmt.Errorf("get %s cursor: %w", projector.Name(), err)
				}
				updated := "never"
				if !cursor.UpdatedAt.IsZero() {
					updated = cursor.UpdatedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", projector.Name(), cursor.Position, updated)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&skipTitles, "skip-titles", false, "Do not open the titles store, which a running daemon locks")
	return cmd
}

func newProjectorResetCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <projector>",
		Short: "Truncate a projector's read model and rewind its cursor to zero",
		Long: `Reset truncates the read model a projector owns and moves its cursor back to
zero. The projector rebuilds the model from the log on its next step.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projector, ok := projection.Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown projector %q", args[0])
			}
			withTitles := projector.ReadModel() == storage.ReadModelFeedTitles
			s, err := openSession(cmd.Context(), cfg, withTitles)
			if err != nil {
				return err
			}
			defer s.Close()

			store, err := s.stores.ProjectionStore(projector)
			if err != nil {
				return err
			}
			if err := store.Reset(cmd.Context(), projector.Name(), projector.ReadModel()); err != nil {
				return fmt.Errorf("reset %s: %w", projector.Name(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: reset to position 0\n", projector.Name())
			return nil
		},
	}
}
