package syncctl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	syncapp "github.com/louisbranch/castsync/internal/services/sync/app"
	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/spf13/cobra"
)

// commandInput is the JSON form of a command read by route.
type commandInput struct {
	AggregateID string          `json:"aggregate_id"`
	Type        string          `json:"type"`
	DeviceID    string          `json:"device_id"`
	DeviceName  string          `json:"device_name"`
	RequestID   string          `json:"request_id"`
	Payload     json.RawMessage `json:"payload"`
}

func newRouteCommand(cfg *Config) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Route one command read as JSON",
		Long: `Route decodes a command from --file, or stdin when no file is given, and
routes it against the event log. For example:

  {"aggregate_id":"u1","type":"subscription.subscribe","payload":{"feed_url":"https://example.com/feed.xml"}}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			var input commandInput
			if err := json.NewDecoder(in).Decode(&input); err != nil {
				return fmt.Errorf("decode command: %w", err)
			}

			s, err := openSession(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()

			ack, err := s.core.Route(cmd.Context(), command.Command{
				AggregateID: input.AggregateID,
				Type:        command.Type(input.Type),
				RequestID:   input.RequestID,
				Causation: command.Causation{
					DeviceID:   input.DeviceID,
					DeviceName: input.DeviceName,
					IssuedAt:   time.Now().UTC(),
				},
				PayloadJSON: input.Payload,
			})
			if err != nil {
				classified := syncapp.ClassifyError(err)
				return fmt.Errorf("%s: %w", classified.Code, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: version %d, %d events\n", ack.StreamKey, ack.Version, len(ack.Events))
			for _, evt := range ack.Events {
				fmt.Fprintf(out, "%d\t%s\n", evt.Seq, evt.Type)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the command from this file")
	return cmd
}
