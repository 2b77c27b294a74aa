package syncctl

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/spf13/cobra"
)

type eventView struct {
	Seq        uint64          `json:"seq"`
	Position   uint64          `json:"position"`
	Type       event.Type      `json:"type"`
	Kind       event.Kind      `json:"kind"`
	EntityType string          `json:"entity_type,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	DeviceID   string          `json:"device_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func newStreamCommand(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Inspect event streams",
	}
	cmd.AddCommand(newStreamShowCommand(cfg))
	return cmd
}

func newStreamShowCommand(cfg *Config) *cobra.Command {
	var (
		asJSON   bool
		afterSeq uint64
	)
	cmd := &cobra.Command{
		Use:   "show <stream-key>",
		Short: "Print the stored events of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()

			events, err := s.stores.Events.ReadForward(cmd.Context(), args[0], afterSeq, 0)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				encoder := json.NewEncoder(out)
				for _, evt := range events {
					if err := encoder.Encode(viewOf(evt)); err != nil {
						return err
					}
				}
				return nil
			}
			for _, evt := range events {
				fmt.Fprintf(out, "%d\t%d\t%s\t%s\t%s\t%s\n",
					evt.Seq, evt.Position, evt.Timestamp.UTC().Format(time.RFC3339), evt.Kind, evt.Type, evt.PayloadJSON)
			}
			if len(events) == 0 {
				fmt.Fprintf(out, "%s: no events\n", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per event")
	cmd.Flags().Uint64Var(&afterSeq, "after", 0, "Only print events after this sequence")
	return cmd
}

func viewOf(evt event.Event) eventView {
	view := eventView{
		Seq:        evt.Seq,
		Position:   evt.Position,
		Type:       evt.Type,
		Kind:       evt.Kind,
		EntityType: evt.EntityType,
		EntityID:   evt.EntityID,
		DeviceID:   evt.DeviceID,
		Timestamp:  evt.Timestamp.UTC(),
	}
	if len(evt.PayloadJSON) > 0 {
		view.Payload = json.RawMessage(evt.PayloadJSON)
	}
	return view
}
