package journal

import (
	"fmt"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// Receipt proves a checkpoint event was stored by the log.
//
// The only way to obtain one is from a checkpoint event carrying a log-assigned
// sequence and position, which only Append or a read can return. Prune re-checks
// the checkpoint inside its transaction before deleting anything.
type Receipt struct {
	streamKey string
	seq       uint64
	position  uint64
}

// NewReceipt mints a receipt from a stored checkpoint event.
func NewReceipt(evt event.Event) (Receipt, error) {
	if !evt.IsCheckpoint() {
		return Receipt{}, fmt.Errorf("%w: event %s is not a checkpoint", ErrCompactionSafety, evt.Type)
	}
	if evt.StreamKey == "" || evt.Seq == 0 || evt.Position == 0 {
		return Receipt{}, fmt.Errorf("%w: checkpoint has not been stored", ErrCompactionSafety)
	}
	return Receipt{streamKey: evt.StreamKey, seq: evt.Seq, position: evt.Position}, nil
}

// StreamKey returns the stream the checkpoint belongs to.
func (r Receipt) StreamKey() string { return r.streamKey }

// Seq returns the checkpoint's sequence.
func (r Receipt) Seq() uint64 { return r.seq }

// Position returns the checkpoint's global position.
func (r Receipt) Position() uint64 { return r.position }

// Valid reports whether the receipt was minted from a stored checkpoint.
func (r Receipt) Valid() bool {
	return r.streamKey != "" && r.seq > 0 && r.position > 0
}
