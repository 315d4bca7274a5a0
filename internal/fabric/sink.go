// Package fabric is the notification layer between the engine and connected
// clients: a process-wide socket registry, validated event sends, and the
// out-of-band confirmation RPC used before destructive operations.
package fabric

import (
	"context"

	"github.com/auroraops/aurora/pkg/models"
)

// Sink receives out-of-band tool events for one session. The interactive
// path is backed by a registered socket; background sessions use NopSink.
type Sink interface {
	Send(ctx context.Context, event *models.ToolEvent) error
}

// Confirmer runs the destructive-action confirmation round-trip. The core
// treats it as an opaque awaitable returning in bounded time.
type Confirmer interface {
	Confirm(ctx context.Context, req *ConfirmationRequest) (bool, error)
}

// ConfirmationRequest describes the pending destructive action.
type ConfirmationRequest struct {
	SessionID string
	UserID    string
	ToolName  string
	// Summary is the human-readable action description
	// (verb + resource type + name + region/zone).
	Summary string
}

// NopSink swallows events. Background RCA sessions run the same engine with
// this sink in place of a live socket.
type NopSink struct{}

// Send implements Sink.
func (NopSink) Send(context.Context, *models.ToolEvent) error { return nil }

// AutoConfirmer resolves confirmations without a user, per background
// policy: approve everything or cancel everything.
type AutoConfirmer struct {
	Approve bool
}

// Confirm implements Confirmer.
func (a AutoConfirmer) Confirm(context.Context, *ConfirmationRequest) (bool, error) {
	return a.Approve, nil
}
