package fabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auroraops/aurora/internal/observability"
	"github.com/auroraops/aurora/pkg/models"
)

// DefaultConfirmationTimeout bounds the confirmation round-trip.
const DefaultConfirmationTimeout = 5 * time.Minute

// SocketConfirmer implements the confirmation RPC over the fabric: it pushes
// a tool_call event with awaiting_confirmation status and blocks until the
// transport resolves it or the wait times out.
type SocketConfirmer struct {
	registry *Registry
	logger   *observability.Logger
	metrics  *observability.Metrics
	timeout  time.Duration

	mu      sync.Mutex
	pending map[string]chan bool
}

// NewSocketConfirmer creates a confirmer backed by the registry.
func NewSocketConfirmer(registry *Registry, logger *observability.Logger, metrics *observability.Metrics) *SocketConfirmer {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &SocketConfirmer{
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		timeout:  DefaultConfirmationTimeout,
		pending:  make(map[string]chan bool),
	}
}

// SetTimeout overrides the round-trip bound. Used in tests.
func (c *SocketConfirmer) SetTimeout(d time.Duration) { c.timeout = d }

// Confirm implements Confirmer. A timed-out or failed round-trip counts as
// denial; the dispatcher turns that into a cancellation envelope.
func (c *SocketConfirmer) Confirm(ctx context.Context, req *ConfirmationRequest) (bool, error) {
	confirmationID := uuid.NewString()

	ch := make(chan bool, 1)
	c.mu.Lock()
	c.pending[confirmationID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, confirmationID)
		c.mu.Unlock()
	}()

	sink := c.registry.SessionSink(req.UserID, req.SessionID)
	event := &models.ToolEvent{
		Type:      models.EventToolCall,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Data: models.ToolEventData{
			ToolName:   req.ToolName,
			ToolCallID: confirmationID,
			Status:     models.StatusAwaitingConfirmation,
			Message:    req.Summary,
			Timestamp:  time.Now(),
		},
	}
	if err := sink.Send(ctx, event); err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}

	start := time.Now()
	select {
	case approved := <-ch:
		if c.metrics != nil {
			c.metrics.ConfirmationLatency.Observe(time.Since(start).Seconds())
		}
		return approved, nil
	case <-time.After(c.timeout):
		c.logger.Warn(ctx, "confirmation timed out", "tool_name", req.ToolName, "session_id", req.SessionID)
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve delivers the user's decision for a pending confirmation. Called by
// the transport when the client answers the prompt. Returns false when the
// confirmation is unknown or already resolved.
func (c *SocketConfirmer) Resolve(confirmationID string, approved bool) bool {
	c.mu.Lock()
	ch, ok := c.pending[confirmationID]
	if ok {
		delete(c.pending, confirmationID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- approved
	return true
}
