package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/auroraops/aurora/internal/capture"
	"github.com/auroraops/aurora/internal/fabric"
	"github.com/auroraops/aurora/internal/observability"
	"github.com/auroraops/aurora/internal/sanitize"
	"github.com/auroraops/aurora/pkg/models"
)

// Wrap composes the three middleware layers around a tool, outer to inner:
// capture (start/end records paired by signature), notification (socket
// events with the signature as the call id), and context injection. Errors
// never cross the wrapper boundary; they become error ToolResults so the
// loop keeps running and the model sees the failure text.
func Wrap(tool Tool, capt *capture.Capture, sink fabric.Sink, session *models.Session, logger *observability.Logger) Tool {
	if sink == nil {
		sink = fabric.NopSink{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	force := false
	if c, ok := tool.(CriticalContextTool); ok {
		force = c.CriticalContext()
	}
	return &wrappedTool{
		inner:   tool,
		capture: capt,
		sink:    sink,
		session: session,
		logger:  logger,
		force:   force,
	}
}

type wrappedTool struct {
	inner   Tool
	capture *capture.Capture
	sink    fabric.Sink
	session *models.Session
	logger  *observability.Logger
	// force overrides model-supplied principal/session fields with the
	// ambient session instead of only filling in the missing ones.
	force bool
}

func (w *wrappedTool) Name() string            { return w.inner.Name() }
func (w *wrappedTool) Description() string     { return w.inner.Description() }
func (w *wrappedTool) Schema() json.RawMessage { return w.inner.Schema() }

func (w *wrappedTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	name := w.inner.Name()
	// The signature hashes the original arguments; injected context keys
	// are excluded, so retries and parallel calls pair deterministically.
	sig := capture.SignatureFromRaw(name, params)

	if w.capture != nil {
		w.capture.Start(name, sig)
	}
	w.notify(ctx, &models.ToolEvent{
		Type: models.EventToolCall,
		Data: models.ToolEventData{
			ToolName:   name,
			ToolCallID: sig,
			Status:     models.StatusRunning,
			ToolInput:  rawForSocket(params),
			Timestamp:  time.Now(),
		},
	})

	result, err := w.inner.Execute(ctx, w.injectContext(ctx, params))
	if err != nil {
		result = &ToolResult{Content: err.Error(), IsError: true}
	}
	if result == nil {
		result = &ToolResult{Content: "tool returned no result", IsError: true}
	}

	if result.IsError {
		w.notify(ctx, &models.ToolEvent{
			Type: models.EventToolError,
			Data: models.ToolEventData{
				ToolName:   name,
				ToolCallID: sig,
				Status:     models.StatusError,
				Error:      sanitize.ForSocket(result.Content),
				Timestamp:  time.Now(),
			},
		})
	} else {
		w.notify(ctx, &models.ToolEvent{
			Type: models.EventToolResult,
			Data: models.ToolEventData{
				ToolName:   name,
				ToolCallID: sig,
				Status:     models.StatusCompleted,
				Output:     sanitize.ForSocket(result.Content),
				Timestamp:  time.Now(),
			},
		})
	}

	if w.capture != nil {
		w.capture.End(ctx, name, sig, result.Content, result.IsError)
	}
	return result, nil
}

// injectContext merges the ambient principal and session into the tool
// arguments. Critical tools get the ambient values unconditionally; for the
// rest only missing fields are filled in. Non-object params pass through.
func (w *wrappedTool) injectContext(ctx context.Context, params json.RawMessage) json.RawMessage {
	session := w.session
	if s, ok := SessionFromContext(ctx); ok {
		session = s
	}
	if session == nil {
		return params
	}

	kwargs := make(map[string]any)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &kwargs); err != nil {
			return params
		}
	}

	set := func(key string, value any) {
		if w.force {
			kwargs[key] = value
			return
		}
		if existing, ok := kwargs[key]; !ok || existing == "" || existing == nil {
			kwargs[key] = value
		}
	}
	set("user_id", session.UserID)
	set("session_id", session.ID)
	set("mode", string(session.Mode))
	set("is_background", session.Mode.Background())

	merged, err := json.Marshal(kwargs)
	if err != nil {
		return params
	}
	return merged
}

func (w *wrappedTool) notify(ctx context.Context, event *models.ToolEvent) {
	if w.session != nil {
		event.SessionID = w.session.ID
		event.UserID = w.session.UserID
	}
	if err := w.sink.Send(ctx, event); err != nil {
		w.logger.Warn(ctx, "tool event send failed",
			"tool_name", event.Data.ToolName, "event_type", string(event.Type), "error", err)
	}
}

// rawForSocket decodes tool input for the socket payload so clients see an
// object rather than an escaped string. Undecodable input is passed as text.
func rawForSocket(params json.RawMessage) any {
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return string(params)
	}
	return v
}
