package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/auroraops/aurora/internal/capture"
	"github.com/auroraops/aurora/pkg/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*models.ToolEvent
}

func (s *recordingSink) Send(_ context.Context, event *models.ToolEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func testSession() *models.Session {
	return &models.Session{ID: "sess-1", UserID: "user-1", Mode: models.ModeAgent}
}

func TestWrapEmitsPairedEvents(t *testing.T) {
	capt := capture.New(nil)
	sink := &recordingSink{}
	tool := Wrap(&fakeTool{name: "cloud_exec"}, capt, sink, testSession(), nil)

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"gcloud compute instances list"}`))
	if err != nil || res.IsError {
		t.Fatalf("execute: res=%+v err=%v", res, err)
	}

	if len(sink.events) != 2 {
		t.Fatalf("events = %d, want 2", len(sink.events))
	}
	start, end := sink.events[0], sink.events[1]
	if start.Type != models.EventToolCall || start.Data.Status != models.StatusRunning {
		t.Errorf("start event = %+v", start)
	}
	if end.Type != models.EventToolResult || end.Data.Status != models.StatusCompleted {
		t.Errorf("end event = %+v", end)
	}
	if start.Data.ToolCallID == "" || start.Data.ToolCallID != end.Data.ToolCallID {
		t.Errorf("call ids not paired: %q vs %q", start.Data.ToolCallID, end.Data.ToolCallID)
	}
	if len(start.Data.ToolCallID) != 16 {
		t.Errorf("call id length = %d, want 16", len(start.Data.ToolCallID))
	}
	if start.SessionID != "sess-1" || start.UserID != "user-1" {
		t.Errorf("event identity = %s/%s", start.SessionID, start.UserID)
	}

	records := capt.Records()
	if len(records) != 1 || !records[0].Completed || records[0].IsError {
		t.Errorf("capture records = %+v", records)
	}
}

func TestWrapToolErrorNeverEscapes(t *testing.T) {
	capt := capture.New(nil)
	sink := &recordingSink{}
	failing := &fakeTool{
		name: "cloud_exec",
		execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
			return nil, errors.New("credential lookup failed")
		},
	}
	tool := Wrap(failing, capt, sink, testSession(), nil)

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"ls"}`))
	if err != nil {
		t.Fatalf("error crossed the wrapper boundary: %v", err)
	}
	if !res.IsError || res.Content != "credential lookup failed" {
		t.Errorf("result = %+v", res)
	}

	if len(sink.events) != 2 || sink.events[1].Type != models.EventToolError {
		t.Errorf("events = %+v", sink.events)
	}
	records := capt.Records()
	if len(records) != 1 || !records[0].IsError {
		t.Errorf("capture records = %+v", records)
	}
}

func TestWrapInjectsMissingContext(t *testing.T) {
	var seen map[string]any
	inner := &fakeTool{
		name: "aurora_status",
		execute: func(_ context.Context, params json.RawMessage) (*ToolResult, error) {
			json.Unmarshal(params, &seen)
			return &ToolResult{Content: "ok"}, nil
		},
	}
	tool := Wrap(inner, capture.New(nil), nil, testSession(), nil)

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"incident_id":"inc-1","user_id":"model-supplied"}`))
	if err != nil {
		t.Fatal(err)
	}

	// Non-critical tools keep model-supplied values and only fill gaps.
	if seen["user_id"] != "model-supplied" {
		t.Errorf("user_id = %v, want model-supplied preserved", seen["user_id"])
	}
	if seen["session_id"] != "sess-1" || seen["mode"] != "agent" {
		t.Errorf("injected context = %v", seen)
	}
	if seen["is_background"] != false {
		t.Errorf("is_background = %v", seen["is_background"])
	}
}

func TestWrapForcesContextForCriticalTools(t *testing.T) {
	var seen map[string]any
	inner := &fakeTool{
		name:     "cloud_exec",
		critical: true,
		execute: func(_ context.Context, params json.RawMessage) (*ToolResult, error) {
			json.Unmarshal(params, &seen)
			return &ToolResult{Content: "ok"}, nil
		},
	}
	tool := Wrap(inner, capture.New(nil), nil, testSession(), nil)

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"user_id":"spoofed","session_id":"other"}`))
	if err != nil {
		t.Fatal(err)
	}
	if seen["user_id"] != "user-1" || seen["session_id"] != "sess-1" {
		t.Errorf("critical tool context not forced: %v", seen)
	}
}

func TestWrapSignatureIgnoresInjectedContext(t *testing.T) {
	sink := &recordingSink{}
	tool := Wrap(&fakeTool{name: "cloud_exec"}, capture.New(nil), sink, testSession(), nil)

	// Same command with and without ambient keys must hash identically so
	// retries pair with the original call id.
	tool.Execute(context.Background(), json.RawMessage(`{"command":"ls"}`))
	tool.Execute(context.Background(), json.RawMessage(`{"command":"ls","user_id":"user-1"}`))

	if len(sink.events) != 4 {
		t.Fatalf("events = %d, want 4", len(sink.events))
	}
	if sink.events[0].Data.ToolCallID != sink.events[2].Data.ToolCallID {
		t.Errorf("signatures differ: %q vs %q",
			sink.events[0].Data.ToolCallID, sink.events[2].Data.ToolCallID)
	}
}

func TestWrapNonObjectParamsPassThrough(t *testing.T) {
	var got json.RawMessage
	inner := &fakeTool{
		name: "echo",
		execute: func(_ context.Context, params json.RawMessage) (*ToolResult, error) {
			got = params
			return &ToolResult{Content: "ok"}, nil
		},
	}
	tool := Wrap(inner, capture.New(nil), nil, testSession(), nil)

	raw := json.RawMessage(`"just a string"`)
	if _, err := tool.Execute(context.Background(), raw); err != nil {
		t.Fatal(err)
	}
	if string(got) != `"just a string"` {
		t.Errorf("params mutated: %s", got)
	}
}
