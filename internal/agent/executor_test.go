package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/auroraops/aurora/pkg/models"
)

func TestExecuteAllPreservesOrder(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&fakeTool{
		name: "echo",
		execute: func(_ context.Context, params json.RawMessage) (*ToolResult, error) {
			var p struct {
				N int `json:"n"`
			}
			json.Unmarshal(params, &p)
			// Later calls finish first to prove ordering is by input, not
			// completion.
			time.Sleep(time.Duration(10-p.N) * time.Millisecond)
			return &ToolResult{Content: fmt.Sprintf("result-%d", p.N)}, nil
		},
	})

	calls := make([]models.ToolCall, 5)
	for i := range calls {
		calls[i] = models.ToolCall{
			ID:    fmt.Sprintf("tc-%d", i),
			Name:  "echo",
			Input: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		}
	}

	results := NewExecutor(reg, 5).ExecuteAll(context.Background(), calls)
	if len(results) != 5 {
		t.Fatalf("results = %d, want 5", len(results))
	}
	for i, res := range results {
		if want := fmt.Sprintf("result-%d", i); res.Content != want {
			t.Errorf("results[%d] = %q, want %q", i, res.Content, want)
		}
		if res.ToolCallID != calls[i].ID {
			t.Errorf("results[%d].ToolCallID = %q, want %q", i, res.ToolCallID, calls[i].ID)
		}
	}
}

func TestExecuteAllBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	reg := NewRegistry(nil)
	reg.Register(&fakeTool{
		name: "slow",
		execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return &ToolResult{Content: "ok"}, nil
		},
	})

	calls := make([]models.ToolCall, 8)
	for i := range calls {
		calls[i] = models.ToolCall{ID: fmt.Sprintf("tc-%d", i), Name: "slow"}
	}
	NewExecutor(reg, 2).ExecuteAll(context.Background(), calls)

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestExecutePanicBecomesErrorResult(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&fakeTool{
		name: "boom",
		execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
			panic("exploded")
		},
	})

	results := NewExecutor(reg, 1).ExecuteAll(context.Background(),
		[]models.ToolCall{{ID: "tc-1", Name: "boom"}})
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("results = %+v", results)
	}
	if !strings.Contains(results[0].Content, "tool panic") {
		t.Errorf("content = %q", results[0].Content)
	}
}

func TestExecuteAllEmptyCalls(t *testing.T) {
	reg := NewRegistry(nil)
	if results := NewExecutor(reg, 1).ExecuteAll(context.Background(), nil); results != nil {
		t.Errorf("results = %+v, want nil", results)
	}
}
