package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/auroraops/aurora/pkg/models"
)

// defaultMaxConcurrency bounds parallel tool executions in one model step.
const defaultMaxConcurrency = 5

// Executor runs the tool calls of one model step in parallel with a
// semaphore for backpressure. Panics inside a tool become error results.
type Executor struct {
	registry *Registry
	sem      chan struct{}
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, maxConcurrency int) *Executor {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &Executor{
		registry: registry,
		sem:      make(chan struct{}, maxConcurrency),
	}
}

// ExecuteAll executes the calls in parallel and returns results in input
// order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	if len(calls) == 0 {
		return nil
	}
	results := make([]models.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()
			results[idx] = e.execute(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Executor) execute(ctx context.Context, call models.ToolCall) (result models.ToolResult) {
	result.ToolCallID = call.ID

	defer func() {
		if r := recover(); r != nil {
			result.Content = fmt.Sprintf("tool panic: %v\n%s", r, debug.Stack())
			result.IsError = true
		}
	}()

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Content = ctx.Err().Error()
		result.IsError = true
		return result
	}

	res, err := e.registry.Execute(ctx, call.Name, call.Input)
	if err != nil {
		result.Content = err.Error()
		result.IsError = true
		return result
	}
	result.Content = res.Content
	result.IsError = res.IsError
	return result
}
