// Package capture records tool starts and completions per session. Records
// are paired by deterministic signature so parallel tool calls from a single
// model step resolve correctly, and the closed records feed transcript
// reconstruction and RCA citation extraction.
package capture

import (
	"context"
	"sync"
	"time"

	"github.com/auroraops/aurora/internal/observability"
)

// Record is one tool invocation tracked by the capture.
type Record struct {
	CallID    string
	ToolName  string
	Signature string
	StartTime time.Time
	EndTime   time.Time
	Output    string
	// Summary holds a pre-summarised form of Output for history mapping,
	// set by the engine when the raw output is too large to re-send.
	Summary   string
	IsError   bool
	Completed bool
}

// Capture is the session-scoped container of tool call records.
// All methods are safe for concurrent use.
type Capture struct {
	mu      sync.Mutex
	records map[string]*Record // keyed by call id
	order   []string           // insertion order, for oldest-incomplete fallback
	logger  *observability.Logger
}

// New creates an empty capture.
func New(logger *observability.Logger) *Capture {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Capture{
		records: make(map[string]*Record),
		logger:  logger,
	}
}

// Start registers a new record for a tool call. The signature doubles as the
// call id. Registering an id that already exists is a no-op so retries do not
// duplicate records.
func (c *Capture) Start(toolName, signature string) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.records[signature]; ok {
		return rec
	}
	rec := &Record{
		CallID:    signature,
		ToolName:  toolName,
		Signature: signature,
		StartTime: time.Now(),
	}
	c.records[signature] = rec
	c.order = append(c.order, signature)
	return rec
}

// End closes the record matching the given tool name and signature.
// Matching prefers the exact signature, then a single incomplete candidate
// for the tool, then the oldest incomplete candidate with a warning. A
// completed record is never mutated again.
func (c *Capture) End(ctx context.Context, toolName, signature, output string, isError bool) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.match(ctx, toolName, signature)
	if rec == nil {
		// Start was never observed (e.g. background restart); synthesise
		// a closed record so the transcript still carries the outcome.
		rec = &Record{
			CallID:    signature,
			ToolName:  toolName,
			Signature: signature,
			StartTime: time.Now(),
		}
		c.records[signature] = rec
		c.order = append(c.order, signature)
	}
	if rec.Completed {
		return rec
	}
	rec.EndTime = time.Now()
	rec.Output = output
	rec.IsError = isError
	rec.Completed = true
	return rec
}

func (c *Capture) match(ctx context.Context, toolName, signature string) *Record {
	if rec, ok := c.records[signature]; ok && !rec.Completed {
		return rec
	}

	var candidates []*Record
	for _, id := range c.order {
		rec := c.records[id]
		if rec != nil && rec.ToolName == toolName && !rec.Completed {
			candidates = append(candidates, rec)
		}
	}
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	default:
		c.logger.Warn(ctx, "signature mismatch, falling back to oldest incomplete record",
			"tool_name", toolName, "signature", signature, "candidates", len(candidates))
		return candidates[0]
	}
}

// SetSummary attaches a pre-summarised output to a completed record.
func (c *Capture) SetSummary(callID, summary string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[callID]; ok {
		rec.Summary = summary
	}
}

// Get returns a copy of the record for the given call id.
func (c *Capture) Get(callID string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[callID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Delete removes a record. Deletion is the only mutation allowed on a
// completed record.
func (c *Capture) Delete(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, callID)
	for i, id := range c.order {
		if id == callID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Records returns copies of all records in insertion order.
func (c *Capture) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, 0, len(c.order))
	for _, id := range c.order {
		if rec, ok := c.records[id]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// Incomplete returns the number of records not yet completed.
func (c *Capture) Incomplete() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, rec := range c.records {
		if !rec.Completed {
			n++
		}
	}
	return n
}
