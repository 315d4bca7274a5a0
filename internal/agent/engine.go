package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/auroraops/aurora/internal/capture"
	"github.com/auroraops/aurora/internal/config"
	"github.com/auroraops/aurora/internal/fabric"
	"github.com/auroraops/aurora/internal/observability"
	"github.com/auroraops/aurora/internal/prompt"
	"github.com/auroraops/aurora/internal/sessions"
	"github.com/auroraops/aurora/pkg/models"
)

const (
	defaultMaxIterations = 10

	// modelRetryAttempts bounds retries of the model call on network-class
	// errors; attempt k sleeps 2k seconds first.
	modelRetryAttempts = 3

	chunkBuffer = 64
)

// ErrNoProvider is returned when the engine has no LLM provider configured.
var ErrNoProvider = errors.New("agent: no LLM provider configured")

// Engine drives agent turns: prompt assembly, model streaming, parallel tool
// execution, and transcript persistence.
type Engine struct {
	provider LLMProvider
	registry *Registry
	store    sessions.Store
	prompts  *prompt.Cache
	logger   *observability.Logger
	metrics  *observability.Metrics

	llm            config.LLMConfig
	maxIterations  int
	maxConcurrency int
	compactor      *Compactor
	dynamic        DynamicToolSource

	mu       sync.Mutex
	captures map[string]*capture.Capture
}

// NewEngine creates an engine over the given provider, tool registry, and
// session store.
func NewEngine(provider LLMProvider, registry *Registry, store sessions.Store,
	llm config.LLMConfig, agentCfg config.AgentConfig,
	logger *observability.Logger, metrics *observability.Metrics) *Engine {

	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if registry == nil {
		registry = NewRegistry(logger)
	}
	maxIterations := agentCfg.RecursionLimit
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	return &Engine{
		provider:      provider,
		registry:      registry,
		store:         store,
		prompts:       prompt.NewCache(),
		logger:        logger,
		metrics:       metrics,
		llm:           llm,
		maxIterations: maxIterations,
		compactor:     NewCompactor(provider, llm.DefaultModel, agentCfg.CompactionThresholdTokens, logger),
	}
}

// Registry exposes the base tool registry for registration at startup.
func (e *Engine) Registry() *Registry { return e.registry }

// DynamicToolSource supplies per-user tools discovered at turn time, such as
// MCP tools. Discovery failures degrade to the static tool set.
type DynamicToolSource interface {
	UserTools(ctx context.Context, userID string) ([]Tool, error)
}

// SetDynamicTools installs the per-user tool source. Call before serving.
func (e *Engine) SetDynamicTools(src DynamicToolSource) { e.dynamic = src }

// CaptureFor returns the session-scoped tool capture, creating it on first
// use. The RCA pipeline reads it for citation extraction.
func (e *Engine) CaptureFor(sessionID string) *capture.Capture {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.captures == nil {
		e.captures = make(map[string]*capture.Capture)
	}
	capt, ok := e.captures[sessionID]
	if !ok {
		capt = capture.New(e.logger)
		e.captures[sessionID] = capt
	}
	return capt
}

// ReleaseCapture drops the session's capture once the session is closed.
func (e *Engine) ReleaseCapture(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.captures, sessionID)
}

// TurnOptions carries per-turn extras beyond the session and message.
type TurnOptions struct {
	// Sink receives out-of-band tool events; nil means no socket.
	Sink fabric.Sink
	// RCA is set for background investigations and flows into the
	// ephemeral prompt segment.
	RCA *prompt.RCAContext
	// Model pins the model for this turn, overriding selection.
	Model string
}

// RunTurn executes one agent turn and streams results. The inbound message
// is persisted before the model is invoked; the channel closes when the turn
// reaches a terminal response, a cancellation, or an unrecoverable error.
func (e *Engine) RunTurn(ctx context.Context, session *models.Session, msg *models.Message, opts TurnOptions) (<-chan *ResponseChunk, error) {
	if e.provider == nil {
		return nil, ErrNoProvider
	}
	if session == nil || msg == nil {
		return nil, errors.New("agent: session and message are required")
	}
	if e.store == nil {
		return nil, errors.New("agent: no session store configured")
	}

	ctx = WithSession(ctx, session)

	msg.SessionID = session.ID
	msg.Direction = models.DirectionInbound
	if msg.Role == "" {
		msg.Role = models.RoleUser
	}
	if err := e.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("agent: persist inbound message: %w", err)
	}

	chunks := make(chan *ResponseChunk, chunkBuffer)
	go func() {
		defer close(chunks)
		e.runLoop(ctx, session, msg, opts, chunks)
	}()
	return chunks, nil
}

func (e *Engine) runLoop(ctx context.Context, session *models.Session, msg *models.Message, opts TurnOptions, chunks chan<- *ResponseChunk) {
	capt := e.CaptureFor(session.ID)
	tools := e.turnTools(ctx, session, capt, opts.Sink)
	system := e.systemPrompt(session, msg, opts, tools)
	model := e.turnModel(session, msg, opts)

	history, err := e.store.History(ctx, session.ID, 0)
	if err != nil {
		chunks <- &ResponseChunk{Err: fmt.Errorf("agent: load history: %w", err)}
		return
	}
	messages := e.compactor.Maybe(ctx, MapHistory(history, capt))
	ctx = WithRecentMessages(ctx, recentText(history, 10))

	turnRegistry := NewRegistry(e.logger)
	for _, tool := range tools {
		turnRegistry.Register(tool)
	}
	executor := NewExecutor(turnRegistry, defaultMaxConcurrency)

	for iteration := 0; iteration < e.maxIterations; iteration++ {
		select {
		case <-ctx.Done():
			chunks <- &ResponseChunk{Err: ctx.Err()}
			return
		default:
		}

		req := &CompletionRequest{
			Model:     model,
			System:    system,
			Messages:  messages,
			Tools:     tools,
			MaxTokens: e.llm.MaxTokens,
		}

		text, toolCalls, err := e.streamModel(ctx, req, chunks)
		if err != nil {
			e.endTurnWithError(ctx, session, err)
			chunks <- &ResponseChunk{Err: err}
			return
		}

		assistant := &models.Message{
			SessionID: session.ID,
			Direction: models.DirectionOutbound,
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
		}
		if err := e.store.AppendMessage(ctx, assistant); err != nil {
			e.logger.Error(ctx, "persist assistant message failed", "session_id", session.ID, "error", err)
		}

		if len(toolCalls) == 0 {
			chunks <- &ResponseChunk{Done: true}
			return
		}

		results := executor.ExecuteAll(ctx, toolCalls)
		for i := range results {
			chunks <- &ResponseChunk{ToolResult: &results[i]}
		}

		toolMsg := &models.Message{
			SessionID:   session.ID,
			Direction:   models.DirectionOutbound,
			Role:        models.RoleTool,
			ToolResults: results,
		}
		if err := e.store.AppendMessage(ctx, toolMsg); err != nil {
			e.logger.Error(ctx, "persist tool results failed", "session_id", session.ID, "error", err)
		}

		messages = append(messages,
			CompletionMessage{Role: "assistant", Content: text, ToolCalls: toolCalls},
			CompletionMessage{Role: "user", ToolResults: results},
		)
	}

	// Iteration budget exhausted; close the turn with a visible notice so
	// the transcript explains the stop.
	notice := fmt.Sprintf("Stopped after %d reasoning iterations without a final answer.", e.maxIterations)
	e.appendAssistantNote(ctx, session, notice)
	chunks <- &ResponseChunk{Text: notice, Done: true}
}

// streamModel invokes the model once, forwarding token deltas and collecting
// tool calls. Network-class failures are retried with a 2k-second backoff.
func (e *Engine) streamModel(ctx context.Context, req *CompletionRequest, chunks chan<- *ResponseChunk) (string, []models.ToolCall, error) {
	var lastErr error
	for attempt := 1; attempt <= modelRetryAttempts; attempt++ {
		text, toolCalls, err := e.streamOnce(ctx, req, chunks)
		if err == nil {
			if e.metrics != nil {
				e.metrics.ModelRequests.WithLabelValues(e.provider.Name(), req.Model, "success").Inc()
			}
			return text, toolCalls, nil
		}
		lastErr = err
		if !isNetworkError(err) || attempt == modelRetryAttempts {
			break
		}
		if e.metrics != nil {
			e.metrics.ModelRetries.WithLabelValues(e.provider.Name()).Inc()
		}
		e.logger.Warn(ctx, "model call failed, retrying",
			"attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-time.After(time.Duration(2*attempt) * time.Second):
		}
	}
	if e.metrics != nil {
		e.metrics.ModelRequests.WithLabelValues(e.provider.Name(), req.Model, "error").Inc()
	}
	return "", nil, lastErr
}

func (e *Engine) streamOnce(ctx context.Context, req *CompletionRequest, chunks chan<- *ResponseChunk) (string, []models.ToolCall, error) {
	stream, err := e.provider.Complete(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var toolCalls []models.ToolCall
	for chunk := range stream {
		switch {
		case chunk.Error != nil:
			return "", nil, chunk.Error
		case chunk.ToolCall != nil:
			toolCalls = append(toolCalls, *chunk.ToolCall)
		case chunk.Text != "":
			text.WriteString(chunk.Text)
			chunks <- &ResponseChunk{Text: chunk.Text}
		}
		if chunk.Done {
			break
		}
	}
	return text.String(), toolCalls, nil
}

// turnTools assembles the turn's tool set: the static registry filtered by
// mode, then dynamically discovered per-user tools, deduplicated first-wins.
// Every tool is wrapped with the capture, notification, and context-injection
// layers.
func (e *Engine) turnTools(ctx context.Context, session *models.Session, capt *capture.Capture, sink fabric.Sink) []Tool {
	base := e.registry.ForMode(session.Mode)
	if e.dynamic != nil {
		extra, err := e.dynamic.UserTools(ctx, session.UserID)
		if err != nil {
			e.logger.Warn(ctx, "dynamic tool discovery failed",
				"user_id", session.UserID, "error", err)
		} else {
			base = append(base, extra...)
		}
	}

	seen := make(map[string]bool, len(base))
	out := make([]Tool, 0, len(base))
	for _, tool := range base {
		if seen[tool.Name()] {
			continue
		}
		if session.Mode.ReadOnly() {
			if d, ok := tool.(DestructiveTool); ok && d.Destructive() {
				continue
			}
		}
		seen[tool.Name()] = true
		out = append(out, Wrap(tool, capt, sink, session, e.logger))
	}
	return out
}

func (e *Engine) systemPrompt(session *models.Session, msg *models.Message, opts TurnOptions, tools []Tool) string {
	var keyProvider models.Provider
	if len(session.Providers) > 0 {
		keyProvider = session.Providers[0]
	}
	segments := e.prompts.Segments(keyProvider, session.UserID, prompt.Options{
		ToolsManifest: Manifest(tools),
		Providers:     session.Providers,
		Mode:          session.Mode,
		HasZip:        referencesArchive(msg),
		RCA:           opts.RCA,
	})
	return prompt.Join(segments)
}

func (e *Engine) turnModel(session *models.Session, msg *models.Message, opts TurnOptions) string {
	return SelectModel(e.llm, opts.Model, msg.Attachments, session.Mode.Background())
}

func (e *Engine) endTurnWithError(ctx context.Context, session *models.Session, cause error) {
	e.logger.Error(ctx, "model call failed after retries",
		"session_id", session.ID, "error", cause)
	e.appendAssistantNote(ctx, session,
		"I could not reach the model provider and had to end this turn. Please retry in a moment.")
}

func (e *Engine) appendAssistantNote(ctx context.Context, session *models.Session, content string) {
	note := &models.Message{
		SessionID: session.ID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   content,
	}
	if err := e.store.AppendMessage(ctx, note); err != nil {
		e.logger.Error(ctx, "persist assistant note failed", "session_id", session.ID, "error", err)
	}
}

// recentText returns the text of the most recent user and assistant messages,
// oldest first, for provider inference inside tools.
func recentText(history []*models.Message, limit int) []string {
	var out []string
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		msg := history[i]
		if msg.Content == "" {
			continue
		}
		if msg.Role == models.RoleUser || msg.Role == models.RoleAssistant {
			out = append(out, msg.Content)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// referencesArchive reports whether the turn mentions or attaches a zip
// archive, which gates the archive-handling prompt guidance.
func referencesArchive(msg *models.Message) bool {
	for _, att := range msg.Attachments {
		if att.Type == "archive" || strings.HasSuffix(strings.ToLower(att.Filename), ".zip") {
			return true
		}
	}
	lower := strings.ToLower(msg.Content)
	return strings.Contains(lower, ".zip") || strings.Contains(lower, "archive")
}

// isNetworkError classifies transient transport failures worth retrying:
// connection resets, incomplete chunked reads, protocol errors, timeouts,
// and provider overload responses.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"unexpected eof",
		"incomplete chunked",
		"protocol error",
		"timeout",
		"deadline exceeded",
		"429",
		"502",
		"503",
		"529",
		"overloaded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
