package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auroraops/aurora/internal/observability"
)

// stdioTransport runs one MCP server as a subprocess and speaks line-delimited
// JSON-RPC over its stdio.
type stdioTransport struct {
	config *ServerConfig
	logger *observability.Logger

	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	stderr  io.ReadCloser

	pending   map[int64]chan *jsonRPCResponse
	pendingMu sync.Mutex
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func newStdioTransport(cfg *ServerConfig, logger *observability.Logger) *stdioTransport {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &stdioTransport{
		config:   cfg,
		logger:   logger,
		pending:  make(map[int64]chan *jsonRPCResponse),
		stopChan: make(chan struct{}),
	}
}

// Connect starts the subprocess. The child environment is built explicitly:
// PATH and HOME plus the configured variables, never the broker's secrets via
// process-global state.
func (t *stdioTransport) Connect(ctx context.Context) error {
	if err := t.config.Validate(); err != nil {
		return err
	}

	t.process = exec.CommandContext(ctx, t.config.Command, t.config.Args...)
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
	}
	for k, v := range t.config.Env {
		env = append(env, k+"="+v)
	}
	t.process.Env = env

	var err error
	t.stdin, err = t.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdin pipe: %w", err)
	}
	stdout, err := t.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdout pipe: %w", err)
	}
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 1024*1024), 1024*1024)
	t.stderr, _ = t.process.StderrPipe()

	if err := t.process.Start(); err != nil {
		return fmt.Errorf("mcp: start %s: %w", t.config.Command, err)
	}

	t.connected.Store(true)
	t.logger.Info(ctx, "started MCP server",
		"server_id", t.config.ID, "command", t.config.Command, "pid", t.process.Process.Pid)

	t.wg.Add(1)
	go t.readLoop()
	if t.stderr != nil {
		t.wg.Add(1)
		go t.drainStderr(ctx)
	}
	return nil
}

// Close kills the subprocess and releases the reader goroutines.
func (t *stdioTransport) Close() error {
	if !t.connected.Swap(false) {
		return nil
	}
	close(t.stopChan)
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.process != nil && t.process.Process != nil {
		t.process.Process.Kill()
	}
	t.wg.Wait()
	return nil
}

// Connected reports whether the subprocess is still believed alive.
func (t *stdioTransport) Connected() bool { return t.connected.Load() }

// Call sends one request and waits for the matching response.
func (t *stdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("mcp: %s not connected", t.config.ID)
	}

	id := t.nextID.Add(1)
	req := jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("mcp: marshal params: %w", err)
		}
		req.Params = raw
	}

	respChan := make(chan *jsonRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	data, _ := json.Marshal(req)
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.connected.Store(false)
		return nil, fmt.Errorf("mcp: write request: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, fmt.Errorf("mcp: %s error %d: %s", t.config.ID, resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(t.config.callTimeout()):
		return nil, fmt.Errorf("mcp: %s: %s timed out after %v", t.config.ID, method, t.config.callTimeout())
	case <-t.stopChan:
		return nil, fmt.Errorf("mcp: %s transport closed", t.config.ID)
	}
}

// Notify sends a notification with no response expected.
func (t *stdioTransport) Notify(_ context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("mcp: %s not connected", t.config.ID)
	}
	notif := jsonRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("mcp: marshal params: %w", err)
		}
		notif.Params = raw
	}
	data, _ := json.Marshal(notif)
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("mcp: write notification: %w", err)
	}
	return nil
}

func (t *stdioTransport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)

	for t.stdout.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		line := t.stdout.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp jsonRPCResponse
		if err := json.Unmarshal(line, &resp); err != nil || resp.ID == nil {
			// Notifications and unparseable lines are ignored; Aurora only
			// issues request/response traffic.
			continue
		}
		id, ok := responseID(resp.ID)
		if !ok {
			continue
		}

		t.pendingMu.Lock()
		if ch, found := t.pending[id]; found {
			select {
			case ch <- &resp:
			default:
			}
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
	}
}

func responseID(raw any) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

func (t *stdioTransport) drainStderr(ctx context.Context) {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		if line := scanner.Text(); line != "" {
			t.logger.Debug(ctx, "mcp server stderr", "server_id", t.config.ID, "message", line)
		}
	}
}
