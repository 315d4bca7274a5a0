package mcp

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeConn struct {
	connected bool
	tools     []*Tool
	callFn    func(name string, args map[string]any) (*ToolCallResult, error)
	closed    int
}

func (c *fakeConn) Connected() bool { return c.connected }
func (c *fakeConn) ListTools(context.Context) ([]*Tool, error) {
	return c.tools, nil
}
func (c *fakeConn) CallTool(_ context.Context, name string, args map[string]any) (*ToolCallResult, error) {
	if c.callFn != nil {
		return c.callFn(name, args)
	}
	return &ToolCallResult{Content: []ToolResultContent{{Type: "text", Text: "ok"}}}, nil
}
func (c *fakeConn) Close() error {
	c.closed++
	c.connected = false
	return nil
}

type staticCreds struct {
	env map[string]map[string]string // userID -> vars; absent user = unavailable
}

func (s *staticCreds) EnvFor(_ context.Context, userID, _ string) (map[string]string, bool) {
	vars, ok := s.env[userID]
	return vars, ok
}

func testManager(servers []*ServerConfig, creds CredentialEnv, dials *int, conns map[string]*fakeConn) *Manager {
	m := NewManager(servers, creds, nil)
	m.dial = func(_ context.Context, cfg *ServerConfig) (serverConn, error) {
		if dials != nil {
			*dials++
		}
		conn, ok := conns[cfg.ID]
		if !ok {
			return nil, errors.New("no fake for " + cfg.ID)
		}
		conn.connected = true
		return conn, nil
	}
	return m
}

func TestManagerLazyStartAndCache(t *testing.T) {
	ctx := context.Background()
	dials := 0
	conns := map[string]*fakeConn{
		"github": {tools: []*Tool{{Name: "create_issue"}, {Name: "get_issue"}}},
	}
	m := testManager([]*ServerConfig{{ID: "github", Command: "docker"}}, nil, &dials, conns)

	if dials != 0 {
		t.Fatal("server started eagerly")
	}

	tools, err := m.UserTools(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tools["github"]) != 2 || dials != 1 {
		t.Errorf("tools = %v, dials = %d", tools, dials)
	}

	// Second lookup inside the TTL serves the cache without a new discovery.
	conns["github"].tools = []*Tool{{Name: "changed"}}
	tools, _ = m.UserTools(ctx, "user-1")
	if len(tools["github"]) != 2 {
		t.Error("cache not served")
	}

	// Expire the cache; discovery runs again over the live connection.
	m.mu.Lock()
	m.tools["user-1"].fetchedAt = time.Now().Add(-toolCacheTTL - time.Minute)
	m.mu.Unlock()
	tools, _ = m.UserTools(ctx, "user-1")
	if len(tools["github"]) != 1 || tools["github"][0].Name != "changed" {
		t.Errorf("after expiry tools = %v", tools["github"])
	}
	if dials != 1 {
		t.Errorf("dials = %d, want 1 (connection reused)", dials)
	}
}

func TestManagerRestartsDeadServer(t *testing.T) {
	ctx := context.Background()
	dials := 0
	conn := &fakeConn{tools: []*Tool{{Name: "get_issue"}}}
	m := testManager([]*ServerConfig{{ID: "github", Command: "docker"}}, nil, &dials,
		map[string]*fakeConn{"github": conn})

	if _, err := m.CallTool(ctx, "user-1", "github", "get_issue", nil); err != nil {
		t.Fatal(err)
	}
	if dials != 1 {
		t.Fatalf("dials = %d", dials)
	}

	// Simulate the process dying; the next call redials.
	conn.connected = false
	if _, err := m.CallTool(ctx, "user-1", "github", "get_issue", nil); err != nil {
		t.Fatal(err)
	}
	if dials != 2 || conn.closed == 0 {
		t.Errorf("dials = %d, closed = %d", dials, conn.closed)
	}
}

func TestManagerCredentialGating(t *testing.T) {
	ctx := context.Background()
	creds := &staticCreds{env: map[string]map[string]string{}}
	conn := &fakeConn{tools: []*Tool{{Name: "search_docs"}}}
	m := testManager([]*ServerConfig{{ID: "context7", Command: "npx"}}, creds, nil,
		map[string]*fakeConn{"context7": conn})

	// No credentials: the server is skipped and the cache is empty.
	tools, err := m.UserTools(ctx, "user-1")
	if err != nil || len(tools) != 0 {
		t.Fatalf("tools = %v err = %v", tools, err)
	}

	// Connecting a credential busts the empty cache before the TTL.
	creds.env["user-1"] = map[string]string{"CONTEXT7_TOKEN": "t"}
	tools, _ = m.UserTools(ctx, "user-1")
	if len(tools["context7"]) != 1 {
		t.Errorf("tools after connect = %v", tools)
	}
}

func TestManagerCredentialsChangedDropsState(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConn{tools: []*Tool{{Name: "get_issue"}}}
	dials := 0
	m := testManager([]*ServerConfig{{ID: "github", Command: "docker"}}, nil, &dials,
		map[string]*fakeConn{"github": conn})

	m.UserTools(ctx, "user-1")
	m.CredentialsChanged("user-1")

	if conn.closed == 0 {
		t.Error("connection not closed on credential change")
	}
	m.UserTools(ctx, "user-1")
	if dials != 2 {
		t.Errorf("dials = %d, want redial after invalidation", dials)
	}
}

func TestManagerUnknownServer(t *testing.T) {
	m := NewManager(nil, nil, nil)
	if _, err := m.CallTool(context.Background(), "user-1", "nope", "t", nil); err == nil {
		t.Error("expected error for unknown server")
	}
}
