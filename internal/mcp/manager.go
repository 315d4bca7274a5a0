package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/auroraops/aurora/internal/observability"
)

// toolCacheTTL bounds how long a user's discovered tool list is reused.
const toolCacheTTL = 10 * time.Minute

// CredentialEnv supplies the per-user credential variables for a server. The
// second return reports availability: servers whose credentials are missing
// are skipped for that user.
type CredentialEnv interface {
	EnvFor(ctx context.Context, userID, serverID string) (map[string]string, bool)
}

// serverConn is the slice of Client the manager depends on.
type serverConn interface {
	Connected() bool
	ListTools(ctx context.Context) ([]*Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error)
	Close() error
}

type connKey struct {
	userID   string
	serverID string
}

// managedConn serialises use and restart of one server process.
type managedConn struct {
	mu   sync.Mutex
	conn serverConn
}

type cachedTools struct {
	byServer  map[string][]*Tool
	fetchedAt time.Time
	// hadCredentials remembers whether any credential-gated server was
	// available at fetch time, so a later connect can bust an empty cache.
	hadCredentials bool
}

// Manager owns the MCP server processes. Servers start lazily on first use
// per (user, server) and are restarted transparently when they die.
type Manager struct {
	servers []*ServerConfig
	creds   CredentialEnv
	logger  *observability.Logger

	dial func(ctx context.Context, cfg *ServerConfig) (serverConn, error)

	mu    sync.Mutex
	conns map[connKey]*managedConn
	tools map[string]*cachedTools // keyed by user id
}

// NewManager creates a manager over the configured servers. creds may be nil
// when no server needs per-user credentials.
func NewManager(servers []*ServerConfig, creds CredentialEnv, logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	m := &Manager{
		servers: servers,
		creds:   creds,
		logger:  logger,
		conns:   make(map[connKey]*managedConn),
		tools:   make(map[string]*cachedTools),
	}
	m.dial = func(ctx context.Context, cfg *ServerConfig) (serverConn, error) {
		client := NewClient(cfg, logger)
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
	return m
}

// UserTools returns the discovered tools per server for a user, from the
// 10-minute cache when fresh. An empty cache is refetched early when
// credentials have appeared since it was taken.
func (m *Manager) UserTools(ctx context.Context, userID string) (map[string][]*Tool, error) {
	m.mu.Lock()
	cached, ok := m.tools[userID]
	m.mu.Unlock()

	if ok && time.Since(cached.fetchedAt) < toolCacheTTL {
		if len(cached.byServer) > 0 || cached.hadCredentials == m.anyCredentials(ctx, userID) {
			return cached.byServer, nil
		}
	}

	byServer := make(map[string][]*Tool)
	hadCreds := false
	for _, cfg := range m.servers {
		if _, available := m.userEnv(ctx, userID, cfg); !available {
			continue
		}
		hadCreds = true
		tools, err := m.listServer(ctx, userID, cfg)
		if err != nil {
			m.logger.Warn(ctx, "MCP tool discovery failed",
				"server_id", cfg.ID, "user_id", userID, "error", err)
			continue
		}
		byServer[cfg.ID] = tools
	}

	m.mu.Lock()
	m.tools[userID] = &cachedTools{
		byServer:       byServer,
		fetchedAt:      time.Now(),
		hadCredentials: hadCreds,
	}
	m.mu.Unlock()
	return byServer, nil
}

// CallTool invokes a tool on a user's server instance, starting or restarting
// the server when needed.
func (m *Manager) CallTool(ctx context.Context, userID, serverID, name string, arguments map[string]any) (*ToolCallResult, error) {
	cfg := m.serverConfig(serverID)
	if cfg == nil {
		return nil, fmt.Errorf("mcp: unknown server %s", serverID)
	}
	mc := m.managed(userID, serverID)

	mc.mu.Lock()
	defer mc.mu.Unlock()
	conn, err := m.ensureLocked(ctx, userID, cfg, mc)
	if err != nil {
		return nil, err
	}
	return conn.CallTool(ctx, name, arguments)
}

// CredentialsChanged drops the user's tool cache and server processes so the
// next call re-resolves with fresh credentials.
func (m *Manager) CredentialsChanged(userID string) {
	m.mu.Lock()
	delete(m.tools, userID)
	var stale []*managedConn
	for key, mc := range m.conns {
		if key.userID == userID {
			stale = append(stale, mc)
			delete(m.conns, key)
		}
	}
	m.mu.Unlock()

	for _, mc := range stale {
		mc.mu.Lock()
		if mc.conn != nil {
			mc.conn.Close()
			mc.conn = nil
		}
		mc.mu.Unlock()
	}
}

// Shutdown stops every server process.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]*managedConn, 0, len(m.conns))
	for key, mc := range m.conns {
		conns = append(conns, mc)
		delete(m.conns, key)
	}
	m.mu.Unlock()

	for _, mc := range conns {
		mc.mu.Lock()
		if mc.conn != nil {
			mc.conn.Close()
			mc.conn = nil
		}
		mc.mu.Unlock()
	}
}

func (m *Manager) listServer(ctx context.Context, userID string, cfg *ServerConfig) ([]*Tool, error) {
	mc := m.managed(userID, cfg.ID)
	mc.mu.Lock()
	defer mc.mu.Unlock()
	conn, err := m.ensureLocked(ctx, userID, cfg, mc)
	if err != nil {
		return nil, err
	}
	return conn.ListTools(ctx)
}

// ensureLocked returns a live connection, dialing lazily and replacing a dead
// process. Caller holds mc.mu.
func (m *Manager) ensureLocked(ctx context.Context, userID string, cfg *ServerConfig, mc *managedConn) (serverConn, error) {
	if mc.conn != nil && mc.conn.Connected() {
		return mc.conn, nil
	}
	if mc.conn != nil {
		m.logger.Warn(ctx, "MCP server died, restarting",
			"server_id", cfg.ID, "user_id", userID)
		mc.conn.Close()
		mc.conn = nil
	}

	env, available := m.userEnv(ctx, userID, cfg)
	if !available {
		return nil, fmt.Errorf("mcp: no credentials for server %s", cfg.ID)
	}
	userCfg := *cfg
	userCfg.Env = env

	conn, err := m.dial(ctx, &userCfg)
	if err != nil {
		return nil, err
	}
	mc.conn = conn
	return conn, nil
}

func (m *Manager) managed(userID, serverID string) *managedConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := connKey{userID: userID, serverID: serverID}
	mc, ok := m.conns[key]
	if !ok {
		mc = &managedConn{}
		m.conns[key] = mc
	}
	return mc
}

func (m *Manager) serverConfig(serverID string) *ServerConfig {
	for _, cfg := range m.servers {
		if cfg.ID == serverID {
			return cfg
		}
	}
	return nil
}

// userEnv merges the static server env with the user's credential variables.
func (m *Manager) userEnv(ctx context.Context, userID string, cfg *ServerConfig) (map[string]string, bool) {
	env := make(map[string]string, len(cfg.Env))
	for k, v := range cfg.Env {
		env[k] = v
	}
	if m.creds == nil {
		return env, true
	}
	userVars, available := m.creds.EnvFor(ctx, userID, cfg.ID)
	if !available {
		return nil, false
	}
	for k, v := range userVars {
		env[k] = v
	}
	return env, true
}

func (m *Manager) anyCredentials(ctx context.Context, userID string) bool {
	for _, cfg := range m.servers {
		if _, available := m.userEnv(ctx, userID, cfg); available {
			return true
		}
	}
	return false
}
