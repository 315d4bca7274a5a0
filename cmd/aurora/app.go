package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/auroraops/aurora/internal/agent"
	"github.com/auroraops/aurora/internal/agent/providers"
	"github.com/auroraops/aurora/internal/cloudexec"
	"github.com/auroraops/aurora/internal/config"
	"github.com/auroraops/aurora/internal/credentials"
	"github.com/auroraops/aurora/internal/fabric"
	"github.com/auroraops/aurora/internal/iac"
	"github.com/auroraops/aurora/internal/incident"
	"github.com/auroraops/aurora/internal/mcp"
	"github.com/auroraops/aurora/internal/notify"
	"github.com/auroraops/aurora/internal/observability"
	"github.com/auroraops/aurora/internal/rca"
	"github.com/auroraops/aurora/internal/sessions"
	"github.com/auroraops/aurora/internal/tools"
	"github.com/auroraops/aurora/pkg/models"
)

// app holds the wired subsystems shared by the serve and worker commands.
type app struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics

	sessions    sessions.Store
	incidents   incident.Store
	connections *credentials.PostgresConnections

	registry  *fabric.Registry
	confirmer *fabric.SocketConfirmer

	engine   *agent.Engine
	provider agent.LLMProvider
	mcp      *mcp.Manager
	rdb      *redis.Client
	sender   *notify.Sender
}

func newApp(cfg *config.Config) (*app, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	a := &app{cfg: cfg, logger: logger, metrics: metrics}

	if cfg.Database.URL != "" {
		sessionStore, err := sessions.NewPostgresStore(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		incidentStore, err := incident.NewPostgresStore(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("incident store: %w", err)
		}
		connections, err := credentials.NewPostgresConnections(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connection store: %w", err)
		}
		a.sessions = sessionStore
		a.incidents = incidentStore
		a.connections = connections
	} else {
		logger.Warn(context.Background(), "no database configured, using in-memory stores")
		a.sessions = sessions.NewMemoryStore()
		a.incidents = incident.NewMemoryStore()
	}

	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	a.registry = fabric.NewRegistry(logger, metrics)
	a.confirmer = fabric.NewSocketConfirmer(a.registry, logger, metrics)

	var connStore credentials.ConnectionStore = noConnections{}
	if a.connections != nil {
		connStore = a.connections
	}
	broker := credentials.NewBroker(connStore, logger, metrics)

	runner := cloudexec.NewSubprocessRunner()
	outputDir := filepath.Join(os.TempDir(), "aurora-outputs")
	cloudDispatcher := cloudexec.NewDispatcher(broker, runner, nil, a.confirmer,
		logger, metrics, outputDir)

	workspace := &iac.Workspace{BaseDir: cfg.Terraform.BaseDir}
	var github iac.GitHubChecker = noGitHub{}
	if a.connections != nil {
		github = a.connections
	}
	iacDispatcher := iac.NewDispatcher(workspace, broker, runner, nil, a.confirmer,
		a.registry, github, logger, metrics, cfg.Terraform.Binary)

	provider, err := providers.New(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("model provider: %w", err)
	}
	a.provider = provider
	a.engine = agent.NewEngine(provider, nil, a.sessions, cfg.LLM, cfg.Agent, logger, metrics)
	a.engine.Registry().Register(tools.NewCloudExecTool(cloudDispatcher))
	a.engine.Registry().Register(tools.NewIaCTool(iacDispatcher))

	if len(cfg.MCP.Servers) > 0 {
		a.mcp = mcp.NewManager(mcpServers(cfg.MCP.Servers), a.mcpEnv(), logger)
		a.engine.SetDynamicTools(mcp.NewBridge(a.mcp, a.confirmer))
	}

	slack := notify.NewSlackSender(cfg.Notify.SlackToken)
	email := notify.NewEmailSender(cfg.Notify.SMTP)
	prefs := notify.StaticPreferences{Prefs: notify.Preferences{
		SlackChannel:     cfg.Notify.SlackChannel,
		Email:            cfg.Notify.EmailTo,
		NotifyOnStart:    true,
		NotifyOnComplete: true,
	}}
	a.sender = notify.NewSender(slack, email, prefs, logger)

	return a, nil
}

func (a *app) close() {
	if a.mcp != nil {
		a.mcp.Shutdown()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.connections != nil {
		a.connections.Close()
	}
}

// newRunner assembles the RCA pipeline used by the worker.
func (a *app) newRunner() *rca.Runner {
	model := a.cfg.LLM.RCAModel
	if model == "" {
		model = a.cfg.LLM.DefaultModel
	}
	summariser := rca.NewSummariser(a.provider, model)
	limiter := rca.NewRateLimiter(a.rdb)
	return rca.NewRunner(a.engine, a.sessions, a.incidents, limiter, summariser,
		a.sender, a.logger, a.metrics)
}

func mcpServers(configs []config.MCPServerConfig) []*mcp.ServerConfig {
	out := make([]*mcp.ServerConfig, 0, len(configs))
	for _, c := range configs {
		out = append(out, &mcp.ServerConfig{
			ID:      c.ID,
			Command: c.Command,
			Args:    c.Args,
			Env:     c.Env,
			Docker:  c.Docker,
		})
	}
	return out
}

// mcpEnv adapts the connection store to per-server credential lookup. MCP
// integrations (github, context7) live in the same connections table as the
// cloud providers.
func (a *app) mcpEnv() mcp.CredentialEnv {
	if a.connections == nil {
		return nil
	}
	return connectionEnv{store: a.connections}
}

type connectionEnv struct {
	store *credentials.PostgresConnections
}

func (e connectionEnv) EnvFor(ctx context.Context, userID, serverID string) (map[string]string, bool) {
	data, err := e.store.Get(ctx, userID, models.Provider(serverID), "")
	if err != nil {
		return nil, false
	}
	return data, true
}

// noConnections backs the broker when no database is configured; every
// lookup reports a missing connection.
type noConnections struct{}

func (noConnections) Get(context.Context, string, models.Provider, string) (map[string]string, error) {
	return nil, credentials.ErrNoConnection
}

func (noConnections) List(context.Context, string, models.Provider) ([]map[string]string, error) {
	return nil, nil
}

func (noConnections) Save(context.Context, string, models.Provider, string, map[string]string) error {
	return credentials.ErrNoConnection
}

type noGitHub struct{}

func (noGitHub) Connected(context.Context, string) bool { return false }
