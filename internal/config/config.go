// Package config loads the orchestrator configuration from YAML with
// environment overrides. Env expansion happens before parsing so secrets
// stay out of checked-in files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for Aurora.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	LLM       LLMConfig       `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Terraform TerraformConfig `yaml:"terraform"`
	MCP       MCPConfig       `yaml:"mcp"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LLMConfig struct {
	// DefaultModel is used when a turn does not pin a model.
	DefaultModel string `yaml:"default_model"`
	// MultimodalModel is selected when the turn carries images.
	MultimodalModel string `yaml:"multimodal_model"`
	// RCAModel is pinned for background investigations.
	RCAModel string `yaml:"rca_model"`

	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenRouterAPIKey string `yaml:"openrouter_api_key"`

	MaxTokens int `yaml:"max_tokens"`
}

type AgentConfig struct {
	// RecursionLimit bounds model reasoning iterations per turn. Required.
	RecursionLimit int `yaml:"recursion_limit"`
	// PodIsolation selects the K8s executor path for Tailscale SSH.
	PodIsolation bool `yaml:"pod_isolation"`
	// CompactionThresholdTokens triggers preflight history compaction.
	CompactionThresholdTokens int `yaml:"compaction_threshold_tokens"`
}

type TerraformConfig struct {
	// BaseDir holds per-session workspaces: base/user_<p>/session_<s>/
	BaseDir string `yaml:"base_dir"`
	Binary  string `yaml:"binary"`
}

type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

type MCPServerConfig struct {
	ID      string            `yaml:"id"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	// Docker-backed servers get a longer init timeout.
	Docker bool `yaml:"docker"`
}

type NotifyConfig struct {
	SlackToken string `yaml:"slack_token"`
	// SlackChannel receives incident notifications when set.
	SlackChannel string     `yaml:"slack_channel"`
	EmailTo      string     `yaml:"email_to"`
	SMTP         SMTPConfig `yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates configuration from a YAML file. Environment
// variables referenced as ${VAR} are expanded before parsing, and a handful
// of runtime knobs override the file afterwards.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration defaults applied before file parsing.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			HTTPPort:    8080,
			MetricsPort: 9090,
		},
		Database: DatabaseConfig{
			MaxConnections:  20,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Agent: AgentConfig{
			CompactionThresholdTokens: 60000,
		},
		Terraform: TerraformConfig{
			BaseDir: "/home/appuser/terraform_workdir",
			Binary:  "terraform",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnv layers runtime knobs over the parsed file.
func (c *Config) applyEnv() {
	if v := os.Getenv("AGENT_RECURSION_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Agent.RecursionLimit = n
		}
	}
	if v := os.Getenv("ENABLE_POD_ISOLATION"); v != "" {
		c.Agent.PodIsolation = v == "true" || v == "1"
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		c.LLM.OpenRouterAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

// Validate fails fast on configuration the core cannot run without.
func (c *Config) Validate() error {
	if c.Agent.RecursionLimit <= 0 {
		return fmt.Errorf("agent.recursion_limit (AGENT_RECURSION_LIMIT) is required and must be positive")
	}
	if c.LLM.AnthropicAPIKey == "" && c.LLM.OpenAIAPIKey == "" && c.LLM.OpenRouterAPIKey == "" {
		return fmt.Errorf("at least one model API key must be configured")
	}
	if c.Terraform.BaseDir == "" {
		return fmt.Errorf("terraform.base_dir is required")
	}
	return nil
}
