// Package config loads the platform configuration file (switchboard.yaml)
// describing the gateway, the backing stores and the hosted agents.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML string parsing ("500ms", "1h").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration, or fallback when zero.
func (d Duration) Std(fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return time.Duration(d)
}

// RedisConfig selects the Redis backend. Empty Addr means the in-memory
// stores are used instead.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// HandoffConfig tunes the routing engine.
type HandoffConfig struct {
	AckTimeout         Duration `yaml:"ackTimeout"`
	MaxAttempts        int      `yaml:"maxAttempts"`
	LoopWindow         Duration `yaml:"loopWindow"`
	FallbackCapability string   `yaml:"fallbackCapability"`
	ConsultTimeout     Duration `yaml:"consultTimeout"`
}

// AgentConfig describes one hosted agent.
type AgentConfig struct {
	ID           string            `yaml:"id"`
	Workflow     string            `yaml:"workflow"`
	Capabilities []string          `yaml:"capabilities"`
	Routes       map[string]string `yaml:"routes"`
	QueueSize    int               `yaml:"queueSize"`
}

// ToolServerConfig describes the MCP tool server workflows call into.
type ToolServerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

// Config is the root of switchboard.yaml.
type Config struct {
	Listen       string           `yaml:"listen"`
	WorkflowsDir string           `yaml:"workflowsDir"`
	DefaultAgent string           `yaml:"defaultAgent"`
	SessionTTL   Duration         `yaml:"sessionTTL"`
	Heartbeat    Duration         `yaml:"heartbeat"`
	Redis        RedisConfig      `yaml:"redis"`
	Handoff      HandoffConfig    `yaml:"handoff"`
	Agents       []AgentConfig    `yaml:"agents"`
	ToolServer   ToolServerConfig `yaml:"toolServer"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.WorkflowsDir == "" {
		c.WorkflowsDir = "./workflows"
	}
	if c.DefaultAgent == "" && len(c.Agents) > 0 {
		c.DefaultAgent = c.Agents[0].ID
	}
}

func (c *Config) validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("config declares no agents")
	}
	seen := make(map[string]bool)
	defaultFound := false
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent with empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if a.Workflow == "" {
			return fmt.Errorf("agent %q has no workflow", a.ID)
		}
		if a.ID == c.DefaultAgent {
			defaultFound = true
		}
	}
	if !defaultFound {
		return fmt.Errorf("default agent %q is not declared", c.DefaultAgent)
	}
	return nil
}
