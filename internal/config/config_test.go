package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "switchboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
listen: ":9090"
workflowsDir: ./flows
defaultAgent: triage
sessionTTL: 1h
heartbeat: 10s
redis:
  addr: localhost:6379
  prefix: "sb:"
handoff:
  ackTimeout: 500ms
  maxAttempts: 3
  loopWindow: 60s
  fallbackCapability: triage
  consultTimeout: 5s
agents:
  - id: triage
    workflow: triage
    capabilities: [triage]
    routes:
      banking: banking
      mortgage: mortgage
  - id: banking
    workflow: banking
    capabilities: [banking]
    queueSize: 64
toolServer:
  command: ./tools-server
  args: ["--stdio"]
`))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "./flows", cfg.WorkflowsDir)
	assert.Equal(t, "triage", cfg.DefaultAgent)
	assert.Equal(t, time.Hour, cfg.SessionTTL.Std(0))
	assert.Equal(t, 500*time.Millisecond, cfg.Handoff.AckTimeout.Std(0))
	assert.Equal(t, 3, cfg.Handoff.MaxAttempts)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, map[string]string{"banking": "banking", "mortgage": "mortgage"}, cfg.Agents[0].Routes)
	assert.Equal(t, 64, cfg.Agents[1].QueueSize)
	assert.Equal(t, "./tools-server", cfg.ToolServer.Command)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
agents:
  - id: triage
    workflow: triage
`))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "./workflows", cfg.WorkflowsDir)
	// First agent becomes the default when none is named.
	assert.Equal(t, "triage", cfg.DefaultAgent)
}

func TestDurationStdFallback(t *testing.T) {
	var d Duration
	assert.Equal(t, time.Minute, d.Std(time.Minute))
	d = Duration(time.Second)
	assert.Equal(t, time.Second, d.Std(time.Minute))
}

func TestLoadRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no agents", `listen: ":8080"`},
		{"empty agent id", "agents:\n  - workflow: w\n"},
		{"duplicate agent id", "agents:\n  - id: a\n    workflow: w\n  - id: a\n    workflow: w\n"},
		{"missing workflow", "agents:\n  - id: a\n"},
		{"unknown default agent", "defaultAgent: ghost\nagents:\n  - id: a\n    workflow: w\n"},
		{"bad duration", "sessionTTL: soon\nagents:\n  - id: a\n    workflow: w\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.raw))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
