package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: review-swarm
strategy: debate
agents:
  - name: advocate
    capabilities: [argue, research]
  - name: critic
  - name: judge
    role: moderator
messaging:
  max_messages_per_turn: 5
tuning:
  rounds: 4
distributed:
  enabled: true
  timeout: 90s
  store:
    host: redis.internal
    port: 6380
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_FileOverridesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(writeConfig(t, sampleYAML)).Load()
	require.NoError(t, err)

	assert.Equal(t, "review-swarm", cfg.Name)
	assert.Equal(t, StrategyDebate, cfg.Strategy)
	assert.Len(t, cfg.Agents, 3)
	assert.Equal(t, []string{"argue", "research"}, cfg.Agents[0].Capabilities)

	// File value wins over default.
	assert.Equal(t, 5, cfg.Messaging.MaxMessagesPerTurn)
	// Untouched defaults survive.
	assert.Equal(t, 8192, cfg.Messaging.MaxMessageLength)

	assert.True(t, cfg.Distributed.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Distributed.Timeout)
	assert.Equal(t, "redis.internal:6380", cfg.Distributed.Store.Addr())
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	t.Setenv("SWARMFLOW_TUNING_ROUNDS", "7")
	t.Setenv("SWARMFLOW_DISTRIBUTED_STORE_HOST", "other.internal")
	t.Setenv("SWARMFLOW_DISTRIBUTED_TIMEOUT", "45s")
	t.Setenv("SWARMFLOW_BLACKBOARD_TRACK_HISTORY", "true")

	cfg, err := NewLoader().WithConfigPath(writeConfig(t, sampleYAML)).Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Tuning.Rounds)
	assert.Equal(t, "other.internal", cfg.Distributed.Store.Host)
	assert.Equal(t, 45*time.Second, cfg.Distributed.Timeout)
	assert.True(t, cfg.Blackboard.TrackHistory)
}

func TestLoader_MissingFileFailsValidation(t *testing.T) {
	// A missing file is not a read error, but defaults carry no agents, so
	// validation rejects the load.
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).
		Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoader_InvalidYAML(t *testing.T) {
	_, err := NewLoader().WithConfigPath(writeConfig(t, ":\n  - not yaml")).Load()
	require.Error(t, err)
}
