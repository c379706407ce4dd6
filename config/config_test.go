package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/swarmflow/types"
)

func validConfig(strategy Strategy, agents ...AgentConfig) *Config {
	cfg := DefaultConfig()
	cfg.Strategy = strategy
	cfg.Agents = agents
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, StrategyRoundRobin, cfg.Strategy)
	assert.Equal(t, 10, cfg.Messaging.MaxMessagesPerTurn)
	assert.Equal(t, 500, cfg.Messaging.MaxTotalMessages)
	assert.Equal(t, 4, cfg.Resources.MaxConcurrency)
	assert.Equal(t, 300*time.Second, cfg.Distributed.Timeout)
	assert.Equal(t, "swarmflow", cfg.Distributed.Prefix)
	assert.Equal(t, "localhost:6379", cfg.Distributed.Store.Addr())
}

func TestValidate_StrategyMinimums(t *testing.T) {
	t.Parallel()

	single := AgentConfig{Name: "solo"}

	tests := []struct {
		name     string
		strategy Strategy
		agents   []AgentConfig
		wantCode types.ErrorCode
	}{
		{"pipeline single ok", StrategyPipeline, []AgentConfig{single}, ""},
		{"round-robin single ok", StrategyRoundRobin, []AgentConfig{single}, ""},
		{"hierarchical needs two", StrategyHierarchical, []AgentConfig{single}, types.ErrStrategyInvalid},
		{"consensus needs two", StrategyConsensus, []AgentConfig{single}, types.ErrStrategyInvalid},
		{"debate needs two", StrategyDebate, []AgentConfig{single}, types.ErrStrategyInvalid},
		{"unknown strategy", Strategy("mesh"), []AgentConfig{single}, types.ErrStrategyInvalid},
		{"no agents", StrategyPipeline, nil, types.ErrInvalidConfig},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validConfig(tt.strategy, tt.agents...).Validate()
			if tt.wantCode == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
			}
		})
	}
}

func TestValidate_AgentNames(t *testing.T) {
	t.Parallel()

	dup := validConfig(StrategyRoundRobin,
		AgentConfig{Name: "a"}, AgentConfig{Name: "a"})
	err := dup.Validate()
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))

	reserved := validConfig(StrategyRoundRobin, AgentConfig{Name: types.Broadcast})
	require.Error(t, reserved.Validate())

	unnamed := validConfig(StrategyRoundRobin, AgentConfig{})
	require.Error(t, unnamed.Validate())
}

func TestValidate_ConsensusTuning(t *testing.T) {
	t.Parallel()

	cfg := validConfig(StrategyConsensus,
		AgentConfig{Name: "a"}, AgentConfig{Name: "b"})
	cfg.Tuning.Threshold = 1.5
	require.Error(t, cfg.Validate())

	cfg.Tuning.Threshold = 0.66
	cfg.Tuning.MaxRounds = 0
	require.Error(t, cfg.Validate())

	cfg.Tuning.MaxRounds = 3
	require.NoError(t, cfg.Validate())
}

func TestSupervisorAndWorkers(t *testing.T) {
	t.Parallel()

	cfg := validConfig(StrategyHierarchical,
		AgentConfig{Name: "boss", Role: types.RoleSupervisor},
		AgentConfig{Name: "w1", Role: types.RoleWorker},
		AgentConfig{Name: "w2", Role: types.RoleWorker},
	)
	require.NotNil(t, cfg.Supervisor())
	assert.Equal(t, "boss", cfg.Supervisor().Name)
	assert.Len(t, cfg.Workers(), 2)

	// Without roles, everyone but the supervisor is a worker.
	cfg2 := validConfig(StrategyHierarchical,
		AgentConfig{Name: "boss", Role: types.RoleSupervisor},
		AgentConfig{Name: "a"},
		AgentConfig{Name: "b"},
	)
	assert.Len(t, cfg2.Workers(), 2)

	cfg3 := validConfig(StrategyRoundRobin, AgentConfig{Name: "a"})
	assert.Nil(t, cfg3.Supervisor())
}
