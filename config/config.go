// =============================================================================
// 🎯 SwarmFlow core configuration
// =============================================================================
// Every knob of one swarm: strategy, agents, messaging caps, blackboard,
// distributed execution and logging. Defaults and validation live here too.
// =============================================================================
package config

import (
	"fmt"
	"time"

	"github.com/BaSui01/swarmflow/types"
)

// Strategy identifies a coordination topology. The set is closed: each
// constant is paired with exactly one strategy driver in the swarm package.
type Strategy string

const (
	StrategyHierarchical Strategy = "hierarchical"
	StrategyRoundRobin   Strategy = "round-robin"
	StrategyConsensus    Strategy = "consensus"
	StrategyDebate       Strategy = "debate"
	StrategyPipeline     Strategy = "pipeline"
	StrategyAuction      Strategy = "auction"
)

// Strategies lists every supported strategy.
func Strategies() []Strategy {
	return []Strategy{
		StrategyHierarchical,
		StrategyRoundRobin,
		StrategyConsensus,
		StrategyDebate,
		StrategyPipeline,
		StrategyAuction,
	}
}

// minAgents returns the minimum agent count a strategy requires.
func (s Strategy) minAgents() int {
	switch s {
	case StrategyHierarchical, StrategyConsensus, StrategyDebate:
		return 2
	default:
		return 1
	}
}

// AgentConfig declares one agent participating in the swarm. The Runner
// implementation is supplied separately; this is static metadata only.
type AgentConfig struct {
	Name         string          `yaml:"name" env:"NAME"`
	Role         types.AgentRole `yaml:"role" env:"ROLE"`
	Priority     int             `yaml:"priority" env:"PRIORITY"`
	Capabilities []string        `yaml:"capabilities" env:"CAPABILITIES"`
	Instructions string          `yaml:"instructions" env:"INSTRUCTIONS"`
	Model        string          `yaml:"model" env:"MODEL"`
	Provider     string          `yaml:"provider" env:"PROVIDER"`
	Temperature  float32         `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens    int             `yaml:"max_tokens" env:"MAX_TOKENS"`
	// Gate marks a pipeline stage that may short-circuit the run.
	Gate bool `yaml:"gate" env:"GATE"`
}

// MessagingConfig bounds the swarm message bus.
type MessagingConfig struct {
	Enabled            bool   `yaml:"enabled" env:"ENABLED"`
	Protocol           string `yaml:"protocol" env:"PROTOCOL"` // "redis" or "memory"
	MaxMessageLength   int    `yaml:"max_message_length" env:"MAX_MESSAGE_LENGTH"`
	MaxMessagesPerTurn int    `yaml:"max_messages_per_turn" env:"MAX_MESSAGES_PER_TURN"`
	MaxTotalMessages   int    `yaml:"max_total_messages" env:"MAX_TOTAL_MESSAGES"`
}

// BlackboardConfig configures the shared blackboard.
type BlackboardConfig struct {
	Enabled      bool     `yaml:"enabled" env:"ENABLED"`
	Sections     []string `yaml:"sections" env:"SECTIONS"`
	TrackHistory bool     `yaml:"track_history" env:"TRACK_HISTORY"`
}

// ResourcesConfig bounds local concurrency.
type ResourcesConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	EventHistory   int `yaml:"event_history" env:"EVENT_HISTORY"`
}

// RedisConfig is the durable store connection.
type RedisConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Cluster  bool   `yaml:"cluster" env:"CLUSTER"`
	PoolSize int    `yaml:"pool_size" env:"POOL_SIZE"`
}

// Addr returns the host:port address.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DistributedConfig enables remote execution via the job queue.
type DistributedConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	Queue   string        `yaml:"queue" env:"QUEUE"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Prefix  string        `yaml:"prefix" env:"PREFIX"`
	Store   RedisConfig   `yaml:"store" env:"STORE"`
}

// StrategyConfig tunes the per-topology drivers. Fields irrelevant to the
// selected strategy are ignored.
type StrategyConfig struct {
	MaxRounds int     `yaml:"max_rounds" env:"MAX_ROUNDS"` // consensus
	Threshold float64 `yaml:"threshold" env:"THRESHOLD"`   // consensus agreement ratio
	Fallback  string  `yaml:"fallback" env:"FALLBACK"`     // consensus: "supervisor-decides" or "first-answer"
	Rounds    int     `yaml:"rounds" env:"ROUNDS"`         // debate turns
	Sticky    bool    `yaml:"sticky" env:"STICKY"`         // round-robin
	MaxTurns  int     `yaml:"max_turns" env:"MAX_TURNS"`   // round-robin upper bound
}

// LogConfig configures the zap logger built by the facade.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // json or console
}

// Config is the full swarm configuration.
type Config struct {
	Name        string            `yaml:"name" env:"NAME"`
	Strategy    Strategy          `yaml:"strategy" env:"STRATEGY"`
	Agents      []AgentConfig     `yaml:"agents" env:"-"`
	Messaging   MessagingConfig   `yaml:"messaging" env:"MESSAGING"`
	Blackboard  BlackboardConfig  `yaml:"blackboard" env:"BLACKBOARD"`
	Resources   ResourcesConfig   `yaml:"resources" env:"RESOURCES"`
	Distributed DistributedConfig `yaml:"distributed" env:"DISTRIBUTED"`
	Tuning      StrategyConfig    `yaml:"tuning" env:"TUNING"`
	Log         LogConfig         `yaml:"log" env:"LOG"`
}

// DefaultConfig returns the default swarm configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:     "swarm",
		Strategy: StrategyRoundRobin,
		Messaging: MessagingConfig{
			Enabled:            true,
			Protocol:           "memory",
			MaxMessageLength:   8192,
			MaxMessagesPerTurn: 10,
			MaxTotalMessages:   500,
		},
		Blackboard: BlackboardConfig{
			Enabled:      true,
			Sections:     []string{"goals", "findings", "decisions"},
			TrackHistory: false,
		},
		Resources: ResourcesConfig{
			MaxConcurrency: 4,
			EventHistory:   1000,
		},
		Distributed: DistributedConfig{
			Enabled: false,
			Queue:   "default",
			Timeout: 300 * time.Second,
			Prefix:  "swarmflow",
			Store: RedisConfig{
				Host:     "localhost",
				Port:     6379,
				DB:       0,
				PoolSize: 10,
			},
		},
		Tuning: StrategyConfig{
			MaxRounds: 3,
			Threshold: 0.66,
			Fallback:  "supervisor-decides",
			Rounds:    2,
			MaxTurns:  12,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration. It fails synchronously, before any
// coordinator or store connection is created.
func (c *Config) Validate() error {
	if c.Name == "" {
		return types.NewError(types.ErrInvalidConfig, "swarm name is required")
	}

	known := false
	for _, s := range Strategies() {
		if c.Strategy == s {
			known = true
			break
		}
	}
	if !known {
		return types.NewErrorf(types.ErrStrategyInvalid, "unknown strategy %q", c.Strategy)
	}

	if len(c.Agents) == 0 {
		return types.NewError(types.ErrInvalidConfig, "at least one agent is required")
	}
	if min := c.Strategy.minAgents(); len(c.Agents) < min {
		return types.NewErrorf(types.ErrStrategyInvalid,
			"strategy %q requires at least %d agents, got %d", c.Strategy, min, len(c.Agents))
	}

	seen := make(map[string]struct{}, len(c.Agents))
	for i, a := range c.Agents {
		if a.Name == "" {
			return types.NewErrorf(types.ErrInvalidConfig, "agent %d has no name", i)
		}
		if a.Name == types.Broadcast {
			return types.NewErrorf(types.ErrInvalidConfig, "agent name %q is reserved", types.Broadcast)
		}
		if _, dup := seen[a.Name]; dup {
			return types.NewErrorf(types.ErrInvalidConfig, "duplicate agent name %q", a.Name)
		}
		seen[a.Name] = struct{}{}
	}

	if c.Messaging.Enabled {
		if c.Messaging.MaxMessageLength <= 0 {
			return types.NewError(types.ErrInvalidConfig, "messaging.max_message_length must be positive")
		}
		if c.Messaging.MaxMessagesPerTurn <= 0 || c.Messaging.MaxTotalMessages <= 0 {
			return types.NewError(types.ErrInvalidConfig, "messaging caps must be positive")
		}
	}
	if c.Resources.MaxConcurrency <= 0 {
		return types.NewError(types.ErrInvalidConfig, "resources.max_concurrency must be positive")
	}
	if c.Distributed.Enabled && c.Distributed.Timeout <= 0 {
		return types.NewError(types.ErrInvalidConfig, "distributed.timeout must be positive")
	}

	if c.Strategy == StrategyConsensus {
		if c.Tuning.Threshold <= 0 || c.Tuning.Threshold > 1 {
			return types.NewError(types.ErrInvalidConfig, "tuning.threshold must be in (0, 1]")
		}
		if c.Tuning.MaxRounds <= 0 {
			return types.NewError(types.ErrInvalidConfig, "tuning.max_rounds must be positive")
		}
	}
	if c.Strategy == StrategyDebate && c.Tuning.Rounds <= 0 {
		return types.NewError(types.ErrInvalidConfig, "tuning.rounds must be positive")
	}

	return nil
}

// Supervisor returns the first supervisor-role agent, or nil.
func (c *Config) Supervisor() *AgentConfig {
	for i := range c.Agents {
		if c.Agents[i].Role == types.RoleSupervisor {
			return &c.Agents[i]
		}
	}
	return nil
}

// Workers returns all worker-role agents. When no agent declares a role,
// every non-supervisor agent counts as a worker.
func (c *Config) Workers() []AgentConfig {
	var workers []AgentConfig
	for _, a := range c.Agents {
		if a.Role == types.RoleWorker {
			workers = append(workers, a)
		}
	}
	if len(workers) > 0 {
		return workers
	}
	for _, a := range c.Agents {
		if a.Role != types.RoleSupervisor {
			workers = append(workers, a)
		}
	}
	return workers
}
