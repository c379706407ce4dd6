package types

import "context"

// AgentState is the lifecycle state of an agent inside a swarm.
// Transitions only move forward (idle -> running -> completed/failed);
// the only way back to idle is an explicit coordinator reset.
type AgentState string

const (
	StateIdle      AgentState = "idle"
	StateRunning   AgentState = "running"
	StateCompleted AgentState = "completed"
	StateFailed    AgentState = "failed"
)

// AgentRole is the topology role an agent plays in its swarm.
type AgentRole string

const (
	RoleNone       AgentRole = ""
	RoleSupervisor AgentRole = "supervisor"
	RoleWorker     AgentRole = "worker"
	RoleModerator  AgentRole = "moderator"
	RoleRouter     AgentRole = "router"
)

// Runner is the minimal agent execution contract consumed by the engine.
// The agent's own reasoning/tool loop is opaque: the swarm only provides an
// input plus run context and receives a structured result.
type Runner interface {
	// Name returns the agent's unique name within its swarm.
	Name() string
	// Run executes the agent with the given input.
	Run(ctx context.Context, input string, rc *RunContext) (*RunResult, error)
}

// Bidder is an optional interface for runners that can self-assess how well
// they match an input. Auction strategies invoke Bid without executing the
// agent; a plain Runner is scored from its configured capabilities instead.
type Bidder interface {
	Bid(input string) float64
}

// RunContext carries swarm-level context into a single agent invocation.
type RunContext struct {
	SwarmID string         `json:"swarm_id"`
	Role    AgentRole      `json:"role,omitempty"`
	Round   int            `json:"round,omitempty"`
	Peers   []string       `json:"peers,omitempty"`
	Shared  map[string]any `json:"shared,omitempty"`
}

// RunResult is the structured outcome of one agent invocation. Local and
// distributed execution produce the same shape, so strategy drivers never
// know where an agent actually ran.
type RunResult struct {
	Output     string         `json:"output"`
	Structured map[string]any `json:"structured,omitempty"`
	Usage      TokenUsage     `json:"usage,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
}

// ToolCall records one tool invocation reported by an agent.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
	Result    string `json:"result,omitempty"`
}

// ToolSchema describes a tool made available to a remotely executed agent.
type ToolSchema struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  string `json:"parameters,omitempty"` // JSON schema
}
