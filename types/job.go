package types

import "strings"

// JobType is the only payload type the swarm job queue carries today.
const JobType = "swarm-agent"

// AgentSpec is the serialized agent configuration shipped with a job so a
// worker can reconstruct the invocation without sharing process state.
type AgentSpec struct {
	Instructions string       `json:"instructions,omitempty"`
	Model        string       `json:"model,omitempty"`
	Provider     string       `json:"provider,omitempty"`
	Temperature  float32      `json:"temperature,omitempty"`
	MaxTokens    int          `json:"max_tokens,omitempty"`
	Tools        []ToolSchema `json:"tools,omitempty"`
}

// JobPayload is the wire format for one remote agent invocation. A payload
// is consumed exactly once by one worker; execution itself is at-least-once
// because a timed-out dispatch is never cancelled on the worker side.
type JobPayload struct {
	Type      string      `json:"type"` // always JobType
	JobID     string      `json:"job_id"`
	SwarmID   string      `json:"swarm_id"`
	AgentName string      `json:"agent_name"`
	Agent     AgentSpec   `json:"agent_config"`
	Input     string      `json:"input"`
	Context   *RunContext `json:"context,omitempty"`
	StateKeys []string    `json:"state_keys,omitempty"`
}

// JobUsage is the worker-reported token accounting for one job.
type JobUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// JobResult is the wire format for one remote invocation outcome. Once a
// result is delivered to a waiter its correlation entry is deleted, so a
// JobResult can never satisfy two waiters.
type JobResult struct {
	JobID      string         `json:"job_id,omitempty"`
	SwarmID    string         `json:"swarm_id"`
	AgentName  string         `json:"agent_name"`
	Output     string         `json:"output"`
	Structured map[string]any `json:"structured,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	TokenUsage JobUsage       `json:"token_usage"`
	Error      string         `json:"error,omitempty"`
}

// ToRunResult maps a worker result into the RunResult shape local execution
// produces, keeping strategy drivers agnostic to execution location.
func (r *JobResult) ToRunResult() *RunResult {
	return &RunResult{
		Output:     r.Output,
		Structured: r.Structured,
		ToolCalls:  r.ToolCalls,
		Usage: TokenUsage{
			PromptTokens:     r.TokenUsage.Prompt,
			CompletionTokens: r.TokenUsage.Completion,
			TotalTokens:      r.TokenUsage.Total,
		},
	}
}

// InferProvider guesses the provider for a model name when the configuration
// does not pin one. Unknown models fall through to "openai".
func InferProvider(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "gemini"):
		return "google"
	case strings.HasPrefix(m, "deepseek"):
		return "deepseek"
	case strings.HasPrefix(m, "qwen"):
		return "qwen"
	case strings.HasPrefix(m, "glm"):
		return "zhipu"
	case strings.HasPrefix(m, "llama"):
		return "meta"
	default:
		return "openai"
	}
}
