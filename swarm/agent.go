package swarm

import (
	"strings"
	"sync"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/types"
)

// SwarmAgent wraps a configured agent with the runtime state the
// coordinator tracks for it: lifecycle state, token spend, message
// count and the most recent result. All mutation happens through the
// coordinator; strategy drivers read through the accessor methods.
type SwarmAgent struct {
	mu sync.RWMutex

	cfg    config.AgentConfig
	runner types.Runner // nil when execution is remote

	state        types.AgentState
	messageCount int
	tokenCount   int
	lastResult   *types.RunResult
}

func newSwarmAgent(cfg config.AgentConfig, runner types.Runner) *SwarmAgent {
	return &SwarmAgent{cfg: cfg, runner: runner, state: types.StateIdle}
}

// Name returns the agent's unique name.
func (a *SwarmAgent) Name() string { return a.cfg.Name }

// Role returns the configured role.
func (a *SwarmAgent) Role() types.AgentRole { return a.cfg.Role }

// Priority returns the configured priority; higher wins ties.
func (a *SwarmAgent) Priority() int { return a.cfg.Priority }

// Capabilities returns the configured capability tags.
func (a *SwarmAgent) Capabilities() []string { return a.cfg.Capabilities }

// Config returns the agent's static configuration.
func (a *SwarmAgent) Config() config.AgentConfig { return a.cfg }

// State returns the current lifecycle state.
func (a *SwarmAgent) State() types.AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// TokenCount returns the tokens consumed across all invocations.
func (a *SwarmAgent) TokenCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tokenCount
}

// MessageCount returns the number of bus messages the agent has sent.
func (a *SwarmAgent) MessageCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.messageCount
}

// LastResult returns the most recent run result, or nil before the
// first completed invocation.
func (a *SwarmAgent) LastResult() *types.RunResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastResult
}

func (a *SwarmAgent) markRunning() {
	a.mu.Lock()
	a.state = types.StateRunning
	a.mu.Unlock()
}

func (a *SwarmAgent) markCompleted(res *types.RunResult) {
	a.mu.Lock()
	a.state = types.StateCompleted
	a.lastResult = res
	if res != nil {
		a.tokenCount += res.Usage.TotalTokens
	}
	a.mu.Unlock()
}

func (a *SwarmAgent) markFailed() {
	a.mu.Lock()
	a.state = types.StateFailed
	a.mu.Unlock()
}

func (a *SwarmAgent) recordMessage() {
	a.mu.Lock()
	a.messageCount++
	a.mu.Unlock()
}

// reset returns the agent to its pre-run state. Role, priority and
// capabilities are static configuration and survive the reset.
func (a *SwarmAgent) reset() {
	a.mu.Lock()
	a.state = types.StateIdle
	a.messageCount = 0
	a.tokenCount = 0
	a.lastResult = nil
	a.mu.Unlock()
}

// bid scores the agent's fitness for the given input. Runners that
// implement types.Bidder are asked directly; otherwise the score is
// the fraction of capability tags that appear in the input.
func (a *SwarmAgent) bid(input string) float64 {
	if b, ok := a.runner.(types.Bidder); ok {
		return b.Bid(input)
	}
	if len(a.cfg.Capabilities) == 0 {
		return 0
	}
	lower := strings.ToLower(input)
	matched := 0
	for _, cap := range a.cfg.Capabilities {
		if cap != "" && strings.Contains(lower, strings.ToLower(cap)) {
			matched++
		}
	}
	return float64(matched) / float64(len(a.cfg.Capabilities))
}
