package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/swarmflow/comm"
	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/types"
)

// RunRequest names an agent to execute together with its input.
type RunRequest struct {
	AgentName string
	Input     string
	Context   *types.RunContext
}

// Coordinator executes agents on behalf of a strategy driver. The
// local implementation runs them in-process; the distributed one
// dispatches jobs to a Redis-backed worker fleet. Both honour the same
// lifecycle controls: Pause blocks new invocations until Resume, Abort
// rejects them permanently, and Reset returns the coordinator and
// every agent to the initial state.
type Coordinator interface {
	RunAgent(ctx context.Context, name, input string, rc *types.RunContext) (*types.RunResult, error)
	RunAgentsParallel(ctx context.Context, reqs []RunRequest, concurrency int) map[string]*types.RunResult
	Agent(name string) (*SwarmAgent, bool)
	AgentNames() []string
	Pause()
	Resume()
	Abort()
	Reset()
	Close() error
}

// roster holds the agent registry plus the pause/abort gate shared by
// both coordinator implementations.
type roster struct {
	mu      sync.RWMutex
	agents  map[string]*SwarmAgent
	order   []string
	paused  bool
	aborted bool
	resume  chan struct{}
}

func newRoster() *roster {
	ch := make(chan struct{})
	close(ch)
	return &roster{agents: make(map[string]*SwarmAgent), resume: ch}
}

func (r *roster) add(a *SwarmAgent) {
	r.mu.Lock()
	r.agents[a.Name()] = a
	r.order = append(r.order, a.Name())
	r.mu.Unlock()
}

// Agent returns the named agent's runtime wrapper.
func (r *roster) Agent(name string) (*SwarmAgent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// AgentNames returns agent names in configuration order.
func (r *roster) AgentNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Pause holds back any invocation that has not started yet. Agents
// already executing run to completion.
func (r *roster) Pause() {
	r.mu.Lock()
	if !r.paused {
		r.paused = true
		r.resume = make(chan struct{})
	}
	r.mu.Unlock()
}

// Resume releases invocations blocked by Pause.
func (r *roster) Resume() {
	r.mu.Lock()
	if r.paused {
		r.paused = false
		close(r.resume)
	}
	r.mu.Unlock()
}

// Abort permanently rejects new invocations, including any currently
// blocked on a pause.
func (r *roster) Abort() {
	r.mu.Lock()
	r.aborted = true
	if r.paused {
		r.paused = false
		close(r.resume)
	}
	r.mu.Unlock()
}

// Reset clears the abort flag and returns every agent to idle.
func (r *roster) Reset() {
	r.mu.Lock()
	r.aborted = false
	if r.paused {
		r.paused = false
		close(r.resume)
	}
	for _, a := range r.agents {
		a.reset()
	}
	r.mu.Unlock()
}

// admit blocks while the coordinator is paused and rejects when it has
// been aborted. It returns only once the invocation may start.
func (r *roster) admit(ctx context.Context) error {
	for {
		r.mu.RLock()
		aborted, paused, resume := r.aborted, r.paused, r.resume
		r.mu.RUnlock()
		if aborted {
			return types.NewError(types.ErrSwarmAborted, "swarm aborted")
		}
		if !paused {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resume:
		}
	}
}

// LocalCoordinator executes agents in-process via their registered
// runners.
type LocalCoordinator struct {
	*roster

	concurrency int
	events      *comm.EventEmitter
	logger      *zap.Logger
	metrics     *metrics.Collector
}

var _ Coordinator = (*LocalCoordinator)(nil)

// NewLocalCoordinator builds a coordinator from the swarm config and a
// runner per configured agent. Every agent must have a runner.
func NewLocalCoordinator(cfg *config.Config, runners map[string]types.Runner, events *comm.EventEmitter, logger *zap.Logger, collector *metrics.Collector) (*LocalCoordinator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &LocalCoordinator{
		roster:      newRoster(),
		concurrency: cfg.Resources.MaxConcurrency,
		events:      events,
		logger:      logger.With(zap.String("component", "coordinator")),
		metrics:     collector,
	}
	for _, ac := range cfg.Agents {
		runner, ok := runners[ac.Name]
		if !ok {
			return nil, types.NewError(types.ErrAgentNotFound,
				fmt.Sprintf("no runner registered for agent %q", ac.Name))
		}
		c.add(newSwarmAgent(ac, runner))
	}
	return c, nil
}

// RunAgent executes one agent and records its lifecycle: state
// transitions, events and metrics. The runner's error is returned
// wrapped so callers can still unwrap typed causes.
func (c *LocalCoordinator) RunAgent(ctx context.Context, name, input string, rc *types.RunContext) (*types.RunResult, error) {
	agent, ok := c.Agent(name)
	if !ok {
		return nil, types.NewError(types.ErrAgentNotFound, fmt.Sprintf("unknown agent %q", name)).WithAgent(name)
	}
	if err := c.admit(ctx); err != nil {
		return nil, err
	}

	rc = c.fillContext(agent, rc)
	agent.markRunning()
	c.events.Emit(types.EventAgentStart, map[string]any{"input_len": len(input)}, name)

	started := time.Now()
	res, err := agent.runner.Run(ctx, input, rc)
	elapsed := time.Since(started)

	if err == nil && res == nil {
		err = types.NewError(types.ErrNilResult, "runner returned neither result nor error").WithAgent(name)
	}
	if err != nil {
		agent.markFailed()
		c.events.Emit(types.EventAgentError, map[string]any{"error": err.Error()}, name)
		c.metrics.RecordAgentRun(name, "failed", elapsed, 0)
		c.logger.Warn("agent run failed", zap.String("agent", name), zap.Error(err))
		return nil, fmt.Errorf("agent %q: %w", name, err)
	}

	agent.markCompleted(res)
	c.events.Emit(types.EventAgentComplete, map[string]any{"tokens": res.Usage.TotalTokens}, name)
	c.metrics.RecordAgentRun(name, "completed", elapsed, res.Usage.TotalTokens)
	return res, nil
}

// RunAgentsParallel executes the requests in fixed-size windows so no
// more than concurrency agents are ever in flight. Failed agents are
// logged and omitted from the result map; the rest still settle.
func (c *LocalCoordinator) RunAgentsParallel(ctx context.Context, reqs []RunRequest, concurrency int) map[string]*types.RunResult {
	if concurrency <= 0 {
		concurrency = c.concurrency
	}
	return runWindows(ctx, c, reqs, concurrency, c.logger)
}

// Close is a no-op for in-process execution.
func (c *LocalCoordinator) Close() error { return nil }

func (c *LocalCoordinator) fillContext(agent *SwarmAgent, rc *types.RunContext) *types.RunContext {
	if rc == nil {
		rc = &types.RunContext{}
	}
	if rc.Role == types.RoleNone {
		rc.Role = agent.Role()
	}
	if rc.Peers == nil {
		rc.Peers = c.peersOf(agent.Name())
	}
	return rc
}

func (c *LocalCoordinator) peersOf(name string) []string {
	var peers []string
	for _, n := range c.AgentNames() {
		if n != name {
			peers = append(peers, n)
		}
	}
	return peers
}

// runWindows is the shared parallel-execution loop. Each window waits
// for every member to settle before the next one starts, so the
// concurrency bound holds regardless of per-agent latency.
func runWindows(ctx context.Context, c Coordinator, reqs []RunRequest, concurrency int, logger *zap.Logger) map[string]*types.RunResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make(map[string]*types.RunResult, len(reqs))
	var mu sync.Mutex

	for start := 0; start < len(reqs); start += concurrency {
		end := start + concurrency
		if end > len(reqs) {
			end = len(reqs)
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, req := range reqs[start:end] {
			req := req
			g.Go(func() error {
				res, err := c.RunAgent(gctx, req.AgentName, req.Input, req.Context)
				if err != nil {
					logger.Warn("parallel run rejected",
						zap.String("agent", req.AgentName), zap.Error(err))
					return nil
				}
				mu.Lock()
				results[req.AgentName] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}
	return results
}
