package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/comm"
	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/types"
)

// DistributedCoordinator executes agents through a Redis-backed worker
// fleet. A dispatch pushes a JobPayload onto the queue and waits for
// the matching JobResult on the swarm's results channel. Correlation
// is by agent name: at most one dispatch per agent may be outstanding,
// and a delivered result removes its correlation entry before the
// waiter is woken, so a result can never satisfy two waiters.
type DistributedCoordinator struct {
	*roster

	ns          comm.Namespace
	client      redis.UniversalClient
	queue       string
	timeout     time.Duration
	concurrency int
	stateKeys   []string

	events  *comm.EventEmitter
	logger  *zap.Logger
	metrics *metrics.Collector

	pmu     sync.Mutex
	pending map[string]chan *types.JobResult
	closed  bool
	pubsub  *redis.PubSub
}

var _ Coordinator = (*DistributedCoordinator)(nil)

// NewDistributedCoordinator builds a coordinator over the configured
// Redis store. Agents have no local runners; their configuration is
// serialized into each job so workers can reconstruct the invocation.
func NewDistributedCoordinator(cfg *config.Config, ns comm.Namespace, client redis.UniversalClient, events *comm.EventEmitter, logger *zap.Logger, collector *metrics.Collector) *DistributedCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &DistributedCoordinator{
		roster:      newRoster(),
		ns:          ns,
		client:      client,
		queue:       cfg.Distributed.Queue,
		timeout:     cfg.Distributed.Timeout,
		concurrency: cfg.Resources.MaxConcurrency,
		stateKeys:   cfg.Blackboard.Sections,
		events:      events,
		logger:      logger.With(zap.String("component", "distributed_coordinator")),
		metrics:     collector,
		pending:     make(map[string]chan *types.JobResult),
	}
	for _, ac := range cfg.Agents {
		c.add(newSwarmAgent(ac, nil))
	}
	return c
}

// Initialize verifies the store connection and starts the single
// results subscriber that resolves outstanding dispatches.
func (c *DistributedCoordinator) Initialize(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return types.NewError(types.ErrStoreUnavail, "results store unreachable").WithCause(err)
	}
	c.pubsub = c.client.Subscribe(context.Background(), c.ns.Results())
	if _, err := c.pubsub.Receive(ctx); err != nil {
		return types.NewError(types.ErrStoreUnavail, "results subscription failed").WithCause(err)
	}
	go c.resolveResults(c.pubsub.Channel())
	return nil
}

func (c *DistributedCoordinator) resolveResults(ch <-chan *redis.Message) {
	for m := range ch {
		var res types.JobResult
		if err := json.Unmarshal([]byte(m.Payload), &res); err != nil {
			c.logger.Warn("discarding malformed job result", zap.Error(err))
			continue
		}
		c.pmu.Lock()
		waiter, ok := c.pending[res.AgentName]
		if ok {
			delete(c.pending, res.AgentName)
		}
		c.pmu.Unlock()
		if !ok {
			// Late result for a timed-out or unknown dispatch.
			c.logger.Debug("dropping uncorrelated job result",
				zap.String("agent", res.AgentName), zap.String("job_id", res.JobID))
			continue
		}
		waiter <- &res
	}
}

// RunAgent dispatches one agent invocation to the worker fleet and
// blocks until its result arrives or the dispatch times out. A timed
// out job is not cancelled on the worker side; its late result is
// dropped by the resolver.
func (c *DistributedCoordinator) RunAgent(ctx context.Context, name, input string, rc *types.RunContext) (*types.RunResult, error) {
	agent, ok := c.Agent(name)
	if !ok {
		return nil, types.NewError(types.ErrAgentNotFound, fmt.Sprintf("unknown agent %q", name)).WithAgent(name)
	}
	if err := c.admit(ctx); err != nil {
		return nil, err
	}

	waiter := make(chan *types.JobResult, 1)
	c.pmu.Lock()
	if c.closed {
		c.pmu.Unlock()
		return nil, types.NewError(types.ErrStoreClosed, "coordinator is closed")
	}
	if _, busy := c.pending[name]; busy {
		c.pmu.Unlock()
		return nil, types.NewError(types.ErrDispatchPending,
			fmt.Sprintf("agent %q already has a dispatch in flight", name)).WithAgent(name)
	}
	c.pending[name] = waiter
	c.pmu.Unlock()

	payload := c.buildPayload(agent, input, rc)
	data, err := json.Marshal(payload)
	if err != nil {
		c.unregister(name)
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	agent.markRunning()
	c.events.Emit(types.EventAgentStart, map[string]any{"job_id": payload.JobID}, name)

	started := time.Now()
	if err := c.client.RPush(ctx, c.ns.Jobs(c.queue), data).Err(); err != nil {
		c.unregister(name)
		agent.markFailed()
		c.metrics.RecordDispatch(name, "enqueue_failed", time.Since(started))
		return nil, types.NewError(types.ErrStoreUnavail, "job enqueue failed").WithCause(err).WithAgent(name)
	}
	c.events.Emit(types.EventJobDispatched, map[string]any{"job_id": payload.JobID, "queue": c.queue}, name)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res, open := <-waiter:
		if !open {
			agent.markFailed()
			return nil, types.NewError(types.ErrStoreClosed, "coordinator closed while waiting").WithAgent(name)
		}
		elapsed := time.Since(started)
		c.events.Emit(types.EventJobResult, map[string]any{"job_id": res.JobID}, name)
		if res.Error != "" {
			agent.markFailed()
			c.events.Emit(types.EventAgentError, map[string]any{"error": res.Error}, name)
			c.metrics.RecordDispatch(name, "worker_error", elapsed)
			return nil, types.NewError(types.ErrWorkerError, res.Error).WithAgent(name).WithRetryable(true)
		}
		rr := res.ToRunResult()
		agent.markCompleted(rr)
		c.events.Emit(types.EventAgentComplete, map[string]any{"tokens": rr.Usage.TotalTokens}, name)
		c.metrics.RecordDispatch(name, "completed", elapsed)
		return rr, nil

	case <-timer.C:
		c.unregister(name)
		agent.markFailed()
		c.metrics.RecordDispatch(name, "timeout", time.Since(started))
		return nil, types.NewError(types.ErrDispatchTimeout,
			fmt.Sprintf("no result for agent %q within %s", name, c.timeout)).WithAgent(name).WithRetryable(true)

	case <-ctx.Done():
		c.unregister(name)
		agent.markFailed()
		c.metrics.RecordDispatch(name, "cancelled", time.Since(started))
		return nil, ctx.Err()
	}
}

// RunAgentsParallel dispatches the requests in fixed-size windows so no
// more than concurrency jobs are ever outstanding.
func (c *DistributedCoordinator) RunAgentsParallel(ctx context.Context, reqs []RunRequest, concurrency int) map[string]*types.RunResult {
	if concurrency <= 0 {
		concurrency = c.concurrency
	}
	return runWindows(ctx, c, reqs, concurrency, c.logger)
}

// Close stops the results subscriber and fails any dispatch still
// waiting. It is safe to call more than once.
func (c *DistributedCoordinator) Close() error {
	c.pmu.Lock()
	if c.closed {
		c.pmu.Unlock()
		return nil
	}
	c.closed = true
	for name, waiter := range c.pending {
		delete(c.pending, name)
		close(waiter)
	}
	c.pmu.Unlock()

	if c.pubsub != nil {
		return c.pubsub.Close()
	}
	return nil
}

func (c *DistributedCoordinator) buildPayload(agent *SwarmAgent, input string, rc *types.RunContext) *types.JobPayload {
	cfg := agent.Config()
	provider := cfg.Provider
	if provider == "" {
		provider = types.InferProvider(cfg.Model)
	}
	if rc == nil {
		rc = &types.RunContext{}
	}
	if rc.SwarmID == "" {
		rc.SwarmID = c.ns.SwarmID
	}
	if rc.Role == types.RoleNone {
		rc.Role = cfg.Role
	}
	return &types.JobPayload{
		Type:      types.JobType,
		JobID:     uuid.NewString(),
		SwarmID:   c.ns.SwarmID,
		AgentName: cfg.Name,
		Agent: types.AgentSpec{
			Instructions: cfg.Instructions,
			Model:        cfg.Model,
			Provider:     provider,
			Temperature:  cfg.Temperature,
			MaxTokens:    cfg.MaxTokens,
		},
		Input:     input,
		Context:   rc,
		StateKeys: c.stateKeys,
	}
}

func (c *DistributedCoordinator) unregister(name string) {
	c.pmu.Lock()
	delete(c.pending, name)
	c.pmu.Unlock()
}
