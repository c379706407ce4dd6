package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/swarmflow/comm"
	"github.com/BaSui01/swarmflow/types"
)

// Handler executes a job payload when no runner is registered for its
// agent name.
type Handler func(ctx context.Context, job *types.JobPayload) (*types.RunResult, error)

// WorkerConfig tunes one worker process.
type WorkerConfig struct {
	Queue     string
	RateLimit rate.Limit // jobs per second, 0 means unlimited
	Burst     int
}

// Worker consumes agent jobs from the swarm queue, executes them and
// publishes the result on the swarm's results channel. Execution is
// at-least-once: a job popped by a crashed worker is lost to the queue
// but its dispatcher times out and may retry.
type Worker struct {
	ns      comm.Namespace
	client  redis.UniversalClient
	queue   string
	limiter *rate.Limiter
	logger  *zap.Logger

	runners  map[string]types.Runner
	fallback Handler
}

// NewWorker builds a worker for one swarm namespace.
func NewWorker(ns comm.Namespace, client redis.UniversalClient, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Worker{
		ns:      ns,
		client:  client,
		queue:   cfg.Queue,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With(zap.String("component", "worker")),
		runners: make(map[string]types.Runner),
	}
}

// Register installs a runner for one agent name.
func (w *Worker) Register(r types.Runner) {
	w.runners[r.Name()] = r
}

// SetFallback installs the handler used for agent names with no
// registered runner.
func (w *Worker) SetFallback(h Handler) {
	w.fallback = h
}

// Serve blocks consuming jobs until the context is cancelled.
func (w *Worker) Serve(ctx context.Context) error {
	jobsKey := w.ns.Jobs(w.queue)
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		vals, err := w.client.BLPop(ctx, time.Second, jobsKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("queue pop failed", zap.Error(err))
			continue
		}
		if len(vals) < 2 {
			continue
		}

		var job types.JobPayload
		if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
			w.logger.Warn("discarding malformed job", zap.Error(err))
			continue
		}
		w.publish(ctx, w.execute(ctx, &job))
	}
}

// ServeOne pops and executes a single job. Used by tests and one-shot
// invocations.
func (w *Worker) ServeOne(ctx context.Context) error {
	vals, err := w.client.BLPop(ctx, time.Second, w.ns.Jobs(w.queue)).Result()
	if err != nil {
		return err
	}
	var job types.JobPayload
	if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
		return err
	}
	return w.publish(ctx, w.execute(ctx, &job))
}

func (w *Worker) execute(ctx context.Context, job *types.JobPayload) *types.JobResult {
	result := &types.JobResult{
		JobID:     job.JobID,
		SwarmID:   job.SwarmID,
		AgentName: job.AgentName,
	}

	var (
		res *types.RunResult
		err error
	)
	if runner, ok := w.runners[job.AgentName]; ok {
		res, err = runner.Run(ctx, job.Input, job.Context)
	} else if w.fallback != nil {
		res, err = w.fallback(ctx, job)
	} else {
		err = types.NewError(types.ErrAgentNotFound,
			"no runner or fallback for agent").WithAgent(job.AgentName)
	}

	if err == nil && res == nil {
		err = types.NewError(types.ErrNilResult, "runner returned neither result nor error").WithAgent(job.AgentName)
	}
	if err != nil {
		result.Error = err.Error()
		w.logger.Warn("job failed",
			zap.String("agent", job.AgentName), zap.String("job_id", job.JobID), zap.Error(err))
		return result
	}

	result.Output = res.Output
	result.Structured = res.Structured
	result.ToolCalls = res.ToolCalls
	result.TokenUsage = types.JobUsage{
		Prompt:     res.Usage.PromptTokens,
		Completion: res.Usage.CompletionTokens,
		Total:      res.Usage.TotalTokens,
	}
	return result
}

// publish fans the result out to the dispatching swarm. The channel is
// derived from the job's own swarm ID so a worker shared across swarms
// always answers the right one.
func (w *Worker) publish(ctx context.Context, result *types.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	resultsKey := comm.NewNamespace(w.ns.Prefix, result.SwarmID).Results()
	if err := w.client.Publish(ctx, resultsKey, data).Err(); err != nil {
		w.logger.Warn("result publish failed",
			zap.String("agent", result.AgentName), zap.Error(err))
		return err
	}
	return nil
}
