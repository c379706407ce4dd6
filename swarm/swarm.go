package swarm

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/comm"
	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/types"
)

// Status is the lifecycle state of a swarm run. It only moves forward
// (idle -> running -> completed/failed); Reset is the only way back.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Option customizes swarm construction.
type Option func(*Swarm)

// WithLogger sets the logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Swarm) { s.logger = logger }
}

// WithMetrics sets the metrics collector; nil disables metrics.
func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Swarm) { s.metrics = collector }
}

// WithMetricsNamespace creates a Prometheus collector registered under
// the given namespace on the default registry.
func WithMetricsNamespace(namespace string) Option {
	return func(s *Swarm) { s.metrics = metrics.NewCollector(namespace, s.logger) }
}

// WithClient injects a Redis client instead of dialing the configured
// store. The swarm will not close an injected client.
func WithClient(client redis.UniversalClient) Option {
	return func(s *Swarm) { s.client = client }
}

// WithSwarmID pins the swarm ID; the default is a fresh UUID per swarm
// so concurrent swarms on one store never share keys.
func WithSwarmID(id string) Option {
	return func(s *Swarm) { s.id = id }
}

// Swarm is one configured multi-agent run: the communication fabric,
// the coordinator and the strategy driver behind a single Run call.
type Swarm struct {
	cfg    *config.Config
	id     string
	driver Driver

	coordinator Coordinator
	bus         *comm.MessageBus
	board       *comm.Blackboard
	events      *comm.EventEmitter

	client     redis.UniversalClient
	ownsClient bool
	logger     *zap.Logger
	metrics    *metrics.Collector

	mu     sync.Mutex
	status Status

	closeOnce sync.Once
	closeErr  error
}

// New validates the configuration and assembles a swarm. For local
// execution every configured agent needs a runner; for distributed
// execution runners live in the worker fleet and may be nil here.
func New(cfg *config.Config, runners map[string]types.Runner, opts ...Option) (*Swarm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Swarm{cfg: cfg, status: StatusIdle}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.logger = s.logger.With(zap.String("swarm", cfg.Name), zap.String("swarm_id", s.id))

	driver, err := driverFor(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	s.driver = driver

	needsStore := cfg.Distributed.Enabled || cfg.Messaging.Protocol == "redis"
	if s.client == nil && needsStore {
		store := cfg.Distributed.Store
		s.client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{store.Addr()},
			Password: store.Password,
			DB:       store.DB,
			PoolSize: store.PoolSize,
		})
		s.ownsClient = true
	}

	ns := comm.NewNamespace(cfg.Distributed.Prefix, s.id)

	var storeClient redis.UniversalClient
	if needsStore {
		storeClient = s.client
	}
	s.events = comm.NewEventEmitter(ns, storeClient, cfg.Resources.EventHistory, s.logger, s.metrics)
	s.bus = comm.NewMessageBus(ns, storeClient, comm.BusConfig{
		MaxMessageLength:   cfg.Messaging.MaxMessageLength,
		MaxMessagesPerTurn: cfg.Messaging.MaxMessagesPerTurn,
		MaxTotalMessages:   cfg.Messaging.MaxTotalMessages,
	}, s.logger, s.metrics)
	s.board = comm.NewBlackboard(ns, storeClient, comm.BlackboardConfig{
		Sections:     cfg.Blackboard.Sections,
		TrackHistory: cfg.Blackboard.TrackHistory,
	}, s.logger, s.metrics)

	if cfg.Distributed.Enabled {
		s.coordinator = NewDistributedCoordinator(cfg, ns, s.client, s.events, s.logger, s.metrics)
	} else {
		s.coordinator, err = NewLocalCoordinator(cfg, runners, s.events, s.logger, s.metrics)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Initialize connects the communication fabric. It must be called once
// before Run when a Redis store is configured; local-only swarms may
// skip it.
func (s *Swarm) Initialize(ctx context.Context) error {
	if err := s.bus.Initialize(ctx); err != nil {
		return err
	}
	if err := s.board.Initialize(ctx); err != nil {
		return err
	}
	if dc, ok := s.coordinator.(*DistributedCoordinator); ok {
		if err := dc.Initialize(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the configured strategy once. A swarm runs from idle
// only; call Reset between runs. A pipeline gate rejection returns the
// partial Outcome together with the error.
func (s *Swarm) Run(ctx context.Context, input string) (*Outcome, error) {
	s.mu.Lock()
	if s.status != StatusIdle {
		status := s.status
		s.mu.Unlock()
		return nil, types.NewErrorf(types.ErrSwarmBusy, "swarm is %s; reset before running again", status)
	}
	s.status = StatusRunning
	s.mu.Unlock()

	s.events.Emit(types.EventSwarmStart, map[string]any{
		"strategy": string(s.cfg.Strategy),
		"agents":   len(s.cfg.Agents),
	})
	s.logger.Info("swarm run started", zap.String("strategy", string(s.cfg.Strategy)))

	env := &Env{
		Config:      s.cfg,
		Coordinator: s.coordinator,
		Bus:         s.bus,
		Board:       s.board,
		Events:      s.events,
		Logger:      s.logger,
	}
	out, err := s.driver(ctx, env, input)

	s.mu.Lock()
	final := StatusCompleted
	if err != nil {
		final = StatusFailed
	}
	s.status = final
	s.mu.Unlock()

	data := map[string]any{"status": string(final)}
	if out != nil {
		data["rounds"] = out.Rounds
	}
	if err != nil {
		data["error"] = err.Error()
		s.logger.Warn("swarm run failed", zap.Error(err))
	} else {
		s.logger.Info("swarm run completed", zap.Int("rounds", out.Rounds))
	}
	s.events.Emit(types.EventSwarmComplete, data)
	return out, err
}

// ID returns the unique swarm ID.
func (s *Swarm) ID() string { return s.id }

// Name returns the configured swarm name.
func (s *Swarm) Name() string { return s.cfg.Name }

// Status returns the current run status.
func (s *Swarm) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Coordinator exposes the execution layer for inspection and control.
func (s *Swarm) Coordinator() Coordinator { return s.coordinator }

// Bus exposes the message bus.
func (s *Swarm) Bus() *comm.MessageBus { return s.bus }

// Board exposes the blackboard.
func (s *Swarm) Board() *comm.Blackboard { return s.board }

// Events exposes the event emitter.
func (s *Swarm) Events() *comm.EventEmitter { return s.events }

// Pause holds back agent invocations that have not started yet.
func (s *Swarm) Pause() { s.coordinator.Pause() }

// Resume releases paused invocations.
func (s *Swarm) Resume() { s.coordinator.Resume() }

// Abort permanently rejects new agent invocations for this run.
func (s *Swarm) Abort() { s.coordinator.Abort() }

// Reset returns the swarm and all its agents to idle so it can run
// again. Recorded messages, blackboard state and events are kept.
func (s *Swarm) Reset() {
	s.coordinator.Reset()
	s.bus.ResetTurnCounts()
	s.mu.Lock()
	s.status = StatusIdle
	s.mu.Unlock()
}

// Close releases the communication fabric and, when the swarm dialed
// its own store connection, the Redis client.
func (s *Swarm) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.coordinator.Close()
		if err := s.bus.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		if err := s.board.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		if err := s.events.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		if s.ownsClient && s.client != nil {
			if err := s.client.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}
