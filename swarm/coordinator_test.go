package swarm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/comm"
	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/testutil"
	"github.com/BaSui01/swarmflow/types"
)

func testConfig(strategy config.Strategy, agents ...config.AgentConfig) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Name = "test-swarm"
	cfg.Strategy = strategy
	cfg.Agents = agents
	return cfg
}

func testEvents() *comm.EventEmitter {
	return comm.NewEventEmitter(comm.NewNamespace("", "test"), nil, 100, zap.NewNop(), nil)
}

func newLocalCoordinator(t *testing.T, cfg *config.Config, runners ...types.Runner) (*LocalCoordinator, *comm.EventEmitter) {
	t.Helper()
	byName := make(map[string]types.Runner, len(runners))
	for _, r := range runners {
		byName[r.Name()] = r
	}
	events := testEvents()
	c, err := NewLocalCoordinator(cfg, byName, events, zap.NewNop(), nil)
	require.NoError(t, err)
	return c, events
}

func TestLocalCoordinator_RunAgentLifecycle(t *testing.T) {
	cfg := testConfig(config.StrategyRoundRobin,
		config.AgentConfig{Name: "echo"},
	)
	runner := testutil.NewStubRunner("echo", "done")
	c, events := newLocalCoordinator(t, cfg, runner)

	res, err := c.RunAgent(testutil.TestContext(t), "echo", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", res.Output)

	agent, ok := c.Agent("echo")
	require.True(t, ok)
	assert.Equal(t, types.StateCompleted, agent.State())
	assert.Equal(t, 10, agent.TokenCount())
	assert.Same(t, res, agent.LastResult())

	evs := events.EventsOfType(types.EventAgentComplete)
	require.Len(t, evs, 1)
	assert.Equal(t, "echo", evs[0].AgentName)
}

func TestLocalCoordinator_UnknownAgent(t *testing.T) {
	cfg := testConfig(config.StrategyRoundRobin, config.AgentConfig{Name: "echo"})
	c, _ := newLocalCoordinator(t, cfg, testutil.NewStubRunner("echo", "ok"))

	_, err := c.RunAgent(testutil.TestContext(t), "ghost", "hello", nil)
	assert.True(t, types.IsCode(err, types.ErrAgentNotFound))
}

func TestLocalCoordinator_MissingRunner(t *testing.T) {
	cfg := testConfig(config.StrategyRoundRobin, config.AgentConfig{Name: "echo"})
	_, err := NewLocalCoordinator(cfg, nil, testEvents(), zap.NewNop(), nil)
	assert.True(t, types.IsCode(err, types.ErrAgentNotFound))
}

func TestLocalCoordinator_RunnerErrorMarksFailed(t *testing.T) {
	cfg := testConfig(config.StrategyRoundRobin, config.AgentConfig{Name: "flaky"})
	boom := errors.New("model unavailable")
	c, events := newLocalCoordinator(t, cfg, testutil.NewStubRunner("flaky", "").WithError(boom))

	_, err := c.RunAgent(testutil.TestContext(t), "flaky", "hello", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	agent, _ := c.Agent("flaky")
	assert.Equal(t, types.StateFailed, agent.State())
	assert.Len(t, events.EventsOfType(types.EventAgentError), 1)
}

func TestLocalCoordinator_NilResultMarksFailed(t *testing.T) {
	cfg := testConfig(config.StrategyRoundRobin, config.AgentConfig{Name: "mute"})
	runner := testutil.NewStubRunner("mute", "").WithRun(
		func(context.Context, string, *types.RunContext) (*types.RunResult, error) {
			return nil, nil
		})
	c, events := newLocalCoordinator(t, cfg, runner)

	res, err := c.RunAgent(testutil.TestContext(t), "mute", "hello", nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, types.IsCode(err, types.ErrNilResult))

	agent, _ := c.Agent("mute")
	assert.Equal(t, types.StateFailed, agent.State())
	assert.Len(t, events.EventsOfType(types.EventAgentError), 1)
}

func TestLocalCoordinator_AbortRejectsBeforeInvocation(t *testing.T) {
	cfg := testConfig(config.StrategyRoundRobin, config.AgentConfig{Name: "echo"})
	runner := testutil.NewStubRunner("echo", "ok")
	c, _ := newLocalCoordinator(t, cfg, runner)

	c.Abort()

	_, err := c.RunAgent(testutil.TestContext(t), "echo", "hello", nil)
	assert.True(t, types.IsCode(err, types.ErrSwarmAborted))
	assert.Zero(t, runner.Calls())

	agent, _ := c.Agent("echo")
	assert.Equal(t, types.StateIdle, agent.State())
}

func TestLocalCoordinator_PauseBlocksUntilResume(t *testing.T) {
	cfg := testConfig(config.StrategyRoundRobin, config.AgentConfig{Name: "echo"})
	runner := testutil.NewStubRunner("echo", "ok")
	c, _ := newLocalCoordinator(t, cfg, runner)

	c.Pause()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.RunAgent(context.Background(), "echo", "hello", nil)
		assert.NoError(t, err)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runner.Calls())

	c.Resume()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not resume")
	}
	assert.Equal(t, 1, runner.Calls())
}

func TestLocalCoordinator_AbortReleasesPausedWaiters(t *testing.T) {
	cfg := testConfig(config.StrategyRoundRobin, config.AgentConfig{Name: "echo"})
	runner := testutil.NewStubRunner("echo", "ok")
	c, _ := newLocalCoordinator(t, cfg, runner)

	c.Pause()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.RunAgent(context.Background(), "echo", "hello", nil)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	c.Abort()

	select {
	case err := <-errCh:
		assert.True(t, types.IsCode(err, types.ErrSwarmAborted))
	case <-time.After(2 * time.Second):
		t.Fatal("abort did not release the waiter")
	}
	assert.Zero(t, runner.Calls())
}

func TestLocalCoordinator_ParallelWindowBound(t *testing.T) {
	cfg := testConfig(config.StrategyConsensus,
		config.AgentConfig{Name: "a"},
		config.AgentConfig{Name: "b"},
		config.AgentConfig{Name: "c"},
		config.AgentConfig{Name: "d"},
	)

	var inFlight, peak atomic.Int64
	var mu sync.Mutex
	slowRun := func(name string) types.Runner {
		return testutil.NewStubRunner(name, "").WithRun(func(context.Context, string, *types.RunContext) (*types.RunResult, error) {
			n := inFlight.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return &types.RunResult{Output: name}, nil
		})
	}

	c, _ := newLocalCoordinator(t, cfg, slowRun("a"), slowRun("b"), slowRun("c"),
		testutil.NewStubRunner("d", "").WithError(errors.New("boom")))

	reqs := []RunRequest{
		{AgentName: "a", Input: "x"},
		{AgentName: "b", Input: "x"},
		{AgentName: "c", Input: "x"},
		{AgentName: "d", Input: "x"},
	}
	results := c.RunAgentsParallel(testutil.TestContext(t), reqs, 2)

	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Len(t, results, 3)
	assert.NotContains(t, results, "d")
	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, name, results[name].Output)
	}
}

func TestLocalCoordinator_ResetAfterAbort(t *testing.T) {
	cfg := testConfig(config.StrategyRoundRobin,
		config.AgentConfig{Name: "first", Role: types.RoleSupervisor, Priority: 5},
		config.AgentConfig{Name: "second"},
	)
	c, _ := newLocalCoordinator(t, cfg,
		testutil.NewStubRunner("first", "ok"),
		testutil.NewStubRunner("second", "ok"),
	)

	_, err := c.RunAgent(testutil.TestContext(t), "first", "go", nil)
	require.NoError(t, err)
	c.Abort()
	_, err = c.RunAgent(testutil.TestContext(t), "second", "go", nil)
	assert.True(t, types.IsCode(err, types.ErrSwarmAborted))

	c.Reset()

	for _, name := range []string{"first", "second"} {
		agent, _ := c.Agent(name)
		assert.Equal(t, types.StateIdle, agent.State(), name)
		assert.Nil(t, agent.LastResult(), name)
		assert.Zero(t, agent.TokenCount(), name)
	}
	first, _ := c.Agent("first")
	assert.Equal(t, types.RoleSupervisor, first.Role())
	assert.Equal(t, 5, first.Priority())

	_, err = c.RunAgent(testutil.TestContext(t), "second", "go", nil)
	assert.NoError(t, err)
}

func TestLocalCoordinator_FillsRunContext(t *testing.T) {
	cfg := testConfig(config.StrategyRoundRobin,
		config.AgentConfig{Name: "lead", Role: types.RoleSupervisor},
		config.AgentConfig{Name: "dev"},
	)
	var got *types.RunContext
	runner := testutil.NewStubRunner("lead", "").WithRun(func(_ context.Context, _ string, rc *types.RunContext) (*types.RunResult, error) {
		got = rc
		return &types.RunResult{Output: "ok"}, nil
	})
	c, _ := newLocalCoordinator(t, cfg, runner, testutil.NewStubRunner("dev", "ok"))

	_, err := c.RunAgent(testutil.TestContext(t), "lead", "go", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.RoleSupervisor, got.Role)
	assert.Equal(t, []string{"dev"}, got.Peers)
}
