package swarm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/testutil"
	"github.com/BaSui01/swarmflow/types"
)

func newSwarm(t *testing.T, cfg *config.Config, runners ...types.Runner) *Swarm {
	t.Helper()
	byName := make(map[string]types.Runner, len(runners))
	for _, r := range runners {
		byName[r.Name()] = r
	}
	s, err := New(cfg, byName)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHierarchical_SupervisorDelegatesToSelectedWorkers(t *testing.T) {
	cfg := testConfig(config.StrategyHierarchical,
		config.AgentConfig{Name: "lead", Role: types.RoleSupervisor},
		config.AgentConfig{Name: "alpha", Role: types.RoleWorker},
		config.AgentConfig{Name: "beta", Role: types.RoleWorker},
	)

	calls := 0
	lead := testutil.NewStubRunner("lead", "").WithRun(
		func(_ context.Context, input string, _ *types.RunContext) (*types.RunResult, error) {
			calls++
			if calls == 1 {
				return &types.RunResult{
					Output:     "alpha handles this alone",
					Structured: map[string]any{"workers": []string{"alpha"}},
				}, nil
			}
			return &types.RunResult{Output: "final synthesis"}, nil
		})
	alpha := testutil.NewStubRunner("alpha", "alpha report")
	beta := testutil.NewStubRunner("beta", "beta report")

	s := newSwarm(t, cfg, lead, alpha, beta)
	out, err := s.Run(testutil.TestContext(t), "ship the feature")
	require.NoError(t, err)

	assert.Equal(t, "final synthesis", out.Output)
	assert.Equal(t, 1, alpha.Calls())
	assert.Zero(t, beta.Calls(), "unselected worker must not run")
	assert.Contains(t, out.Results, "lead")
	assert.Contains(t, out.Results, "alpha")

	// The worker sees the supervisor's direction, and the plan lands on
	// the blackboard.
	assert.Contains(t, alpha.Inputs()[0], "alpha handles this alone")
	plan, ok := s.Board().Read("goals", "plan")
	require.True(t, ok)
	assert.Equal(t, "alpha handles this alone", plan.Value)

	leadAgent, _ := s.Coordinator().Agent("lead")
	assert.GreaterOrEqual(t, leadAgent.MessageCount(), 1)
}

func TestHierarchical_UnparseablePlanRunsAllWorkers(t *testing.T) {
	cfg := testConfig(config.StrategyHierarchical,
		config.AgentConfig{Name: "lead", Role: types.RoleSupervisor},
		config.AgentConfig{Name: "alpha", Role: types.RoleWorker},
		config.AgentConfig{Name: "beta", Role: types.RoleWorker},
	)
	lead := testutil.NewStubRunner("lead", "just get it done")
	alpha := testutil.NewStubRunner("alpha", "a")
	beta := testutil.NewStubRunner("beta", "b")

	s := newSwarm(t, cfg, lead, alpha, beta)
	_, err := s.Run(testutil.TestContext(t), "goal")
	require.NoError(t, err)

	assert.Equal(t, 1, alpha.Calls())
	assert.Equal(t, 1, beta.Calls())
}

func TestRoundRobin_OnePassChainsOutputs(t *testing.T) {
	cfg := testConfig(config.StrategyRoundRobin,
		config.AgentConfig{Name: "a"},
		config.AgentConfig{Name: "b"},
		config.AgentConfig{Name: "c"},
	)
	a := testutil.NewStubRunner("a", "A-says")
	b := testutil.NewStubRunner("b", "B-says")
	c := testutil.NewStubRunner("c", "C-says")

	s := newSwarm(t, cfg, a, b, c)
	out, err := s.Run(testutil.TestContext(t), "topic")
	require.NoError(t, err)

	assert.Equal(t, 3, out.Rounds)
	assert.Equal(t, "C-says", out.Output)
	assert.Equal(t, "topic", a.Inputs()[0])
	assert.Contains(t, b.Inputs()[0], "A-says")
	assert.Contains(t, c.Inputs()[0], "B-says")
}

func TestRoundRobin_StickyHoldsTurnUntilDone(t *testing.T) {
	cfg := testConfig(config.StrategyRoundRobin,
		config.AgentConfig{Name: "digger"},
		config.AgentConfig{Name: "closer"},
	)
	cfg.Tuning.Sticky = true
	cfg.Tuning.MaxTurns = 10

	calls := 0
	digger := testutil.NewStubRunner("digger", "").WithRun(
		func(context.Context, string, *types.RunContext) (*types.RunResult, error) {
			calls++
			if calls < 3 {
				return &types.RunResult{Output: "still digging"}, nil
			}
			return &types.RunResult{Output: "found it", Structured: map[string]any{"done": true}}, nil
		})
	closer := testutil.NewStubRunner("closer", "wrap up. TASK COMPLETE")

	s := newSwarm(t, cfg, digger, closer)
	out, err := s.Run(testutil.TestContext(t), "find the bug")
	require.NoError(t, err)

	assert.Equal(t, 3, digger.Calls())
	assert.Equal(t, 1, closer.Calls())
	assert.Equal(t, 4, out.Rounds)
	assert.Equal(t, "wrap up. TASK COMPLETE", out.Output)
}

func TestRoundRobin_StickyTurnBudget(t *testing.T) {
	cfg := testConfig(config.StrategyRoundRobin, config.AgentConfig{Name: "loop"})
	cfg.Tuning.Sticky = true
	cfg.Tuning.MaxTurns = 5

	loop := testutil.NewStubRunner("loop", "never done")
	s := newSwarm(t, cfg, loop)
	out, err := s.Run(testutil.TestContext(t), "endless")
	require.NoError(t, err)

	assert.Equal(t, 5, out.Rounds)
	assert.Equal(t, 5, loop.Calls())
}

func TestConsensus_ConvergesOnModalAnswer(t *testing.T) {
	cfg := testConfig(config.StrategyConsensus,
		config.AgentConfig{Name: "x"},
		config.AgentConfig{Name: "y"},
		config.AgentConfig{Name: "z"},
	)

	s := newSwarm(t, cfg,
		testutil.NewStubRunner("x", "Blue"),
		testutil.NewStubRunner("y", "  blue  "),
		testutil.NewStubRunner("z", "red"),
	)
	out, err := s.Run(testutil.TestContext(t), "pick a color")
	require.NoError(t, err)

	assert.True(t, out.Consensus)
	assert.Equal(t, 1, out.Rounds)
	assert.Equal(t, "Blue", out.Output, "representative answer keeps original casing")

	decision, ok := s.Board().Read("decisions", "consensus")
	require.True(t, ok)
	assert.Equal(t, "Blue", decision.Value)
}

func TestConsensus_StructuredAnswerPreferred(t *testing.T) {
	cfg := testConfig(config.StrategyConsensus,
		config.AgentConfig{Name: "x"},
		config.AgentConfig{Name: "y"},
	)
	cfg.Tuning.Threshold = 1.0

	withAnswer := func(name, answer, prose string) types.Runner {
		return testutil.NewStubRunner(name, "").WithRun(
			func(context.Context, string, *types.RunContext) (*types.RunResult, error) {
				return &types.RunResult{Output: prose, Structured: map[string]any{"answer": answer}}, nil
			})
	}
	s := newSwarm(t, cfg,
		withAnswer("x", "42", "I believe the answer is 42 because..."),
		withAnswer("y", "42", "After deliberation: 42."),
	)
	out, err := s.Run(testutil.TestContext(t), "meaning of life")
	require.NoError(t, err)
	assert.True(t, out.Consensus)
	assert.Equal(t, "42", out.Output)
}

func TestConsensus_FallbackSupervisorDecides(t *testing.T) {
	cfg := testConfig(config.StrategyConsensus,
		config.AgentConfig{Name: "judge", Role: types.RoleSupervisor},
		config.AgentConfig{Name: "p"},
		config.AgentConfig{Name: "q"},
	)
	cfg.Tuning.MaxRounds = 2

	judge := testutil.NewStubRunner("judge", "split the difference")
	s := newSwarm(t, cfg,
		judge,
		testutil.NewStubRunner("p", "all in"),
		testutil.NewStubRunner("q", "do nothing"),
	)
	out, err := s.Run(testutil.TestContext(t), "strategy?")
	require.NoError(t, err)

	assert.False(t, out.Consensus)
	assert.Equal(t, 2, out.Rounds)
	assert.Equal(t, "split the difference", out.Output)
	// Two voting rounds plus the deciding call.
	assert.Equal(t, 3, judge.Calls())
}

func TestConsensus_FallbackFirstAnswer(t *testing.T) {
	cfg := testConfig(config.StrategyConsensus,
		config.AgentConfig{Name: "p"},
		config.AgentConfig{Name: "q"},
	)
	cfg.Tuning.MaxRounds = 1
	cfg.Tuning.Fallback = "first-answer"
	cfg.Tuning.Threshold = 1.0

	s := newSwarm(t, cfg,
		testutil.NewStubRunner("p", "option one"),
		testutil.NewStubRunner("q", "option two"),
	)
	out, err := s.Run(testutil.TestContext(t), "choose")
	require.NoError(t, err)
	assert.False(t, out.Consensus)
	assert.Equal(t, "option one", out.Output)
}

func TestDebate_AlternatesThenModeratorOnce(t *testing.T) {
	cfg := testConfig(config.StrategyDebate,
		config.AgentConfig{Name: "advocate"},
		config.AgentConfig{Name: "critic"},
		config.AgentConfig{Name: "moderator"},
	)
	cfg.Tuning.Rounds = 2

	advocate := testutil.NewStubRunner("advocate", "it is sound")
	critic := testutil.NewStubRunner("critic", "it is flawed")
	moderator := testutil.NewStubRunner("moderator", "verdict: proceed with caution")

	s := newSwarm(t, cfg, advocate, critic, moderator)
	out, err := s.Run(testutil.TestContext(t), "should we rewrite?")
	require.NoError(t, err)

	assert.Equal(t, 1, advocate.Calls())
	assert.Equal(t, 1, critic.Calls())
	assert.Equal(t, 1, moderator.Calls(), "moderator speaks exactly once")
	assert.Equal(t, 2, out.Rounds)
	assert.Equal(t, "verdict: proceed with caution", out.Output)

	// The critic argues against what the advocate actually said, and the
	// moderator sees the whole transcript.
	assert.Contains(t, critic.Inputs()[0], "it is sound")
	assert.Contains(t, moderator.Inputs()[0], "it is sound")
	assert.Contains(t, moderator.Inputs()[0], "it is flawed")
}

func TestDebate_TwoAgentsLastWordWins(t *testing.T) {
	cfg := testConfig(config.StrategyDebate,
		config.AgentConfig{Name: "pro"},
		config.AgentConfig{Name: "con"},
	)
	cfg.Tuning.Rounds = 4

	pro := testutil.NewStubRunner("pro", "yes")
	con := testutil.NewStubRunner("con", "no")

	s := newSwarm(t, cfg, pro, con)
	out, err := s.Run(testutil.TestContext(t), "debate")
	require.NoError(t, err)

	assert.Equal(t, 2, pro.Calls())
	assert.Equal(t, 2, con.Calls())
	assert.Equal(t, "no", out.Output)
}

func TestPipeline_StagesChainOutputs(t *testing.T) {
	cfg := testConfig(config.StrategyPipeline,
		config.AgentConfig{Name: "draft"},
		config.AgentConfig{Name: "review"},
		config.AgentConfig{Name: "polish"},
	)
	draft := testutil.NewStubRunner("draft", "rough text")
	review := testutil.NewStubRunner("review", "reviewed text")
	polish := testutil.NewStubRunner("polish", "polished text")

	s := newSwarm(t, cfg, draft, review, polish)
	out, err := s.Run(testutil.TestContext(t), "write the doc")
	require.NoError(t, err)

	assert.Equal(t, "polished text", out.Output)
	assert.Equal(t, []string{"rough text"}, review.Inputs())
	assert.Equal(t, []string{"reviewed text"}, polish.Inputs())
	assert.Equal(t, 3, out.Rounds)
}

func TestPipeline_GateRejectionShortCircuits(t *testing.T) {
	cfg := testConfig(config.StrategyPipeline,
		config.AgentConfig{Name: "draft"},
		config.AgentConfig{Name: "review", Gate: true},
		config.AgentConfig{Name: "polish"},
	)
	draft := testutil.NewStubRunner("draft", "rough text")
	review := testutil.NewStubRunner("review", "FAIL: factual errors")
	polish := testutil.NewStubRunner("polish", "never seen")

	s := newSwarm(t, cfg, draft, review, polish)
	out, err := s.Run(testutil.TestContext(t), "write the doc")

	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrGateRejected))
	var serr *types.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "review", serr.AgentName)

	assert.Zero(t, polish.Calls())
	require.NotNil(t, out, "gate rejection still returns the partial outcome")
	assert.Equal(t, 2, out.Rounds)
	assert.Contains(t, out.Results, "draft")
	assert.Contains(t, out.Results, "review")
	assert.Equal(t, StatusFailed, s.Status())
}

func TestPipeline_StructuredGatePass(t *testing.T) {
	cfg := testConfig(config.StrategyPipeline,
		config.AgentConfig{Name: "check", Gate: true},
		config.AgentConfig{Name: "ship"},
	)
	check := testutil.NewStubRunner("check", "").WithRun(
		func(context.Context, string, *types.RunContext) (*types.RunResult, error) {
			return &types.RunResult{Output: "looks good", Structured: map[string]any{"pass": true}}, nil
		})
	ship := testutil.NewStubRunner("ship", "shipped")

	s := newSwarm(t, cfg, check, ship)
	out, err := s.Run(testutil.TestContext(t), "release")
	require.NoError(t, err)
	assert.Equal(t, "shipped", out.Output)
}

func TestAuction_HighestBidderWinsOthersNeverRun(t *testing.T) {
	cfg := testConfig(config.StrategyAuction,
		config.AgentConfig{Name: "generalist"},
		config.AgentConfig{Name: "specialist"},
	)
	generalist := &testutil.BiddingRunner{StubRunner: testutil.NewStubRunner("generalist", "generic answer"), Score: 0.3}
	specialist := &testutil.BiddingRunner{StubRunner: testutil.NewStubRunner("specialist", "expert answer"), Score: 0.9}

	s := newSwarm(t, cfg, generalist, specialist)
	out, err := s.Run(testutil.TestContext(t), "hard domain problem")
	require.NoError(t, err)

	assert.Equal(t, "specialist", out.Winner)
	assert.Equal(t, "expert answer", out.Output)
	assert.Equal(t, 1, specialist.Calls())
	assert.Zero(t, generalist.Calls(), "losing bidders are never executed")
	assert.Len(t, out.Results, 1)
}

func TestAuction_CapabilityScoringFallback(t *testing.T) {
	cfg := testConfig(config.StrategyAuction,
		config.AgentConfig{Name: "coder", Capabilities: []string{"golang", "refactor"}},
		config.AgentConfig{Name: "writer", Capabilities: []string{"prose"}},
	)
	coder := testutil.NewStubRunner("coder", "refactored")
	writer := testutil.NewStubRunner("writer", "written")

	s := newSwarm(t, cfg, coder, writer)
	out, err := s.Run(testutil.TestContext(t), "refactor the golang service")
	require.NoError(t, err)

	assert.Equal(t, "coder", out.Winner)
	assert.Zero(t, writer.Calls())
}
