package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/types"
)

// runHierarchical has the supervisor plan, delegates to the workers it
// selects (all of them when it names none), and synthesizes their
// outputs into the final answer.
func runHierarchical(ctx context.Context, env *Env, input string) (*Outcome, error) {
	sup := env.Config.Supervisor()
	if sup == nil {
		sup = &env.Config.Agents[0]
	}
	var workers []config.AgentConfig
	for _, w := range env.Config.Workers() {
		if w.Name != sup.Name {
			workers = append(workers, w)
		}
	}

	env.newTurn()
	var roster strings.Builder
	for _, w := range workers {
		fmt.Fprintf(&roster, "- %s", w.Name)
		if len(w.Capabilities) > 0 {
			fmt.Fprintf(&roster, " (%s)", strings.Join(w.Capabilities, ", "))
		}
		roster.WriteString("\n")
	}
	planPrompt := fmt.Sprintf(
		"Goal:\n%s\n\nYou lead these workers:\n%s\nPlan the work and state which workers to involve.",
		input, roster.String())

	plan, err := env.Coordinator.RunAgent(ctx, sup.Name, planPrompt, &types.RunContext{Round: 1})
	if err != nil {
		return nil, err
	}
	env.post(ctx, "goals", "plan", plan.Output, sup.Name)
	env.send(ctx, sup.Name, types.Broadcast, types.MessageTypeControl, plan.Output)

	selected := selectedWorkers(plan, workers)
	reqs := make([]RunRequest, 0, len(selected))
	for _, name := range selected {
		reqs = append(reqs, RunRequest{
			AgentName: name,
			Input:     fmt.Sprintf("Goal:\n%s\n\nSupervisor direction:\n%s", input, plan.Output),
			Context:   &types.RunContext{Round: 2},
		})
	}
	env.newTurn()
	results := env.Coordinator.RunAgentsParallel(ctx, reqs, env.Config.Resources.MaxConcurrency)

	var report strings.Builder
	for _, name := range selected {
		res, ok := results[name]
		if !ok {
			continue
		}
		env.post(ctx, "findings", name, res.Output, name)
		env.send(ctx, name, sup.Name, types.MessageTypeResult, res.Output)
		fmt.Fprintf(&report, "## %s\n%s\n\n", name, res.Output)
	}

	env.newTurn()
	final, err := env.Coordinator.RunAgent(ctx, sup.Name, fmt.Sprintf(
		"Goal:\n%s\n\nWorker reports:\n%s\nSynthesize the final answer.", input, report.String()),
		&types.RunContext{Round: 3})
	if err != nil {
		return nil, err
	}
	env.post(ctx, "decisions", "final", final.Output, sup.Name)

	results[sup.Name] = final
	return &Outcome{Output: final.Output, Results: results, Rounds: 1}, nil
}

// selectedWorkers extracts the supervisor's worker selection: a
// structured "workers" list, a JSON object embedded in the output, or
// every worker when the plan names none.
func selectedWorkers(plan *types.RunResult, workers []config.AgentConfig) []string {
	known := make(map[string]struct{}, len(workers))
	all := make([]string, 0, len(workers))
	for _, w := range workers {
		known[w.Name] = struct{}{}
		all = append(all, w.Name)
	}

	pick := func(names []string) []string {
		var out []string
		for _, n := range names {
			if _, ok := known[n]; ok {
				out = append(out, n)
			}
		}
		return out
	}

	if v, ok := plan.Structured["workers"]; ok {
		switch list := v.(type) {
		case []string:
			if sel := pick(list); len(sel) > 0 {
				return sel
			}
		case []any:
			var names []string
			for _, item := range list {
				if s, ok := item.(string); ok {
					names = append(names, s)
				}
			}
			if sel := pick(names); len(sel) > 0 {
				return sel
			}
		}
	}

	var embedded struct {
		Workers []string `json:"workers"`
	}
	if err := json.Unmarshal([]byte(plan.Output), &embedded); err == nil {
		if sel := pick(embedded.Workers); len(sel) > 0 {
			return sel
		}
	}
	return all
}

// runRoundRobin passes the goal from agent to agent in configuration
// order, each seeing the previous agent's output. In sticky mode an
// agent keeps the turn until it signals completion and the loop ends
// once every agent has finished a stint or the turn budget runs out.
func runRoundRobin(ctx context.Context, env *Env, input string) (*Outcome, error) {
	names := env.Coordinator.AgentNames()
	tuning := env.Config.Tuning

	maxTurns := tuning.MaxTurns
	if maxTurns <= 0 || (!tuning.Sticky && maxTurns > len(names)) {
		maxTurns = len(names)
	}

	results := make(map[string]*types.RunResult, len(names))
	current := input
	output := ""
	idx, turns, stints := 0, 0, 0

	for turns < maxTurns {
		env.newTurn()
		name := names[idx]
		res, err := env.Coordinator.RunAgent(ctx, name, current, &types.RunContext{Round: turns + 1})
		if err != nil {
			return nil, err
		}
		turns++
		results[name] = res
		output = res.Output
		current = fmt.Sprintf("%s\n\nPrevious agent (%s) said:\n%s", input, name, res.Output)

		if tuning.Sticky {
			if doneSignal(res) {
				stints++
				if stints >= len(names) {
					break
				}
				idx = (idx + 1) % len(names)
				env.send(ctx, name, names[idx], types.MessageTypeControl, "handing off")
			}
			continue
		}
		idx++
		if idx >= len(names) {
			break
		}
		env.send(ctx, name, names[idx], types.MessageTypeText, res.Output)
	}

	return &Outcome{Output: output, Results: results, Rounds: turns}, nil
}

// runConsensus asks every agent in parallel, tallies normalized
// answers, and accepts the modal answer once its share reaches the
// configured threshold. Rounds that fall short feed the peer answers
// back; an exhausted budget falls through to the configured fallback.
func runConsensus(ctx context.Context, env *Env, input string) (*Outcome, error) {
	names := env.Coordinator.AgentNames()
	tuning := env.Config.Tuning
	prompt := input

	var results map[string]*types.RunResult
	for round := 1; round <= tuning.MaxRounds; round++ {
		env.newTurn()
		reqs := make([]RunRequest, 0, len(names))
		for _, name := range names {
			reqs = append(reqs, RunRequest{AgentName: name, Input: prompt, Context: &types.RunContext{Round: round}})
		}
		results = env.Coordinator.RunAgentsParallel(ctx, reqs, env.Config.Resources.MaxConcurrency)
		if len(results) == 0 {
			return nil, types.NewError(types.ErrNoConsensus, "no agent produced an answer")
		}

		// Tally in configuration order so ties resolve deterministically.
		counts := make(map[string]int)
		first := make(map[string]string)
		modal, best := "", 0
		for _, name := range names {
			res, ok := results[name]
			if !ok {
				continue
			}
			ans := answerOf(res)
			env.post(ctx, "findings", fmt.Sprintf("round-%d:%s", round, name), ans, name)
			norm := normalizeAnswer(ans)
			counts[norm]++
			if _, seen := first[norm]; !seen {
				first[norm] = ans
			}
			if counts[norm] > best {
				modal, best = norm, counts[norm]
			}
		}

		if float64(best)/float64(len(results)) >= tuning.Threshold {
			output := first[modal]
			env.post(ctx, "decisions", "consensus", output, "swarm")
			return &Outcome{Output: output, Results: results, Rounds: round, Consensus: true}, nil
		}

		var peers strings.Builder
		for _, name := range names {
			if res, ok := results[name]; ok {
				fmt.Fprintf(&peers, "- %s: %s\n", name, answerOf(res))
				env.send(ctx, name, types.Broadcast, types.MessageTypeVote, answerOf(res))
			}
		}
		prompt = fmt.Sprintf("%s\n\nNo consensus yet. Peer answers:\n%sReconsider and answer again.",
			input, peers.String())
	}

	return consensusFallback(ctx, env, input, prompt, results)
}

func consensusFallback(ctx context.Context, env *Env, input, lastPrompt string, results map[string]*types.RunResult) (*Outcome, error) {
	tuning := env.Config.Tuning
	out := &Outcome{Results: results, Rounds: tuning.MaxRounds, Consensus: false}

	if tuning.Fallback == "first-answer" {
		for _, name := range env.Coordinator.AgentNames() {
			if res, ok := results[name]; ok {
				out.Output = answerOf(res)
				return out, nil
			}
		}
		return nil, types.NewError(types.ErrNoConsensus, "no answer available for fallback")
	}

	// Default: a supervisor (or the first agent) decides.
	decider := env.Coordinator.AgentNames()[0]
	if sup := env.Config.Supervisor(); sup != nil {
		decider = sup.Name
	}
	env.newTurn()
	res, err := env.Coordinator.RunAgent(ctx, decider,
		lastPrompt+"\n\nNo consensus was reached. Decide the final answer.",
		&types.RunContext{Round: tuning.MaxRounds + 1})
	if err != nil {
		return nil, err
	}
	results[decider] = res
	out.Output = res.Output
	env.post(ctx, "decisions", "fallback", res.Output, decider)
	return out, nil
}

// runDebate alternates an advocate (first agent) and a critic (second)
// for exactly the configured number of turns, then has the moderator
// (third agent, when present) deliver the single final synthesis.
func runDebate(ctx context.Context, env *Env, input string) (*Outcome, error) {
	names := env.Coordinator.AgentNames()
	advocate, critic := names[0], names[1]
	moderator := ""
	if len(names) >= 3 {
		moderator = names[2]
	}

	results := make(map[string]*types.RunResult)
	var transcript strings.Builder
	output := ""

	rounds := env.Config.Tuning.Rounds
	for turn := 0; turn < rounds; turn++ {
		speaker, listener, stance := advocate, critic, "Argue for the strongest solution."
		if turn%2 == 1 {
			speaker, listener = critic, advocate
			stance = "Challenge the previous argument and expose its weaknesses."
		}

		env.newTurn()
		prompt := fmt.Sprintf("Topic:\n%s\n\nDebate so far:\n%s\n%s", input, transcript.String(), stance)
		res, err := env.Coordinator.RunAgent(ctx, speaker, prompt, &types.RunContext{Round: turn + 1})
		if err != nil {
			return nil, err
		}
		results[speaker] = res
		output = res.Output
		fmt.Fprintf(&transcript, "%s: %s\n", speaker, res.Output)
		env.send(ctx, speaker, listener, types.MessageTypeProposal, res.Output)
	}

	if moderator != "" {
		env.newTurn()
		res, err := env.Coordinator.RunAgent(ctx, moderator, fmt.Sprintf(
			"Topic:\n%s\n\nFull debate:\n%s\nDeliver the final verdict.", input, transcript.String()),
			&types.RunContext{Round: rounds + 1})
		if err != nil {
			return nil, err
		}
		results[moderator] = res
		output = res.Output
		env.post(ctx, "decisions", "verdict", res.Output, moderator)
	}

	return &Outcome{Output: output, Results: results, Rounds: rounds}, nil
}

// runPipeline feeds each stage's output into the next in configuration
// order. A gate stage that rejects its input short-circuits the run:
// the partial Outcome is returned together with the rejection error.
func runPipeline(ctx context.Context, env *Env, input string) (*Outcome, error) {
	results := make(map[string]*types.RunResult, len(env.Config.Agents))
	current := input

	for i, stage := range env.Config.Agents {
		env.newTurn()
		res, err := env.Coordinator.RunAgent(ctx, stage.Name, current, &types.RunContext{Round: i + 1})
		if err != nil {
			return nil, err
		}
		results[stage.Name] = res

		if stage.Gate && gateFailed(res) {
			env.post(ctx, "decisions", "gate", res.Output, stage.Name)
			return &Outcome{Output: res.Output, Results: results, Rounds: i + 1},
				types.NewError(types.ErrGateRejected,
					fmt.Sprintf("stage %q rejected the run", stage.Name)).WithAgent(stage.Name)
		}

		current = res.Output
		if i+1 < len(env.Config.Agents) {
			env.send(ctx, stage.Name, env.Config.Agents[i+1].Name, types.MessageTypeResult, res.Output)
		}
	}

	return &Outcome{Output: current, Results: results, Rounds: len(env.Config.Agents)}, nil
}

// runAuction scores every agent's fitness for the input and executes
// only the winner. Ties go to the higher priority, then configuration
// order. Losing agents never run.
func runAuction(ctx context.Context, env *Env, input string) (*Outcome, error) {
	names := env.Coordinator.AgentNames()

	var winner *SwarmAgent
	best := -1.0
	for _, name := range names {
		agent, ok := env.Coordinator.Agent(name)
		if !ok {
			continue
		}
		score := agent.bid(input)
		env.post(ctx, "findings", "bid:"+name, score, name)
		if score > best || (score == best && winner != nil && agent.Priority() > winner.Priority()) {
			winner, best = agent, score
		}
	}
	if winner == nil {
		return nil, types.NewError(types.ErrAgentNotFound, "no agent available for auction")
	}

	env.newTurn()
	res, err := env.Coordinator.RunAgent(ctx, winner.Name(), input, nil)
	if err != nil {
		return nil, err
	}
	env.post(ctx, "decisions", "winner", winner.Name(), "swarm")

	return &Outcome{
		Output:  res.Output,
		Results: map[string]*types.RunResult{winner.Name(): res},
		Rounds:  1,
		Winner:  winner.Name(),
	}, nil
}
