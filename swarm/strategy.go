package swarm

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/comm"
	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/types"
)

// Env is what a strategy driver gets to work with: the coordinator for
// execution and the communication fabric for everything else.
type Env struct {
	Config      *config.Config
	Coordinator Coordinator
	Bus         *comm.MessageBus
	Board       *comm.Blackboard
	Events      *comm.EventEmitter
	Logger      *zap.Logger
}

// Outcome is the result of one swarm run.
type Outcome struct {
	// Output is the strategy's final answer.
	Output string
	// Results maps agent name to its last result in the run.
	Results map[string]*types.RunResult
	// Rounds is the number of rounds actually executed, for strategies
	// that iterate.
	Rounds int
	// Winner is the auction winner, empty for other strategies.
	Winner string
	// Consensus reports whether a consensus run converged before its
	// round budget ran out.
	Consensus bool
}

// Driver runs one collaboration topology to completion.
type Driver func(ctx context.Context, env *Env, input string) (*Outcome, error)

// driverFor maps a strategy to its driver. The strategy set is closed;
// configuration validation guarantees s is one of these.
func driverFor(s config.Strategy) (Driver, error) {
	switch s {
	case config.StrategyHierarchical:
		return runHierarchical, nil
	case config.StrategyRoundRobin:
		return runRoundRobin, nil
	case config.StrategyConsensus:
		return runConsensus, nil
	case config.StrategyDebate:
		return runDebate, nil
	case config.StrategyPipeline:
		return runPipeline, nil
	case config.StrategyAuction:
		return runAuction, nil
	default:
		return nil, types.NewErrorf(types.ErrStrategyInvalid, "unknown strategy %q", s)
	}
}

// send posts a bus message on behalf of an agent and credits it to the
// sender's message count. Cap rejections are logged and swallowed:
// strategies degrade to blackboard/result passing when the bus is
// exhausted.
func (e *Env) send(ctx context.Context, from, to string, msgType types.MessageType, content string) {
	if e.Bus == nil || !e.Config.Messaging.Enabled {
		return
	}
	msg, err := e.Bus.Send(ctx, &types.SwarmMessage{
		From:    from,
		To:      to,
		Type:    msgType,
		Content: content,
	})
	if err != nil {
		e.Logger.Debug("bus send rejected",
			zap.String("from", from), zap.String("to", to), zap.Error(err))
		return
	}
	e.Events.Emit(types.EventMessageSent, map[string]any{"to": to, "id": msg.ID}, from)
	if agent, ok := e.Coordinator.Agent(from); ok {
		agent.recordMessage()
	}
}

// post writes to the blackboard when it is enabled, ignoring store
// level failures already logged by the board itself.
func (e *Env) post(ctx context.Context, section, key string, value any, writer string) {
	if e.Board == nil || !e.Config.Blackboard.Enabled {
		return
	}
	if err := e.Board.Write(ctx, section, key, value, writer); err != nil {
		e.Logger.Debug("blackboard write rejected", zap.String("section", section), zap.Error(err))
	}
}

// newTurn resets per-turn message budgets before a new strategy turn.
func (e *Env) newTurn() {
	if e.Bus != nil {
		e.Bus.ResetTurnCounts()
	}
}

// doneSignal reports whether a result declares its task finished:
// either a structured done flag or a completion marker in the output.
func doneSignal(res *types.RunResult) bool {
	if res == nil {
		return false
	}
	if v, ok := res.Structured["done"]; ok {
		if done, ok := v.(bool); ok && done {
			return true
		}
	}
	return strings.Contains(strings.ToUpper(res.Output), "TASK COMPLETE")
}

// gateFailed reports whether a gate stage rejected its input. An
// explicit structured pass verdict wins; otherwise an output starting
// with FAIL counts as a rejection.
func gateFailed(res *types.RunResult) bool {
	if res == nil {
		return true
	}
	if v, ok := res.Structured["pass"]; ok {
		if pass, ok := v.(bool); ok {
			return !pass
		}
	}
	return strings.HasPrefix(strings.TrimSpace(strings.ToUpper(res.Output)), "FAIL")
}

// normalizeAnswer canonicalizes an answer for consensus comparison:
// trimmed, lower-cased, inner whitespace collapsed.
func normalizeAnswer(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// answerOf prefers a structured answer field over the raw output.
func answerOf(res *types.RunResult) string {
	if res == nil {
		return ""
	}
	if v, ok := res.Structured["answer"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return res.Output
}
