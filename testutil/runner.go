package testutil

import (
	"context"
	"sync"

	"github.com/BaSui01/swarmflow/types"
)

// RunFunc is the behavior of a stub runner invocation.
type RunFunc func(ctx context.Context, input string, rc *types.RunContext) (*types.RunResult, error)

// StubRunner is a configurable in-memory agent used across swarm tests.
// By default it echoes a fixed output; behavior, bid score and errors
// are injected through the With* builders.
type StubRunner struct {
	name string
	fn   RunFunc

	mu     sync.Mutex
	calls  int
	inputs []string
}

// NewStubRunner builds a stub that answers with the given output.
func NewStubRunner(name, output string) *StubRunner {
	return &StubRunner{
		name: name,
		fn: func(context.Context, string, *types.RunContext) (*types.RunResult, error) {
			return &types.RunResult{Output: output, Usage: types.TokenUsage{TotalTokens: 10, PromptTokens: 6, CompletionTokens: 4}}, nil
		},
	}
}

// WithRun replaces the invocation behavior.
func (s *StubRunner) WithRun(fn RunFunc) *StubRunner {
	s.fn = fn
	return s
}

// WithError makes every invocation fail.
func (s *StubRunner) WithError(err error) *StubRunner {
	s.fn = func(context.Context, string, *types.RunContext) (*types.RunResult, error) {
		return nil, err
	}
	return s
}

// Name implements types.Runner.
func (s *StubRunner) Name() string { return s.name }

// Run implements types.Runner and records the call.
func (s *StubRunner) Run(ctx context.Context, input string, rc *types.RunContext) (*types.RunResult, error) {
	s.mu.Lock()
	s.calls++
	s.inputs = append(s.inputs, input)
	s.mu.Unlock()
	return s.fn(ctx, input, rc)
}

// Calls returns how many times the stub ran.
func (s *StubRunner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Inputs returns a copy of every input the stub received, in order.
func (s *StubRunner) Inputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.inputs))
	copy(out, s.inputs)
	return out
}

// BiddingRunner is a StubRunner that self-assesses its fitness with a
// fixed score instead of capability matching.
type BiddingRunner struct {
	*StubRunner
	Score float64
}

// Bid implements types.Bidder.
func (b *BiddingRunner) Bid(string) float64 { return b.Score }
