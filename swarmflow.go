// Package swarmflow provides a top-level convenience entry point for
// running multi-agent swarms with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/swarmflow"
//
//	cfg, err := swarmflow.Load("swarm.yaml")
//	s, err := swarmflow.New(cfg, runners, swarmflow.WithLogger(logger))
//	out, err := s.Run(ctx, "review the release notes")
//
// This is a thin wrapper around [swarm.New]; both produce identical
// results. Use this package when you prefer the shorter import path.
package swarmflow

import (
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/swarm"
	"github.com/BaSui01/swarmflow/types"
)

// Option configures the swarm created by [New].
type Option = swarm.Option

// Swarm is one configured multi-agent run.
type Swarm = swarm.Swarm

// Outcome is the result of one swarm run.
type Outcome = swarm.Outcome

// New creates a [swarm.Swarm] from a validated configuration plus one
// runner per agent (nil for distributed execution).
func New(cfg *config.Config, runners map[string]types.Runner, opts ...Option) (*Swarm, error) {
	return swarm.New(cfg, runners, opts...)
}

// Load reads a swarm configuration: defaults, then the YAML file, then
// SWARMFLOW_* environment overrides.
func Load(path string) (*config.Config, error) {
	return config.NewLoader().WithConfigPath(path).Load()
}

// Re-export construction options so callers never need to import swarm/.

// WithLogger sets a custom zap logger.
var WithLogger = swarm.WithLogger

// WithMetricsNamespace registers Prometheus metrics under the namespace.
var WithMetricsNamespace = swarm.WithMetricsNamespace

// WithClient injects a Redis client instead of dialing the configured store.
var WithClient = swarm.WithClient

// WithSwarmID pins the swarm ID instead of generating one.
var WithSwarmID = swarm.WithSwarmID

// NewLogger builds a zap logger from the configuration's log section.
// Unknown levels fall back to info; unknown formats to JSON.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
