// Package config defines the swarm configuration surface and its loader.
//
// Loading follows a defaults-first merge: built-in defaults, then an optional
// YAML file, then environment variable overrides.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("swarm.yaml").
//	    WithEnvPrefix("SWARMFLOW").
//	    Load()
//
// Validation failures (unknown strategy, strategy agent minimums, bad caps)
// are reported synchronously by Validate, before any coordinator is built.
package config
