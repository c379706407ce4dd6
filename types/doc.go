// Package types provides the core types shared across the swarmflow engine.
// This package has ZERO dependencies on other swarmflow packages to avoid
// circular imports. All other packages import their shared vocabulary from
// here: the Runner contract, run results, messages, events, blackboard
// entries, the distributed job wire format, and structured errors.
package types
