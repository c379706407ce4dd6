// Package swarm coordinates groups of agents toward a shared goal.
//
// A Swarm owns the communication fabric (message bus, blackboard, event
// emitter) and a Coordinator that executes agents either in-process or
// through a Redis-backed worker fleet. The configured strategy decides
// the collaboration topology: hierarchical delegation, round-robin
// turn-taking, consensus voting, structured debate, a staged pipeline,
// or a capability auction.
package swarm
