// Package comm provides the swarm communication primitives: the message bus,
// the shared blackboard, and the event emitter.
//
// All three share a per-swarm Redis namespace ({prefix}:{swarmID}:...) so
// concurrent swarms never collide. The durable store is the single source of
// truth for cross-process state; every in-process structure (message cache,
// blackboard cache, event ring buffer) is an eventually-consistent read
// replica. Constructed without a Redis client, each primitive degrades to a
// purely local, single-process variant with identical semantics.
package comm
