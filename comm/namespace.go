package comm

import "fmt"

// Namespace derives every Redis key for one swarm from a shared prefix and
// the swarm ID, so concurrent swarms on one store never collide.
type Namespace struct {
	Prefix  string
	SwarmID string
}

// NewNamespace builds a namespace. An empty prefix defaults to "swarmflow".
func NewNamespace(prefix, swarmID string) Namespace {
	if prefix == "" {
		prefix = "swarmflow"
	}
	return Namespace{Prefix: prefix, SwarmID: swarmID}
}

// Messages is the durable message list key.
func (n Namespace) Messages() string {
	return fmt.Sprintf("%s:%s:messages", n.Prefix, n.SwarmID)
}

// Channel is the pub/sub channel for one recipient (agent name or
// "broadcast").
func (n Namespace) Channel(target string) string {
	return fmt.Sprintf("%s:%s:channel:%s", n.Prefix, n.SwarmID, target)
}

// ChannelPattern matches every recipient channel of the swarm.
func (n Namespace) ChannelPattern() string {
	return fmt.Sprintf("%s:%s:channel:*", n.Prefix, n.SwarmID)
}

// Blackboard is the blackboard hash key.
func (n Namespace) Blackboard() string {
	return fmt.Sprintf("%s:%s:blackboard", n.Prefix, n.SwarmID)
}

// BlackboardUpdates is the blackboard update pub/sub channel.
func (n Namespace) BlackboardUpdates() string {
	return fmt.Sprintf("%s:%s:blackboard:updates", n.Prefix, n.SwarmID)
}

// Events is the pub/sub channel for serialized swarm events.
func (n Namespace) Events() string {
	return fmt.Sprintf("%s:%s:events", n.Prefix, n.SwarmID)
}

// Results is the pub/sub channel carrying distributed job results.
func (n Namespace) Results() string {
	return fmt.Sprintf("%s:%s:results", n.Prefix, n.SwarmID)
}

// Jobs is the durable work list for one queue.
func (n Namespace) Jobs(queue string) string {
	if queue == "" {
		queue = "default"
	}
	return fmt.Sprintf("%s:%s:jobs:%s", n.Prefix, n.SwarmID, queue)
}
