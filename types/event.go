package types

import "time"

// EventType identifies a swarm lifecycle event. The wildcard subscribes to
// every type.
type EventType string

const (
	EventWildcard      EventType = "*"
	EventSwarmStart    EventType = "swarm:start"
	EventSwarmComplete EventType = "swarm:complete"
	EventAgentStart    EventType = "agent:start"
	EventAgentComplete EventType = "agent:complete"
	EventAgentError    EventType = "agent:error"
	EventMessageSent   EventType = "message:sent"
	EventJobDispatched EventType = "job:dispatched"
	EventJobResult     EventType = "job:result"
)

// SwarmEvent is one entry in the swarm's bounded event history. Events are
// never mutated after emission; on overflow the oldest entry is dropped.
type SwarmEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	AgentName string    `json:"agent_name,omitempty"`
	Data      any       `json:"data,omitempty"`
}
