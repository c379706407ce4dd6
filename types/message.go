package types

import "time"

// Broadcast is the reserved recipient name that addresses every agent in the
// swarm. It is not a valid agent name.
const Broadcast = "broadcast"

// MessageType classifies a SwarmMessage.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeProposal MessageType = "proposal"
	MessageTypeVote     MessageType = "vote"
	MessageTypeResult   MessageType = "result"
	MessageTypeControl  MessageType = "control"
)

// SwarmMessage is one directed or broadcast message between swarm agents.
// Messages are immutable once created: the bus assigns ID and Timestamp on
// send and never mutates a recorded message afterwards.
type SwarmMessage struct {
	ID        string      `json:"id"`
	SwarmID   string      `json:"swarm_id"`
	From      string      `json:"from"`
	To        string      `json:"to"` // agent name or Broadcast
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Channel   string      `json:"channel,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// IsBroadcast reports whether the message addresses every agent.
func (m *SwarmMessage) IsBroadcast() bool {
	return m.To == Broadcast
}

// VisibleTo reports whether an agent should see this message: it is the
// sender, the recipient, or the message is a broadcast.
func (m *SwarmMessage) VisibleTo(agentName string) bool {
	return m.From == agentName || m.To == agentName || m.IsBroadcast()
}

// BlackboardEntry is one write to the shared blackboard. Writes are
// last-write-wins per (section, key); superseded entries survive only when
// history tracking is enabled.
type BlackboardEntry struct {
	Section   string    `json:"section"`
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Writer    string    `json:"writer"`
	Timestamp time.Time `json:"timestamp"`
}
