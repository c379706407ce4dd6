package comm

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/types"
)

// BusConfig bounds the message bus. All caps are enforced before a message
// is recorded, never after.
type BusConfig struct {
	MaxMessageLength   int
	MaxMessagesPerTurn int
	MaxTotalMessages   int
}

// MessageHandler receives messages addressed to a subscribed agent.
type MessageHandler func(*types.SwarmMessage)

type busSubscription struct {
	id      int
	agent   string
	handler MessageHandler
}

// MessageBus is the directed/broadcast messaging primitive of one swarm.
//
// The local cache is the authoritative record of everything sent from this
// process: a send appends locally and notifies local subscribers
// synchronously before the durable push and network publish, which are
// fire-and-forget. Accepted messages are handed to a single background
// writer, so the durable list and recipient channels observe them in send
// order. A crash right after Send can lose remote fan-out but never the
// local record. Messages from other processes arrive through the channel
// subscription (or an explicit SyncFromStore) and make the cache an
// eventually-consistent replica of the swarm's durable list.
type MessageBus struct {
	ns      Namespace
	client  redis.UniversalClient // nil: local-only bus
	cfg     BusConfig
	logger  *zap.Logger
	metrics *metrics.Collector

	outbox chan *types.SwarmMessage // nil when client is nil

	mu         sync.RWMutex
	messages   []*types.SwarmMessage
	seen       map[string]struct{}
	turnCounts map[string]int
	readCursor map[string]int
	subs       []busSubscription
	nextSubID  int
	pubsub     *redis.PubSub
	closed     bool
}

// NewMessageBus creates a message bus for one swarm. A nil client yields a
// purely local bus with the same caps and ordering guarantees.
func NewMessageBus(ns Namespace, client redis.UniversalClient, cfg BusConfig, logger *zap.Logger, collector *metrics.Collector) *MessageBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &MessageBus{
		ns:         ns,
		client:     client,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "message_bus"), zap.String("swarm_id", ns.SwarmID)),
		metrics:    collector,
		seen:       make(map[string]struct{}),
		turnCounts: make(map[string]int),
		readCursor: make(map[string]int),
	}
	if client != nil {
		b.outbox = make(chan *types.SwarmMessage, 1024)
		go b.writeLoop(b.outbox)
	}
	return b
}

// Initialize subscribes to the swarm's recipient channels so messages sent
// by other processes converge into the local replica. Store connection loss
// here is fatal to coordinator startup.
func (b *MessageBus) Initialize(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		return types.NewError(types.ErrStoreUnavail, "message bus store unavailable").WithCause(err)
	}

	b.mu.Lock()
	b.pubsub = b.client.PSubscribe(ctx, b.ns.ChannelPattern())
	ch := b.pubsub.Channel()
	b.mu.Unlock()

	go func() {
		for m := range ch {
			var msg types.SwarmMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn("dropping undecodable message", zap.Error(err))
				continue
			}
			b.applyRemote(&msg)
		}
	}()

	return nil
}

// applyRemote appends a message observed on the network, deduplicating
// against everything already recorded locally (including our own sends,
// which come back on the channel we publish to).
func (b *MessageBus) applyRemote(msg *types.SwarmMessage) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if _, dup := b.seen[msg.ID]; dup {
		b.mu.Unlock()
		return
	}
	b.seen[msg.ID] = struct{}{}
	b.messages = append(b.messages, msg)
	handlers := b.matchingHandlers(msg)
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// matchingHandlers returns the handlers a message should reach. Callers must
// hold at least a read lock.
func (b *MessageBus) matchingHandlers(msg *types.SwarmMessage) []MessageHandler {
	var out []MessageHandler
	for _, sub := range b.subs {
		if sub.agent == msg.To || (msg.IsBroadcast() && sub.agent != msg.From) {
			out = append(out, sub.handler)
		}
	}
	return out
}

// Send validates, records, and fans out one message. The returned message
// carries the assigned ID and timestamp. Rejections are side-effect free:
// the local cache and all counters are unchanged.
func (b *MessageBus) Send(ctx context.Context, msg *types.SwarmMessage) (*types.SwarmMessage, error) {
	if msg.Content == "" {
		b.metrics.RecordMessageRejected(string(types.ErrEmptyMessage))
		return nil, types.NewError(types.ErrEmptyMessage, "message content is empty")
	}
	if b.cfg.MaxMessageLength > 0 && len(msg.Content) > b.cfg.MaxMessageLength {
		b.metrics.RecordMessageRejected(string(types.ErrMessageTooLong))
		return nil, types.NewErrorf(types.ErrMessageTooLong,
			"message length %d exceeds cap %d", len(msg.Content), b.cfg.MaxMessageLength)
	}

	recorded := &types.SwarmMessage{
		ID:        uuid.New().String(),
		SwarmID:   b.ns.SwarmID,
		From:      msg.From,
		To:        msg.To,
		Type:      msg.Type,
		Content:   msg.Content,
		Channel:   msg.Channel,
		Timestamp: time.Now(),
	}
	if recorded.To == "" {
		recorded.To = types.Broadcast
	}
	if recorded.Type == "" {
		recorded.Type = types.MessageTypeText
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, types.NewError(types.ErrStoreClosed, "message bus is closed")
	}
	if b.cfg.MaxMessagesPerTurn > 0 && b.turnCounts[recorded.From] >= b.cfg.MaxMessagesPerTurn {
		b.mu.Unlock()
		b.metrics.RecordMessageRejected(string(types.ErrTurnCapExceeded))
		return nil, types.NewErrorf(types.ErrTurnCapExceeded,
			"sender %q reached %d messages this turn", recorded.From, b.cfg.MaxMessagesPerTurn)
	}
	if b.cfg.MaxTotalMessages > 0 && len(b.messages) >= b.cfg.MaxTotalMessages {
		b.mu.Unlock()
		b.metrics.RecordMessageRejected(string(types.ErrTotalCapReached))
		return nil, types.NewErrorf(types.ErrTotalCapReached,
			"swarm reached %d total messages", b.cfg.MaxTotalMessages)
	}

	b.turnCounts[recorded.From]++
	b.seen[recorded.ID] = struct{}{}
	b.messages = append(b.messages, recorded)
	handlers := b.matchingHandlers(recorded)

	// Enqueued under the lock so the writer sees the same order the
	// local cache does.
	dropped := false
	if b.outbox != nil {
		select {
		case b.outbox <- recorded:
		default:
			dropped = true
		}
	}
	b.mu.Unlock()

	if dropped {
		b.logger.Warn("fan-out queue full, message not propagated",
			zap.String("msg_id", recorded.ID), zap.String("to", recorded.To))
	}

	// Local subscribers are notified synchronously, before any network hop.
	for _, h := range handlers {
		h(recorded)
	}

	b.metrics.RecordMessageSent(string(recorded.Type))

	return recorded, nil
}

// writeLoop drains the outbox one message at a time. A single writer keeps
// the durable list and each recipient channel in send order.
func (b *MessageBus) writeLoop(outbox <-chan *types.SwarmMessage) {
	for msg := range outbox {
		b.propagate(msg)
	}
}

// propagate pushes the message to the durable list and publishes it on the
// recipient's channel. Failures are logged and swallowed: the local record
// is already correct regardless of remote delivery.
func (b *MessageBus) propagate(msg *types.SwarmMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Warn("message marshal failed", zap.String("msg_id", msg.ID), zap.Error(err))
		return
	}

	pipe := b.client.Pipeline()
	pipe.RPush(ctx, b.ns.Messages(), data)
	pipe.Publish(ctx, b.ns.Channel(msg.To), data)
	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Warn("message fan-out failed",
			zap.String("msg_id", msg.ID),
			zap.String("to", msg.To),
			zap.Error(err),
		)
	}
}

// Subscribe registers a handler for messages visible to agentName (directed
// to it, or broadcast from someone else). The returned function removes the
// subscription.
func (b *MessageBus) Subscribe(agentName string, handler MessageHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	id := b.nextSubID
	b.subs = append(b.subs, busSubscription{id: id, agent: agentName, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Messages returns every cached message visible to the agent (sent by it,
// addressed to it, or broadcast), in send order.
func (b *MessageBus) Messages(agentName string) []*types.SwarmMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*types.SwarmMessage
	for _, m := range b.messages {
		if m.VisibleTo(agentName) {
			out = append(out, m)
		}
	}
	return out
}

// Conversation returns the directed messages exchanged between two agents,
// in send order.
func (b *MessageBus) Conversation(a, bName string) []*types.SwarmMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*types.SwarmMessage
	for _, m := range b.messages {
		if (m.From == a && m.To == bName) || (m.From == bName && m.To == a) {
			out = append(out, m)
		}
	}
	return out
}

// Unread returns the inbound messages (directed or broadcast, excluding the
// agent's own) the agent has not seen through a previous Unread call, and
// advances its read cursor.
func (b *MessageBus) Unread(agentName string) []*types.SwarmMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := b.readCursor[agentName]
	var out []*types.SwarmMessage
	for _, m := range b.messages[start:] {
		if m.From == agentName {
			continue
		}
		if m.To == agentName || m.IsBroadcast() {
			out = append(out, m)
		}
	}
	b.readCursor[agentName] = len(b.messages)
	return out
}

// ResetTurnCounts clears only the per-turn counters. The coordinator calls
// this between turns.
func (b *MessageBus) ResetTurnCounts() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turnCounts = make(map[string]int)
}

// SyncFromStore replaces the local replica with the durable list's contents,
// preserving list order. Read cursors are clamped to the new length.
func (b *MessageBus) SyncFromStore(ctx context.Context) error {
	if b.client == nil {
		return nil
	}

	raw, err := b.client.LRange(ctx, b.ns.Messages(), 0, -1).Result()
	if err != nil {
		return types.NewError(types.ErrStoreUnavail, "message list read failed").WithCause(err)
	}

	msgs := make([]*types.SwarmMessage, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		var m types.SwarmMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			b.logger.Warn("skipping undecodable stored message", zap.Error(err))
			continue
		}
		msgs = append(msgs, &m)
		seen[m.ID] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = msgs
	b.seen = seen
	for agent, cursor := range b.readCursor {
		if cursor > len(msgs) {
			b.readCursor[agent] = len(msgs)
		}
	}
	return nil
}

// Len reports the number of locally recorded messages.
func (b *MessageBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

// Close stops the channel subscription. It is idempotent and never touches
// the durable list.
func (b *MessageBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pubsub := b.pubsub
	b.pubsub = nil
	if b.outbox != nil {
		// Sends enqueue only under the lock and only while open, so
		// closing here cannot race a send. The writer drains what is
		// already queued and exits.
		close(b.outbox)
		b.outbox = nil
	}
	b.mu.Unlock()

	if pubsub != nil {
		return pubsub.Close()
	}
	return nil
}
