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

// BlackboardConfig configures the shared blackboard.
type BlackboardConfig struct {
	Sections     []string
	TrackHistory bool
}

// blackboardUpdate is the pub/sub payload for one blackboard operation.
// Origin identifies the publishing instance so it can skip its own updates
// when they echo back on the channel.
type blackboardUpdate struct {
	Op     string                 `json:"op"` // "write" or "clear"
	Origin string                 `json:"origin,omitempty"`
	Entry  *types.BlackboardEntry `json:"entry,omitempty"`
}

// Blackboard is the sectioned shared key-value state of one swarm. Writes
// are last-write-wins per (section, key); reads return the latest locally
// observed value, eventually consistent across processes. The durable hash
// is authoritative; the in-memory map is a read replica converged through
// the update channel.
type Blackboard struct {
	ns      Namespace
	id      string                // instance identity, used to ignore echoed updates
	client  redis.UniversalClient // nil: local-only blackboard
	cfg     BlackboardConfig
	logger  *zap.Logger
	metrics *metrics.Collector

	mu       sync.RWMutex
	sections map[string]map[string]*types.BlackboardEntry
	history  map[string][]*types.BlackboardEntry
	pubsub   *redis.PubSub
	closed   bool
}

// NewBlackboard creates a blackboard for one swarm.
func NewBlackboard(ns Namespace, client redis.UniversalClient, cfg BlackboardConfig, logger *zap.Logger, collector *metrics.Collector) *Blackboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	bb := &Blackboard{
		ns:       ns,
		id:       uuid.New().String(),
		client:   client,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "blackboard"), zap.String("swarm_id", ns.SwarmID)),
		metrics:  collector,
		sections: make(map[string]map[string]*types.BlackboardEntry),
		history:  make(map[string][]*types.BlackboardEntry),
	}
	for _, s := range cfg.Sections {
		bb.sections[s] = make(map[string]*types.BlackboardEntry)
	}
	return bb
}

// Initialize subscribes to the update channel so multiple coordinator and
// worker processes converge on the same values. Store connection loss here
// is fatal to coordinator startup.
func (bb *Blackboard) Initialize(ctx context.Context) error {
	if bb.client == nil {
		return nil
	}
	if err := bb.client.Ping(ctx).Err(); err != nil {
		return types.NewError(types.ErrStoreUnavail, "blackboard store unavailable").WithCause(err)
	}

	bb.mu.Lock()
	bb.pubsub = bb.client.Subscribe(ctx, bb.ns.BlackboardUpdates())
	ch := bb.pubsub.Channel()
	bb.mu.Unlock()

	go func() {
		for m := range ch {
			var upd blackboardUpdate
			if err := json.Unmarshal([]byte(m.Payload), &upd); err != nil {
				bb.logger.Warn("dropping undecodable blackboard update", zap.Error(err))
				continue
			}
			if upd.Origin == bb.id {
				continue // our own update echoed back
			}
			switch upd.Op {
			case "clear":
				bb.clearLocal()
			case "write":
				if upd.Entry != nil {
					bb.applyLocal(upd.Entry)
				}
			}
		}
	}()

	return nil
}

// applyLocal records an entry in the replica, retiring any superseded value
// to the section history when tracking is on.
func (bb *Blackboard) applyLocal(entry *types.BlackboardEntry) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if bb.closed {
		return
	}

	section, ok := bb.sections[entry.Section]
	if !ok {
		section = make(map[string]*types.BlackboardEntry)
		bb.sections[entry.Section] = section
	}
	if prev, exists := section[entry.Key]; exists && bb.cfg.TrackHistory {
		bb.history[entry.Section] = append(bb.history[entry.Section], prev)
	}
	section[entry.Key] = entry
}

// Write records a value under (section, key). The local replica is updated
// first; persistence and the update broadcast are best-effort, so a mid-run
// store loss degrades peers to stale reads but never fails the write.
func (bb *Blackboard) Write(ctx context.Context, section, key string, value any, writer string) error {
	bb.mu.RLock()
	closed := bb.closed
	bb.mu.RUnlock()
	if closed {
		return types.NewError(types.ErrStoreClosed, "blackboard is closed")
	}

	entry := &types.BlackboardEntry{
		Section:   section,
		Key:       key,
		Value:     value,
		Writer:    writer,
		Timestamp: time.Now(),
	}
	bb.applyLocal(entry)
	bb.metrics.RecordBlackboardWrite(section)

	if bb.client == nil {
		return nil
	}

	data, err := json.Marshal(blackboardUpdate{Op: "write", Origin: bb.id, Entry: entry})
	if err != nil {
		return err
	}
	field := section + ":" + key

	pipe := bb.client.Pipeline()
	pipe.HSet(ctx, bb.ns.Blackboard(), field, data)
	pipe.Publish(ctx, bb.ns.BlackboardUpdates(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		bb.logger.Warn("blackboard persist failed",
			zap.String("section", section),
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return nil
}

// Read returns the latest locally observed entry for (section, key).
func (bb *Blackboard) Read(section, key string) (*types.BlackboardEntry, bool) {
	bb.mu.RLock()
	defer bb.mu.RUnlock()

	s, ok := bb.sections[section]
	if !ok {
		return nil, false
	}
	entry, ok := s[key]
	return entry, ok
}

// ReadSection returns a copy of every current entry in a section.
func (bb *Blackboard) ReadSection(section string) map[string]*types.BlackboardEntry {
	bb.mu.RLock()
	defer bb.mu.RUnlock()

	out := make(map[string]*types.BlackboardEntry, len(bb.sections[section]))
	for k, v := range bb.sections[section] {
		out[k] = v
	}
	return out
}

// History returns the superseded entries of a section in arrival order.
// Empty unless history tracking is enabled.
func (bb *Blackboard) History(section string) []*types.BlackboardEntry {
	bb.mu.RLock()
	defer bb.mu.RUnlock()

	return append([]*types.BlackboardEntry(nil), bb.history[section]...)
}

// Sections lists the section names currently present.
func (bb *Blackboard) Sections() []string {
	bb.mu.RLock()
	defer bb.mu.RUnlock()

	out := make([]string, 0, len(bb.sections))
	for name := range bb.sections {
		out = append(out, name)
	}
	return out
}

func (bb *Blackboard) clearLocal() {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	bb.sections = make(map[string]map[string]*types.BlackboardEntry)
	for _, s := range bb.cfg.Sections {
		bb.sections[s] = make(map[string]*types.BlackboardEntry)
	}
	bb.history = make(map[string][]*types.BlackboardEntry)
}

// Clear wipes all in-memory and durable state and notifies peers.
func (bb *Blackboard) Clear(ctx context.Context) error {
	bb.clearLocal()

	if bb.client == nil {
		return nil
	}

	data, _ := json.Marshal(blackboardUpdate{Op: "clear", Origin: bb.id})
	pipe := bb.client.Pipeline()
	pipe.Del(ctx, bb.ns.Blackboard())
	pipe.Publish(ctx, bb.ns.BlackboardUpdates(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrStoreUnavail, "blackboard clear failed").WithCause(err)
	}
	return nil
}

// SyncFromStore replaces the local replica with the durable hash contents.
func (bb *Blackboard) SyncFromStore(ctx context.Context) error {
	if bb.client == nil {
		return nil
	}

	fields, err := bb.client.HGetAll(ctx, bb.ns.Blackboard()).Result()
	if err != nil {
		return types.NewError(types.ErrStoreUnavail, "blackboard read failed").WithCause(err)
	}

	bb.clearLocal()
	for _, raw := range fields {
		var upd blackboardUpdate
		if err := json.Unmarshal([]byte(raw), &upd); err != nil || upd.Entry == nil {
			bb.logger.Warn("skipping undecodable blackboard field", zap.Error(err))
			continue
		}
		bb.applyLocal(upd.Entry)
	}
	return nil
}

// Close stops the update subscription. Idempotent.
func (bb *Blackboard) Close() error {
	bb.mu.Lock()
	if bb.closed {
		bb.mu.Unlock()
		return nil
	}
	bb.closed = true
	pubsub := bb.pubsub
	bb.pubsub = nil
	bb.mu.Unlock()

	if pubsub != nil {
		return pubsub.Close()
	}
	return nil
}
