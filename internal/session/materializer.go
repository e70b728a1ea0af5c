package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loomchat/loom/internal/event"
	"github.com/loomchat/loom/internal/eventlog"
	"github.com/loomchat/loom/internal/logging"
	"github.com/loomchat/loom/pkg/types"
)

// InsertHook is called when a live fold materializes a message id for the
// first time. History replay never fires hooks.
type InsertHook func(msg types.Message)

// Materializer folds a session's log into queryable collections: presence,
// registered agents, and chunks grouped into messages. The fold is pure
// state accumulation; malformed events are logged and skipped, never fatal.
type Materializer struct {
	sessionID string
	log       eventlog.Log
	bus       *event.Bus

	// ignoreResets builds a raw historical view in which reset control
	// events do not clear anything.
	ignoreResets bool

	mu         sync.RWMutex
	presence   map[string]*types.PresenceRecord
	agents     map[string]*types.AgentSpec
	agentOrder []string
	messages   map[string]*types.Message
	msgOrder   []string
	seen       map[string]map[int]bool
	nextOffset uint64

	hooks []InsertHook
	unsub func()
}

// NewMaterializer creates a materializer over one session's log.
func NewMaterializer(sessionID string, log eventlog.Log, bus *event.Bus) *Materializer {
	return &Materializer{
		sessionID: sessionID,
		log:       log,
		bus:       bus,
		presence:  make(map[string]*types.PresenceRecord),
		agents:    make(map[string]*types.AgentSpec),
		messages:  make(map[string]*types.Message),
		seen:      make(map[string]map[int]bool),
	}
}

// NewHistoryMaterializer creates a materializer that ignores reset control
// events, exposing the full history kept by the log.
func NewHistoryMaterializer(sessionID string, log eventlog.Log, bus *event.Bus) *Materializer {
	m := NewMaterializer(sessionID, log, bus)
	m.ignoreResets = true
	return m
}

// OnMessageInserted registers a hook fired for each newly materialized
// message during live folding. Must be called before Start.
func (m *Materializer) OnMessageInserted(hook InsertHook) {
	m.hooks = append(m.hooks, hook)
}

// Preload replays the log from offset 0 to build the initial collections.
// No bus events are published and no hooks fire for replayed history.
func (m *Materializer) Preload(ctx context.Context) error {
	records, err := m.log.Read(ctx, 0)
	if err != nil {
		return fmt.Errorf("materializer: preload: %w", err)
	}
	for _, rec := range records {
		m.fold(rec, false)
	}
	return nil
}

// Start subscribes to live log updates. Records appended between Preload and
// Start are caught up first. Stop with Close.
func (m *Materializer) Start(ctx context.Context) error {
	m.unsub = m.log.Subscribe(func(rec eventlog.Record) {
		m.deliver(rec)
	})
	return m.catchUp(ctx)
}

// Close cancels the live subscription.
func (m *Materializer) Close() {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
}

// deliver folds one live record, re-reading from the last folded offset if
// the subscription skipped ahead.
func (m *Materializer) deliver(rec eventlog.Record) {
	m.mu.RLock()
	next := m.nextOffset
	m.mu.RUnlock()

	if rec.Offset > next {
		if err := m.catchUp(context.Background()); err != nil {
			logging.Error().
				Str("sessionID", m.sessionID).
				Uint64("offset", rec.Offset).
				Err(err).
				Msg("failed to catch up after subscription gap")
		}
		return
	}
	m.fold(rec, true)
}

// catchUp reads from the last folded offset until the view is current,
// retrying transient read failures with exponential backoff.
func (m *Materializer) catchUp(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	return backoff.Retry(func() error {
		m.mu.RLock()
		next := m.nextOffset
		m.mu.RUnlock()

		records, err := m.log.Read(ctx, next)
		if err != nil {
			return err
		}
		for _, rec := range records {
			m.fold(rec, true)
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, 5), ctx))
}

// fold applies one record to the materialized state. live controls bus
// publication and insert hooks.
func (m *Materializer) fold(rec eventlog.Record, live bool) {
	m.mu.Lock()
	if rec.Offset < m.nextOffset {
		// Already folded; the fold is idempotent under re-delivery.
		m.mu.Unlock()
		return
	}
	m.nextOffset = rec.Offset + 1
	m.mu.Unlock()

	switch rec.Event.Type {
	case eventlog.TypeChunk:
		m.foldChunk(rec, live)
	case eventlog.TypePresence:
		m.foldPresence(rec, live)
	case eventlog.TypeAgentUpsert:
		m.foldAgentUpsert(rec, live)
	case eventlog.TypeAgentRemove:
		m.foldAgentRemove(rec, live)
	case eventlog.TypeReset:
		m.foldReset(rec, live)
	default:
		logging.Debug().
			Str("sessionID", m.sessionID).
			Str("type", string(rec.Event.Type)).
			Msg("skipping unknown log event type")
	}
}

func (m *Materializer) foldChunk(rec eventlog.Record, live bool) {
	var chunk types.ChunkEvent
	if err := json.Unmarshal(rec.Event.Payload, &chunk); err != nil {
		logging.Warn().
			Str("sessionID", m.sessionID).
			Uint64("offset", rec.Offset).
			Err(err).
			Msg("skipping malformed chunk event")
		return
	}
	if chunk.MessageID == "" {
		logging.Warn().
			Str("sessionID", m.sessionID).
			Uint64("offset", rec.Offset).
			Msg("skipping chunk without messageID")
		return
	}

	m.mu.Lock()
	seenSeqs := m.seen[chunk.MessageID]
	if seenSeqs == nil {
		seenSeqs = make(map[int]bool)
		m.seen[chunk.MessageID] = seenSeqs
	}
	if seenSeqs[chunk.Seq] {
		m.mu.Unlock()
		return
	}
	seenSeqs[chunk.Seq] = true

	msg, inserted := m.messages[chunk.MessageID], false
	if msg == nil {
		inserted = true
		msg = &types.Message{
			ID:        chunk.MessageID,
			Role:      chunk.Role,
			ActorID:   chunk.ActorID,
			ActorType: chunk.ActorType,
			CreatedAt: chunk.CreatedAt,
		}
		m.messages[chunk.MessageID] = msg
		m.msgOrder = append(m.msgOrder, chunk.MessageID)
	}

	// Insert in ascending seq order so folding is delivery-order invariant.
	part := types.MessagePart{Seq: chunk.Seq, Payload: chunk.Chunk}
	idx := sort.Search(len(msg.Parts), func(i int) bool {
		return msg.Parts[i].Seq > chunk.Seq
	})
	msg.Parts = append(msg.Parts, types.MessagePart{})
	copy(msg.Parts[idx+1:], msg.Parts[idx:])
	msg.Parts[idx] = part

	snapshot := copyMessage(msg)
	m.mu.Unlock()

	if !live {
		return
	}

	m.bus.Publish(event.Event{
		Type: event.ChunkAppended,
		Data: event.ChunkData{SessionID: m.sessionID, Offset: rec.Offset, Chunk: chunk},
	})
	evType := event.MessageUpdated
	if inserted {
		evType = event.MessageCreated
	}
	m.bus.Publish(event.Event{
		Type: evType,
		Data: event.MessageData{SessionID: m.sessionID, Message: &snapshot},
	})

	if inserted {
		for _, hook := range m.hooks {
			hook(snapshot)
		}
	}
}

func (m *Materializer) foldPresence(rec eventlog.Record, live bool) {
	var p types.PresenceRecord
	if err := json.Unmarshal(rec.Event.Payload, &p); err != nil {
		logging.Warn().
			Str("sessionID", m.sessionID).
			Uint64("offset", rec.Offset).
			Err(err).
			Msg("skipping malformed presence event")
		return
	}
	if p.ActorID == "" {
		return
	}

	m.mu.Lock()
	rc := p
	m.presence[p.Key()] = &rc
	m.mu.Unlock()

	if live {
		m.bus.Publish(event.Event{
			Type: event.PresenceUpdated,
			Data: event.PresenceData{SessionID: m.sessionID, Record: &p},
		})
	}
}

func (m *Materializer) foldAgentUpsert(rec eventlog.Record, live bool) {
	var spec types.AgentSpec
	if err := json.Unmarshal(rec.Event.Payload, &spec); err != nil {
		logging.Warn().
			Str("sessionID", m.sessionID).
			Uint64("offset", rec.Offset).
			Err(err).
			Msg("skipping malformed agent event")
		return
	}
	if spec.ID == "" {
		return
	}

	m.mu.Lock()
	if _, exists := m.agents[spec.ID]; !exists {
		m.agentOrder = append(m.agentOrder, spec.ID)
	}
	sc := spec
	m.agents[spec.ID] = &sc
	m.mu.Unlock()

	if live {
		m.bus.Publish(event.Event{
			Type: event.AgentUpserted,
			Data: event.AgentData{SessionID: m.sessionID, AgentID: spec.ID, Spec: &spec},
		})
	}
}

func (m *Materializer) foldAgentRemove(rec eventlog.Record, live bool) {
	var payload eventlog.AgentRemovePayload
	if err := json.Unmarshal(rec.Event.Payload, &payload); err != nil || payload.AgentID == "" {
		return
	}

	m.mu.Lock()
	delete(m.agents, payload.AgentID)
	for i, id := range m.agentOrder {
		if id == payload.AgentID {
			m.agentOrder = append(m.agentOrder[:i], m.agentOrder[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if live {
		m.bus.Publish(event.Event{
			Type: event.AgentRemoved,
			Data: event.AgentData{SessionID: m.sessionID, AgentID: payload.AgentID},
		})
	}
}

// foldReset clears client-visible conversation state. The log keeps
// everything; a history materializer ignores the event entirely. Agent
// registrations survive a reset.
func (m *Materializer) foldReset(rec eventlog.Record, live bool) {
	if m.ignoreResets {
		return
	}

	var payload eventlog.ResetPayload
	if err := json.Unmarshal(rec.Event.Payload, &payload); err != nil {
		logging.Warn().
			Str("sessionID", m.sessionID).
			Uint64("offset", rec.Offset).
			Err(err).
			Msg("malformed reset payload, clearing messages only")
	}

	m.mu.Lock()
	m.messages = make(map[string]*types.Message)
	m.msgOrder = nil
	m.seen = make(map[string]map[int]bool)
	if payload.ClearPresence {
		m.presence = make(map[string]*types.PresenceRecord)
	}
	m.mu.Unlock()

	if live {
		m.bus.Publish(event.Event{
			Type: event.SessionReset,
			Data: event.SessionData{SessionID: m.sessionID, ClearPresence: payload.ClearPresence},
		})
	}
}

// Messages returns the materialized messages, oldest first.
func (m *Materializer) Messages() []types.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Message, 0, len(m.msgOrder))
	for _, id := range m.msgOrder {
		if msg := m.messages[id]; msg != nil {
			out = append(out, copyMessage(msg))
		}
	}
	return out
}

// Message returns one materialized message by id.
func (m *Materializer) Message(id string) (types.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return types.Message{}, false
	}
	return copyMessage(msg), true
}

// ModelMessages returns the flattened LLM-ready history, oldest first.
func (m *Materializer) ModelMessages() []types.ModelMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.ModelMessage, 0, len(m.msgOrder))
	for _, id := range m.msgOrder {
		if msg := m.messages[id]; msg != nil {
			out = append(out, msg.ModelMessage())
		}
	}
	return out
}

// Presence returns the materialized presence records.
func (m *Materializer) Presence() []types.PresenceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.PresenceRecord, 0, len(m.presence))
	for _, p := range m.presence {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Agents returns the registered agent specs in registration order.
func (m *Materializer) Agents() []types.AgentSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.AgentSpec, 0, len(m.agentOrder))
	for _, id := range m.agentOrder {
		if spec := m.agents[id]; spec != nil {
			out = append(out, *spec)
		}
	}
	return out
}

// Agent returns one registered agent spec.
func (m *Materializer) Agent(id string) (types.AgentSpec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	spec, ok := m.agents[id]
	if !ok {
		return types.AgentSpec{}, false
	}
	return *spec, true
}

// NextOffset returns the offset the next folded record is expected at.
func (m *Materializer) NextOffset() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextOffset
}

func copyMessage(msg *types.Message) types.Message {
	out := *msg
	out.Parts = make([]types.MessagePart, len(msg.Parts))
	copy(out.Parts, msg.Parts)
	return out
}
