package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomchat/loom/internal/event"
	"github.com/loomchat/loom/internal/eventlog"
	"github.com/loomchat/loom/internal/logging"
	"github.com/loomchat/loom/pkg/types"
)

// Registry owns every live session: its log handle, materialized
// collections, registered agents, and active generations. It is an explicit
// object rather than package state so tests can run independent instances.
type Registry struct {
	store   *eventlog.Store
	bus     *event.Bus
	trigger *Trigger

	mu       sync.RWMutex
	sessions map[string]*Session

	defaultsMu sync.RWMutex
	defaults   []types.AgentSpec
}

// NewRegistry creates a registry. The trigger engine is bound to every
// session the registry opens.
func NewRegistry(store *eventlog.Store, bus *event.Bus, trigger *Trigger) *Registry {
	return &Registry{
		store:    store,
		bus:      bus,
		trigger:  trigger,
		sessions: make(map[string]*Session),
	}
}

// SetDefaultAgents replaces the roster registered into newly created
// sessions. Existing sessions keep their registrations.
func (r *Registry) SetDefaultAgents(specs []types.AgentSpec) {
	r.defaultsMu.Lock()
	r.defaults = append([]types.AgentSpec(nil), specs...)
	r.defaultsMu.Unlock()
}

func (r *Registry) defaultAgents() []types.AgentSpec {
	r.defaultsMu.RLock()
	defer r.defaultsMu.RUnlock()
	return append([]types.AgentSpec(nil), r.defaults...)
}

// Create opens a new session. It fails when the id is already live.
func (r *Registry) Create(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, ErrSessionExists
	}
	r.mu.Unlock()

	sess, err := r.open(ctx, id, "")
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		sess.mat.Close()
		return nil, ErrSessionExists
	}
	r.sessions[id] = sess
	r.mu.Unlock()

	r.bus.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionData{SessionID: id},
	})
	return sess, nil
}

// GetOrCreate returns the live session or creates it on first use.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return sess, nil
	}

	sess, err := r.Create(ctx, id)
	if err == ErrSessionExists {
		return r.mustGet(id)
	}
	return sess, err
}

func (r *Registry) mustGet(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// open builds a session over its log: preload history, bind the trigger,
// then go live and register any missing default agents.
func (r *Registry) open(ctx context.Context, id, parentID string) (*Session, error) {
	log, err := r.store.Open(id)
	if err != nil {
		return nil, fmt.Errorf("session: open log: %w", err)
	}

	sess := newSession(id, log)
	sess.ParentID = parentID
	sess.mat = NewMaterializer(id, log, r.bus)

	if err := sess.mat.Preload(ctx); err != nil {
		return nil, err
	}
	if r.trigger != nil {
		r.trigger.Bind(sess)
	}
	if err := sess.mat.Start(ctx); err != nil {
		return nil, err
	}

	var missing []types.AgentSpec
	for _, spec := range r.defaultAgents() {
		if _, ok := sess.mat.Agent(spec.ID); !ok {
			missing = append(missing, spec)
		}
	}
	if err := sess.RegisterAgents(ctx, missing...); err != nil {
		return nil, err
	}

	logging.Info().
		Str("sessionID", id).
		Uint64("offset", sess.mat.NextOffset()).
		Int("agents", len(sess.mat.Agents())).
		Msg("session opened")
	return sess, nil
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Session, error) {
	return r.mustGet(id)
}

// List returns the live sessions' info.
func (r *Registry) List() []types.SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.SessionInfo, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.Info())
	}
	return out
}

// Delete tears a session down: aborts in-flight generations, unsubscribes
// the materializer, and releases the log handle. Log data is not erased.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	sess.StopGeneration("")
	sess.mat.Close()
	if err := r.store.Release(id); err != nil {
		logging.Warn().Str("sessionID", id).Err(err).Msg("failed to release session log")
	}

	r.bus.Publish(event.Event{
		Type: event.SessionDeleted,
		Data: event.SessionData{SessionID: id},
	})
	return nil
}

// Reset appends the advisory reset control event. Consumers clear
// client-visible state from that offset forward; the log is neither
// compacted nor truncated.
func (r *Registry) Reset(ctx context.Context, id string, clearPresence bool) error {
	sess, err := r.mustGet(id)
	if err != nil {
		return err
	}

	ev, err := eventlog.ResetEvent(clearPresence)
	if err != nil {
		return err
	}
	if _, err := sess.log.Append(ctx, ev); err != nil {
		return err
	}
	sess.touch()
	return nil
}

// Fork creates a new session carrying the source's agent registrations and,
// when atMessageID is given, the chunk history up to and including that
// message.
func (r *Registry) Fork(ctx context.Context, id, atMessageID, newID string) (*Session, error) {
	if _, err := r.mustGet(id); err != nil {
		return nil, err
	}
	if newID == "" {
		newID = NewID()
	}

	r.mu.RLock()
	_, taken := r.sessions[newID]
	r.mu.RUnlock()
	if taken {
		return nil, ErrSessionExists
	}

	if _, err := r.store.Fork(ctx, id, newID, atMessageID); err != nil {
		return nil, err
	}

	sess, err := r.open(ctx, newID, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[newID] = sess
	r.mu.Unlock()

	r.bus.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionData{SessionID: newID},
	})
	return sess, nil
}

// Close tears down every live session.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Delete(id); err != nil && err != ErrSessionNotFound {
			logging.Warn().Str("sessionID", id).Err(err).Msg("failed to close session")
		}
	}
}
