// Package session implements the session protocol engine: log-backed state
// materialization, per-message chunk sequencing, trigger-driven agent
// invocation with streamed response relay, and session lifecycle.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/loomchat/loom/internal/eventlog"
	"github.com/loomchat/loom/pkg/types"
)

var (
	// ErrSessionNotFound is returned for operations on unknown sessions.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionExists is returned by Create when the id is taken.
	ErrSessionExists = errors.New("session: already exists")
	// ErrAgentNotFound is returned when removing an unregistered agent.
	ErrAgentNotFound = errors.New("session: agent not found")
)

// Session binds one log stream to its materialized collections, its chunk
// sequencer, and the in-flight generations that can be cancelled.
type Session struct {
	ID        string
	CreatedAt int64
	ParentID  string

	log eventlog.Log
	mat *Materializer
	seq *Sequencer

	mu           sync.Mutex
	lastActivity int64
	// generations maps an in-flight assistant messageID to the cancel func
	// of its streaming request.
	generations map[string]context.CancelFunc
}

func newSession(id string, log eventlog.Log) *Session {
	now := time.Now().UnixMilli()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		log:          log,
		mat:          nil, // set by the registry
		seq:          NewSequencer(),
		lastActivity: now,
		generations:  make(map[string]context.CancelFunc),
	}
}

// Log returns the session's log handle.
func (s *Session) Log() eventlog.Log { return s.log }

// Materializer returns the session's materialized view.
func (s *Session) Materializer() *Materializer { return s.mat }

// Sequencer returns the session's chunk sequencer.
func (s *Session) Sequencer() *Sequencer { return s.seq }

// Info returns the externally visible session shape.
func (s *Session) Info() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SessionInfo{
		ID:             s.ID,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.lastActivity,
		ParentID:       s.ParentID,
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now().UnixMilli()
	s.mu.Unlock()
}

// AppendChunk stamps the next sequence number for the message and commits
// the chunk to the log.
func (s *Session) AppendChunk(ctx context.Context, messageID, actorID string, actorType types.ActorType, role types.Role, payload []byte) (uint64, error) {
	chunk := types.ChunkEvent{
		MessageID: messageID,
		ActorID:   actorID,
		ActorType: actorType,
		Role:      role,
		Chunk:     payload,
		Seq:       s.seq.NextSeq(messageID),
		CreatedAt: time.Now().UnixMilli(),
	}
	ev, err := eventlog.ChunkEvent(chunk)
	if err != nil {
		return 0, err
	}
	offset, err := s.log.Append(ctx, ev)
	if err != nil {
		return 0, err
	}
	s.touch()
	return offset, nil
}

// AppendUserMessage writes a whole user message as a single chunk under a
// freshly minted messageID and returns that id.
func (s *Session) AppendUserMessage(ctx context.Context, actorID, content string) (string, error) {
	messageID := NewID()
	if _, err := s.AppendChunk(ctx, messageID, actorID, types.ActorUser, types.RoleUser, types.TextChunk(content)); err != nil {
		return "", err
	}
	// Single-chunk message: its lifecycle ends immediately.
	s.seq.ClearSeq(messageID)
	return messageID, nil
}

// RegisterAgents appends upsert events for the given specs. Registration is
// durable and replays on reload.
func (s *Session) RegisterAgents(ctx context.Context, specs ...types.AgentSpec) error {
	for _, spec := range specs {
		ev, err := eventlog.AgentUpsertEvent(spec)
		if err != nil {
			return err
		}
		if _, err := s.log.Append(ctx, ev); err != nil {
			return err
		}
	}
	if len(specs) > 0 {
		s.touch()
	}
	return nil
}

// RemoveAgent appends a removal event for a registered agent.
func (s *Session) RemoveAgent(ctx context.Context, agentID string) error {
	if _, ok := s.mat.Agent(agentID); !ok {
		return ErrAgentNotFound
	}
	ev, err := eventlog.AgentRemoveEvent(agentID)
	if err != nil {
		return err
	}
	if _, err := s.log.Append(ctx, ev); err != nil {
		return err
	}
	s.touch()
	return nil
}

// UpdatePresence appends a presence upsert.
func (s *Session) UpdatePresence(ctx context.Context, rec types.PresenceRecord) error {
	if rec.LastSeenAt == 0 {
		rec.LastSeenAt = time.Now().UnixMilli()
	}
	ev, err := eventlog.PresenceEvent(rec)
	if err != nil {
		return err
	}
	if _, err := s.log.Append(ctx, ev); err != nil {
		return err
	}
	s.touch()
	return nil
}

// registerGeneration records an in-flight generation's cancel func.
func (s *Session) registerGeneration(messageID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.generations[messageID] = cancel
	s.mu.Unlock()
}

// removeGeneration forgets a finished generation.
func (s *Session) removeGeneration(messageID string) {
	s.mu.Lock()
	delete(s.generations, messageID)
	s.mu.Unlock()
}

// ActiveGenerations returns a snapshot of in-flight generation message ids.
func (s *Session) ActiveGenerations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.generations))
	for id := range s.generations {
		out = append(out, id)
	}
	return out
}

// StopGeneration aborts one in-flight generation. When messageID is empty,
// every active generation is aborted. It returns the ids that were stopped.
// Iteration runs over a snapshot so concurrent completion cannot skip
// entries.
func (s *Session) StopGeneration(messageID string) []string {
	s.mu.Lock()
	var cancels []context.CancelFunc
	var stopped []string
	if messageID != "" {
		if cancel, ok := s.generations[messageID]; ok {
			cancels = append(cancels, cancel)
			stopped = append(stopped, messageID)
		}
	} else {
		for id, cancel := range s.generations {
			cancels = append(cancels, cancel)
			stopped = append(stopped, id)
		}
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return stopped
}

// NewID mints a ULID. Message ids are always freshly generated; an id is
// never resumed across process restarts.
func NewID() string {
	return ulid.Make().String()
}
