// Package eventlog defines the append-only, offset-addressed event stream a
// session is materialized from, together with two in-process
// implementations. The engine only depends on the Log interface; a durable,
// replicated log service can be substituted behind it.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/loomchat/loom/pkg/types"
)

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("eventlog: closed")

// EventType discriminates the payload of a log event.
type EventType string

const (
	// TypeChunk carries a types.ChunkEvent.
	TypeChunk EventType = "chunk"
	// TypePresence carries a types.PresenceRecord upsert.
	TypePresence EventType = "presence"
	// TypeAgentUpsert carries a types.AgentSpec registration.
	TypeAgentUpsert EventType = "agent.upsert"
	// TypeAgentRemove carries an AgentRemovePayload.
	TypeAgentRemove EventType = "agent.remove"
	// TypeReset is the advisory control event: consumers treat client-visible
	// state as cleared from this offset forward. The log itself keeps
	// everything.
	TypeReset EventType = "reset"
)

// Event is one entry appended to a session's log.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Record is an Event as committed: offset-addressed and timestamped. Offsets
// are assigned at commit time and define the session's total order.
type Record struct {
	Offset uint64 `json:"offset"`
	Time   int64  `json:"time"`
	Event  Event  `json:"event"`
}

// AgentRemovePayload is the payload of a TypeAgentRemove event.
type AgentRemovePayload struct {
	AgentID string `json:"agentID"`
}

// ResetPayload is the payload of a TypeReset event.
type ResetPayload struct {
	ClearPresence bool `json:"clearPresence,omitempty"`
}

// Log is the consumer contract for one session's event stream.
type Log interface {
	// Append commits an event and returns its offset.
	Append(ctx context.Context, ev Event) (uint64, error)
	// Read returns all records with offset >= from, in order.
	Read(ctx context.Context, from uint64) ([]Record, error)
	// Subscribe delivers records appended after the subscription is
	// established; history is never re-delivered. The returned function
	// cancels the subscription.
	Subscribe(fn func(Record)) func()
	// Len returns the number of committed records (the next offset).
	Len() uint64
	// Close releases the log handle. Closing never erases committed data.
	Close() error
}

// ChunkEvent frames a chunk as a log event.
func ChunkEvent(chunk types.ChunkEvent) (Event, error) {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: TypeChunk, Payload: payload}, nil
}

// PresenceEvent frames a presence upsert as a log event.
func PresenceEvent(rec types.PresenceRecord) (Event, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: TypePresence, Payload: payload}, nil
}

// AgentUpsertEvent frames an agent registration as a log event.
func AgentUpsertEvent(spec types.AgentSpec) (Event, error) {
	payload, err := json.Marshal(spec)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: TypeAgentUpsert, Payload: payload}, nil
}

// AgentRemoveEvent frames an agent removal as a log event.
func AgentRemoveEvent(agentID string) (Event, error) {
	payload, err := json.Marshal(AgentRemovePayload{AgentID: agentID})
	if err != nil {
		return Event{}, err
	}
	return Event{Type: TypeAgentRemove, Payload: payload}, nil
}

// ResetEvent frames the advisory reset control event.
func ResetEvent(clearPresence bool) (Event, error) {
	payload, err := json.Marshal(ResetPayload{ClearPresence: clearPresence})
	if err != nil {
		return Event{}, err
	}
	return Event{Type: TypeReset, Payload: payload}, nil
}
