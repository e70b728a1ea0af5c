package types

import "encoding/json"

// ActorType identifies what kind of participant produced an event.
type ActorType string

const (
	ActorUser  ActorType = "user"
	ActorAgent ActorType = "agent"
)

// Role is the conversational role a chunk is attributed to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Well-known chunk payload kinds. The payload itself is opaque JSON; these
// are the conventional values of its "type" field.
const (
	ChunkKindText  = "text"
	ChunkKindError = "error"
	ChunkKindStop  = "stop"
)

// ChunkEvent is one fragment of a streaming message, framed as a log event.
// Seq is unique and increasing within a MessageID, assigned by the writer.
// Consumers fold chunks in ascending seq order; gaps are tolerated.
type ChunkEvent struct {
	MessageID string          `json:"messageID"`
	ActorID   string          `json:"actorID"`
	ActorType ActorType       `json:"actorType"`
	Role      Role            `json:"role"`
	Chunk     json.RawMessage `json:"chunk"`
	Seq       int             `json:"seq"`
	CreatedAt int64           `json:"createdAt"`
	// TxID is an optional client-supplied idempotency/echo token.
	TxID string `json:"txid,omitempty"`
}

// ChunkKind returns the "type" field of the chunk payload, or "" when the
// payload has none or does not parse.
func (c *ChunkEvent) ChunkKind() string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(c.Chunk, &probe); err != nil {
		return ""
	}
	return probe.Type
}

// ChunkText returns the "content" field of a text payload, or "".
func (c *ChunkEvent) ChunkText() string {
	var probe struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(c.Chunk, &probe); err != nil {
		return ""
	}
	if probe.Type != ChunkKindText {
		return ""
	}
	return probe.Content
}

// TextChunk builds a text chunk payload.
func TextChunk(content string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"type": ChunkKindText, "content": content})
	return data
}

// ErrorChunk builds an error chunk payload.
func ErrorChunk(message string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"type": ChunkKindError, "error": message})
	return data
}

// StopChunk builds a stop chunk payload with the given reason.
func StopChunk(reason string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"type": ChunkKindStop, "reason": reason})
	return data
}
