package types

import (
	"encoding/json"
	"strings"
)

// MessagePart is one content fragment folded from a chunk event, kept in
// ascending seq order.
type MessagePart struct {
	Seq     int             `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// Message is the materialized view of all chunks sharing a messageID. It is
// derived state and never itself persisted; there is exactly one Message per
// distinct messageID observed in the chunk collection.
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	ActorID   string        `json:"actorID"`
	ActorType ActorType     `json:"actorType"`
	Parts     []MessagePart `json:"parts"`
	// CreatedAt is the timestamp of the first chunk observed for this id.
	CreatedAt int64 `json:"createdAt"`
}

// Text flattens the text-bearing parts into a single string.
func (m *Message) Text() string {
	var b strings.Builder
	for i := range m.Parts {
		c := ChunkEvent{Chunk: m.Parts[i].Payload}
		b.WriteString(c.ChunkText())
	}
	return b.String()
}

// ModelMessage is a Message flattened into the role+content shape an LLM
// context window expects. 1:1 with Message, recomputed on every change.
type ModelMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ModelMessage derives the flattened form of this message.
func (m *Message) ModelMessage() ModelMessage {
	return ModelMessage{Role: m.Role, Content: m.Text()}
}
