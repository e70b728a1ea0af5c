package event

import "github.com/loomchat/loom/pkg/types"

// Typed payloads carried in Event.Data. Every payload names its session so
// per-session SSE streams can filter without inspecting the inner value.

// SessionData accompanies session lifecycle events.
type SessionData struct {
	SessionID string `json:"sessionID"`
	// ClearPresence is set on session.reset when presence was cleared too.
	ClearPresence bool `json:"clearPresence,omitempty"`
}

// ChunkData accompanies chunk.appended.
type ChunkData struct {
	SessionID string           `json:"sessionID"`
	Offset    uint64           `json:"offset"`
	Chunk     types.ChunkEvent `json:"chunk"`
}

// MessageData accompanies message.created and message.updated.
type MessageData struct {
	SessionID string         `json:"sessionID"`
	Message   *types.Message `json:"message"`
}

// PresenceData accompanies presence.updated.
type PresenceData struct {
	SessionID string                `json:"sessionID"`
	Record    *types.PresenceRecord `json:"record"`
}

// AgentData accompanies agent.upserted and agent.removed.
type AgentData struct {
	SessionID string           `json:"sessionID"`
	AgentID   string           `json:"agentID"`
	Spec      *types.AgentSpec `json:"spec,omitempty"`
}

// GenerationData accompanies generation.started and generation.ended.
type GenerationData struct {
	SessionID string `json:"sessionID"`
	AgentID   string `json:"agentID"`
	MessageID string `json:"messageID"`
	// Reason is set on generation.ended: "done", "aborted" or "error".
	Reason string `json:"reason,omitempty"`
}

// ApprovalData accompanies approval.required and approval.resolved.
type ApprovalData struct {
	SessionID string                 `json:"sessionID"`
	Request   *types.ApprovalRequest `json:"request,omitempty"`
	Decision  *types.Decision        `json:"decision,omitempty"`
}

// SessionID extracts the session an event belongs to, or "" for global
// events.
func (e Event) SessionID() string {
	switch data := e.Data.(type) {
	case SessionData:
		return data.SessionID
	case ChunkData:
		return data.SessionID
	case MessageData:
		return data.SessionID
	case PresenceData:
		return data.SessionID
	case AgentData:
		return data.SessionID
	case GenerationData:
		return data.SessionID
	case ApprovalData:
		return data.SessionID
	}
	return ""
}
