package types

// Decision behaviors for a tool-use approval.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// Decision is the outcome of a tool-use approval request.
type Decision struct {
	Behavior string `json:"behavior"` // "allow" | "deny"
	// UpdatedInput optionally replaces the tool input on allow.
	UpdatedInput map[string]any `json:"updatedInput,omitempty"`
	// Message explains a deny.
	Message string `json:"message,omitempty"`
}

// Allow builds an allow decision.
func Allow(updatedInput map[string]any) Decision {
	return Decision{Behavior: BehaviorAllow, UpdatedInput: updatedInput}
}

// Deny builds a deny decision with a message.
func Deny(message string) Decision {
	return Decision{Behavior: BehaviorDeny, Message: message}
}

// ApprovalRequest describes a pending tool-use approval surfaced to a human
// operator.
type ApprovalRequest struct {
	ToolUseID string         `json:"toolUseID"`
	SessionID string         `json:"sessionID,omitempty"`
	ToolName  string         `json:"toolName,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
}
