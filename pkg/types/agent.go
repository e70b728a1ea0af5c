package types

import "encoding/json"

// TriggerPolicy determines which newly materialized messages cause an agent
// to be invoked.
type TriggerPolicy string

const (
	// TriggerAll fires on every new message regardless of author.
	TriggerAll TriggerPolicy = "all"
	// TriggerUserMessages fires only on user-authored messages. This is the
	// default policy.
	TriggerUserMessages TriggerPolicy = "user-messages"
)

// Normalize maps the zero value and unknown strings to the default policy.
func (p TriggerPolicy) Normalize() TriggerPolicy {
	if p == TriggerAll {
		return TriggerAll
	}
	return TriggerUserMessages
}

// Matches reports whether a message with the given role should invoke an
// agent registered under this policy.
func (p TriggerPolicy) Matches(role Role) bool {
	switch p.Normalize() {
	case TriggerAll:
		return true
	default:
		return role == RoleUser
	}
}

// AgentSpec describes a webhook agent registered in a session. Registration
// is itself durable: specs are upserted and removed via log events, so the
// roster replays on reload.
type AgentSpec struct {
	ID           string            `json:"id"`
	Name         string            `json:"name,omitempty"`
	Endpoint     string            `json:"endpoint"`
	Method       string            `json:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Trigger      TriggerPolicy     `json:"trigger,omitempty"`
	BodyTemplate map[string]any    `json:"bodyTemplate,omitempty"`
}

// UnmarshalJSON normalizes the trigger policy so stored specs never carry an
// unknown value.
func (a *AgentSpec) UnmarshalJSON(data []byte) error {
	type alias AgentSpec
	var aux alias
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	aux.Trigger = aux.Trigger.Normalize()
	if aux.Method == "" {
		aux.Method = "POST"
	}
	*a = AgentSpec(aux)
	return nil
}
