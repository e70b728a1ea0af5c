package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerPolicy_Normalize(t *testing.T) {
	assert.Equal(t, TriggerAll, TriggerAll.Normalize())
	assert.Equal(t, TriggerUserMessages, TriggerUserMessages.Normalize())

	// Zero value and garbage both default to user-messages.
	assert.Equal(t, TriggerUserMessages, TriggerPolicy("").Normalize())
	assert.Equal(t, TriggerUserMessages, TriggerPolicy("sometimes").Normalize())
}

func TestTriggerPolicy_Matches(t *testing.T) {
	assert.True(t, TriggerAll.Matches(RoleUser))
	assert.True(t, TriggerAll.Matches(RoleAssistant))
	assert.True(t, TriggerAll.Matches(RoleSystem))

	assert.True(t, TriggerUserMessages.Matches(RoleUser))
	assert.False(t, TriggerUserMessages.Matches(RoleAssistant))
	assert.False(t, TriggerUserMessages.Matches(RoleSystem))

	// Unknown policy behaves like the default.
	assert.True(t, TriggerPolicy("bogus").Matches(RoleUser))
	assert.False(t, TriggerPolicy("bogus").Matches(RoleAssistant))
}

func TestAgentSpec_UnmarshalDefaults(t *testing.T) {
	var spec AgentSpec
	require.NoError(t, json.Unmarshal([]byte(`{"id":"echo","endpoint":"http://localhost/hook"}`), &spec))
	assert.Equal(t, TriggerUserMessages, spec.Trigger)
	assert.Equal(t, "POST", spec.Method)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"fan","endpoint":"http://x","trigger":"all","method":"PUT"}`), &spec))
	assert.Equal(t, TriggerAll, spec.Trigger)
	assert.Equal(t, "PUT", spec.Method)

	// Unknown trigger values never survive into a stored spec.
	require.NoError(t, json.Unmarshal([]byte(`{"id":"odd","endpoint":"http://x","trigger":"weird"}`), &spec))
	assert.Equal(t, TriggerUserMessages, spec.Trigger)
}
