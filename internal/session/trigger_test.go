package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomchat/loom/internal/event"
	"github.com/loomchat/loom/pkg/types"
)

// countingAgent serves one text frame and counts invocations.
func countingAgent(reply string, hits *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"type\":\"text\",\"content\":%q}\n\ndata: [DONE]\n\n", reply)
	}))
}

func TestTrigger_UserMessageInvokesAgent(t *testing.T) {
	var hits atomic.Int32
	srv := countingAgent("hi", &hits)
	defer srv.Close()

	bus := event.NewBus()
	trigger := NewTrigger(NewInvoker(bus, nil))
	sess := newTestSession(t, bus, trigger)

	require.NoError(t, sess.RegisterAgents(context.Background(), types.AgentSpec{
		ID:       "echo",
		Endpoint: srv.URL,
		Trigger:  types.TriggerUserMessages,
	}))

	_, err := sess.AppendUserMessage(context.Background(), "alice", "hello")
	require.NoError(t, err)

	// One user message plus one streamed assistant reply.
	require.Eventually(t, func() bool {
		return len(sess.mat.Messages()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	msgs := sess.mat.Messages()
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Text())
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hi", msgs[1].Text())
	assert.Equal(t, int32(1), hits.Load())
}

func TestTrigger_PolicyMatrix(t *testing.T) {
	var userOnlyHits, allHits atomic.Int32
	userOnlySrv := countingAgent("from-user-only", &userOnlyHits)
	defer userOnlySrv.Close()
	allSrv := countingAgent("from-all", &allHits)
	defer allSrv.Close()

	bus := event.NewBus()
	trigger := NewTrigger(NewInvoker(bus, nil))
	sess := newTestSession(t, bus, trigger)

	require.NoError(t, sess.RegisterAgents(context.Background(),
		types.AgentSpec{ID: "user-only", Endpoint: userOnlySrv.URL, Trigger: types.TriggerUserMessages},
		types.AgentSpec{ID: "all", Endpoint: allSrv.URL, Trigger: types.TriggerAll},
	))

	_, err := sess.AppendUserMessage(context.Background(), "alice", "hello")
	require.NoError(t, err)

	// Both fire on the user message. The user-only agent's assistant reply
	// re-triggers the all agent once more; nothing else cascades because an
	// agent never triggers on its own output.
	require.Eventually(t, func() bool {
		return userOnlyHits.Load() == 1 && allHits.Load() == 2
	}, 3*time.Second, 10*time.Millisecond)

	// Settle and confirm no further cascade.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), userOnlyHits.Load())
	assert.Equal(t, int32(2), allHits.Load())
}

func TestTrigger_AgentNeverTriggersItself(t *testing.T) {
	var hits atomic.Int32
	srv := countingAgent("loop?", &hits)
	defer srv.Close()

	bus := event.NewBus()
	trigger := NewTrigger(NewInvoker(bus, nil))
	sess := newTestSession(t, bus, trigger)

	// An all-trigger agent alone: its reply must not invoke it again.
	require.NoError(t, sess.RegisterAgents(context.Background(), types.AgentSpec{
		ID:       "solo",
		Endpoint: srv.URL,
		Trigger:  types.TriggerAll,
	}))

	_, err := sess.AppendUserMessage(context.Background(), "alice", "hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sess.mat.Messages()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
}

func TestTrigger_NoAgentsIsQuiet(t *testing.T) {
	bus := event.NewBus()
	trigger := NewTrigger(NewInvoker(bus, nil))
	sess := newTestSession(t, bus, trigger)

	_, err := sess.AppendUserMessage(context.Background(), "alice", "anyone?")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, sess.mat.Messages(), 1)
}
