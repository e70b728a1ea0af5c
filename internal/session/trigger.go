package session

import (
	"context"

	"github.com/loomchat/loom/internal/logging"
	"github.com/loomchat/loom/pkg/types"
)

// Trigger fans newly materialized messages out to the agents whose policy
// matches. Agents fire concurrently and independently; one agent's failure
// never blocks or cancels another's invocation.
type Trigger struct {
	invoker *Invoker
}

// NewTrigger creates a trigger engine backed by the given invoker.
func NewTrigger(invoker *Invoker) *Trigger {
	return &Trigger{invoker: invoker}
}

// Bind attaches the trigger to a session's live message inserts. Must run
// before the materializer starts.
func (t *Trigger) Bind(sess *Session) {
	sess.mat.OnMessageInserted(func(msg types.Message) {
		t.fanOut(sess, msg)
	})
}

// fanOut invokes every matching agent with a snapshot of the history taken
// at fire time.
func (t *Trigger) fanOut(sess *Session, msg types.Message) {
	agents := sess.mat.Agents()
	if len(agents) == 0 {
		return
	}
	history := sess.mat.ModelMessages()

	for _, agent := range agents {
		if !agent.Trigger.Matches(msg.Role) {
			continue
		}
		// An agent never triggers on its own output, or an "all" policy
		// would loop forever on its own responses.
		if msg.ActorType == types.ActorAgent && msg.ActorID == agent.ID {
			continue
		}
		go func(a types.AgentSpec) {
			if err := t.invoker.Invoke(context.Background(), sess, a, history); err != nil {
				logging.Error().
					Str("sessionID", sess.ID).
					Str("agentID", a.ID).
					Err(err).
					Msg("agent invocation failed")
			}
		}(agent)
	}
}
