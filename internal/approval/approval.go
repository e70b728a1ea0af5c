// Package approval brokers tool-use approval requests between an agent and
// a human operator. An agent blocks on Create until an operator resolves the
// request over HTTP, the bounded timer fires (implicit deny), or the agent's
// own request is aborted.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loomchat/loom/internal/event"
	"github.com/loomchat/loom/internal/logging"
	"github.com/loomchat/loom/pkg/types"
)

// DefaultTimeout bounds how long a request may stay pending.
const DefaultTimeout = 5 * time.Minute

var (
	// ErrNoPending is returned when resolving an unknown toolUseID.
	ErrNoPending = errors.New("approval: no pending request")
	// ErrDuplicate is returned when a toolUseID is already pending.
	ErrDuplicate = errors.New("approval: duplicate toolUseID")
	// ErrAborted is returned from Create when the caller's context is
	// canceled before any resolution.
	ErrAborted = errors.New("approval: request aborted")
)

// pendingApproval is one outstanding request. The decision channel is
// buffered so the resolver never blocks; the timer and the external resolve
// path race, and whichever claims the map entry first wins.
type pendingApproval struct {
	request  types.ApprovalRequest
	decision chan types.Decision
	timer    *time.Timer
}

// Manager owns the pending-approval table. It is process-local state:
// horizontal scaling requires sticky routing per session.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
	timeout time.Duration
	bus     *event.Bus
}

// NewManager creates a manager publishing lifecycle events on bus. A zero
// timeout means DefaultTimeout.
func NewManager(bus *event.Bus, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		pending: make(map[string]*pendingApproval),
		timeout: timeout,
		bus:     bus,
	}
}

// Create registers a pending request and blocks until it is resolved, times
// out (deny), or ctx is canceled. Exactly one terminal transition occurs.
func (m *Manager) Create(ctx context.Context, req types.ApprovalRequest) (types.Decision, error) {
	if req.ToolUseID == "" {
		return types.Decision{}, errors.New("approval: empty toolUseID")
	}

	p := &pendingApproval{
		request:  req,
		decision: make(chan types.Decision, 1),
	}

	m.mu.Lock()
	if _, exists := m.pending[req.ToolUseID]; exists {
		m.mu.Unlock()
		return types.Decision{}, ErrDuplicate
	}
	m.pending[req.ToolUseID] = p
	// The timer claims through the same path as an external resolve, so the
	// two can never both fire.
	p.timer = time.AfterFunc(m.timeout, func() {
		deny := types.Deny(fmt.Sprintf("approval request %s timed out", req.ToolUseID))
		if m.resolve(req.ToolUseID, deny) {
			logging.Warn().
				Str("toolUseID", req.ToolUseID).
				Str("sessionID", req.SessionID).
				Msg("approval request timed out, denying")
		}
	})
	m.mu.Unlock()

	m.bus.Publish(event.Event{
		Type: event.ApprovalRequired,
		Data: event.ApprovalData{SessionID: req.SessionID, Request: &req},
	})

	select {
	case decision := <-p.decision:
		return decision, nil
	case <-ctx.Done():
		// The underlying agent call went away. Claim the entry so a late
		// resolve becomes a no-op. If a resolver won the race it has already
		// buffered its decision; honor it.
		if m.claim(req.ToolUseID) == nil {
			select {
			case decision := <-p.decision:
				return decision, nil
			default:
			}
		}
		return types.Decision{}, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
	}
}

// Resolve delivers an external decision. It reports whether a pending
// request was actually resolved; a second resolution of the same toolUseID
// is a no-op.
func (m *Manager) Resolve(toolUseID string, decision types.Decision) bool {
	if !m.resolve(toolUseID, decision) {
		return false
	}
	logging.Info().
		Str("toolUseID", toolUseID).
		Str("behavior", decision.Behavior).
		Msg("approval resolved")
	return true
}

// ResolveAnswers resolves a pending request as an allow carrying the given
// answers merged into updatedInput on top of the original input.
func (m *Manager) ResolveAnswers(toolUseID string, answers map[string]any, originalInput map[string]any) bool {
	updated := make(map[string]any, len(originalInput)+len(answers))
	for k, v := range originalInput {
		updated[k] = v
	}
	for k, v := range answers {
		updated[k] = v
	}
	return m.Resolve(toolUseID, types.Allow(updated))
}

// resolve claims the entry and delivers the decision. Returns false when no
// request was pending (already resolved, timed out, or aborted).
func (m *Manager) resolve(toolUseID string, decision types.Decision) bool {
	p := m.claim(toolUseID)
	if p == nil {
		return false
	}
	p.decision <- decision
	m.bus.Publish(event.Event{
		Type: event.ApprovalResolved,
		Data: event.ApprovalData{
			SessionID: p.request.SessionID,
			Request:   &p.request,
			Decision:  &decision,
		},
	})
	return true
}

// claim atomically removes and returns the pending entry, stopping its
// timer. The removal under the mutex is what guarantees exactly-once
// resolution.
func (m *Manager) claim(toolUseID string) *pendingApproval {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[toolUseID]
	if !ok {
		return nil
	}
	delete(m.pending, toolUseID)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

// Pending returns a snapshot of outstanding requests.
func (m *Manager) Pending() []types.ApprovalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.ApprovalRequest, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p.request)
	}
	return out
}
