package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loomchat/loom/internal/event"
	"github.com/loomchat/loom/internal/logging"
	"github.com/loomchat/loom/pkg/types"
)

// Invoker issues streaming webhook calls to registered agents and relays
// each parsed response chunk back into the session's log. Invocations are
// at-most-once: this layer never retries an agent call.
type Invoker struct {
	client *http.Client
	bus    *event.Bus
}

// NewInvoker creates an invoker. A nil client gets a default with no overall
// timeout (responses stream indefinitely; cancellation happens per
// generation).
func NewInvoker(bus *event.Bus, client *http.Client) *Invoker {
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	return &Invoker{client: client, bus: bus}
}

// Invoke calls one agent webhook with the given history and streams its
// response into the log under a freshly minted assistant messageID.
// Transport failures and malformed stream payloads are recovered locally
// (error chunk / skip); log append failures propagate, since they mean the
// source of truth may be inconsistent.
func (inv *Invoker) Invoke(ctx context.Context, sess *Session, agent types.AgentSpec, history []types.ModelMessage) error {
	messageID := NewID()
	genCtx, cancel := context.WithCancel(ctx)
	sess.registerGeneration(messageID, cancel)

	reason := "done"
	defer func() {
		cancel()
		sess.seq.ClearSeq(messageID)
		sess.removeGeneration(messageID)
		inv.bus.Publish(event.Event{
			Type: event.GenerationEnd,
			Data: event.GenerationData{
				SessionID: sess.ID,
				AgentID:   agent.ID,
				MessageID: messageID,
				Reason:    reason,
			},
		})
	}()

	inv.bus.Publish(event.Event{
		Type: event.GenerationStart,
		Data: event.GenerationData{
			SessionID: sess.ID,
			AgentID:   agent.ID,
			MessageID: messageID,
		},
	})

	log := logging.With().
		Str("sessionID", sess.ID).
		Str("agentID", agent.ID).
		Str("messageID", messageID).
		Logger()

	resp, err := inv.post(genCtx, agent, history)
	if err != nil {
		if isAborted(genCtx, err) {
			reason = "aborted"
			return inv.writeStop(ctx, sess, agent, messageID)
		}
		reason = "error"
		log.Warn().Err(err).Msg("agent request failed")
		return inv.writeError(ctx, sess, agent, messageID, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// No retry: an agent's retry policy is its own concern upstream.
		reason = "error"
		log.Warn().Int("status", resp.StatusCode).Msg("agent returned non-2xx")
		return inv.writeError(ctx, sess, agent, messageID, resp.Status)
	}

	scanner := NewStreamScanner(resp.Body)
	for {
		payload, err := scanner.Next()
		if err == io.EOF {
			log.Debug().Msg("agent stream complete")
			return nil
		}
		if err != nil {
			if isAborted(genCtx, err) {
				reason = "aborted"
				return inv.writeStop(ctx, sess, agent, messageID)
			}
			reason = "error"
			log.Warn().Err(err).Msg("agent stream read failed")
			return inv.writeError(ctx, sess, agent, messageID, err.Error())
		}
		if !json.Valid(payload) {
			log.Warn().Str("payload", string(payload)).Msg("skipping malformed stream payload")
			continue
		}
		if _, err := sess.AppendChunk(ctx, messageID, agent.ID, types.ActorAgent, types.RoleAssistant, payload); err != nil {
			reason = "error"
			return fmt.Errorf("invoker: append chunk: %w", err)
		}
	}
}

// post sends the webhook request: body template merged with the message
// history and stream:true.
func (inv *Invoker) post(ctx context.Context, agent types.AgentSpec, history []types.ModelMessage) (*http.Response, error) {
	body := make(map[string]any, len(agent.BodyTemplate)+2)
	for k, v := range agent.BodyTemplate {
		body[k] = v
	}
	body["messages"] = history
	body["stream"] = true

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("invoker: marshal body: %w", err)
	}

	method := agent.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, agent.Endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invoker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range agent.Headers {
		req.Header.Set(k, v)
	}

	return inv.client.Do(req)
}

// writeStop appends the stop chunk for an aborted generation. It writes with
// a short independent context because the generation's own context is
// already canceled.
func (inv *Invoker) writeStop(ctx context.Context, sess *Session, agent types.AgentSpec, messageID string) error {
	wctx, cancel := detachedContext(ctx)
	defer cancel()
	if _, err := sess.AppendChunk(wctx, messageID, agent.ID, types.ActorAgent, types.RoleAssistant, types.StopChunk("aborted")); err != nil {
		return fmt.Errorf("invoker: append stop chunk: %w", err)
	}
	return nil
}

// writeError appends a synthesized error chunk for a failed invocation.
func (inv *Invoker) writeError(ctx context.Context, sess *Session, agent types.AgentSpec, messageID, message string) error {
	wctx, cancel := detachedContext(ctx)
	defer cancel()
	if _, err := sess.AppendChunk(wctx, messageID, agent.ID, types.ActorAgent, types.RoleAssistant, types.ErrorChunk(message)); err != nil {
		return fmt.Errorf("invoker: append error chunk: %w", err)
	}
	return nil
}

// detachedContext gives cleanup writes a bounded context that survives the
// generation's cancellation.
func detachedContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
}

// isAborted distinguishes an explicit stop from transport failure.
func isAborted(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled)
}
