package e2e_test

import (
	"fmt"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loomchat/loom/citest/testutil"
	"github.com/loomchat/loom/pkg/types"
)

var sessionCounter int

func freshSessionID() string {
	sessionCounter++
	return fmt.Sprintf("e2e-session-%d", sessionCounter)
}

func getMessages(sessionID string) []types.Message {
	var resp struct {
		Messages []types.Message `json:"messages"`
	}
	status, err := api.Do(http.MethodGet, "/sessions/"+sessionID+"/messages", nil, &resp)
	Expect(err).NotTo(HaveOccurred())
	Expect(status).To(Equal(http.StatusOK))
	return resp.Messages
}

var _ = Describe("Session lifecycle", func() {
	It("creates, lists and deletes sessions", func() {
		id := freshSessionID()

		status, err := api.CreateSession(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))

		var list struct {
			Sessions []types.SessionInfo `json:"sessions"`
		}
		status, err = api.Do(http.MethodGet, "/sessions/", nil, &list)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
		Expect(list.Sessions).To(ContainElement(HaveField("ID", id)))

		status, err = api.Do(http.MethodDelete, "/sessions/"+id, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusNoContent))

		status, err = api.Do(http.MethodGet, "/sessions/"+id, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusNotFound))
	})
})

var _ = Describe("Agent conversation", func() {
	var agent *testutil.MockAgentServer

	AfterEach(func() {
		if agent != nil {
			agent.Close()
			agent = nil
		}
	})

	It("streams an agent reply back into the session", func() {
		agent = testutil.NewMockAgentServer("Hello", ", human")
		id := freshSessionID()

		_, err := api.CreateSession(id)
		Expect(err).NotTo(HaveOccurred())

		status, err := api.Do(http.MethodPost, "/sessions/"+id+"/agents", map[string]any{
			"agents": []map[string]any{
				{"id": "mock", "endpoint": agent.URL(), "headers": map[string]string{"X-Api-Key": "test"}},
			},
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))

		sse := testutil.NewSSEClient(testServer.BaseURL)
		Expect(sse.Connect(ctx, "/sessions/"+id+"/events")).To(Succeed())
		defer sse.Close()

		_, ok := sse.WaitForEvent("stream.connected", 2*time.Second)
		Expect(ok).To(BeTrue())

		_, err = api.SendMessage(id, "alice", "hi agent")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() int {
			return len(getMessages(id))
		}, 3*time.Second, 20*time.Millisecond).Should(Equal(2))

		msgs := getMessages(id)
		Expect(msgs[0].Role).To(Equal(types.RoleUser))
		Expect(msgs[0].Text()).To(Equal("hi agent"))
		Expect(msgs[1].Role).To(Equal(types.RoleAssistant))
		Expect(msgs[1].ActorID).To(Equal("mock"))
		Expect(msgs[1].Text()).To(Equal("Hello, human"))

		// The webhook saw the engine's request shape.
		Expect(agent.RequestCount()).To(Equal(1))
		req := agent.Requests()[0]
		Expect(req.Headers.Get("X-Api-Key")).To(Equal("test"))
		Expect(req.Body["stream"]).To(Equal(true))
		Expect(req.Body["messages"]).To(HaveLen(1))

		// The live stream carried the chunks as they were folded.
		_, ok = sse.WaitForEvent("chunk.appended", 2*time.Second)
		Expect(ok).To(BeTrue())
		_, ok = sse.WaitForEvent("message.created", 2*time.Second)
		Expect(ok).To(BeTrue())
		_, ok = sse.WaitForEvent("generation.ended", 2*time.Second)
		Expect(ok).To(BeTrue())
	})

	It("synthesizes an error chunk when the agent fails", func() {
		agent = testutil.NewMockAgentServer()
		agent.SetStatus(http.StatusInternalServerError)
		id := freshSessionID()

		_, err := api.CreateSession(id)
		Expect(err).NotTo(HaveOccurred())
		_, err = api.Do(http.MethodPost, "/sessions/"+id+"/agents", map[string]any{
			"agents": []map[string]any{{"id": "broken", "endpoint": agent.URL()}},
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		_, err = api.SendMessage(id, "alice", "this will fail")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() int {
			return len(getMessages(id))
		}, 3*time.Second, 20*time.Millisecond).Should(Equal(2))

		msgs := getMessages(id)
		chunk := types.ChunkEvent{Chunk: msgs[1].Parts[0].Payload}
		Expect(chunk.ChunkKind()).To(Equal(types.ChunkKindError))

		// No retry happened.
		Consistently(agent.RequestCount, 300*time.Millisecond, 50*time.Millisecond).Should(Equal(1))
	})

	It("appends a stop chunk when a generation is aborted", func() {
		agent = testutil.NewMockAgentServer("partial")
		agent.SetStall(true)
		id := freshSessionID()

		_, err := api.CreateSession(id)
		Expect(err).NotTo(HaveOccurred())
		_, err = api.Do(http.MethodPost, "/sessions/"+id+"/agents", map[string]any{
			"agents": []map[string]any{{"id": "slow", "endpoint": agent.URL()}},
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		_, err = api.SendMessage(id, "alice", "take your time")
		Expect(err).NotTo(HaveOccurred())

		// Wait for the partial chunk to arrive, then abort.
		Eventually(func() int {
			return len(getMessages(id))
		}, 3*time.Second, 20*time.Millisecond).Should(Equal(2))

		var stopResp struct {
			Stopped []string `json:"stopped"`
		}
		status, err := api.Do(http.MethodPost, "/sessions/"+id+"/stop", nil, &stopResp)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
		Expect(stopResp.Stopped).To(HaveLen(1))

		Eventually(func() string {
			msgs := getMessages(id)
			if len(msgs) < 2 || len(msgs[1].Parts) < 2 {
				return ""
			}
			last := msgs[1].Parts[len(msgs[1].Parts)-1]
			chunk := types.ChunkEvent{Chunk: last.Payload}
			return chunk.ChunkKind()
		}, 3*time.Second, 20*time.Millisecond).Should(Equal(types.ChunkKindStop))

		msgs := getMessages(id)
		Expect(msgs[1].Text()).To(Equal("partial"))
	})
})

var _ = Describe("Reset and fork", func() {
	It("clears the view on reset while the log keeps history", func() {
		id := freshSessionID()
		_, err := api.CreateSession(id)
		Expect(err).NotTo(HaveOccurred())

		_, err = api.SendMessage(id, "alice", "to be cleared")
		Expect(err).NotTo(HaveOccurred())
		Expect(getMessages(id)).To(HaveLen(1))

		status, err := api.Do(http.MethodPost, "/sessions/"+id+"/reset", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
		Expect(getMessages(id)).To(BeEmpty())

		// New activity starts a fresh conversation.
		_, err = api.SendMessage(id, "alice", "fresh start")
		Expect(err).NotTo(HaveOccurred())
		msgs := getMessages(id)
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Text()).To(Equal("fresh start"))
	})

	It("forks a session up to a message", func() {
		id := freshSessionID()
		forkID := freshSessionID()
		_, err := api.CreateSession(id)
		Expect(err).NotTo(HaveOccurred())

		keep, err := api.SendMessage(id, "alice", "keep")
		Expect(err).NotTo(HaveOccurred())
		_, err = api.SendMessage(id, "alice", "drop")
		Expect(err).NotTo(HaveOccurred())

		var forkResp struct {
			SessionID string `json:"sessionId"`
			ParentID  string `json:"parentId"`
		}
		status, err := api.Do(http.MethodPost, "/sessions/"+id+"/fork", map[string]any{
			"atMessageId":  keep,
			"newSessionId": forkID,
		}, &forkResp)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
		Expect(forkResp.SessionID).To(Equal(forkID))
		Expect(forkResp.ParentID).To(Equal(id))

		msgs := getMessages(forkID)
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Text()).To(Equal("keep"))

		Expect(getMessages(id)).To(HaveLen(2))
	})
})

var _ = Describe("Approvals", func() {
	It("resolves a pending approval over HTTP", func() {
		type result struct {
			decision types.Decision
			err      error
		}
		done := make(chan result, 1)
		go func() {
			decision, err := testServer.Approvals.Create(ctx, types.ApprovalRequest{
				ToolUseID: "e2e-tool-use",
				SessionID: "e2e",
				ToolName:  "bash",
				Input:     map[string]any{"command": "rm -rf /tmp/scratch"},
			})
			done <- result{decision, err}
		}()

		Eventually(func() int {
			var resp struct {
				Approvals []types.ApprovalRequest `json:"approvals"`
			}
			_, err := api.Do(http.MethodGet, "/approvals", nil, &resp)
			Expect(err).NotTo(HaveOccurred())
			return len(resp.Approvals)
		}, 2*time.Second, 20*time.Millisecond).Should(Equal(1))

		status, err := api.Do(http.MethodPost, "/approvals/e2e-tool-use", map[string]any{
			"approved":     true,
			"updatedInput": map[string]any{"command": "echo safe"},
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))

		var res result
		Eventually(done, 2*time.Second).Should(Receive(&res))
		Expect(res.err).NotTo(HaveOccurred())
		Expect(res.decision.Behavior).To(Equal(types.BehaviorAllow))
		Expect(res.decision.UpdatedInput["command"]).To(Equal("echo safe"))
	})
})
