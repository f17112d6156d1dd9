package server_test

import (
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/threadbridge/pkg/types"
)

var _ = Describe("Threads and sessions over HTTP", func() {
	postWith := func(threadID, substr string) func() string {
		return func() string {
			msgs, err := client.Thread(ctx, threadID)
			if err != nil {
				return ""
			}
			for _, m := range msgs {
				if strings.Contains(m.Text, substr) {
					return m.ID
				}
			}
			return ""
		}
	}

	It("starts a session for a new thread and lists it", func() {
		root, err := client.StartThread(ctx, "alice", "add a health check")
		Expect(err).NotTo(HaveOccurred())

		sessions, err := client.ListSessions(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(HaveLen(1))
		Expect(sessions[0].ThreadID).To(Equal(root.ThreadID))
		Expect(sessions[0].State).To(Equal("processing"))

		Eventually(postWith(root.ThreadID, "Agent session")).ShouldNot(BeEmpty())
		Expect(testServer.Spawner.Last().Sent()).To(ConsistOf("add a health check"))
	})

	It("refuses sessions beyond capacity and accepts one after a kill", func() {
		var first string
		for i := 0; i < maxSessions; i++ {
			root, err := client.StartThread(ctx, "alice", "task")
			Expect(err).NotTo(HaveOccurred())
			if first == "" {
				first = root.ThreadID
			}
		}

		resp, err := client.PostMessage(ctx, "", "bob", "one more")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
		Expect(resp.String()).To(ContainSubstring("CAPACITY_EXCEEDED"))

		sessions, err := client.ListSessions(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(HaveLen(maxSessions))

		var victim types.SessionInfo
		for _, s := range sessions {
			if s.ThreadID == first {
				victim = s
			}
		}
		resp, err = client.Delete(ctx, "/session/"+victim.ID, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.IsSuccess()).To(BeTrue())

		_, err = client.StartThread(ctx, "bob", "now there is room")
		Expect(err).NotTo(HaveOccurred())
	})

	It("answers an agent question from a reaction", func() {
		root, err := client.StartThread(ctx, "alice", "set up ci")
		Expect(err).NotTo(HaveOccurred())
		proc := testServer.Spawner.Last()
		s, ok := testServer.Sessions.FindByThread("memory", root.ThreadID)
		Expect(ok).To(BeTrue())

		proc.Emit(types.NewOperation(s.ID(), types.Question{
			ToolUseID: "tu-ci",
			Questions: []types.QuestionItem{
				{Header: "CI", Prompt: "Which CI system?", Options: []types.QuestionOption{{Label: "Actions"}, {Label: "Buildkite"}}},
			},
		}))
		Eventually(postWith(root.ThreadID, "Which CI system?")).ShouldNot(BeEmpty())
		question := postWith(root.ThreadID, "Which CI system?")()

		By("ignoring reactions from users outside the session")
		resp, err := client.React(ctx, question, "mallory", "one", true)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.IsSuccess()).To(BeTrue())
		Consistently(proc.Sent, "100ms").Should(HaveLen(1))

		resp, err = client.React(ctx, question, "alice", "one", true)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.IsSuccess()).To(BeTrue())
		Eventually(proc.Sent).Should(ContainElement(ContainSubstring("- CI: Actions")))
	})

	It("stops a session with the !stop command", func() {
		root, err := client.StartThread(ctx, "alice", "refactor")
		Expect(err).NotTo(HaveOccurred())

		resp, err := client.PostMessage(ctx, root.ThreadID, "alice", "!stop")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.IsSuccess()).To(BeTrue())

		Expect(testServer.Sessions.Count()).To(BeZero())
		Eventually(postWith(root.ThreadID, "Session ended.")).ShouldNot(BeEmpty())
	})
})
