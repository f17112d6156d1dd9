package session_test

import (
	"context"
	"fmt"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/threadbridge/internal/agent/agenttest"
	"github.com/opencode-ai/threadbridge/internal/clock"
	"github.com/opencode-ai/threadbridge/internal/platform"
	"github.com/opencode-ai/threadbridge/internal/platform/memory"
	"github.com/opencode-ai/threadbridge/internal/session"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

var _ = Describe("Session Manager over the memory platform", func() {
	var (
		ctx     context.Context
		chat    *memory.Platform
		spawner *agenttest.Spawner
		clk     *clock.Fake
		mgr     *session.Manager
	)

	// history returns the texts of a thread's posts, oldest first.
	history := func(thread string) []string {
		msgs, err := chat.ThreadHistory(ctx, thread)
		Expect(err).NotTo(HaveOccurred())
		out := make([]string, len(msgs))
		for i, m := range msgs {
			out[i] = m.Text
		}
		return out
	}

	postContaining := func(thread, substr string) func() string {
		return func() string {
			msgs, err := chat.ThreadHistory(ctx, thread)
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

	BeforeEach(func() {
		ctx = context.Background()
		chat = memory.New("memory")
		spawner = &agenttest.Spawner{}
		clk = clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
		mgr = session.NewManager(session.Config{
			MaxSessions:      5,
			SessionTimeout:   time.Hour,
			SubagentInterval: 5 * time.Second,
			Spawner:          spawner,
			Clock:            clk,
		})
		mgr.AddPlatform(chat)
		chat.SetHandler(mgr)
	})

	AfterEach(func() {
		Expect(mgr.Shutdown(ctx)).To(Succeed())
	})

	Describe("capacity", func() {
		It("rejects a 6th session and accepts one after a kill", func() {
			var roots []platform.Message
			for i := 0; i < 5; i++ {
				msg, err := chat.Post(ctx, "", "alice", fmt.Sprintf("task %d", i))
				Expect(err).NotTo(HaveOccurred())
				roots = append(roots, msg)
			}
			Expect(mgr.Count()).To(Equal(5))

			_, err := chat.Post(ctx, "", "alice", "one too many")
			Expect(session.IsCapacityExceeded(err)).To(BeTrue())
			Expect(mgr.Count()).To(Equal(5))

			s, ok := mgr.FindByThread("memory", roots[0].ThreadID)
			Expect(ok).To(BeTrue())
			Expect(mgr.Kill(ctx, s.ID())).To(Succeed())

			_, err = chat.Post(ctx, "", "alice", "now there is room")
			Expect(err).NotTo(HaveOccurred())
			Expect(mgr.Count()).To(Equal(5))
		})
	})

	Describe("questions answered by reaction", func() {
		It("asks each question in turn and reports the answers in order", func() {
			root, err := chat.Post(ctx, "", "alice", "set up the project")
			Expect(err).NotTo(HaveOccurred())
			thread := root.ThreadID
			proc := spawner.Last()
			s, _ := mgr.FindByThread("memory", thread)

			proc.Emit(types.NewOperation(s.ID(), types.Question{
				ToolUseID: "tu-1",
				Questions: []types.QuestionItem{
					{Header: "Q1", Prompt: "Which database?", Options: []types.QuestionOption{{Label: "OptA"}, {Label: "OptB"}}},
					{Header: "Q2", Prompt: "Which queue?", Options: []types.QuestionOption{{Label: "OptC"}, {Label: "OptD"}}},
				},
			}))
			Eventually(postContaining(thread, "Which database?")).ShouldNot(BeEmpty())
			first := postContaining(thread, "Which database?")()

			By("ignoring an option the question does not have")
			Expect(chat.React(ctx, first, "alice", "nine", true)).To(Succeed())
			Consistently(postContaining(thread, "Which queue?"), 50*time.Millisecond).Should(BeEmpty())

			Expect(chat.React(ctx, first, "alice", "one", true)).To(Succeed())
			Eventually(postContaining(thread, "Which queue?")).ShouldNot(BeEmpty())
			second := postContaining(thread, "Which queue?")()
			Expect(second).NotTo(Equal(first))

			Expect(chat.React(ctx, second, "alice", "two", true)).To(Succeed())
			Eventually(proc.Sent).Should(ContainElement(ContainSubstring("- Q1: OptA\n- Q2: OptD")))

			By("treating a late reaction on a resolved question as stale")
			before := len(proc.Sent())
			Expect(chat.React(ctx, second, "alice", "one", true)).To(Succeed())
			Consistently(func() int { return len(proc.Sent()) }, 50*time.Millisecond).Should(Equal(before))
		})
	})

	Describe("subagents", func() {
		It("refreshes the elapsed time in place while running", func() {
			root, err := chat.Post(ctx, "", "alice", "explore")
			Expect(err).NotTo(HaveOccurred())
			thread := root.ThreadID
			proc := spawner.Last()
			s, _ := mgr.FindByThread("memory", thread)

			proc.Emit(types.NewOperation(s.ID(), types.Subagent{
				Action: types.SubagentStart, ToolUseID: "tu-sub", Description: "map the packages", Type: "Explore",
			}))
			Eventually(postContaining(thread, "map the packages")).ShouldNot(BeEmpty())
			post := postContaining(thread, "map the packages")()
			count := len(history(thread))

			// Idle and warning timers plus the shared subagent ticker.
			clk.WaitForTimers(3)
			clk.Advance(5 * time.Second)
			clk.Advance(5 * time.Second)
			Eventually(func() string {
				msgs, _ := chat.ThreadHistory(ctx, thread)
				for _, m := range msgs {
					if m.ID == post {
						return m.Text
					}
				}
				return ""
			}).Should(ContainSubstring("10s"))
			Expect(history(thread)).To(HaveLen(count), "the subagent post is reused, not duplicated")
		})
	})

	Describe("output ordering", func() {
		It("posts operations in submission order", func() {
			root, err := chat.Post(ctx, "", "alice", "go")
			Expect(err).NotTo(HaveOccurred())
			thread := root.ThreadID
			proc := spawner.Last()
			s, _ := mgr.FindByThread("memory", thread)

			proc.Emit(types.NewOperation(s.ID(), types.AppendContent{Text: "first paragraph"}))
			proc.Emit(types.NewOperation(s.ID(), types.Flush{}))
			proc.Emit(types.NewOperation(s.ID(), types.SystemMessage{Level: types.LevelInfo, Text: "second notice"}))
			proc.Emit(types.NewOperation(s.ID(), types.AppendContent{Text: "third paragraph"}))
			proc.Emit(types.NewOperation(s.ID(), types.Flush{}))

			Eventually(postContaining(thread, "third paragraph")).ShouldNot(BeEmpty())
			texts := history(thread)
			idx := func(substr string) int {
				for i, t := range texts {
					if strings.Contains(t, substr) {
						return i
					}
				}
				return -1
			}
			Expect(idx("first paragraph")).To(BeNumerically("<", idx("second notice")))
			Expect(idx("second notice")).To(BeNumerically("<", idx("third paragraph")))
		})
	})
})
