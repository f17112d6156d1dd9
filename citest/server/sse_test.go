package server_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/threadbridge/citest/testutil"
	"github.com/opencode-ai/threadbridge/internal/event"
)

var _ = Describe("SSE Event Streaming", func() {
	var sse *testutil.SSEClient

	BeforeEach(func() {
		sse = testServer.SSEClient()
		Expect(sse.Connect(ctx, "/event")).To(Succeed())
	})

	AfterEach(func() {
		sse.Close()
	})

	It("streams the lifecycle of a session", func() {
		root, err := client.StartThread(ctx, "alice", "hello")
		Expect(err).NotTo(HaveOccurred())

		evt, err := sse.WaitForEvent(string(event.SessionCreated), 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		var created event.SessionInfoData
		Expect(json.Unmarshal(evt.Properties, &created)).To(Succeed())
		Expect(created.Info.ThreadID).To(Equal(root.ThreadID))

		Expect(testServer.Sessions.Kill(ctx, created.Info.ID)).To(Succeed())
		evt, err = sse.WaitForEvent(string(event.SessionDeleted), 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		var deleted event.SessionInfoData
		Expect(json.Unmarshal(evt.Properties, &deleted)).To(Succeed())
		Expect(deleted.Info.ID).To(Equal(created.Info.ID))
	})
})
