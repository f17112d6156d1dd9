package server_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/threadbridge/citest/testutil"
)

const maxSessions = 2

var (
	testServer *testutil.TestServer
	client     *testutil.TestClient
	ctx        context.Context
)

func TestServer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Server Suite")
}

var _ = BeforeSuite(func() {
	var err error
	testServer, err = testutil.StartTestServer(maxSessions)
	Expect(err).NotTo(HaveOccurred(), "Failed to start test server")

	client = testServer.Client()
	ctx = context.Background()
})

var _ = AfterEach(func() {
	for _, info := range testServer.Sessions.List() {
		_ = testServer.Sessions.Kill(ctx, info.ID)
	}
})

var _ = AfterSuite(func() {
	if testServer != nil {
		Expect(testServer.Stop()).To(Succeed())
	}
})
