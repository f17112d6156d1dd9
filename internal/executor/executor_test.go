package executor

import (
	"context"
	"time"

	"github.com/opencode-ai/threadbridge/internal/clock"
	"github.com/opencode-ai/threadbridge/internal/platform/platformtest"
	"github.com/opencode-ai/threadbridge/internal/posttracker"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	rec     *platformtest.Recorder
	tracker *posttracker.Tracker
	clock   *clock.Fake
	deps    Deps
	created []string
}

func newFixture() *fixture {
	f := &fixture{
		rec:     platformtest.New(),
		tracker: posttracker.New(nil),
		clock:   clock.NewFake(epoch),
	}
	f.deps = Deps{
		Platform:    f.rec,
		ThreadID:    "thread-1",
		Tracker:     f.tracker,
		Clock:       f.clock,
		AfterCreate: func(id string) { f.created = append(f.created, id) },
	}
	return f
}

var ctx = context.Background()
