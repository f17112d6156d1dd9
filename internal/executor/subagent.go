package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/threadbridge/internal/clock"
	"github.com/opencode-ai/threadbridge/internal/posttracker"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// ToggleEmoji is the reaction that minimizes a subagent post while present.
const ToggleEmoji = "heavy_minus_sign"

// DefaultSubagentInterval is the elapsed-time refresh period.
const DefaultSubagentInterval = 5 * time.Second

// Scheduler runs fn on the goroutine that owns the executor.
type Scheduler func(fn func(ctx context.Context))

// ActiveSubagent is the display state of one subagent.
type ActiveSubagent struct {
	ToolUseID   string
	PostID      string
	Description string
	Type        string
	StartTime   time.Time
	LastUpdate  time.Time
	EndTime     time.Time
	Minimized   bool
	Complete    bool
}

// SubagentExecutor shows one post per subagent with a live elapsed time.
// A single ticker per session refreshes every running subagent; it runs
// while at least one subagent is not complete.
type SubagentExecutor struct {
	deps     Deps
	interval time.Duration
	schedule Scheduler

	agents map[string]*ActiveSubagent
	byPost map[string]string
	order  []string

	ticker *clock.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewSubagentExecutor creates a SubagentExecutor. Ticks are handed to
// schedule so Refresh runs on the owner's goroutine.
func NewSubagentExecutor(deps Deps, interval time.Duration, schedule Scheduler) *SubagentExecutor {
	deps.defaults()
	if interval <= 0 {
		interval = DefaultSubagentInterval
	}
	return &SubagentExecutor{
		deps:     deps,
		interval: interval,
		schedule: schedule,
		agents:   make(map[string]*ActiveSubagent),
		byPost:   make(map[string]string),
	}
}

// Start posts a new subagent and starts the ticker if it is not running.
func (e *SubagentExecutor) Start(ctx context.Context, s types.Subagent) error {
	if _, ok := e.agents[s.ToolUseID]; ok {
		return e.Update(ctx, s)
	}
	now := e.deps.Clock.Now()
	a := &ActiveSubagent{
		ToolUseID:   s.ToolUseID,
		Description: s.Description,
		Type:        s.Type,
		StartTime:   now,
		LastUpdate:  now,
	}
	id, err := e.deps.createInteractive(ctx, renderSubagent(a, now), []string{ToggleEmoji})
	if err != nil {
		return err
	}
	a.PostID = id
	e.agents[s.ToolUseID] = a
	e.byPost[id] = s.ToolUseID
	e.order = append(e.order, s.ToolUseID)
	e.deps.Tracker.Register(id, posttracker.Info{
		Type:        posttracker.TypeSubagent,
		Interaction: posttracker.InteractionToggle,
		ToolUseID:   s.ToolUseID,
	})

	e.startTicker()
	return nil
}

// Update rewrites a running subagent's post, taking a new description if given.
func (e *SubagentExecutor) Update(ctx context.Context, s types.Subagent) error {
	a, ok := e.agents[s.ToolUseID]
	if !ok || a.Complete {
		return nil
	}
	if s.Description != "" {
		a.Description = s.Description
	}
	return e.render(ctx, a)
}

// Complete freezes the elapsed time of a subagent. Its post stays.
func (e *SubagentExecutor) Complete(ctx context.Context, s types.Subagent) error {
	a, ok := e.agents[s.ToolUseID]
	if !ok || a.Complete {
		return nil
	}
	a.Complete = true
	a.EndTime = e.deps.Clock.Now()
	err := e.render(ctx, a)
	if e.running() == 0 {
		e.stopTicker()
	}
	return err
}

// SetMinimized sets the display state of a subagent. Setting the current
// state again makes no platform call. It reports whether the subagent
// is known.
func (e *SubagentExecutor) SetMinimized(ctx context.Context, toolUseID string, minimized bool) (bool, error) {
	a, ok := e.agents[toolUseID]
	if !ok {
		return false, nil
	}
	if a.Minimized == minimized {
		return true, nil
	}
	a.Minimized = minimized
	return true, e.render(ctx, a)
}

// HandleReaction applies the toggle reaction on a subagent post: present
// means minimized, absent means expanded.
func (e *SubagentExecutor) HandleReaction(ctx context.Context, postID, emoji string, added bool) (bool, error) {
	id, ok := e.byPost[postID]
	if !ok || emoji != ToggleEmoji {
		return false, nil
	}
	return e.SetMinimized(ctx, id, added)
}

// Refresh rewrites the elapsed time of every running subagent not updated
// within the last interval.
func (e *SubagentExecutor) Refresh(ctx context.Context) error {
	now := e.deps.Clock.Now()
	var errs []error
	for _, id := range e.order {
		a := e.agents[id]
		if a.Complete || now.Sub(a.LastUpdate) < e.interval {
			continue
		}
		if err := e.render(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns a copy of a subagent's state.
func (e *SubagentExecutor) Get(toolUseID string) (ActiveSubagent, bool) {
	a, ok := e.agents[toolUseID]
	if !ok {
		return ActiveSubagent{}, false
	}
	return *a, true
}

// Ticking reports whether the shared ticker is running.
func (e *SubagentExecutor) Ticking() bool { return e.ticker != nil }

// Stop stops the ticker and waits for its goroutine to exit.
func (e *SubagentExecutor) Stop() { e.stopTicker() }

func (e *SubagentExecutor) render(ctx context.Context, a *ActiveSubagent) error {
	now := e.deps.Clock.Now()
	a.LastUpdate = now
	return e.deps.updatePost(ctx, a.PostID, renderSubagent(a, now))
}

func (e *SubagentExecutor) running() int {
	n := 0
	for _, a := range e.agents {
		if !a.Complete {
			n++
		}
	}
	return n
}

func (e *SubagentExecutor) startTicker() {
	if e.ticker != nil || e.schedule == nil {
		return
	}
	e.ticker = e.deps.Clock.NewTicker(e.interval)
	e.stop = make(chan struct{})

	ticks, stop, schedule := e.ticker.C, e.stop, e.schedule
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ticks:
				schedule(func(ctx context.Context) {
					if err := e.Refresh(ctx); err != nil {
						e.deps.Logger.Warn().Err(err).Msg("subagent refresh failed")
					}
				})
			case <-stop:
				return
			}
		}
	}()
}

func (e *SubagentExecutor) stopTicker() {
	if e.ticker == nil {
		return
	}
	e.ticker.Stop()
	close(e.stop)
	e.ticker = nil
	e.wg.Wait()
}

func renderSubagent(a *ActiveSubagent, now time.Time) string {
	label := a.Type
	if label == "" {
		label = "subagent"
	}

	var status string
	if a.Complete {
		status = "✅ done in " + FormatElapsed(a.EndTime.Sub(a.StartTime))
	} else {
		status = "⏳ " + FormatElapsed(now.Sub(a.StartTime))
	}

	if a.Minimized {
		return fmt.Sprintf("🤖 **%s** · %s", label, status)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 **%s**", label)
	if a.Description != "" {
		fmt.Fprintf(&b, ": %s", a.Description)
	}
	fmt.Fprintf(&b, "\n%s", status)
	if !a.Complete {
		fmt.Fprintf(&b, "\n_React :%s: to minimize_", ToggleEmoji)
	}
	return b.String()
}

// FormatElapsed renders a duration as "12s", "3m05s" or "1h02m".
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
