package executor

import (
	"context"
	"errors"
	"strings"

	"github.com/opencode-ai/threadbridge/internal/breaker"
	"github.com/opencode-ai/threadbridge/internal/formatter"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// ContentExecutor buffers streamed assistant text and posts it in chunks
// chosen by the content breaker.
type ContentExecutor struct {
	deps       Deps
	breaker    *breaker.Breaker
	formatters *formatter.Registry

	buf   string
	posts []string
}

// NewContentExecutor creates a ContentExecutor. A nil breaker uses the
// default thresholds; a nil registry uses the built-in formatters.
func NewContentExecutor(deps Deps, b *breaker.Breaker, formatters *formatter.Registry) *ContentExecutor {
	deps.defaults()
	if b == nil {
		b = breaker.New(breaker.DefaultThresholds())
	}
	if formatters == nil {
		formatters = formatter.NewRegistry()
	}
	return &ContentExecutor{deps: deps, breaker: b, formatters: formatters}
}

// Append adds text to the buffer and posts every chunk the breaker
// releases.
func (e *ContentExecutor) Append(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	e.buf += text
	return e.drain(ctx)
}

// AppendToolUse adds a one-line tool summary on its own line.
func (e *ContentExecutor) AppendToolUse(ctx context.Context, tool types.ToolUse) error {
	line := e.formatters.Format(tool)
	if line == "" {
		return nil
	}
	if e.buf != "" && !strings.HasSuffix(e.buf, "\n") {
		e.buf += "\n"
	}
	e.buf += line + "\n"
	return e.drain(ctx)
}

// Flush posts whatever is buffered, closing an unterminated fence.
func (e *ContentExecutor) Flush(ctx context.Context) error {
	text := strings.TrimSpace(e.buf)
	e.buf = ""
	if text == "" {
		return nil
	}
	if fs := breaker.ScanFence(text); fs.Open {
		text += "\n" + fs.Marker
	}
	return e.post(ctx, text)
}

// Pending returns the buffered text not yet posted.
func (e *ContentExecutor) Pending() string { return e.buf }

// Posts returns the IDs of the content posts created so far.
func (e *ContentExecutor) Posts() []string { return append([]string(nil), e.posts...) }

func (e *ContentExecutor) drain(ctx context.Context) error {
	var errs []error
	for {
		d := e.breaker.Decide(e.buf, breaker.FenceState{})
		if d.Kind == breaker.None {
			break
		}
		chunk, rest := breaker.Split(e.buf, d)
		if len(rest) >= len(e.buf) {
			// A reopened fence longer than the cut; post it all.
			chunk, rest = e.buf, ""
		}
		e.buf = rest
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		e.deps.Logger.Debug().Str("kind", d.Kind.String()).Int("len", len(chunk)).Msg("content break")
		if err := e.post(ctx, chunk); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *ContentExecutor) post(ctx context.Context, text string) error {
	id, err := e.deps.createPost(ctx, text)
	if err != nil {
		return err
	}
	e.posts = append(e.posts, id)
	return nil
}
