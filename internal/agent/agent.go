package agent

import (
	"context"
	"errors"

	"github.com/opencode-ai/threadbridge/pkg/types"
)

// ErrProcessLost is reported when the agent process exits unexpectedly.
var ErrProcessLost = errors.New("agent process lost")

// IsProcessLost reports whether err means the process exited unexpectedly.
func IsProcessLost(err error) bool {
	return errors.Is(err, ErrProcessLost)
}

// Process is a running agent bound to one session.
type Process interface {
	// Send delivers an instruction to the agent.
	Send(ctx context.Context, text string) error
	// Operations is closed when the process exits.
	Operations() <-chan types.Operation
	// Done is closed after the process has exited and Operations is closed.
	Done() <-chan struct{}
	// Err is valid after Done: nil after Kill, ErrProcessLost otherwise.
	Err() error
	// ResumeToken identifies the agent conversation for a later resume.
	ResumeToken() string
	// Interrupt asks the agent to abandon its current turn.
	Interrupt() error
	// Kill terminates the process. It does not wait for exit.
	Kill() error
}

// SpawnRequest describes the process to start for a session.
type SpawnRequest struct {
	SessionID   string
	WorkDir     string
	ResumeToken string
	// Prompt is sent as the first instruction once the process is running.
	Prompt string
}

// Spawner starts agent processes.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (Process, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(ctx context.Context, req SpawnRequest) (Process, error)

// Spawn implements Spawner.
func (f SpawnerFunc) Spawn(ctx context.Context, req SpawnRequest) (Process, error) {
	return f(ctx, req)
}
