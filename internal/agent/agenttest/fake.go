// Package agenttest provides in-memory agent processes for tests.
package agenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/opencode-ai/threadbridge/internal/agent"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// Process is a scripted agent.Process.
type Process struct {
	Request agent.SpawnRequest

	ops  chan types.Operation
	done chan struct{}

	mu          sync.Mutex
	sent        []string
	err         error
	exited      bool
	interrupts  int
	resumeToken string
}

var _ agent.Process = (*Process)(nil)

// NewProcess returns a running fake process.
func NewProcess(req agent.SpawnRequest) *Process {
	token := req.ResumeToken
	if token == "" {
		token = "resume-" + req.SessionID
	}
	return &Process{
		Request:     req,
		ops:         make(chan types.Operation, 64),
		done:        make(chan struct{}),
		resumeToken: token,
	}
}

// Emit queues an operation as if the agent produced it.
func (p *Process) Emit(op types.Operation) {
	p.ops <- op
}

// Exit ends the process abnormally.
func (p *Process) Exit() {
	p.exit(fmt.Errorf("%w: exit status 1", agent.ErrProcessLost))
}

func (p *Process) exit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	p.err = err
	close(p.ops)
	close(p.done)
}

// Sent returns the instructions received so far.
func (p *Process) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

// Interrupts returns how many times Interrupt was called.
func (p *Process) Interrupts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupts
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

func (p *Process) Send(_ context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return agent.ErrProcessLost
	}
	p.sent = append(p.sent, text)
	return nil
}

func (p *Process) Operations() <-chan types.Operation { return p.ops }

func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Process) ResumeToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumeToken
}

func (p *Process) Interrupt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interrupts++
	return nil
}

func (p *Process) Kill() error {
	p.exit(nil)
	return nil
}

// Spawner records spawned fake processes.
type Spawner struct {
	mu        sync.Mutex
	processes []*Process
	// Fail, when set, is returned by Spawn.
	Fail error
}

var _ agent.Spawner = (*Spawner)(nil)

// Spawn implements agent.Spawner.
func (s *Spawner) Spawn(_ context.Context, req agent.SpawnRequest) (agent.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	p := NewProcess(req)
	if req.Prompt != "" {
		p.sent = append(p.sent, req.Prompt)
	}
	s.processes = append(s.processes, p)
	return p, nil
}

// Processes returns every process spawned so far.
func (s *Spawner) Processes() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Process(nil), s.processes...)
}

// Last returns the most recently spawned process, or nil.
func (s *Spawner) Last() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.processes) == 0 {
		return nil
	}
	return s.processes[len(s.processes)-1]
}
