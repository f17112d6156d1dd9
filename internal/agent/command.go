package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/threadbridge/internal/logging"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// maxLine bounds a single JSON line from the agent.
const maxLine = 4 << 20

// CommandSpawner runs an external agent command per session.
type CommandSpawner struct {
	Command string
	Args    []string
	Env     map[string]string
	// ResumeFlag is passed with the resume token, default "--resume".
	ResumeFlag string
}

// Spawn implements Spawner.
func (s *CommandSpawner) Spawn(ctx context.Context, req SpawnRequest) (Process, error) {
	if s.Command == "" {
		return nil, fmt.Errorf("empty agent command")
	}

	args := append([]string(nil), s.Args...)
	if req.ResumeToken != "" {
		flag := s.ResumeFlag
		if flag == "" {
			flag = "--resume"
		}
		args = append(args, flag, req.ResumeToken)
	}

	// The process outlives the request that started it.
	cmd := exec.Command(s.Command, args...)
	cmd.Dir = req.WorkDir
	cmd.Env = os.Environ()
	for k, v := range s.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env, "THREADBRIDGE_SESSION_ID="+req.SessionID)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}

	p := &commandProcess{
		cmd:    cmd,
		stdin:  stdin,
		ops:    make(chan types.Operation, 64),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		token:  req.ResumeToken,
		logger: logging.Component("agent").With().Str("session", req.SessionID).Int("pid", cmd.Process.Pid).Logger(),
	}
	go p.readLoop(bufio.NewReader(stdout))

	if req.Prompt != "" {
		if err := p.Send(ctx, req.Prompt); err != nil {
			_ = p.Kill()
			return nil, err
		}
	}
	return p, nil
}

type instruction struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type controlLine struct {
	Type        string `json:"type"`
	ResumeToken string `json:"resumeToken"`
}

type commandProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	ops    chan types.Operation
	done   chan struct{}
	logger zerolog.Logger

	// stop is closed by Kill; the reader then discards output until EOF.
	stop     chan struct{}
	stopOnce sync.Once

	writeMu sync.Mutex

	mu     sync.Mutex
	token  string
	killed bool
	err    error
}

func (p *commandProcess) readLoop(r *bufio.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var head controlLine
		if err := json.Unmarshal(line, &head); err != nil {
			p.logger.Debug().Err(err).Msg("skipping non-JSON line")
			continue
		}
		if head.Type == "session" {
			p.mu.Lock()
			p.token = head.ResumeToken
			p.mu.Unlock()
			continue
		}
		op, err := types.DecodeOperation(line)
		if err != nil {
			p.logger.Debug().Err(err).Msg("skipping undecodable operation")
			continue
		}
		select {
		case p.ops <- op:
		case <-p.stop:
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn().Err(err).Msg("agent stdout read failed")
	}

	waitErr := p.cmd.Wait()
	p.mu.Lock()
	if !p.killed {
		if waitErr != nil {
			p.err = fmt.Errorf("%w: %v", ErrProcessLost, waitErr)
		} else {
			p.err = fmt.Errorf("%w: exited", ErrProcessLost)
		}
	}
	p.mu.Unlock()
	p.logger.Info().AnErr("exit", waitErr).Msg("agent exited")

	close(p.ops)
	close(p.done)
}

func (p *commandProcess) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrProcessLost
	default:
	}

	data, err := json.Marshal(instruction{Type: "message", Text: text})
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: write: %v", ErrProcessLost, err)
	}
	return nil
}

func (p *commandProcess) Operations() <-chan types.Operation { return p.ops }

func (p *commandProcess) Done() <-chan struct{} { return p.done }

func (p *commandProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *commandProcess) ResumeToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

func (p *commandProcess) Interrupt() error {
	return p.cmd.Process.Signal(os.Interrupt)
}

func (p *commandProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stop) })
	_ = p.stdin.Close()
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
