package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/opencode-ai/threadbridge/internal/platform"
	"github.com/opencode-ai/threadbridge/internal/storage"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// HandleMessage routes a user message. In a thread with a live session it
// runs a command or forwards the text to the agent; otherwise it resumes a
// paused session or starts a new one. Only a refused start is returned as
// an error; everything else is reported in the thread.
func (m *Manager) HandleMessage(ctx context.Context, msg platform.InboundMessage) error {
	client, err := m.platform(msg.PlatformID)
	if err != nil {
		return err
	}
	log := m.log.With().Str("thread", msg.PlatformID+"/"+msg.ThreadID).Str("user", msg.UserID).Logger()

	if s, ok := m.FindByThread(msg.PlatformID, msg.ThreadID); ok {
		if !s.IsAllowed(msg.UserID) {
			log.Debug().Str("session", s.id).Msg("ignoring message from user not on the allow-list")
			if msgs := s.Messages(); msgs != nil {
				_ = msgs.PostSystem(ctx, types.LevelWarning,
					fmt.Sprintf("@%s is not allowed to talk to this session. Ask @%s to `!invite` you.", msg.UserID, s.startedBy),
					true)
			}
			return nil
		}
		if name, arg, ok := parseCommand(msg.Text); ok {
			return m.runCommand(ctx, s, msg.UserID, name, arg)
		}
		proc := s.Process()
		if proc == nil {
			return nil
		}
		s.record(m.clock.Now(), "message", msg.UserID)
		if err := m.send(ctx, s, proc, userInstruction(msg)); err != nil {
			log.Warn().Err(err).Str("session", s.id).Msg("forward message to agent")
			if msgs := s.Messages(); msgs != nil {
				_ = msgs.PostSystem(ctx, types.LevelError, "Could not deliver your message to the agent.", false)
			}
		}
		return nil
	}

	if !m.mayStart(msg.UserID) {
		log.Debug().Msg("ignoring message from user not allowed to start sessions")
		return nil
	}
	if _, _, ok := parseCommand(msg.Text); ok {
		return nil
	}

	prompt := userInstruction(msg)
	_, err = m.Resume(ctx, msg.PlatformID, msg.ThreadID, msg.UserID, prompt)
	if errors.Is(err, ErrNotFound) {
		_, err = m.Start(ctx, StartRequest{
			Platform: client,
			ThreadID: msg.ThreadID,
			UserID:   msg.UserID,
			Prompt:   prompt,
		})
	}
	switch {
	case err == nil:
		return nil
	case IsCapacityExceeded(err):
		text := fmt.Sprintf("⚠️ Too many active sessions (%d). Try again when one finishes.", m.cfg.MaxSessions)
		if _, perr := client.CreatePost(ctx, msg.ThreadID, text); perr != nil {
			log.Warn().Err(platform.Wrap("create", "", perr)).Msg("capacity notice")
		}
		return err
	case errors.Is(err, ErrSessionExists):
		return nil
	default:
		log.Error().Err(err).Msg("start session")
		if _, perr := client.CreatePost(ctx, msg.ThreadID, "❌ Could not start the agent: "+err.Error()); perr != nil {
			log.Warn().Err(platform.Wrap("create", "", perr)).Msg("start failure notice")
		}
		return nil
	}
}

// HandleReaction routes a reaction change to the session owning the post.
// Reactions on untracked or already resolved posts, unknown emoji and
// reactions from users outside the allow-list are ignored.
func (m *Manager) HandleReaction(ctx context.Context, r platform.Reaction) error {
	s, ok := m.FindByPost(r.PlatformID, r.PostID)
	if !ok {
		return nil
	}
	if !s.IsAllowed(r.UserID) {
		return nil
	}
	msgs := s.Messages()
	if msgs == nil {
		return nil
	}
	handled, err := msgs.HandleReaction(ctx, r)
	if err != nil {
		// The pipeline closed under us; the session is going away.
		return nil
	}
	if handled {
		m.touch(s)
		s.record(m.clock.Now(), "reaction", r.Emoji)
	}
	return nil
}

// Resume restarts the paused session of a thread from its snapshot, with
// prompt as the first instruction. It returns ErrNotFound when the thread
// has no snapshot.
func (m *Manager) Resume(ctx context.Context, platformID, threadID, userID, prompt string) (*Session, error) {
	client, err := m.platform(platformID)
	if err != nil {
		return nil, err
	}
	snap, ok := m.loadSnapshot(ctx, platformID, threadID)
	if !ok {
		return nil, fmt.Errorf("%w: nothing to resume in %s/%s", ErrNotFound, platformID, threadID)
	}
	if snap.WorkDir != "" {
		if _, err := os.Stat(snap.WorkDir); errors.Is(err, fs.ErrNotExist) {
			m.log.Warn().Str("thread", threadID).Str("workDir", snap.WorkDir).Msg("dropping snapshot of a removed working directory")
			if err := m.cfg.Snapshots.Delete(ctx, platformID, threadID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				m.log.Warn().Err(err).Str("thread", threadID).Msg("delete snapshot")
			}
			if _, err := client.CreatePost(ctx, threadID, "⚠️ The previous session's working directory is gone, so it cannot be resumed."); err != nil {
				m.log.Warn().Err(platform.Wrap("create", "", err)).Msg("stale snapshot notice")
			}
			return nil, fmt.Errorf("%w: working directory of %s/%s no longer exists", ErrNotFound, platformID, threadID)
		}
	}
	return m.Start(ctx, StartRequest{
		Platform: client,
		ThreadID: threadID,
		UserID:   userID,
		Prompt:   prompt,
		Resume:   &snap,
	})
}

func (m *Manager) platform(id string) (platform.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.platforms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, id)
	}
	return c, nil
}

func (m *Manager) mayStart(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.allowed) == 0 || m.allowed[userID]
}

func (m *Manager) loadSnapshot(ctx context.Context, platformID, threadID string) (types.SessionSnapshot, bool) {
	if m.cfg.Snapshots == nil {
		return types.SessionSnapshot{}, false
	}
	snap, err := m.cfg.Snapshots.Load(ctx, platformID, threadID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.log.Warn().Err(err).Str("thread", threadID).Msg("load snapshot")
		}
		return types.SessionSnapshot{}, false
	}
	return snap, true
}

// parseCommand splits "!name arg" into its parts.
func parseCommand(text string) (name, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") || len(text) < 2 {
		return "", "", false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", "", false
	}
	name = strings.ToLower(fields[0])
	if len(fields) > 1 {
		arg = strings.TrimPrefix(fields[1], "@")
	}
	return name, arg, true
}

func (m *Manager) runCommand(ctx context.Context, s *Session, userID, name, arg string) error {
	s.record(m.clock.Now(), "command", name)
	m.touch(s)
	msgs := s.Messages()
	reply := func(level types.MessageLevel, text string) {
		if msgs != nil {
			_ = msgs.PostSystem(ctx, level, text, false)
		}
	}

	switch name {
	case "stop", "cancel":
		return ignoreNotFound(m.Stop(ctx, s.id))
	case "kill":
		return ignoreNotFound(m.Kill(ctx, s.id))
	case "escape", "interrupt":
		if err := m.Interrupt(ctx, s.id); err != nil && !errors.Is(err, ErrNotFound) {
			reply(types.LevelWarning, "Could not interrupt: "+err.Error())
		}
		return nil
	case "restart":
		if err := m.Restart(ctx, s.id); err != nil && !errors.Is(err, ErrNotFound) {
			m.log.Warn().Err(err).Str("session", s.id).Msg("restart")
		}
		return nil
	case "invite":
		if arg == "" {
			reply(types.LevelWarning, "Usage: `!invite @user`")
			return nil
		}
		s.mu.Lock()
		s.allowed[arg] = true
		s.mu.Unlock()
		reply(types.LevelSuccess, fmt.Sprintf("@%s can now talk to this session.", arg))
		m.refreshHeader(s)
		return nil
	case "kick":
		if arg == "" {
			reply(types.LevelWarning, "Usage: `!kick @user`")
			return nil
		}
		s.mu.Lock()
		owner := arg == s.startedBy
		if !owner {
			delete(s.allowed, arg)
		}
		s.mu.Unlock()
		if owner {
			reply(types.LevelWarning, "The session owner cannot be removed.")
			return nil
		}
		reply(types.LevelSuccess, fmt.Sprintf("@%s was removed from this session.", arg))
		m.refreshHeader(s)
		return nil
	case "help":
		reply(types.LevelInfo, helpText)
		return nil
	default:
		reply(types.LevelWarning, fmt.Sprintf("Unknown command `!%s`. Try `!help`.", name))
		return nil
	}
}

func (m *Manager) refreshHeader(s *Session) {
	if msgs := s.Messages(); msgs != nil {
		msgs.Schedule(func(ctx context.Context) { m.updateHeader(ctx, s) })
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
