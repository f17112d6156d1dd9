// Package types provides the core data types for the threadbridge server.
package types

// SessionSnapshot is the persisted state needed to resume a session once.
// Nothing else about a session crosses a process restart.
type SessionSnapshot struct {
	PlatformID       string              `json:"platformID"`
	ThreadID         string              `json:"threadID"`
	SessionID        string              `json:"sessionID"`
	WorkDir          string              `json:"workDir"`
	ResumeToken      string              `json:"resumeToken,omitempty"`
	StartedBy        string              `json:"startedBy"`
	AllowedUsers     []string            `json:"allowedUsers,omitempty"`
	Worktree         *WorktreeBinding    `json:"worktree,omitempty"`
	HeaderPostID     string              `json:"headerPostID,omitempty"`
	PendingQuestions *PendingQuestionSet `json:"pendingQuestions,omitempty"`
	PendingApproval  *PendingApproval    `json:"pendingApproval,omitempty"`
	Time             SessionTime         `json:"time"`
}

// SessionTime contains timestamps for a session.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// WorktreeBinding records the git worktree a session runs in.
type WorktreeBinding struct {
	RepoRoot string `json:"repoRoot"`
	Path     string `json:"path"`
	Branch   string `json:"branch,omitempty"`
}

// PendingQuestion is a question together with its recorded answer, if any.
type PendingQuestion struct {
	QuestionItem
	Answer *string `json:"answer,omitempty"`
	// Selected holds the option indexes picked so far on a multi-select question.
	Selected []int `json:"selected,omitempty"`
}

// PendingQuestionSet is the active multi-question interaction of a session.
type PendingQuestionSet struct {
	ToolUseID     string            `json:"toolUseID"`
	Questions     []PendingQuestion `json:"questions"`
	CurrentIndex  int               `json:"currentIndex"`
	CurrentPostID string            `json:"currentPostID"`
}

// PendingApproval is the active approve/deny interaction of a session.
type PendingApproval struct {
	ToolUseID string       `json:"toolUseID"`
	Kind      ApprovalKind `json:"kind"`
	PostID    string       `json:"postID"`
}

// SessionInfo is the public view of a live session.
type SessionInfo struct {
	ID           string           `json:"id"`
	PlatformID   string           `json:"platformID"`
	ThreadID     string           `json:"threadID"`
	WorkDir      string           `json:"workDir"`
	State        string           `json:"state"`
	StartedBy    string           `json:"startedBy"`
	AllowedUsers []string         `json:"allowedUsers"`
	Worktree     *WorktreeBinding `json:"worktree,omitempty"`
	Status       SessionStatus    `json:"status"`
	Time         SessionTime      `json:"time"`
	LastActivity int64            `json:"lastActivity"`
}

// SessionStatus is the model and usage summary shown in the session header.
type SessionStatus struct {
	Model         string  `json:"model,omitempty"`
	InputTokens   int     `json:"inputTokens"`
	OutputTokens  int     `json:"outputTokens"`
	ContextTokens int     `json:"contextTokens"`
	CostUSD       float64 `json:"costUSD"`
	Branch        string  `json:"branch,omitempty"`
}

// Apply merges the non-nil fields of a StatusUpdate.
func (s *SessionStatus) Apply(u StatusUpdate) {
	if u.Model != nil {
		s.Model = *u.Model
	}
	if u.InputTokens != nil {
		s.InputTokens = *u.InputTokens
	}
	if u.OutputTokens != nil {
		s.OutputTokens = *u.OutputTokens
	}
	if u.ContextTokens != nil {
		s.ContextTokens = *u.ContextTokens
	}
	if u.CostUSD != nil {
		s.CostUSD = *u.CostUSD
	}
}
