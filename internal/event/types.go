package event

import "github.com/opencode-ai/threadbridge/pkg/types"

// SessionInfoData is the data for session.created, session.updated and
// session.deleted events.
type SessionInfoData struct {
	Info types.SessionInfo `json:"info"`
}

// SessionStatusData is the data for session.status events.
type SessionStatusData struct {
	SessionID string `json:"sessionID"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// SessionErrorData is the data for session.error events.
type SessionErrorData struct {
	SessionID string `json:"sessionID"`
	Error     string `json:"error"`
}

// BranchChangedData is the data for vcs.branch.updated events.
type BranchChangedData struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
}
