package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationKind identifies the payload carried by an Operation.
type OperationKind string

const (
	OpAppendContent OperationKind = "append_content"
	OpFlush         OperationKind = "flush"
	OpTaskList      OperationKind = "task_list"
	OpQuestion      OperationKind = "question"
	OpApproval      OperationKind = "approval"
	OpSystemMessage OperationKind = "system_message"
	OpSubagent      OperationKind = "subagent"
	OpStatusUpdate  OperationKind = "status_update"
	OpLifecycle     OperationKind = "lifecycle"
	OpToolUse       OperationKind = "tool_use"
)

// Payload is implemented by every operation payload type.
type Payload interface {
	Kind() OperationKind
}

// Operation is one semantic unit of agent output bound to a session.
// Seq is monotonic per session; operations for one session are never reordered.
type Operation struct {
	SessionID string    `json:"sessionID"`
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	Payload   Payload   `json:"-"`
}

// Kind returns the kind of the operation's payload.
func (o Operation) Kind() OperationKind {
	if o.Payload == nil {
		return ""
	}
	return o.Payload.Kind()
}

// NewOperation wraps a payload for the given session. Time is left zero for
// the message manager to stamp from its clock.
func NewOperation(sessionID string, payload Payload) Operation {
	return Operation{SessionID: sessionID, Payload: payload}
}

// AppendContent appends streamed assistant text.
type AppendContent struct {
	Text string `json:"text"`
}

func (AppendContent) Kind() OperationKind { return OpAppendContent }

// Flush forces buffered content out as a post.
type Flush struct{}

func (Flush) Kind() OperationKind { return OpFlush }

// TaskStatus is the state of a single task list item.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// TaskItem is one entry of the agent's checklist.
type TaskItem struct {
	Content    string     `json:"content"`
	ActiveForm string     `json:"activeForm,omitempty"`
	Status     TaskStatus `json:"status"`
}

// TaskList replaces the rendered checklist.
type TaskList struct {
	Items []TaskItem `json:"items"`
}

func (TaskList) Kind() OperationKind { return OpTaskList }

// QuestionOption is one selectable answer.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// QuestionItem is a single question in a Question operation.
type QuestionItem struct {
	Header      string           `json:"header"`
	Prompt      string           `json:"prompt"`
	Options     []QuestionOption `json:"options"`
	MultiSelect bool             `json:"multiSelect,omitempty"`
}

// Question asks the user an ordered set of questions.
type Question struct {
	ToolUseID string         `json:"toolUseID"`
	Questions []QuestionItem `json:"questions"`
}

func (Question) Kind() OperationKind { return OpQuestion }

// ApprovalKind distinguishes what is being approved.
type ApprovalKind string

const (
	ApprovalPlan   ApprovalKind = "plan"
	ApprovalAction ApprovalKind = "action"
)

// Approval requests an approve/deny decision.
type Approval struct {
	ToolUseID string       `json:"toolUseID"`
	Type      ApprovalKind `json:"kind"`
	Detail    string       `json:"detail,omitempty"`
}

func (Approval) Kind() OperationKind { return OpApproval }

// MessageLevel is the severity of a system message.
type MessageLevel string

const (
	LevelInfo    MessageLevel = "info"
	LevelWarning MessageLevel = "warning"
	LevelError   MessageLevel = "error"
	LevelSuccess MessageLevel = "success"
)

// SystemMessage is a leveled notice rendered by the system executor.
type SystemMessage struct {
	Level     MessageLevel `json:"level"`
	Text      string       `json:"text"`
	Ephemeral bool         `json:"ephemeral,omitempty"`
}

func (SystemMessage) Kind() OperationKind { return OpSystemMessage }

// SubagentAction is the sub-task event type.
type SubagentAction string

const (
	SubagentStart          SubagentAction = "start"
	SubagentUpdate         SubagentAction = "update"
	SubagentComplete       SubagentAction = "complete"
	SubagentToggleMinimize SubagentAction = "toggle_minimize"
)

// Subagent reports a sub-task spawn, progress or completion.
type Subagent struct {
	Action      SubagentAction `json:"action"`
	ToolUseID   string         `json:"toolUseID"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"subagentType,omitempty"`
	Minimized   bool           `json:"minimized,omitempty"`
}

func (Subagent) Kind() OperationKind { return OpSubagent }

// StatusUpdate carries partial model and usage fields. Nil fields are unchanged.
type StatusUpdate struct {
	Model         *string  `json:"model,omitempty"`
	InputTokens   *int     `json:"inputTokens,omitempty"`
	OutputTokens  *int     `json:"outputTokens,omitempty"`
	ContextTokens *int     `json:"contextTokens,omitempty"`
	CostUSD       *float64 `json:"costUSD,omitempty"`
}

func (StatusUpdate) Kind() OperationKind { return OpStatusUpdate }

// LifecycleEvent names an agent turn boundary.
type LifecycleEvent string

const (
	LifecycleTurnStarted   LifecycleEvent = "turn_started"
	LifecycleTurnCompleted LifecycleEvent = "turn_completed"
	LifecycleCompacting    LifecycleEvent = "compacting"
	LifecycleCompacted     LifecycleEvent = "compacted"
)

// Lifecycle reports an agent lifecycle event.
type Lifecycle struct {
	Event LifecycleEvent `json:"event"`
}

func (Lifecycle) Kind() OperationKind { return OpLifecycle }

// ToolUse reports a tool invocation to be rendered inline with content.
type ToolUse struct {
	ToolUseID string         `json:"toolUseID"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input,omitempty"`
}

func (ToolUse) Kind() OperationKind { return OpToolUse }

// wireOperation is the JSON envelope of an Operation.
type wireOperation struct {
	Type      OperationKind   `json:"type"`
	SessionID string          `json:"sessionID,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
	Time      time.Time       `json:"time"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the operation as a typed envelope.
func (o Operation) MarshalJSON() ([]byte, error) {
	if o.Payload == nil {
		return nil, fmt.Errorf("operation has no payload")
	}
	data, err := json.Marshal(o.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireOperation{
		Type:      o.Payload.Kind(),
		SessionID: o.SessionID,
		Seq:       o.Seq,
		Time:      o.Time,
		Data:      data,
	})
}

// UnmarshalJSON decodes a typed envelope.
func (o *Operation) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeOperation(data)
	if err != nil {
		return err
	}
	*o = decoded
	return nil
}

// DecodeOperation decodes a JSON envelope into an Operation with the
// matching payload type. Unknown types are an error.
func DecodeOperation(data []byte) (Operation, error) {
	var wire wireOperation
	if err := json.Unmarshal(data, &wire); err != nil {
		return Operation{}, err
	}

	var (
		payload Payload
		err     error
	)
	switch wire.Type {
	case OpAppendContent:
		payload = decodePayload[AppendContent](wire.Data, &err)
	case OpFlush:
		payload = Flush{}
	case OpTaskList:
		payload = decodePayload[TaskList](wire.Data, &err)
	case OpQuestion:
		payload = decodePayload[Question](wire.Data, &err)
	case OpApproval:
		payload = decodePayload[Approval](wire.Data, &err)
	case OpSystemMessage:
		payload = decodePayload[SystemMessage](wire.Data, &err)
	case OpSubagent:
		payload = decodePayload[Subagent](wire.Data, &err)
	case OpStatusUpdate:
		payload = decodePayload[StatusUpdate](wire.Data, &err)
	case OpLifecycle:
		payload = decodePayload[Lifecycle](wire.Data, &err)
	case OpToolUse:
		payload = decodePayload[ToolUse](wire.Data, &err)
	default:
		return Operation{}, fmt.Errorf("unknown operation type %q", wire.Type)
	}
	if err != nil {
		return Operation{}, fmt.Errorf("decode %s: %w", wire.Type, err)
	}

	return Operation{
		SessionID: wire.SessionID,
		Seq:       wire.Seq,
		Time:      wire.Time,
		Payload:   payload,
	}, nil
}

func decodePayload[T Payload](data json.RawMessage, errp *error) Payload {
	var p T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			*errp = err
		}
	}
	return p
}
