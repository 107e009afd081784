package chatmodel

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/tools"
)

// ErrInvalidDecision is returned for a decision with both a final answer and tool calls
var ErrInvalidDecision = errors.New("invalid decision")

// ToolCallFailedPrefix starts the content of a tool turn for a failed call
const ToolCallFailedPrefix = "Tool call failed: "

// Role is the author of a turn
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// Turn is an entry of the conversation
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	// ToolCalls are set on a model turn that requests tools
	ToolCalls []*tools.CallRequest `json:"toolCalls,omitempty"`
	// ToolResults are set on a tool turn
	ToolResults []*tools.CallResult `json:"toolResults,omitempty"`
}

// NewUserTurn returns a user turn
func NewUserTurn(content string) *Turn {
	return &Turn{Role: RoleUser, Content: content}
}

// NewModelTurn returns a model turn with the text and the requested calls, if any
func NewModelTurn(content string, calls ...*tools.CallRequest) *Turn {
	return &Turn{Role: RoleModel, Content: content, ToolCalls: calls}
}

// NewToolTurn returns the tool turn reporting the result.
// The content of a failed call starts with ToolCallFailedPrefix.
func NewToolTurn(res *tools.CallResult) *Turn {
	content := res.Text()
	if res.Failed() {
		content = ToolCallFailedPrefix + content
	}
	return &Turn{
		Role:        RoleTool,
		Content:     content,
		ToolResults: []*tools.CallResult{res},
	}
}

// Conversation is the ordered list of turns
type Conversation []*Turn

// Last returns the last turn, nil if empty
func (c Conversation) Last() *Turn {
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}

// Clone returns a copy of the list, the turns are shared
func (c Conversation) Clone() Conversation {
	return append(Conversation(nil), c...)
}

// ToolCalls returns every call requested in the conversation
func (c Conversation) ToolCalls() []*tools.CallRequest {
	var calls []*tools.CallRequest
	for _, t := range c {
		calls = append(calls, t.ToolCalls...)
	}
	return calls
}

// Usage is the token usage of a decision
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Decision is the next step chosen by the decision engine.
// It holds exactly one of FinalAnswer or ToolCalls.
type Decision struct {
	FinalAnswer string `json:"finalAnswer,omitempty"`
	// Content is the model text accompanying tool calls
	Content   string               `json:"content,omitempty"`
	ToolCalls []*tools.CallRequest `json:"toolCalls,omitempty"`
	Usage     *Usage               `json:"usage,omitempty"`
}

// IsFinal returns true if the decision ends the run
func (d *Decision) IsFinal() bool {
	return len(d.ToolCalls) == 0
}

// Validate checks that the decision holds exactly one outcome
func (d *Decision) Validate() error {
	if d.FinalAnswer == "" && len(d.ToolCalls) == 0 {
		return errors.Wrap(ErrInvalidDecision, "no final answer or tool calls")
	}
	if d.FinalAnswer != "" && len(d.ToolCalls) > 0 {
		return errors.Wrap(ErrInvalidDecision, "final answer with tool calls")
	}
	for _, c := range d.ToolCalls {
		if c == nil || c.Name == "" {
			return errors.Wrap(ErrInvalidDecision, "tool call without name")
		}
	}
	return nil
}
