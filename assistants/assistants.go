package assistants

import (
	"context"
	"fmt"
	"time"

	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "assistants")

//go:generate mockgen -source=assistants.go -destination=../mocks/mockengine/engine_mock.gen.go -package mockengine

// DecisionEngine chooses the next step of a conversation
type DecisionEngine interface {
	// Name returns the model name, used in metrics and logs
	Name() string
	// Decide returns either a final answer or the tool calls to perform.
	// The tools are the descriptors currently available in the session.
	Decide(ctx context.Context, conv chatmodel.Conversation, list []*tools.Descriptor) (*chatmodel.Decision, error)
}

// Toolbox is the set of tools an Agent can call, implemented by *mcp.Session
type Toolbox interface {
	// Tools returns the discovered tool descriptors
	Tools() []*tools.Descriptor
	// Registry returns the tool registry used to validate calls
	Registry() *tools.Registry
	// CallTool invokes the tool with a timeout, zero for the default
	CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*tools.CallResult, error)
	// CancelPending fails the outstanding requests and keeps the toolbox open
	CancelPending(cause error) int
	// Close shuts down the toolbox
	Close(ctx context.Context) error
	// Done is closed when the toolbox is closed or crashed
	Done() <-chan struct{}
	// Err returns the reason the toolbox is done
	Err() error
}

// Callback receives the agent events
type Callback interface {
	OnAgentStart(ctx context.Context, agent string, input string)
	OnAgentEnd(ctx context.Context, agent string, input string, answer string, conv chatmodel.Conversation)
	OnAgentError(ctx context.Context, agent string, input string, err error, conv chatmodel.Conversation)
	OnDecisionStart(ctx context.Context, agent string, model string, conv chatmodel.Conversation)
	OnDecisionEnd(ctx context.Context, agent string, model string, decision *chatmodel.Decision)
	OnToolStart(ctx context.Context, agent string, req *tools.CallRequest)
	// OnToolEnd is called when the tool returned a result, including a tool-level failure
	OnToolEnd(ctx context.Context, agent string, req *tools.CallRequest, res *tools.CallResult)
	OnToolError(ctx context.Context, agent string, req *tools.CallRequest, err error)
	OnToolNotFound(ctx context.Context, agent string, req *tools.CallRequest)
	OnToolInvalid(ctx context.Context, agent string, req *tools.CallRequest, err error)
}

// State of the Agent
type State int32

const (
	StateIdle State = iota
	StateAwaitingModel
	StateAwaitingTool
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateAwaitingTool:
		return "awaiting_tool"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Result of a successful run
type Result struct {
	// Answer is the final answer of the model
	Answer string
	// Conversation is the full conversation, including the loaded history
	Conversation chatmodel.Conversation
	// Steps is the number of decisions taken
	Steps int
	// ToolCalls is the number of dispatched tool calls
	ToolCalls int
	Usage     chatmodel.Usage
}
