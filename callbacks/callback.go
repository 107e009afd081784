package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/mcpagent/assistants"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/pkg/llmutils"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ assistants.Callback = (*Noop)(nil)
	_ assistants.Callback = (*Printer)(nil)
	_ assistants.Callback = (*PackageLogger)(nil)
	_ assistants.Callback = (*Fanout)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []assistants.Callback
}

func NewFanout(callbacks ...assistants.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback assistants.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnAgentStart(ctx context.Context, agent string, input string) {
	for _, callback := range l.callbacks {
		callback.OnAgentStart(ctx, agent, input)
	}
}

func (l *Fanout) OnAgentEnd(ctx context.Context, agent string, input string, answer string, conv chatmodel.Conversation) {
	for _, callback := range l.callbacks {
		callback.OnAgentEnd(ctx, agent, input, answer, conv)
	}
}

func (l *Fanout) OnAgentError(ctx context.Context, agent string, input string, err error, conv chatmodel.Conversation) {
	for _, callback := range l.callbacks {
		callback.OnAgentError(ctx, agent, input, err, conv)
	}
}

func (l *Fanout) OnDecisionStart(ctx context.Context, agent string, model string, conv chatmodel.Conversation) {
	for _, callback := range l.callbacks {
		callback.OnDecisionStart(ctx, agent, model, conv)
	}
}

func (l *Fanout) OnDecisionEnd(ctx context.Context, agent string, model string, decision *chatmodel.Decision) {
	for _, callback := range l.callbacks {
		callback.OnDecisionEnd(ctx, agent, model, decision)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, agent string, req *tools.CallRequest) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, agent, req)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, agent string, req *tools.CallRequest, res *tools.CallResult) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, agent, req, res)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, agent string, req *tools.CallRequest, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, agent, req, err)
	}
}

func (l *Fanout) OnToolNotFound(ctx context.Context, agent string, req *tools.CallRequest) {
	for _, callback := range l.callbacks {
		callback.OnToolNotFound(ctx, agent, req)
	}
}

func (l *Fanout) OnToolInvalid(ctx context.Context, agent string, req *tools.CallRequest, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolInvalid(ctx, agent, req, err)
	}
}

// Noop does nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (l *Noop) OnAgentStart(context.Context, string, string) {}
func (l *Noop) OnAgentEnd(context.Context, string, string, string, chatmodel.Conversation) {
}
func (l *Noop) OnAgentError(context.Context, string, string, error, chatmodel.Conversation) {
}
func (l *Noop) OnDecisionStart(context.Context, string, string, chatmodel.Conversation) {}
func (l *Noop) OnDecisionEnd(context.Context, string, string, *chatmodel.Decision)     {}
func (l *Noop) OnToolStart(context.Context, string, *tools.CallRequest)                {}
func (l *Noop) OnToolEnd(context.Context, string, *tools.CallRequest, *tools.CallResult) {
}
func (l *Noop) OnToolError(context.Context, string, *tools.CallRequest, error)   {}
func (l *Noop) OnToolNotFound(context.Context, string, *tools.CallRequest)       {}
func (l *Noop) OnToolInvalid(context.Context, string, *tools.CallRequest, error) {}

// Printer is a callback handler that prints to the Writer.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnAgentStart(ctx context.Context, agent string, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Agent Start: %s\n", agent)
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *Printer) OnAgentEnd(ctx context.Context, agent string, input string, answer string, conv chatmodel.Conversation) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Agent End: %s, %d turns\n", agent, len(conv))
	if l.Mode == ModeVerbose {
		fmt.Fprint(l.Out, llmutils.EnsureEndsWithNewline(answer))
	}
}

func (l *Printer) OnAgentError(ctx context.Context, agent string, input string, err error, conv chatmodel.Conversation) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Agent Error: %s: %s\n", agent, err.Error())
}

func (l *Printer) OnDecisionStart(ctx context.Context, agent string, model string, conv chatmodel.Conversation) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Decision: %s: %s model, %d turns\n", agent, model, len(conv))
}

func (l *Printer) OnDecisionEnd(ctx context.Context, agent string, model string, decision *chatmodel.Decision) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Decision End: %s: %s model, %d tool calls\n", agent, model, len(decision.ToolCalls))
	if l.Mode == ModeVerbose {
		for _, c := range decision.ToolCalls {
			fmt.Fprintf(l.Out, "  - %s\n", c.String())
		}
	}
}

func (l *Printer) OnToolStart(ctx context.Context, agent string, req *tools.CallRequest) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s (%s)\n", req.Name, agent)
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Input: %s\n", req.ArgumentsJSON())
	}
}

func (l *Printer) OnToolEnd(ctx context.Context, agent string, req *tools.CallRequest, res *tools.CallResult) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool End: %s (%s): %s\n", req.Name, agent, res.Kind)
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Output: %s\n", res.Text())
	}
}

func (l *Printer) OnToolError(ctx context.Context, agent string, req *tools.CallRequest, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Error: %s (%s): %s\n", req.Name, agent, err.Error())
}

func (l *Printer) OnToolNotFound(ctx context.Context, agent string, req *tools.CallRequest) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Not Found: %s (%s)\n", req.Name, agent)
}

func (l *Printer) OnToolInvalid(ctx context.Context, agent string, req *tools.CallRequest, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Invalid: %s (%s): %s\n", req.Name, agent, err.Error())
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnAgentStart(ctx context.Context, agent string, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "agent_start",
		"agent", agent,
		"input", input,
	)
}

func (l *PackageLogger) OnAgentEnd(ctx context.Context, agent string, input string, answer string, conv chatmodel.Conversation) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "agent_end",
		"agent", agent,
		"turns", len(conv),
		"result", answer,
	)
}

func (l *PackageLogger) OnAgentError(ctx context.Context, agent string, input string, err error, conv chatmodel.Conversation) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "agent_error",
		"agent", agent,
		"turns", len(conv),
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnDecisionStart(ctx context.Context, agent string, model string, conv chatmodel.Conversation) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "decision_start",
		"agent", agent,
		"model", model,
		"turns", len(conv),
	)
}

func (l *PackageLogger) OnDecisionEnd(ctx context.Context, agent string, model string, decision *chatmodel.Decision) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "decision_end",
		"agent", agent,
		"model", model,
		"final", decision.IsFinal(),
		"tool_calls", len(decision.ToolCalls),
	)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, agent string, req *tools.CallRequest) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"agent", agent,
		"tool", req.Name,
		"call_id", req.ID,
		"input", req.ArgumentsJSON(),
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, agent string, req *tools.CallRequest, res *tools.CallResult) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"agent", agent,
		"tool", req.Name,
		"call_id", req.ID,
		"kind", res.Kind.String(),
		"elapsed", res.Duration.String(),
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, agent string, req *tools.CallRequest, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"agent", agent,
		"tool", req.Name,
		"call_id", req.ID,
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnToolNotFound(ctx context.Context, agent string, req *tools.CallRequest) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_not_found",
		"agent", agent,
		"tool", req.Name,
	)
}

func (l *PackageLogger) OnToolInvalid(ctx context.Context, agent string, req *tools.CallRequest, err error) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_invalid",
		"agent", agent,
		"tool", req.Name,
		"err", err.Error(),
	)
}
