package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/mcpagent/assistants"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/tools"
)

// ensure Scratchpad implements assistants.Callback
var _ assistants.Callback = (*Scratchpad)(nil)

var TimeNowFn = time.Now

type RunStats struct {
	ChatID string
	RunID  string

	Duration            time.Duration
	TotalTurns          uint32
	LLMBytesOut         uint64
	LLMInputTokens      uint64
	LLMOutputTokens     uint64
	AgentCalls          uint32
	AgentCallsSucceeded uint32
	AgentCallsFailed    uint32
	Decisions           uint32
	ToolsCalls          uint32
	ToolsCallsSucceeded uint32
	ToolsCallsFailed    uint32
	ToolNotFound        uint32
	ToolInvalid         uint32
}

// Scratchpad is a callback handler that records the events of the runs
// and collects their stats, keyed by the chat ID.
type Scratchpad struct {
	runs map[string]*run
	mode Mode
	lock sync.Mutex
}

func NewScratchpad(mode Mode) *Scratchpad {
	return &Scratchpad{
		runs: make(map[string]*run),
		mode: mode,
	}
}

func (l *Scratchpad) StartRun(ctx context.Context) {
	l.lock.Lock()
	defer l.lock.Unlock()

	chatCtx := chatmodel.GetChatContext(ctx)
	if chatCtx == nil {
		return
	}
	r := &run{
		stats: RunStats{
			ChatID: chatCtx.GetChatID(),
			RunID:  chatCtx.RunID(),
		},
		chatCtx: chatCtx,
		started: TimeNowFn(),
	}
	l.runs[chatCtx.GetChatID()] = r

	r.print("*** Run Started ***")
}

func (l *Scratchpad) EndRun(ctx context.Context) (*RunStats, []byte) {
	run := l.getRun(ctx)
	if run == nil {
		return nil, nil
	}

	stats := run.snapshot()
	stats.Duration = TimeNowFn().Sub(run.started)

	run.print(fmt.Sprintf("Agent calls: %d, Failed: %d",
		stats.AgentCalls,
		stats.AgentCallsFailed,
	))
	run.print(fmt.Sprintf("Tool calls: %d, Failed: %d, Not Found: %d, Invalid: %d",
		stats.ToolsCalls,
		stats.ToolsCallsFailed,
		stats.ToolNotFound,
		stats.ToolInvalid,
	))
	run.print(fmt.Sprintf("Decisions: %d, Turns: %d, Bytes Out: %d, Input Tokens: %d, Output Tokens: %d, Total Tokens: %d",
		stats.Decisions,
		stats.TotalTurns,
		stats.LLMBytesOut,
		stats.LLMInputTokens,
		stats.LLMOutputTokens,
		stats.LLMInputTokens+stats.LLMOutputTokens,
	))

	run.print(fmt.Sprintf("*** Run Ended. Duration: %s ***", stats.Duration))

	l.lock.Lock()
	delete(l.runs, run.chatCtx.GetChatID())
	l.lock.Unlock()

	return &stats, run.bytes()
}

func (l *Scratchpad) getRun(ctx context.Context) *run {
	l.lock.Lock()
	defer l.lock.Unlock()

	chatCtx := chatmodel.GetChatContext(ctx)
	if chatCtx == nil {
		return nil
	}

	return l.runs[chatCtx.GetChatID()]
}

func (l *Scratchpad) OnAgentStart(ctx context.Context, agent string, input string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.AgentCalls, 1)
	run.print(agent, "*** Agent Start ***")
	run.print(agent, "Input:", input)
}

func (l *Scratchpad) OnAgentEnd(ctx context.Context, agent string, input string, answer string, conv chatmodel.Conversation) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.AgentCallsSucceeded, 1)

	if calls := conv.ToolCalls(); len(calls) > 0 {
		names := make([]string, len(calls))
		for i, c := range calls {
			names[i] = c.Name
		}
		run.print(agent, "Tools used:", strings.Join(names, ", "))
	}
	if l.mode == ModeVerbose {
		run.print(agent, "Output:", answer)
		run.print(agent, printConversation(conv))
	}
	run.print(agent, "*** Agent End ***")
}

func (l *Scratchpad) OnAgentError(ctx context.Context, agent string, input string, err error, conv chatmodel.Conversation) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.AgentCallsFailed, 1)
	run.print(agent, "*** Error ***", err.Error())
	run.print(agent, printConversation(conv))
}

func (l *Scratchpad) OnDecisionStart(ctx context.Context, agent string, model string, conv chatmodel.Conversation) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	count := uint32(len(conv))
	atomic.AddUint64(&run.stats.LLMBytesOut, conversationSize(conv))
	atomic.AddUint32(&run.stats.Decisions, 1)
	atomic.AddUint32(&run.stats.TotalTurns, count)

	run.print(agent, "*** Decision ***", fmt.Sprintf("%s model, %d turns", model, count))
	if l.mode == ModeVerbose {
		run.print(agent, printConversation(conv))
	}
}

func (l *Scratchpad) OnDecisionEnd(ctx context.Context, agent string, model string, decision *chatmodel.Decision) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	var in, out int64
	if decision.Usage != nil {
		in, out = decision.Usage.InputTokens, decision.Usage.OutputTokens
	}
	atomic.AddUint64(&run.stats.LLMInputTokens, uint64(in))
	atomic.AddUint64(&run.stats.LLMOutputTokens, uint64(out))

	outcome := "final answer"
	if !decision.IsFinal() {
		outcome = fmt.Sprintf("%d tool calls", len(decision.ToolCalls))
	}
	run.print(agent, "*** Decision End ***", fmt.Sprintf("%s model, %s, %d input tokens, %d output tokens", model, outcome, in, out))
}

func (l *Scratchpad) OnToolStart(ctx context.Context, agent string, req *tools.CallRequest) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCalls, 1)
	run.print(agent, req.Name, "*** Tool Start ***")
	run.print(agent, req.Name, "Input:", req.ArgumentsJSON())
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, agent string, req *tools.CallRequest, res *tools.CallResult) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	if res.Failed() {
		atomic.AddUint32(&run.stats.ToolsCallsFailed, 1)
	} else {
		atomic.AddUint32(&run.stats.ToolsCallsSucceeded, 1)
	}
	if l.mode == ModeVerbose {
		run.print(agent, req.Name, "Output:", res.Text())
	}
	run.print(agent, req.Name, "*** Tool End ***", res.Kind.String())
}

func (l *Scratchpad) OnToolError(ctx context.Context, agent string, req *tools.CallRequest, err error) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCallsFailed, 1)
	run.print(agent, req.Name, "*** Tool Error ***", err.Error())
}

func (l *Scratchpad) OnToolNotFound(ctx context.Context, agent string, req *tools.CallRequest) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolNotFound, 1)
	run.print(agent, "*** Tool Not Found ***", req.Name)
}

func (l *Scratchpad) OnToolInvalid(ctx context.Context, agent string, req *tools.CallRequest, err error) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolInvalid, 1)
	run.print(agent, req.Name, "*** Tool Invalid ***", err.Error())
}

func printConversation(conv chatmodel.Conversation) string {
	var buf strings.Builder
	buf.WriteString("Turns:\n")
	for idx, turn := range conv {
		fmt.Fprintf(&buf, "[%d] %s:\n", idx, turn.Role)
		for _, c := range turn.ToolCalls {
			buf.WriteString("  - ")
			buf.WriteString(c.String())
			buf.WriteString("\n")
		}
		for _, r := range turn.ToolResults {
			fmt.Fprintf(&buf, "  - %s: %s\n", r.Name, r.Kind)
		}
		fmt.Fprintf(&buf, "  - %d bytes, %d tool calls, %d tool results\n", len(turn.Content), len(turn.ToolCalls), len(turn.ToolResults))
	}
	return buf.String()
}

// conversationSize counts the size of the content sent to the model
func conversationSize(conv chatmodel.Conversation) uint64 {
	var size uint64
	for _, turn := range conv {
		size += uint64(len(turn.Role))
		size += uint64(len(turn.Content))
		for _, c := range turn.ToolCalls {
			size += uint64(len(c.ID))
			size += uint64(len(c.Name))
			size += uint64(len(c.ArgumentsJSON()))
		}
		for _, r := range turn.ToolResults {
			size += uint64(len(r.ID))
			size += uint64(len(r.Name))
			size += uint64(len(r.Structured))
		}
	}
	return size
}

type run struct {
	chatCtx chatmodel.ChatContext
	w       bytes.Buffer
	started time.Time
	lock    sync.Mutex
	stats   RunStats
}

func (r *run) snapshot() RunStats {
	return RunStats{
		ChatID:              r.stats.ChatID,
		RunID:               r.stats.RunID,
		TotalTurns:          atomic.LoadUint32(&r.stats.TotalTurns),
		LLMBytesOut:         atomic.LoadUint64(&r.stats.LLMBytesOut),
		LLMInputTokens:      atomic.LoadUint64(&r.stats.LLMInputTokens),
		LLMOutputTokens:     atomic.LoadUint64(&r.stats.LLMOutputTokens),
		AgentCalls:          atomic.LoadUint32(&r.stats.AgentCalls),
		AgentCallsSucceeded: atomic.LoadUint32(&r.stats.AgentCallsSucceeded),
		AgentCallsFailed:    atomic.LoadUint32(&r.stats.AgentCallsFailed),
		Decisions:           atomic.LoadUint32(&r.stats.Decisions),
		ToolsCalls:          atomic.LoadUint32(&r.stats.ToolsCalls),
		ToolsCallsSucceeded: atomic.LoadUint32(&r.stats.ToolsCallsSucceeded),
		ToolsCallsFailed:    atomic.LoadUint32(&r.stats.ToolsCallsFailed),
		ToolNotFound:        atomic.LoadUint32(&r.stats.ToolNotFound),
		ToolInvalid:         atomic.LoadUint32(&r.stats.ToolInvalid),
	}
}

func (r *run) bytes() []byte {
	r.lock.Lock()
	defer r.lock.Unlock()
	return bytes.Clone(r.w.Bytes())
}

// print writes the entries to the run's output.
// The entries are written in the following format:
// [timestamp chatID.runID] entry entry\n
func (r *run) print(entries ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := TimeNowFn()
	ts := now.Format("2006-01-02 15:04:05")

	_, _ = r.w.WriteString(ts)
	_, _ = r.w.WriteString(" ")
	_, _ = r.w.WriteString(r.chatCtx.GetChatID())
	_, _ = r.w.WriteString(".")
	_, _ = r.w.WriteString(r.chatCtx.RunID())
	_, _ = r.w.WriteString(" ")

	for i, entry := range entries {
		if i > 0 {
			_, _ = r.w.WriteString(" ")
		}
		_, _ = r.w.WriteString(entry)
	}
	_, _ = r.w.WriteString("\n")
}
