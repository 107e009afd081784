package callbacks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChatContext(chatID string) (context.Context, chatmodel.ChatContext) {
	chatCtx := chatmodel.NewChatContext(chatID, nil)
	ctx := chatmodel.WithChatContext(context.Background(), chatCtx)
	return ctx, chatCtx
}

func TestScratchpad_StartRun_EndRun(t *testing.T) {
	t.Parallel()
	sp := NewScratchpad(ModeVerbose)
	ctx, cctx := newTestChatContext("chat1")
	sp.StartRun(ctx)

	r := sp.runs[cctx.GetChatID()]
	require.NotNil(t, r)
	r.stats.AgentCalls = 2
	r.stats.AgentCallsFailed = 1
	r.stats.ToolsCalls = 3
	r.stats.ToolsCallsFailed = 2
	r.stats.ToolNotFound = 1
	r.stats.Decisions = 1
	r.stats.TotalTurns = 4
	r.stats.LLMBytesOut = 10

	stats, buf := sp.EndRun(ctx)
	require.NotNil(t, stats)
	assert.Equal(t, "chat1", stats.ChatID)
	assert.Equal(t, cctx.RunID(), stats.RunID)
	out := string(buf)
	assert.Contains(t, out, "Run Started")
	assert.Contains(t, out, "Run Ended")
	assert.Contains(t, out, "Agent calls: 2, Failed: 1")
	assert.Contains(t, out, "Tool calls: 3, Failed: 2, Not Found: 1, Invalid: 0")
	assert.Contains(t, out, "Decisions: 1, Turns: 4, Bytes Out: 10")

	_, ok := sp.runs[cctx.GetChatID()]
	assert.False(t, ok)

	s2, _ := sp.EndRun(ctx)
	assert.Nil(t, s2)
}

func TestScratchpad_getRun_nil(t *testing.T) {
	t.Parallel()
	sp := NewScratchpad(ModeDefault)
	assert.Nil(t, sp.getRun(context.Background()))

	ctx, _ := newTestChatContext("chat2")
	assert.Nil(t, sp.getRun(ctx))

	// no chat context, nothing is started
	sp.StartRun(context.Background())
	assert.Empty(t, sp.runs)
}

func TestScratchpad_OnCallbacks(t *testing.T) {
	t.Parallel()
	sp := NewScratchpad(ModeVerbose)
	ctx, _ := newTestChatContext("chat3")
	sp.StartRun(ctx)

	req := &tools.CallRequest{ID: "1", Name: "T1", Arguments: map[string]any{"a": 1}}
	ok := &tools.CallResult{ID: "1", Name: "T1", Content: []tools.Content{tools.TextContent("toutput")}}
	failed := tools.NewErrorResult(req, "boom")
	conv := chatmodel.Conversation{
		chatmodel.NewUserTurn("input"),
		chatmodel.NewModelTurn("", req),
		chatmodel.NewToolTurn(ok),
	}

	sp.OnAgentStart(ctx, "A1", "input")
	sp.OnDecisionStart(ctx, "A1", "M1", conv)
	sp.OnDecisionEnd(ctx, "A1", "M1", &chatmodel.Decision{
		ToolCalls: []*tools.CallRequest{req},
		Usage:     &chatmodel.Usage{InputTokens: 10, OutputTokens: 5},
	})
	sp.OnToolStart(ctx, "A1", req)
	sp.OnToolEnd(ctx, "A1", req, ok)
	sp.OnToolEnd(ctx, "A1", req, failed)
	sp.OnToolError(ctx, "A1", req, errors.New("terr"))
	sp.OnToolNotFound(ctx, "A1", &tools.CallRequest{Name: "T2"})
	sp.OnToolInvalid(ctx, "A1", req, errors.New("invalid"))
	sp.OnAgentError(ctx, "A1", "input", errors.New("fail"), conv)
	sp.OnAgentEnd(ctx, "A1", "input", "answer", conv)

	stats, output := sp.EndRun(ctx)
	require.NotNil(t, stats)
	assert.Equal(t, uint32(1), stats.AgentCalls)
	assert.Equal(t, uint32(1), stats.AgentCallsSucceeded)
	assert.Equal(t, uint32(1), stats.AgentCallsFailed)
	assert.Equal(t, uint32(1), stats.Decisions)
	assert.Equal(t, uint32(3), stats.TotalTurns)
	assert.Equal(t, uint64(10), stats.LLMInputTokens)
	assert.Equal(t, uint64(5), stats.LLMOutputTokens)
	assert.Equal(t, uint32(1), stats.ToolsCalls)
	assert.Equal(t, uint32(1), stats.ToolsCallsSucceeded)
	assert.Equal(t, uint32(2), stats.ToolsCallsFailed)
	assert.Equal(t, uint32(1), stats.ToolNotFound)
	assert.Equal(t, uint32(1), stats.ToolInvalid)
	assert.Greater(t, stats.LLMBytesOut, uint64(0))

	out := string(output)
	assert.Contains(t, out, "A1 *** Agent Start ***")
	assert.Contains(t, out, "A1 *** Agent End ***")
	assert.Contains(t, out, "A1 Tools used: T1\n")
	assert.Contains(t, out, "M1 model, 3 turns")
	assert.Contains(t, out, "M1 model, 1 tool calls, 10 input tokens, 5 output tokens")
	assert.Contains(t, out, "A1 T1 *** Tool Start ***")
	assert.Contains(t, out, `A1 T1 Input: {"a":1}`)
	assert.Contains(t, out, "A1 T1 Output: toutput")
	assert.Contains(t, out, "A1 T1 *** Tool End *** success")
	assert.Contains(t, out, "A1 T1 *** Tool End *** error")
	assert.Contains(t, out, "A1 T1 *** Tool Error *** terr")
	assert.Contains(t, out, "A1 *** Tool Not Found *** T2")
	assert.Contains(t, out, "A1 T1 *** Tool Invalid *** invalid")
	assert.Contains(t, out, "A1 *** Error *** fail")
	assert.Contains(t, out, `  - T1({"a":1})`)

	// no run: callbacks are ignored
	sp.OnAgentStart(ctx, "A1", "input")
	sp.OnAgentEnd(ctx, "A1", "input", "answer", conv)
	sp.OnAgentError(ctx, "A1", "input", errors.New("fail2"), conv)
	sp.OnDecisionStart(ctx, "A1", "M1", conv)
	sp.OnDecisionEnd(ctx, "A1", "M1", &chatmodel.Decision{FinalAnswer: "x"})
	sp.OnToolStart(ctx, "A1", req)
	sp.OnToolEnd(ctx, "A1", req, ok)
	sp.OnToolError(ctx, "A1", req, errors.New("terr2"))
	sp.OnToolNotFound(ctx, "A1", req)
	sp.OnToolInvalid(ctx, "A1", req, errors.New("invalid2"))
	assert.Empty(t, sp.runs)
}

func TestRun_Print(t *testing.T) {
	saved := TimeNowFn
	TimeNowFn = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	defer func() { TimeNowFn = saved }()

	_, cctx := newTestChatContext("chat4")
	r := &run{chatCtx: cctx}
	r.print("a", "b")
	assert.Equal(t, "2025-01-02 03:04:05 chat4."+cctx.RunID()+" a b\n", string(r.bytes()))
}
