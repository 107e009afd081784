package callbacks_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/effective-security/mcpagent/callbacks"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/mocks/mockengine"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/xlog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

var (
	req = &tools.CallRequest{ID: "call-1", Name: "sendMoney", Arguments: map[string]any{"amount": 1, "payee": "alice"}}
	res = &tools.CallResult{ID: "call-1", Name: "sendMoney", Content: []tools.Content{tools.TextContent("sent")}}
)

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	cb := callbacks.NewPrinter(&buf, callbacks.ModeVerbose)
	ctx := context.Background()
	conv := chatmodel.Conversation{chatmodel.NewUserTurn("test input")}

	cb.OnAgentStart(ctx, "test-agent", "test input")
	cb.OnDecisionStart(ctx, "test-agent", "claude", conv)
	cb.OnDecisionEnd(ctx, "test-agent", "claude", &chatmodel.Decision{ToolCalls: []*tools.CallRequest{req}})
	cb.OnToolStart(ctx, "test-agent", req)
	cb.OnToolEnd(ctx, "test-agent", req, res)
	cb.OnToolError(ctx, "test-agent", req, errors.New("test error"))
	cb.OnToolNotFound(ctx, "test-agent", &tools.CallRequest{Name: "missing"})
	cb.OnToolInvalid(ctx, "test-agent", req, errors.New("amount is required"))
	cb.OnAgentEnd(ctx, "test-agent", "test input", "test output", conv)
	cb.OnAgentError(ctx, "test-agent", "test input", errors.New("test error"), conv)

	out := buf.String()
	assert.Contains(t, out, "Agent Start: test-agent")
	assert.Contains(t, out, "Input: test input")
	assert.Contains(t, out, "Decision: test-agent: claude model, 1 turns")
	assert.Contains(t, out, "Decision End: test-agent: claude model, 1 tool calls")
	assert.Contains(t, out, `  - sendMoney({"amount":1,"payee":"alice"})`)
	assert.Contains(t, out, "Tool Start: sendMoney (test-agent)")
	assert.Contains(t, out, `Input: {"amount":1,"payee":"alice"}`)
	assert.Contains(t, out, "Tool End: sendMoney (test-agent): success")
	assert.Contains(t, out, "Output: sent")
	assert.Contains(t, out, "Tool Error: sendMoney (test-agent): test error")
	assert.Contains(t, out, "Tool Not Found: missing (test-agent)")
	assert.Contains(t, out, "Tool Invalid: sendMoney (test-agent): amount is required")
	assert.Contains(t, out, "Agent End: test-agent, 1 turns\ntest output\n")
	assert.Contains(t, out, "Agent Error: test-agent: test error")

	buf.Reset()
	cb = callbacks.NewPrinter(&buf, callbacks.ModeDefault)
	cb.OnToolEnd(ctx, "test-agent", req, res)
	cb.OnAgentEnd(ctx, "test-agent", "test input", "test output", conv)
	assert.Equal(t, "Tool End: sendMoney (test-agent): success\nAgent End: test-agent, 1 turns\n", buf.String())
}

func TestFanout(t *testing.T) {
	ctrl := gomock.NewController(t)
	m1 := mockengine.NewMockCallback(ctrl)
	m2 := mockengine.NewMockCallback(ctrl)

	ctx := context.Background()
	conv := chatmodel.Conversation{chatmodel.NewUserTurn("hi")}
	decision := &chatmodel.Decision{FinalAnswer: "hello"}
	errTest := errors.New("test error")

	for _, m := range []*mockengine.MockCallback{m1, m2} {
		m.EXPECT().OnAgentStart(ctx, "a", "hi")
		m.EXPECT().OnAgentEnd(ctx, "a", "hi", "hello", conv)
		m.EXPECT().OnAgentError(ctx, "a", "hi", errTest, conv)
		m.EXPECT().OnDecisionStart(ctx, "a", "model", conv)
		m.EXPECT().OnDecisionEnd(ctx, "a", "model", decision)
		m.EXPECT().OnToolStart(ctx, "a", req)
		m.EXPECT().OnToolEnd(ctx, "a", req, res)
		m.EXPECT().OnToolError(ctx, "a", req, errTest)
		m.EXPECT().OnToolNotFound(ctx, "a", req)
		m.EXPECT().OnToolInvalid(ctx, "a", req, errTest)
	}

	cb := callbacks.NewFanout(m1, callbacks.NewNoop())
	cb.Add(m2)
	cb.Add(callbacks.NewPackageLogger(xlog.NewPackageLogger("github.com/effective-security/mcpagent", "callbacks_test")))

	cb.OnAgentStart(ctx, "a", "hi")
	cb.OnAgentEnd(ctx, "a", "hi", "hello", conv)
	cb.OnAgentError(ctx, "a", "hi", errTest, conv)
	cb.OnDecisionStart(ctx, "a", "model", conv)
	cb.OnDecisionEnd(ctx, "a", "model", decision)
	cb.OnToolStart(ctx, "a", req)
	cb.OnToolEnd(ctx, "a", req, res)
	cb.OnToolError(ctx, "a", req, errTest)
	cb.OnToolNotFound(ctx, "a", req)
	cb.OnToolInvalid(ctx, "a", req, errTest)
}
