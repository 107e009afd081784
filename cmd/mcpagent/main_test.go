package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/effective-security/mcpagent/assistants"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/config"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/mcptest"
	"github.com/effective-security/mcpagent/mcp/process"
	"github.com/effective-security/mcpagent/pkg/llmfactory"
	"github.com/effective-security/mcpagent/tools"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if mcptest.IsHelper() {
		os.Exit(mcptest.RunHelper())
	}
	os.Exit(m.Run())
}

// balanceEngine asks for the balance, then answers with the tool output
type balanceEngine struct{}

func (balanceEngine) Name() string {
	return "balance"
}

func (balanceEngine) Decide(_ context.Context, conv chatmodel.Conversation, _ []*tools.Descriptor) (*chatmodel.Decision, error) {
	last := conv.Last()
	if last.Role == chatmodel.RoleTool {
		return &chatmodel.Decision{FinalAnswer: "Your " + strings.ToLower(last.Content)}, nil
	}
	return &chatmodel.Decision{
		ToolCalls: []*tools.CallRequest{{ID: "call_1", Name: "getBalance"}},
	}, nil
}

func writeConfig(t *testing.T) string {
	t.Helper()
	cfg := &config.Config{
		Servers: []*process.Descriptor{mcptest.Descriptor(mcptest.ScenarioNormal)},
		LLM: llmfactory.Config{
			Providers: []*llmfactory.ProviderConfig{
				{Name: "anthropic", Type: llmfactory.ProviderAnthropic, DefaultModel: "claude-sonnet-4-5"},
			},
		},
	}
	js, err := json.Marshal(cfg)
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "mcpagent.json")
	require.NoError(t, os.WriteFile(file, js, 0o600))
	return file
}

// lockedBuffer is written by the child stderr copier and the printer
type lockedBuffer struct {
	lock sync.Mutex
	buf  bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.String()
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr lockedBuffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestTools(t *testing.T) {
	file := writeConfig(t)

	out, _, err := execute(t, "tools", "-c", file)
	require.NoError(t, err)
	assert.Contains(t, out, "- setApiKey:")
	assert.Contains(t, out, "- sendMoney:")
	assert.Contains(t, out, "- searchPayees:")
	assert.Contains(t, out, "- getBalance:")
	assert.Contains(t, out, "4 tools, fingerprint")

	out, _, err = execute(t, "tools", "-c", file, "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "```json")
	assert.Contains(t, out, `"Name": "sendMoney"`)

	_, _, err = execute(t, "tools", "-c", file, "-s", "weather")
	assert.EqualError(t, err, "server not found: weather")

	_, _, err = execute(t, "tools", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to load config")
}

func TestServerConfig_WithSession(t *testing.T) {
	// spare capacity must not be written by the per-command options
	opts := make([]mcp.Option, 1, 4)
	opts[0] = mcp.WithStartupTimeout(10 * time.Second)
	srv := &serverConfig{
		desc: mcptest.Descriptor(mcptest.ScenarioNormal),
		opts: opts,
	}

	var stderr lockedBuffer
	cmd := &cobra.Command{}
	cmd.SetErr(&stderr)

	for range 2 {
		err := srv.withSession(context.Background(), cmd, func(_ context.Context, session *mcp.Session) error {
			assert.Equal(t, mcp.StateReady, session.State())
			return nil
		})
		require.NoError(t, err)
	}
	assert.Len(t, srv.opts, 1)
	assert.Nil(t, srv.opts[:cap(srv.opts)][1])
}

func TestCall(t *testing.T) {
	file := writeConfig(t)

	out, _, err := execute(t, "call", "-c", file, "getBalance")
	require.NoError(t, err)
	assert.Equal(t, "Balance: $100.00\n", out)

	out, _, err = execute(t, "call", "-c", file, "-v", "searchPayees", `{"query":"alice","limit":1}`)
	require.NoError(t, err)
	assert.Contains(t, out, "alice\n")
	assert.Contains(t, out, `"payees"`)

	out, _, err = execute(t, "call", "-c", file, "sendMoney", `{"amount":1,"payee":"alice"}`)
	assert.EqualError(t, err, "tool sendMoney failed")
	assert.Contains(t, out, "API key is not set")

	_, _, err = execute(t, "call", "-c", file, "sendMoney", `{"amount":`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")

	_, _, err = execute(t, "call", "-c", file, "deleteAccount")
	require.Error(t, err)
}

func TestRun(t *testing.T) {
	llmfactory.NewEngine = func(*llmfactory.ProviderConfig, ...string) (assistants.DecisionEngine, error) {
		return balanceEngine{}, nil
	}
	t.Cleanup(func() {
		llmfactory.NewEngine = llmfactory.CreateEngine
	})
	file := writeConfig(t)

	out, stderr, err := execute(t, "run", "-c", file, "-v", "what", "is", "my", "balance?")
	require.NoError(t, err)
	assert.Equal(t, "Your balance: $100.00\n", out)
	assert.Contains(t, stderr, "Agent Start: agent")
	assert.Contains(t, stderr, "Tool Start: getBalance (agent)")
	assert.Contains(t, stderr, "agent Tools used: getBalance\n")
	assert.Contains(t, stderr, "*** Run Ended.")
	assert.Contains(t, stderr, "Chat: ")

	_, _, err = execute(t, "run", "-c", file)
	require.Error(t, err)
}
