package process_test

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/process"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/pkg/mcperr"
	"github.com/effective-security/xlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "PROCESS_TEST_HELPER"

func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
	case "echo":
		echo()
		os.Exit(0)
	case "env":
		fmt.Printf(`{"jsonrpc":"2.0","method":"env","params":{"value":%q}}`+"\n", os.Getenv("HELPER_VALUE"))
		os.Exit(0)
	case "stubborn":
		// ignores stdin EOF
		time.Sleep(time.Minute)
		os.Exit(0)
	}

	xlog.SetFormatter(xlog.NewStringFormatter(os.Stdout))
	xlog.SetGlobalLogLevel(xlog.DEBUG)
	os.Exit(m.Run())
}

func echo() {
	fmt.Fprintln(os.Stderr, "echo helper ready")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}
}

func helper(mode string) *process.Descriptor {
	return &process.Descriptor{
		Name:    "helper-" + mode,
		Command: os.Args[0],
		Args:    []string{"-test.run=^$"},
		Env:     map[string]string{helperEnv: mode},
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStart_SpawnErrors(t *testing.T) {
	ctx := context.Background()

	tcases := []struct {
		name string
		desc *process.Descriptor
	}{
		{"nil", nil},
		{"no command", &process.Descriptor{}},
		{"not found", &process.Descriptor{Command: "/nonexistent/mcp-server"}},
		{"bad dir", &process.Descriptor{Command: os.Args[0], Dir: "/nonexistent/dir"}},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := process.Start(ctx, tc.desc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, mcperr.ErrSpawn), "%+v", err)
		})
	}

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := process.Start(cctx, helper("echo"))
		assert.True(t, errors.Is(err, mcperr.ErrSpawn))
		assert.True(t, errors.Is(err, mcperr.ErrCancelled))
	})
}

func TestDescriptor(t *testing.T) {
	d := &process.Descriptor{
		Command: "node",
		Env:     map[string]string{"B": "2", "A": "1"},
	}
	assert.Equal(t, "node", d.DisplayName())
	env := d.Environ()
	require.GreaterOrEqual(t, len(env), 2)
	assert.Equal(t, []string{"A=1", "B=2"}, env[len(env)-2:])

	d.Name = "payments"
	assert.Equal(t, "payments", d.DisplayName())
}

func TestProcess_EchoAndStop(t *testing.T) {
	ctx := context.Background()
	stderr := &syncBuffer{}
	p, err := process.Start(ctx, helper("echo"), process.WithStderr(stderr))
	require.NoError(t, err)
	assert.NotZero(t, p.Pid())
	assert.Equal(t, "helper-echo", p.Descriptor().Name)
	assert.False(t, p.Exited())
	assert.NoError(t, p.ExitErr())

	msg, err := transport.NewRequest(transport.NewRequestID(1), "ping", nil)
	require.NoError(t, err)
	require.NoError(t, p.Channel().Send(ctx, msg))
	assert.Equal(t, uint64(1), p.Channel().SentCount())

	for got, err := range p.Channel().Receive() {
		require.NoError(t, err)
		assert.Equal(t, "ping", got.Method)
		assert.Equal(t, "1", got.ID.String())
		break
	}

	require.NoError(t, p.Stop(time.Second))
	assert.True(t, p.Stopping())
	assert.True(t, p.Exited())
	<-p.Done()

	// idempotent
	assert.NoError(t, p.Stop(time.Second))

	err = p.Channel().Send(ctx, msg)
	assert.True(t, errors.Is(err, mcperr.ErrChannelClosed))

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(stderr.String()), []byte("echo helper ready"))
	}, 5*time.Second, 10*time.Millisecond)
}

func TestProcess_Env(t *testing.T) {
	desc := helper("env")
	desc.Env["HELPER_VALUE"] = "from-descriptor"

	p, err := process.Start(context.Background(), desc)
	require.NoError(t, err)
	defer p.Stop(time.Second)

	var got *transport.Message
	for msg, err := range p.Channel().Receive() {
		require.NoError(t, err)
		got = msg
	}
	require.NotNil(t, got)
	assert.JSONEq(t, `{"value":"from-descriptor"}`, string(got.Params))
}

func TestProcess_StopKillsAfterTimeout(t *testing.T) {
	p, err := process.Start(context.Background(), helper("stubborn"))
	require.NoError(t, err)

	started := time.Now()
	require.NoError(t, p.Stop(200*time.Millisecond))
	assert.True(t, p.Exited())
	assert.Less(t, time.Since(started), 30*time.Second)
	assert.Error(t, p.ExitErr())
}

func TestProcess_Kill(t *testing.T) {
	p, err := process.Start(context.Background(), helper("echo"))
	require.NoError(t, err)

	require.NoError(t, p.Kill())
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.False(t, p.Stopping())
	assert.Error(t, p.ExitErr())

	// the stream ends once the child is gone
	for _, err := range p.Channel().Receive() {
		assert.NoError(t, err)
	}
	assert.NoError(t, p.Kill())
	assert.NoError(t, p.Stop(time.Second))
}
