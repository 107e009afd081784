package transport_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/pkg/mcperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch transport.Channel) ([]*transport.Message, []error) {
	t.Helper()
	var msgs []*transport.Message
	var errs []error
	for msg, err := range ch.Receive() {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, errs
}

func TestDecode(t *testing.T) {
	tcases := []struct {
		frame string
		kind  transport.Kind
		err   string
	}{
		{`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, transport.KindRequest, ""},
		{`{"jsonrpc":"2.0","method":"notifications/initialized"}`, transport.KindNotification, ""},
		{`{"jsonrpc":"2.0","id":"abc","result":{}}`, transport.KindResponse, ""},
		{`{"jsonrpc":"2.0","id":7,"result":null}`, transport.KindResponse, ""},
		{`{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"nope"}}`, transport.KindError, ""},
		{`{"jsonrpc":"1.0","id":2,"result":{}}`, transport.KindInvalid, `unsupported jsonrpc version "1.0"`},
		{`{"jsonrpc":"2.0"}`, transport.KindInvalid, "message is neither request, notification nor response"},
		{`not json`, transport.KindInvalid, "invalid character 'o' in literal null (expecting 'u')"},
	}
	for _, tc := range tcases {
		t.Run(tc.frame, func(t *testing.T) {
			msg, err := transport.Decode([]byte(tc.frame))
			if tc.err != "" {
				assert.EqualError(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.kind, msg.Kind())
			assert.NotEmpty(t, msg.Kind().String())
		})
	}
}

func TestRequestID(t *testing.T) {
	js, err := json.Marshal(transport.NewRequestID(42))
	require.NoError(t, err)
	assert.Equal(t, "42", string(js))

	js, err = json.Marshal(transport.NewStringRequestID("req-1"))
	require.NoError(t, err)
	assert.Equal(t, `"req-1"`, string(js))

	var id transport.RequestID
	require.NoError(t, json.Unmarshal([]byte(`"x"`), &id))
	_, isNum := id.Int64()
	assert.False(t, isNum)
	assert.Equal(t, "x", id.String())

	require.NoError(t, json.Unmarshal([]byte(`17`), &id))
	n, isNum := id.Int64()
	assert.True(t, isNum)
	assert.Equal(t, int64(17), n)

	assert.Error(t, json.Unmarshal([]byte(`{}`), &id))
}

func TestMessageBuilders(t *testing.T) {
	req, err := transport.NewRequest(transport.NewRequestID(1), "tools/call", map[string]any{"name": "getBalance"})
	require.NoError(t, err)
	assert.Equal(t, transport.KindRequest, req.Kind())
	assert.JSONEq(t, `{"name":"getBalance"}`, string(req.Params))

	n, err := transport.NewNotification("notifications/initialized", nil)
	require.NoError(t, err)
	assert.Equal(t, transport.KindNotification, n.Kind())
	assert.Nil(t, n.Params)

	resp, err := transport.NewResponse(transport.NewRequestID(1), struct{}{})
	require.NoError(t, err)
	assert.Equal(t, transport.KindResponse, resp.Kind())

	e := transport.NewErrorResponse(transport.NewRequestID(1), transport.CodeMethodNotFound, "method not found")
	assert.Equal(t, transport.KindError, e.Kind())
	assert.EqualError(t, e.Error, "RPC error -32601: method not found")

	_, err = transport.NewRequest(transport.NewRequestID(2), "x", make(chan int))
	assert.Error(t, err)
}

func TestStreamChannel_Receive(t *testing.T) {
	big := strings.Repeat("a", 1<<20)
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`,
		``,
		`  {"jsonrpc":"2.0","method":"notifications/message","params":{"data":"` + big + `"}}  `,
		`{"jsonrpc":"2.0","id":2,"result":{}}`,
	}, "\n")

	ch := transport.NewStreamChannel(strings.NewReader(input), &bytes.Buffer{})
	msgs, errs := collect(t, ch)
	assert.Empty(t, errs)
	require.Len(t, msgs, 3)
	assert.Equal(t, transport.KindResponse, msgs[0].Kind())
	assert.Equal(t, transport.KindNotification, msgs[1].Kind())
	assert.Greater(t, len(msgs[1].Params), 1<<20)
	assert.Equal(t, "2", msgs[2].ID.String())
}

func TestStreamChannel_ParsePolicy(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"result":{}}` + "\n" +
		`garbage` + "\n" +
		`{"jsonrpc":"2.0","id":2,"result":{}}` + "\n"

	t.Run("fail fast", func(t *testing.T) {
		ch := transport.NewStreamChannel(strings.NewReader(input), &bytes.Buffer{})
		msgs, errs := collect(t, ch)
		assert.Len(t, msgs, 1)
		require.Len(t, errs, 1)
		assert.True(t, errors.Is(errs[0], mcperr.ErrProtocolParse))

		var perr *mcperr.ParseError
		require.True(t, errors.As(errs[0], &perr))
		assert.Equal(t, "garbage", string(perr.Frame))
	})

	t.Run("skip and log", func(t *testing.T) {
		ch := transport.NewStreamChannel(strings.NewReader(input), &bytes.Buffer{},
			transport.WithParsePolicy(transport.ParseSkipAndLog),
			transport.WithName("test"),
		)
		msgs, errs := collect(t, ch)
		assert.Empty(t, errs)
		assert.Len(t, msgs, 2)
	})

	assert.Equal(t, transport.ParseSkipAndLog, transport.ParsePolicyFromString("skip"))
	assert.Equal(t, transport.ParseFailFast, transport.ParsePolicyFromString(""))
	assert.Equal(t, "fail", transport.ParseFailFast.String())
}

func TestStreamChannel_Send(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	ch := transport.NewStreamChannel(strings.NewReader(""), &out)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := transport.NewRequest(transport.NewRequestID(int64(i)), "ping", nil)
			assert.NoError(t, err)
			assert.NoError(t, ch.Send(ctx, msg))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, uint64(20), ch.SentCount())

	scanner := bufio.NewScanner(&out)
	lines := 0
	for scanner.Scan() {
		msg, err := transport.Decode(scanner.Bytes())
		require.NoError(t, err)
		assert.Equal(t, "ping", msg.Method)
		lines++
	}
	assert.Equal(t, 20, lines)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	msg, _ := transport.NewNotification("x", nil)
	err := ch.Send(cctx, msg)
	assert.True(t, errors.Is(err, mcperr.ErrCancelled))

	require.NoError(t, ch.Close())
	assert.True(t, ch.IsClosed())
	err = ch.Send(ctx, msg)
	assert.True(t, errors.Is(err, mcperr.ErrChannelClosed))
	assert.Equal(t, uint64(20), ch.SentCount())

	// second close is a no-op
	assert.NoError(t, ch.Close())
}
