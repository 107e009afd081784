package assistants_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/assistants"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/mcptest"
	"github.com/effective-security/mcpagent/mcp/transport/localtransport"
	"github.com/effective-security/mcpagent/mocks/mockengine"
	"github.com/effective-security/mcpagent/pkg/mcperr"
	"github.com/effective-security/mcpagent/store"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/xlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/mock/gomock"
)

var _ assistants.Toolbox = (*mcp.Session)(nil)

func TestMain(m *testing.M) {
	if mcptest.IsHelper() {
		os.Exit(mcptest.RunHelper())
	}

	xlog.SetFormatter(xlog.NewStringFormatter(os.Stdout))
	xlog.SetGlobalLogLevel(xlog.DEBUG)
	os.Exit(m.Run())
}

func call(name string, args map[string]any) *tools.CallRequest {
	return &tools.CallRequest{Name: name, Arguments: args}
}

func toolCalls(calls ...*tools.CallRequest) *chatmodel.Decision {
	return &chatmodel.Decision{ToolCalls: calls}
}

func final(answer string) *chatmodel.Decision {
	return &chatmodel.Decision{FinalAnswer: answer}
}

// scripted returns an engine that answers the decisions in order
func scripted(t *testing.T, decisions ...*chatmodel.Decision) *mockengine.MockDecisionEngine {
	t.Helper()
	engine := mockengine.NewMockDecisionEngine(gomock.NewController(t))
	engine.EXPECT().Name().Return("scripted").AnyTimes()

	var prev *gomock.Call
	for _, d := range decisions {
		c := engine.EXPECT().Decide(gomock.Any(), gomock.Any(), gomock.Any()).Return(d, nil)
		if prev != nil {
			c.After(prev)
		}
		prev = c
	}
	return engine
}

func openLocal(t *testing.T, srv localtransport.Handler, opts ...mcp.Option) (*mcp.Session, *localtransport.Channel) {
	t.Helper()
	ch := localtransport.New(srv)
	s, err := mcp.OpenChannel(context.Background(), "local", ch, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close(context.Background())
	})
	return s, ch
}

func roles(conv chatmodel.Conversation) []chatmodel.Role {
	list := make([]chatmodel.Role, len(conv))
	for i, turn := range conv {
		list[i] = turn.Role
	}
	return list
}

const (
	paymentsInput  = "set api key sk-test and send 1.00 to payee alice"
	paymentsAnswer = "API key set. Sent $1.00 to alice."
)

func paymentsScript() []*chatmodel.Decision {
	return []*chatmodel.Decision{
		toolCalls(call("setApiKey", map[string]any{"key": "sk-test"})),
		toolCalls(call("sendMoney", map[string]any{"amount": 1.00, "payee": "alice"})),
		final(paymentsAnswer),
	}
}

func TestRun_Payments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := mcp.Open(ctx, mcptest.Descriptor(mcptest.ScenarioNormal))
	require.NoError(t, err)
	defer s.Close(ctx)

	agent := assistants.NewAgent(scripted(t, paymentsScript()...), s, assistants.WithName("payments"))
	assert.Equal(t, assistants.StateIdle, agent.State())

	res, err := agent.Run(ctx, paymentsInput)
	require.NoError(t, err)
	assert.Equal(t, paymentsAnswer, res.Answer)
	assert.Contains(t, res.Answer, "API key set")
	assert.Contains(t, res.Answer, "Sent $1.00 to alice")
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, 2, res.ToolCalls)
	assert.Equal(t, assistants.StateDone, agent.State())
	assert.Equal(t, 0, s.PendingCount())

	conv := res.Conversation
	assert.Equal(t, []chatmodel.Role{
		chatmodel.RoleUser,
		chatmodel.RoleModel,
		chatmodel.RoleTool,
		chatmodel.RoleModel,
		chatmodel.RoleTool,
		chatmodel.RoleModel,
	}, roles(conv))
	assert.Equal(t, paymentsInput, conv[0].Content)
	assert.Equal(t, "API key set", conv[2].Content)
	assert.Equal(t, "Sent $1.00 to alice", conv[4].Content)
	assert.Equal(t, paymentsAnswer, conv[5].Content)
	assert.Contains(t, conv[5].Content, conv[2].Content)
	assert.Contains(t, conv[5].Content, conv[4].Content)

	first := conv[1].ToolCalls[0]
	second := conv[3].ToolCalls[0]
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.ID, conv[2].ToolResults[0].ID)
	assert.Equal(t, second.ID, conv[4].ToolResults[0].ID)

	transfer := conv[4].ToolResults[0].Structured
	assert.Equal(t, 1.0, gjson.GetBytes(transfer, "amount").Float())
	assert.Equal(t, "alice", gjson.GetBytes(transfer, "payee").String())
	assert.NotEmpty(t, gjson.GetBytes(transfer, "transferId").String())
}

func TestRun_SendCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, pay := mcptest.NewPayments()
	s, _ := openLocal(t, srv)

	agent := assistants.NewAgent(scripted(t, paymentsScript()...), s)
	res, err := agent.Run(ctx, paymentsInput)
	require.NoError(t, err)
	assert.Equal(t, paymentsAnswer, res.Answer)

	assert.Equal(t, 1, pay.SendCount())
	assert.Equal(t, mcptest.InitialBalance-1, pay.Balance())
	transfers := pay.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, "alice", transfers[0].Payee)
	assert.Equal(t, 1.0, transfers[0].Amount)
}

func TestRun_ToolFailureIsRecoverable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, pay := mcptest.NewPayments()
	s, _ := openLocal(t, srv)

	engine := scripted(t,
		toolCalls(call("sendMoney", map[string]any{"amount": 1.00, "payee": "alice"})),
		final("I need an API key first"),
	)
	agent := assistants.NewAgent(engine, s)
	res, err := agent.Run(ctx, "Send $1 to alice")
	require.NoError(t, err)
	assert.Equal(t, "I need an API key first", res.Answer)

	conv := res.Conversation
	require.Len(t, conv, 4)
	assert.Equal(t, chatmodel.ToolCallFailedPrefix+"API key is not set, call setApiKey first", conv[2].Content)
	assert.True(t, conv[2].ToolResults[0].Failed())
	assert.Equal(t, 0, pay.SendCount())
}

func TestStep_ValidationShortCircuit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, pay := mcptest.NewPayments()
	s, ch := openLocal(t, srv)
	sent := ch.SentCount()

	engine := scripted(t,
		toolCalls(call("sendMoney", map[string]any{"amount": "1.00", "payee": "alice"})),
	)
	agent := assistants.NewAgent(engine, s)

	conv, decision, err := agent.Step(ctx, chatmodel.Conversation{chatmodel.NewUserTurn("Send $1 to alice")})
	require.Error(t, err)
	assert.ErrorIs(t, err, mcperr.ErrArgumentValidation)
	assert.False(t, mcperr.IsFatal(err))
	require.NotNil(t, decision)
	assert.Equal(t, assistants.StateAwaitingModel, agent.State())

	require.Len(t, conv, 3)
	assert.True(t, strings.HasPrefix(conv[2].Content, chatmodel.ToolCallFailedPrefix), conv[2].Content)
	assert.Contains(t, conv[2].Content, "amount")

	assert.Equal(t, sent, ch.SentCount())
	assert.Equal(t, 0, srv.Calls("sendMoney"))
	assert.Equal(t, 0, pay.SendCount())
}

func TestStep_MixedCalls(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, _ := mcptest.NewPayments()
	s, _ := openLocal(t, srv)

	engine := scripted(t,
		toolCalls(
			call("refund", map[string]any{"amount": 1.0}),
			call("getBalance", nil),
			call("sendMoney", map[string]any{"amount": 1.0}),
		),
	)
	agent := assistants.NewAgent(engine, s)

	conv, _, err := agent.Step(ctx, chatmodel.Conversation{chatmodel.NewUserTurn("balance?")})
	require.NoError(t, err)
	require.Len(t, conv, 5)
	assert.Equal(t, chatmodel.RoleModel, conv[1].Role)
	assert.Len(t, conv[1].ToolCalls, 3)

	assert.Contains(t, conv[2].Content, "Tool `refund` not found")
	assert.Equal(t, "Balance: $100.00", conv[3].Content)
	assert.True(t, strings.HasPrefix(conv[4].Content, chatmodel.ToolCallFailedPrefix), conv[4].Content)
	assert.Contains(t, conv[4].Content, "payee")

	for i, req := range conv[1].ToolCalls {
		assert.Equal(t, req.ID, conv[2+i].ToolResults[0].ID)
		assert.Equal(t, req.Name, conv[2+i].ToolResults[0].Name)
	}
	assert.Equal(t, 1, srv.Calls("getBalance"))
	assert.Equal(t, 0, srv.Calls("sendMoney"))
}

func TestRun_ValidationRecovers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, _ := mcptest.NewPayments()
	s, _ := openLocal(t, srv)

	engine := scripted(t,
		toolCalls(call("sendMoney", map[string]any{"amount": -1})),
		final("done"),
	)
	res, err := assistants.NewAgent(engine, s).Run(ctx, "Send money")
	require.NoError(t, err)
	assert.Equal(t, "done", res.Answer)
	assert.Equal(t, 2, res.Steps)
}

func TestRun_TurnLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, _ := mcptest.NewPayments()
	s, _ := openLocal(t, srv)

	engine := scripted(t,
		toolCalls(call("getBalance", nil)),
		toolCalls(call("getBalance", nil)),
	)
	agent := assistants.NewAgent(engine, s, assistants.WithMaxTurns(2))
	_, err := agent.Run(ctx, "balance?")
	require.Error(t, err)
	assert.ErrorIs(t, err, mcperr.ErrTurnLimitExceeded)
	assert.True(t, mcperr.IsFatal(err))
	assert.Equal(t, assistants.StateError, agent.State())
	assert.Equal(t, 2, srv.Calls("getBalance"))
}

func TestRun_EngineErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, _ := mcptest.NewPayments()
	s, _ := openLocal(t, srv)

	t.Run("failed", func(t *testing.T) {
		engine := mockengine.NewMockDecisionEngine(gomock.NewController(t))
		engine.EXPECT().Name().Return("broken").AnyTimes()
		engine.EXPECT().Decide(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("model unavailable"))

		agent := assistants.NewAgent(engine, s)
		_, err := agent.Run(ctx, "hello")
		assert.EqualError(t, err, "agent agent: failed to get decision from broken: model unavailable")
		assert.Equal(t, assistants.StateError, agent.State())
	})

	t.Run("invalid", func(t *testing.T) {
		engine := scripted(t, &chatmodel.Decision{
			FinalAnswer: "done",
			ToolCalls:   []*tools.CallRequest{call("getBalance", nil)},
		})
		_, err := assistants.NewAgent(engine, s).Run(ctx, "hello")
		assert.ErrorIs(t, err, chatmodel.ErrInvalidDecision)
	})

	t.Run("empty", func(t *testing.T) {
		engine := scripted(t, nil)
		_, err := assistants.NewAgent(engine, s).Run(ctx, "hello")
		assert.ErrorIs(t, err, chatmodel.ErrInvalidDecision)
	})

	t.Run("no_answer", func(t *testing.T) {
		engine := scripted(t, &chatmodel.Decision{Content: "let me think"})
		agent := assistants.NewAgent(engine, s)
		res, err := agent.Run(ctx, "hello")
		assert.ErrorIs(t, err, chatmodel.ErrInvalidDecision)
		assert.Nil(t, res)
		assert.Equal(t, assistants.StateError, agent.State())
	})

	assert.Equal(t, mcp.StateReady, s.State())
}

func TestRun_Crash(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := mcp.Open(ctx, mcptest.Descriptor(mcptest.ScenarioCrash))
	require.NoError(t, err)
	defer s.Close(ctx)

	engine := scripted(t, toolCalls(call("getBalance", nil)))
	agent := assistants.NewAgent(engine, s)
	_, err = agent.Run(ctx, "balance?")
	require.Error(t, err)
	assert.ErrorIs(t, err, mcperr.ErrProcessCrashed)
	assert.Equal(t, assistants.StateError, agent.State())

	<-s.Done()
	assert.Equal(t, 0, s.PendingCount())
}

func TestRun_ClosedSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, _ := mcptest.NewPayments()
	s, _ := openLocal(t, srv)
	require.NoError(t, s.Close(ctx))

	engine := scripted(t, toolCalls(call("getBalance", nil)))
	_, err := assistants.NewAgent(engine, s).Run(ctx, "balance?")
	require.Error(t, err)
	assert.ErrorIs(t, err, mcperr.ErrSessionClosed)
}

func TestRun_ToolCallTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, _ := mcptest.NewPayments(mcptest.WithScenario(mcptest.ScenarioSilent))
	s, _ := openLocal(t, srv)

	engine := scripted(t,
		toolCalls(call("getBalance", nil)),
		final("the server is not responding"),
	)
	agent := assistants.NewAgent(engine, s, assistants.WithToolCallTimeout(50*time.Millisecond))
	res, err := agent.Run(ctx, "balance?")
	require.NoError(t, err)
	assert.Equal(t, "the server is not responding", res.Answer)

	conv := res.Conversation
	require.Len(t, conv, 4)
	assert.True(t, strings.HasPrefix(conv[2].Content, chatmodel.ToolCallFailedPrefix), conv[2].Content)
	assert.Equal(t, 0, s.PendingCount())
	assert.Equal(t, mcp.StateReady, s.State())
}

// whenPending calls fn once the agent waits for a single tool call
func whenPending(agent *assistants.Agent, s *mcp.Session, fn func()) {
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if agent.State() == assistants.StateAwaitingTool && s.PendingCount() == 1 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		fn()
	}()
}

// blockingEngine blocks in Decide until the step is cancelled
func blockingEngine(t *testing.T, started chan<- struct{}) *mockengine.MockDecisionEngine {
	engine := mockengine.NewMockDecisionEngine(gomock.NewController(t))
	engine.EXPECT().Name().Return("blocking").AnyTimes()
	engine.EXPECT().Decide(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ chatmodel.Conversation, _ []*tools.Descriptor) (*chatmodel.Decision, error) {
			close(started)
			<-ctx.Done()
			return nil, context.Cause(ctx)
		})
	return engine
}

func TestCancelStep_AwaitingModel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, _ := mcptest.NewPayments()
	s, _ := openLocal(t, srv)

	started := make(chan struct{})
	agent := assistants.NewAgent(blockingEngine(t, started), s)
	go func() {
		<-started
		agent.CancelStep()
	}()

	_, err := agent.Run(ctx, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, mcperr.ErrCancelled)
	assert.Equal(t, assistants.StateError, agent.State())

	// the session stays warm
	assert.Equal(t, mcp.StateReady, s.State())
	assert.NoError(t, s.Ping(ctx))
}

func TestCancelStep_AwaitingTool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, _ := mcptest.NewPayments(mcptest.WithScenario(mcptest.ScenarioSilent))
	s, _ := openLocal(t, srv)

	agent := assistants.NewAgent(scripted(t, toolCalls(call("getBalance", nil))), s)
	whenPending(agent, s, agent.CancelStep)

	_, err := agent.Run(ctx, "balance?")
	require.Error(t, err)
	assert.ErrorIs(t, err, mcperr.ErrCancelled)
	assert.Equal(t, 0, s.PendingCount())
	assert.Equal(t, mcp.StateReady, s.State())
}

func TestCancelSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, _ := mcptest.NewPayments(mcptest.WithScenario(mcptest.ScenarioSilent))
	s, _ := openLocal(t, srv)

	agent := assistants.NewAgent(scripted(t, toolCalls(call("getBalance", nil))), s)
	closed := make(chan error, 1)
	whenPending(agent, s, func() {
		closed <- agent.CancelSession(ctx)
	})

	_, err := agent.Run(ctx, "balance?")
	require.Error(t, err)
	assert.ErrorIs(t, err, mcperr.ErrCancelled)

	require.NoError(t, <-closed)
	<-s.Done()
	assert.Equal(t, mcp.StateClosed, s.State())
	assert.Equal(t, 0, s.PendingCount())
}

func TestRun_CancelScope(t *testing.T) {
	t.Parallel()

	for _, scope := range []assistants.CancelScope{assistants.CancelScopeStep, assistants.CancelScopeSession} {
		t.Run(scope.String(), func(t *testing.T) {
			srv, _ := mcptest.NewPayments(mcptest.WithScenario(mcptest.ScenarioSilent))
			s, _ := openLocal(t, srv)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			agent := assistants.NewAgent(scripted(t, toolCalls(call("getBalance", nil))), s,
				assistants.WithCancelScope(scope),
			)
			whenPending(agent, s, cancel)

			_, err := agent.Run(ctx, "balance?")
			require.Error(t, err)
			assert.ErrorIs(t, err, mcperr.ErrCancelled)
			assert.Equal(t, 0, s.PendingCount())

			if scope == assistants.CancelScopeSession {
				assert.Equal(t, mcp.StateClosed, s.State())
			} else {
				assert.Equal(t, mcp.StateReady, s.State())
			}
		})
	}
}

type noArgs struct{}

func dispatchServer(release <-chan struct{}) *mcptest.Server {
	srv := mcptest.NewServer("dispatch")
	srv.AddTool(
		mcptest.NewTool("fail", "Always fails", func(context.Context, *noArgs) (*mcptest.Result, error) {
			return mcptest.ErrorResult("failed"), nil
		}),
		mcptest.NewTool("slow", "Waits to be released", func(context.Context, *noArgs) (*mcptest.Result, error) {
			<-release
			return mcptest.TextResult("released"), nil
		}),
	)
	return srv
}

func TestStep_Dispatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("collect_all", func(t *testing.T) {
		release := make(chan struct{})
		s, _ := openLocal(t, dispatchServer(release))
		time.AfterFunc(50*time.Millisecond, func() { close(release) })

		engine := scripted(t, toolCalls(call("slow", nil), call("fail", nil)))
		agent := assistants.NewAgent(engine, s)
		assert.Equal(t, assistants.DispatchCollectAll, agent.Config().Dispatch)

		conv, _, err := agent.Step(ctx, chatmodel.Conversation{chatmodel.NewUserTurn("go")})
		require.NoError(t, err)
		require.Len(t, conv, 4)
		assert.Equal(t, "released", conv[2].Content)
		assert.Equal(t, chatmodel.ToolCallFailedPrefix+"failed", conv[3].Content)
	})

	t.Run("fail_fast", func(t *testing.T) {
		release := make(chan struct{})
		s, ch := openLocal(t, dispatchServer(release))
		t.Cleanup(func() {
			close(release)
			ch.Wait()
		})

		engine := scripted(t, toolCalls(call("slow", nil), call("fail", nil)))
		agent := assistants.NewAgent(engine, s, assistants.WithDispatch(assistants.DispatchFailFast))

		conv, _, err := agent.Step(ctx, chatmodel.Conversation{chatmodel.NewUserTurn("go")})
		require.NoError(t, err)
		require.Len(t, conv, 4)
		assert.Equal(t, chatmodel.ToolCallFailedPrefix+"cancelled after another tool call failed", conv[2].Content)
		assert.Equal(t, chatmodel.ToolCallFailedPrefix+"failed", conv[3].Content)
		assert.Equal(t, 0, s.PendingCount())
		assert.Equal(t, mcp.StateReady, s.State())
	})
}

func TestRun_History(t *testing.T) {
	t.Parallel()

	srv, _ := mcptest.NewPayments()
	s, _ := openLocal(t, srv)
	st := store.NewMemoryStore()
	ctx := chatmodel.WithChatContext(context.Background(), chatmodel.NewChatContext("chat1", nil))

	agent := assistants.NewAgent(scripted(t, final("Hi!")), s, assistants.WithStore(st))
	_, err := agent.Run(ctx, "Hello")
	require.NoError(t, err)

	engine := mockengine.NewMockDecisionEngine(gomock.NewController(t))
	engine.EXPECT().Name().Return("history").AnyTimes()
	engine.EXPECT().Decide(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, conv chatmodel.Conversation, list []*tools.Descriptor) (*chatmodel.Decision, error) {
			assert.Len(t, list, 4)
			require.Len(t, conv, 3)
			assert.Equal(t, "Hello", conv[0].Content)
			assert.Equal(t, "Hi!", conv[1].Content)
			assert.Equal(t, "Balance?", conv[2].Content)
			return final("Balance: $100.00"), nil
		})

	agent = assistants.NewAgent(engine, s, assistants.WithStore(st))
	res, err := agent.Run(ctx, "Balance?")
	require.NoError(t, err)
	assert.Len(t, res.Conversation, 4)

	stored, err := st.Turns(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	// a failed run is not stored
	agent = assistants.NewAgent(scripted(t, toolCalls(call("getBalance", nil))), s,
		assistants.WithStore(st),
		assistants.WithMaxTurns(1),
	)
	_, err = agent.Run(ctx, "again")
	assert.ErrorIs(t, err, mcperr.ErrTurnLimitExceeded)

	stored, err = st.Turns(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestRun_Callbacks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, _ := mcptest.NewPayments()
	s, _ := openLocal(t, srv)

	cb := mockengine.NewMockCallback(gomock.NewController(t))
	cb.EXPECT().OnAgentStart(gomock.Any(), "payments", paymentsInput).Times(1)
	cb.EXPECT().OnDecisionStart(gomock.Any(), "payments", "scripted", gomock.Any()).Times(3)
	cb.EXPECT().OnDecisionEnd(gomock.Any(), "payments", "scripted", gomock.Any()).Times(3)
	cb.EXPECT().OnToolStart(gomock.Any(), "payments", gomock.Any()).Times(2)
	cb.EXPECT().OnToolEnd(gomock.Any(), "payments", gomock.Any(), gomock.Any()).Times(2)
	cb.EXPECT().OnAgentEnd(gomock.Any(), "payments", paymentsInput, paymentsAnswer, gomock.Any()).Times(1)

	agent := assistants.NewAgent(scripted(t, paymentsScript()...), s,
		assistants.WithName("payments"),
		assistants.WithCallback(cb),
	)
	_, err := agent.Run(ctx, paymentsInput)
	require.NoError(t, err)

	cb = mockengine.NewMockCallback(gomock.NewController(t))
	cb.EXPECT().OnAgentStart(gomock.Any(), "agent", "refund").Times(1)
	cb.EXPECT().OnDecisionStart(gomock.Any(), "agent", "scripted", gomock.Any()).Times(1)
	cb.EXPECT().OnDecisionEnd(gomock.Any(), "agent", "scripted", gomock.Any()).Times(1)
	cb.EXPECT().OnToolNotFound(gomock.Any(), "agent", gomock.Any()).Times(1)
	cb.EXPECT().OnToolInvalid(gomock.Any(), "agent", gomock.Any(), gomock.Any()).Times(1)
	cb.EXPECT().OnAgentError(gomock.Any(), "agent", "refund", gomock.Any(), gomock.Any()).Times(1)

	engine := scripted(t, toolCalls(call("refund", nil), call("sendMoney", nil)))
	agent = assistants.NewAgent(engine, s, assistants.WithCallback(cb), assistants.WithMaxTurns(1))
	_, err = agent.Run(ctx, "refund")
	assert.ErrorIs(t, err, mcperr.ErrTurnLimitExceeded)
}

func TestConfig(t *testing.T) {
	t.Parallel()

	cfg := assistants.NewConfig()
	assert.Equal(t, "agent", cfg.Name)
	assert.Equal(t, assistants.DefaultMaxTurns, cfg.MaxTurns)
	assert.Equal(t, assistants.DispatchCollectAll, cfg.Dispatch)
	assert.Equal(t, assistants.CancelScopeStep, cfg.CancelScope)
	assert.Nil(t, cfg.CallbackHandler)
	assert.Nil(t, cfg.Store)

	st := store.NewMemoryStore()
	cfg = assistants.NewConfig(
		assistants.WithName("payments"),
		assistants.WithMaxTurns(3),
		assistants.WithMaxTurns(0),
		assistants.WithDispatch(assistants.DispatchFailFast),
		assistants.WithCancelScope(assistants.CancelScopeSession),
		assistants.WithToolCallTimeout(time.Second),
		assistants.WithStore(st),
		assistants.WithSkipMessageHistory(true),
	)
	assert.Equal(t, "payments", cfg.Name)
	assert.Equal(t, 3, cfg.MaxTurns)
	assert.Equal(t, assistants.DispatchFailFast, cfg.Dispatch)
	assert.Equal(t, "fail_fast", cfg.Dispatch.String())
	assert.Equal(t, assistants.CancelScopeSession, cfg.CancelScope)
	assert.Equal(t, "session", cfg.CancelScope.String())
	assert.Equal(t, time.Second, cfg.ToolCallTimeout)
	assert.Equal(t, st, cfg.Store)
	assert.True(t, cfg.SkipMessageHistory)
}

func TestState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "idle", assistants.StateIdle.String())
	assert.Equal(t, "awaiting_model", assistants.StateAwaitingModel.String())
	assert.Equal(t, "awaiting_tool", assistants.StateAwaitingTool.String())
	assert.Equal(t, "done", assistants.StateDone.String())
	assert.Equal(t, "error", assistants.StateError.String())
	assert.Equal(t, "state(9)", assistants.State(9).String())
}
