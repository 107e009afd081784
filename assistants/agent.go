package assistants

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/pkg/mcperr"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var errSiblingFailed = errors.New("sibling tool call failed")

// Agent interleaves the decisions of an engine with tool calls on a Toolbox.
// An Agent runs one step at a time; Run and Step must not be called concurrently.
type Agent struct {
	engine  DecisionEngine
	toolbox Toolbox
	cfg     *Config

	state atomic.Int32

	lock       sync.Mutex
	cancelStep context.CancelCauseFunc
}

// NewAgent returns an Agent
func NewAgent(engine DecisionEngine, toolbox Toolbox, opts ...Option) *Agent {
	return &Agent{
		engine:  engine,
		toolbox: toolbox,
		cfg:     NewConfig(opts...),
	}
}

// Name returns the name of the Agent
func (a *Agent) Name() string {
	return a.cfg.Name
}

// Config returns the configuration of the Agent
func (a *Agent) Config() *Config {
	return a.cfg
}

// State returns the current state
func (a *Agent) State() State {
	return State(a.state.Load())
}

func (a *Agent) setState(s State) {
	a.state.Store(int32(s))
}

// Run appends the input to the conversation history of the chat in ctx,
// and takes steps until the engine gives a final answer.
// A step where no requested tool call is valid is reported back to the engine
// and does not end the run. The run fails with mcperr.ErrTurnLimitExceeded
// when there is no final answer after Config.MaxTurns steps.
func (a *Agent) Run(ctx context.Context, input string) (*Result, error) {
	name := a.Name()
	cb := a.cfg.CallbackHandler

	started := time.Now()
	defer metricskey.PerfAgentRun.MeasureSince(started, name)

	ctx, _ = chatmodel.EnsureChatContext(ctx)
	a.setState(StateIdle)

	if cb != nil {
		cb.OnAgentStart(ctx, name, input)
	}

	history, err := a.history(ctx)
	if err != nil {
		return nil, a.runFailed(ctx, input, err, nil)
	}
	first := len(history)
	conv := append(history, chatmodel.NewUserTurn(input))

	res := new(Result)
	for res.Steps < a.cfg.MaxTurns {
		var decision *chatmodel.Decision
		conv, decision, err = a.Step(ctx, conv)
		res.Steps++
		if decision != nil {
			res.ToolCalls += len(decision.ToolCalls)
			if decision.Usage != nil {
				res.Usage.InputTokens += decision.Usage.InputTokens
				res.Usage.OutputTokens += decision.Usage.OutputTokens
			}
		}
		if err != nil {
			if errors.Is(err, mcperr.ErrArgumentValidation) && !mcperr.IsFatal(err) {
				logger.ContextKV(ctx, xlog.WARNING,
					"agent", name,
					"status", "no_valid_tool_calls",
					"step", res.Steps,
					"err", err.Error(),
				)
				continue
			}
			return nil, a.runFailed(ctx, input, err, conv)
		}
		if decision.IsFinal() {
			res.Answer = decision.FinalAnswer
			res.Conversation = conv
			a.save(ctx, conv[first:])

			metricskey.StatsAgentRunsSucceeded.IncrCounter(1, name)
			logger.ContextKV(ctx, xlog.DEBUG,
				"agent", name,
				"status", "run_completed",
				"steps", res.Steps,
				"tool_calls", res.ToolCalls,
			)
			if cb != nil {
				cb.OnAgentEnd(ctx, name, input, res.Answer, conv)
			}
			return res, nil
		}
	}

	err = mcperr.Mark(errors.Newf("agent %s: no final answer after %d turns", name, a.cfg.MaxTurns), mcperr.ErrTurnLimitExceeded)
	return nil, a.runFailed(ctx, input, err, conv)
}

// Step asks the engine for the next step of the conversation,
// and dispatches the requested tool calls.
// It returns the conversation with the new turns: the model turn,
// then one tool turn per requested call in request order.
// Invalid calls are not dispatched and are reported as failed results;
// when none of the calls is valid, the error is marked with mcperr.ErrArgumentValidation.
func (a *Agent) Step(ctx context.Context, conv chatmodel.Conversation) (chatmodel.Conversation, *chatmodel.Decision, error) {
	ctx, cancel := a.beginStep(ctx)
	defer a.endStep(cancel)

	a.setState(StateAwaitingModel)
	decision, err := a.decide(ctx, conv)
	if err != nil {
		return conv, nil, a.stepFailed(ctx, err)
	}

	if decision.IsFinal() {
		conv = append(conv, chatmodel.NewModelTurn(decision.FinalAnswer))
		a.setState(StateDone)
		return conv, decision, nil
	}

	calls := decision.ToolCalls
	for _, req := range calls {
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
	}
	conv = append(conv, chatmodel.NewModelTurn(decision.Content, calls...))

	results := make([]*tools.CallResult, len(calls))
	valid := make([]int, 0, len(calls))
	for i, req := range calls {
		if res := a.validate(ctx, req); res != nil {
			results[i] = res
			continue
		}
		valid = append(valid, i)
	}

	if len(valid) > 0 {
		a.setState(StateAwaitingTool)
		if err = a.dispatch(ctx, calls, valid, results); err != nil {
			return conv, decision, a.stepFailed(ctx, err)
		}
	}

	for _, res := range results {
		conv = append(conv, chatmodel.NewToolTurn(res))
	}
	a.setState(StateAwaitingModel)

	if len(valid) == 0 {
		return conv, decision, mcperr.Mark(
			errors.Newf("agent %s: none of %d tool calls is valid", a.Name(), len(calls)),
			mcperr.ErrArgumentValidation)
	}
	return conv, decision, nil
}

// CancelStep fails the outstanding requests of the current step with mcperr.ErrCancelled.
// The session stays open.
func (a *Agent) CancelStep() {
	cause := mcperr.Mark(errors.Newf("agent %s: step cancelled", a.Name()), mcperr.ErrCancelled)

	a.lock.Lock()
	cancel := a.cancelStep
	a.lock.Unlock()

	if cancel != nil {
		cancel(cause)
	}
	n := a.toolbox.CancelPending(cause)

	logger.KV(xlog.DEBUG,
		"agent", a.Name(),
		"status", "step_cancelled",
		"pending", n,
	)
}

// CancelSession cancels the current step and closes the session
func (a *Agent) CancelSession(ctx context.Context) error {
	a.CancelStep()
	return a.toolbox.Close(ctx)
}

// beginStep returns the step context, cancelled when the toolbox is done
func (a *Agent) beginStep(ctx context.Context) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(ctx)

	a.lock.Lock()
	a.cancelStep = cancel
	a.lock.Unlock()

	go func() {
		select {
		case <-a.toolbox.Done():
			cancel(a.toolboxErr())
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (a *Agent) endStep(cancel context.CancelCauseFunc) {
	a.lock.Lock()
	a.cancelStep = nil
	a.lock.Unlock()
	cancel(nil)
}

func (a *Agent) toolboxErr() error {
	if err := a.toolbox.Err(); err != nil {
		return err
	}
	return mcperr.Mark(errors.Newf("agent %s: session closed", a.Name()), mcperr.ErrSessionClosed)
}

// stepFailed returns the error of the step, the cancellation cause takes precedence
func (a *Agent) stepFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil && mcperr.IsFatal(cause) {
			err = cause
		} else if !mcperr.IsFatal(err) {
			err = mcperr.Mark(errors.WithMessagef(err, "agent %s: step cancelled", a.Name()), mcperr.ErrCancelled)
		}
	}
	a.setState(StateError)
	return err
}

func (a *Agent) runFailed(ctx context.Context, input string, err error, conv chatmodel.Conversation) error {
	name := a.Name()
	a.setState(StateError)
	metricskey.StatsAgentRunsFailed.IncrCounter(1, name)

	if ctx.Err() != nil && a.cfg.CancelScope == CancelScopeSession {
		if cerr := a.toolbox.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.ContextKV(ctx, xlog.WARNING,
				"agent", name,
				"status", "failed_to_close_session",
				"err", cerr.Error(),
			)
		}
	}

	logger.ContextKV(ctx, xlog.ERROR,
		"agent", name,
		"status", "run_failed",
		"turns", len(conv),
		"err", err.Error(),
	)
	if cb := a.cfg.CallbackHandler; cb != nil {
		cb.OnAgentError(ctx, name, input, err, conv)
	}
	return err
}

func (a *Agent) decide(ctx context.Context, conv chatmodel.Conversation) (*chatmodel.Decision, error) {
	name := a.Name()
	model := a.engine.Name()
	cb := a.cfg.CallbackHandler

	if cb != nil {
		cb.OnDecisionStart(ctx, name, model, conv)
	}

	started := time.Now()
	decision, err := a.engine.Decide(ctx, conv, a.toolbox.Tools())
	metricskey.PerfAgentDecision.MeasureSince(started, name)
	metricskey.StatsAgentTurns.IncrCounter(1, name)
	if err != nil {
		return nil, errors.WithMessagef(err, "agent %s: failed to get decision from %s", name, model)
	}
	if decision == nil {
		return nil, errors.Wrapf(chatmodel.ErrInvalidDecision, "agent %s: empty decision from %s", name, model)
	}
	if err = decision.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "agent %s", name)
	}

	if decision.Usage != nil {
		metricskey.StatsLLMInputTokens.IncrCounter(float64(decision.Usage.InputTokens), model)
		metricskey.StatsLLMOutputTokens.IncrCounter(float64(decision.Usage.OutputTokens), model)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"agent", name,
		"status", "decision",
		"model", model,
		"final", decision.IsFinal(),
		"tool_calls", len(decision.ToolCalls),
	)

	if cb != nil {
		cb.OnDecisionEnd(ctx, name, model, decision)
	}
	return decision, nil
}

// validate returns a failed result if the call cannot be dispatched
func (a *Agent) validate(ctx context.Context, req *tools.CallRequest) *tools.CallResult {
	registry := a.toolbox.Registry()
	_, err := registry.Validate(req.Name, req.Arguments)
	if err == nil {
		return nil
	}

	cb := a.cfg.CallbackHandler
	if errors.Is(err, mcperr.ErrNotFound) {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, req.Name)
		if cb != nil {
			cb.OnToolNotFound(ctx, a.Name(), req)
		}

		available := strings.Join(registry.Names(), ", ")
		logger.ContextKV(ctx, xlog.WARNING,
			"agent", a.Name(),
			"status", "tool_not_found",
			"tool", req.Name,
			"available_tools", available,
		)
		return tools.NewErrorResult(req, fmt.Sprintf("Tool `%s` not found. Please check the tool name and try again with exact match. Available tools: %s", req.Name, available))
	}

	metricskey.StatsToolCallsInvalid.IncrCounter(1, req.Name)
	if cb != nil {
		cb.OnToolInvalid(ctx, a.Name(), req, err)
	}
	logger.ContextKV(ctx, xlog.WARNING,
		"agent", a.Name(),
		"status", "tool_call_invalid",
		"tool", req.Name,
		"err", err.Error(),
	)
	return tools.NewErrorResult(req, err.Error())
}

// dispatch calls the valid tools concurrently and stores the results at their request index
func (a *Agent) dispatch(ctx context.Context, calls []*tools.CallRequest, valid []int, results []*tools.CallResult) error {
	if a.cfg.Dispatch == DispatchFailFast {
		return a.dispatchFailFast(ctx, calls, valid, results)
	}

	errs := make([]error, len(valid))
	var wg sync.WaitGroup
	wg.Add(len(valid))
	for n, i := range valid {
		go func() {
			defer wg.Done()
			results[i], errs[n] = a.callTool(ctx, calls[i])
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) dispatchFailFast(ctx context.Context, calls []*tools.CallRequest, valid []int, results []*tools.CallResult) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, i := range valid {
		req := calls[i]
		g.Go(func() error {
			res, err := a.callTool(gctx, req)
			if err != nil {
				// cancelled by a failed sibling, while the step goes on
				if ctx.Err() == nil && errors.Is(err, mcperr.ErrCancelled) {
					results[i] = tools.NewErrorResult(req, "cancelled after another tool call failed")
					return nil
				}
				return err
			}
			results[i] = res
			if res.Failed() {
				return errSiblingFailed
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errSiblingFailed) {
		return err
	}
	return nil
}

// callTool returns a failed result for a recoverable error,
// and the error when it must end the run
func (a *Agent) callTool(ctx context.Context, req *tools.CallRequest) (*tools.CallResult, error) {
	name := a.Name()
	cb := a.cfg.CallbackHandler
	if cb != nil {
		cb.OnToolStart(ctx, name, req)
	}

	res, err := a.toolbox.CallTool(ctx, req.Name, req.Arguments, a.cfg.ToolCallTimeout)
	if err != nil {
		if cb != nil {
			cb.OnToolError(ctx, name, req, err)
		}
		logger.ContextKV(ctx, xlog.WARNING,
			"agent", name,
			"status", "tool_call_failed",
			"tool", req.Name,
			"id", req.ID,
			"err", err.Error(),
		)
		if mcperr.IsFatal(err) {
			return nil, err
		}
		return tools.NewErrorResult(req, err.Error()), nil
	}

	res.ID = req.ID
	logger.ContextKV(ctx, xlog.DEBUG,
		"agent", name,
		"status", "tool_call_response",
		"tool", req.Name,
		"id", req.ID,
		"result", res.Kind,
	)
	if cb != nil {
		cb.OnToolEnd(ctx, name, req, res)
	}
	return res, nil
}

func (a *Agent) history(ctx context.Context) (chatmodel.Conversation, error) {
	if a.cfg.Store == nil || a.cfg.SkipMessageHistory {
		return nil, nil
	}
	conv, err := a.cfg.Store.Turns(ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "agent %s: failed to load history", a.Name())
	}
	return conv.Clone(), nil
}

func (a *Agent) save(ctx context.Context, turns chatmodel.Conversation) {
	if a.cfg.Store == nil || a.cfg.SkipMessageHistory || len(turns) == 0 {
		return
	}
	if err := a.cfg.Store.Add(ctx, turns...); err != nil {
		logger.ContextKV(ctx, xlog.WARNING,
			"agent", a.Name(),
			"status", "failed_to_save_history",
			"err", err.Error(),
		)
		return
	}
	logger.ContextKV(ctx, xlog.DEBUG,
		"agent", a.Name(),
		"chat_id", chatmodel.GetChatID(ctx),
		"status", "added_message_history",
		"turns", len(turns),
	)
}
