package assistants

import (
	"time"

	"github.com/effective-security/mcpagent/store"
)

// DefaultMaxTurns is the default limit of decisions in a run
const DefaultMaxTurns = 10

// DispatchPolicy defines how the tool calls of one step are dispatched
type DispatchPolicy int

const (
	// DispatchCollectAll waits for every call, a failed call becomes a failed result
	DispatchCollectAll DispatchPolicy = iota
	// DispatchFailFast cancels the remaining calls on the first failure
	DispatchFailFast
)

func (p DispatchPolicy) String() string {
	if p == DispatchFailFast {
		return "fail_fast"
	}
	return "collect_all"
}

// CancelScope defines what is torn down when a run is cancelled
type CancelScope int

const (
	// CancelScopeStep fails the outstanding requests and keeps the session warm
	CancelScopeStep CancelScope = iota
	// CancelScopeSession also closes the session
	CancelScopeSession
)

func (s CancelScope) String() string {
	if s == CancelScopeSession {
		return "session"
	}
	return "step"
}

// Option is a function that can be used to modify the behavior of the Agent Config.
type Option func(*Config)

// Config of the Agent
type Config struct {
	// Name of the agent, used in metrics, logs and callbacks
	Name string
	// MaxTurns is the maximum number of decisions in a run
	MaxTurns int
	// Dispatch is the dispatch policy of the tool calls
	Dispatch DispatchPolicy
	// CancelScope is applied when the run context is cancelled
	CancelScope CancelScope
	// ToolCallTimeout is the timeout of each tool call, zero for the session default
	ToolCallTimeout time.Duration
	// CallbackHandler receives the agent events
	CallbackHandler Callback
	// Store persists the conversation of the chat in the context
	Store store.ConversationStore
	// SkipMessageHistory disables loading and saving the conversation in the Store
	SkipMessageHistory bool
}

// NewConfig returns the Config with defaults
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		Name:     "agent",
		MaxTurns: DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithName is an option that allows to specify the agent name.
func WithName(name string) Option {
	return func(o *Config) {
		if name != "" {
			o.Name = name
		}
	}
}

// WithMaxTurns is an option that allows to specify the maximum number of decisions in a run.
func WithMaxTurns(maxTurns int) Option {
	return func(o *Config) {
		if maxTurns > 0 {
			o.MaxTurns = maxTurns
		}
	}
}

// WithDispatch is an option that allows to specify the dispatch policy.
func WithDispatch(policy DispatchPolicy) Option {
	return func(o *Config) {
		o.Dispatch = policy
	}
}

// WithCancelScope is an option that allows to specify the cancellation scope.
func WithCancelScope(scope CancelScope) Option {
	return func(o *Config) {
		o.CancelScope = scope
	}
}

// WithToolCallTimeout is an option that allows to specify the timeout of each tool call.
func WithToolCallTimeout(timeout time.Duration) Option {
	return func(o *Config) {
		o.ToolCallTimeout = timeout
	}
}

// WithCallback allows setting a custom Callback Handler.
func WithCallback(callbackHandler Callback) Option {
	return func(o *Config) {
		o.CallbackHandler = callbackHandler
	}
}

// WithStore is an option that allows to specify the conversation store.
func WithStore(st store.ConversationStore) Option {
	return func(o *Config) {
		o.Store = st
	}
}

// WithSkipMessageHistory is an option that allows to skip the conversation history.
func WithSkipMessageHistory(skip bool) Option {
	return func(o *Config) {
		o.SkipMessageHistory = skip
	}
}
