package mcp

import (
	"io"
	"time"

	"github.com/effective-security/mcpagent/mcp/internal/protocol"
	"github.com/effective-security/mcpagent/mcp/transport"
)

// Default timeouts
const (
	DefaultStartupTimeout  = 30 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultToolCallTimeout = 60 * time.Second
	DefaultGracefulTimeout = 5 * time.Second
)

// Progress is a progress update reported by the server for a tool call
type Progress = protocol.Progress

// Option configures a Session
type Option func(*options)

type options struct {
	startupTimeout       time.Duration
	requestTimeout       time.Duration
	toolCallTimeout      time.Duration
	gracefulTimeout      time.Duration
	parsePolicy          transport.ParsePolicy
	stderr               io.Writer
	clientInfo           Implementation
	refreshOnListChanged bool
	onCrash              []func(*Session, error)
	onProgress           func(tool string, p Progress)
}

func newOptions(opts []Option) *options {
	o := &options{
		startupTimeout:  DefaultStartupTimeout,
		requestTimeout:  DefaultRequestTimeout,
		toolCallTimeout: DefaultToolCallTimeout,
		gracefulTimeout: DefaultGracefulTimeout,
		clientInfo: Implementation{
			Name:    "mcpagent",
			Version: Version,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithStartupTimeout bounds the initialize handshake
func WithStartupTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.startupTimeout = d
		}
	}
}

// WithRequestTimeout bounds tools/list and ping requests
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// WithToolCallTimeout sets the default tools/call timeout
func WithToolCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.toolCallTimeout = d
		}
	}
}

// WithGracefulTimeout sets how long Close waits for the process to exit before killing it
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.gracefulTimeout = d
		}
	}
}

// WithParsePolicy sets the policy for malformed frames received from the server
func WithParsePolicy(p transport.ParsePolicy) Option {
	return func(o *options) {
		o.parsePolicy = p
	}
}

// WithStderr copies the server stderr to w
func WithStderr(w io.Writer) Option {
	return func(o *options) {
		o.stderr = w
	}
}

// WithClientInfo sets the client name and version sent in initialize
func WithClientInfo(name, version string) Option {
	return func(o *options) {
		o.clientInfo = Implementation{Name: name, Version: version}
	}
}

// WithRefreshOnListChanged reloads the tools when the server
// sends notifications/tools/list_changed
func WithRefreshOnListChanged() Option {
	return func(o *options) {
		o.refreshOnListChanged = true
	}
}

// WithOnCrash registers a callback invoked when the server process exits unexpectedly
func WithOnCrash(fn func(*Session, error)) Option {
	return func(o *options) {
		o.onCrash = append(o.onCrash, fn)
	}
}

// WithProgressHandler requests progress updates for tool calls
func WithProgressHandler(fn func(tool string, p Progress)) Option {
	return func(o *options) {
		o.onProgress = fn
	}
}
