package mcp

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/internal/protocol"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/pkg/mcperr"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/xlog"
)

// Version is the client version sent in initialize
const Version = "0.1.0"

// LatestProtocolVersion is the protocol version requested in initialize
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists the versions the client accepts from the server
var SupportedProtocolVersions = []string{
	LatestProtocolVersion,
	"2025-03-26",
	"2024-11-05",
}

// Methods and notifications
const (
	MethodInitialize             = "initialize"
	MethodToolsList              = "tools/list"
	MethodToolsCall              = "tools/call"
	MethodPing                   = protocol.MethodPing
	NotificationInitialized      = "notifications/initialized"
	NotificationToolsListChanged = "notifications/tools/list_changed"
	NotificationMessage          = "notifications/message"
	NotificationCancelled        = protocol.NotificationCancelled
	NotificationProgress         = protocol.NotificationProgress
)

// maxListPages bounds tools/list pagination
const maxListPages = 100

// Implementation identifies a client or a server
type Implementation struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// ToolsCapability describes the server tools support
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is the capabilities object returned by initialize
type ServerCapabilities struct {
	Tools        *ToolsCapability `json:"tools,omitempty"`
	Logging      json.RawMessage  `json:"logging,omitempty"`
	Prompts      json.RawMessage  `json:"prompts,omitempty"`
	Resources    json.RawMessage  `json:"resources,omitempty"`
	Experimental json.RawMessage  `json:"experimental,omitempty"`
}

// InitializeResult is the server response to initialize
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

type listToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type listToolsResult struct {
	Tools      []json.RawMessage `json:"tools"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type callToolResult struct {
	Content           []tools.Content `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

type logMessage struct {
	Level  string          `json:"level"`
	Logger string          `json:"logger,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// Client implements the tool server protocol over a correlated channel
type Client struct {
	name     string
	proto    *protocol.Protocol
	registry *tools.Registry
	state    *stateMachine
	opts     *options

	lock     sync.RWMutex
	initInfo *InitializeResult
}

func newClient(name string, proto *protocol.Protocol, state *stateMachine, opts *options) *Client {
	c := &Client{
		name:     name,
		proto:    proto,
		registry: tools.NewRegistry(),
		state:    state,
		opts:     opts,
	}
	proto.SetNotificationHandler(NotificationMessage, c.onLogMessage)
	proto.SetNotificationHandler(NotificationToolsListChanged, c.onToolsListChanged)
	return c
}

// Registry returns the tools registry
func (c *Client) Registry() *tools.Registry {
	return c.registry
}

// InitializeResult returns the handshake result, nil before Initialize succeeds
func (c *Client) InitializeResult() *InitializeResult {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.initInfo
}

// Initialize performs the handshake and moves the session to Ready.
// Every failure is marked with mcperr.ErrHandshake.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	params := initializeParams{
		ProtocolVersion: LatestProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      c.opts.clientInfo,
	}

	raw, err := c.proto.Request(ctx, MethodInitialize, params, protocol.RequestOptions{
		Timeout: c.opts.startupTimeout,
	})
	if err != nil {
		return nil, mcperr.Mark(errors.WithMessagef(err, "initialize %s failed", c.name), mcperr.ErrHandshake)
	}

	res := new(InitializeResult)
	if err := json.Unmarshal(raw, res); err != nil {
		return nil, mcperr.Mark(errors.Wrapf(err, "invalid initialize result from %s", c.name), mcperr.ErrHandshake)
	}
	if !slices.Contains(SupportedProtocolVersions, res.ProtocolVersion) {
		return nil, mcperr.Mark(errors.Newf("unsupported protocol version %q from %s", res.ProtocolVersion, c.name), mcperr.ErrHandshake)
	}

	if err := c.proto.Notify(ctx, NotificationInitialized, nil); err != nil {
		return nil, mcperr.Mark(errors.WithMessagef(err, "failed to send initialized to %s", c.name), mcperr.ErrHandshake)
	}
	if !c.state.advance(StateReady) {
		return nil, mcperr.Mark(c.closedErr(), mcperr.ErrHandshake)
	}

	c.lock.Lock()
	c.initInfo = res
	c.lock.Unlock()

	logger.KV(xlog.DEBUG,
		"server", c.name,
		"status", "initialized",
		"protocol", res.ProtocolVersion,
		"server_name", res.ServerInfo.Name,
		"server_version", res.ServerInfo.Version,
	)
	return res, nil
}

// ListTools loads every page of tools/list and replaces the registry
func (c *Client) ListTools(ctx context.Context) ([]*tools.Descriptor, error) {
	var list []*tools.Descriptor
	cursor := ""
	for page := 0; ; page++ {
		if page == maxListPages {
			return nil, mcperr.Mark(errors.Newf("tools/list from %s exceeded %d pages", c.name, maxListPages), mcperr.ErrProtocol)
		}

		var params any
		if cursor != "" {
			params = listToolsParams{Cursor: cursor}
		}
		raw, err := c.proto.Request(ctx, MethodToolsList, params, protocol.RequestOptions{
			Timeout: c.opts.requestTimeout,
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "tools/list from %s failed", c.name)
		}

		var res listToolsResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, mcperr.Mark(errors.Wrapf(err, "invalid tools/list result from %s", c.name), mcperr.ErrProtocol)
		}
		for _, entry := range res.Tools {
			d, err := tools.ParseDescriptor(entry)
			if err != nil {
				return nil, errors.WithMessagef(err, "invalid tool from %s", c.name)
			}
			list = append(list, d)
		}

		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}

	c.registry.Replace(list)
	logger.KV(xlog.DEBUG,
		"server", c.name,
		"status", "tools_listed",
		"tools", c.registry.Names(),
	)
	return c.registry.List(), nil
}

// CallTool resolves and validates the call, then sends tools/call.
//
// Lookup and validation failures return before anything is sent.
// A server side failure, isError or an error response, is returned as
// a result of kind tools.ResultError, not as an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*tools.CallResult, error) {
	if c.state.Load() >= StateClosing {
		return nil, c.closedErr()
	}

	d, err := c.registry.Validate(name, args)
	if err != nil {
		if errors.Is(err, mcperr.ErrNotFound) {
			metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
		} else {
			metricskey.StatsToolCallsInvalid.IncrCounter(1, name)
		}
		logger.KV(xlog.DEBUG, "server", c.name, "status", "call_rejected", "tool", name, "err", err.Error())
		return nil, err
	}

	if timeout <= 0 {
		timeout = c.opts.toolCallTimeout
	}
	opts := protocol.RequestOptions{Timeout: timeout}
	if c.opts.onProgress != nil {
		onProgress := c.opts.onProgress
		opts.OnProgress = func(p protocol.Progress) {
			onProgress(d.Name, p)
		}
	}

	started := time.Now()
	defer metricskey.PerfToolCall.MeasureSince(started, d.Name)

	raw, err := c.proto.Request(ctx, MethodToolsCall, callToolParams{Name: d.Name, Arguments: args}, opts)
	if err != nil {
		var rpcErr *transport.RPCError
		if errors.As(err, &rpcErr) {
			metricskey.StatsToolCallsFailed.IncrCounter(1, d.Name)
			return &tools.CallResult{
				Name:     d.Name,
				Kind:     tools.ResultError,
				Error:    &tools.CallError{Code: rpcErr.Code, Message: rpcErr.Message},
				Duration: time.Since(started),
			}, nil
		}
		if errors.Is(err, mcperr.ErrTimeout) {
			err = mcperr.Mark(errors.WithMessagef(err, "tool %s", d.Name), mcperr.ErrToolCallTimeout)
		}
		metricskey.StatsToolCallsFailed.IncrCounter(1, d.Name)
		return nil, err
	}

	var res callToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, d.Name)
		return nil, mcperr.Mark(errors.Wrapf(err, "invalid tools/call result for %s", d.Name), mcperr.ErrProtocol)
	}

	result := &tools.CallResult{
		Name:       d.Name,
		Kind:       tools.ResultSuccess,
		Content:    res.Content,
		Structured: res.StructuredContent,
		Duration:   time.Since(started),
	}
	if res.IsError {
		result.Kind = tools.ResultError
		result.Error = &tools.CallError{Message: result.Text()}
		metricskey.StatsToolCallsFailed.IncrCounter(1, d.Name)
	} else {
		metricskey.StatsToolCallsSucceeded.IncrCounter(1, d.Name)
	}
	return result, nil
}

// Ping checks that the server is responsive
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.proto.Request(ctx, MethodPing, nil, protocol.RequestOptions{
		Timeout: c.opts.requestTimeout,
	})
	return err
}

func (c *Client) closedErr() error {
	if err := c.proto.Err(); err != nil {
		return err
	}
	return mcperr.Mark(errors.Newf("session %s is closed", c.name), mcperr.ErrSessionClosed)
}

func (c *Client) onLogMessage(_ context.Context, msg *transport.Message) {
	var m logMessage
	if err := json.Unmarshal(msg.Params, &m); err != nil {
		logger.KV(xlog.DEBUG, "server", c.name, "status", "invalid_log_message", "err", err.Error())
		return
	}

	level := xlog.ERROR
	switch m.Level {
	case "debug":
		level = xlog.DEBUG
	case "info", "notice":
		level = xlog.INFO
	case "warning":
		level = xlog.WARNING
	}
	logger.KV(level,
		"server", c.name,
		"logger", m.Logger,
		"data", string(m.Data),
	)
}

func (c *Client) onToolsListChanged(ctx context.Context, _ *transport.Message) {
	if !c.opts.refreshOnListChanged || c.state.Load() != StateReady {
		logger.KV(xlog.DEBUG, "server", c.name, "status", "tools_list_changed")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.requestTimeout)
	defer cancel()

	if _, err := c.ListTools(ctx); err != nil {
		logger.KV(xlog.WARNING,
			"server", c.name,
			"status", "tools_refresh_failed",
			"err", err.Error(),
		)
	}
}
