// Package mcptest provides a stub tool server for tests.
// It runs in-process over localtransport, or as a subprocess speaking
// newline-delimited JSON-RPC on stdio.
package mcptest

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/pkg/schema"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/xlog"
	"github.com/tidwall/gjson"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/mcp", "mcptest")

// Scenario selects a misbehavior of the stub server
type Scenario string

const (
	// ScenarioNormal serves the tools as expected
	ScenarioNormal Scenario = ""
	// ScenarioSilent never answers tools/call
	ScenarioSilent Scenario = "silent"
	// ScenarioSilentInit never answers initialize
	ScenarioSilentInit Scenario = "silentinit"
	// ScenarioBadVersion answers initialize with an unsupported protocol version
	ScenarioBadVersion Scenario = "badversion"
	// ScenarioGarbage answers tools/call with a frame that is not JSON
	ScenarioGarbage Scenario = "garbage"
	// ScenarioDuplicate answers tools/call twice with the same id
	ScenarioDuplicate Scenario = "duplicate"
	// ScenarioCrash exits on tools/call
	ScenarioCrash Scenario = "crash"
)

// Tool is a tool served by the stub
type Tool struct {
	Name        string
	Description string
	Schema      *schema.Schema
	Handler     func(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Result is a tools/call result
type Result struct {
	Content           []tools.Content `json:"content"`
	StructuredContent any             `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// TextResult returns a successful text result
func TextResult(text string) *Result {
	return &Result{Content: []tools.Content{tools.TextContent(text)}}
}

// ErrorResult returns a tool level failure
func ErrorResult(text string) *Result {
	return &Result{Content: []tools.Content{tools.TextContent(text)}, IsError: true}
}

// NewTool returns a tool with the parameter schema reflected from T.
// The handler receives the decoded arguments.
func NewTool[T any](name, description string, fn func(ctx context.Context, args *T) (*Result, error)) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		Schema:      schema.MustFor[T](),
		Handler: func(ctx context.Context, raw json.RawMessage) (*Result, error) {
			args := new(T)
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, args); err != nil {
					return nil, errors.Wrap(err, "invalid arguments")
				}
			}
			return fn(ctx, args)
		},
	}
}

// Option configures the Server
type Option func(*Server)

// WithScenario sets the scenario
func WithScenario(s Scenario) Option {
	return func(srv *Server) {
		srv.scenario = s
	}
}

// WithPageSize splits tools/list into pages of n tools
func WithPageSize(n int) Option {
	return func(srv *Server) {
		srv.pageSize = n
	}
}

// WithCrashHandler sets what ScenarioCrash does on tools/call,
// for example os.Exit in a subprocess or Disconnect on a local channel.
func WithCrashHandler(fn func()) Option {
	return func(srv *Server) {
		srv.onCrash = fn
	}
}

// WithProtocolVersion sets the version answered to initialize
func WithProtocolVersion(v string) Option {
	return func(srv *Server) {
		srv.version = v
	}
}

// Server is a stub tool server
type Server struct {
	name     string
	scenario Scenario
	pageSize int
	version  string
	onCrash  func()

	lock    sync.Mutex
	tools   []*Tool
	calls   map[string]int
	methods []string
}

// NewServer returns a server without tools
func NewServer(name string, opts ...Option) *Server {
	s := &Server{
		name:    name,
		version: "2025-06-18",
		calls:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddTool adds tools to the server
func (s *Server) AddTool(list ...*Tool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.tools = append(s.tools, list...)
}

// Calls returns the number of tools/call requests received for the tool
func (s *Server) Calls(tool string) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.calls[tool]
}

// Methods returns the methods of the received messages, in order
func (s *Server) Methods() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.methods...)
}

// HandleMessage handles a message and returns the replies
func (s *Server) HandleMessage(ctx context.Context, msg *transport.Message) []*transport.Message {
	s.lock.Lock()
	s.methods = append(s.methods, msg.Method)
	s.lock.Unlock()

	switch msg.Kind() {
	case transport.KindNotification:
		if msg.Method == "notifications/initialized" {
			return notification("notifications/message", map[string]any{
				"level":  "info",
				"logger": s.name,
				"data":   "ready",
			})
		}
		return nil
	case transport.KindRequest:
	default:
		return nil
	}

	id := *msg.ID
	switch msg.Method {
	case "initialize":
		if s.scenario == ScenarioSilentInit {
			return nil
		}
		version := s.version
		if s.scenario == ScenarioBadVersion {
			version = "1999-01-01"
		}
		return reply(id, map[string]any{
			"protocolVersion": version,
			"capabilities": map[string]any{
				"tools":   map[string]any{"listChanged": true},
				"logging": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    s.name,
				"version": "1.0.0",
			},
			"instructions": "Call setApiKey before sendMoney.",
		})
	case "ping":
		return reply(id, map[string]any{})
	case "tools/list":
		return s.listTools(id, msg.Params)
	case "tools/call":
		return s.callTool(ctx, id, msg.Params)
	}
	return []*transport.Message{
		transport.NewErrorResponse(id, transport.CodeMethodNotFound, "method not found: "+msg.Method),
	}
}

func (s *Server) listTools(id transport.RequestID, params json.RawMessage) []*transport.Message {
	s.lock.Lock()
	list := append([]*Tool(nil), s.tools...)
	s.lock.Unlock()

	start := 0
	if cursor := gjson.GetBytes(params, "cursor").String(); cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(list) {
			return []*transport.Message{transport.NewErrorResponse(id, transport.CodeInvalidParams, "invalid cursor")}
		}
		start = n
	}
	end := len(list)
	if s.pageSize > 0 && start+s.pageSize < end {
		end = start + s.pageSize
	}

	entries := make([]map[string]any, 0, end-start)
	for _, t := range list[start:end] {
		entries = append(entries, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": t.Schema,
		})
	}
	res := map[string]any{"tools": entries}
	if end < len(list) {
		res["nextCursor"] = strconv.Itoa(end)
	}
	return reply(id, res)
}

func (s *Server) callTool(ctx context.Context, id transport.RequestID, params json.RawMessage) []*transport.Message {
	var p struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
		Meta      struct {
			ProgressToken json.RawMessage `json:"progressToken"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return []*transport.Message{transport.NewErrorResponse(id, transport.CodeInvalidParams, err.Error())}
	}

	s.lock.Lock()
	s.calls[p.Name]++
	var tool *Tool
	for _, t := range s.tools {
		if t.Name == p.Name {
			tool = t
		}
	}
	s.lock.Unlock()

	switch s.scenario {
	case ScenarioSilent:
		return nil
	case ScenarioCrash:
		if s.onCrash != nil {
			s.onCrash()
		}
		return nil
	}

	if tool == nil {
		return []*transport.Message{transport.NewErrorResponse(id, transport.CodeInvalidParams, "unknown tool: "+p.Name)}
	}

	var args map[string]any
	if len(p.Arguments) > 0 {
		if err := json.Unmarshal(p.Arguments, &args); err != nil {
			return []*transport.Message{transport.NewErrorResponse(id, transport.CodeInvalidParams, err.Error())}
		}
	}
	if v := tool.Schema.ValidateArgs(args); len(v) > 0 {
		return []*transport.Message{transport.NewErrorResponse(id, transport.CodeInvalidParams, v[0].String())}
	}

	var out []*transport.Message
	if len(p.Meta.ProgressToken) > 0 {
		out = append(out, notification("notifications/progress", map[string]any{
			"progressToken": p.Meta.ProgressToken,
			"progress":      1,
			"total":         1,
			"message":       p.Name,
		})...)
	}

	res, err := tool.Handler(ctx, p.Arguments)
	if err != nil {
		res = ErrorResult(err.Error())
	}
	out = append(out, reply(id, res)...)
	if s.scenario == ScenarioDuplicate {
		out = append(out, reply(id, res)...)
	}
	return out
}

// Serve reads requests from r and writes replies to w until r ends.
// Messages are handled in order.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	ch := transport.NewStreamChannel(r, w, transport.WithName(s.name))
	defer ch.Close()

	for msg, err := range ch.Receive() {
		if err != nil {
			return err
		}
		if s.scenario == ScenarioGarbage && msg.Method == "tools/call" {
			if _, err := io.WriteString(w, "{this is not json\n"); err != nil {
				return errors.WithStack(err)
			}
			continue
		}
		for _, out := range s.HandleMessage(ctx, msg) {
			if err := ch.Send(ctx, out); err != nil {
				return err
			}
		}
	}
	logger.KV(xlog.DEBUG, "server", s.name, "status", "stopped")
	return nil
}

func reply(id transport.RequestID, result any) []*transport.Message {
	msg, err := transport.NewResponse(id, result)
	if err != nil {
		return []*transport.Message{transport.NewErrorResponse(id, transport.CodeInternalError, err.Error())}
	}
	return []*transport.Message{msg}
}

func notification(method string, params any) []*transport.Message {
	msg, err := transport.NewNotification(method, params)
	if err != nil {
		return nil
	}
	return []*transport.Message{msg}
}
