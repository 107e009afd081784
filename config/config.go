// Package config provides the configuration of the agent runtime:
// the tool servers, the session timeouts, the agent loop, the conversation store
// and the model providers.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/assistants"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/process"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/pkg/llmfactory"
	"github.com/effective-security/mcpagent/store"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// Store kinds
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config of the agent runtime
type Config struct {
	// Servers are the tool servers the agent can use
	Servers []*process.Descriptor `json:"servers" yaml:"servers" toml:"servers" validate:"required,min=1,dive"`
	Session Session               `json:"session" yaml:"session" toml:"session"`
	Agent   Agent                 `json:"agent" yaml:"agent" toml:"agent"`
	Store   Store                 `json:"store" yaml:"store" toml:"store"`
	LLM     llmfactory.Config     `json:"llm" yaml:"llm" toml:"llm"`
}

// Session configures the sessions with the tool servers
type Session struct {
	StartupTimeout  Duration `json:"startup_timeout,omitempty" yaml:"startup_timeout,omitempty" toml:"startup_timeout,omitempty"`
	RequestTimeout  Duration `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty" toml:"request_timeout,omitempty"`
	ToolCallTimeout Duration `json:"tool_call_timeout,omitempty" yaml:"tool_call_timeout,omitempty" toml:"tool_call_timeout,omitempty"`
	GracefulTimeout Duration `json:"graceful_timeout,omitempty" yaml:"graceful_timeout,omitempty" toml:"graceful_timeout,omitempty"`
	// ParsePolicy for malformed frames: fail|skip
	ParsePolicy string `json:"parse_policy,omitempty" yaml:"parse_policy,omitempty" toml:"parse_policy,omitempty" validate:"omitempty,oneof=fail skip"`
	// RefreshOnListChanged reloads the tools on notifications/tools/list_changed
	RefreshOnListChanged bool `json:"refresh_on_list_changed,omitempty" yaml:"refresh_on_list_changed,omitempty" toml:"refresh_on_list_changed,omitempty"`
}

// Agent configures the agent loop
type Agent struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	MaxTurns int    `json:"max_turns,omitempty" yaml:"max_turns,omitempty" toml:"max_turns,omitempty" validate:"gte=0"`
	// Dispatch policy of the tool calls: collect_all|fail_fast
	Dispatch string `json:"dispatch,omitempty" yaml:"dispatch,omitempty" toml:"dispatch,omitempty" validate:"omitempty,oneof=collect_all fail_fast"`
	// CancelScope on cancellation: step|session
	CancelScope     string   `json:"cancel_scope,omitempty" yaml:"cancel_scope,omitempty" toml:"cancel_scope,omitempty" validate:"omitempty,oneof=step session"`
	ToolCallTimeout Duration `json:"tool_call_timeout,omitempty" yaml:"tool_call_timeout,omitempty" toml:"tool_call_timeout,omitempty"`
}

// Store configures the conversation store
type Store struct {
	// Kind is memory|redis
	Kind     string `json:"kind,omitempty" yaml:"kind,omitempty" toml:"kind,omitempty" validate:"omitempty,oneof=memory redis"`
	Addr     string `json:"addr,omitempty" yaml:"addr,omitempty" toml:"addr,omitempty" validate:"required_if=Kind redis"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty" toml:"db,omitempty" validate:"gte=0"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty" toml:"prefix,omitempty"`
	MaxTurns int    `json:"max_turns,omitempty" yaml:"max_turns,omitempty" toml:"max_turns,omitempty" validate:"gte=0"`
}

// Load returns the configuration from a YAML, JSON or TOML file.
// Variables like ${NAME} in string values are expanded from the environment,
// and env:// or file:// values are resolved.
func Load(file string) (*Config, error) {
	var err error
	cfg := new(Config)
	switch ext := strings.ToLower(filepath.Ext(file)); ext {
	case ".yaml", ".yml", ".json":
		err = configloader.Unmarshal(file, cfg)
	case ".toml":
		_, err = toml.DecodeFile(file, cfg)
	default:
		return nil, errors.Newf("unsupported config format: %s", ext)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to load config: %s", file)
	}
	if err = configloader.ExpandAll(cfg); err != nil {
		return nil, errors.WithMessagef(err, "unable to expand config: %s", file)
	}

	cfg.SetDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults fills the values that are not configured
func (c *Config) SetDefaults() {
	c.Session.StartupTimeout = c.Session.StartupTimeout.orDefault(mcp.DefaultStartupTimeout)
	c.Session.RequestTimeout = c.Session.RequestTimeout.orDefault(mcp.DefaultRequestTimeout)
	c.Session.ToolCallTimeout = c.Session.ToolCallTimeout.orDefault(mcp.DefaultToolCallTimeout)
	c.Session.GracefulTimeout = c.Session.GracefulTimeout.orDefault(mcp.DefaultGracefulTimeout)
	c.Session.ParsePolicy = values.StringsCoalesce(c.Session.ParsePolicy, transport.ParseFailFast.String())

	c.Agent.Name = values.StringsCoalesce(c.Agent.Name, "agent")
	c.Agent.MaxTurns = values.NumbersCoalesce(c.Agent.MaxTurns, assistants.DefaultMaxTurns)
	c.Agent.Dispatch = values.StringsCoalesce(c.Agent.Dispatch, assistants.DispatchCollectAll.String())
	c.Agent.CancelScope = values.StringsCoalesce(c.Agent.CancelScope, assistants.CancelScopeStep.String())

	c.Store.Kind = values.StringsCoalesce(c.Store.Kind, StoreMemory)
	c.Store.Prefix = values.StringsCoalesce(c.Store.Prefix, "mcpagent")
	c.Store.MaxTurns = values.NumbersCoalesce(c.Store.MaxTurns, store.DefaultMaxTurns)
}

// Validate returns an error if the configuration is invalid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	seen := map[string]bool{}
	for _, s := range c.Servers {
		name := s.DisplayName()
		if seen[name] {
			return errors.Newf("invalid config: duplicate server: %s", name)
		}
		seen[name] = true
	}
	return nil
}

// Server returns the server descriptor by name, or the first one if name is empty
func (c *Config) Server(name string) (*process.Descriptor, error) {
	if name == "" && len(c.Servers) > 0 {
		return c.Servers[0], nil
	}
	for _, s := range c.Servers {
		if s.DisplayName() == name {
			return s, nil
		}
	}
	return nil, errors.Newf("server not found: %s", name)
}

// Options returns the session options
func (s *Session) Options() []mcp.Option {
	opts := []mcp.Option{
		mcp.WithStartupTimeout(time.Duration(s.StartupTimeout)),
		mcp.WithRequestTimeout(time.Duration(s.RequestTimeout)),
		mcp.WithToolCallTimeout(time.Duration(s.ToolCallTimeout)),
		mcp.WithGracefulTimeout(time.Duration(s.GracefulTimeout)),
		mcp.WithParsePolicy(transport.ParsePolicyFromString(s.ParsePolicy)),
	}
	if s.RefreshOnListChanged {
		opts = append(opts, mcp.WithRefreshOnListChanged())
	}
	return opts
}

// Options returns the agent options
func (a *Agent) Options() []assistants.Option {
	dispatch := assistants.DispatchCollectAll
	if a.Dispatch == assistants.DispatchFailFast.String() {
		dispatch = assistants.DispatchFailFast
	}
	scope := assistants.CancelScopeStep
	if a.CancelScope == assistants.CancelScopeSession.String() {
		scope = assistants.CancelScopeSession
	}
	return []assistants.Option{
		assistants.WithName(a.Name),
		assistants.WithMaxTurns(a.MaxTurns),
		assistants.WithDispatch(dispatch),
		assistants.WithCancelScope(scope),
		assistants.WithToolCallTimeout(time.Duration(a.ToolCallTimeout)),
	}
}

// New returns the conversation store
func (s *Store) New() (store.ChatManager, error) {
	switch s.Kind {
	case "", StoreMemory:
		return store.NewMemoryStore(store.WithMaxTurns(s.MaxTurns)), nil
	case StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     s.Addr,
			Password: s.Password,
			DB:       s.DB,
		})
		return store.NewRedisStore(client, s.Prefix, store.WithMaxTurns(s.MaxTurns)), nil
	}
	return nil, errors.Newf("unsupported store kind: %s", s.Kind)
}
