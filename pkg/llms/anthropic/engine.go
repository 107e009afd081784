package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/pkg/llmutils"
	"github.com/effective-security/mcpagent/pkg/mcperr"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "anthropic")

var (
	ErrEmptyResponse          = errors.New("anthropic: no response")
	ErrMissingToken           = errors.New("anthropic: missing API key, set it in the ANTHROPIC_API_KEY environment variable")
	ErrUnsupportedContentType = errors.New("anthropic: unsupported content type")
	ErrInvalidToolInput       = errors.New("anthropic: invalid tool input")
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultMaxTokens  = 4096
	DefaultMaxRetries = 2
)

// Engine is a decision engine backed by the Anthropic Messages API
type Engine struct {
	Client  *anthropic.Client
	Options *Options
}

// New creates a new Anthropic decision engine using the official Anthropic SDK.
//
// If no token is provided via options, the API key is read
// from the ANTHROPIC_API_KEY environment variable.
//
// Example usage:
//
//	engine, err := anthropic.New(
//	    anthropic.WithModel("claude-sonnet-4-5"),
//	    anthropic.WithSystemPrompt("You are a payments assistant."),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	agent := assistants.NewAgent(engine, session)
func New(opts ...Option) (*Engine, error) {
	options := &Options{
		Token:      os.Getenv(TokenEnvVarName),
		BaseURL:    DefaultBaseURL,
		HttpClient: http.DefaultClient,
		MaxRetries: DefaultMaxRetries,
	}

	for _, opt := range opts {
		opt(options)
	}

	if len(options.Token) == 0 {
		return nil, ErrMissingToken
	}
	if options.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}

	return &Engine{
		Client:  newClient(options),
		Options: options,
	}, nil
}

func newClient(options *Options) *anthropic.Client {
	sdkOpts := []option.RequestOption{
		option.WithAPIKey(options.Token),
		option.WithMaxRetries(options.MaxRetries),
		option.WithRequestTimeout(5 * time.Minute),
	}

	if options.BaseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(options.BaseURL))
	}
	if options.HttpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(options.HttpClient))
	}
	if options.AnthropicBetaHeader != "" {
		sdkOpts = append(sdkOpts, option.WithHeader("anthropic-beta", options.AnthropicBetaHeader))
	}

	client := anthropic.NewClient(sdkOpts...)
	return &client
}

// Name returns the model name
func (e *Engine) Name() string {
	return e.Options.Model
}

// Decide sends the conversation and the available tools to the Messages API,
// and returns the tool_use blocks of the reply as tool calls,
// or its text as the final answer.
func (e *Engine) Decide(ctx context.Context, conv chatmodel.Conversation, list []*tools.Descriptor) (*chatmodel.Decision, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.Options.Model),
		Messages:  ToMessages(conv),
		MaxTokens: values.NumbersCoalesce(e.Options.MaxTokens, DefaultMaxTokens),
	}

	if e.Options.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: e.Options.System,
			},
		}
	}
	if e.Options.Temperature > 0 {
		params.Temperature = anthropic.Float(e.Options.Temperature)
	}
	if sdkTools := ToTools(list); len(sdkTools) > 0 {
		params.Tools = sdkTools
	}

	result, err := e.Client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic: failed to create message")
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "message",
		"model", e.Options.Model,
		"id", result.ID,
		"stop_reason", string(result.StopReason),
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
	)

	return ToDecision(result)
}

// ToDecision converts the reply of the Messages API to a decision
func ToDecision(result *anthropic.Message) (*chatmodel.Decision, error) {
	var text []string
	var calls []*tools.CallRequest
	for _, contentBlock := range result.Content {
		switch content := contentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			if content.Text != "" {
				text = append(text, content.Text)
			}
		case anthropic.ToolUseBlock:
			raw, err := json.Marshal(content.Input)
			if err != nil {
				return nil, errors.Wrap(err, "anthropic: failed to marshal tool use arguments")
			}
			args, err := ParseToolInput(raw)
			if err != nil {
				return nil, errors.WithMessagef(err, "tool %s", content.Name)
			}
			calls = append(calls, &tools.CallRequest{
				ID:        content.ID,
				Name:      content.Name,
				Arguments: args,
			})
		default:
			return nil, errors.WithMessagef(ErrUnsupportedContentType, "anthropic: %T", content)
		}
	}

	d := &chatmodel.Decision{
		Usage: &chatmodel.Usage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		},
	}
	content := strings.Join(text, "\n")
	if len(calls) > 0 {
		d.Content = content
		d.ToolCalls = calls
		return d, nil
	}
	if content == "" {
		return nil, ErrEmptyResponse
	}
	d.FinalAnswer = content
	return d, nil
}

// ParseToolInput returns the arguments of a tool_use block.
// An input encoded as a JSON string, optionally fenced in backticks, is decoded as well.
func ParseToolInput(raw []byte) (map[string]any, error) {
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		if args == nil {
			args = map[string]any{}
		}
		return args, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, mcperr.Mark(errors.Newf("anthropic: invalid tool input: %s", string(raw)), ErrInvalidToolInput)
	}
	cleaned := llmutils.ExtractJSON([]byte(s))
	if err := json.Unmarshal(cleaned, &args); err != nil || args == nil {
		return nil, mcperr.Mark(errors.Newf("anthropic: invalid tool input: %s", s), ErrInvalidToolInput)
	}
	return args, nil
}

// ToTools converts the tool descriptors to Anthropic SDK tool parameters.
// Returns nil if no tools are provided.
func ToTools(list []*tools.Descriptor) []anthropic.ToolUnionParam {
	if len(list) == 0 {
		return nil
	}

	sdkTools := make([]anthropic.ToolUnionParam, len(list))
	for i, tool := range list {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: "object",
		}
		if tool.Schema != nil {
			inputSchema.Properties = tool.Schema.PropertiesMap()
			if len(tool.Schema.Required) > 0 {
				inputSchema.Required = tool.Schema.Required
			}
		}

		description := tool.Description
		if description == "" {
			description = tool.DisplayName()
		}
		sdkTools[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(description),
				InputSchema: inputSchema,
			},
		}
	}
	return sdkTools
}

// ToMessages converts the conversation to Anthropic SDK message parameters.
//
// User turns become user messages, model turns become assistant messages with
// their text and tool_use blocks. Consecutive tool turns are merged into one user
// message of tool_result blocks, as the API expects every result of an assistant
// message in the next user message.
func ToMessages(conv chatmodel.Conversation) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(conv))
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			messages = append(messages, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, turn := range conv {
		switch turn.Role {
		case chatmodel.RoleTool:
			if len(turn.ToolResults) == 0 {
				results = append(results, anthropic.NewTextBlock(turn.Content))
				continue
			}
			for _, res := range turn.ToolResults {
				results = append(results, anthropic.NewToolResultBlock(res.ID, turn.Content, res.Failed()))
			}
		case chatmodel.RoleModel:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if turn.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
			}
			for _, call := range turn.ToolCalls {
				args := call.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, args, call.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flush()
			if turn.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
			}
		}
	}
	flush()
	return messages
}
