package tools

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/effective-security/mcpagent/pkg/llmutils"
)

// CallRequest is a tool invocation requested by the model
type CallRequest struct {
	// ID correlates the request with its result in the conversation
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ArgumentsJSON returns the arguments as JSON
func (r *CallRequest) ArgumentsJSON() string {
	if len(r.Arguments) == 0 {
		return "{}"
	}
	return llmutils.ToJSON(r.Arguments)
}

func (r *CallRequest) String() string {
	return r.Name + "(" + r.ArgumentsJSON() + ")"
}

// ResultKind reports whether a call succeeded
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultError
)

func (k ResultKind) String() string {
	if k == ResultError {
		return "error"
	}
	return "success"
}

// CallError describes a failed call
type CallError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// Content is a block of a tool result
type Content struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	Data     string            `json:"data,omitempty"`
	MimeType string            `json:"mimeType,omitempty"`
	URI      string            `json:"uri,omitempty"`
	Name     string            `json:"name,omitempty"`
	Resource *EmbeddedResource `json:"resource,omitempty"`
}

// EmbeddedResource is the payload of a resource content block
type EmbeddedResource struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// TextContent returns a text block
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// CallResult is the outcome of a tool call
type CallResult struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Kind       ResultKind      `json:"kind"`
	Content    []Content       `json:"content,omitempty"`
	Structured json.RawMessage `json:"structuredContent,omitempty"`
	Error      *CallError      `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration,omitempty"`
}

// NewErrorResult returns a failed result for the request
func NewErrorResult(req *CallRequest, message string) *CallResult {
	return &CallResult{
		ID:    req.ID,
		Name:  req.Name,
		Kind:  ResultError,
		Error: &CallError{Message: message},
	}
}

// Failed returns true if the call failed
func (r *CallResult) Failed() bool {
	return r.Kind == ResultError
}

// Text returns the textual content of the result.
// Text blocks are joined by newlines, binary blocks are replaced by a marker.
func (r *CallResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		switch c.Type {
		case "text":
			parts = append(parts, c.Text)
		case "image":
			parts = append(parts, "[image]")
		case "audio":
			parts = append(parts, "[audio]")
		case "resource":
			if c.Resource != nil && c.Resource.Text != "" {
				parts = append(parts, c.Resource.Text)
			} else {
				parts = append(parts, "[resource]")
			}
		case "resource_link":
			parts = append(parts, "[resource]")
		}
	}

	if len(parts) == 0 {
		switch {
		case len(r.Structured) > 0:
			return string(r.Structured)
		case r.Error != nil:
			return r.Error.Message
		}
	}
	return strings.Join(parts, "\n")
}
