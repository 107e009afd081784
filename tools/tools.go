package tools

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llmutils"
	"github.com/effective-security/mcpagent/pkg/mcperr"
	"github.com/effective-security/mcpagent/pkg/schema"
)

// Descriptor describes a tool as advertised by the server
type Descriptor struct {
	Name        string
	Title       string
	Description string
	// Schema is the parameter schema, an object schema
	Schema *schema.Schema
	// Raw is the entry as received from the server
	Raw json.RawMessage
}

type wireDescriptor struct {
	Name            string          `json:"name"`
	Title           string          `json:"title,omitempty"`
	Description     string          `json:"description,omitempty"`
	InputSchema     json.RawMessage `json:"inputSchema,omitempty"`
	ParameterSchema json.RawMessage `json:"parameterSchema,omitempty"`
}

// ParseDescriptor parses a tools/list entry.
// The parameter schema is read from inputSchema, or parameterSchema as a fallback.
func ParseDescriptor(raw json.RawMessage) (*Descriptor, error) {
	var w wireDescriptor
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, mcperr.Mark(errors.Wrap(err, "invalid tool descriptor"), mcperr.ErrProtocol)
	}
	if strings.TrimSpace(w.Name) == "" {
		return nil, mcperr.Mark(errors.New("tool descriptor without name"), mcperr.ErrProtocol)
	}

	rawSchema := w.InputSchema
	if len(bytes.TrimSpace(rawSchema)) == 0 {
		rawSchema = w.ParameterSchema
	}
	s, err := schema.Parse(rawSchema)
	if err != nil {
		return nil, mcperr.Mark(errors.WithMessagef(err, "tool %q", w.Name), mcperr.ErrProtocol)
	}

	return &Descriptor{
		Name:        w.Name,
		Title:       w.Title,
		Description: w.Description,
		Schema:      s,
		Raw:         raw,
	}, nil
}

// MarshalJSON returns the tools/list form of the descriptor
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	w := wireDescriptor{
		Name:        d.Name,
		Title:       d.Title,
		Description: d.Description,
	}
	if d.Schema != nil {
		w.InputSchema = d.Schema.Raw()
	} else {
		w.InputSchema = json.RawMessage(`{"type":"object"}`)
	}
	return json.Marshal(w)
}

// DisplayName returns the title if set, the name otherwise
func (d *Descriptor) DisplayName() string {
	if d.Title != "" {
		return d.Title
	}
	return d.Name
}

type toolDescription struct {
	Name        string `json:"Name" yaml:"Name"`
	Description string `json:"Description" yaml:"Description"`
}

type toolsDescription struct {
	Tools []toolDescription `json:"Tools" yaml:"Tools"`
}

// GetDescriptions returns the names and descriptions of the tools as a JSON block,
// to be used in a prompt.
func GetDescriptions(list ...*Descriptor) string {
	var d toolsDescription
	for _, tool := range list {
		d.Tools = append(d.Tools, toolDescription{
			Name:        tool.Name,
			Description: tool.Description,
		})
	}
	return llmutils.FenceJSON(llmutils.ToJSONIndent(d))
}
