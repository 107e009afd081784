// Package mcperr defines the error taxonomy shared by the transport, session and agent packages.
// Every error produced by this module can be matched with errors.Is against one of the sentinels.
package mcperr

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrSpawn is returned when the tool server process cannot be started.
	ErrSpawn = errors.New("spawn error")
	// ErrHandshake is returned when the initialize exchange fails or times out.
	ErrHandshake = errors.New("handshake error")
	// ErrProtocolParse is returned for a frame that is not a valid JSON-RPC message.
	ErrProtocolParse = errors.New("protocol parse error")
	// ErrProtocol is returned when a well-formed message carries an unexpected payload.
	ErrProtocol = errors.New("protocol error")
	// ErrArgumentValidation is returned when tool arguments do not match the tool schema.
	ErrArgumentValidation = errors.New("argument validation error")
	// ErrToolCallTimeout is returned when a tool call does not complete in time.
	ErrToolCallTimeout = errors.New("tool call timeout")
	// ErrSessionClosed is returned for operations on a closing or closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrProcessCrashed is returned when the tool server exits unexpectedly.
	ErrProcessCrashed = errors.New("process crashed")
	// ErrTurnLimitExceeded is returned when the agent loop runs out of turns.
	ErrTurnLimitExceeded = errors.New("turn limit exceeded")
	// ErrCancelled is returned when the caller cancels an outstanding operation.
	ErrCancelled = errors.New("cancelled")
	// ErrChannelClosed is returned when sending on a closed channel.
	ErrChannelClosed = errors.New("channel closed")
	// ErrNotFound is returned when a tool name does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrTimeout is returned when a request does not complete in time.
	ErrTimeout = errors.New("request timeout")
)

// IsFatal returns true if the error must end an agent run.
func IsFatal(err error) bool {
	return errors.IsAny(err,
		ErrSessionClosed,
		ErrProcessCrashed,
		ErrTurnLimitExceeded,
		ErrCancelled,
	)
}

// Violation describes a single field that failed validation.
type Violation struct {
	// Path is the dotted path to the field, for example "payee.id" or "items[2]".
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// ValidationError enumerates every violated field of a tool call.
type ValidationError struct {
	Tool       string
	Violations []Violation
}

// NewValidationError returns a ValidationError for the tool.
func NewValidationError(tool string, violations ...Violation) *ValidationError {
	return &ValidationError{
		Tool:       tool,
		Violations: violations,
	}
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("invalid arguments for tool %q: %s", e.Tool, strings.Join(parts, "; "))
}

// Is matches ErrArgumentValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrArgumentValidation
}

// Fields returns the paths of the violated fields.
func (e *ValidationError) Fields() []string {
	fields := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		fields[i] = v.Path
	}
	return fields
}

// ParseError is returned for a frame that could not be decoded.
type ParseError struct {
	Frame []byte
	Cause error
}

func (e *ParseError) Error() string {
	frame := string(e.Frame)
	if len(frame) > 64 {
		frame = frame[:64] + "..."
	}
	return fmt.Sprintf("failed to parse frame %q: %v", frame, e.Cause)
}

// Unwrap returns the decoding error.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Is matches ErrProtocolParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrProtocolParse
}

// Mark returns err marked with kind, so errors.Is(err, kind) is true
// while the original message and chain are kept.
// The mark is visible to both the standard library and cockroachdb/errors.
func Mark(err error, kind error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, kind: kind}
}

type marked struct {
	err  error
	kind error
}

func (m *marked) Error() string {
	return m.err.Error()
}

// Unwrap returns the marked error
func (m *marked) Unwrap() error {
	return m.err
}

// Is matches the kind of the mark
func (m *marked) Is(target error) bool {
	return target == m.kind
}
