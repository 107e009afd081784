package transport

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Version is the JSON-RPC version carried by every message.
const Version = "2.0"

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RequestID is the correlation id of a request.
// The client always issues numeric ids, but accepts string ids from the peer.
type RequestID struct {
	num   int64
	str   string
	isStr bool
}

// NewRequestID returns a numeric id
func NewRequestID(n int64) RequestID {
	return RequestID{num: n}
}

// NewStringRequestID returns a string id
func NewStringRequestID(s string) RequestID {
	return RequestID{str: s, isStr: true}
}

// Int64 returns the numeric value and true if the id is numeric
func (id RequestID) Int64() (int64, bool) {
	return id.num, !id.isStr
}

func (id RequestID) String() string {
	if id.isStr {
		return id.str
	}
	return strconv.FormatInt(id.num, 10)
}

// MarshalJSON implements json.Marshaler
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Wrap(err, "invalid string id")
		}
		*id = NewStringRequestID(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrap(err, "invalid numeric id")
	}
	*id = NewRequestID(n)
	return nil
}

// RPCError is the error object of a JSON-RPC error response
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return "RPC error " + strconv.Itoa(e.Code) + ": " + e.Message
}

// Kind describes the shape of a message
type Kind int

const (
	// KindInvalid is a message that is none of the below
	KindInvalid Kind = iota
	// KindRequest has an id and a method
	KindRequest
	// KindNotification has a method and no id
	KindNotification
	// KindResponse has an id and a result
	KindResponse
	// KindError has an id and an error object
	KindError
)

var kindNames = map[Kind]string{
	KindInvalid:      "invalid",
	KindRequest:      "request",
	KindNotification: "notification",
	KindResponse:     "response",
	KindError:        "error",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Message is a JSON-RPC 2.0 message: a request, a notification or a response.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Kind returns the shape of the message
func (m *Message) Kind() Kind {
	switch {
	case m.Method != "" && m.ID != nil:
		return KindRequest
	case m.Method != "":
		return KindNotification
	case m.ID != nil && m.Error != nil:
		return KindError
	case m.ID != nil && m.Result != nil:
		return KindResponse
	}
	return KindInvalid
}

// NewRequest returns a request message
func NewRequest(id RequestID, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{
		JSONRPC: Version,
		ID:      &id,
		Method:  method,
		Params:  raw,
	}, nil
}

// NewNotification returns a notification message
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
	}, nil
}

// NewResponse returns a response message for the request id
func NewResponse(id RequestID, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal result")
	}
	return &Message{
		JSONRPC: Version,
		ID:      &id,
		Result:  raw,
	}, nil
}

// NewErrorResponse returns an error response for the request id
func NewErrorResponse(id RequestID, code int, message string) *Message {
	return &Message{
		JSONRPC: Version,
		ID:      &id,
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal params")
	}
	return raw, nil
}

// Decode parses one frame into a message.
// The frame must be a JSON object with "jsonrpc": "2.0" and a recognizable shape.
func Decode(frame []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return nil, err
	}
	if m.JSONRPC != Version {
		return nil, errors.Newf("unsupported jsonrpc version %q", m.JSONRPC)
	}
	if m.Kind() == KindInvalid {
		return nil, errors.New("message is neither request, notification nor response")
	}
	return &m, nil
}
