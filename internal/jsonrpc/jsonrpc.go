// Package jsonrpc implements the JSON-RPC 2.0 message codec used by the MCP
// protocol engine: framing, classification of the four message variants, and
// the standard error code table.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version carried on every message.
const Version = "2.0"

// DefaultMaxMessageSize is the default encoded-message size cap (4 MiB).
const DefaultMaxMessageSize = 4 * 1024 * 1024

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// MCP-specific error codes.
const (
	CodeServerError    = -32000
	CodeRequestTimeout = -32001
)

// Kind discriminates the four JSON-RPC message variants.
type Kind int

const (
	// KindInvalid marks a message that failed classification.
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindError
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// ID is a JSON-RPC request identifier: a non-null string or integer.
// We carry it as json.RawMessage so integers survive round-trips without
// float64 precision loss.
type ID = json.RawMessage

// ErrorObject is the JSON-RPC 2.0 error object carried by error responses.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message is the wire envelope for all four JSON-RPC variants. Decode
// populates Kind by inspecting which of id/method/result/error are present;
// callers switch on Kind to get at the variant-specific fields.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`

	Kind Kind `json:"-"`
}

// NewRequest builds a request message with the given id, method and params.
func NewRequest(id ID, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: id, Method: method, Params: raw, Kind: KindRequest}, nil
}

// NewNotification builds a notification message (no id).
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, Method: method, Params: raw, Kind: KindNotification}, nil
}

// NewResponse builds a success response for the given id.
func NewResponse(id ID, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshal result: %w", err)
	}
	return &Message{JSONRPC: Version, ID: id, Result: raw, Kind: KindResponse}, nil
}

// NewErrorResponse builds an error response for the given id (which may be
// nil/empty for errors detected before an id could be parsed).
func NewErrorResponse(id ID, code int, message string, data any) *Message {
	return &Message{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message, Data: data},
		Kind:    KindError,
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshal params: %w", err)
	}
	return raw, nil
}

// Encode serializes a message to a single line terminated by '\n', suitable
// for line-delimited transports. Embedded newlines inside string values are
// already JSON-escaped by encoding/json; no extra escaping is required.
// Encode rejects messages whose encoded size exceeds maxSize (use
// DefaultMaxMessageSize when the caller has no configured bound).
func Encode(msg *Message, maxSize int) ([]byte, error) {
	if msg.JSONRPC == "" {
		msg.JSONRPC = Version
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: encode: %w", err)
	}
	if maxSize > 0 && len(body) > maxSize {
		return nil, &ErrorObject{Code: CodeParseError, Message: "message exceeds size limit"}
	}
	body = append(body, '\n')
	return body, nil
}

// DecodeBatch parses raw as either a single JSON-RPC message or a JSON
// array of messages (a batch). isBatch reports which form was present on
// the wire, so callers can mirror it in the response shape (a lone message
// gets a lone response body; a batch gets an array). A top-level parse
// failure or an empty batch array returns a CodeParseError/CodeInvalidRequest
// *ErrorObject as err with msgs nil. A malformed element inside an
// otherwise well-formed batch does not fail the whole call: per JSON-RPC
// 2.0 batch semantics, that slot in msgs carries a synthetic KindError
// message (id null) describing the failure instead.
func DecodeBatch(raw []byte) (msgs []*Message, isBatch bool, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, &ErrorObject{Code: CodeParseError, Message: "empty request body"}
	}
	if trimmed[0] != '[' {
		msg, err := Decode(trimmed)
		if err != nil {
			return nil, false, err
		}
		return []*Message{msg}, false, nil
	}

	var elems []json.RawMessage
	if jsonErr := json.Unmarshal(trimmed, &elems); jsonErr != nil {
		return nil, true, &ErrorObject{Code: CodeParseError, Message: "parse error: " + jsonErr.Error()}
	}
	if len(elems) == 0 {
		return nil, true, &ErrorObject{Code: CodeInvalidRequest, Message: "batch must contain at least one message"}
	}

	msgs = make([]*Message, len(elems))
	for i, elem := range elems {
		msg, decErr := Decode(elem)
		if decErr != nil {
			errObj, ok := decErr.(*ErrorObject)
			if !ok {
				errObj = &ErrorObject{Code: CodeInvalidRequest, Message: decErr.Error()}
			}
			msg = &Message{JSONRPC: Version, Error: errObj, Kind: KindError}
		}
		msgs[i] = msg
	}
	return msgs, true, nil
}

// Decode parses a single JSON object and classifies it into one of the four
// message variants. Malformed JSON yields a CodeParseError *ErrorObject;
// well-formed JSON that violates JSON-RPC 2.0 shape yields CodeInvalidRequest.
func Decode(raw []byte) (*Message, error) {
	raw = bytes.TrimSpace(raw)
	var wire struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   *ErrorObject    `json:"error"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &ErrorObject{Code: CodeParseError, Message: "parse error: " + err.Error()}
	}

	msg := &Message{
		JSONRPC: wire.JSONRPC,
		ID:      wire.ID,
		Method:  wire.Method,
		Params:  wire.Params,
		Result:  wire.Result,
		Error:   wire.Error,
	}

	if msg.JSONRPC != Version {
		return nil, &ErrorObject{Code: CodeInvalidRequest, Message: "invalid or missing jsonrpc version"}
	}

	hasID := len(wire.ID) > 0 && string(wire.ID) != "null"
	hasMethod := wire.Method != ""
	hasResult := len(wire.Result) > 0
	hasError := wire.Error != nil

	switch {
	case hasMethod && hasID:
		msg.Kind = KindRequest
	case hasMethod && !hasID:
		msg.Kind = KindNotification
	case hasID && hasResult && !hasError:
		msg.Kind = KindResponse
	case hasID && hasError && !hasResult:
		msg.Kind = KindError
	default:
		return nil, &ErrorObject{Code: CodeInvalidRequest, Message: "message does not match any JSON-RPC 2.0 variant"}
	}
	return msg, nil
}
