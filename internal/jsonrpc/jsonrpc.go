// ABOUTME: JSON-RPC 2.0 envelope types and the codec used by tool server clients and servers.
// ABOUTME: Builds requests/notifications with a per-codec id counter and unwraps responses.

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
)

// Version is the only protocol version this package speaks.
const Version = "2.0"

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// ErrNoResult is returned when a response carries neither result nor error.
var ErrNoResult = errors.New("response has no result")

// Request represents a JSON-RPC 2.0 request. A request without an ID is a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether no response is expected for r.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object. It doubles as the protocol error
// surfaced to callers when a remote server answers with an error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("JSON-RPC Error %d: %s", e.Code, e.Message)
}

// Codec builds outbound envelopes. Each codec owns its id counter, so independently
// constructed clients never share ids.
type Codec struct {
	next atomic.Int64
}

// NewCodec creates a codec whose first auto-assigned id is 1.
func NewCodec() *Codec {
	return &Codec{}
}

// NextID returns the next request id.
func (c *Codec) NextID() int64 {
	return c.next.Add(1)
}

// BuildRequest creates a request for method. When id is omitted the next id from the
// codec counter is assigned.
func (c *Codec) BuildRequest(method string, params any, id ...json.RawMessage) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	var reqID json.RawMessage
	if len(id) > 0 && len(id[0]) > 0 {
		reqID = id[0]
	} else {
		reqID = json.RawMessage(strconv.FormatInt(c.NextID(), 10))
	}

	return &Request{
		JSONRPC: Version,
		ID:      reqID,
		Method:  method,
		Params:  raw,
	}, nil
}

// BuildNotification creates a request without an id; no response is expected.
func (c *Codec) BuildNotification(method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
	}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params: %w", err)
	}
	return data, nil
}

// IsError reports whether the response carries an error object.
func IsError(resp *Response) bool {
	return resp != nil && resp.Error != nil
}

// ExtractError returns the response error with defaults applied, or nil.
func ExtractError(resp *Response) *Error {
	if !IsError(resp) {
		return nil
	}
	e := *resp.Error
	if e.Code == 0 {
		e.Code = -1
	}
	if e.Message == "" {
		e.Message = "Unknown error"
	}
	return &e
}

// ExtractResult returns the raw result, or the extracted error when the response failed.
func ExtractResult(resp *Response) (json.RawMessage, error) {
	if resp == nil {
		return nil, ErrNoResult
	}
	if e := ExtractError(resp); e != nil {
		return nil, e
	}
	if len(resp.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return resp.Result, nil
}

// IDKey canonicalises an id for use as a correlation key.
func IDKey(id json.RawMessage) string {
	return string(bytes.TrimSpace(id))
}

// NewErrorResponse builds an error response for id.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

// NewResultResponse builds a success response for id.
func NewResultResponse(id json.RawMessage, result any) (*Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Result:  data,
	}, nil
}
