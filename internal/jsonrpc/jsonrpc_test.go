// ABOUTME: Tests for JSON-RPC envelope construction and response unwrapping.
// ABOUTME: Covers id assignment, notifications, error defaults and result extraction.

package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_BuildRequest_AssignsIncreasingIDs(t *testing.T) {
	codec := NewCodec()

	first, err := codec.BuildRequest("tools/list", nil)
	require.NoError(t, err)
	second, err := codec.BuildRequest("tools/list", nil)
	require.NoError(t, err)

	assert.Equal(t, "1", string(first.ID))
	assert.Equal(t, "2", string(second.ID))
	assert.Equal(t, Version, first.JSONRPC)
	assert.Equal(t, "tools/list", first.Method)
}

func TestCodec_BuildRequest_ExplicitID(t *testing.T) {
	codec := NewCodec()

	req, err := codec.BuildRequest("tools/call", map[string]any{"name": "x"}, json.RawMessage(`"abc"`))
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(req.ID))
	assert.JSONEq(t, `{"name":"x"}`, string(req.Params))

	// Explicit ids do not consume the counter
	next, err := codec.BuildRequest("ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "1", string(next.ID))
}

func TestCodec_IndependentCounters(t *testing.T) {
	a := NewCodec()
	b := NewCodec()

	_, _ = a.BuildRequest("ping", nil)
	_, _ = a.BuildRequest("ping", nil)
	req, err := b.BuildRequest("ping", nil)
	require.NoError(t, err)

	assert.Equal(t, "1", string(req.ID))
}

func TestCodec_BuildNotification(t *testing.T) {
	codec := NewCodec()

	note, err := codec.BuildNotification("notifications/initialized", nil)
	require.NoError(t, err)
	assert.True(t, note.IsNotification())

	data, err := json.Marshal(note)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, string(data))
}

func TestExtractError_Defaults(t *testing.T) {
	resp := &Response{JSONRPC: Version, ID: json.RawMessage("1"), Error: &Error{}}

	assert.True(t, IsError(resp))
	e := ExtractError(resp)
	require.NotNil(t, e)
	assert.Equal(t, -1, e.Code)
	assert.Equal(t, "Unknown error", e.Message)
	assert.Equal(t, "JSON-RPC Error -1: Unknown error", e.Error())
}

func TestExtractResult(t *testing.T) {
	tests := []struct {
		name    string
		resp    *Response
		want    string
		wantErr bool
	}{
		{
			name: "result",
			resp: &Response{Result: json.RawMessage(`{"tools":[]}`)},
			want: `{"tools":[]}`,
		},
		{
			name: "empty result is null",
			resp: &Response{},
			want: "null",
		},
		{
			name:    "error",
			resp:    &Response{Error: &Error{Code: MethodNotFound, Message: "method not found", Data: json.RawMessage(`{"m":"x"}`)}},
			wantErr: true,
		},
		{
			name:    "nil response",
			resp:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractResult(tt.resp)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestExtractResult_ErrorVerbatim(t *testing.T) {
	resp := &Response{Error: &Error{Code: -32001, Message: "boom", Data: json.RawMessage(`{"detail":1}`)}}

	_, err := ExtractResult(resp)

	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32001, rpcErr.Code)
	assert.Equal(t, "boom", rpcErr.Message)
	assert.JSONEq(t, `{"detail":1}`, string(rpcErr.Data))
}

func TestIDKey(t *testing.T) {
	assert.Equal(t, "7", IDKey(json.RawMessage(" 7 ")))
	assert.Equal(t, `"a"`, IDKey(json.RawMessage(`"a"`)))
}
