package mcp_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcp "github.com/MegaGrindStone/devtools-mcp"
)

func TestRequestIDUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    mcp.RequestID
		wantErr bool
	}{
		{name: "number", input: `42`, want: mcp.NewNumberID(42)},
		{name: "negative number", input: `-1`, want: mcp.NewNumberID(-1)},
		{name: "string", input: `"req-1"`, want: mcp.NewStringID("req-1")},
		{name: "null", input: `null`, want: ""},
		{name: "boolean", input: `true`, wantErr: true},
		{name: "object", input: `{"id":1}`, wantErr: true},
		{name: "array", input: `[1]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id mcp.RequestID
			err := json.Unmarshal([]byte(tt.input), &id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestRequestIDMarshalJSON(t *testing.T) {
	bs, err := json.Marshal(mcp.NewStringID("a\"b"))
	require.NoError(t, err)
	assert.Equal(t, `"a\"b"`, string(bs))

	bs, err = json.Marshal(mcp.NewNumberID(10))
	require.NoError(t, err)
	assert.Equal(t, `10`, string(bs))

	bs, err = json.Marshal(mcp.RequestID(""))
	require.NoError(t, err)
	assert.Equal(t, `null`, string(bs))

	assert.True(t, mcp.RequestID("").IsZero())
	assert.False(t, mcp.NewNumberID(0).IsZero())
	assert.NotEqual(t, mcp.NewNumberID(1), mcp.NewStringID("1"))
}

func TestMessageKind(t *testing.T) {
	tests := []struct {
		name string
		msg  mcp.JSONRPCMessage
		want mcp.MessageKind
	}{
		{name: "request", msg: mcp.JSONRPCMessage{ID: mcp.NewNumberID(1), Method: "ping"}, want: mcp.KindRequest},
		{name: "notification", msg: mcp.JSONRPCMessage{Method: "exit"}, want: mcp.KindNotification},
		{name: "response", msg: mcp.JSONRPCMessage{ID: mcp.NewNumberID(1), Result: json.RawMessage(`{}`)}, want: mcp.KindResponse},
		{
			name: "error response",
			msg:  mcp.JSONRPCMessage{ID: mcp.NewNumberID(1), Error: &mcp.JSONRPCError{Code: 1}},
			want: mcp.KindErrorResponse,
		},
		{name: "response without id", msg: mcp.JSONRPCMessage{Result: json.RawMessage(`{}`)}, want: mcp.KindInvalid},
		{
			name: "result and error",
			msg:  mcp.JSONRPCMessage{ID: mcp.NewNumberID(1), Result: json.RawMessage(`{}`), Error: &mcp.JSONRPCError{}},
			want: mcp.KindInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.Kind())
		})
	}
	assert.Equal(t, "error response", mcp.KindErrorResponse.String())
}

func TestCallToolResultJSON(t *testing.T) {
	bs, err := json.Marshal(mcp.TextResult("done"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"done"}]}`, string(bs))

	bs, err = json.Marshal(mcp.ErrorResult("Unknown tool: x"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"Unknown tool: x"}],"isError":true}`, string(bs))
}
