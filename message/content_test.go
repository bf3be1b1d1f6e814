package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeContentDispatchesOnType(t *testing.T) {
	tests := []struct {
		msgType string
		raw     string
		check   func(t *testing.T, content any)
	}{
		{
			msgType: TypeExecuteRequest,
			raw:     `{"code":"print(1)","allow_stdin":true,"silent":false}`,
			check: func(t *testing.T, content any) {
				req, ok := content.(*ExecuteRequest)
				require.True(t, ok)
				assert.Equal(t, "print(1)", req.Code)
				assert.True(t, req.AllowStdin)
			},
		},
		{
			msgType: TypeStream,
			raw:     `{"name":"stdout","text":"hello"}`,
			check: func(t *testing.T, content any) {
				s, ok := content.(*Stream)
				require.True(t, ok)
				assert.Equal(t, StreamStdout, s.Name)
				assert.Equal(t, "hello", s.Text)
			},
		},
		{
			msgType: TypeInputReply,
			raw:     `{"value":"42"}`,
			check: func(t *testing.T, content any) {
				r, ok := content.(*InputReply)
				require.True(t, ok)
				assert.Equal(t, "42", r.Value)
			},
		},
		{
			msgType: TypeShutdownRequest,
			raw:     `{"restart":true}`,
			check: func(t *testing.T, content any) {
				r, ok := content.(*ShutdownRequest)
				require.True(t, ok)
				assert.True(t, r.Restart)
			},
		},
		{
			msgType: TypeStatus,
			raw:     `{"execution_state":"busy"}`,
			check: func(t *testing.T, content any) {
				s, ok := content.(*Status)
				require.True(t, ok)
				assert.Equal(t, "busy", s.ExecutionState)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.msgType, func(t *testing.T) {
			content, err := DecodeContent(tt.msgType, json.RawMessage(tt.raw))
			require.NoError(t, err)
			tt.check(t, content)
		})
	}
}

func TestDecodeContentUnknownTypeFallsBackToMap(t *testing.T) {
	content, err := DecodeContent("comm_open", json.RawMessage(`{"comm_id":"abc"}`))
	require.NoError(t, err)

	generic, ok := content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc", generic["comm_id"])
}

func TestDecodeContentRejectsBadJSON(t *testing.T) {
	_, err := DecodeContent(TypeExecuteRequest, json.RawMessage(`{"code":`))
	require.Error(t, err)

	_, err = DecodeContent("unknown_type", json.RawMessage(`not json`))
	require.Error(t, err)
}
