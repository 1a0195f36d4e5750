package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dlog "github.com/MegaGrindStone/devtools-mcp/internal/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "", want: slog.LevelInfo},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := dlog.ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	_, err := dlog.Setup(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	defer slog.SetDefault(slog.Default())

	logger, err := dlog.Setup(&buf, "debug", "json")
	require.NoError(t, err)

	ctx := dlog.WithSessionData(context.Background(), &dlog.SessionData{SessionID: "s-1"})
	ctx = dlog.WithRPCMessage(ctx, &dlog.RPCMessage{Method: "callTool", ID: "7", Type: "request"})
	ctx = dlog.WithToolCallData(ctx, &dlog.ToolCallData{ToolName: "search_code"})

	logger.With(slog.String("component", "server")).InfoContext(ctx, "dispatched")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))

	assert.Equal(t, "server", rec["component"])
	assert.Equal(t, map[string]any{"id": "s-1"}, rec["sess"])
	assert.Equal(t, map[string]any{"method": "callTool", "id": "7", "type": "request"}, rec["rpc"])
	assert.Equal(t, map[string]any{"name": "search_code"}, rec["tool"])
}
