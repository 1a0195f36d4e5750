package log

import (
	"context"
	"log/slog"
)

// Handler adds the session and RPC data carried by the context to every record.
type Handler struct {
	slog.Handler
}

// SessionData describes the connection a record belongs to.
type SessionData struct {
	SessionID string
}

// RPCMessage describes the message being dispatched.
type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

// ToolCallData describes the tool being executed.
type ToolCallData struct {
	ToolName string
}

type sessionDataKey struct{}

type rpcMsgKey struct{}

type toolCallDataKey struct{}

// Handle implements slog.Handler.
func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
		))
	}

	if msg, ok := ctx.Value(rpcMsgKey{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		))
	}

	if td, ok := ctx.Value(toolCallDataKey{}).(*ToolCallData); ok {
		r.AddAttrs(slog.Group("tool",
			slog.String("name", td.ToolName),
		))
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs implements slog.Handler, keeping the context lookup on derived handlers.
func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

// WithSessionData returns a context carrying data about the current connection.
func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

// WithRPCMessage returns a context carrying data about the message being dispatched.
func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsgKey{}, msg)
}

// WithToolCallData returns a context carrying data about the tool being executed.
func WithToolCallData(ctx context.Context, data *ToolCallData) context.Context {
	return context.WithValue(ctx, toolCallDataKey{}, data)
}

// SessionDataFrom returns the session data stored by WithSessionData.
func SessionDataFrom(ctx context.Context) (*SessionData, bool) {
	sd, ok := ctx.Value(sessionDataKey{}).(*SessionData)
	return sd, ok
}
