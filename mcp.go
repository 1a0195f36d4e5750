package mcp

import (
	"context"
	"errors"
	"iter"
)

var errSessionClosed = errors.New("session is closed")

// ServerTransport provides the server-side communication layer.
type ServerTransport interface {
	// Sessions returns an iterator that yields a Session for every new connection. The
	// session ID is unique across all active connections.
	//
	// The implementation should exit the iteration when the Shutdown method is called.
	Sessions() iter.Seq[Session]

	// Shutdown gracefully shuts down the ServerTransport to clean up resources. The caller
	// stops the sessions it received before calling this method, and calls it only once.
	Shutdown(ctx context.Context) error
}

// ClientTransport provides the client-side communication layer.
type ClientTransport interface {
	// StartSession connects to the server and returns the session once it is ready to send.
	StartSession(ctx context.Context) (Session, error)
}

// Session is a bidirectional line channel between server and client. One line carries
// exactly one encoded message; transports never interpret the lines they carry.
type Session interface {
	// ID returns the unique identifier of the session.
	ID() string

	// Send delivers one line to the peer. The line may or may not carry the trailing newline.
	Send(ctx context.Context, line []byte) error

	// Lines returns an iterator over the lines received from the peer, without their line
	// terminator. The iteration ends when the peer closes the channel or the session is
	// stopped.
	Lines() iter.Seq[[]byte]

	// Stop stops the session and releases the channel. The caller is guaranteed to call this
	// method once.
	Stop()
}

// ResourceServer provides the static resource catalog.
type ResourceServer interface {
	// ListResources returns the resources the server exposes.
	ListResources(ctx context.Context) ([]Resource, error)

	// ReadResource returns the contents of the resource identified by uri.
	ReadResource(ctx context.Context, uri string) (ResourceContents, error)
}

// PromptServer provides the static prompt catalog.
type PromptServer interface {
	// ListPrompts returns the prompts the server exposes.
	ListPrompts(ctx context.Context) ([]Prompt, error)

	// GetPrompt renders the named prompt with the given arguments.
	GetPrompt(ctx context.Context, name string, arguments map[string]string) (GetPromptResult, error)
}
