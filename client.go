package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Client is a sequential JSON-RPC client for the server in this package. Each call sends one
// request and waits for the response with the same id before returning, mirroring how the
// server processes messages. Use NewClient to create instances, and Connect before calling
// anything else.
type Client struct {
	info      Info
	transport ClientTransport
	logger    *slog.Logger

	requestTimeout time.Duration

	mu       sync.Mutex
	session  Session
	incoming chan []byte
	done     chan struct{}
	nextID   int64
}

// ClientOption represents the options for the client.
type ClientOption func(*Client)

var (
	// ErrClientNotConnected is returned when a call is made before Connect.
	ErrClientNotConnected = errors.New("client not connected")

	errSessionEnded = errors.New("session ended before the response arrived")
)

const defaultClientRequestTimeout = 30 * time.Second

// NewClient creates a client identifying itself with info.
func NewClient(info Info, transport ClientTransport, options ...ClientOption) *Client {
	c := &Client{
		info:           info,
		transport:      transport,
		logger:         slog.Default(),
		requestTimeout: defaultClientRequestTimeout,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With(
			slog.String("package", "devtools-mcp"),
			slog.String("component", "client"),
		)
	}
}

// WithClientRequestTimeout bounds how long a call waits for its response.
func WithClientRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.requestTimeout = timeout
	}
}

// Connect starts the transport session.
func (c *Client) Connect(ctx context.Context) error {
	sess, err := c.transport.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	c.mu.Lock()
	c.session = sess
	c.incoming = make(chan []byte)
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.listen(sess, c.incoming, c.done)
	return nil
}

// Initialize performs the initialize handshake.
func (c *Client) Initialize(ctx context.Context) (InitializeResult, error) {
	var result InitializeResult
	err := c.call(ctx, MethodInitialize, InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      c.info,
	}, &result)
	return result, err
}

// ListTools returns the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var result ListToolsResult
	if err := c.call(ctx, MethodListTools, nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// ListResources returns the server's resource catalog.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	var result ListResourcesResult
	if err := c.call(ctx, MethodListResources, nil, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ReadResource returns the contents of a resource.
func (c *Client) ReadResource(ctx context.Context, uri string) (ReadResourceResult, error) {
	var result ReadResourceResult
	err := c.call(ctx, MethodReadResource, ReadResourceParams{URI: uri}, &result)
	return result, err
}

// ListPrompts returns the server's prompt catalog.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var result ListPromptsResult
	if err := c.call(ctx, MethodListPrompts, nil, &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// GetPrompt renders a prompt.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (GetPromptResult, error) {
	var result GetPromptResult
	err := c.call(ctx, MethodGetPrompt, GetPromptParams{Name: name, Arguments: arguments}, &result)
	return result, err
}

// CallTool invokes a tool. arguments is marshaled as the tool's argument object. Domain
// failures are reported in the result, not as an error.
func (c *Client) CallTool(ctx context.Context, name string, arguments any) (CallToolResult, error) {
	raw, err := json.Marshal(arguments)
	if err != nil {
		return CallToolResult{}, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	var result CallToolResult
	err = c.call(ctx, MethodCallTool, CallToolParams{Name: name, Arguments: raw}, &result)
	return result, err
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, nil, nil)
}

// Shutdown asks the server to stop accepting requests.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.call(ctx, MethodShutdown, nil, nil)
}

// Exit sends the exit notification. The server answers nothing and closes the session.
func (c *Client) Exit(ctx context.Context) error {
	return c.Notify(ctx, MethodExit, nil)
}

// Call sends a request with the given method and params and returns the raw result. A
// JSON-RPC error response is returned as a JSONRPCError.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.call(ctx, method, params, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Notify sends a notification.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ErrClientNotConnected
	}
	msg, err := newMessage(RequestID(""), method, params)
	if err != nil {
		return err
	}
	return c.send(ctx, msg)
}

// Close stops the session.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return
	}
	close(c.done)
	c.session.Stop()
	c.session = nil
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ErrClientNotConnected
	}

	c.nextID++
	id := NewNumberID(c.nextID)

	msg, err := newMessage(id, method, params)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	if err := c.send(ctx, msg); err != nil {
		return err
	}

	for {
		var line []byte
		var ok bool
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to wait for %s response: %w", method, ctx.Err())
		case line, ok = <-c.incoming:
		}
		if !ok {
			return errSessionEnded
		}

		resp, err := DecodeResponse(line)
		if err != nil {
			c.logger.Warn("dropping undecodable line", slog.String("err", err.Error()))
			continue
		}
		if resp.ID != id {
			// A response to an earlier call that timed out.
			c.logger.Warn("dropping response with unexpected id",
				slog.String("got", resp.ID.String()),
				slog.String("want", id.String()))
			continue
		}

		if resp.Error != nil {
			return *resp.Error
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
		}
		return nil
	}
}

func (c *Client) send(ctx context.Context, msg JSONRPCMessage) error {
	line, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := c.session.Send(ctx, line); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Method, err)
	}
	return nil
}

func (c *Client) listen(sess Session, incoming chan<- []byte, done <-chan struct{}) {
	defer close(incoming)

	for line := range sess.Lines() {
		select {
		case incoming <- line:
		case <-done:
			return
		}
	}
}

func newMessage(id RequestID, method string, params any) (JSONRPCMessage, error) {
	msg := JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: id, Method: method}
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			return JSONRPCMessage{}, fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = bs
	}
	return msg, nil
}
