package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dlog "github.com/MegaGrindStone/devtools-mcp/internal/log"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server dispatches the messages of every session produced by its ServerTransport. Each
// session gets its own Dispatcher, and with it its own Lifecycle; messages of one session are
// handled one at a time, in the order they were received.
type Server struct {
	info         Info
	instructions string
	capabilities ServerCapabilities
	transport    ServerTransport

	tools          *ToolRegistry
	resourceServer ResourceServer
	promptServer   PromptServer

	sendTimeout time.Duration
	logger      *slog.Logger

	onClientConnected    func(string, Info)
	onClientDisconnected func(string, error)

	sessionsWaitGroup *sync.WaitGroup
	done              chan struct{}
}

// Dispatcher turns decoded lines into responses for a single session. It routes each
// message on its method, checking the session Lifecycle first.
type Dispatcher struct {
	server    Server
	lifecycle sessionLifecycle
	logger    *slog.Logger
}

// ErrConnectionClosed is reported when the peer closes a session before sending exit.
var ErrConnectionClosed = errors.New("connection closed by peer before exit")

const defaultServerSendTimeout = 30 * time.Second

// NewServer creates a server that serves the sessions of transport.
func NewServer(info Info, transport ServerTransport, options ...ServerOption) Server {
	s := Server{
		info:              info,
		transport:         transport,
		logger:            slog.Default(),
		sessionsWaitGroup: &sync.WaitGroup{},
		done:              make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	if s.sendTimeout == 0 {
		s.sendTimeout = defaultServerSendTimeout
	}
	if s.tools == nil {
		s.tools = NewToolRegistry()
	}

	s.capabilities = ServerCapabilities{Tools: &ToolsCapability{}}
	if s.resourceServer != nil {
		s.capabilities.Resources = &ResourcesCapability{}
	}
	if s.promptServer != nil {
		s.capabilities.Prompts = &PromptsCapability{}
	}

	return s
}

// WithToolRegistry sets the tools the server exposes.
func WithToolRegistry(registry *ToolRegistry) ServerOption {
	return func(s *Server) {
		s.tools = registry
	}
}

// WithResourceServer sets the resource catalog.
func WithResourceServer(srv ResourceServer) ServerOption {
	return func(s *Server) {
		s.resourceServer = srv
	}
}

// WithPromptServer sets the prompt catalog.
func WithPromptServer(srv PromptServer) ServerOption {
	return func(s *Server) {
		s.promptServer = srv
	}
}

// WithInstructions sets the instructions returned by initialize.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithServerSendTimeout sets the timeout for writing a response to a session.
func WithServerSendTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.sendTimeout = timeout
	}
}

// WithServerOnClientConnected sets the callback invoked when a session completes initialize.
func WithServerOnClientConnected(onClientConnected func(string, Info)) ServerOption {
	return func(s *Server) {
		s.onClientConnected = onClientConnected
	}
}

// WithServerOnClientDisconnected sets the callback invoked when a session ends. The error is
// nil when the session ended with exit or with the server shutting down, and
// ErrConnectionClosed when the peer went away first.
func WithServerOnClientDisconnected(onClientDisconnected func(string, error)) ServerOption {
	return func(s *Server) {
		s.onClientDisconnected = onClientDisconnected
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "devtools-mcp"),
			slog.String("component", "server"),
		)
	}
}

// Serve handles the sessions of the transport until the transport stops yielding them, then
// waits for the running sessions to end.
func (s Server) Serve() {
	// This loop would break when the transport is closed.
	for sess := range s.transport.Sessions() {
		s.sessionsWaitGroup.Add(1)
		go func() {
			defer s.sessionsWaitGroup.Done()
			err := s.ServeSession(context.Background(), sess)
			if s.onClientDisconnected != nil {
				s.onClientDisconnected(sess.ID(), err)
			}
		}()
	}
	s.sessionsWaitGroup.Wait()
}

// Shutdown stops every session and then the transport.
func (s Server) Shutdown(ctx context.Context) error {
	// Signal the server to shutdown and terminate all sessions.
	select {
	case <-s.done:
	default:
		close(s.done)
	}

	waited := make(chan struct{})
	go func() {
		s.sessionsWaitGroup.Wait()
		close(waited)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for sessions: %w", ctx.Err())
	case <-waited:
	}

	if err := s.transport.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown transport: %w", err)
	}
	return nil
}

// ServeSession reads the lines of sess and answers them until the session reaches
// StateTerminated, the peer closes the channel, or the server shuts down. It stops the
// session before returning. ErrConnectionClosed is returned when the channel closed before
// exit.
func (s Server) ServeSession(ctx context.Context, sess Session) error {
	d := s.NewDispatcher()
	logger := s.logger.With(slog.String("sessionID", sess.ID()))
	d.logger = logger
	ctx = dlog.WithSessionData(ctx, &dlog.SessionData{SessionID: sess.ID()})

	var stopOnce sync.Once
	stop := func() { stopOnce.Do(sess.Stop) }

	// Stop the session when the server shuts down, so the Lines loop below breaks.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-s.done:
			stop()
		case <-sessionDone:
		}
	}()

	for line := range sess.Lines() {
		resp, ok := d.Handle(ctx, line)
		if ok {
			s.send(ctx, logger, sess, resp)
		}
		if d.State() == StateTerminated {
			break
		}
	}
	stop()

	if d.State() == StateTerminated {
		logger.InfoContext(ctx, "session terminated")
		return nil
	}
	select {
	case <-s.done:
		return nil
	default:
	}
	logger.WarnContext(ctx, "session closed before exit", slog.String("state", d.State().String()))
	return ErrConnectionClosed
}

// NewDispatcher returns a dispatcher with a fresh Lifecycle, sharing the server's catalogs.
func (s Server) NewDispatcher() *Dispatcher {
	return &Dispatcher{
		server:    s,
		lifecycle: NewLifecycle(),
		logger:    s.logger,
	}
}

func (s Server) send(ctx context.Context, logger *slog.Logger, sess Session, msg JSONRPCMessage) {
	line, err := Encode(msg)
	if err != nil {
		logger.ErrorContext(ctx, "failed to encode response", slog.String("err", err.Error()))
		line, _ = Encode(newErrorResponse(msg.ID, CodeInternalError, "failed to encode response"))
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	if err := sess.Send(sendCtx, line); err != nil {
		logger.ErrorContext(ctx, "failed to send response", slog.String("err", err.Error()))
	}
}

// State returns the lifecycle state of the dispatcher's session.
func (d *Dispatcher) State() SessionState {
	return d.lifecycle.State()
}

// Done is closed when the session reaches StateTerminated.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.lifecycle.Done()
}

// Handle decodes and dispatches one line. It reports false when nothing must be sent back:
// for notifications, for malformed lines without an id, and for anything received after the
// session terminated.
func (d *Dispatcher) Handle(ctx context.Context, line []byte) (JSONRPCMessage, bool) {
	if d.lifecycle.State() == StateTerminated {
		d.logger.DebugContext(ctx, "dropping message received after exit")
		return JSONRPCMessage{}, false
	}

	msg, err := DecodeRequest(line)
	if err != nil {
		var dErr *DecodeError
		if !errors.As(err, &dErr) || dErr.ID.IsZero() {
			d.logger.DebugContext(ctx, "dropping malformed message", slog.String("err", err.Error()))
			return JSONRPCMessage{}, false
		}
		d.logger.InfoContext(ctx, "malformed message", slog.String("err", err.Error()))
		return JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: dErr.ID, Error: dErr.JSONRPCError()}, true
	}

	ctx = dlog.WithRPCMessage(ctx, &dlog.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Kind().String(),
	})

	result, err := d.dispatch(ctx, msg)

	if msg.ID.IsZero() {
		if err != nil {
			d.logger.DebugContext(ctx, "dropping failed notification", slog.String("err", err.Error()))
		}
		return JSONRPCMessage{}, false
	}

	if err != nil {
		jsonErr := JSONRPCError{}
		if !errors.As(err, &jsonErr) {
			jsonErr = JSONRPCError{Code: CodeInternalError, Message: err.Error()}
		}
		d.logger.InfoContext(ctx, "request failed", slog.String("err", err.Error()))
		return JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: msg.ID, Error: &jsonErr}, true
	}

	resp, err := newResult(msg.ID, result)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to build response", slog.String("err", err.Error()))
		return newErrorResponse(msg.ID, CodeInternalError, err.Error()), true
	}
	return resp, true
}

func (d *Dispatcher) dispatch(ctx context.Context, msg JSONRPCMessage) (any, error) {
	method := msg.Method
	if alias, ok := aliases[method]; ok {
		method = alias
	}

	switch method {
	case MethodInitialize:
		return d.initialize(ctx, msg)
	case MethodPing:
		return struct{}{}, nil
	case methodNotificationsInitialized:
		return struct{}{}, nil
	case MethodListTools:
		if err := d.lifecycle.Require(StateInitialized); err != nil {
			return nil, err
		}
		return ListToolsResult{Tools: d.server.tools.List()}, nil
	case MethodCallTool:
		if err := d.lifecycle.Require(StateInitialized); err != nil {
			return nil, err
		}
		return d.callTool(ctx, msg)
	case MethodListResources:
		if err := d.lifecycle.Require(StateInitialized); err != nil {
			return nil, err
		}
		return d.listResources(ctx)
	case MethodReadResource:
		if err := d.lifecycle.Require(StateInitialized); err != nil {
			return nil, err
		}
		return d.readResource(ctx, msg)
	case MethodListPrompts:
		if err := d.lifecycle.Require(StateInitialized); err != nil {
			return nil, err
		}
		return d.listPrompts(ctx)
	case MethodGetPrompt:
		if err := d.lifecycle.Require(StateInitialized); err != nil {
			return nil, err
		}
		return d.getPrompt(ctx, msg)
	case MethodShutdown:
		if err := d.lifecycle.Shutdown(); err != nil {
			return nil, err
		}
		d.logger.InfoContext(ctx, "session shutting down")
		return struct{}{}, nil
	case MethodExit:
		if err := d.lifecycle.Exit(); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}

	return nil, JSONRPCError{
		Code:    CodeMethodNotFound,
		Message: fmt.Sprintf("method not found: %s", msg.Method),
	}
}

func (d *Dispatcher) initialize(ctx context.Context, msg JSONRPCMessage) (InitializeResult, error) {
	if err := d.lifecycle.Require(StateUninitialized); err != nil {
		return InitializeResult{}, err
	}

	var params InitializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return InitializeResult{}, JSONRPCError{
				Code:    CodeInvalidParams,
				Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
			}
		}
	}

	if err := d.lifecycle.Initialize(params.ClientInfo); err != nil {
		return InitializeResult{}, err
	}

	d.logger.InfoContext(ctx, "client initialized",
		slog.String("client", params.ClientInfo.Name),
		slog.String("clientVersion", params.ClientInfo.Version))
	if d.server.onClientConnected != nil {
		d.server.onClientConnected(sessionIDFrom(ctx), params.ClientInfo)
	}

	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    d.server.capabilities,
		ServerInfo:      d.server.info,
		Instructions:    d.server.instructions,
	}, nil
}

func (d *Dispatcher) callTool(ctx context.Context, msg JSONRPCMessage) (CallToolResult, error) {
	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return CallToolResult{}, JSONRPCError{
			Code:    CodeInvalidParams,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}
	if params.Name == "" {
		return CallToolResult{}, JSONRPCError{
			Code:    CodeInvalidParams,
			Message: "missing tool name",
		}
	}

	ctx = dlog.WithToolCallData(ctx, &dlog.ToolCallData{ToolName: params.Name})

	def, err := d.server.tools.Lookup(params.Name)
	if err != nil {
		d.logger.InfoContext(ctx, "unknown tool")
		return ErrorResult(fmt.Sprintf("Unknown tool: %s", params.Name)), nil
	}

	args, err := def.Validate(ctx, params.Arguments)
	if err != nil {
		d.logger.InfoContext(ctx, "invalid tool arguments", slog.String("err", err.Error()))
		return ErrorResult(err.Error()), nil
	}

	start := time.Now()
	result, err := def.Execute(ctx, args)
	if err != nil {
		d.logger.WarnContext(ctx, "tool failed",
			slog.String("err", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return ErrorResult(err.Error()), nil
	}
	d.logger.DebugContext(ctx, "tool finished", slog.Duration("elapsed", time.Since(start)))

	if result.Content == nil {
		result.Content = []Content{}
	}
	return result, nil
}

func (d *Dispatcher) listResources(ctx context.Context) (ListResourcesResult, error) {
	if d.server.resourceServer == nil {
		return ListResourcesResult{Resources: []Resource{}}, nil
	}
	resources, err := d.server.resourceServer.ListResources(ctx)
	if err != nil {
		return ListResourcesResult{}, fmt.Errorf("failed to list resources: %w", err)
	}
	if resources == nil {
		resources = []Resource{}
	}
	return ListResourcesResult{Resources: resources}, nil
}

func (d *Dispatcher) readResource(ctx context.Context, msg JSONRPCMessage) (ReadResourceResult, error) {
	var params ReadResourceParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.URI == "" {
		return ReadResourceResult{}, JSONRPCError{
			Code:    CodeInvalidParams,
			Message: "params must carry a resource uri",
		}
	}
	if d.server.resourceServer == nil {
		return ReadResourceResult{}, JSONRPCError{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("unknown resource: %s", params.URI),
		}
	}

	contents, err := d.server.resourceServer.ReadResource(ctx, params.URI)
	if err != nil {
		return ReadResourceResult{}, JSONRPCError{
			Code:    CodeInvalidParams,
			Message: fmt.Errorf("failed to read resource: %w", err).Error(),
		}
	}
	return ReadResourceResult{Contents: []ResourceContents{contents}}, nil
}

func (d *Dispatcher) listPrompts(ctx context.Context) (ListPromptsResult, error) {
	if d.server.promptServer == nil {
		return ListPromptsResult{Prompts: []Prompt{}}, nil
	}
	prompts, err := d.server.promptServer.ListPrompts(ctx)
	if err != nil {
		return ListPromptsResult{}, fmt.Errorf("failed to list prompts: %w", err)
	}
	if prompts == nil {
		prompts = []Prompt{}
	}
	return ListPromptsResult{Prompts: prompts}, nil
}

func (d *Dispatcher) getPrompt(ctx context.Context, msg JSONRPCMessage) (GetPromptResult, error) {
	var params GetPromptParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.Name == "" {
		return GetPromptResult{}, JSONRPCError{
			Code:    CodeInvalidParams,
			Message: "params must carry a prompt name",
		}
	}
	if d.server.promptServer == nil {
		return GetPromptResult{}, JSONRPCError{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("unknown prompt: %s", params.Name),
		}
	}

	result, err := d.server.promptServer.GetPrompt(ctx, params.Name, params.Arguments)
	if err != nil {
		return GetPromptResult{}, JSONRPCError{
			Code:    CodeInvalidParams,
			Message: fmt.Errorf("failed to get prompt: %w", err).Error(),
		}
	}
	return result, nil
}

func sessionIDFrom(ctx context.Context) string {
	if sd, ok := dlog.SessionDataFrom(ctx); ok {
		return sd.SessionID
	}
	return ""
}
