package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEServer implements a framework-agnostic Server-Sent Events (SSE) transport. Outbound lines
// are streamed to the client as "message" events over a GET request, and inbound lines arrive
// as the bodies of POST requests to the message endpoint.
//
// The HandleSSE and HandleMessage http.Handlers can be mounted on any HTTP router. Instances
// should be created using NewSSEServer.
type SSEServer struct {
	messageURL  string
	logger      *slog.Logger
	maxBodySize int64

	sessions chan sseServerSession
	active   *sync.Map // map[sessionID]sseServerSession

	done      chan struct{}
	closed    chan struct{}
	closeOnce *sync.Once
}

// SSEServerOption represents the options for the SSEServer.
type SSEServerOption func(*SSEServer)

// SSEClient implements the client side of the SSE transport. Instances should be created
// using NewSSEClient.
type SSEClient struct {
	httpClient     *http.Client
	connectURL     string
	logger         *slog.Logger
	maxPayloadSize int
}

// SSEClientOption represents the options for the SSEClient.
type SSEClientOption func(*SSEClient)

type sseServerSession struct {
	id       string
	sess     *sse.Session
	sendMsgs chan sseServerSessionSendMsg
	lines    chan []byte
	logger   *slog.Logger

	done       chan struct{}
	stopOnce   *sync.Once
	sendClosed chan struct{}
}

type sseServerSessionSendMsg struct {
	msg  *sse.Message
	errs chan<- error
}

type sseClientSession struct {
	client     *SSEClient
	body       io.ReadCloser
	cancel     context.CancelFunc
	messageURL string
	id         string

	lines    chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

var jsonMediaType = contenttype.NewMediaType("application/json")

const (
	defaultSSEMaxBodySize    = 4 << 20
	defaultSSEMaxPayloadSize = 16 << 20
)

// NewSSEServer creates an SSE transport that advertises messageURL as the endpoint for
// inbound messages. The URL may be relative; clients resolve it against the SSE URL.
func NewSSEServer(messageURL string, options ...SSEServerOption) SSEServer {
	s := SSEServer{
		messageURL:  messageURL,
		logger:      slog.Default(),
		maxBodySize: defaultSSEMaxBodySize,
		sessions:    make(chan sseServerSession, 5),
		active:      new(sync.Map),
		done:        make(chan struct{}),
		closed:      make(chan struct{}),
		closeOnce:   &sync.Once{},
	}
	for _, opt := range options {
		opt(&s)
	}
	return s
}

// WithSSEServerLogger sets the logger for the SSE server.
func WithSSEServerLogger(logger *slog.Logger) SSEServerOption {
	return func(s *SSEServer) {
		s.logger = logger.With(
			slog.String("package", "devtools-mcp"),
			slog.String("component", "sse"),
		)
	}
}

// WithSSEServerMaxBodySize limits the size of POSTed messages.
func WithSSEServerMaxBodySize(size int64) SSEServerOption {
	return func(s *SSEServer) {
		s.maxBodySize = size
	}
}

// NewSSEClient creates an SSE client that connects to connectURL. If httpClient is nil, the
// default HTTP client is used.
func NewSSEClient(connectURL string, httpClient *http.Client, options ...SSEClientOption) *SSEClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	s := &SSEClient{
		connectURL:     connectURL,
		httpClient:     cli,
		logger:         slog.Default(),
		maxPayloadSize: defaultSSEMaxPayloadSize,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// WithSSEClientMaxPayloadSize sets the maximum size of an event received from the server.
// Larger events end the session.
func WithSSEClientMaxPayloadSize(size int) SSEClientOption {
	return func(s *SSEClient) {
		s.maxPayloadSize = size
	}
}

// WithSSEClientLogger sets the logger for the SSE client.
func WithSSEClientLogger(logger *slog.Logger) SSEClientOption {
	return func(s *SSEClient) {
		s.logger = logger.With(
			slog.String("package", "devtools-mcp"),
			slog.String("component", "sse_client"),
		)
	}
}

// Sessions returns an iterator over sessions, yielding one for every client that connects.
func (s SSEServer) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		for {
			select {
			case <-s.done:
				return
			case sess := <-s.sessions:
				if !yield(sess) {
					return
				}
			}
		}
	}
}

// Shutdown ends the Sessions loop and closes every open event stream.
func (s SSEServer) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close SSE server: %w", ctx.Err())
	case <-s.closed:
	}
	return nil
}

// HandleSSE returns an http.Handler for SSE connections over GET requests. The handler
// upgrades the connection, assigns a session ID, and sends the client its message endpoint as
// an "endpoint" event. The connection stays open until the session stops, the client
// disconnects, or the server shuts down.
func (s SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		sessID := uuid.New().String()

		// Form an url for the client that can be used to communicate with the server session.
		endpoint := fmt.Sprintf("%s?sessionID=%s", s.messageURL, sessID)

		// Use the type "endpoint" to indicate the endpoint URL.
		msg := sse.Message{
			Type: sse.Type("endpoint"),
		}
		msg.AppendData(endpoint)
		if err := sess.Send(&msg); err != nil {
			s.logger.Error("failed to write SSE URL", slog.String("err", err.Error()))
			return
		}
		if err := sess.Flush(); err != nil {
			s.logger.Error("failed to flush SSE", slog.String("err", err.Error()))
			return
		}

		srvSession := sseServerSession{
			id:         sessID,
			sess:       sess,
			logger:     s.logger.With(slog.String("sessionID", sessID)),
			sendMsgs:   make(chan sseServerSessionSendMsg, 5),
			lines:      make(chan []byte, 5),
			done:       make(chan struct{}),
			stopOnce:   &sync.Once{},
			sendClosed: make(chan struct{}),
		}
		go srvSession.processSendMessages()

		s.active.Store(sessID, srvSession)
		defer s.active.Delete(sessID)

		// Feed the sessions channel that is consumed by the Sessions loop.
		select {
		case s.sessions <- srvSession:
		case <-r.Context().Done():
			srvSession.close()
			<-srvSession.sendClosed
			return
		case <-s.done:
			srvSession.close()
			<-srvSession.sendClosed
			return
		}
		s.logger.Info("client connected", slog.String("sessionID", sessID))

		// Block until the session is closed, so the connection is left open.
		select {
		case <-srvSession.done:
		case <-r.Context().Done():
			s.logger.Info("client disconnected", slog.String("sessionID", sessID))
			srvSession.close()
		case <-s.done:
			srvSession.close()
		}
		<-srvSession.sendClosed
	})
}

// HandleMessage returns an http.Handler for client messages sent via POST requests. The
// handler expects a sessionID query parameter and an application/json body holding one
// message, which is queued to the session's lines unparsed. It answers 202 Accepted; the
// response to the message itself travels over the event stream.
func (s SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			s.logger.Warn("missing sessionID query parameter")
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			return
		}

		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			s.logger.Warn("unsupported content type", slog.String("contentType", r.Header.Get("Content-Type")))
			http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
			return
		}

		v, ok := s.active.Load(sessID)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		session, _ := v.(sseServerSession)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
				return
			}
			s.logger.Warn("failed to read message", slog.String("err", err.Error()))
			http.Error(w, "failed to read message", http.StatusBadRequest)
			return
		}
		line := bytes.TrimSpace(body)
		if len(line) == 0 {
			http.Error(w, "empty message", http.StatusBadRequest)
			return
		}

		select {
		case session.lines <- line:
		case <-session.done:
			http.Error(w, "session closed", http.StatusNotFound)
			return
		case <-r.Context().Done():
			return
		case <-s.done:
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("Accepted"))
	})
}

func (s sseServerSession) ID() string { return s.id }

func (s sseServerSession) Send(ctx context.Context, line []byte) error {
	sseMsg := &sse.Message{
		Type: sse.Type("message"),
	}
	sseMsg.AppendData(string(bytes.TrimRight(line, "\r\n")))

	errs := make(chan error, 1)

	// Queue the message for sending to avoid race in the sse library
	select {
	case s.sendMsgs <- sseServerSessionSendMsg{sseMsg, errs}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while sending message")
		return errSessionClosed
	}

	// Wait and return the error if any
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while sending message")
		return errSessionClosed
	}
}

func (s sseServerSession) Lines() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			select {
			case line := <-s.lines:
				if !yield(line) {
					return
				}
			case <-s.done:
				return
			}
		}
	}
}

func (s sseServerSession) Stop() {
	s.close()
	<-s.sendClosed
}

func (s sseServerSession) close() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s sseServerSession) processSendMessages() {
	defer close(s.sendClosed)

	for {
		select {
		case sm := <-s.sendMsgs:
			// Send and flush the message to the client.
			if err := s.sess.Send(sm.msg); err != nil {
				s.logger.Warn("failed to send message", slog.String("err", err.Error()))
				sm.errs <- err
				continue
			}
			if err := s.sess.Flush(); err != nil {
				s.logger.Warn("failed to flush message", slog.String("err", err.Error()))
				sm.errs <- err
				continue
			}
			sm.errs <- nil
		case <-s.done:
			return
		}
	}
}

// StartSession opens the event stream and waits for the server to announce the message
// endpoint. ctx bounds the connection attempt only; the stream stays open until Stop.
func (s *SSEClient) StartSession(ctx context.Context) (Session, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.connectURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to SSE server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	sess := &sseClientSession{
		client: s,
		body:   resp.Body,
		cancel: cancel,
		lines:  make(chan []byte, 5),
		done:   make(chan struct{}),
	}

	ready := make(chan error, 1)
	go sess.listen(ready)

	select {
	case err := <-ready:
		if err != nil {
			sess.Stop()
			return nil, err
		}
	case <-ctx.Done():
		sess.Stop()
		return nil, ctx.Err()
	}
	return sess, nil
}

func (c *sseClientSession) listen(ready chan<- error) {
	defer close(c.lines)

	config := &sse.ReadConfig{
		MaxEventSize: c.client.maxPayloadSize,
	}

	announced := false
	for ev, err := range sse.Read(c.body, config) {
		if err != nil {
			if !announced {
				ready <- fmt.Errorf("failed to read endpoint event: %w", err)
				return
			}
			if !errors.Is(err, context.Canceled) {
				c.client.logger.Error("failed to read SSE message", slog.String("err", err.Error()))
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			if announced {
				continue
			}
			if err := c.setEndpoint(ev.Data); err != nil {
				ready <- err
				return
			}
			announced = true
			close(ready)
		case "message":
			// Messages before the endpoint event cannot be answered, so they are dropped.
			if !announced {
				c.client.logger.Error("received message before endpoint URL")
				continue
			}
			select {
			case c.lines <- []byte(ev.Data):
			case <-c.done:
				return
			}
		default:
			c.client.logger.Warn("unhandled event type", slog.String("type", ev.Type))
		}
	}

	if !announced {
		ready <- errors.New("event stream ended before the endpoint event")
	}
}

func (c *sseClientSession) setEndpoint(data string) error {
	if data == "" {
		return errors.New("empty endpoint URL")
	}
	base, err := url.Parse(c.client.connectURL)
	if err != nil {
		return fmt.Errorf("parse connect URL: %w", err)
	}
	ref, err := url.Parse(data)
	if err != nil {
		return fmt.Errorf("parse endpoint URL: %w", err)
	}
	u := base.ResolveReference(ref)
	c.messageURL = u.String()
	c.id = u.Query().Get("sessionID")
	return nil
}

func (c *sseClientSession) ID() string { return c.id }

// Send posts one line to the message endpoint.
func (c *sseClientSession) Send(ctx context.Context, line []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messageURL, bytes.NewReader(bytes.TrimSpace(line)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

func (c *sseClientSession) Lines() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			select {
			case line, ok := <-c.lines:
				if !ok {
					return
				}
				if !yield(line) {
					return
				}
			case <-c.done:
				return
			}
		}
	}
}

func (c *sseClientSession) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.body.Close()
	})
}
