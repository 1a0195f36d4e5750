package mcp_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcp "github.com/MegaGrindStone/devtools-mcp"
)

type sseHarness struct {
	server     mcp.SSEServer
	httpServer *httptest.Server
	client     *mcp.SSEClient
	sessions   chan mcp.Session
}

func newSSEHarness(t *testing.T, options ...mcp.SSEServerOption) *sseHarness {
	t.Helper()

	mux := http.NewServeMux()
	httpSrv := httptest.NewServer(mux)

	// A relative endpoint, resolved by the client against the SSE URL.
	srv := mcp.NewSSEServer("/message", options...)
	mux.Handle("/sse", srv.HandleSSE())
	mux.Handle("/message", srv.HandleMessage())

	h := &sseHarness{
		server:     srv,
		httpServer: httpSrv,
		client:     mcp.NewSSEClient(httpSrv.URL+"/sse", httpSrv.Client()),
		sessions:   make(chan mcp.Session, 10),
	}
	go func() {
		for sess := range srv.Sessions() {
			h.sessions <- sess
		}
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		httpSrv.Close()
	})
	return h
}

func (h *sseHarness) connect(t *testing.T) (client, server mcp.Session) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := h.client.StartSession(ctx)
	require.NoError(t, err)
	t.Cleanup(client.Stop)

	select {
	case server = <-h.sessions:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not yield the session")
	}
	require.Equal(t, server.ID(), client.ID())
	return client, server
}

func (h *sseHarness) post(t *testing.T, method, query, contentType, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, h.httpServer.URL+"/message"+query, bytes.NewBufferString(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := h.httpServer.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestSSEServerAndClient(t *testing.T) {
	h := newSSEHarness(t)
	client, server := h.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverGot := collect(server, 3)
	clientGot := collect(client, 3)

	for i := range 3 {
		require.NoError(t, client.Send(ctx, fmt.Appendf(nil, `{"jsonrpc":"2.0","id":%d,"method":"ping"}`+"\n", i)))
		require.NoError(t, server.Send(ctx, fmt.Appendf(nil, `{"jsonrpc":"2.0","id":%d,"result":{}}`+"\n", i)))
	}

	toServer := waitLines(t, serverGot)
	toClient := waitLines(t, clientGot)
	for i := range 3 {
		assert.Equal(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"ping"}`, i), toServer[i])
		assert.Equal(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{}}`, i), toClient[i])
	}
}

func TestSSEServerMultipleClients(t *testing.T) {
	h := newSSEHarness(t)

	ids := make(map[string]bool)
	for range 3 {
		client, _ := h.connect(t)
		assert.NotEmpty(t, client.ID())
		ids[client.ID()] = true
	}
	assert.Len(t, ids, 3, "every stream gets its own session")
}

func TestSSEHandleMessageErrors(t *testing.T) {
	h := newSSEHarness(t, mcp.WithSSEServerMaxBodySize(64))
	client, _ := h.connect(t)
	query := "?sessionID=" + client.ID()

	tests := []struct {
		name        string
		method      string
		query       string
		contentType string
		body        string
		wantStatus  int
	}{
		{name: "wrong method", method: http.MethodGet, query: query, wantStatus: http.StatusMethodNotAllowed},
		{name: "missing session", method: http.MethodPost, contentType: "application/json", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "not json", method: http.MethodPost, query: query, contentType: "text/plain", body: `{}`, wantStatus: http.StatusUnsupportedMediaType},
		{name: "no content type", method: http.MethodPost, query: query, body: `{}`, wantStatus: http.StatusUnsupportedMediaType},
		{name: "unknown session", method: http.MethodPost, query: "?sessionID=nope", contentType: "application/json", body: `{}`, wantStatus: http.StatusNotFound},
		{name: "empty body", method: http.MethodPost, query: query, contentType: "application/json", body: "  ", wantStatus: http.StatusBadRequest},
		{
			name: "too large", method: http.MethodPost, query: query, contentType: "application/json",
			body: `{"data":"` + strings.Repeat("x", 100) + `"}`, wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name: "accepted", method: http.MethodPost, query: query, contentType: "application/json; charset=utf-8",
			body: `{"jsonrpc":"2.0","method":"ping"}`, wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.post(t, tt.method, tt.query, tt.contentType, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestSSEClientConnectErrors(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		httpSrv := httptest.NewServer(http.NotFoundHandler())
		url := httpSrv.URL
		httpSrv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := mcp.NewSSEClient(url+"/sse", nil).StartSession(ctx)
		assert.Error(t, err)
	})

	t.Run("not found", func(t *testing.T) {
		httpSrv := httptest.NewServer(http.NotFoundHandler())
		defer httpSrv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := mcp.NewSSEClient(httpSrv.URL+"/sse", httpSrv.Client()).StartSession(ctx)
		assert.Error(t, err)
	})

	t.Run("stream without endpoint", func(t *testing.T) {
		httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = w.Write([]byte("event: message\ndata: {}\n\n"))
		}))
		defer httpSrv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := mcp.NewSSEClient(httpSrv.URL+"/sse", httpSrv.Client()).StartSession(ctx)
		assert.Error(t, err)
	})
}

func TestSSEServerShutdownClosesStreams(t *testing.T) {
	h := newSSEHarness(t)
	client, _ := h.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.server.Shutdown(ctx))

	done := make(chan struct{})
	go func() {
		for range client.Lines() {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("client stream still open after shutdown")
	}
}
