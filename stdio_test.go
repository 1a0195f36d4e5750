package mcp_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcp "github.com/MegaGrindStone/devtools-mcp"
)

// newStdIOPair returns two transports connected back to back over pipes.
func newStdIOPair() (mcp.StdIO, mcp.StdIO) {
	srvReader, cliWriter := io.Pipe()
	cliReader, srvWriter := io.Pipe()

	return mcp.NewStdIO(srvReader, srvWriter), mcp.NewStdIO(cliReader, cliWriter)
}

func startSession(t *testing.T, transport mcp.ClientTransport) mcp.Session {
	t.Helper()
	sess, err := transport.StartSession(context.Background())
	require.NoError(t, err)
	t.Cleanup(sess.Stop)
	return sess
}

// collect reads n lines from the session in the background.
func collect(sess mcp.Session, n int) <-chan []string {
	out := make(chan []string, 1)
	go func() {
		var lines []string
		for line := range sess.Lines() {
			lines = append(lines, string(line))
			if len(lines) == n {
				break
			}
		}
		out <- lines
	}()
	return out
}

func waitLines(t *testing.T, ch <-chan []string) []string {
	t.Helper()
	select {
	case lines := <-ch:
		return lines
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for lines")
	}
	return nil
}

func TestStdIOBidirectionalLines(t *testing.T) {
	serverTransport, clientTransport := newStdIOPair()
	server := startSession(t, serverTransport)
	client := startSession(t, clientTransport)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 10
	serverGot := collect(server, n)
	clientGot := collect(client, n)

	for i := range n {
		require.NoError(t, client.Send(ctx, fmt.Appendf(nil, `{"jsonrpc":"2.0","id":%d,"method":"ping"}`, i)))
		require.NoError(t, server.Send(ctx, fmt.Appendf(nil, `{"jsonrpc":"2.0","id":%d,"result":{}}`+"\n", i)))
	}

	toServer := waitLines(t, serverGot)
	toClient := waitLines(t, clientGot)
	require.Len(t, toServer, n)
	require.Len(t, toClient, n)
	for i := range n {
		assert.Equal(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"ping"}`, i), toServer[i])
		assert.Equal(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{}}`, i), toClient[i])
	}
}

func TestStdIOLinesFraming(t *testing.T) {
	input := "first\n\nsecond\r\n   \nthird"
	var out bytes.Buffer
	sess := startSession(t, mcp.NewStdIO(strings.NewReader(input), &out))

	var lines []string
	for line := range sess.Lines() {
		lines = append(lines, string(line))
	}
	assert.Equal(t, []string{"first", "second", "   ", "third"}, lines)
}

func TestStdIOSendContextCancellation(t *testing.T) {
	// Nobody reads the pipe, so the write blocks.
	_, writer := io.Pipe()
	sess := startSession(t, mcp.NewStdIO(strings.NewReader(""), writer))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sess.Send(ctx, []byte(`{"jsonrpc":"2.0","method":"exit"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestStdIOSendAfterStop(t *testing.T) {
	var out bytes.Buffer
	sess, err := mcp.NewStdIO(strings.NewReader(""), &out).StartSession(context.Background())
	require.NoError(t, err)
	sess.Stop()
	sess.Stop()

	err = sess.Send(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}

func TestStdIOLargeLine(t *testing.T) {
	serverTransport, clientTransport := newStdIOPair()
	server := startSession(t, serverTransport)
	client := startSession(t, clientTransport)

	for _, size := range []int{1 << 10, 100 << 10, 1 << 20} {
		t.Run(fmt.Sprintf("PayloadSize_%d", size), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			line := `{"jsonrpc":"2.0","method":"x","params":{"data":"` + strings.Repeat("a", size) + `"}}`
			got := collect(client, 1)
			require.NoError(t, server.Send(ctx, []byte(line)))

			lines := waitLines(t, got)
			require.Len(t, lines, 1)
			assert.Equal(t, len(line), len(lines[0]))
		})
	}
}

func TestStdIOSessionsEndWithSession(t *testing.T) {
	reader, writer := io.Pipe()
	transport := mcp.NewStdIO(reader, io.Discard)

	yielded := make(chan mcp.Session, 1)
	go func() {
		for sess := range transport.Sessions() {
			yielded <- sess
		}
	}()

	var sess mcp.Session
	select {
	case sess = <-yielded:
	case <-time.After(5 * time.Second):
		t.Fatal("no session yielded")
	}
	assert.NotEmpty(t, sess.ID())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, transport.Shutdown(ctx), "shutdown waits for the session")

	sess.Stop()
	_ = writer.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, transport.Shutdown(ctx))
}
