package mcp_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcp "github.com/MegaGrindStone/devtools-mcp"
)

func requireInvalidState(t *testing.T, err error) {
	t.Helper()
	var jErr mcp.JSONRPCError
	require.True(t, errors.As(err, &jErr), "expected a JSONRPCError, got %v", err)
	assert.Equal(t, mcp.CodeInvalidState, jErr.Code)
}

func TestLifecycleTransitions(t *testing.T) {
	l := mcp.NewLifecycle()
	assert.Equal(t, mcp.StateUninitialized, l.State())

	requireInvalidState(t, l.Shutdown())
	requireInvalidState(t, l.Exit())
	requireInvalidState(t, l.Require(mcp.StateInitialized))

	client := mcp.Info{Name: "client", Version: "0.1"}
	require.NoError(t, l.Initialize(client))
	assert.Equal(t, mcp.StateInitialized, l.State())
	assert.Equal(t, client, l.ClientInfo())
	require.NoError(t, l.Require(mcp.StateInitialized))

	requireInvalidState(t, l.Initialize(client))
	requireInvalidState(t, l.Exit())

	require.NoError(t, l.Shutdown())
	assert.Equal(t, mcp.StateShuttingDown, l.State())
	requireInvalidState(t, l.Shutdown())
	requireInvalidState(t, l.Initialize(client))

	select {
	case <-l.Done():
		t.Fatal("done closed before exit")
	default:
	}

	require.NoError(t, l.Exit())
	assert.Equal(t, mcp.StateTerminated, l.State())
	<-l.Done()

	// Terminated is never left.
	requireInvalidState(t, l.Initialize(client))
	requireInvalidState(t, l.Shutdown())
	requireInvalidState(t, l.Exit())
	assert.Equal(t, mcp.StateTerminated, l.State())
}

func TestLifecycleConcurrentInitialize(t *testing.T) {
	l := mcp.NewLifecycle()

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Initialize(mcp.Info{Name: "c"})
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", mcp.StateUninitialized.String())
	assert.Equal(t, "initialized", mcp.StateInitialized.String())
	assert.Equal(t, "shutting down", mcp.StateShuttingDown.String())
	assert.Equal(t, "terminated", mcp.StateTerminated.String())
	assert.Equal(t, "SessionState(9)", mcp.SessionState(9).String())
}
