package mcp

import (
	"fmt"
	"sync"
)

// SessionState is the lifecycle state of one connection.
type SessionState int

// Lifecycle owns the SessionState of a connection. Its methods are the only way to change
// the state; each one checks the precondition and transitions under a single lock, so a
// read-and-transition is never interleaved with another one.
type Lifecycle struct {
	mu         sync.Mutex
	state      SessionState
	clientInfo Info
	done       chan struct{}
}

// sessionLifecycle is the view of Lifecycle the dispatcher works with.
type sessionLifecycle interface {
	State() SessionState
	Require(SessionState) error
	Initialize(Info) error
	Shutdown() error
	Exit() error
	Done() <-chan struct{}
}

const (
	// StateUninitialized is the state of a fresh connection.
	StateUninitialized SessionState = iota
	// StateInitialized is entered after a successful initialize.
	StateInitialized
	// StateShuttingDown is entered after shutdown; only exit is accepted.
	StateShuttingDown
	// StateTerminated is entered after exit and never left.
	StateTerminated
)

// NewLifecycle returns a Lifecycle in StateUninitialized.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{done: make(chan struct{})}
}

// State returns the current state.
func (l *Lifecycle) State() SessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ClientInfo returns the client information recorded by Initialize.
func (l *Lifecycle) ClientInfo() Info {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clientInfo
}

// Require returns an invalid state error unless the current state is want.
func (l *Lifecycle) Require(want SessionState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.check(want)
}

// Initialize records the client and moves Uninitialized to Initialized.
func (l *Lifecycle) Initialize(info Info) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.check(StateUninitialized); err != nil {
		return err
	}
	l.clientInfo = info
	l.state = StateInitialized
	return nil
}

// Shutdown moves Initialized to ShuttingDown.
func (l *Lifecycle) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.check(StateInitialized); err != nil {
		return err
	}
	l.state = StateShuttingDown
	return nil
}

// Exit moves ShuttingDown to Terminated and closes the Done channel.
func (l *Lifecycle) Exit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.check(StateShuttingDown); err != nil {
		return err
	}
	l.state = StateTerminated
	close(l.done)
	return nil
}

// Done is closed once the lifecycle reaches StateTerminated.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

func (l *Lifecycle) check(want SessionState) error {
	if l.state == want {
		return nil
	}
	return JSONRPCError{
		Code:    CodeInvalidState,
		Message: fmt.Sprintf("invalid state: session is %s, expected %s", l.state, want),
	}
}

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateShuttingDown:
		return "shutting down"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}
