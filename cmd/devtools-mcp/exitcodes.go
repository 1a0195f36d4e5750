package main

import "fmt"

// Exit codes for devtools-mcp.
const (
	ExitOK    = 0 // Clean exit, including a session ended by exit.
	ExitError = 1 // Runtime failure, or stdin closed before exit.
	ExitUsage = 2 // Bad arguments, flags or configuration.
)

// exitCodeError carries a non-zero exit code through cobra's error handling.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

// ExitCode returns the exit code for this error.
func (e *exitCodeError) ExitCode() int { return e.code }

func exitError(code int, format string, args ...any) *exitCodeError {
	msg := fmt.Sprintf(format, args...)
	if msg == "" {
		msg = "devtools-mcp: error"
	}
	return &exitCodeError{code: code, msg: msg}
}

func usageError(err error) *exitCodeError {
	return exitError(ExitUsage, "devtools-mcp: %s", err)
}
