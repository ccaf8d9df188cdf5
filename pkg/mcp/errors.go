package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession indicates a call was issued against a server with no live
	// session (never connected, or torn down by Close).
	ErrNoSession = errors.New("no active session for server")

	// ErrUnmatchedID indicates a Subprocess transport received a response whose
	// id does not pair with the single outstanding request — the stream is
	// line-oriented and pairs 1:1, so this is always a protocol violation.
	ErrUnmatchedID = errors.New("response id does not match outstanding request")

	// ErrStreamClosed indicates an SSE stream closed before the matching id arrived.
	ErrStreamClosed = errors.New("stream closed before matching response")
)

// ToolTransportError is an I/O or parse failure on a transport (spec.md §7).
// The transport itself remains usable unless Fatal is set, meaning the
// subprocess has exited and a fresh on-demand start is required.
type ToolTransportError struct {
	Server string
	Fatal  bool
	Err    error
}

func (e *ToolTransportError) Error() string {
	return fmt.Sprintf("mcp transport %q: %v", e.Server, e.Err)
}

func (e *ToolTransportError) Unwrap() error {
	return e.Err
}

// ToolInvocationError means the tool ran and returned isError:true or a
// JSON-RPC error object — surfaced to the run log with code and message.
type ToolInvocationError struct {
	Server  string
	Tool    string
	Code    int
	Message string
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %q on server %q failed (code %d): %s", e.Tool, e.Server, e.Code, e.Message)
}

// ConfigError wraps a fatal startup-time configuration defect (duplicate tool
// name, unknown tool reference, malformed playbook) per spec.md §7.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mcp config error: %s: %v", e.Reason, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
