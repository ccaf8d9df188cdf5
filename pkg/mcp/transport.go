package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/aiops-engine/pkg/config"
)

// transport speaks JSON-RPC 2.0 to one tool server, hiding whether the wire
// is a child process's stdio or an SSE-framed HTTP stream behind a single
// call(method, params) -> result contract. Both variants are hand-rolled
// (see DESIGN.md) rather than delegated to an opaque SDK, because spec.md
// pins exact, testable framing behavior this package owns directly.
type transport interface {
	// call issues one JSON-RPC request and returns its decoded result, or an
	// error if the call failed at the transport or protocol level.
	call(ctx context.Context, method string, params any) (json.RawMessage, error)
	// close tears the transport down. Outstanding calls resolve as errors.
	close() error
}

// newTransport constructs the transport variant named by cfg.Type.
func newTransport(name string, cfg config.MCPServer) (transport, error) {
	switch cfg.Type {
	case config.MCPServerStdio:
		return newSubprocessTransport(name, cfg)
	case config.MCPServerSSE:
		return newSSETransport(name, cfg)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
}

// marshalParams is a small helper shared by both transports to turn a typed
// params struct into the json.RawMessage request frames carry.
func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}
