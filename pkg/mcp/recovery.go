package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// RecoveryAction determines how to handle an MCP operation failure.
type RecoveryAction int

const (
	// NoRetry — the error is not recoverable (bad request, protocol error, timeout).
	NoRetry RecoveryAction = iota
	// RetryNewSession — transport failure, retry once on the same transport
	// (a subprocess transport restarts an exited child on demand).
	RetryNewSession
)

// Recovery configuration constants.
const (
	// MaxRetries is the number of retry attempts after the initial failure.
	MaxRetries = 1

	// ReinitTimeout is the deadline for recreating a transport during recovery.
	ReinitTimeout = 10 * time.Second

	// OperationTimeout is the per-call deadline for CallTool and ListTools,
	// per spec.md §4.5's 30s default — set here with headroom for slow tools,
	// the engine-facing default lives in transport_sse.go's callTimeout.
	OperationTimeout = 30 * time.Second

	// RetryBackoffMin is the minimum jittered backoff between retries.
	RetryBackoffMin = 250 * time.Millisecond

	// RetryBackoffMax is the maximum jittered backoff between retries.
	RetryBackoffMax = 750 * time.Millisecond

	// InitTimeout is the per-server initialize+tools/list timeout at startup.
	InitTimeout = 30 * time.Second

	// HealthPingTimeout is the health check ping timeout.
	HealthPingTimeout = 5 * time.Second

	// HealthInterval is the health check loop interval.
	HealthInterval = 15 * time.Second
)

// ClassifyError determines the recovery action for an MCP operation error.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry
		}
		return RetryNewSession
	}

	if isConnectionError(err) {
		return RetryNewSession
	}

	if isProtocolError(err) {
		return NoRetry
	}

	return NoRetry
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, ErrStreamClosed) {
		return true
	}

	msg := err.Error()
	for _, e := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	} {
		if strings.Contains(strings.ToLower(msg), e) {
			return true
		}
	}
	return false
}

// isProtocolError detects JSON-RPC protocol errors using our own wire error
// type and the standard JSON-RPC 2.0 codes — these never warrant a retry.
func isProtocolError(err error) bool {
	var wireErr *wireError
	if !errors.As(err, &wireErr) {
		return false
	}
	switch wireErr.Code {
	case codeParseError, codeInvalidRequest, codeMethodNotFound, codeInvalidParams:
		return true
	default:
		return false
	}
}
