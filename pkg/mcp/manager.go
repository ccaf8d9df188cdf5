// Package mcp implements the MCP Manager: it loads a tool-server catalog,
// speaks JSON-RPC 2.0 to each server over a Subprocess or SSE transport,
// builds a flat tool registry, and exposes call_tool to the rest of the
// engine. See DESIGN.md for why the wire framing is hand-rolled rather than
// delegated to a third-party MCP SDK.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/codeready-toolchain/aiops-engine/pkg/config"
	"github.com/codeready-toolchain/aiops-engine/pkg/metrics"
	"github.com/codeready-toolchain/aiops-engine/pkg/version"
)

// ToolResult is the outcome of a call_tool invocation: either a successful
// content list, or an error shape carrying code+message (spec.md §4.5).
type ToolResult struct {
	Content []ContentFragment
	IsError bool
	Code    int
	Message string
}

// server holds one connected tool server's transport and declared tools.
type server struct {
	name      string
	transport transport
	tools     []ToolDescriptor
	breaker   *gobreaker.CircuitBreaker[json.RawMessage]
}

// Manager loads the server catalog, owns every ToolServer's transport, and
// routes call_tool to the correct owning server via the flat tool registry.
// Thread-safe: registry is read-only after Start, servers map is built once
// during Start and never mutated afterward (no lock needed for lookups).
type Manager struct {
	servers  map[string]*server   // server name -> server
	registry map[string]string    // tool name -> owning server name
	log      *slog.Logger

	healthMu sync.RWMutex
	health   map[string]bool // server name -> last health ping ok

	metrics *metrics.Collectors

	stopHealth chan struct{}
	healthWG   sync.WaitGroup
}

// NewManager constructs an empty Manager; call Start to connect servers.
func NewManager() *Manager {
	return &Manager{
		servers:    make(map[string]*server),
		registry:   make(map[string]string),
		log:        slog.With("component", "mcp_manager"),
		health:     make(map[string]bool),
		stopHealth: make(chan struct{}),
	}
}

// Start connects to every configured server, calls initialize then
// tools/list, and builds the flat tool registry. A tool name claimed by two
// servers is a fatal ConfigError (spec.md §4.5, §7) — the engine refuses to
// start.
func (m *Manager) Start(ctx context.Context, servers map[string]config.MCPServer) error {
	for name, cfg := range servers {
		if err := m.startServer(ctx, name, cfg); err != nil {
			return fmt.Errorf("start mcp server %q: %w", name, err)
		}
	}
	m.healthWG.Add(1)
	go m.runHealthLoop()
	return nil
}

func (m *Manager) startServer(ctx context.Context, name string, cfg config.MCPServer) error {
	t, err := newTransport(name, cfg)
	if err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	if _, err := t.call(initCtx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: version.AppName, Version: version.GitCommit},
	}); err != nil {
		_ = t.close()
		return fmt.Errorf("initialize: %w", err)
	}

	raw, err := t.call(initCtx, "tools/list", nil)
	if err != nil {
		_ = t.close()
		return fmt.Errorf("tools/list: %w", err)
	}
	var listed toolsListResult
	if err := decodeInto(raw, &listed); err != nil {
		_ = t.close()
		return fmt.Errorf("decode tools/list: %w", err)
	}

	srv := &server{
		name:      name,
		transport: t,
		tools:     listed.Tools,
		breaker: gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}

	for _, tool := range listed.Tools {
		if owner, exists := m.registry[tool.Name]; exists {
			_ = t.close()
			return &ConfigError{
				Reason: fmt.Sprintf("tool %q claimed by both %q and %q", tool.Name, owner, name),
				Err:    config.ErrDuplicateTool,
			}
		}
		m.registry[tool.Name] = name
	}

	m.servers[name] = srv
	m.healthMu.Lock()
	m.health[name] = true
	m.healthMu.Unlock()

	m.log.Info("mcp server connected", "server", name, "tools", len(listed.Tools))
	return nil
}

// SetMetrics wires a metrics sink in after construction — metricsC is only
// built once cfg.Metrics.Enabled is known, after NewManager has already run
// (engine.go's construction order). A nil collectors is the no-metrics case
// and every Collectors method tolerates it.
func (m *Manager) SetMetrics(c *metrics.Collectors) {
	m.metrics = c
}

// HasTool reports whether name resolves in the flat tool registry — used at
// startup to validate every playbook step's tool_name per spec.md §4.3.
func (m *Manager) HasTool(name string) bool {
	_, ok := m.registry[name]
	return ok
}

// CallTool routes name to its owning server and invokes tools/call, retrying
// once with recovery classification on transport failure (spec.md §4.5,
// grounded on tarsy's pkg/mcp/client.go CallTool).
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	serverName, ok := m.registry[name]
	if !ok {
		return ToolResult{}, &ConfigError{Reason: fmt.Sprintf("unknown tool %q", name), Err: config.ErrUnknownTool}
	}
	srv := m.servers[serverName]

	result, err := m.callOnce(ctx, srv, name, args)
	if err == nil {
		return result, nil
	}

	if ClassifyError(err) != RetryNewSession {
		return ToolResult{}, err
	}

	m.log.Info("mcp call failed, retrying", "server", serverName, "tool", name, "error", err)
	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return ToolResult{}, ctx.Err()
	}

	result, err = m.callOnce(ctx, srv, name, args)
	if err != nil {
		return ToolResult{}, fmt.Errorf("retry failed for %s.%s: %w", serverName, name, err)
	}
	return result, nil
}

func (m *Manager) callOnce(ctx context.Context, srv *server, name string, args map[string]any) (ToolResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	start := time.Now()
	raw, err := srv.breaker.Execute(func() (json.RawMessage, error) {
		return srv.transport.call(callCtx, "tools/call", callToolParams{Name: name, Arguments: args})
	})
	m.metrics.ObserveToolCallDuration(srv.name, name, time.Since(start))
	if err != nil {
		var wErr *wireError
		if errors.As(err, &wErr) {
			return ToolResult{}, &ToolInvocationError{Server: srv.name, Tool: name, Code: wErr.Code, Message: wErr.Message}
		}
		return ToolResult{}, &ToolTransportError{Server: srv.name, Err: err}
	}

	var decoded callToolResult
	if err := decodeInto(raw, &decoded); err != nil {
		return ToolResult{}, &ToolTransportError{Server: srv.name, Err: fmt.Errorf("decode tools/call result: %w", err)}
	}

	if decoded.IsError {
		msg := ""
		if len(decoded.Content) > 0 {
			msg = decoded.Content[0].Text
		}
		return ToolResult{Content: decoded.Content, IsError: true, Message: msg}, &ToolInvocationError{Server: srv.name, Tool: name, Message: msg}
	}

	return ToolResult{Content: decoded.Content}, nil
}

// ServerHealth returns a snapshot of per-server health-ping status for an
// external health endpoint to consume (SPEC_FULL.md §5).
func (m *Manager) ServerHealth() map[string]bool {
	m.healthMu.RLock()
	defer m.healthMu.RUnlock()
	out := make(map[string]bool, len(m.health))
	for k, v := range m.health {
		out[k] = v
	}
	return out
}

func (m *Manager) runHealthLoop() {
	defer m.healthWG.Done()
	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopHealth:
			return
		case <-ticker.C:
			for name, srv := range m.servers {
				ctx, cancel := context.WithTimeout(context.Background(), HealthPingTimeout)
				_, err := srv.transport.call(ctx, "tools/list", nil)
				cancel()
				m.healthMu.Lock()
				m.health[name] = err == nil
				m.healthMu.Unlock()
				if err != nil {
					m.log.Warn("mcp health ping failed", "server", name, "error", err)
				}
			}
		}
	}
}

// Close tears down every server's transport. Outstanding calls resolve as errors.
func (m *Manager) Close() error {
	close(m.stopHealth)
	m.healthWG.Wait()

	var firstErr error
	for name, srv := range m.servers {
		if err := srv.transport.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %q: %w", name, err)
		}
	}
	return firstErr
}
