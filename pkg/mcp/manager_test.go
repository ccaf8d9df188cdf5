package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/aiops-engine/pkg/config"
)

// fakeServer is a minimal JSON-RPC-over-SSE tool server for exercising
// Manager.Start/CallTool against the real sseTransport without a live MCP
// implementation. Every handler reads one request object and replies with a
// single `data:` record carrying the matching id.
type fakeServer struct {
	tools      []ToolDescriptor
	callResult func(name string, args map[string]any) (json.RawMessage, *wireError)
	failCalls  int // number of tools/call invocations to fail before succeeding
}

func (f *fakeServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		_ = json.NewDecoder(r.Body).Decode(&req)

		var result json.RawMessage
		var rpcErr *wireError

		switch req.Method {
		case "initialize":
			result = json.RawMessage(`{}`)
		case "tools/list":
			b, _ := json.Marshal(toolsListResult{Tools: f.tools})
			result = b
		case "tools/call":
			if f.failCalls > 0 {
				f.failCalls--
				// Stream closes with no matching data record: scanSSEForID
				// surfaces ErrStreamClosed, a retryable transport failure.
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "event: message\n")
				return
			}
			var params callToolParams
			_ = json.Unmarshal(req.Params, &params)
			result, rpcErr = f.callResult(params.Name, params.Arguments)
		}

		resp := response{JSONRPC: "2.0", ID: &req.ID, Result: result, Error: rpcErr}
		body, _ := json.Marshal(resp)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", body)
	}
}

func newTestServerConfig(url string) config.MCPServer {
	return config.MCPServer{Type: config.MCPServerSSE, URL: url}
}

func TestManager_StartBuildsRegistryAndCallToolRoutes(t *testing.T) {
	srv := &fakeServer{
		tools: []ToolDescriptor{{Name: "k8s_restart_pod"}},
		callResult: func(name string, args map[string]any) (json.RawMessage, *wireError) {
			return json.RawMessage(`{"content":[{"type":"text","text":"restarted"}]}`), nil
		},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	mgr := NewManager()
	err := mgr.Start(context.Background(), map[string]config.MCPServer{"k8s": newTestServerConfig(ts.URL)})
	require.NoError(t, err)
	defer mgr.Close()

	assert.True(t, mgr.HasTool("k8s_restart_pod"))
	assert.False(t, mgr.HasTool("unknown_tool"))

	result, err := mgr.CallTool(context.Background(), "k8s_restart_pod", map[string]any{"pod_name": "api-1"})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "restarted", result.Content[0].Text)
}

func TestManager_StartFailsOnDuplicateToolName(t *testing.T) {
	srvA := &fakeServer{tools: []ToolDescriptor{{Name: "shared_tool"}}}
	srvB := &fakeServer{tools: []ToolDescriptor{{Name: "shared_tool"}}}
	tsA := httptest.NewServer(srvA.handler())
	defer tsA.Close()
	tsB := httptest.NewServer(srvB.handler())
	defer tsB.Close()

	mgr := NewManager()
	err := mgr.Start(context.Background(), map[string]config.MCPServer{
		"a": newTestServerConfig(tsA.URL),
		"b": newTestServerConfig(tsB.URL),
	})
	require.Error(t, err)

	var confErr *ConfigError
	require.ErrorAs(t, err, &confErr)
	assert.ErrorIs(t, confErr, config.ErrDuplicateTool)
}

func TestManager_CallTool_UnknownToolIsConfigError(t *testing.T) {
	mgr := NewManager()
	_, err := mgr.CallTool(context.Background(), "nope", nil)
	require.Error(t, err)

	var confErr *ConfigError
	require.ErrorAs(t, err, &confErr)
	assert.ErrorIs(t, confErr, config.ErrUnknownTool)
}

func TestManager_CallTool_ToolErrorShapeSurfacesAsInvocationError(t *testing.T) {
	srv := &fakeServer{
		tools: []ToolDescriptor{{Name: "k8s_drain_node"}},
		callResult: func(name string, args map[string]any) (json.RawMessage, *wireError) {
			return json.RawMessage(`{"content":[{"type":"text","text":"node busy"}],"isError":true}`), nil
		},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	mgr := NewManager()
	require.NoError(t, mgr.Start(context.Background(), map[string]config.MCPServer{"k8s": newTestServerConfig(ts.URL)}))
	defer mgr.Close()

	_, err := mgr.CallTool(context.Background(), "k8s_drain_node", nil)
	require.Error(t, err)

	var invErr *ToolInvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "node busy", invErr.Message)
}

func TestManager_CallTool_RetriesOnceOnTransportFailure(t *testing.T) {
	srv := &fakeServer{
		tools:     []ToolDescriptor{{Name: "k8s_restart_pod"}},
		failCalls: 1,
		callResult: func(name string, args map[string]any) (json.RawMessage, *wireError) {
			return json.RawMessage(`{"content":[{"type":"text","text":"restarted"}]}`), nil
		},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	mgr := NewManager()
	require.NoError(t, mgr.Start(context.Background(), map[string]config.MCPServer{"k8s": newTestServerConfig(ts.URL)}))
	defer mgr.Close()

	result, err := mgr.CallTool(context.Background(), "k8s_restart_pod", nil)
	require.NoError(t, err, "a stream closed before the matching response on the first attempt must be retried once")
	assert.Equal(t, "restarted", result.Content[0].Text)
}

func TestManager_ServerHealthReflectsConnectedServers(t *testing.T) {
	srv := &fakeServer{tools: []ToolDescriptor{{Name: "t1"}}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	mgr := NewManager()
	require.NoError(t, mgr.Start(context.Background(), map[string]config.MCPServer{"k8s": newTestServerConfig(ts.URL)}))
	defer mgr.Close()

	health := mgr.ServerHealth()
	assert.True(t, health["k8s"])
}
