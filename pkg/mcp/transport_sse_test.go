package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/aiops-engine/pkg/config"
)

func TestScanSSEForID_SkipsNotificationsBeforeMatchingResponse(t *testing.T) {
	stream := "event: message\n" +
		`data: {"jsonrpc":"2.0","method":"progress","params":{}}` + "\n\n" +
		"event: message\n" +
		`data: {"jsonrpc":"2.0","id":7,"result":{"ok":true}}` + "\n\n"

	result, err := scanSSEForID("srv", strings.NewReader(stream), 7)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestScanSSEForID_SkipsMismatchedIDThenMatches(t *testing.T) {
	stream := `data: {"jsonrpc":"2.0","id":1,"result":{"stale":true}}` + "\n\n" +
		`data: {"jsonrpc":"2.0","id":2,"result":{"fresh":true}}` + "\n\n"

	result, err := scanSSEForID("srv", strings.NewReader(stream), 2)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fresh":true}`, string(result))
}

func TestScanSSEForID_ErrorObjectSurfacesAsWireError(t *testing.T) {
	stream := `data: {"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"unknown method"}}` + "\n\n"

	_, err := scanSSEForID("srv", strings.NewReader(stream), 1)
	require.Error(t, err)
	var wErr *wireError
	require.ErrorAs(t, err, &wErr)
	assert.Equal(t, codeMethodNotFound, wErr.Code)
}

func TestScanSSEForID_StreamClosedBeforeMatchIsError(t *testing.T) {
	stream := `data: {"jsonrpc":"2.0","id":1,"result":{}}` + "\n\n"

	_, err := scanSSEForID("srv", strings.NewReader(stream), 99)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestSSETransport_CallPostsRequestAndDecodesResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"tools\":[]}}\n\n"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	tr, err := newSSETransport("srv", config.MCPServer{Type: config.MCPServerSSE, URL: ts.URL})
	require.NoError(t, err)
	defer tr.close()

	result, err := tr.call(context.Background(), "tools/list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":[]}`, string(result))
}

func TestSSETransport_NewRequiresURL(t *testing.T) {
	_, err := newSSETransport("srv", config.MCPServer{Type: config.MCPServerSSE})
	assert.Error(t, err)
}
