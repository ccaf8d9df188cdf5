package mcp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/aiops-engine/pkg/config"
)

// sseTransport posts a JSON-RPC request body to an HTTP endpoint and scans the
// streamed response for `event: message` / `data: <json>` records, ignoring
// intervening notification records until the one whose id matches arrives
// (spec.md §4.5, scenario S6).
type sseTransport struct {
	name     string
	endpoint string
	client   *http.Client
	nextID   atomic.Int64
}

func newSSETransport(name string, cfg config.MCPServer) (*sseTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sse transport %q requires url", name)
	}
	httpTransport := http.DefaultTransport.(*http.Transport).Clone()
	httpTransport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}

	return &sseTransport{
		name:     name,
		endpoint: cfg.URL,
		client:   &http.Client{Transport: httpTransport},
	}, nil
}

func (t *sseTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := t.nextID.Add(1)
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}

	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: rawParams}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &ToolTransportError{Server: t.name, Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		return nil, &ToolTransportError{Server: t.name, Err: fmt.Errorf("http status %d", httpResp.StatusCode)}
	}

	return scanSSEForID(t.name, httpResp.Body, id)
}

// scanSSEForID reads `event:`/`data:` records separated by blank lines from r,
// decoding each `data:` payload and skipping any record that is a notification
// (no id, or carries a "method" field) until the response whose id matches
// wantID is found. A closed stream before that point is a call failure.
func scanSSEForID(server string, r interface{ Read([]byte) (int, error) }, wantID int64) (json.RawMessage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var dataLines []string
	flush := func() (*response, bool, error) {
		if len(dataLines) == 0 {
			return nil, false, nil
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]

		var resp response
		if err := json.Unmarshal([]byte(payload), &resp); err != nil {
			return nil, false, fmt.Errorf("decode sse payload: %w", err)
		}
		return &resp, true, nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			resp, ok, err := flush()
			if err != nil {
				return nil, &ToolTransportError{Server: server, Err: err}
			}
			if !ok {
				continue
			}
			if resp.isNotification() {
				continue
			}
			if *resp.ID != wantID {
				continue
			}
			if resp.Error != nil {
				return nil, resp.Error
			}
			return resp.Result, nil
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"):
			// event name is not needed to route — every frame is "message".
		default:
			// ignore comment/blank-ish lines per the SSE wire format
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ToolTransportError{Server: server, Err: err}
	}
	return nil, &ToolTransportError{Server: server, Err: ErrStreamClosed}
}

func (t *sseTransport) close() error {
	t.client.CloseIdleConnections()
	return nil
}

// callTimeout bounds one tools/call round trip made by Manager.callOnce
// (spec.md §4.5). Startup and health-ping tools/list calls use InitTimeout
// and HealthPingTimeout instead.
const callTimeout = 30 * time.Second
