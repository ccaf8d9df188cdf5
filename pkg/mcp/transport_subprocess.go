package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/aiops-engine/pkg/config"
)

// killGrace is how long a terminated child is given to exit before force-kill.
const killGrace = 5 * time.Second

// subprocessTransport frames JSON-RPC as single-line JSON on a child process's
// stdin/stdout. Per spec.md §4.5 the stream pairs requests to responses 1:1,
// so calls are serialized with mu: only one request is ever in flight.
type subprocessTransport struct {
	name string

	mu     sync.Mutex // serializes call() — the line stream has no multiplexing
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Scanner

	nextID atomic.Int64
	log    *slog.Logger
}

func newSubprocessTransport(name string, cfg config.MCPServer) (*subprocessTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("stdio transport %q requires command", name)
	}

	t := &subprocessTransport{name: name, log: slog.With("server", name, "transport", "stdio")}
	if err := t.start(cfg); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *subprocessTransport) start(cfg config.MCPServer) error {
	cmd := exec.Command(cfg.Command, cfg.Args...)

	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe for %q: %w", t.name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe for %q: %w", t.name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe for %q: %w", t.name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %q: %w", t.name, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	t.cmd = cmd
	t.stdin = stdin
	t.reader = scanner

	// stderr is drained continuously into structured logs — never consumed as
	// protocol output (spec.md §4.5).
	go t.drainStderr(stderr)

	return nil
}

func (t *subprocessTransport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.log.Info("mcp server stderr", "line", scanner.Text())
	}
}

// call writes one newline-terminated JSON-RPC request and reads the single
// newline-delimited response, erroring if the response id doesn't match — the
// stream has no multiplexing so a mismatch is always a protocol violation.
func (t *subprocessTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd.ProcessState != nil {
		// Child has already exited. Attempt a single on-demand restart per
		// spec.md §7's ToolTransportError semantics before failing the call.
		if err := t.restartLocked(); err != nil {
			return nil, &ToolTransportError{Server: t.name, Fatal: true, Err: err}
		}
	}

	id := t.nextID.Add(1)
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}

	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: rawParams}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resultCh := make(chan json.RawMessage, 1)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := t.stdin.Write(append(line, '\n')); err != nil {
			errCh <- &ToolTransportError{Server: t.name, Err: err}
			return
		}
		if !t.reader.Scan() {
			if err := t.reader.Err(); err != nil {
				errCh <- &ToolTransportError{Server: t.name, Err: err}
			} else {
				errCh <- &ToolTransportError{Server: t.name, Err: io.EOF}
			}
			return
		}

		var resp response
		if err := json.Unmarshal(t.reader.Bytes(), &resp); err != nil {
			errCh <- &ToolTransportError{Server: t.name, Err: fmt.Errorf("decode response: %w", err)}
			return
		}
		if resp.ID == nil || *resp.ID != id {
			errCh <- &ToolTransportError{Server: t.name, Err: ErrUnmatchedID}
			return
		}
		if resp.Error != nil {
			errCh <- resp.Error
			return
		}
		resultCh <- resp.Result
	}()

	select {
	case <-ctx.Done():
		// The goroutine above is still blocked on the shared stdin/scanner.
		// Kill and reap the child so it unblocks and t.mu isn't released
		// until it has actually exited — otherwise a following call() would
		// start a second goroutine racing the same stdin/scanner, and
		// restartLocked would never trigger since ProcessState stays nil.
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		<-done
		_ = t.cmd.Wait()
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, err
	case result := <-resultCh:
		return result, nil
	}
}

// restartLocked launches a fresh child process in place of one that has
// exited. Caller must hold t.mu.
func (t *subprocessTransport) restartLocked() error {
	t.log.Warn("mcp subprocess exited, restarting on demand")
	// cfg is not retained on the struct to keep it minimal; restart re-uses
	// the last-started command's Path/Args/Env, which exec.Cmd keeps on cmd.
	cmd := exec.Command(t.cmd.Path, t.cmd.Args[1:]...)
	cmd.Env = t.cmd.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	t.cmd = cmd
	t.stdin = stdin
	t.reader = scanner
	go t.drainStderr(stderr)
	return nil
}

// close sends a terminate signal and force-kills if the child outlives killGrace.
func (t *subprocessTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd.Process == nil || t.cmd.ProcessState != nil {
		return nil
	}
	_ = t.stdin.Close()
	_ = t.cmd.Process.Signal(os.Interrupt)

	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(killGrace):
		_ = t.cmd.Process.Kill()
		<-done
		return nil
	}
}
