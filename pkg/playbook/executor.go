package playbook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/aiops-engine/pkg/approval"
	"github.com/codeready-toolchain/aiops-engine/pkg/audit"
	"github.com/codeready-toolchain/aiops-engine/pkg/mcp"
	"github.com/codeready-toolchain/aiops-engine/pkg/metrics"
)

// maxChannelOutputBytes elides step output past this size for channel posts
// while the full output is kept in the run record (spec.md Design Notes,
// made concrete per SPEC_FULL.md §5).
const maxChannelOutputBytes = 4096

// defaultRetention is how long a terminal run's record is kept in memory for
// status queries after completion (SPEC_FULL.md §5).
const defaultRetention = time.Hour

// defaultMaxRuns bounds the retained-run set so a busy engine can't leak
// memory across a long uptime (SPEC_FULL.md §5).
const defaultMaxRuns = 500

// toolCaller is the narrow MCP Manager surface LOW-risk steps need.
type toolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (mcp.ToolResult, error)
}

// approvalRequester is the narrow Approval Manager surface MEDIUM/HIGH steps need.
type approvalRequester interface {
	Request(ctx context.Context, toolName string, args map[string]any, risk, channelTarget, runID string) (approval.Outcome, error)
}

// Notifier posts a progress or terminal message to a channel target.
type Notifier interface {
	Send(ctx context.Context, channelTarget, message string) error
}

// Executor runs playbooks against triggering events, gating MEDIUM/HIGH
// steps on human approval and producing a terminal PlaybookRun record.
// Grounded on tarsy's pkg/queue/executor.go sequential stage-loop shape,
// generalized from chain-of-LLM-stages to chain-of-tool-steps.
type Executor struct {
	registry  *Registry
	tools     toolCaller
	approvals approvalRequester
	notifier  Notifier
	audit     *audit.Log
	metrics   *metrics.Collectors
	log       *slog.Logger

	mu      sync.Mutex
	runs    map[string]*Run
	order   []string // insertion order, oldest first, for cap eviction
}

// NewExecutor constructs an Executor bound to a playbook registry and the
// collaborators it needs to carry out steps and approvals. auditLog and
// metricsC may both be nil (audit disabled, metrics disabled) — every method
// on them tolerates a nil receiver.
func NewExecutor(registry *Registry, tools toolCaller, approvals approvalRequester, notifier Notifier, auditLog *audit.Log, metricsC *metrics.Collectors) *Executor {
	return &Executor{
		registry:  registry,
		tools:     tools,
		approvals: approvals,
		notifier:  notifier,
		audit:     auditLog,
		metrics:   metricsC,
		log:       slog.With("component", "playbook_executor"),
		runs:      make(map[string]*Run),
	}
}

// Execute starts playbookID running against event, returning a handle
// immediately — steps proceed in a background goroutine, observable via
// GetRun (spec.md §4.3: "asynchronous; returns a handle immediately").
func (e *Executor) Execute(ctx context.Context, playbookID string, event EventContext, channelTarget string) (*Run, error) {
	pb, ok := e.registry.Get(playbookID)
	if !ok {
		return nil, fmt.Errorf("playbook %q not found", playbookID)
	}

	run := &Run{
		RunID:         uuid.New().String(),
		PlaybookID:    playbookID,
		Event:         event,
		Status:        StatusRunning,
		StartedAt:     time.Now(),
		ChannelTarget: channelTarget,
	}
	e.store(run)
	handle := run.Snapshot()

	go e.run(ctx, pb, run)
	return &handle, nil
}

// GetRun returns a snapshot of one run by id, whether in-flight or retained
// within the retention window, and whether it was found at all.
func (e *Executor) GetRun(runID string) (Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[runID]
	if !ok {
		return Run{}, false
	}
	return r.Snapshot(), true
}

func (e *Executor) store(run *Run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs[run.RunID] = run
	e.order = append(e.order, run.RunID)
	for len(e.order) > defaultMaxRuns {
		oldest := e.order[0]
		e.order = e.order[1:]
		if r, ok := e.runs[oldest]; ok && r.Status.IsTerminal() {
			delete(e.runs, oldest)
		}
	}
}

func (e *Executor) scheduleEviction(runID string) {
	time.AfterFunc(defaultRetention, func() {
		e.mu.Lock()
		delete(e.runs, runID)
		e.mu.Unlock()
	})
}

func (e *Executor) run(ctx context.Context, pb Playbook, run *Run) {
	log := e.log.With("run_id", run.RunID, "playbook", pb.ID)
	e.notify(ctx, run.ChannelTarget, fmt.Sprintf("starting playbook %q (run %s)", pb.Name, run.RunID))

	for idx, step := range pb.Steps {
		select {
		case <-ctx.Done():
			e.terminate(run, StatusCancelled)
			e.notify(ctx, run.ChannelTarget, fmt.Sprintf("run %s cancelled at step %q", run.RunID, step.Name))
			return
		default:
		}

		result, aborted := e.runStep(ctx, run, idx, step)
		e.appendOutput(run, result)

		if result.Outcome != OutcomeSuccess {
			log.Info("step did not succeed", "step", step.Name, "outcome", result.Outcome)
			if aborted {
				status := StatusFailed
				if result.Outcome == OutcomeExpired {
					status = StatusExpired
				}
				e.terminate(run, status)
				e.notify(ctx, run.ChannelTarget, fmt.Sprintf("run %s failed at step %q: %s", run.RunID, step.Name, result.Output))
				return
			}
			continue
		}
	}

	e.terminate(run, StatusCompleted)
	e.notify(ctx, run.ChannelTarget, fmt.Sprintf("run %s completed", run.RunID))
}

// runStep executes one step and reports whether a non-Success outcome should
// abort the run (true unless the step's policy is Continue).
func (e *Executor) runStep(ctx context.Context, run *Run, idx int, step Step) (StepResult, bool) {
	e.notify(ctx, run.ChannelTarget, fmt.Sprintf("run %s: step %q starting", run.RunID, step.Name))

	params, missing := resolveParams(step.ParamsTemplate, run.Event)
	if len(missing) > 0 {
		reason := fmt.Sprintf("missing required parameter(s): %v", missing)
		return e.abortable(step, idx, OutcomeFailure, reason)
	}

	var outcome StepOutcome
	var output string

	switch step.Risk {
	case RiskLow:
		result, err := e.tools.CallTool(ctx, step.ToolName, params)
		if err != nil {
			outcome, output = OutcomeFailure, err.Error()
		} else if result.IsError {
			outcome, output = OutcomeFailure, result.Message
		} else {
			outcome, output = OutcomeSuccess, firstText(result.Content)
		}
	default: // MEDIUM, HIGH
		e.setAwaitingApproval(run)
		o, err := e.approvals.Request(ctx, step.ToolName, params, string(step.Risk), run.ChannelTarget, run.RunID)
		e.clearAwaitingApproval(run)
		if err != nil {
			outcome, output = OutcomeFailure, err.Error()
			break
		}
		switch o.Kind {
		case approval.Executed:
			if o.IsError {
				outcome, output = OutcomeFailure, o.Reason
			} else {
				outcome, output = OutcomeSuccess, o.Output
			}
		case approval.Rejected:
			outcome, output = OutcomeRejected, "rejected by "+o.UserID
		case approval.Expired:
			outcome, output = OutcomeExpired, "approval expired before a reply arrived"
		}
	}

	e.notify(ctx, run.ChannelTarget, fmt.Sprintf("run %s: step %q %s: %s", run.RunID, step.Name, outcome, elide(output)))

	result := StepResult{StepIndex: idx, StepName: step.Name, Outcome: outcome, Output: output}
	if outcome == OutcomeSuccess {
		return result, false
	}
	abort := step.OnFailurePolicy != OnFailureContinue
	return result, abort
}

func (e *Executor) abortable(step Step, idx int, outcome StepOutcome, reason string) (StepResult, bool) {
	return StepResult{StepIndex: idx, StepName: step.Name, Outcome: outcome, Output: reason}, step.OnFailurePolicy != OnFailureContinue
}

func (e *Executor) appendOutput(run *Run, result StepResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run.Outputs = append(run.Outputs, result)
	run.StepCursor = result.StepIndex + 1
}

func (e *Executor) terminate(run *Run, status Status) {
	e.mu.Lock()
	run.Status = status
	run.TerminalAt = time.Now()
	e.mu.Unlock()
	e.scheduleEviction(run.RunID)

	// Recorded off context.Background(), not the run's own (possibly already
	// cancelled, e.g. on StatusCancelled) ctx — a terminal outcome must still
	// reach the audit log and metrics.
	e.audit.RecordPlaybookRun(context.Background(), run.RunID, run.PlaybookID, string(status))
	e.metrics.IncPlaybookRun(run.PlaybookID, string(status))
}

func (e *Executor) notify(ctx context.Context, channelTarget, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, channelTarget, message); err != nil {
		e.log.Warn("failed to post notification", "channel", channelTarget, "error", err)
	}
}

// setAwaitingApproval and clearAwaitingApproval bracket the one window in
// which Status may legally be AwaitingApproval (spec.md §3: "only at step
// boundary"). Routed through e.mu like every other Run mutation in this
// file — GetRun/Snapshot read Status concurrently with the run loop.
func (e *Executor) setAwaitingApproval(run *Run) {
	e.mu.Lock()
	run.Status = StatusAwaitingApproval
	e.mu.Unlock()
}

func (e *Executor) clearAwaitingApproval(run *Run) {
	e.mu.Lock()
	if run.Status == StatusAwaitingApproval {
		run.Status = StatusRunning
	}
	e.mu.Unlock()
}

func firstText(content []mcp.ContentFragment) string {
	if len(content) == 0 {
		return ""
	}
	return content[0].Text
}

func elide(s string) string {
	if len(s) <= maxChannelOutputBytes {
		return s
	}
	return fmt.Sprintf("%s [truncated, %d bytes total]", s[:maxChannelOutputBytes], len(s))
}
