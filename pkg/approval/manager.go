// Package approval implements the Approval Manager: it brokers a bounded,
// expiring human-confirmation handshake for MEDIUM/HIGH playbook steps
// through a chat channel, grounded on the TTL-cache idiom the rest of the
// engine's corpus uses for bounded, lazily-expiring stores.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/aiops-engine/pkg/audit"
	"github.com/codeready-toolchain/aiops-engine/pkg/mcp"
	"github.com/codeready-toolchain/aiops-engine/pkg/metrics"
)

// OutcomeKind is the terminal shape of one approval handshake.
type OutcomeKind string

const (
	Executed OutcomeKind = "Executed"
	Rejected OutcomeKind = "Rejected"
	Expired  OutcomeKind = "Expired"
)

// Outcome is the resolved result of a Request call (spec.md §4.4).
type Outcome struct {
	Kind    OutcomeKind
	Output  string // tool output text, set when Kind == Executed and !IsError
	UserID  string // responder's user id, set only when Kind == Rejected by a user
	IsError bool   // Kind == Executed but the tool itself errored post-approval
	Reason  string // internal failure reason, set when IsError
}

// toolCaller is the narrow MCP Manager surface the Approval Manager needs to
// perform the actual invocation on an approve reply. Passed explicitly at
// construction per spec.md §9 — no back-reference from mcp to approval.
type toolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (mcp.ToolResult, error)
}

// Notifier posts a formatted approval prompt to a channel target.
type Notifier interface {
	Send(ctx context.Context, channelTarget, message string) error
}

var replyPattern = regexp.MustCompile(`(?i)^\s*(approve|yes|confirm|reject|no|cancel)\s+([0-9a-f]{8})\s*$`)

var approveVerbs = map[string]bool{"approve": true, "yes": true, "confirm": true}

// pending is the in-memory record of one PendingApproval plus its suspended
// caller's one-shot completion handle (spec.md §9: "a per-approval completion
// handle (channel, one-shot signal, or similar) keyed by short_id").
type pending struct {
	approvalID   string
	shortID      string
	toolName     string
	arguments    map[string]any
	risk         string
	requestingID string
	channelTarget string
	createdAt    time.Time
	expiresAt    time.Time

	mu       sync.Mutex
	resolved bool
	done     chan Outcome
	timer    *time.Timer
}

// Manager owns all in-flight PendingApprovals keyed by short_id.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*pending

	tools    toolCaller
	notifier Notifier
	timeout  time.Duration
	audit    *audit.Log
	metrics  *metrics.Collectors
	log      *slog.Logger
}

// NewManager constructs a Manager. timeout is the default PendingApproval TTL
// (spec.md §6 `approval.timeout_seconds`, default 900s applied by the caller).
// auditLog and metricsC may both be nil.
func NewManager(tools toolCaller, notifier Notifier, timeout time.Duration, auditLog *audit.Log, metricsC *metrics.Collectors) *Manager {
	return &Manager{
		pending:  make(map[string]*pending),
		tools:    tools,
		notifier: notifier,
		timeout:  timeout,
		audit:    auditLog,
		metrics:  metricsC,
		log:      slog.With("component", "approval_manager"),
	}
}

// Request brokers one MEDIUM/HIGH step's approval handshake: it posts a
// prompt to channelTarget and suspends until a reply, the tool invocation,
// or TTL expiry resolves the outcome (spec.md §4.4).
func (m *Manager) Request(ctx context.Context, toolName string, args map[string]any, risk, channelTarget, runID string) (Outcome, error) {
	p, err := m.register(toolName, args, risk, channelTarget, runID)
	if err != nil {
		return Outcome{}, err
	}

	prompt := formatPrompt(p, m.timeout)
	if err := m.notifier.Send(ctx, channelTarget, prompt); err != nil {
		m.log.Warn("failed to post approval prompt", "short_id", p.shortID, "error", err)
	}

	select {
	case outcome := <-p.done:
		return outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// register allocates a fresh approval id, regenerating on short_id collision
// (spec.md §3: "Birthday bound is generous; treat collision as an ordinary
// retry case"), and schedules its expiry timer.
func (m *Manager) register(toolName string, args map[string]any, risk, channelTarget, runID string) (*pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var approvalID, shortID string
	for attempt := 0; attempt < 8; attempt++ {
		id := uuid.New()
		approvalID = id.String()
		shortID = strings.ReplaceAll(approvalID, "-", "")[:8]
		if _, collide := m.pending[shortID]; !collide {
			break
		}
		approvalID, shortID = "", ""
	}
	if shortID == "" {
		return nil, fmt.Errorf("approval manager: exhausted short_id generation attempts")
	}

	now := time.Now()
	p := &pending{
		approvalID:    approvalID,
		shortID:       shortID,
		toolName:      toolName,
		arguments:     args,
		risk:          risk,
		requestingID:  runID,
		channelTarget: channelTarget,
		createdAt:     now,
		expiresAt:     now.Add(m.timeout),
		done:          make(chan Outcome, 1),
	}
	p.timer = time.AfterFunc(m.timeout, func() { m.expire(shortID) })
	m.pending[shortID] = p
	m.metrics.SetPendingApprovals(len(m.pending))
	return p, nil
}

// HandleReply feeds one inbound chat message through the reply grammar
// (spec.md §6): `(approve|yes|confirm|reject|no|cancel) <8-hex>`. Any other
// shape, or a reply naming no live approval, is dropped without logging.
func (m *Manager) HandleReply(ctx context.Context, userID, message string) {
	match := replyPattern.FindStringSubmatch(message)
	if match == nil {
		return
	}
	verb, shortID := strings.ToLower(match[1]), strings.ToLower(match[2])

	m.mu.Lock()
	p, ok := m.pending[shortID]
	m.mu.Unlock()
	if !ok {
		return
	}

	if approveVerbs[verb] {
		m.approve(ctx, p)
		return
	}
	m.reject(p, userID)
}

func (m *Manager) approve(ctx context.Context, p *pending) {
	if !p.claim() {
		return
	}
	defer m.forget(p.shortID)

	result, err := m.tools.CallTool(ctx, p.toolName, p.arguments)
	if err != nil || result.IsError {
		reason := ""
		if err != nil {
			reason = err.Error()
		} else {
			reason = result.Message
		}
		// Per spec.md §4.4 / §9: a tool failure after approval is NOT
		// silently escalated into a user rejection — it stays Executed, with
		// IsError set so the run log distinguishes it from a user's reject.
		m.audit.RecordApproval(ctx, p.approvalID, p.toolName, "executed_error")
		p.send(Outcome{Kind: Executed, IsError: true, Reason: reason})
		return
	}

	output := ""
	if len(result.Content) > 0 {
		output = result.Content[0].Text
	}
	m.audit.RecordApproval(ctx, p.approvalID, p.toolName, "executed")
	p.send(Outcome{Kind: Executed, Output: output})
}

func (m *Manager) reject(p *pending, userID string) {
	if !p.claim() {
		return
	}
	defer m.forget(p.shortID)
	m.audit.RecordApproval(context.Background(), p.approvalID, p.toolName, "rejected by "+userID)
	p.send(Outcome{Kind: Rejected, UserID: userID})
}

func (m *Manager) expire(shortID string) {
	m.mu.Lock()
	p, ok := m.pending[shortID]
	m.mu.Unlock()
	if !ok {
		return
	}
	if !p.claim() {
		return
	}
	defer m.forget(shortID)
	m.audit.RecordApproval(context.Background(), p.approvalID, p.toolName, "expired")
	p.send(Outcome{Kind: Expired})
}

func (m *Manager) forget(shortID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pending[shortID]; ok {
		p.timer.Stop()
		delete(m.pending, shortID)
	}
	m.metrics.SetPendingApprovals(len(m.pending))
}

// ListPending is a read-only diagnostic operation over the live pending set
// (SPEC_FULL.md §5), scanning the same store the approve/reject path uses.
func (m *Manager) ListPending() []PendingSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PendingSummary, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, PendingSummary{
			ShortID:      p.shortID,
			ToolName:     p.toolName,
			Risk:         p.risk,
			RequestingID: p.requestingID,
			ExpiresAt:    p.expiresAt,
		})
	}
	return out
}

// PendingSummary is a read-only view of one in-flight PendingApproval.
type PendingSummary struct {
	ShortID      string
	ToolName     string
	Risk         string
	RequestingID string
	ExpiresAt    time.Time
}

// claim reports whether this call is the first to resolve p — at-most-one
// resolution per spec.md invariant 5 ("subsequent matching replies are no-ops").
func (p *pending) claim() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return false
	}
	p.resolved = true
	return true
}

func (p *pending) send(o Outcome) {
	p.done <- o
}

func formatPrompt(p *pending, timeout time.Duration) string {
	icon := map[string]string{"MEDIUM": "⚠️", "HIGH": "🛑"}[p.risk]
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s approval required\n", icon, p.risk)
	fmt.Fprintf(&b, "tool: %s\n", p.toolName)
	if len(p.arguments) > 0 {
		b.WriteString("parameters:\n")
		for k, v := range p.arguments {
			fmt.Fprintf(&b, "  %s: %v\n", k, v)
		}
	}
	fmt.Fprintf(&b, "Reply with `approve %s` to proceed or `reject %s` to cancel.\n", p.shortID, p.shortID)
	fmt.Fprintf(&b, "expires in %d minutes", int(timeout.Minutes()))
	return b.String()
}
