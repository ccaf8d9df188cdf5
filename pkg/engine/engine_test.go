package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/aiops-engine/pkg/approval"
	"github.com/codeready-toolchain/aiops-engine/pkg/clusterevent"
	"github.com/codeready-toolchain/aiops-engine/pkg/mcp"
	"github.com/codeready-toolchain/aiops-engine/pkg/playbook"
	"github.com/codeready-toolchain/aiops-engine/pkg/rules"
)

// Engine.New dials a real cluster via k8s.NewClient and can't be
// instantiated from a unit test without one; the webhookDispatcher and
// flattenEvent logic it wires together is plain code and is exercised
// directly here instead. The subcomponents it glues (WatchLoop, Executor,
// Registry, rules.Engine, Approval Manager, MCP Manager) each carry their
// own package-level test suites.

type fakeResolver struct{ known map[string]bool }

func (f *fakeResolver) HasTool(name string) bool { return f.known[name] }

type fakeTools struct {
	result mcp.ToolResult
	calls  []string
}

func (f *fakeTools) CallTool(ctx context.Context, name string, args map[string]any) (mcp.ToolResult, error) {
	f.calls = append(f.calls, name)
	return f.result, nil
}

type fakeApprovals struct{}

func (f *fakeApprovals) Request(ctx context.Context, toolName string, args map[string]any, risk, channelTarget, runID string) (approval.Outcome, error) {
	return approval.Outcome{Kind: approval.Executed}, nil
}

type fakeNotifier struct{ sent []string }

func (f *fakeNotifier) Send(ctx context.Context, channelTarget, message string) error {
	f.sent = append(f.sent, message)
	return nil
}

func TestFlattenEvent_CarriesIdentityAndAnnotations(t *testing.T) {
	e := clusterevent.Event{
		Kind:         clusterevent.CrashLoop,
		Severity:     clusterevent.Critical,
		ResourceKind: "Pod",
		ResourceName: "api-1",
		Namespace:    "default",
		Annotations:  map[string]string{"container": "app"},
	}

	ctx := flattenEvent(e)
	assert.Equal(t, "api-1", ctx["resource_name"])
	assert.Equal(t, "default", ctx["namespace"])
	assert.Equal(t, "Pod", ctx["resource_kind"])
	assert.Equal(t, "CrashLoop", ctx["kind"])
	assert.Equal(t, "Critical", ctx["severity"])
	assert.Equal(t, "app", ctx["annotations.container"])
}

func TestWebhookDispatcher_MatchesRuleAndExecutesPlaybook(t *testing.T) {
	pb := playbook.Playbook{
		ID: "crash_loop_remediation",
		Steps: []playbook.Step{
			{Name: "restart", Risk: playbook.RiskLow, ToolName: "k8s_restart_pod",
				ParamsTemplate:  map[string]string{"pod_name": "{resource_name}"},
				OnFailurePolicy: playbook.OnFailureAbort},
		},
	}
	registry, err := playbook.NewRegistry([]playbook.Playbook{pb}, &fakeResolver{known: map[string]bool{"k8s_restart_pod": true}})
	require.NoError(t, err)

	tools := &fakeTools{result: mcp.ToolResult{Content: []mcp.ContentFragment{{Text: "ok"}}}}
	executor := playbook.NewExecutor(registry, tools, &fakeApprovals{}, &fakeNotifier{}, nil, nil)

	ruleEng := rules.NewEngine([]rules.Rule{
		{ID: "r1", Name: "crash loop", EventKind: clusterevent.CrashLoop, SeverityFloor: clusterevent.Warning, PlaybookID: "crash_loop_remediation"},
	})

	dispatcher := &webhookDispatcher{ruleEng: ruleEng, executor: executor, channel: "slack:#sre", log: slog.Default()}

	dispatcher.Dispatch(context.Background(), clusterevent.Event{
		Kind: clusterevent.CrashLoop, Severity: clusterevent.Critical,
		ResourceKind: "Pod", ResourceName: "api-1", Namespace: "default",
	})

	require.Eventually(t, func() bool {
		return len(tools.calls) == 1
	}, time.Second, 5*time.Millisecond, "a matching rule must launch the playbook's tool call")
}

func TestWebhookDispatcher_NoMatchingRuleDoesNothing(t *testing.T) {
	registry, err := playbook.NewRegistry(nil, &fakeResolver{})
	require.NoError(t, err)
	executor := playbook.NewExecutor(registry, &fakeTools{}, &fakeApprovals{}, &fakeNotifier{}, nil, nil)
	ruleEng := rules.NewEngine(nil)

	dispatcher := &webhookDispatcher{ruleEng: ruleEng, executor: executor, channel: "slack:#sre", log: slog.Default()}
	dispatcher.Dispatch(context.Background(), clusterevent.Event{Kind: clusterevent.AlertmanagerFiring, Severity: clusterevent.Critical})
}
