package playbook

import (
	"github.com/codeready-toolchain/aiops-engine/pkg/config"
)

// toolResolver is the narrow slice of MCP Manager the Registry needs at
// startup to validate every step's tool_name resolves (spec.md §4.3). The
// Registry depends only on this interface, not on the *mcp.Manager type, so
// the dependency stays one-directional (DESIGN NOTES §9: "do not give either
// one a back-reference").
type toolResolver interface {
	HasTool(name string) bool
}

// Registry is an in-memory, keyed catalog of Playbooks, built at startup and
// never mutated afterward.
type Registry struct {
	playbooks map[string]Playbook
}

// NewRegistry validates every step's tool_name against resolver and returns a
// ready-to-use Registry, or a *config.ValidationError wrapping
// config.ErrUnknownTool if any step references a tool no server exposes — a
// startup-fatal condition per spec.md §7.
func NewRegistry(playbooks []Playbook, resolver toolResolver) (*Registry, error) {
	r := &Registry{playbooks: make(map[string]Playbook, len(playbooks))}
	for _, pb := range playbooks {
		for _, step := range pb.Steps {
			if !resolver.HasTool(step.ToolName) {
				return nil, config.NewValidationError("playbook", pb.ID, step.Name, config.ErrUnknownTool)
			}
		}
		r.playbooks[pb.ID] = pb
	}
	return r, nil
}

// Get looks up a playbook by id.
func (r *Registry) Get(id string) (Playbook, bool) {
	pb, ok := r.playbooks[id]
	return pb, ok
}

// Builtins returns the five built-in playbooks from spec.md §6.
func Builtins() []Playbook {
	return []Playbook{
		{
			ID:   "crash_loop_remediation",
			Name: "Crash loop remediation",
			Steps: []Step{
				{Name: "describe pod", Description: "Describe the crash-looping pod", Risk: RiskLow, ToolName: "k8s_describe_pod",
					ParamsTemplate: map[string]string{"pod_name": "{resource_name}", "namespace": "{namespace}"}},
				{Name: "fetch logs", Description: "Fetch container logs", Risk: RiskLow, ToolName: "k8s_fetch_logs",
					ParamsTemplate: map[string]string{"pod_name": "{resource_name}", "namespace": "{namespace}", "container": "{annotations.container}"}},
				{Name: "restart pod", Description: "Restart the pod", Risk: RiskMedium, ToolName: "k8s_restart_pod",
					ParamsTemplate: map[string]string{"pod_name": "{resource_name}", "namespace": "{namespace}"}},
				{Name: "verify pod", Description: "Verify the pod is healthy", Risk: RiskLow, ToolName: "k8s_verify_pod",
					ParamsTemplate: map[string]string{"pod_name": "{resource_name}", "namespace": "{namespace}"}},
			},
		},
		{
			ID:   "oom_kill_remediation",
			Name: "OOM kill remediation",
			Steps: []Step{
				{Name: "get current limits", Description: "Read the container's current memory limits", Risk: RiskLow, ToolName: "k8s_get_limits",
					ParamsTemplate: map[string]string{"pod_name": "{resource_name}", "namespace": "{namespace}"}},
				{Name: "patch memory limit", Description: "Raise the container's memory limit", Risk: RiskHigh, ToolName: "k8s_patch_memory_limit",
					ParamsTemplate: map[string]string{"pod_name": "{resource_name}", "namespace": "{namespace}", "container": "{annotations.container}"}},
			},
		},
		{
			ID:   "deployment_rollback",
			Name: "Deployment rollback",
			Steps: []Step{
				{Name: "get rollout history", Description: "Read rollout revision history", Risk: RiskLow, ToolName: "k8s_rollout_history",
					ParamsTemplate: map[string]string{"deployment": "{resource_name}", "namespace": "{namespace}"}},
				{Name: "rollback", Description: "Roll back to the previous revision", Risk: RiskHigh, ToolName: "k8s_rollback_deployment",
					ParamsTemplate: map[string]string{"deployment": "{resource_name}", "namespace": "{namespace}"}},
				{Name: "rollout status", Description: "Confirm the rollout converged", Risk: RiskLow, ToolName: "k8s_rollout_status",
					ParamsTemplate: map[string]string{"deployment": "{resource_name}", "namespace": "{namespace}"}},
			},
		},
		{
			ID:   "node_not_ready_remediation",
			Name: "Node not-ready remediation",
			Steps: []Step{
				{Name: "describe node", Description: "Describe the not-ready node", Risk: RiskLow, ToolName: "k8s_describe_node",
					ParamsTemplate: map[string]string{"node_name": "{resource_name}"}},
				{Name: "cordon", Description: "Cordon the node", Risk: RiskMedium, ToolName: "k8s_cordon_node",
					ParamsTemplate: map[string]string{"node_name": "{resource_name}"}},
				{Name: "drain", Description: "Drain the node", Risk: RiskHigh, ToolName: "k8s_drain_node",
					ParamsTemplate: map[string]string{"node_name": "{resource_name}"}},
			},
		},
		{
			ID:   "scale_up_on_load",
			Name: "Scale up on load",
			Steps: []Step{
				{Name: "scale deployment", Description: "Scale the deployment up", Risk: RiskMedium, ToolName: "k8s_scale_deployment",
					ParamsTemplate: map[string]string{"deployment": "{resource_name}", "namespace": "{namespace}"}},
			},
		},
	}
}
