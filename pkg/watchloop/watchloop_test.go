package watchloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/codeready-toolchain/aiops-engine/pkg/clusterevent"
	"github.com/codeready-toolchain/aiops-engine/pkg/k8s"
	"github.com/codeready-toolchain/aiops-engine/pkg/playbook"
	"github.com/codeready-toolchain/aiops-engine/pkg/rules"
)

type fakeRunner struct {
	calls []string
}

func (f *fakeRunner) Execute(ctx context.Context, playbookID string, event playbook.EventContext, channelTarget string) (*playbook.Run, error) {
	f.calls = append(f.calls, playbookID)
	return &playbook.Run{RunID: "run-1", PlaybookID: playbookID}, nil
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Send(ctx context.Context, channelTarget, message string) error {
	f.messages = append(f.messages, message)
	return nil
}

func crashLoopPod(ns, name string) corev1.Pod {
	return corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: name},
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{
				{Name: "app", State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff"}}},
			},
		},
	}
}

func TestReconcile_NewObservationDispatches(t *testing.T) {
	client := &k8s.FakeClient{Pods: []corev1.Pod{crashLoopPod("default", "api-1")}}
	runner := &fakeRunner{}
	notifier := &fakeNotifier{}
	eng := rules.NewEngine(rules.BuiltinRules())

	wl := New(Config{Interval: time.Minute, AutoRemediation: true, NotificationChannel: "slack:#sre"}, client, eng, runner, notifier, nil)
	wl.runCycle(context.Background())

	assert.Len(t, wl.Snapshot(), 1)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "crash_loop_remediation", runner.calls[0])
	assert.Len(t, notifier.messages, 1)
}

func TestReconcile_KnownIssueSuppressesRefire(t *testing.T) {
	client := &k8s.FakeClient{Pods: []corev1.Pod{crashLoopPod("default", "api-1")}}
	runner := &fakeRunner{}
	eng := rules.NewEngine(rules.BuiltinRules())

	wl := New(Config{Interval: time.Minute, AutoRemediation: true}, client, eng, runner, nil, nil)
	wl.runCycle(context.Background())
	wl.runCycle(context.Background())

	assert.Len(t, runner.calls, 1, "second cycle observing the same pod must not re-dispatch")
	assert.Len(t, wl.Snapshot(), 1)
}

func TestReconcile_RecoveryRemovesKnownIssue(t *testing.T) {
	client := &k8s.FakeClient{Pods: []corev1.Pod{crashLoopPod("default", "api-1")}}
	runner := &fakeRunner{}
	eng := rules.NewEngine(rules.BuiltinRules())

	wl := New(Config{Interval: time.Minute, AutoRemediation: true}, client, eng, runner, nil, nil)
	wl.runCycle(context.Background())
	require.Len(t, wl.Snapshot(), 1)

	client.Pods = nil
	wl.runCycle(context.Background())

	assert.Empty(t, wl.Snapshot(), "resource no longer observed unhealthy must be removed from known issues")
	assert.Len(t, runner.calls, 1, "recovery must not trigger a dispatch")
}

func TestRunCycle_TransientScanErrorSkipsThatKindOnly(t *testing.T) {
	client := &k8s.FakeClient{
		Pods: []corev1.Pod{crashLoopPod("default", "api-1")},
		Nodes: []corev1.Node{
			{ObjectMeta: metav1.ObjectMeta{Name: "node-1"}, Status: corev1.NodeStatus{Conditions: []corev1.NodeCondition{
				{Type: corev1.NodeReady, Status: corev1.ConditionFalse, LastTransitionTime: metav1.Now()},
			}}},
		},
	}
	runner := &fakeRunner{}
	eng := rules.NewEngine(rules.BuiltinRules())

	wl := New(Config{Interval: time.Minute, AutoRemediation: true}, client, eng, runner, nil, nil)
	wl.runCycle(context.Background())

	// Node flap suppression needs two consecutive cycles; pod crash loop fires immediately.
	assert.Len(t, wl.Snapshot(), 1)

	client.Err = assert.AnError
	wl.runCycle(context.Background())

	// All sub-scans failed this cycle; the known-issues set must be untouched.
	assert.Len(t, wl.Snapshot(), 1)
}

func TestDeriveNotReadyNode_RequiresTwoConsecutiveCyclesUnlessStale(t *testing.T) {
	wl := New(Config{Interval: time.Minute}, nil, nil, nil, nil, nil)
	node := corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
		Status: corev1.NodeStatus{Conditions: []corev1.NodeCondition{
			{Type: corev1.NodeReady, Status: corev1.ConditionFalse, LastTransitionTime: metav1.Now()},
		}},
	}

	first := wl.deriveNotReadyNode([]corev1.Node{node})
	assert.Empty(t, first, "a single fresh non-ready observation must not yet count as an incident")

	second := wl.deriveNotReadyNode([]corev1.Node{node})
	assert.Len(t, second, 1, "two consecutive non-ready cycles must count as an incident")
}

func TestDeriveNotReadyNode_StaleTransitionCountsImmediately(t *testing.T) {
	wl := New(Config{Interval: time.Minute}, nil, nil, nil, nil, nil)
	node := corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
		Status: corev1.NodeStatus{Conditions: []corev1.NodeCondition{
			{Type: corev1.NodeReady, Status: corev1.ConditionFalse, LastTransitionTime: metav1.NewTime(time.Now().Add(-2 * time.Minute))},
		}},
	}

	out := wl.deriveNotReadyNode([]corev1.Node{node})
	assert.Len(t, out, 1, "a transition older than one interval must count immediately")
}

func TestDeriveOOMKilled(t *testing.T) {
	pod := corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "worker-1"},
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{
				{Name: "app", LastTerminationState: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{Reason: "OOMKilled"}}},
			},
		},
	}
	out := deriveOOMKilled([]corev1.Pod{pod})
	require.Len(t, out, 1)
	assert.Equal(t, clusterevent.OOMKilled, out[0].key.Kind)
}

func TestDeriveReplicationFailure(t *testing.T) {
	one := int32(3)
	dep := appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "api"},
		Spec:       appsv1.DeploymentSpec{Replicas: &one},
		Status:     appsv1.DeploymentStatus{AvailableReplicas: 0},
	}
	out := deriveReplicationFailure([]appsv1.Deployment{dep})
	require.Len(t, out, 1)
	assert.Equal(t, clusterevent.ReplicationFailure, out[0].key.Kind)
}

func TestStop_IsIdempotentAndWaitsForInFlightCycle(t *testing.T) {
	client := &k8s.FakeClient{}
	eng := rules.NewEngine(nil)
	wl := New(Config{Interval: 10 * time.Millisecond}, client, eng, nil, nil, nil)

	wl.Start(context.Background())
	time.Sleep(15 * time.Millisecond)
	wl.Stop()
	wl.Stop() // must not panic or block on double-close
}
