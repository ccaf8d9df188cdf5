package k8s

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
)

// FakeClient is a hand-written in-memory Client used by tests across the
// engine (WatchLoop cycle tests in particular) — the corpus favors fakes
// over mocks (tarsy's own test suite; SPEC_FULL.md §3).
type FakeClient struct {
	Pods        []corev1.Pod
	Nodes       []corev1.Node
	Deployments map[string][]appsv1.Deployment // namespace -> deployments
	Events      map[string][]corev1.Event      // namespace -> events
	Logs        string
	Err         error
}

func (f *FakeClient) ListPods(ctx context.Context) ([]corev1.Pod, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Pods, nil
}

func (f *FakeClient) ListNodes(ctx context.Context) ([]corev1.Node, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Nodes, nil
}

func (f *FakeClient) ListDeployments(ctx context.Context, namespace string) ([]appsv1.Deployment, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Deployments[namespace], nil
}

func (f *FakeClient) GetEvents(ctx context.Context, namespace string) ([]corev1.Event, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Events[namespace], nil
}

func (f *FakeClient) FetchLogs(ctx context.Context, namespace, podName, containerName string, tailLines int64) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Logs, nil
}
