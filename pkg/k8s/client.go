// Package k8s implements the read-only Kubernetes Client the WatchLoop uses
// to observe cluster state. spec.md treats this as an interface-only
// component; the concrete client-go backed implementation here is a domain
// dependency the distilled spec left abstract (SPEC_FULL.md §4).
package k8s

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client is the read operations the WatchLoop needs (spec.md §2): list
// pods/nodes/deployments, get events, fetch logs.
type Client interface {
	ListPods(ctx context.Context) ([]corev1.Pod, error)
	ListNodes(ctx context.Context) ([]corev1.Node, error)
	ListDeployments(ctx context.Context, namespace string) ([]appsv1.Deployment, error)
	GetEvents(ctx context.Context, namespace string) ([]corev1.Event, error)
	FetchLogs(ctx context.Context, namespace, podName, containerName string, tailLines int64) (string, error)
}

// clientsetClient is the client-go backed Client implementation.
type clientsetClient struct {
	clientset kubernetes.Interface
}

// NewClient builds a Client using in-cluster config when available, falling
// back to the kubeconfig file at kubeconfigPath — the standard client-go bootstrap
// idiom shared by the rest of the retrieval pack's Kubernetes tooling.
func NewClient(kubeconfigPath string) (Client, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build kubernetes clientset: %w", err)
	}
	return &clientsetClient{clientset: clientset}, nil
}

func (c *clientsetClient) ListPods(ctx context.Context) ([]corev1.Pod, error) {
	list, err := c.clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}
	return list.Items, nil
}

func (c *clientsetClient) ListNodes(ctx context.Context) ([]corev1.Node, error) {
	list, err := c.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return list.Items, nil
}

func (c *clientsetClient) ListDeployments(ctx context.Context, namespace string) ([]appsv1.Deployment, error) {
	list, err := c.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list deployments in %q: %w", namespace, err)
	}
	return list.Items, nil
}

// GetEvents lists the events recorded against resources in namespace —
// richer incident context than a bare ClusterEvent carries (e.g. an eviction
// reason). The WatchLoop's scans and the playbook Executor do not call it.
func (c *clientsetClient) GetEvents(ctx context.Context, namespace string) ([]corev1.Event, error) {
	list, err := c.clientset.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("get events in %q: %w", namespace, err)
	}
	return list.Items, nil
}

func (c *clientsetClient) FetchLogs(ctx context.Context, namespace, podName, containerName string, tailLines int64) (string, error) {
	opts := &corev1.PodLogOptions{Container: containerName}
	if tailLines > 0 {
		opts.TailLines = &tailLines
	}
	req := c.clientset.CoreV1().Pods(namespace).GetLogs(podName, opts)

	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stream, err := req.Stream(readCtx)
	if err != nil {
		return "", fmt.Errorf("stream logs for %s/%s: %w", namespace, podName, err)
	}
	defer stream.Close()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := stream.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return string(buf), nil
}
