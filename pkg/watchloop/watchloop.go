// Package watchloop implements the WatchLoop: a supervised background task
// that scans the cluster on a steady interval, normalizes observations into
// ClusterEvents, deduplicates against a live known-issues set, and dispatches
// new events into the Rule Engine -> Executor pipeline.
package watchloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/codeready-toolchain/aiops-engine/pkg/clusterevent"
	"github.com/codeready-toolchain/aiops-engine/pkg/k8s"
	"github.com/codeready-toolchain/aiops-engine/pkg/metrics"
	"github.com/codeready-toolchain/aiops-engine/pkg/playbook"
	"github.com/codeready-toolchain/aiops-engine/pkg/rules"
)

// Notifier posts the alert line to the configured SRE channel.
type Notifier interface {
	Send(ctx context.Context, channelTarget, message string) error
}

// Runner starts a matched playbook against a dispatched event (spec.md
// §4.1(c)) — satisfied by *playbook.Executor.
type Runner interface {
	Execute(ctx context.Context, playbookID string, event playbook.EventContext, channelTarget string) (*playbook.Run, error)
}

// Config controls one WatchLoop instance's behavior (mirrors config.WatchLoopConfig + config.AIOpsConfig).
type Config struct {
	Interval            time.Duration
	NotificationChannel string
	AutoRemediation     bool
}

// observation is one raw unhealthy-resource sighting derived from a single scan.
type observation struct {
	key         clusterevent.KnownIssueKey
	annotations map[string]string
}

// WatchLoop is the single-writer owner of the known-issues set (spec.md §9:
// "no locking needed inside the WatchLoop task" — the set is only ever
// touched from the loop's own goroutine).
type WatchLoop struct {
	cfg      Config
	client   k8s.Client
	ruleEng  *rules.Engine
	executor Runner
	notifier Notifier
	metrics  *metrics.Collectors
	log      *slog.Logger

	knownIssues    map[clusterevent.KnownIssueKey]struct{}
	notReadyStreak map[string]int // node name -> consecutive non-ready cycle count

	snapshotMu sync.RWMutex // guards knownIssues against concurrent Snapshot() reads; only the loop goroutine writes

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a WatchLoop. executor and notifier may be nil in tests that
// only want to observe dispatch decisions via Snapshot(), but a
// production engine always wires both. metricsC may be nil (metrics disabled).
func New(cfg Config, client k8s.Client, ruleEng *rules.Engine, executor Runner, notifier Notifier, metricsC *metrics.Collectors) *WatchLoop {
	return &WatchLoop{
		cfg:            cfg,
		client:         client,
		ruleEng:        ruleEng,
		executor:       executor,
		notifier:       notifier,
		metrics:        metricsC,
		log:            slog.With("component", "watchloop"),
		knownIssues:    make(map[clusterevent.KnownIssueKey]struct{}),
		notReadyStreak: make(map[string]int),
		stopCh:         make(chan struct{}),
	}
}

// Start begins the steady-interval scan loop in a goroutine.
func (w *WatchLoop) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the loop to stop and waits for the in-flight cycle to finish.
// Safe to call multiple times.
func (w *WatchLoop) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Snapshot returns an immutable copy of the current known-issues set for
// diagnostics (spec.md §9; made a first-class operation by SPEC_FULL.md §5).
func (w *WatchLoop) Snapshot() []clusterevent.KnownIssueKey {
	w.snapshotMu.RLock()
	defer w.snapshotMu.RUnlock()
	out := make([]clusterevent.KnownIssueKey, 0, len(w.knownIssues))
	for k := range w.knownIssues {
		out = append(out, k)
	}
	return out
}

func (w *WatchLoop) run(ctx context.Context) {
	defer w.wg.Done()
	w.log.Info("watchloop started", "interval", w.cfg.Interval)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			w.log.Info("watchloop stopping")
			return
		case <-ctx.Done():
			w.log.Info("watchloop context cancelled")
			return
		case <-ticker.C:
			// A cycle that overruns is allowed to finish; the ticker simply
			// fires less often in effect since Go's Ticker drops missed ticks
			// rather than queuing them — no overlapping cycles on this loop.
			cycleCtx, cancel := context.WithTimeout(ctx, w.cfg.Interval/2)
			w.runCycle(cycleCtx)
			cancel()
			w.metrics.IncWatchCycle()
		}
	}
}

// runCycle performs one scan-dispatch pass. Per spec.md §4.1, a cluster-API
// error on one sub-scan (pods/nodes/deployments) is logged and that sub-scan
// alone is skipped — the known-issues set is left untouched for the kinds it
// would have produced, so no false recovery is inferred.
func (w *WatchLoop) runCycle(ctx context.Context) {
	if pods, err := w.client.ListPods(ctx); err != nil {
		w.log.Warn("pod scan failed, skipping this cycle's pod-derived kinds", "error", err)
	} else {
		w.reconcile(ctx, clusterevent.CrashLoop, deriveCrashLoop(pods))
		w.reconcile(ctx, clusterevent.OOMKilled, deriveOOMKilled(pods))
	}

	if nodes, err := w.client.ListNodes(ctx); err != nil {
		w.log.Warn("node scan failed, skipping this cycle's node-derived kind", "error", err)
	} else {
		w.reconcile(ctx, clusterevent.NotReadyNode, w.deriveNotReadyNode(nodes))
	}

	if deployments, err := w.client.ListDeployments(ctx, ""); err != nil {
		w.log.Warn("deployment scan failed, skipping this cycle's deployment-derived kind", "error", err)
	} else {
		w.reconcile(ctx, clusterevent.ReplicationFailure, deriveReplicationFailure(deployments))
	}
}

// reconcile compares this cycle's raw observations of one kind against the
// known-issues set: new keys fire a ClusterEvent and are inserted; known keys
// no longer observed are removed (a recovery, logged but silent otherwise).
func (w *WatchLoop) reconcile(ctx context.Context, kind clusterevent.Kind, observed []observation) {
	observedSet := make(map[clusterevent.KnownIssueKey]observation, len(observed))
	for _, o := range observed {
		observedSet[o.key] = o
	}

	w.snapshotMu.Lock()
	var newOnes []observation
	for key, o := range observedSet {
		if _, known := w.knownIssues[key]; !known {
			w.knownIssues[key] = struct{}{}
			newOnes = append(newOnes, o)
		}
	}
	var recovered []clusterevent.KnownIssueKey
	for key := range w.knownIssues {
		if key.Kind != kind {
			continue
		}
		if _, stillBad := observedSet[key]; !stillBad {
			delete(w.knownIssues, key)
			recovered = append(recovered, key)
		}
	}
	w.snapshotMu.Unlock()

	for _, key := range recovered {
		w.log.Info("resource recovered, re-arming", "kind", key.Kind, "resource_kind", key.ResourceKind, "namespace", key.Namespace, "name", key.ResourceName)
	}
	for _, o := range newOnes {
		w.dispatch(ctx, kind, o)
	}
}

func (w *WatchLoop) dispatch(ctx context.Context, kind clusterevent.Kind, o observation) {
	event := clusterevent.New(kind, clusterevent.Critical, o.key.ResourceKind, o.key.Namespace, o.key.ResourceName, time.Now(), o.annotations)
	w.metrics.IncEventDetected(string(kind))

	matches := w.ruleEng.Match(event)
	w.log.Info("new cluster event", "kind", kind, "resource", o.key.ResourceName, "namespace", o.key.Namespace, "matched_playbooks", len(matches))

	if w.notifier != nil {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.PlaybookID
		}
		msg := fmt.Sprintf("[%s] %s %s/%s — matched playbooks: %v", event.Severity, kind, event.Namespace, event.ResourceName, ids)
		if err := w.notifier.Send(ctx, w.cfg.NotificationChannel, msg); err != nil {
			w.log.Warn("failed to post alert", "error", err)
		}
	}

	if !w.cfg.AutoRemediation || w.executor == nil {
		return
	}

	evCtx := eventToContext(event)
	for _, m := range matches {
		if _, err := w.executor.Execute(ctx, m.PlaybookID, evCtx, w.cfg.NotificationChannel); err != nil {
			// A hard error in the dispatch path for one event does not stop the loop (spec.md §4.1).
			w.log.Error("failed to launch playbook run", "playbook", m.PlaybookID, "error", err)
		}
	}
}

// eventToContext flattens a ClusterEvent into the {dotted.path}-addressable
// map the Executor's parameter templating reads (spec.md §4.3).
func eventToContext(e clusterevent.Event) playbook.EventContext {
	ctx := playbook.EventContext{
		"resource_name": e.ResourceName,
		"namespace":     e.Namespace,
		"resource_kind": e.ResourceKind,
		"kind":          string(e.Kind),
		"severity":      string(e.Severity),
	}
	for k, v := range e.Annotations {
		ctx["annotations."+k] = v
	}
	return ctx
}

// deriveCrashLoop flags a pod once any container is waiting in
// CrashLoopBackOff. No other container state is consulted: a container that
// terminated or is running with reason Error is not flagged by itself.
func deriveCrashLoop(pods []corev1.Pod) []observation {
	var out []observation
	for _, pod := range pods {
		for _, cs := range pod.Status.ContainerStatuses {
			waiting := cs.State.Waiting
			if waiting == nil || waiting.Reason != "CrashLoopBackOff" {
				continue
			}
			out = append(out, observation{
				key:         clusterevent.KnownIssueKey{ResourceKind: "Pod", Namespace: pod.Namespace, ResourceName: pod.Name, Kind: clusterevent.CrashLoop},
				annotations: map[string]string{"container": cs.Name},
			})
			break
		}
	}
	return out
}

func deriveOOMKilled(pods []corev1.Pod) []observation {
	var out []observation
	for _, pod := range pods {
		for _, cs := range pod.Status.ContainerStatuses {
			if term := cs.LastTerminationState.Terminated; term != nil && term.Reason == "OOMKilled" {
				out = append(out, observation{
					key:         clusterevent.KnownIssueKey{ResourceKind: "Pod", Namespace: pod.Namespace, ResourceName: pod.Name, Kind: clusterevent.OOMKilled},
					annotations: map[string]string{"container": cs.Name},
				})
				break
			}
		}
	}
	return out
}

// deriveNotReadyNode requires a node to be observed non-Ready on two
// consecutive cycles, OR already non-Ready with a lastTransitionTime older
// than one cycle, before it counts as a new incident — this suppresses flaps
// (spec.md §4.1).
func (w *WatchLoop) deriveNotReadyNode(nodes []corev1.Node) []observation {
	var out []observation
	seen := make(map[string]bool, len(nodes))

	for _, node := range nodes {
		seen[node.Name] = true
		ready := nodeReadyCondition(node)
		if ready != nil && ready.Status == corev1.ConditionTrue {
			w.notReadyStreak[node.Name] = 0
			continue
		}

		w.notReadyStreak[node.Name]++
		stale := ready != nil && time.Since(ready.LastTransitionTime.Time) > w.cfg.Interval
		if w.notReadyStreak[node.Name] >= 2 || stale {
			out = append(out, observation{
				key: clusterevent.KnownIssueKey{ResourceKind: "Node", Namespace: "", ResourceName: node.Name, Kind: clusterevent.NotReadyNode},
			})
		}
	}

	for name := range w.notReadyStreak {
		if !seen[name] {
			delete(w.notReadyStreak, name)
		}
	}
	return out
}

// deriveReplicationFailure flags a deployment that wants replicas but has
// zero available (spec.md §4.1: "spec.replicas > 0 && status.availableReplicas == 0").
func deriveReplicationFailure(deployments []appsv1.Deployment) []observation {
	var out []observation
	for _, dep := range deployments {
		wantsReplicas := dep.Spec.Replicas != nil && *dep.Spec.Replicas > 0
		if wantsReplicas && dep.Status.AvailableReplicas == 0 {
			out = append(out, observation{
				key: clusterevent.KnownIssueKey{ResourceKind: "Deployment", Namespace: dep.Namespace, ResourceName: dep.Name, Kind: clusterevent.ReplicationFailure},
			})
		}
	}
	return out
}

func nodeReadyCondition(node corev1.Node) *corev1.NodeCondition {
	for i := range node.Status.Conditions {
		if node.Status.Conditions[i].Type == corev1.NodeReady {
			return &node.Status.Conditions[i]
		}
	}
	return nil
}
