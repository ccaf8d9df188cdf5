// Package webhook implements the inbound Alertmanager ingress: a plain
// http.Handler the embedding binary mounts on whatever router it already
// runs (spec.md §4.6). Kept framework-free since the retrieval corpus itself
// straddles gin and echo depending on file vintage — see DESIGN.md.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeready-toolchain/aiops-engine/pkg/clusterevent"
)

// Dispatcher is the Rule Engine -> Executor path a dispatched ClusterEvent
// feeds into — satisfied by the same runner the WatchLoop uses.
type Dispatcher interface {
	Dispatch(ctx context.Context, event clusterevent.Event)
}

// alert is one entry of an Alertmanager webhook batch (spec.md §4.6).
type alert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	EndsAt      time.Time         `json:"endsAt"`
}

// batch is the Alertmanager webhook request body.
type batch struct {
	Alerts []alert `json:"alerts"`
}

// Handler serves POST /api/webhook/alertmanager.
type Handler struct {
	dispatcher Dispatcher
	rootCtx    context.Context
	log        *slog.Logger
}

// NewHandler builds a Handler that feeds accepted alerts to dispatcher. The
// async processing spawned per request runs off rootCtx (the engine's own
// lifecycle), never off the inbound request's context: net/http cancels
// r.Context() the instant ServeHTTP returns, which is immediately after the
// 200 is written, so a request-scoped context would abort every dispatch
// before it could do any work.
func NewHandler(dispatcher Dispatcher, rootCtx context.Context) *Handler {
	return &Handler{dispatcher: dispatcher, rootCtx: rootCtx, log: slog.With("component", "alertmanager_webhook")}
}

// ServeHTTP decodes the batch, responds 200 immediately, and converts+dispatches
// each firing alert asynchronously (spec.md §4.6: "Responds 200 as soon as
// the batch is accepted; processing is asynchronous").
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var b batch
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		// Unknown/malformed inbound shapes are logged and dropped, never fatal (spec.md §7).
		h.log.Warn("malformed alertmanager payload, dropping", "error", err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"accepted"}`))

	go h.process(h.rootCtx, b)
}

func (h *Handler) process(ctx context.Context, b batch) {
	for _, a := range b.Alerts {
		if a.Status != "firing" {
			continue
		}
		event := toClusterEvent(a)
		h.dispatcher.Dispatch(ctx, event)
	}
}

// toClusterEvent converts one firing alert to a ClusterEvent per spec.md
// §4.6: fixed kind=AlertmanagerFiring, severity=Critical (the per-alert
// severity label is intentionally not consulted — see DESIGN.md Open
// Question decisions), resource identity drawn from labels.
func toClusterEvent(a alert) clusterevent.Event {
	resourceKind, resourceName := resourceIdentity(a.Labels)
	return clusterevent.New(
		clusterevent.AlertmanagerFiring,
		clusterevent.Critical,
		resourceKind,
		a.Labels["namespace"],
		resourceName,
		time.Now(),
		a.Annotations,
	)
}

// resourceIdentity picks the first of pod/deployment/node present in labels.
func resourceIdentity(labels map[string]string) (kind, name string) {
	if v, ok := labels["pod"]; ok {
		return "Pod", v
	}
	if v, ok := labels["deployment"]; ok {
		return "Deployment", v
	}
	if v, ok := labels["node"]; ok {
		return "Node", v
	}
	return "", ""
}
