// Package engine is the Engine Lifecycle coordinator: it builds every
// component the AIOps core needs from a loaded config.Config and binds them
// to one cancellation scope, sequencing startup and shutdown per spec.md §2
// and §5. Grounded on cmd/tarsy/main.go's construction order and
// pkg/queue/pool.go's Start/Stop-with-grace-period shape.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codeready-toolchain/aiops-engine/pkg/approval"
	"github.com/codeready-toolchain/aiops-engine/pkg/audit"
	"github.com/codeready-toolchain/aiops-engine/pkg/clusterevent"
	"github.com/codeready-toolchain/aiops-engine/pkg/config"
	"github.com/codeready-toolchain/aiops-engine/pkg/k8s"
	"github.com/codeready-toolchain/aiops-engine/pkg/mcp"
	"github.com/codeready-toolchain/aiops-engine/pkg/metrics"
	"github.com/codeready-toolchain/aiops-engine/pkg/notify"
	"github.com/codeready-toolchain/aiops-engine/pkg/playbook"
	"github.com/codeready-toolchain/aiops-engine/pkg/rules"
	"github.com/codeready-toolchain/aiops-engine/pkg/watchloop"
	"github.com/codeready-toolchain/aiops-engine/pkg/webhook"
)

// shutdownGrace is how long Stop sleeps between stopping the WatchLoop and
// tearing down the MCP transports. Stop always sleeps the full period: it
// does not track whether in-flight playbook runs have finished.
const shutdownGrace = 30 * time.Second

// Engine owns every long-lived component's lifecycle.
type Engine struct {
	cfg *config.Config
	log *slog.Logger

	k8sClient k8s.Client
	mcpMgr    *mcp.Manager
	router    *notify.Router
	approvals *approval.Manager
	registry  *playbook.Registry
	executor  *playbook.Executor
	ruleEng   *rules.Engine
	watchLoop *watchloop.WatchLoop
	webhook   *webhook.Handler
	auditLog  *audit.Log
	metricsC  *metrics.Collectors

	channel string
}

// webhookDispatcher adapts the Rule Engine + Executor pair to
// webhook.Dispatcher, for events whose kind the WatchLoop never produces
// itself (AlertmanagerFiring bypasses the known-issues set entirely).
type webhookDispatcher struct {
	ruleEng  *rules.Engine
	executor *playbook.Executor
	channel  string
	log      *slog.Logger
}

func (d *webhookDispatcher) Dispatch(ctx context.Context, event clusterevent.Event) {
	matches := d.ruleEng.Match(event)
	for _, m := range matches {
		evCtx := flattenEvent(event)
		if _, err := d.executor.Execute(ctx, m.PlaybookID, evCtx, d.channel); err != nil {
			d.log.Error("failed to launch playbook run from alertmanager event", "playbook", m.PlaybookID, "error", err)
		}
	}
}

func flattenEvent(e clusterevent.Event) playbook.EventContext {
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

// New wires the components that don't depend on live MCP tool registration:
// the cluster client, notification senders, the MCP Manager itself, the
// Approval Manager, the audit log, and metrics. The Playbook Registry (which
// validates every step's tool_name against the MCP Manager) and everything
// downstream of it are deferred to Start, since tool validation is only
// meaningful once the MCP servers have actually registered their tools.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	log := slog.With("component", "engine")

	k8sClient, err := k8s.NewClient(cfg.Kubernetes.KubeconfigPath)
	if err != nil {
		return nil, err
	}

	router := notify.NewRouter()
	if cfg.Notify.Slack.Token != "" {
		router.Register("slack", notify.NewSlackSender(cfg.Notify.Slack.Token))
	}
	if cfg.Notify.Discord.Token != "" {
		d, err := notify.NewDiscordSender(cfg.Notify.Discord.Token)
		if err != nil {
			return nil, err
		}
		router.Register("discord", d)
	}
	if cfg.Notify.Telegram.Token != "" {
		t, err := notify.NewTelegramSender(cfg.Notify.Telegram.Token)
		if err != nil {
			return nil, err
		}
		router.Register("telegram", t)
	}

	auditLog, err := audit.Open(ctx, cfg.Audit.PostgresDSN)
	if err != nil {
		return nil, err
	}

	var metricsC *metrics.Collectors
	if cfg.Metrics.Enabled {
		metricsC = metrics.New(prometheus.DefaultRegisterer)
	}

	mcpMgr := mcp.NewManager()
	mcpMgr.SetMetrics(metricsC)
	approvals := approval.NewManager(mcpMgr, router, cfg.Approval.Timeout(), auditLog, metricsC)

	return &Engine{
		cfg:       cfg,
		log:       log,
		k8sClient: k8sClient,
		mcpMgr:    mcpMgr,
		router:    router,
		approvals: approvals,
		auditLog:  auditLog,
		metricsC:  metricsC,
		channel:   cfg.AIOps.NotificationChannel,
	}, nil
}

// WebhookHandler exposes the Alertmanager ingress for the caller to mount on
// its own HTTP router (DESIGN.md: kept framework-free).
func (e *Engine) WebhookHandler() *webhook.Handler {
	return e.webhook
}

// HandleChatReply feeds one inbound chat message to the Approval Manager's
// reply grammar (spec.md §6) — the caller's chat-platform receive loop calls
// this for every inbound message it gets.
func (e *Engine) HandleChatReply(ctx context.Context, userID, message string) {
	e.approvals.HandleReply(ctx, userID, message)
}

// Start brings the engine up: MCP servers first (so every tool a playbook
// step might need is reachable before the Playbook Registry validates step
// tool names, and before the WatchLoop can dispatch one), then the Registry/
// Executor/Rule Engine/webhook handler, then the WatchLoop last (spec.md §2
// startup order).
func (e *Engine) Start(ctx context.Context) error {
	e.log.Info("starting mcp manager")
	if err := e.mcpMgr.Start(ctx, e.cfg.MCP.Servers); err != nil {
		return err
	}

	registry, err := playbook.NewRegistry(playbook.Builtins(), e.mcpMgr)
	if err != nil {
		return err
	}
	e.registry = registry
	e.executor = playbook.NewExecutor(registry, e.mcpMgr, e.approvals, e.router, e.auditLog, e.metricsC)
	e.ruleEng = rules.NewEngine(rules.BuiltinRules())

	e.webhook = webhook.NewHandler(&webhookDispatcher{
		ruleEng:  e.ruleEng,
		executor: e.executor,
		channel:  e.channel,
		log:      e.log,
	}, ctx)

	e.watchLoop = watchloop.New(watchloop.Config{
		Interval:            e.cfg.WatchLoop.Interval(),
		NotificationChannel: e.channel,
		AutoRemediation:     e.cfg.AIOps.AutoRemediation,
	}, e.k8sClient, e.ruleEng, e.executor, e.router, e.metricsC)

	e.log.Info("starting watchloop")
	e.watchLoop.Start(ctx)
	return nil
}

// Stop tears the engine down in reverse order: the WatchLoop first (so no
// new runs start), a fixed shutdownGrace sleep, then the MCP transports and
// the audit log. Stop does not cancel in-flight runs itself; they end when
// the context passed to Start is cancelled, and are otherwise left running
// when the transports close.
func (e *Engine) Stop() {
	e.log.Info("stopping watchloop")
	e.watchLoop.Stop()

	e.log.Info("draining in-flight playbook runs", "grace", shutdownGrace)
	time.Sleep(shutdownGrace)

	e.log.Info("closing mcp manager")
	if err := e.mcpMgr.Close(); err != nil {
		e.log.Warn("error closing mcp manager", "error", err)
	}

	e.auditLog.Close()
}
