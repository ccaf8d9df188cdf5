// aiops-engine is a proactive SRE remediation engine for Kubernetes: it
// watches the cluster, classifies anomalies into incident categories,
// matches them against a playbook catalog, and executes remediation steps
// under human approval gates.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeready-toolchain/aiops-engine/pkg/config"
	"github.com/codeready-toolchain/aiops-engine/pkg/engine"
	"github.com/codeready-toolchain/aiops-engine/pkg/version"
)

// shutdownTimeout bounds the webhook HTTP server's graceful shutdown, kept
// short relative to the engine's own 30s playbook-drain grace period.
const shutdownTimeout = 5 * time.Second

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "./config.yaml"), "Path to the engine's configuration document")
	httpAddr := flag.String("http-addr", getEnv("HTTP_ADDR", ":8080"), "Address the Alertmanager webhook listens on")
	flag.Parse()

	slog.Info("starting aiops-engine", "version", version.Full(), "config", *configPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	watcher, err := config.WatchFile(ctx, *configPath, func(reloaded *config.Config) {
		slog.Info("configuration reloaded")
		cfg = reloaded
	})
	if err != nil {
		slog.Warn("configuration hot-reload disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to construct engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(ctx); err != nil {
		slog.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/webhook/alertmanager", eng.WebhookHandler())
	server := &http.Server{Addr: *httpAddr, Handler: mux}

	go func() {
		slog.Info("alertmanager webhook listening", "addr", *httpAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("webhook server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("webhook server shutdown error", "error", err)
	}

	eng.Stop()
	slog.Info("aiops-engine stopped")
}
