package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the engine's single YAML config document from path, expands
// environment variables, unmarshals, and validates it.
func Load(path string) (*Config, error) {
	log := slog.With("config_path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, fmt.Errorf("%w: %s", ErrConfigNotFound, path))
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	log.Info("configuration loaded",
		"watchloop_enabled", cfg.WatchLoop.Enabled,
		"auto_remediation", cfg.AIOps.AutoRemediation,
		"mcp_servers", len(cfg.MCP.Servers))

	return &cfg, nil
}

// Validate runs struct-tag validation over cfg, wrapping the result so callers
// can errors.Is it against ErrValidationFailed.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	for name, server := range cfg.MCP.Servers {
		if server.Type == MCPServerStdio && server.Command == "" {
			return NewValidationError("mcp_server", name, "command", ErrMissingRequiredField)
		}
	}
	return nil
}

// Watcher notifies a callback each time the config file at path changes on
// disk. It is optional — the engine runs fine without one attached; nothing
// in this package requires hot reload to function.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchFile starts watching path for writes, invoking onChange with the
// freshly-reloaded Config on every successful reload. Parse/validation
// failures during a reload are logged and the previous in-memory config
// keeps running — a bad edit never crashes the watching process.
func WatchFile(ctx context.Context, path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	w := &Watcher{watcher: fw, done: make(chan struct{})}
	go w.run(ctx, path, onChange)
	return w, nil
}

func (w *Watcher) run(ctx context.Context, path string, onChange func(*Config)) {
	defer close(w.done)
	log := slog.With("config_path", path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload failed, keeping previous configuration", "error", err)
				continue
			}
			log.Info("configuration reloaded")
			onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
