package config

import "time"

// MCPServerType selects a ToolTransport variant for one MCP server entry.
type MCPServerType string

const (
	MCPServerStdio MCPServerType = "stdio"
	MCPServerSSE   MCPServerType = "sse"
)

// IsValid reports whether t is a recognized transport kind.
func (t MCPServerType) IsValid() bool {
	return t == MCPServerStdio || t == MCPServerSSE
}

// MCPServer is one entry of the `mcp.servers` map: name -> {transport kind,
// command+args or url, env}.
type MCPServer struct {
	Type    MCPServerType     `yaml:"type" validate:"required,oneof=stdio sse"`
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	URL     string            `yaml:"url,omitempty" validate:"required_if=Type sse,omitempty,url"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// WatchLoopConfig holds `watchloop.*` keys.
type WatchLoopConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds" validate:"required_if=Enabled true,omitempty,gte=1"`
}

// Interval is the configured scan interval, defaulted to 30s per spec.md §4.1.
func (w WatchLoopConfig) Interval() time.Duration {
	if w.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(w.IntervalSeconds) * time.Second
}

// AIOpsConfig holds `aiops.*` keys.
type AIOpsConfig struct {
	NotificationChannel string `yaml:"notification_channel" validate:"required"`
	AutoRemediation      bool  `yaml:"auto_remediation"`
}

// ApprovalConfig holds `approval.*` keys.
type ApprovalConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gte=0"`
}

// Timeout is the configured PendingApproval TTL, defaulted to 900s per spec.md §5.
func (a ApprovalConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 900 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// NotifyChannelConfig holds the credentials for one chat platform sender.
// Fields are populated from environment-expanded YAML (e.g. `token: ${SLACK_BOT_TOKEN}`)
// so secrets never live in the document itself.
type NotifyChannelConfig struct {
	Token string `yaml:"token,omitempty"`
}

// NotifyConfig holds `notify.*` keys — one entry per registered chat platform.
type NotifyConfig struct {
	Slack    NotifyChannelConfig `yaml:"slack,omitempty"`
	Discord  NotifyChannelConfig `yaml:"discord,omitempty"`
	Telegram NotifyChannelConfig `yaml:"telegram,omitempty"`
}

// KubernetesConfig holds `kubernetes.*` keys.
type KubernetesConfig struct {
	KubeconfigPath string `yaml:"kubeconfig_path,omitempty"`
}

// AuditConfig holds `audit.*` keys. Empty DSN disables the audit log
// entirely (SPEC_FULL.md §5: "optional, nil-able").
type AuditConfig struct {
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

// MetricsConfig holds `metrics.*` keys.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr,omitempty"`
}

// Config is the engine's top-level configuration document (spec.md §6).
type Config struct {
	WatchLoop  WatchLoopConfig  `yaml:"watchloop"`
	AIOps      AIOpsConfig      `yaml:"aiops" validate:"required"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Notify     NotifyConfig     `yaml:"notify"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Audit      AuditConfig      `yaml:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	MCP        struct {
		Servers map[string]MCPServer `yaml:"servers" validate:"required,dive"`
	} `yaml:"mcp" validate:"required"`
}
