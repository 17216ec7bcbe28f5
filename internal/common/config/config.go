// Package config loads the bridge's runtime configuration from the
// environment, optionally layered over a YAML file named by
// ACPLB_CONFIG_FILE. Every field is overridable via an ACPLB_* (or
// CODEX_CMD) variable, which always wins over the file; there is no remote
// config source, matching the bridge's single-process, single-operator
// deployment shape.
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds the tunables that shape how a turn is driven: how long
// to wait before declaring a turn idle, how often to poll the notify sink,
// and where to write the JSONL evidence log.
type RuntimeConfig struct {
	// IdleTimeoutMs is the inactivity threshold after which a turn with no
	// stream activity and no notify signal is declared complete.
	IdleTimeoutMs int

	// PollingIntervalMs is the notify-file poll period.
	PollingIntervalMs int

	// EvidencePath, when non-empty, receives a JSONL audit trail of
	// RuntimeServer events. Empty disables evidence recording.
	EvidencePath string

	// CodexCmd is the Codex CLI binary to spawn, default "codex".
	CodexCmd string

	// NotifyPath, when set, is the file or FIFO the bridge tails/reads for
	// out-of-band "agent-turn-complete" signals.
	NotifyPath string

	// NotifyKind selects the notify sink implementation: "file" or "fifo".
	NotifyKind string

	// NotifyInject controls whether the bridge injects a `-c notify=...`
	// override into the Codex CLI args: "auto", "force", or "never".
	NotifyInject string

	// NotifyCmd, when set under inject mode "auto", replaces the resolved
	// forwarder binary path in the injected notify command.
	NotifyCmd string

	// ApprovalPolicyOverride, SandboxModeOverride and NetworkAccessOverride
	// are the per-turn escape hatches documented in the permission map; an
	// empty string/false leaves the computed value untouched.
	ApprovalPolicyOverride string
	SandboxModeOverride    string
	NetworkAccessOverride  *bool
}

const (
	defaultIdleTimeoutMs     = 1200
	defaultPollingIntervalMs = 100
	defaultCodexCmd          = "codex"
	defaultNotifyKind        = "file"
	defaultNotifyInject      = "auto"
)

// fileOverrides is the subset of RuntimeConfig an operator can pin in a
// checked-in YAML file rather than per-process environment variables —
// useful for the fields that rarely change between runs on one machine.
// Anything an ACPLB_* variable also covers still wins over the file, so a
// one-off env var always beats the committed default.
type fileOverrides struct {
	IdleTimeoutMs     *int    `yaml:"idleTimeoutMs"`
	PollingIntervalMs *int    `yaml:"pollingIntervalMs"`
	EvidencePath      *string `yaml:"evidencePath"`
	CodexCmd          *string `yaml:"codexCmd"`
	NotifyKind        *string `yaml:"notifyKind"`
	NotifyInject      *string `yaml:"notifyInject"`
}

// Load reads RuntimeConfig from an optional ACPLB_CONFIG_FILE YAML file,
// then the process environment, applying the documented defaults for
// anything neither sets.
func Load() *RuntimeConfig {
	file := loadFile(getEnv("ACPLB_CONFIG_FILE", ""))

	cfg := &RuntimeConfig{
		IdleTimeoutMs:     getEnvInt("ACPLB_IDLE_TIMEOUT_MS", fileInt(file.IdleTimeoutMs, defaultIdleTimeoutMs)),
		PollingIntervalMs: getEnvInt("ACPLB_POLLING_INTERVAL_MS", fileInt(file.PollingIntervalMs, defaultPollingIntervalMs)),
		EvidencePath:      getEnv("ACPLB_EVIDENCE_PATH", fileString(file.EvidencePath, "")),
		CodexCmd:          getEnv("CODEX_CMD", fileString(file.CodexCmd, defaultCodexCmd)),
		NotifyPath:        getEnv("ACPLB_NOTIFY_PATH", ""),
		NotifyKind:        strings.ToLower(getEnv("ACPLB_NOTIFY_KIND", fileString(file.NotifyKind, defaultNotifyKind))),
		NotifyInject:      strings.ToLower(getEnv("ACPLB_NOTIFY_INJECT", fileString(file.NotifyInject, defaultNotifyInject))),
		NotifyCmd:         getEnv("ACPLB_NOTIFY_CMD", ""),

		ApprovalPolicyOverride: getEnv("ACPLB_APPROVAL_POLICY", ""),
		SandboxModeOverride:    getEnv("ACPLB_SANDBOX_MODE", ""),
	}

	if raw, ok := os.LookupEnv("ACPLB_NETWORK_ACCESS"); ok && raw != "" {
		v := parseBool(raw)
		cfg.NetworkAccessOverride = &v
	}

	return cfg
}

// loadFile reads path as a fileOverrides document. A missing path (the
// common case — no file configured) is silent; a present-but-malformed file
// is also silent, since a config file is an optional convenience and must
// never keep the bridge from starting with its environment-only defaults.
func loadFile(path string) fileOverrides {
	var file fileOverrides
	if path == "" {
		return file
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return file
	}
	_ = yaml.Unmarshal(data, &file)
	return file
}

func fileString(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func fileInt(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(value string) bool {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return strings.EqualFold(value, "yes") || strings.EqualFold(value, "on")
	}
	return v
}
