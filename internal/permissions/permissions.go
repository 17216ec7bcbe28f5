// Package permissions translates ACP permission modes into the Codex CLI
// overrides that keep the child process fully non-interactive. An agent
// operating a Codex subprocess on behalf of an IDE client must never let
// Codex block on a terminal approval prompt, so every mode maps to
// approval_policy=never and the bridge instead expresses risk via
// sandbox_mode and network_access.
package permissions

import (
	"strconv"
	"strings"

	"github.com/kandev/acplb-codex/internal/common/config"
)

// Mode is an ACP permission mode, carried on SessionState and mutated only
// by session/set_mode.
type Mode int

const (
	// ModeDefault is read-only, no network: the safe default for a new
	// session.
	ModeDefault Mode = iota
	// ModePlan is semantically identical to Default; the agent is
	// reasoning about a plan rather than executing one.
	ModePlan
	// ModeAcceptEdits allows workspace writes but no network.
	ModeAcceptEdits
	// ModeBypassPermissions allows workspace writes and network access.
	ModeBypassPermissions
	// ModeYolo is full access, danger mode; must be explicitly requested.
	ModeYolo
)

// String returns the canonical lowercase name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModePlan:
		return "plan"
	case ModeAcceptEdits:
		return "accept-edits"
	case ModeBypassPermissions:
		return "bypass-permissions"
	case ModeYolo:
		return "yolo"
	default:
		return "default"
	}
}

// ParseMode parses a mode id case-insensitively, accepting the aliases
// documented for session/set_mode. It returns false if the id is not
// recognized.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(s) {
	case "default":
		return ModeDefault, true
	case "plan":
		return ModePlan, true
	case "acceptedits", "accept-edits", "accept_edits":
		return ModeAcceptEdits, true
	case "bypasspermissions", "bypass-permissions", "bypass_permissions":
		return ModeBypassPermissions, true
	case "yolo", "danger", "danger-full-access":
		return ModeYolo, true
	default:
		return ModeDefault, false
	}
}

// CodexOverrides are the Codex CLI parameters a mode is rendered into.
type CodexOverrides struct {
	ApprovalPolicy string
	SandboxMode    string
	NetworkAccess  bool
	ExtraArgs      []string
}

const dangerBypassFlag = "--dangerously-bypass-approvals-and-sandbox"

// Map implements the PermissionMode -> CodexOverrides total function from
// the mode table: every Mode value produces a defined result.
func Map(mode Mode) CodexOverrides {
	switch mode {
	case ModeAcceptEdits:
		return CodexOverrides{
			ApprovalPolicy: "never",
			SandboxMode:    "workspace-write",
			NetworkAccess:  false,
		}
	case ModeBypassPermissions:
		return CodexOverrides{
			ApprovalPolicy: "never",
			SandboxMode:    "workspace-write",
			NetworkAccess:  true,
		}
	case ModeYolo:
		return CodexOverrides{
			ApprovalPolicy: "never",
			SandboxMode:    "danger-full-access",
			NetworkAccess:  true,
			ExtraArgs:      []string{dangerBypassFlag},
		}
	case ModeDefault, ModePlan:
		fallthrough
	default:
		return CodexOverrides{
			ApprovalPolicy: "never",
			SandboxMode:    "read-only",
			NetworkAccess:  false,
		}
	}
}

// ApplyEnvOverrides replaces any of the three scalar fields with an explicit
// ACPLB_* environment override, applied last so it always wins over the
// table-computed value.
func ApplyEnvOverrides(overrides CodexOverrides, cfg *config.RuntimeConfig) CodexOverrides {
	if cfg == nil {
		return overrides
	}
	if cfg.ApprovalPolicyOverride != "" {
		overrides.ApprovalPolicy = cfg.ApprovalPolicyOverride
	}
	if cfg.SandboxModeOverride != "" {
		overrides.SandboxMode = cfg.SandboxModeOverride
	}
	if cfg.NetworkAccessOverride != nil {
		overrides.NetworkAccess = *cfg.NetworkAccessOverride
	}
	return overrides
}

// ToCLIArgs renders the overrides as repeated "-c key=value" pairs, in the
// exact order Codex's `proto` subcommand expects them, followed by any
// extra flags verbatim.
func (o CodexOverrides) ToCLIArgs() []string {
	args := []string{
		"-c", "approval_policy=" + o.ApprovalPolicy,
		"-c", "sandbox_mode=" + o.SandboxMode,
	}

	if o.SandboxMode == "workspace-write" && o.NetworkAccess {
		args = append(args, "-c", "sandbox_workspace_write.network_access="+strconv.FormatBool(true))
	}

	args = append(args, o.ExtraArgs...)
	return args
}
