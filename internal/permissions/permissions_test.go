package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kandev/acplb-codex/internal/common/config"
)

func TestParseModeAliases(t *testing.T) {
	cases := map[string]Mode{
		"default":            ModeDefault,
		"Plan":               ModePlan,
		"accept-edits":       ModeAcceptEdits,
		"accept_edits":       ModeAcceptEdits,
		"AcceptEdits":        ModeAcceptEdits,
		"bypass_permissions": ModeBypassPermissions,
		"bypasspermissions":  ModeBypassPermissions,
		"yolo":               ModeYolo,
		"danger-full-access": ModeYolo,
	}
	for in, want := range cases {
		got, ok := ParseMode(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseMode("invalid")
	assert.False(t, ok)
}

func TestMapTable(t *testing.T) {
	def := Map(ModeDefault)
	assert.Equal(t, "never", def.ApprovalPolicy)
	assert.Equal(t, "read-only", def.SandboxMode)
	assert.False(t, def.NetworkAccess)

	plan := Map(ModePlan)
	assert.Equal(t, def, plan)

	edit := Map(ModeAcceptEdits)
	assert.Equal(t, "workspace-write", edit.SandboxMode)
	assert.False(t, edit.NetworkAccess)

	bypass := Map(ModeBypassPermissions)
	assert.Equal(t, "workspace-write", bypass.SandboxMode)
	assert.True(t, bypass.NetworkAccess)

	yolo := Map(ModeYolo)
	assert.Equal(t, "danger-full-access", yolo.SandboxMode)
	assert.True(t, yolo.NetworkAccess)
	assert.Contains(t, yolo.ExtraArgs, dangerBypassFlag)
}

func TestToCLIArgs(t *testing.T) {
	o := CodexOverrides{ApprovalPolicy: "never", SandboxMode: "workspace-write", NetworkAccess: true}
	args := o.ToCLIArgs()
	assert.Contains(t, args, "-c")
	assert.Contains(t, args, "approval_policy=never")
	assert.Contains(t, args, "sandbox_mode=workspace-write")
	assert.Contains(t, args, "sandbox_workspace_write.network_access=true")
}

func TestToCLIArgsOmitsNetworkFlagWhenReadOnly(t *testing.T) {
	o := Map(ModeDefault)
	args := o.ToCLIArgs()
	for _, a := range args {
		assert.NotContains(t, a, "network_access")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	base := Map(ModeDefault)
	network := true
	cfg := &config.RuntimeConfig{
		ApprovalPolicyOverride: "on-failure",
		SandboxModeOverride:    "workspace-write",
		NetworkAccessOverride:  &network,
	}

	overridden := ApplyEnvOverrides(base, cfg)
	assert.Equal(t, "on-failure", overridden.ApprovalPolicy)
	assert.Equal(t, "workspace-write", overridden.SandboxMode)
	assert.True(t, overridden.NetworkAccess)
}

func TestApplyEnvOverridesNilConfigIsNoOp(t *testing.T) {
	base := Map(ModeYolo)
	assert.Equal(t, base, ApplyEnvOverrides(base, nil))
}
