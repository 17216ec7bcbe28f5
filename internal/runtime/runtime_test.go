package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	acp "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acplb-codex/internal/common/config"
	"github.com/kandev/acplb-codex/internal/common/logger"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)

	cfg := &config.RuntimeConfig{CodexCmd: "codex", NotifyInject: "never"}
	srv, err := New(cfg, log)
	require.NoError(t, err)
	return srv
}

func TestNewSessionRejectsRelativeCwd(t *testing.T) {
	srv := testServer(t)
	_, err := srv.NewSession(context.Background(), acp.NewSessionRequest{Cwd: "relative/path"})
	assert.Error(t, err)
}

func TestNewSessionRejectsEmptyCwd(t *testing.T) {
	srv := testServer(t)
	_, err := srv.NewSession(context.Background(), acp.NewSessionRequest{Cwd: ""})
	assert.Error(t, err)
}

func TestNewSessionAllocatesSessionID(t *testing.T) {
	srv := testServer(t)
	resp, err := srv.NewSession(context.Background(), acp.NewSessionRequest{Cwd: os.TempDir()})
	require.NoError(t, err)
	assert.Regexp(t, `^session-[0-9a-f-]+$`, string(resp.SessionId))
}

func TestSetSessionModeRejectsUnknownMode(t *testing.T) {
	srv := testServer(t)
	resp, err := srv.NewSession(context.Background(), acp.NewSessionRequest{Cwd: os.TempDir()})
	require.NoError(t, err)

	_, err = srv.SetSessionMode(context.Background(), acp.SetSessionModeRequest{
		SessionId: resp.SessionId,
		ModeId:    "not-a-real-mode",
	})
	assert.Error(t, err)
}

func TestSetSessionModeRejectsUnknownSession(t *testing.T) {
	srv := testServer(t)
	_, err := srv.SetSessionMode(context.Background(), acp.SetSessionModeRequest{
		SessionId: "session-does-not-exist",
		ModeId:    "default",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestSetSessionModeAcceptsKnownAlias(t *testing.T) {
	srv := testServer(t)
	resp, err := srv.NewSession(context.Background(), acp.NewSessionRequest{Cwd: os.TempDir()})
	require.NoError(t, err)

	_, err = srv.SetSessionMode(context.Background(), acp.SetSessionModeRequest{
		SessionId: resp.SessionId,
		ModeId:    "accept-edits",
	})
	assert.NoError(t, err)
}

func TestPromptRejectsUnknownSession(t *testing.T) {
	srv := testServer(t)
	_, err := srv.Prompt(context.Background(), acp.PromptRequest{
		SessionId: "session-does-not-exist",
		Prompt:    []acp.ContentBlock{acp.TextBlock("hi")},
	})
	assert.Error(t, err)
}

func TestLoadSessionIsUnsupported(t *testing.T) {
	srv := testServer(t)
	err := srv.LoadSession(context.Background(), acp.LoadSessionRequest{})
	assert.Error(t, err)
}

func TestAuthenticateIsUnsupported(t *testing.T) {
	srv := testServer(t)
	err := srv.Authenticate(context.Background(), acp.AuthenticateRequest{})
	assert.Error(t, err)
}

func TestInitializeReportsCapabilities(t *testing.T) {
	srv := testServer(t)
	resp, err := srv.Initialize(context.Background(), acp.InitializeRequest{ProtocolVersion: acp.ProtocolVersionNumber})
	require.NoError(t, err)
	assert.False(t, resp.AgentCapabilities.PromptCapabilities.Image)
	assert.False(t, resp.AgentCapabilities.LoadSession)
}

func TestEvidenceLogWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evidence.jsonl")

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)

	cfg := &config.RuntimeConfig{CodexCmd: "codex", NotifyInject: "never", EvidencePath: path}
	srv, err := New(cfg, log)
	require.NoError(t, err)
	defer srv.Close()

	_, err = srv.NewSession(context.Background(), acp.NewSessionRequest{Cwd: os.TempDir()})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session_created")
}
