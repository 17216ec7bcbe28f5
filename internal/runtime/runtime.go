// Package runtime wires SessionStore, permissions, and TurnDriver behind
// the acp.Agent interface: it is the bridge's single entry point for an ACP
// client's initialize/session/prompt/cancel traffic.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acplb-codex/internal/common/config"
	"github.com/kandev/acplb-codex/internal/common/logger"
	"github.com/kandev/acplb-codex/internal/permissions"
	"github.com/kandev/acplb-codex/internal/session"
	"github.com/kandev/acplb-codex/internal/turndriver"
)

// Implementation identity the bridge reports wherever the ACP SDK's
// connection setup wants to know who it's talking to.
const (
	ImplementationName    = "acplb-codex"
	ImplementationTitle   = "ACP bridge for Codex CLI"
	ImplementationVersion = "0.1.0"
)

// Server implements acp.Agent over a Codex CLI child per session.
type Server struct {
	cfg      *config.RuntimeConfig
	log      *logger.Logger
	sessions *session.Store
	driver   *turndriver.Driver
	evidence *evidenceLogger

	conn *acp.AgentSideConnection
}

// New constructs a Server. Call SetAgentConnection once the host has created the
// AgentSideConnection that will carry session/update notifications back to
// the client.
func New(cfg *config.RuntimeConfig, log *logger.Logger) (*Server, error) {
	ev, err := newEvidenceLogger(cfg.EvidencePath)
	if err != nil {
		return nil, fmt.Errorf("open evidence log: %w", err)
	}

	return &Server{
		cfg:      cfg,
		log:      log.WithFields(zap.String("component", "runtime-server")),
		sessions: session.New(),
		driver:   turndriver.New(cfg, log),
		evidence: ev,
	}, nil
}

// SetAgentConnection binds the connection the server uses to push
// session/update notifications. Must be called once, right after
// acp.NewAgentSideConnection constructs the connection around this Server.
func (s *Server) SetAgentConnection(conn *acp.AgentSideConnection) {
	s.conn = conn
}

// Close releases the evidence log file, if one is open.
func (s *Server) Close() {
	s.evidence.close()
}

// Initialize implements acp.Agent.
func (s *Server) Initialize(ctx context.Context, req acp.InitializeRequest) (acp.InitializeResponse, error) {
	s.evidence.log("initialize", "", map[string]any{"protocolVersion": req.ProtocolVersion})

	return acp.InitializeResponse{
		ProtocolVersion: acp.ProtocolVersionNumber,
		AgentCapabilities: acp.AgentCapabilities{
			LoadSession: false,
			PromptCapabilities: acp.PromptCapabilities{
				EmbeddedContext: false,
				Image:           false,
				Audio:           false,
			},
			McpCapabilities: acp.McpCapabilities{
				Http: false,
				Sse:  false,
			},
		},
	}, nil
}

// Authenticate implements acp.Agent. The bridge delegates all authorization
// to however the operator has configured the Codex CLI itself; it has no
// authentication flow of its own to offer.
func (s *Server) Authenticate(ctx context.Context, req acp.AuthenticateRequest) error {
	return methodNotFound("authenticate")
}

// NewSession implements acp.Agent.
func (s *Server) NewSession(ctx context.Context, req acp.NewSessionRequest) (acp.NewSessionResponse, error) {
	cwd := req.Cwd
	if cwd == "" {
		return acp.NewSessionResponse{}, invalidParams("cwd is required")
	}
	if !filepath.IsAbs(cwd) {
		return acp.NewSessionResponse{}, invalidParams("cwd must be an absolute path")
	}

	state := s.sessions.Create(cwd, permissions.ModeDefault)
	s.evidence.log("session_created", state.ID, map[string]any{"cwd": cwd})

	return acp.NewSessionResponse{SessionId: acp.SessionId(state.ID)}, nil
}

// LoadSession implements acp.Agent. Session persistence across bridge
// restarts is an explicit Non-goal; the bridge advertises LoadSession:
// false in its capabilities, so a client should never actually send this.
func (s *Server) LoadSession(ctx context.Context, req acp.LoadSessionRequest) error {
	return methodNotFound("session/load")
}

// SetSessionMode implements acp.Agent. A mode change invalidates whatever
// Codex child the prior turn configured, so any live process entry for the
// session is evicted once the new mode is recorded.
func (s *Server) SetSessionMode(ctx context.Context, req acp.SetSessionModeRequest) (acp.SetSessionModeResponse, error) {
	mode, ok := permissions.ParseMode(string(req.ModeId))
	if !ok {
		return acp.SetSessionModeResponse{}, invalidParams(fmt.Sprintf("unrecognized mode id %q", req.ModeId))
	}

	sessionID := string(req.SessionId)
	if err := s.sessions.UpdateMode(sessionID, mode); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return acp.SetSessionModeResponse{}, methodNotFound("session/set_mode")
		}
		return acp.SetSessionModeResponse{}, err
	}

	s.driver.Evict(sessionID)
	s.evidence.log("session_mode_changed", sessionID, map[string]any{"mode": mode.String()})

	return acp.SetSessionModeResponse{}, nil
}

// Prompt implements acp.Agent: it drives one turn through TurnDriver and
// relays every ACP update the turn produces back to the client as it
// happens, not just at the end.
func (s *Server) Prompt(ctx context.Context, req acp.PromptRequest) (acp.PromptResponse, error) {
	sessionID := string(req.SessionId)

	state, err := s.sessions.Get(sessionID)
	if err != nil {
		return acp.PromptResponse{}, toSessionNotFoundError(err, sessionID)
	}

	s.evidence.log("prompt_started", sessionID, nil)

	sink := func(ctx context.Context, n acp.SessionNotification) error {
		if s.conn == nil {
			return errors.New("runtime: no connection bound")
		}
		return s.conn.SessionUpdate(ctx, n)
	}

	stopReason, runErr := s.driver.Run(ctx, sessionID, state.WorkingDir, state.Mode, req.Prompt, sink)
	if runErr != nil {
		s.evidence.log("prompt_failed", sessionID, map[string]any{"error": runErr.Error()})
		return acp.PromptResponse{}, runErr
	}

	if stopReason == acp.StopReasonCancelled {
		s.evidence.log("prompt_cancelled", sessionID, nil)
	} else {
		s.evidence.log("prompt_completed", sessionID, map[string]any{"stopReason": string(stopReason)})
	}

	return acp.PromptResponse{StopReason: stopReason}, nil
}

// Cancel implements acp.Agent.
func (s *Server) Cancel(ctx context.Context, params acp.CancelNotification) error {
	s.driver.Cancel(string(params.SessionId))
	return nil
}

func methodNotFound(method string) error {
	return fmt.Errorf("method not found: %s", method)
}

func invalidParams(message string) error {
	return fmt.Errorf("invalid params: %s", message)
}

func toSessionNotFoundError(err error, sessionID string) error {
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("invalid params: unknown session %q", sessionID)
	}
	return err
}
