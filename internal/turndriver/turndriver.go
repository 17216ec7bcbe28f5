// Package turndriver drives a single ACP session/prompt turn end to end:
// it spawns a Codex CLI child configured for the session's permission mode,
// feeds it the prompt, translates its event stream into ACP notifications,
// and resolves a turn's outcome through whichever of cancellation, stream
// closure, an out-of-band notify signal, or an idle timeout happens first.
package turndriver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"go.opentelemetry.io/otel/attribute"
	otrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/acplb-codex/internal/codexproto"
	"github.com/kandev/acplb-codex/internal/common/config"
	"github.com/kandev/acplb-codex/internal/common/logger"
	"github.com/kandev/acplb-codex/internal/notify"
	"github.com/kandev/acplb-codex/internal/permissions"
	"github.com/kandev/acplb-codex/internal/streammanager"
	"github.com/kandev/acplb-codex/internal/tracing"
)

// Error is a structured turn failure, carrying the JSON-RPC-shaped code the
// caller (RuntimeServer) surfaces back to the ACP client.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string { return e.Message }

// Error codes a Run call can produce. The -326xx range matches standard
// JSON-RPC; the bridge never originates a -3200x domain code itself — those
// are reserved for Codex-side failures that StreamManager has already
// translated into ToolCallUpdate/AgentMessageChunk content by the time Run
// returns.
const (
	CodeInvalidParams = -32602
	CodeInternal      = -32603
)

// Sink delivers one ACP session/update notification to the connected
// client. It mirrors acp.AgentSideConnection.SessionUpdate's signature so a
// RuntimeServer can pass that method directly.
type Sink func(context.Context, acp.SessionNotification) error

// processEntry is the live state of one session's in-flight turn: the
// spawned child, its cancellation, and its notify source. The child and
// the source share one mutex, held only while setting or reading them, so
// a concurrent Cancel never has to wait on stdout I/O; cancel is set once
// at construction and never reassigned.
type processEntry struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	source notify.Source
}

func (p *processEntry) setCmd(cmd *exec.Cmd) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cmd = cmd
}

func (p *processEntry) setSource(s notify.Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = s
}

// terminate kills the child (if still alive) and stops the notify source.
// Safe to call more than once.
func (p *processEntry) terminate() {
	p.mu.Lock()
	cmd := p.cmd
	src := p.source
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if src != nil {
		src.Stop()
	}
	p.cancel()
}

// Driver owns the bridge's active-turn table: at most one process entry per
// session, since a session has exactly one in-flight turn at a time.
type Driver struct {
	cfg *config.RuntimeConfig
	log *logger.Logger

	mu      sync.Mutex
	entries map[string]*processEntry
}

// New constructs a Driver bound to the given runtime configuration.
func New(cfg *config.RuntimeConfig, log *logger.Logger) *Driver {
	return &Driver{
		cfg:     cfg,
		log:     log.WithFields(zap.String("component", "turn-driver")),
		entries: make(map[string]*processEntry),
	}
}

func (d *Driver) register(sessionID string, entry *processEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[sessionID] = entry
}

func (d *Driver) remove(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, sessionID)
}

// evict tears down any process entry left over from a prior turn of this
// session. A well-behaved client never prompts the same session twice
// concurrently, but a stale entry left by a crashed turn must never leak a
// Codex child.
func (d *Driver) evict(sessionID string) {
	d.mu.Lock()
	entry, ok := d.entries[sessionID]
	delete(d.entries, sessionID)
	d.mu.Unlock()

	if ok {
		entry.terminate()
	}
}

// Cancel terminates the in-flight turn for sessionID, if any. It is a
// no-op for a session with no active turn.
func (d *Driver) Cancel(sessionID string) {
	d.mu.Lock()
	entry, ok := d.entries[sessionID]
	d.mu.Unlock()

	if ok {
		entry.terminate()
	}
}

// Evict tears down a stale process entry for sessionID without waiting for
// a new turn to start. RuntimeServer calls this after session/set_mode
// succeeds, since a mode change invalidates whatever Codex child was
// configured under the old permission mode.
func (d *Driver) Evict(sessionID string) {
	d.evict(sessionID)
}

// extractText validates the prompt content blocks and returns their text.
// A turn prompt carrying anything other than text blocks, or carrying no
// text at all, is rejected with invalid-params before a Codex child is ever
// spawned.
func extractText(blocks []acp.ContentBlock) ([]string, error) {
	texts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Text == nil {
			return nil, &Error{Code: CodeInvalidParams, Message: "prompt contains a non-text content block"}
		}
		texts = append(texts, b.Text.Text)
	}
	if len(texts) == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "prompt has no content"}
	}
	joined := strings.Join(texts, "")
	if strings.TrimSpace(joined) == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "prompt text is empty"}
	}
	return texts, nil
}

// resolveNotifyCommand returns the argv of the notify forwarder to inject
// into Codex's `-c notify=[...]` override. Locating and building that
// forwarder binary is out of this bridge's scope; the bridge only knows how
// to name it, defaulting to a sibling of its own executable unless
// ACPLB_NOTIFY_CMD overrides the whole command line.
func (d *Driver) resolveNotifyCommand() []string {
	if d.cfg.NotifyCmd != "" {
		return strings.Fields(d.cfg.NotifyCmd)
	}
	exe, err := os.Executable()
	if err != nil {
		return []string{"acplb-notify-forwarder"}
	}
	return []string{filepath.Join(filepath.Dir(exe), "acplb-notify-forwarder")}
}

func (d *Driver) notifyArgs() []string {
	switch d.cfg.NotifyInject {
	case "never":
		return nil
	case "force":
		return d.renderNotifyFlag()
	default: // "auto"
		if d.cfg.NotifyPath == "" {
			return nil
		}
		return d.renderNotifyFlag()
	}
}

func (d *Driver) renderNotifyFlag() []string {
	cmd := d.resolveNotifyCommand()
	quoted := make([]string, 0, len(cmd))
	for _, part := range cmd {
		quoted = append(quoted, fmt.Sprintf("%q", part))
	}
	return []string{"-c", "notify=[" + strings.Join(quoted, ",") + "]"}
}

func (d *Driver) buildArgs(mode permissions.Mode) []string {
	overrides := permissions.ApplyEnvOverrides(permissions.Map(mode), d.cfg)
	args := []string{"proto"}
	args = append(args, overrides.ToCLIArgs()...)
	args = append(args, d.notifyArgs()...)
	return args
}

// Run drives one turn to completion: spawn, submit, translate, and resolve.
// It blocks until the turn reaches a StopReason or an Error, tearing down
// the child and any notify source before returning either way.
func (d *Driver) Run(
	ctx context.Context,
	sessionID string,
	workingDir string,
	mode permissions.Mode,
	prompt []acp.ContentBlock,
	sink Sink,
) (acp.StopReason, error) {
	texts, err := extractText(prompt)
	if err != nil {
		return "", err
	}

	ctx, span := tracing.Tracer().Start(ctx, "codex.turn", otrace.WithSpanKind(otrace.SpanKindClient))
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("mode", mode.String()),
	)
	defer span.End()

	d.evict(sessionID)

	turnCtx, cancel := context.WithCancel(ctx)
	entry := &processEntry{cancel: cancel}
	d.register(sessionID, entry)
	defer d.remove(sessionID)
	defer entry.terminate()

	log := d.log.WithSessionID(sessionID)

	cmd := exec.CommandContext(turnCtx, d.cfg.CodexCmd, d.buildArgs(mode)...)
	cmd.Dir = workingDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", &Error{Code: CodeInternal, Message: fmt.Sprintf("open codex stdin: %v", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &Error{Code: CodeInternal, Message: fmt.Sprintf("open codex stdout: %v", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", &Error{Code: CodeInternal, Message: fmt.Sprintf("open codex stderr: %v", err)}
	}

	if err := cmd.Start(); err != nil {
		return "", &Error{Code: CodeInternal, Message: fmt.Sprintf("spawn codex: %v", err)}
	}
	entry.setCmd(cmd)

	pump := codexproto.NewPump(stdin, stdout, log)
	updates := make(chan acp.SessionNotification, 64)
	sm := streammanager.New(acp.SessionId(sessionID), updates, log)

	// sideband holds the stderr classifier and the update sink, neither of
	// which gates turn completion the way the stdout pump does: both simply
	// drain until their input closes, so errgroup.Wait is a clean way to
	// join them at teardown instead of threading a done-channel per task.
	var sideband errgroup.Group
	classifier := codexproto.NewStderrClassifier(log)
	sideband.Go(func() error {
		classifier.Run(stderr)
		return nil
	})
	sideband.Go(func() error {
		for n := range updates {
			if err := sink(ctx, n); err != nil {
				log.Warn("failed to deliver session update", zap.Error(err))
			}
		}
		return nil
	})

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- pump.Run(turnCtx, sm.ProcessVariant)
	}()

	if err := pump.Submit(codexproto.NewSubmission(texts)); err != nil {
		entry.terminate()
		close(updates)
		_ = sideband.Wait()
		return "", &Error{Code: CodeInternal, Message: fmt.Sprintf("submit prompt to codex: %v", err)}
	}

	var notifyEvents chan notify.Event
	var source notify.Source
	if d.cfg.NotifyPath != "" {
		notifyEvents = make(chan notify.Event, 8)
		source = notify.New(notify.Kind(d.cfg.NotifyKind), d.cfg.NotifyPath, d.cfg.PollingIntervalMs, log)
		entry.setSource(source)
		if err := source.Start(turnCtx, notifyEvents); err != nil {
			log.Warn("failed to start notify source", zap.Error(err))
			notifyEvents = nil
		}
	}

	stopReason, runErr := d.waitForCompletion(turnCtx, sessionID, entry, pumpDone, notifyEvents)

	// waitForCompletion only kills the child itself on the idle-timeout path;
	// the cancellation and stream-ended paths leave that to this terminate
	// call, which must run before sideband.Wait() below, since the stderr
	// classifier only returns once the child's stderr pipe closes on exit.
	entry.terminate()

	if source != nil {
		source.Stop()
	}
	close(updates)
	_ = sideband.Wait()

	span.SetAttributes(attribute.String("stop_reason", string(stopReason)))
	if runErr != nil {
		span.RecordError(runErr)
	}

	return stopReason, runErr
}

// waitForCompletion implements the four-way completion race: explicit
// cancellation, the Codex stdout stream ending on its own, an out-of-band
// notify signal, or an idle timeout with no activity from either. Every
// path but the idle timeout resets nothing — idle detection restarts its
// clock each time waitForCompletion loops back around after a notify event
// that did not itself end the turn.
func (d *Driver) waitForCompletion(
	ctx context.Context,
	sessionID string,
	entry *processEntry,
	pumpDone <-chan error,
	notifyEvents <-chan notify.Event,
) (acp.StopReason, error) {
	idle := time.NewTimer(d.idleTimeout())
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return acp.StopReasonCancelled, nil

		case err := <-pumpDone:
			if err != nil && ctx.Err() == nil {
				d.log.Warn("codex stdout pump ended with error", zap.String("session_id", sessionID), zap.Error(err))
			}
			return acp.StopReasonEndTurn, nil

		case ev, ok := <-notifyEvents:
			if !ok {
				notifyEvents = nil
				continue
			}
			if ev.Type != "" {
				return acp.StopReasonEndTurn, nil
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(d.idleTimeout())

		case <-idle.C:
			entry.terminate()
			return acp.StopReasonEndTurn, nil
		}
	}
}

func (d *Driver) idleTimeout() time.Duration {
	ms := d.cfg.IdleTimeoutMs
	if ms <= 0 {
		ms = 1200
	}
	return time.Duration(ms) * time.Millisecond
}
