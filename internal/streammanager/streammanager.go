// Package streammanager translates a Codex CLI proto event stream into ACP
// session/update notifications. It is the Codex→ACP half of the bridge:
// stateful across a single turn (tool-call bookkeeping, last-chunk dedup,
// finalization), but stateless across turns — a fresh StreamManager is
// built for every prompt.
package streammanager

import (
	"encoding/json"
	"fmt"
	"strings"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acplb-codex/internal/codexproto"
	"github.com/kandev/acplb-codex/internal/common/logger"
)

// maxToolOutputBytes bounds formatToolOutput: longer content is
// truncated to a prefix + marker + suffix, never mid-codepoint.
const maxToolOutputBytes = 2048

// toolCallRecord is the cached state for one tool_id within a turn, used to
// compute minimal ToolCallUpdate diffs against what was last emitted.
type toolCallRecord struct {
	status    acp.ToolCallStatus
	title     string
	kind      acp.ToolKind
	locations []acp.ToolCallLocation
	rawInput  any
	output    string
	errText   string
}

// Manager holds per-turn translation state. Construct one per prompt via
// New and feed it raw stdout lines through ProcessLine.
type Manager struct {
	sessionID acp.SessionId
	out       chan<- acp.SessionNotification
	log       *logger.Logger

	lastTextChunk string
	finalized     bool

	toolCalls      map[string]*toolCallRecord
	lastToolCallID string
}

// New constructs a Manager for a single turn of the given session, emitting
// notifications onto out.
func New(sessionID acp.SessionId, out chan<- acp.SessionNotification, log *logger.Logger) *Manager {
	return &Manager{
		sessionID: sessionID,
		out:       out,
		log:       log.WithFields(zap.String("component", "stream-manager"), zap.String("session_id", string(sessionID))),
		toolCalls: make(map[string]*toolCallRecord),
	}
}

// ProcessLine consumes one raw Codex stdout line. Empty lines are skipped;
// non-JSON lines are logged and skipped; unknown event variants are
// tolerated silently, per the Codex proto contract. Prefer ProcessVariant
// when a line has already been decoded upstream (codexproto.Pump does this
// itself, so it wires ProcessVariant directly as its LineHandler).
func (m *Manager) ProcessLine(raw []byte) {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return
	}

	variant, err := codexproto.ParseLine([]byte(line))
	if err != nil {
		m.log.Debug("skipping non-JSON codex line", zap.String("line", line), zap.Error(err))
		return
	}
	m.ProcessVariant(variant)
}

// ProcessVariant consumes one already-decoded Codex event variant.
func (m *Manager) ProcessVariant(variant codexproto.Variant) {
	switch variant.Type {
	case codexproto.EventAgentMessage, codexproto.EventAgentMessageDelta:
		m.handleAgentMessage(variant.Raw)
	case codexproto.EventUserMessage:
		m.handleUserMessage(variant.Raw)
	case codexproto.EventAgentReasoning, codexproto.EventAgentReasoningDelta, codexproto.EventAgentReasoningRaw:
		m.handleReasoning(variant.Raw)
	case codexproto.EventAgentReasoningSectBreak:
		// No notification; a section break is a pure formatting hint.
	case codexproto.EventToolCall:
		m.handleToolCall(variant.Raw)
	case codexproto.EventToolCalls:
		m.handleToolCalls(variant.Raw)
	case codexproto.EventPlanUpdate:
		m.handlePlanUpdate(variant.Raw)
	case codexproto.EventMcpListToolsResponse:
		m.handleMcpListTools(variant.Raw)
	case codexproto.EventSessionConfigured:
		m.handleSessionConfigured(variant.Raw)
	case codexproto.EventTaskStarted:
		// Informational only.
	case codexproto.EventTaskComplete:
		m.finalized = true
	case codexproto.EventError:
		m.handleError(variant.Raw)
	default:
		m.log.Debug("unrecognized codex event variant", zap.String("type", variant.Type))
	}
}

func (m *Manager) emit(update acp.SessionUpdate) {
	m.out <- acp.SessionNotification{SessionId: m.sessionID, Update: update}
}

// handleAgentMessage implements the LastChunkGuard: a final agent_message
// that duplicates the most recent delta is suppressed, and all chunks are
// dropped once the turn has been finalized by task_complete.
func (m *Manager) handleAgentMessage(raw json.RawMessage) {
	if m.finalized {
		return
	}
	var p codexproto.AgentMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		m.log.Debug("malformed agent_message payload", zap.Error(err))
		return
	}
	text := p.Text()
	if text == m.lastTextChunk {
		return
	}
	m.lastTextChunk = text
	m.emit(acp.UpdateAgentMessageText(text))
}

func (m *Manager) handleUserMessage(raw json.RawMessage) {
	if m.finalized {
		return
	}
	var p codexproto.UserMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		m.log.Debug("malformed user_message payload", zap.Error(err))
		return
	}
	if p.Message != "" {
		m.emit(acp.SessionUpdate{
			UserMessageChunk: &acp.SessionUserMessageChunk{
				SessionUpdate: "user_message_chunk",
				Content:       acp.TextBlock(p.Message),
			},
		})
	}
	for _, img := range p.Images {
		if block, ok := decodeImageSource(img.URL); ok {
			m.emit(acp.SessionUpdate{
				UserMessageChunk: &acp.SessionUserMessageChunk{
					SessionUpdate: "user_message_chunk",
					Content:       block,
				},
			})
		} else {
			m.log.Debug("dropping unrecognized user_message image source", zap.String("url", img.URL))
		}
	}
}

func (m *Manager) handleReasoning(raw json.RawMessage) {
	if m.finalized {
		return
	}
	var p codexproto.ReasoningPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		m.log.Debug("malformed reasoning payload", zap.Error(err))
		return
	}
	text := p.TextContent()
	if text == "" {
		return
	}
	m.emit(acp.UpdateAgentThoughtText(text))
}

func (m *Manager) handleToolCalls(raw json.RawMessage) {
	var p codexproto.ToolCallsPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		m.log.Debug("malformed tool_calls payload", zap.Error(err))
		return
	}
	for _, call := range p.Calls {
		m.applyToolCall(call)
	}
}

func (m *Manager) handleToolCall(raw json.RawMessage) {
	var p codexproto.ToolCallPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		m.log.Debug("malformed tool_call payload", zap.Error(err))
		return
	}
	m.applyToolCall(p)
}

func (m *Manager) applyToolCall(call codexproto.ToolCallPayload) {
	if call.ID == "" {
		m.log.Debug("dropping tool_call with empty id")
		return
	}
	m.lastToolCallID = call.ID

	args := parseArguments(call.Arguments)
	status := mapToolStatus(call.Status)

	existing, seen := m.toolCalls[call.ID]
	if !seen {
		kind := determineToolKind(call.Name)
		title := computeToolTitle(call.Name, args)
		locations := extractLocations(call.Name, args)

		rec := &toolCallRecord{
			status:    status,
			title:     title,
			kind:      kind,
			locations: locations,
			rawInput:  args,
		}
		m.toolCalls[call.ID] = rec

		opts := []acp.ToolCallStartOpt{
			acp.WithStartKind(kind),
			acp.WithStartStatus(status),
			acp.WithStartRawInput(args),
		}
		if len(locations) > 0 {
			opts = append(opts, acp.WithStartLocations(locations))
		}
		m.emit(acp.StartToolCall(acp.ToolCallId(call.ID), title, opts...))

		if status == acp.ToolCallStatusCompleted || status == acp.ToolCallStatusFailed {
			m.emitTerminalUpdate(call.ID, rec, call.Output, call.Error, false)
		}
		return
	}

	m.updateExistingToolCall(call.ID, existing, status, call.Output, call.Error)
}

// updateExistingToolCall emits a ToolCallUpdate carrying only the fields
// that changed versus the cached record; a fully redundant update (same
// status, no new output, no new error) is suppressed entirely.
func (m *Manager) updateExistingToolCall(id string, rec *toolCallRecord, status acp.ToolCallStatus, output, errText string) {
	statusChanged := status != rec.status
	outputChanged := output != "" && output != rec.output
	errChanged := errText != "" && errText != rec.errText

	if !statusChanged && !outputChanged && !errChanged {
		return
	}

	rec.status = status
	if outputChanged {
		rec.output = output
	}
	if errChanged {
		rec.errText = errText
	}

	m.emitTerminalUpdate(id, rec, output, errText, true)
}

func (m *Manager) emitTerminalUpdate(id string, rec *toolCallRecord, output, errText string, force bool) {
	terminal := rec.status == acp.ToolCallStatusCompleted || rec.status == acp.ToolCallStatusFailed
	opts := []acp.ToolCallUpdateOpt{acp.WithUpdateStatus(rec.status)}

	if terminal {
		text := output
		if rec.status == acp.ToolCallStatusFailed && errText != "" {
			text = errText
		}
		if text != "" {
			opts = append(opts,
				acp.WithUpdateContent([]acp.ToolCallContent{acp.ToolContent(acp.TextBlock(formatToolOutput(text)))}),
				acp.WithUpdateRawOutput(map[string]any{"content": text}),
			)
		}
	} else if !force {
		return
	}

	m.emit(acp.UpdateToolCall(acp.ToolCallId(id), opts...))
}

func (m *Manager) handlePlanUpdate(raw json.RawMessage) {
	var p codexproto.PlanUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		m.log.Debug("malformed plan_update payload", zap.Error(err))
		return
	}

	entries := make([]acp.PlanEntry, 0, len(p.Plan))
	for _, item := range p.Plan {
		entries = append(entries, acp.PlanEntry{
			Content:  item.Step,
			Status:   mapPlanStatus(item.Status),
			Priority: acp.PlanEntryPriorityMedium,
		})
	}

	m.emit(acp.UpdatePlan(entries...))
}

func (m *Manager) handleMcpListTools(raw json.RawMessage) {
	var p codexproto.McpListToolsResponsePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		m.log.Debug("malformed mcp_list_tools_response payload", zap.Error(err))
		return
	}

	commands := make([]acp.AvailableCommand, 0, len(p.Tools))
	for name, entry := range p.Tools {
		desc := entry.Annotations.Description
		if desc == "" {
			desc = entry.Description
		}
		if desc == "" {
			desc = entry.Title
		}
		if desc == "" {
			desc = name
		}
		commands = append(commands, acp.AvailableCommand{Name: name, Description: desc})
	}

	m.emit(acp.SessionUpdate{
		AvailableCommandsUpdate: &acp.SessionAvailableCommandsUpdate{
			SessionUpdate:     "available_commands_update",
			AvailableCommands: commands,
		},
	})
}

func (m *Manager) handleSessionConfigured(raw json.RawMessage) {
	var p codexproto.SessionConfiguredPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		m.log.Debug("malformed session_configured payload", zap.Error(err))
		return
	}
	if p.Model == "" {
		return
	}
	m.emit(acp.SessionUpdate{
		CurrentModeUpdate: &acp.SessionCurrentModeUpdate{
			SessionUpdate: "current_mode_update",
			CurrentModeId: acp.SessionModeId(p.Model),
		},
	})
}

// errorCategoryCodes maps a categorized Codex error to the JSON-RPC-shaped
// numeric code carried in the synthesized tool-call raw_output / agent
// message.
var errorCategoryCodes = map[string]int{
	"timeout":           -32001,
	"permission_denied": -32002,
	"not_found":         -32003,
	"cancelled":         -32004,
	"rate_limit":        -32005,
}

func categorize(code string) (category string, numeric int) {
	switch code {
	case "timeout", "permission_denied", "not_found", "cancelled", "rate_limit":
		return code, errorCategoryCodes[code]
	default:
		return "error", -32603
	}
}

func humanize(category, message string) string {
	switch category {
	case "timeout":
		return "Codex request timed out: " + message
	case "permission_denied":
		return "Codex denied permission: " + message
	case "not_found":
		return "Codex could not find the requested resource: " + message
	case "cancelled":
		return "Codex cancelled the operation: " + message
	case "rate_limit":
		return "Codex rate limit exceeded: " + message
	default:
		return "Codex error: " + message
	}
}

func (m *Manager) handleError(raw json.RawMessage) {
	var p codexproto.ErrorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		m.log.Debug("malformed error payload", zap.Error(err))
		return
	}

	category, numeric := categorize(p.Code)
	humanMsg := humanize(category, p.Message)

	if m.lastToolCallID != "" {
		if rec, ok := m.toolCalls[m.lastToolCallID]; ok {
			rec.status = acp.ToolCallStatusFailed
			m.emit(acp.UpdateToolCall(
				acp.ToolCallId(m.lastToolCallID),
				acp.WithUpdateStatus(acp.ToolCallStatusFailed),
				acp.WithUpdateContent([]acp.ToolCallContent{acp.ToolContent(acp.TextBlock(humanMsg))}),
				acp.WithUpdateRawOutput(map[string]any{
					"code":    numeric,
					"message": p.Message,
					"data": map[string]any{
						"category":   category,
						"codex_code": p.Code,
					},
				}),
			))
			return
		}
	}

	m.emit(acp.UpdateAgentMessageText(humanMsg))
}

func decodeImageSource(url string) (acp.ContentBlock, bool) {
	switch {
	case strings.HasPrefix(url, "data:"):
		mimeAndPayload := strings.TrimPrefix(url, "data:")
		parts := strings.SplitN(mimeAndPayload, ";base64,", 2)
		if len(parts) != 2 {
			return acp.ContentBlock{}, false
		}
		return acp.ContentBlock{
			Image: &acp.ContentBlockImage{
				Type:     "image",
				MimeType: parts[0],
				Data:     parts[1],
			},
		}, true
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return acp.ContentBlock{
			ResourceLink: &acp.ContentBlockResourceLink{
				Type: "resource_link",
				Uri:  url,
				Name: url,
			},
		}, true
	default:
		return acp.ContentBlock{}, false
	}
}

func parseArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return args
}

var shellLikeNames = []string{"shell", "exec", "run", "cmd", "bash"}

func isShellLike(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range shellLikeNames {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func computeToolTitle(name string, args map[string]any) string {
	if !isShellLike(name) {
		return name
	}

	command := extractCommand(args)
	if command == "" {
		return name
	}

	if workdir := extractWorkdir(args); workdir != "" {
		return fmt.Sprintf("%s: %s (in %s)", name, command, workdir)
	}
	return fmt.Sprintf("%s: %s", name, command)
}

func extractCommand(args map[string]any) string {
	for _, key := range []string{"command", "cmd", "script", "code"} {
		val, ok := args[key]
		if !ok {
			continue
		}
		switch v := val.(type) {
		case string:
			if v != "" {
				return v
			}
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, " ")
			}
		}
	}
	return ""
}

func extractWorkdir(args map[string]any) string {
	for _, key := range []string{"workdir", "cwd", "working_directory"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func extractLocations(name string, args map[string]any) []acp.ToolCallLocation {
	if isShellLike(name) {
		if workdir := extractWorkdir(args); workdir != "" {
			return []acp.ToolCallLocation{{Path: workdir}}
		}
		return nil
	}

	var locations []acp.ToolCallLocation
	for _, key := range []string{"path", "file", "filepath", "filename", "file_path"} {
		if v, ok := args[key].(string); ok && v != "" {
			loc := acp.ToolCallLocation{Path: v}
			if line, ok := args["line"].(float64); ok {
				lineInt := int(line)
				loc.Line = &lineInt
			}
			locations = append(locations, loc)
			break
		}
	}
	if paths, ok := args["paths"].([]any); ok {
		for _, p := range paths {
			if s, ok := p.(string); ok && s != "" {
				locations = append(locations, acp.ToolCallLocation{Path: s})
			}
		}
	}
	return locations
}

// determineToolKind assigns a tool kind by substring matching on the
// lowercased tool name, in the priority order the translator's mapping
// rules specify.
func determineToolKind(name string) acp.ToolKind {
	lower := strings.ToLower(name)
	switch {
	case containsAny(lower, "fetch", "download", "http"):
		return acp.ToolKindFetch
	case containsAny(lower, "search", "find", "grep", "query"):
		return acp.ToolKindSearch
	case containsAny(lower, "read", "get", "view", "cat", "list"):
		return acp.ToolKindRead
	case containsAny(lower, "write", "edit", "update", "modify", "patch", "change", "set"):
		return acp.ToolKindEdit
	case containsAny(lower, "delete", "remove", "rm"):
		return acp.ToolKindDelete
	case containsAny(lower, "move", "rename", "mv"):
		return acp.ToolKindMove
	case containsAny(lower, "exec", "run", "shell", "cmd", "bash", "python"):
		return acp.ToolKindExecute
	case containsAny(lower, "think", "reason", "plan", "analyze"):
		return acp.ToolKindThink
	default:
		return acp.ToolKindOther
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func mapToolStatus(status string) acp.ToolCallStatus {
	switch strings.ToLower(status) {
	case "completed", "success":
		return acp.ToolCallStatusCompleted
	case "in_progress", "running":
		return acp.ToolCallStatusInProgress
	case "failed", "error":
		return acp.ToolCallStatusFailed
	default:
		return acp.ToolCallStatusPending
	}
}

func mapPlanStatus(status string) acp.PlanEntryStatus {
	switch status {
	case "in_progress":
		return acp.PlanEntryStatusInProgress
	case "completed":
		return acp.PlanEntryStatusCompleted
	default:
		return acp.PlanEntryStatusPending
	}
}

// formatToolOutput renders a Codex tool_call's terminal output as a single
// text block, truncating anything over maxToolOutputBytes to a
// 75%-prefix / marker / 25%-suffix shape that never splits a UTF-8 code
// point.
func formatToolOutput(raw string) string {
	if len(raw) <= maxToolOutputBytes {
		return raw
	}

	prefixLen := int(float64(maxToolOutputBytes) * 0.75)
	suffixLen := maxToolOutputBytes - prefixLen

	prefix := truncateAtRuneBoundary(raw, prefixLen, false)
	suffix := truncateAtRuneBoundary(raw, len(raw)-suffixLen, true)
	truncatedBytes := len(raw) - len(prefix) - len(suffix)

	marker := fmt.Sprintf("...[truncated %d bytes]...", truncatedBytes)
	return prefix + marker + suffix
}

// truncateAtRuneBoundary returns raw[:n] (fromEnd=false) or raw[n:]
// (fromEnd=true), nudging n inward to the nearest UTF-8 code point
// boundary so the cut never falls inside a multi-byte rune and the kept
// part is never longer than requested.
func truncateAtRuneBoundary(raw string, n int, fromEnd bool) string {
	if n <= 0 {
		if fromEnd {
			return raw
		}
		return ""
	}
	if n >= len(raw) {
		if fromEnd {
			return ""
		}
		return raw
	}

	if fromEnd {
		for n < len(raw) && isUTF8Continuation(raw[n]) {
			n++
		}
		return raw[n:]
	}
	for n > 0 && isUTF8Continuation(raw[n]) {
		n--
	}
	return raw[:n]
}

func isUTF8Continuation(b byte) bool {
	return b&0xC0 == 0x80
}
