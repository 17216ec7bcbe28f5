// Package codexproto defines the wire types exchanged with a Codex CLI
// child process invoked as `codex proto`: line-delimited JSON submissions on
// stdin and line-delimited JSON events on stdout. Unlike the ACP side, this
// is not request/response JSON-RPC — Codex's proto protocol is fire-and-
// forget submissions paired with an independent event stream, so there is no
// per-method correlation to track.
package codexproto

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// TextItem is the only input item kind the bridge emits; non-text ACP
// content blocks are rejected before a Submission is built.
type TextItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// UserInputOp is the sole submission op the bridge issues.
type UserInputOp struct {
	Type  string     `json:"type"`
	Items []TextItem `json:"items"`
}

// Submission is the stdin payload: `{id, op: {type:"user_input", items}}`.
type Submission struct {
	ID string      `json:"id"`
	Op UserInputOp `json:"op"`
}

// NewSubmission builds a Submission from one or more text blocks, each
// becoming a "text" item, tagged with a fresh "submission-<uuid>" id.
func NewSubmission(texts []string) Submission {
	items := make([]TextItem, 0, len(texts))
	for _, t := range texts {
		items = append(items, TextItem{Type: "text", Text: t})
	}
	return Submission{
		ID: "submission-" + uuid.NewString(),
		Op: UserInputOp{Type: "user_input", Items: items},
	}
}

// Marshal serializes the submission as a single line (without trailing
// newline; the caller appends it before writing to stdin).
func (s Submission) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Event is a decoded stdout line: the envelope `{id, msg:{type,...}}`, or a
// bare `{type,...}` object under the accepted legacy fallback. Msg carries
// the raw variant payload for further decoding by the caller (StreamManager)
// once the Type tag has been inspected.
type Event struct {
	ID  string          `json:"id,omitempty"`
	Msg json.RawMessage `json:"msg,omitempty"`

	// Legacy bare-event fields, populated only when Msg is absent.
	Type json.RawMessage `json:"type,omitempty"`
}

// Variant holds the decoded `{type, ...rest}` envelope of a single Codex
// proto event, whichever framing (nested msg or bare) it arrived in.
type Variant struct {
	Type string
	Raw  json.RawMessage
}

// ParseLine decodes one stdout line into its event Variant. It accepts both
// the preferred `{id, msg:{type,...}}` envelope and the legacy bare
// `{type,...}` object.
func ParseLine(line []byte) (Variant, error) {
	var envelope struct {
		ID  string          `json:"id"`
		Msg json.RawMessage `json:"msg"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return Variant{}, fmt.Errorf("decode codex event envelope: %w", err)
	}

	payload := envelope.Msg
	if len(payload) == 0 {
		payload = line
	}

	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &tag); err != nil {
		return Variant{}, fmt.Errorf("decode codex event type: %w", err)
	}

	return Variant{Type: tag.Type, Raw: payload}, nil
}

// Known event type tags. The set is not exhaustive by design: unrecognized
// tags are tolerated (logged, no update emitted) per the Codex proto
// contract.
const (
	EventAgentMessage            = "agent_message"
	EventAgentMessageDelta       = "agent_message_delta"
	EventUserMessage             = "user_message"
	EventAgentReasoning          = "agent_reasoning"
	EventAgentReasoningDelta     = "agent_reasoning_delta"
	EventAgentReasoningRaw       = "agent_reasoning_raw_content"
	EventAgentReasoningSectBreak = "agent_reasoning_section_break"
	EventToolCall                = "tool_call"
	EventToolCalls               = "tool_calls"
	EventPlanUpdate              = "plan_update"
	EventMcpListToolsResponse    = "mcp_list_tools_response"
	EventSessionConfigured       = "session_configured"
	EventTaskStarted             = "task_started"
	EventTaskComplete            = "task_complete"
	EventError                   = "error"
)

// AgentMessagePayload covers agent_message and agent_message_delta, which
// share a single free-form text field under different names.
type AgentMessagePayload struct {
	Message string `json:"message"`
	Delta   string `json:"delta"`
}

// Text returns whichever of Message/Delta is populated.
func (p AgentMessagePayload) Text() string {
	if p.Message != "" {
		return p.Message
	}
	return p.Delta
}

// ImageSource is one image entry of a user_message payload.
type ImageSource struct {
	URL string `json:"url"`
}

// UserMessagePayload is the user_message variant.
type UserMessagePayload struct {
	Message string        `json:"message"`
	Kind    string        `json:"kind,omitempty"`
	Images  []ImageSource `json:"images,omitempty"`
}

// ReasoningPayload covers all four reasoning variants.
type ReasoningPayload struct {
	Text       string `json:"text"`
	Delta      string `json:"delta"`
	RawContent string `json:"raw_content"`
}

// TextContent returns whichever of Text/Delta/RawContent is populated.
func (p ReasoningPayload) TextContent() string {
	switch {
	case p.Text != "":
		return p.Text
	case p.Delta != "":
		return p.Delta
	default:
		return p.RawContent
	}
}

// ToolCallPayload is the tool_call variant.
type ToolCallPayload struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Status    string          `json:"status,omitempty"`
	Output    string          `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ToolCallsPayload is the tool_calls variant: a batch of ToolCallPayload.
type ToolCallsPayload struct {
	Calls []ToolCallPayload `json:"calls"`
}

// PlanItem is one entry of a plan_update payload.
type PlanItem struct {
	Step   string `json:"step"`
	Status string `json:"status"`
}

// PlanUpdatePayload is the plan_update variant.
type PlanUpdatePayload struct {
	Explanation string     `json:"explanation,omitempty"`
	Plan        []PlanItem `json:"plan"`
}

// McpToolAnnotations mirrors the (optional) annotations object on an
// mcp_list_tools_response tool entry.
type McpToolAnnotations struct {
	Description string `json:"description,omitempty"`
}

// McpToolEntry is one value of the mcp_list_tools_response tools map.
type McpToolEntry struct {
	Description string             `json:"description,omitempty"`
	Title       string             `json:"title,omitempty"`
	Annotations McpToolAnnotations `json:"annotations,omitempty"`
}

// McpListToolsResponsePayload is the mcp_list_tools_response variant.
type McpListToolsResponsePayload struct {
	Tools map[string]McpToolEntry `json:"tools"`
}

// SessionConfiguredPayload is the session_configured variant.
type SessionConfiguredPayload struct {
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

// TaskCompletePayload is the task_complete variant.
type TaskCompletePayload struct {
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload is the error variant.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
