package codexproto

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSubmissionShapeAndID(t *testing.T) {
	sub := NewSubmission([]string{"hello world"})
	assert.Regexp(t, regexp.MustCompile(`^submission-[0-9a-f-]+$`), sub.ID)
	assert.Equal(t, "user_input", sub.Op.Type)
	require.Len(t, sub.Op.Items, 1)
	assert.Equal(t, "text", sub.Op.Items[0].Type)
	assert.Equal(t, "hello world", sub.Op.Items[0].Text)

	data, err := sub.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"user_input"`)
}

func TestParseLineNestedEnvelope(t *testing.T) {
	line := []byte(`{"id":"1","msg":{"type":"agent_message","message":"hi"}}`)
	v, err := ParseLine(line)
	require.NoError(t, err)
	assert.Equal(t, EventAgentMessage, v.Type)

	var payload AgentMessagePayload
	require.NoError(t, json.Unmarshal(v.Raw, &payload))
	assert.Equal(t, "hi", payload.Text())
}

func TestParseLineLegacyBareEvent(t *testing.T) {
	line := []byte(`{"type":"task_complete","reason":"done"}`)
	v, err := ParseLine(line)
	require.NoError(t, err)
	assert.Equal(t, EventTaskComplete, v.Type)

	var payload TaskCompletePayload
	require.NoError(t, json.Unmarshal(v.Raw, &payload))
	assert.Equal(t, "done", payload.Reason)
}

func TestParseLineMalformedReturnsError(t *testing.T) {
	_, err := ParseLine([]byte(`not json at all`))
	assert.Error(t, err)
}

func TestReasoningPayloadTextContentPriority(t *testing.T) {
	assert.Equal(t, "a", ReasoningPayload{Text: "a", Delta: "b", RawContent: "c"}.TextContent())
	assert.Equal(t, "b", ReasoningPayload{Delta: "b", RawContent: "c"}.TextContent())
	assert.Equal(t, "c", ReasoningPayload{RawContent: "c"}.TextContent())
}
