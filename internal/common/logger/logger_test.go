package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerRefusesStdout(t *testing.T) {
	log, err := NewLogger(LoggingConfig{Level: "info", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	require.NotNil(t, log)
	// The writer is swapped to stderr internally; we can only assert
	// construction succeeds and logging does not panic.
	log.Info("hello")
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	base, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), CorrelationIDKey, "abc-123")
	derived := base.WithContext(ctx)
	assert.NotSame(t, base, derived)
}

func TestWithSessionAndSubmissionID(t *testing.T) {
	base, err := NewLogger(LoggingConfig{Level: "info", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)

	derived := base.WithSessionID("session-abc").WithSubmissionID("submission-xyz")
	assert.NotNil(t, derived)
}
