package notify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acplb-codex/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func TestFileSourceIgnoresHistoricalNotifications(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notify.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"agent-turn-complete","turn-id":"old"}`+"\n"), 0o644))

	src := NewFileSource(path, 20, testLogger(t))
	events := make(chan Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, src.Start(ctx, events))
	defer src.Stop()

	select {
	case ev := <-events:
		t.Fatalf("unexpected historical event forwarded: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestFileSourceForwardsNewAppendedEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notify.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	src := NewFileSource(path, 20, testLogger(t))
	events := make(chan Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, src.Start(ctx, events))
	defer src.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"agent-turn-complete","turn-id":"t1"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case ev := <-events:
		assert.Equal(t, "t1", ev.TurnID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notify event")
	}
}

func TestFileSourceRetriesUntilFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-yet.jsonl")

	src := NewFileSource(path, 20, testLogger(t))
	events := make(chan Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, src.Start(ctx, events))
	defer src.Stop()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"agent-turn-complete"}`+"\n"), 0o644))

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notify event after deferred file creation")
	}
}

func TestStopIsIdempotentOnUnstartedSource(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "x.jsonl"), 50, testLogger(t))
	assert.NotPanics(t, func() {
		src.Stop()
		src.Stop()
	})
}

func TestParseLineFiltersNonTurnCompleteTypes(t *testing.T) {
	log := testLogger(t)

	_, ok := parseLine(`{"type":"agent-turn-started"}`, log)
	assert.False(t, ok)

	_, ok = parseLine(`not json`, log)
	assert.False(t, ok)

	ev, ok := parseLine(`{"type":"agent-turn-complete","turn-id":"t9"}`, log)
	assert.True(t, ok)
	assert.Equal(t, "t9", ev.TurnID)
}

func TestFifoSourceReadsLinesAndReopensOnEOF(t *testing.T) {
	// A regular file stands in for a FIFO here: the reopen-on-EOF logic is
	// identical, and creating a real named pipe that a second goroutine
	// writes to mid-test is unnecessary to exercise that path.
	dir := t.TempDir()
	path := filepath.Join(dir, "sink")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"agent-turn-complete","turn-id":"fifo-1"}`+"\n"), 0o644))

	src := NewFifoSource(path, testLogger(t))
	events := make(chan Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, src.Start(ctx, events))
	defer src.Stop()

	select {
	case ev := <-events:
		assert.Equal(t, "fifo-1", ev.TurnID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fifo notify event")
	}
}
