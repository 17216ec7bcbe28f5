package runtime

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// evidenceLogger appends a JSONL audit trail of RuntimeServer events. It is
// optional: a Server constructed with an empty EvidencePath carries a nil
// evidenceLogger, and every method on a nil *evidenceLogger is a no-op.
type evidenceLogger struct {
	mu   sync.Mutex
	file *os.File
}

func newEvidenceLogger(path string) (*evidenceLogger, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &evidenceLogger{file: f}, nil
}

type evidenceEntry struct {
	TimestampMs int64          `json:"timestampMs"`
	Event       string         `json:"event"`
	SessionID   string         `json:"sessionId,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

func (e *evidenceLogger) log(event, sessionID string, details map[string]any) {
	if e == nil {
		return
	}

	entry := evidenceEntry{
		TimestampMs: time.Now().UnixMilli(),
		Event:       event,
		SessionID:   sessionID,
		Details:     details,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.file.Write(line)
}

func (e *evidenceLogger) close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.file.Close()
}
