// Package notify implements the bridge's out-of-band turn-completion
// signal: a file or FIFO sink that the Codex child (or its notify
// forwarder helper) writes "agent-turn-complete" events to, polled or
// blocking-read independently of the Codex stdout stream.
package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/acplb-codex/internal/common/logger"
)

// Event is a recognized notification forwarded from a sink. Only the
// "agent-turn-complete" type is acted on by the turn driver; everything
// else is filtered out before it reaches this struct.
type Event struct {
	Type                 string   `json:"type"`
	TurnID               string   `json:"turn-id,omitempty"`
	InputMessages        []string `json:"input-messages,omitempty"`
	LastAssistantMessage string   `json:"last-assistant-message,omitempty"`
}

const turnCompleteType = "agent-turn-complete"

// Source observes an external notification sink and emits typed Events on a
// channel. Two implementations exist: a tail-follow poller over a regular
// file, and a blocking line reader over a FIFO. The contract, not the
// representation, is what TurnDriver depends on.
type Source interface {
	// Start begins monitoring; recognized events are sent to out. Start
	// returns once the initial open attempt (or its deliberate deferral)
	// has completed; monitoring continues in the background.
	Start(ctx context.Context, out chan<- Event) error

	// Stop cancels the background worker. Idempotent; stopping a source
	// that was never started is a no-op.
	Stop()
}

// Kind selects a Source implementation.
type Kind string

const (
	KindFile Kind = "file"
	KindFifo Kind = "fifo"
)

// New constructs a Source for the given kind, defaulting to KindFile for
// anything unrecognized.
func New(kind Kind, path string, pollingIntervalMs int, log *logger.Logger) Source {
	switch kind {
	case KindFifo:
		return NewFifoSource(path, log)
	default:
		return NewFileSource(path, pollingIntervalMs, log)
	}
}

// FileSource tail-follows a regular file via polling: on first open it
// seeks to the end (so historical notifications are never replayed),
// thereafter it resumes from the last read byte offset. A read error
// resets the offset to 0 and triggers a reopen; a truncation (the file is
// now shorter than the saved offset) rewinds to offset 0 and reads the
// file from its start.
type FileSource struct {
	path              string
	pollingIntervalMs int
	log               *logger.Logger

	mu       sync.Mutex
	file     *os.File
	reader   *bufio.Reader
	position int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileSource constructs a file-backed notify Source.
func NewFileSource(path string, pollingIntervalMs int, log *logger.Logger) *FileSource {
	if pollingIntervalMs <= 0 {
		pollingIntervalMs = 100
	}
	return &FileSource{
		path:              path,
		pollingIntervalMs: pollingIntervalMs,
		log:               log.WithFields(zap.String("component", "notify-file"), zap.String("path", path)),
	}
}

func (f *FileSource) openOrReopen() {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.file = nil
			f.reader = nil
			return
		}
		f.log.Warn("failed to open notify file", zap.Error(err))
		f.file = nil
		f.reader = nil
		return
	}

	if f.position > 0 {
		if _, err := file.Seek(f.position, io.SeekStart); err != nil {
			f.log.Warn("failed to seek notify file", zap.Error(err))
			file.Close()
			f.file = nil
			f.reader = nil
			return
		}
	} else {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			f.log.Warn("failed to seek to end of notify file", zap.Error(err))
			file.Close()
			f.file = nil
			f.reader = nil
			return
		}
		f.position = end
	}

	f.file = file
	f.reader = bufio.NewReader(file)
}

// Start implements Source.
func (f *FileSource) Start(ctx context.Context, out chan<- Event) error {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	f.mu.Lock()
	f.openOrReopen()
	f.mu.Unlock()

	go f.pollLoop(ctx, out)
	return nil
}

func (f *FileSource) pollLoop(ctx context.Context, out chan<- Event) {
	defer close(f.done)

	ticker := time.NewTicker(time.Duration(f.pollingIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// time.Ticker already drops ticks the consumer falls behind
			// on instead of queuing a backlog, which is the skip-missed-
			// tick behavior this polling loop requires.
			f.pollOnce(ctx, out)
		}
	}
}

func (f *FileSource) pollOnce(ctx context.Context, out chan<- Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		f.openOrReopen()
		if f.file == nil {
			return
		}
	}

	if info, err := f.file.Stat(); err == nil && info.Size() < f.position {
		f.log.Debug("notify file truncated, rewinding to start")
		if _, err := f.file.Seek(0, io.SeekStart); err == nil {
			f.position = 0
			f.reader.Reset(f.file)
		}
	}

	for {
		line, err := f.reader.ReadString('\n')
		f.position += int64(len(line))

		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			if ev, ok := parseLine(trimmed, f.log); ok {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			f.log.Warn("error reading notify file, reopening", zap.Error(err))
			f.file.Close()
			f.file = nil
			f.reader = nil
			f.position = 0
			f.openOrReopen()
			return
		}
	}
}

// Stop implements Source.
func (f *FileSource) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
}

// FifoSource reads a named pipe line-by-line in a dedicated worker
// (blocking FIFO opens and reads must never stall the cooperative
// scheduler); on EOF it reopens in case the writer reconnects.
type FifoSource struct {
	path string
	log  *logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFifoSource constructs a FIFO-backed notify Source.
func NewFifoSource(path string, log *logger.Logger) *FifoSource {
	return &FifoSource{
		path: path,
		log:  log.WithFields(zap.String("component", "notify-fifo"), zap.String("path", path)),
	}
}

// Start implements Source.
func (s *FifoSource) Start(ctx context.Context, out chan<- Event) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.readLoop(ctx, out)
	return nil
}

func (s *FifoSource) readLoop(ctx context.Context, out chan<- Event) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.readOnce(ctx, out); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("fifo read error, retrying", zap.Error(err))
		}

		// Reaching EOF on a reopenable sink (the writer closed its end, or
		// in tests a plain file) is routine, not an error; throttle the
		// reopen loop so it does not spin the CPU waiting for a writer.
		select {
		case <-ctx.Done():
			return
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (s *FifoSource) readOnce(ctx context.Context, out chan<- Event) error {
	file, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" {
			continue
		}
		if ev, ok := parseLine(trimmed, s.log); ok {
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
	return scanner.Err()
}

// Stop implements Source.
func (s *FifoSource) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// parseLine parses a sink line as JSON and, if it carries
// type == "agent-turn-complete", decodes it into an Event. Any other shape
// (malformed JSON, recognized-but-uninteresting type) is logged at debug
// and dropped.
func parseLine(line string, log *logger.Logger) (Event, bool) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(line), &probe); err != nil {
		log.Debug("non-JSON line in notify sink", zap.String("line", line), zap.Error(err))
		return Event{}, false
	}
	if probe.Type != turnCompleteType {
		log.Debug("ignoring unrecognized notify event type", zap.String("type", probe.Type))
		return Event{}, false
	}

	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		log.Debug("failed to decode agent-turn-complete event", zap.Error(err))
		return Event{}, false
	}
	return ev, true
}

// ResolvePath cleans and returns an absolute form of a configured sink path,
// for logging and for constructing the injected notify CLI argument.
func ResolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}
