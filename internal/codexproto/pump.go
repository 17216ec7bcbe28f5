package codexproto

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/kandev/acplb-codex/internal/common/logger"
)

// LineHandler processes one decoded Codex stdout event. It is called
// synchronously from the pump's read loop, in the order lines arrive.
type LineHandler func(Variant)

// Pump owns a Codex child's stdin and stdout pipes: it writes Submissions
// as single lines and drives a read loop that decodes each stdout line and
// forwards it to a LineHandler. Modeled on the line-framed read/write
// idiom of a JSON-RPC stdio client, simplified because Codex's proto
// protocol carries no per-message response correlation to track.
type Pump struct {
	stdin  io.Writer
	stdout io.Reader
	log    *logger.Logger

	done chan struct{}
}

// NewPump constructs a Pump over a child process's stdin/stdout pipes.
func NewPump(stdin io.Writer, stdout io.Reader, log *logger.Logger) *Pump {
	return &Pump{
		stdin:  stdin,
		stdout: stdout,
		log:    log.WithFields(zap.String("component", "codex-pump")),
		done:   make(chan struct{}),
	}
}

// Submit writes one Submission line to the child's stdin.
func (p *Pump) Submit(sub Submission) error {
	data, err := sub.Marshal()
	if err != nil {
		return fmt.Errorf("marshal codex submission: %w", err)
	}
	data = append(data, '\n')
	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("write codex submission: %w", err)
	}
	p.log.Debug("submitted to codex", zap.String("data", string(data)))
	return nil
}

// Run reads stdout line-by-line until EOF or ctx cancellation, decoding
// each non-empty line and invoking handle. Malformed lines are logged and
// skipped — they never abort the pump. Run blocks until the stream ends;
// callers typically run it in its own goroutine.
func (p *Pump) Run(ctx context.Context, handle LineHandler) error {
	defer close(p.done)

	scanner := bufio.NewScanner(p.stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		variant, err := ParseLine(line)
		if err != nil {
			p.log.Debug("non-JSON or malformed codex event line", zap.ByteString("line", line), zap.Error(err))
			continue
		}

		handle(variant)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("codex stdout read: %w", err)
	}
	return nil
}

// Done is closed once Run has returned.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

// severity is the classification StderrClassifier assigns to a captured
// line, driving which zap level it is logged at.
type severity int

const (
	severityInfo severity = iota
	severityWarn
	severityError
)

// StderrClassifier reads a Codex child's stderr line-by-line and forwards
// every line to the host log sink, never to stdout, classifying each line's
// severity by simple substring sniffing so genuine failures stand out from
// routine diagnostic chatter.
type StderrClassifier struct {
	log *logger.Logger
}

// NewStderrClassifier constructs a classifier bound to a session/turn
// scoped logger.
func NewStderrClassifier(log *logger.Logger) *StderrClassifier {
	return &StderrClassifier{log: log.WithFields(zap.String("component", "codex-stderr"))}
}

// Run reads stderr until EOF, logging each line at a severity inferred from
// its content. It never returns an error for a clean EOF.
func (c *StderrClassifier) Run(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch classify(line) {
		case severityError:
			c.log.Error("codex stderr", zap.String("line", line))
		case severityWarn:
			c.log.Warn("codex stderr", zap.String("line", line))
		default:
			c.log.Info("codex stderr", zap.String("line", line))
		}
	}
}

func classify(line string) severity {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error"), strings.Contains(lower, "panic"), strings.Contains(lower, "fatal"):
		return severityError
	case strings.Contains(lower, "warn"):
		return severityWarn
	default:
		return severityInfo
	}
}
