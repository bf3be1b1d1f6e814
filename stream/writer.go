// Package stream captures the evaluation engine's character output and
// converts it into an ordered sequence of iopub stream broadcasts.
//
// Two flush policies exist. The immediate policy (the default) forwards
// every write as its own stream message. The buffered policy accumulates
// output and flushes when either a character threshold or a time budget
// is reached, whichever comes first; any remainder is flushed
// unconditionally when the writer is closed at end of execution.
package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/c360/kernelkit/errors"
)

// Policy is the output flush configuration. The zero value selects the
// immediate policy.
type Policy struct {
	// MaxBuffer is the flush threshold in characters.
	MaxBuffer int
	// MaxTime bounds how long output may sit unflushed, measured from
	// the first unflushed character.
	MaxTime time.Duration
}

// Immediate reports whether the policy forwards writes as they occur.
func (p Policy) Immediate() bool {
	return p.MaxBuffer <= 0 && p.MaxTime <= 0
}

// PublishFunc broadcasts one stream chunk for the named stream.
type PublishFunc func(name, text string) error

// Writer is an io.Writer for one output stream (stdout or stderr) of one
// execution. It is safe for concurrent use; the flush timer and the
// evaluation goroutine may race on the buffer.
type Writer struct {
	name    string
	policy  Policy
	publish PublishFunc
	logger  *slog.Logger

	mu     sync.Mutex
	buf    []byte
	timer  *time.Timer
	closed bool
}

// NewWriter creates a stream writer for one execution.
func NewWriter(name string, policy Policy, publish PublishFunc, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default().With("component", "stream-writer", "stream", name)
	}
	return &Writer{
		name:    name,
		policy:  policy,
		publish: publish,
		logger:  logger,
	}
}

// Write implements io.Writer. Under the immediate policy the chunk is
// broadcast before Write returns; under the buffered policy it is
// appended and flushed when a threshold trips.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.WrapInvalid(errors.ErrChannelClosed, "Writer", "Write", "closed stream write")
	}
	if len(p) == 0 {
		return 0, nil
	}

	if w.policy.Immediate() {
		if err := w.publish(w.name, string(p)); err != nil {
			return 0, errors.WrapTransient(err, "Writer", "Write", "immediate publish")
		}
		return len(p), nil
	}

	w.buf = append(w.buf, p...)

	// Threshold flushes emit exact MaxBuffer-sized chunks; a partial
	// remainder stays buffered for the timer or Close. A chunk is only
	// dropped from the buffer once published, so a failed publish keeps
	// it queued for the next flush; p itself is fully accepted either
	// way.
	if w.policy.MaxBuffer > 0 {
		for len(w.buf) >= w.policy.MaxBuffer {
			chunk := string(w.buf[:w.policy.MaxBuffer])
			if err := w.publish(w.name, chunk); err != nil {
				return len(p), errors.WrapTransient(err, "Writer", "Write", "threshold publish")
			}
			w.buf = w.buf[w.policy.MaxBuffer:]
		}
	}

	if len(w.buf) == 0 {
		w.stopTimerLocked()
	} else if w.timer == nil && w.policy.MaxTime > 0 {
		// The time budget runs relative to the first unflushed write.
		w.timer = time.AfterFunc(w.policy.MaxTime, w.timedFlush)
	}

	return len(p), nil
}

// timedFlush runs on the timer goroutine when the MaxTime budget elapses.
func (w *Writer) timedFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timer = nil
	if w.closed {
		return
	}
	if err := w.flushLocked(); err != nil {
		w.logger.Warn("timed stream flush failed", "stream", w.name, "error", err)
	}
}

// Flush broadcasts any buffered content regardless of thresholds.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	w.stopTimerLocked()
	if len(w.buf) == 0 {
		return nil
	}
	text := string(w.buf)
	w.buf = w.buf[:0]
	if err := w.publish(w.name, text); err != nil {
		return errors.WrapTransient(err, "Writer", "Flush", "buffered publish")
	}
	return nil
}

func (w *Writer) stopTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Close flushes the remaining buffered content unconditionally and
// rejects further writes. Called at end of execution before the final
// reply is sent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	err := w.flushLocked()
	w.closed = true
	return err
}
