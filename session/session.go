// Package session tracks the kernel-wide execution counter and the
// externally observable kernel status.
//
// Status changes are not internal bookkeeping: every transition is
// broadcast on iopub before the setter returns, because clients rely on
// the busy/idle ordering to know when the channel has quiesced.
package session

import (
	"log/slog"
	"sync/atomic"

	"github.com/c360/kernelkit/errors"
	"github.com/c360/kernelkit/message"
)

// Status is the kernel execution state broadcast to clients.
type Status int

// Kernel execution states.
const (
	StatusStarting Status = iota
	StatusIdle
	StatusBusy
)

// String returns the wire representation of the status.
func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// BroadcastFunc publishes a message on the iopub channel.
type BroadcastFunc func(*message.Message) error

// Session holds the execution counter and kernel status shared across
// requests. It is created at kernel startup and lives for the whole
// kernel process; the counter is never reset.
type Session struct {
	id        string
	broadcast BroadcastFunc
	logger    *slog.Logger

	// counter holds the execution count the next accepted request will
	// use. Starts at 1 and only ever increases.
	counter atomic.Int64
	status  atomic.Int32
}

// Deps holds runtime dependencies for the session.
type Deps struct {
	ID        string
	Broadcast BroadcastFunc
	Logger    *slog.Logger
}

// New creates session state with the counter at 1 and status starting.
func New(deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "session")
	}

	s := &Session{
		id:        deps.ID,
		broadcast: deps.Broadcast,
		logger:    logger,
	}
	s.counter.Store(1)
	s.status.Store(int32(StatusStarting))
	return s
}

// ID returns the kernel session identifier.
func (s *Session) ID() string {
	return s.id
}

// ExecutionCount returns the count the next accepted request will use.
func (s *Session) ExecutionCount() int {
	return int(s.counter.Load())
}

// NextExecutionCount claims the counter for one accepted execute request.
// It returns the count that request uses and atomically advances the
// counter, exactly once per request regardless of outcome.
func (s *Session) NextExecutionCount() int {
	return int(s.counter.Add(1) - 1)
}

// Status returns the current kernel status.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// SetStatus records the new status and broadcasts it on iopub before
// returning control to the caller. The broadcast carries parent as the
// causing request; a nil parent produces a parentless broadcast, used
// for the one-time starting announcement.
func (s *Session) SetStatus(st Status, parent *message.Message) error {
	s.status.Store(int32(st))

	var msg *message.Message
	if parent != nil {
		msg = parent.Publish(message.TypeStatus, &message.Status{ExecutionState: st.String()})
	} else {
		msg = message.New(message.TypeStatus, s.id, &message.Status{ExecutionState: st.String()})
	}

	if s.broadcast == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "Session", "SetStatus", "broadcast wiring")
	}
	if err := s.broadcast(msg); err != nil {
		return errors.WrapTransient(err, "Session", "SetStatus", "status broadcast")
	}

	s.logger.Debug("kernel status changed", "status", st.String())
	return nil
}
