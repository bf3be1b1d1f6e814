// Package input implements the blocking input_request/input_reply round
// trip between a suspended evaluation and the client.
//
// The coordinator blocks the execution goroutine only: the transport
// keeps servicing heartbeat, and a control-channel interrupt cancels the
// wait through the execution context. Replies are handed over on a
// channel fed by the kernel's stdin loop, so the wait is an explicit
// suspend point rather than a raw socket block.
package input

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/kernelkit/errors"
)

// RequestFunc publishes an input_request for the current execution on the
// stdin channel.
type RequestFunc func(prompt string, password bool) error

// Coordinator suspends an execution to fetch one line of input from the
// client. One coordinator serves one execute request.
type Coordinator struct {
	allowed bool
	request RequestFunc
	replies <-chan string
	logger  *slog.Logger

	// mu serializes overlapping requests so they resolve strictly in
	// the order issued.
	mu sync.Mutex
}

// Deps holds runtime dependencies for the coordinator.
type Deps struct {
	// Allowed mirrors the originating request's allow_stdin flag.
	Allowed bool
	Request RequestFunc
	Replies <-chan string
	Logger  *slog.Logger
}

// New creates a coordinator for one execution.
func New(deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "input-coordinator")
	}
	return &Coordinator{
		allowed: deps.Allowed,
		request: deps.Request,
		replies: deps.Replies,
		logger:  logger,
	}
}

// RequestInput publishes an input_request, blocks until the matching
// input_reply arrives, and returns the received value. It fails with
// ErrInputUnavailable when the originating request disallowed stdin, and
// with the context error when the execution is interrupted mid-wait.
func (c *Coordinator) RequestInput(ctx context.Context, prompt string, password bool) (string, error) {
	if !c.allowed {
		return "", errors.WrapInvalid(errors.ErrInputUnavailable,
			"Coordinator", "RequestInput", "allow_stdin check")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Drop any reply left over from an abandoned wait so it cannot be
	// mistaken for the answer to this prompt.
	select {
	case stale := <-c.replies:
		c.logger.Warn("discarding stale input reply", "length", len(stale))
	default:
	}

	if err := c.request(prompt, password); err != nil {
		return "", errors.WrapTransient(err, "Coordinator", "RequestInput", "input_request publish")
	}

	select {
	case value := <-c.replies:
		return value, nil
	case <-ctx.Done():
		return "", errors.WrapTransient(errors.ErrInterrupted,
			"Coordinator", "RequestInput", "reply wait")
	}
}
