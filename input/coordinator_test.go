package input

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/c360/kernelkit/errors"
)

func TestRequestInputRoundTrip(t *testing.T) {
	replies := make(chan string, 1)
	var prompts []string

	c := New(Deps{
		Allowed: true,
		Request: func(prompt string, password bool) error {
			prompts = append(prompts, prompt)
			replies <- "42"
			return nil
		},
		Replies: replies,
	})

	value, err := c.RequestInput(context.Background(), "n = ", false)
	require.NoError(t, err)
	assert.Equal(t, "42", value)
	assert.Equal(t, []string{"n = "}, prompts)
}

func TestRequestInputDisallowed(t *testing.T) {
	c := New(Deps{Allowed: false})

	_, err := c.RequestInput(context.Background(), "?", false)
	require.ErrorIs(t, err, kerrors.ErrInputUnavailable)
	assert.True(t, kerrors.IsInvalid(err))
}

func TestRequestInputInterruptedMidWait(t *testing.T) {
	replies := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())

	c := New(Deps{
		Allowed: true,
		Request: func(string, bool) error { return nil },
		Replies: replies,
	})

	done := make(chan error, 1)
	go func() {
		_, err := c.RequestInput(ctx, "?", false)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, kerrors.ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("RequestInput did not return after cancellation")
	}
}

func TestRequestInputDiscardsStaleReply(t *testing.T) {
	replies := make(chan string, 1)
	replies <- "stale" // left over from an interrupted wait

	c := New(Deps{
		Allowed: true,
		Request: func(string, bool) error {
			replies <- "fresh"
			return nil
		},
		Replies: replies,
	})

	value, err := c.RequestInput(context.Background(), "?", false)
	require.NoError(t, err)
	assert.Equal(t, "fresh", value)
}

func TestOverlappingRequestsResolveInOrder(t *testing.T) {
	replies := make(chan string, 1)
	var mu sync.Mutex
	served := 0

	c := New(Deps{
		Allowed: true,
		Request: func(string, bool) error {
			mu.Lock()
			served++
			n := served
			mu.Unlock()
			if n == 1 {
				replies <- "first"
			} else {
				replies <- "second"
			}
			return nil
		},
		Replies: replies,
	})

	// Each outstanding request must complete before the next is issued.
	v1, err := c.RequestInput(context.Background(), "a", false)
	require.NoError(t, err)
	v2, err := c.RequestInput(context.Background(), "b", false)
	require.NoError(t, err)

	assert.Equal(t, "first", v1)
	assert.Equal(t, "second", v2)
}

func TestRequestPublishFailure(t *testing.T) {
	c := New(Deps{
		Allowed: true,
		Request: func(string, bool) error { return kerrors.ErrChannelClosed },
		Replies: make(chan string),
	})

	_, err := c.RequestInput(context.Background(), "?", false)
	require.Error(t, err)
	assert.True(t, kerrors.IsTransient(err))
}
