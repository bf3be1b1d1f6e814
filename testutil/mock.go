// Package testutil provides fakes and helpers shared by package tests:
// an in-memory channel transport and scripted evaluation engines.
package testutil

import (
	"sync"

	"github.com/c360/kernelkit/errors"
	"github.com/c360/kernelkit/message"
	"github.com/c360/kernelkit/transport"
)

// Outbound is one message the kernel sent, tagged with its channel.
// Broadcasts are recorded under transport.ChannelIOPub.
type Outbound struct {
	Channel transport.Channel
	Msg     *message.Message
}

// FakeTransport is an in-memory Messenger. Tests push inbound messages
// per channel and inspect the ordered outbound record.
type FakeTransport struct {
	mu       sync.Mutex
	queues   map[transport.Channel]chan *message.Message
	outbound []Outbound
	closed   chan struct{}
	once     sync.Once

	// OnSend, when set, observes every outbound message synchronously.
	// Used to script reactions such as answering an input_request.
	OnSend func(ch transport.Channel, m *message.Message)
}

// NewFakeTransport creates a fake with empty queues for the three
// receivable channels.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		queues: map[transport.Channel]chan *message.Message{
			transport.ChannelShell:   make(chan *message.Message, 16),
			transport.ChannelControl: make(chan *message.Message, 16),
			transport.ChannelStdin:   make(chan *message.Message, 16),
		},
		closed: make(chan struct{}),
	}
}

// Push enqueues an inbound message for Recv on the given channel.
func (f *FakeTransport) Push(ch transport.Channel, m *message.Message) {
	f.queues[ch] <- m
}

// Recv blocks until a message is pushed or the transport closes.
func (f *FakeTransport) Recv(ch transport.Channel) (*message.Message, error) {
	q, ok := f.queues[ch]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrChannelClosed, "FakeTransport", "Recv", "channel lookup")
	}
	select {
	case m := <-q:
		return m, nil
	case <-f.closed:
		return nil, errors.WrapTransient(errors.ErrChannelClosed, "FakeTransport", "Recv", "receive")
	}
}

// Send records an outbound message.
func (f *FakeTransport) Send(ch transport.Channel, m *message.Message) error {
	f.mu.Lock()
	f.outbound = append(f.outbound, Outbound{Channel: ch, Msg: m})
	hook := f.OnSend
	f.mu.Unlock()
	if hook != nil {
		hook(ch, m)
	}
	return nil
}

// Broadcast records an iopub message.
func (f *FakeTransport) Broadcast(m *message.Message) error {
	return f.Send(transport.ChannelIOPub, m)
}

// Close unblocks pending Recv calls. Idempotent.
func (f *FakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// Outbound returns a copy of everything sent, in send order.
func (f *FakeTransport) Outbound() []Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Outbound(nil), f.outbound...)
}

// IOPub returns the broadcast messages, in order.
func (f *FakeTransport) IOPub() []*message.Message {
	var out []*message.Message
	for _, o := range f.Outbound() {
		if o.Channel == transport.ChannelIOPub {
			out = append(out, o.Msg)
		}
	}
	return out
}

// Sent returns the non-broadcast messages sent on one channel, in order.
func (f *FakeTransport) Sent(ch transport.Channel) []*message.Message {
	var out []*message.Message
	for _, o := range f.Outbound() {
		if o.Channel == ch {
			out = append(out, o.Msg)
		}
	}
	return out
}
