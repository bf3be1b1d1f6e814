// Package transport owns the five-channel socket topology of the kernel:
// shell, control and stdin as ROUTER sockets, iopub as PUB, and heartbeat
// as REP, each bound to its own address from the connection file and all
// sharing one authentication key via the envelope codec.
//
// Envelope-level failures never reach callers: frames that fail to parse
// or verify are logged, counted and dropped at this layer, and Recv keeps
// waiting for the next valid message.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/kernelkit/config"
	"github.com/c360/kernelkit/errors"
	"github.com/c360/kernelkit/message"
	"github.com/c360/kernelkit/metric"
)

// Channel names one of the five logical communication paths.
type Channel string

// The five kernel channels.
const (
	ChannelShell     Channel = "shell"
	ChannelControl   Channel = "control"
	ChannelStdin     Channel = "stdin"
	ChannelIOPub     Channel = "iopub"
	ChannelHeartbeat Channel = "heartbeat"
)

// Metrics holds Prometheus metrics for the transport.
type Metrics struct {
	messagesSent     prometheus.Counter
	messagesReceived prometheus.Counter
	envelopesDropped prometheus.Counter
	heartbeats       prometheus.Counter
}

// newMetrics creates and registers transport metrics.
func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kernelkit",
			Subsystem: "transport",
			Name:      "messages_sent_total",
			Help:      "Messages sent across all channels",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kernelkit",
			Subsystem: "transport",
			Name:      "messages_received_total",
			Help:      "Valid messages received across all channels",
		}),
		envelopesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kernelkit",
			Subsystem: "transport",
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes dropped for bad framing or signature",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kernelkit",
			Subsystem: "transport",
			Name:      "heartbeats_total",
			Help:      "Heartbeat frames echoed",
		}),
	}

	_ = registry.RegisterCounter("transport", "messages_sent", m.messagesSent)
	_ = registry.RegisterCounter("transport", "messages_received", m.messagesReceived)
	_ = registry.RegisterCounter("transport", "envelopes_dropped", m.envelopesDropped)
	_ = registry.RegisterCounter("transport", "heartbeats", m.heartbeats)
	return m
}

// Transport binds and serves the five kernel channels.
type Transport struct {
	conn    config.ConnectionInfo
	codec   *message.Codec
	logger  *slog.Logger
	metrics *Metrics

	shell     zmq4.Socket
	control   zmq4.Socket
	stdin     zmq4.Socket
	iopub     zmq4.Socket
	heartbeat zmq4.Socket

	// iopubMu serializes broadcasts: status, stream and result messages
	// may be published from the execution goroutine and the flush timer.
	iopubMu sync.Mutex

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
}

// Deps holds runtime dependencies for the transport.
type Deps struct {
	Conn            config.ConnectionInfo
	Codec           *message.Codec
	MetricsRegistry *metric.Registry
	Logger          *slog.Logger
}

// New creates a transport for the given connection info. Listen must be
// called before any channel is used.
func New(deps Deps) *Transport {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "transport")
	}
	return &Transport{
		conn:    deps.Conn,
		codec:   deps.Codec,
		logger:  logger,
		metrics: newMetrics(deps.MetricsRegistry),
	}
}

// Listen binds all five sockets to their configured addresses and starts
// the heartbeat echo loop. Idempotent failure handling: a bind error
// closes whatever was already bound.
func (t *Transport) Listen(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Transport", "Listen", "lifecycle check")
	}

	sockCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.shell = zmq4.NewRouter(sockCtx)
	t.control = zmq4.NewRouter(sockCtx)
	t.stdin = zmq4.NewRouter(sockCtx)
	t.iopub = zmq4.NewPub(sockCtx)
	t.heartbeat = zmq4.NewRep(sockCtx)

	binds := []struct {
		name Channel
		sock zmq4.Socket
		port int
	}{
		{ChannelShell, t.shell, t.conn.ShellPort},
		{ChannelControl, t.control, t.conn.ControlPort},
		{ChannelStdin, t.stdin, t.conn.StdinPort},
		{ChannelIOPub, t.iopub, t.conn.IOPubPort},
		{ChannelHeartbeat, t.heartbeat, t.conn.HeartbeatPort},
	}
	for _, b := range binds {
		ep := t.conn.Endpoint(b.port)
		if err := b.sock.Listen(ep); err != nil {
			t.closeSockets()
			t.running.Store(false)
			return errors.WrapTransient(err, "Transport", "Listen",
				fmt.Sprintf("%s bind to %s", b.name, ep))
		}
		t.logger.Debug("channel bound", "channel", b.name, "endpoint", ep)
	}

	t.wg.Add(1)
	go t.heartbeatLoop()

	return nil
}

// heartbeatLoop echoes every received frame verbatim. It runs on its own
// goroutine, decoupled from execution state, so liveness probes are
// answered even while an execution is in progress or blocked on input.
func (t *Transport) heartbeatLoop() {
	defer t.wg.Done()
	for {
		msg, err := t.heartbeat.Recv()
		if err != nil {
			if t.running.Load() {
				t.logger.Debug("heartbeat loop exiting", "error", err)
			}
			return
		}
		if err := t.heartbeat.Send(msg); err != nil {
			t.logger.Warn("heartbeat echo failed", "error", err)
			continue
		}
		if t.metrics != nil {
			t.metrics.heartbeats.Inc()
		}
	}
}

// socket maps a channel name to its socket.
func (t *Transport) socket(ch Channel) (zmq4.Socket, error) {
	switch ch {
	case ChannelShell:
		return t.shell, nil
	case ChannelControl:
		return t.control, nil
	case ChannelStdin:
		return t.stdin, nil
	case ChannelIOPub:
		return t.iopub, nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("no sendable socket for channel %q", ch),
			"Transport", "socket", "channel lookup")
	}
}

// Send encodes and transmits a message on the named channel.
func (t *Transport) Send(ch Channel, m *message.Message) error {
	if !t.running.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted, "Transport", "Send", "lifecycle check")
	}
	sock, err := t.socket(ch)
	if err != nil {
		return err
	}

	frames, err := t.codec.Encode(m)
	if err != nil {
		return err
	}

	if ch == ChannelIOPub {
		t.iopubMu.Lock()
		defer t.iopubMu.Unlock()
	}
	if err := sock.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		return errors.WrapTransient(err, "Transport", "Send",
			fmt.Sprintf("%s send of %s", ch, m.Header.MsgType))
	}
	if t.metrics != nil {
		t.metrics.messagesSent.Inc()
	}
	return nil
}

// Broadcast publishes a message on the iopub channel.
func (t *Transport) Broadcast(m *message.Message) error {
	return t.Send(ChannelIOPub, m)
}

// Recv blocks until a valid message arrives on the named channel.
// Envelopes that fail framing or signature verification are logged,
// counted and dropped; Recv keeps reading. It returns an error only when
// the channel itself is closed.
func (t *Transport) Recv(ch Channel) (*message.Message, error) {
	sock, err := t.socket(ch)
	if err != nil {
		return nil, err
	}
	if ch == ChannelIOPub {
		return nil, errors.WrapInvalid(
			fmt.Errorf("iopub is publish-only"), "Transport", "Recv", "channel check")
	}

	for {
		raw, err := sock.Recv()
		if err != nil {
			return nil, errors.WrapTransient(errors.ErrChannelClosed, "Transport", "Recv",
				fmt.Sprintf("%s receive", ch))
		}

		m, err := t.codec.Decode(raw.Frames)
		if err != nil {
			// Transport-level rejection: never reaches the evaluation
			// layer, never silently dropped.
			t.logger.Warn("dropping invalid envelope",
				"channel", ch, "error", err)
			if t.metrics != nil {
				t.metrics.envelopesDropped.Inc()
			}
			continue
		}
		if t.metrics != nil {
			t.metrics.messagesReceived.Inc()
		}
		return m, nil
	}
}

// Close shuts down all channels and waits for the heartbeat loop.
func (t *Transport) Close() error {
	if !t.running.CompareAndSwap(true, false) {
		return nil
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.closeSockets()
	t.wg.Wait()
	return nil
}

func (t *Transport) closeSockets() {
	for _, sock := range []zmq4.Socket{t.shell, t.control, t.stdin, t.iopub, t.heartbeat} {
		if sock != nil {
			_ = sock.Close()
		}
	}
}
