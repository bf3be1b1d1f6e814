// Package kernel implements the execution dispatcher: the state machine
// that receives requests on the shell and control channels, drives the
// busy/idle status broadcasts on iopub, invokes the evaluation engine,
// and emits replies in strict protocol order.
package kernel

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"

	"github.com/c360/kernelkit/errors"
	"github.com/c360/kernelkit/eval"
	"github.com/c360/kernelkit/message"
	"github.com/c360/kernelkit/metric"
	"github.com/c360/kernelkit/session"
	"github.com/c360/kernelkit/stream"
	"github.com/c360/kernelkit/transport"
)

// Messenger is the channel transport the dispatcher drives. Satisfied by
// *transport.Transport; tests substitute an in-memory fake.
type Messenger interface {
	Send(ch transport.Channel, m *message.Message) error
	Recv(ch transport.Channel) (*message.Message, error)
	Broadcast(m *message.Message) error
	Close() error
}

// Kernel is the execution dispatcher. One kernel serves one session.
type Kernel struct {
	transport   Messenger
	session     *session.Session
	evaluator   eval.Evaluator
	info        eval.Info
	artifacts   eval.ArtifactCodec
	restoreBlob []byte
	restoreDir  string
	logger      *slog.Logger
	metrics     *Metrics

	// streamPolicy is the session-scoped output flush policy. It starts
	// from the configured default and persists across executions until
	// an %output directive reconfigures it.
	policyMu     sync.Mutex
	streamPolicy stream.Policy

	// stdinReplies hands input_reply values from the stdin loop to the
	// coordinator blocking the execution goroutine.
	stdinReplies chan string

	// interrupt cancels the in-flight evaluation, if any. interruptDone
	// closes once the aborted request has sent its reply, so the
	// interrupt acknowledgement can be ordered after it.
	interruptMu   sync.Mutex
	interrupt     context.CancelFunc
	interruptDone chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// Deps holds runtime dependencies for the kernel.
type Deps struct {
	Transport Messenger
	Session   *session.Session
	Evaluator eval.Evaluator

	// Info identifies the evaluation engine in kernel_info replies.
	Info eval.Info

	// Artifacts restores serialized session state at startup. Optional.
	Artifacts eval.ArtifactCodec

	// RestoreBlob, with Artifacts, is deserialized before serving.
	RestoreBlob []byte
	RestoreDir  string

	// StreamPolicy is the initial output flush policy.
	StreamPolicy stream.Policy

	MetricsRegistry *metric.Registry
	Logger          *slog.Logger
}

// New creates a kernel. Run starts serving.
func New(deps Deps) *Kernel {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "kernel")
	}
	return &Kernel{
		transport:    deps.Transport,
		session:      deps.Session,
		evaluator:    deps.Evaluator,
		info:         deps.Info,
		artifacts:    deps.Artifacts,
		restoreBlob:  deps.RestoreBlob,
		restoreDir:   deps.RestoreDir,
		logger:       logger,
		metrics:      newMetrics(deps.MetricsRegistry),
		streamPolicy: deps.StreamPolicy,
		stdinReplies: make(chan string, 1),
		shutdown:     make(chan struct{}),
	}
}

// Run serves the kernel until the context is cancelled or a
// shutdown_request arrives. It broadcasts the one-time starting status,
// then runs one loop per channel; the evaluation path stays single
// threaded on the shell loop.
func (k *Kernel) Run(ctx context.Context) error {
	if k.transport == nil || k.session == nil || k.evaluator == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Kernel", "Run", "dependency check")
	}

	if k.artifacts != nil {
		if err := k.restoreArtifacts(ctx); err != nil {
			return err
		}
	}

	if err := k.session.SetStatus(session.StatusStarting, nil); err != nil {
		k.logger.Warn("starting status broadcast failed", "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); k.shellLoop(runCtx) }()
	go func() { defer wg.Done(); k.controlLoop(runCtx) }()
	go func() { defer wg.Done(); k.stdinLoop(runCtx) }()

	select {
	case <-runCtx.Done():
	case <-k.shutdown:
	}
	cancel()

	// Closing the transport unblocks the channel loops.
	err := k.transport.Close()
	wg.Wait()
	return err
}

// restoreArtifacts loads the serialized session blob handed over from a
// previous kernel, forwarding the loadable-unit identifiers to the log.
// The blob stays opaque to the core.
func (k *Kernel) restoreArtifacts(ctx context.Context) error {
	blob := k.restoreBlob
	if len(blob) == 0 {
		return nil
	}
	units, err := k.artifacts.Deserialize(ctx, blob, k.restoreDir)
	if err != nil {
		return errors.Wrap(err, "Kernel", "restoreArtifacts", "artifact deserialize")
	}
	k.logger.Info("restored session artifacts", "units", len(units))
	return nil
}

// shellLoop serves the primary request/reply channel, one request at a
// time. A request arriving while an execution is in flight queues at the
// socket and is dequeued only after the current one reaches idle.
func (k *Kernel) shellLoop(ctx context.Context) {
	for {
		msg, err := k.transport.Recv(transport.ChannelShell)
		if err != nil {
			return
		}
		k.handleShell(ctx, msg)
	}
}

func (k *Kernel) handleShell(ctx context.Context, msg *message.Message) {
	switch msg.Content.(type) {
	case *message.ExecuteRequest:
		k.handleExecute(ctx, msg)
	case *message.KernelInfoRequest:
		k.handleKernelInfo(msg, transport.ChannelShell)
	case *message.ShutdownRequest:
		k.handleShutdown(msg, transport.ChannelShell)
	default:
		k.logger.Warn("dropping unsupported shell message", "msg_type", msg.Header.MsgType)
	}
}

// controlLoop services out-of-band administrative requests independently
// of the shell, so an interrupt lands even while an execution is running
// or blocked on input.
func (k *Kernel) controlLoop(_ context.Context) {
	for {
		msg, err := k.transport.Recv(transport.ChannelControl)
		if err != nil {
			return
		}
		switch msg.Content.(type) {
		case *message.InterruptRequest:
			k.handleInterrupt(msg)
		case *message.ShutdownRequest:
			k.handleShutdown(msg, transport.ChannelControl)
		case *message.KernelInfoRequest:
			k.handleKernelInfo(msg, transport.ChannelControl)
		default:
			k.logger.Warn("dropping unsupported control message", "msg_type", msg.Header.MsgType)
		}
	}
}

// stdinLoop forwards input_reply values to the waiting coordinator.
// Replies arriving when nothing waits are logged and dropped.
func (k *Kernel) stdinLoop(_ context.Context) {
	for {
		msg, err := k.transport.Recv(transport.ChannelStdin)
		if err != nil {
			return
		}
		reply, ok := msg.Content.(*message.InputReply)
		if !ok {
			k.logger.Warn("dropping unsupported stdin message", "msg_type", msg.Header.MsgType)
			continue
		}
		select {
		case k.stdinReplies <- reply.Value:
		default:
			k.logger.Warn("dropping unsolicited input reply")
		}
	}
}

func (k *Kernel) handleKernelInfo(msg *message.Message, ch transport.Channel) {
	k.statusBracket(msg, func() {})

	reply := msg.Reply(message.TypeKernelInfoReply, &message.KernelInfoReply{
		Status:                message.StatusOK,
		ProtocolVersion:       message.ProtocolVersion,
		Implementation:        k.info.Implementation,
		ImplementationVersion: k.info.Version,
		LanguageInfo: message.LanguageInfo{
			Name:          k.info.LanguageName,
			Version:       k.info.LanguageVersion,
			MimeType:      k.info.MimeType,
			FileExtension: k.info.FileExtension,
		},
		Banner: k.info.Banner,
	})
	if err := k.transport.Send(ch, reply); err != nil {
		k.logger.Error("kernel_info reply failed", "error", err)
	}
}

func (k *Kernel) handleInterrupt(msg *message.Message) {
	k.interruptMu.Lock()
	cancel, done := k.interrupt, k.interruptDone
	k.interruptMu.Unlock()

	if cancel != nil {
		cancel()
		// The acknowledgement follows the aborted request's own reply.
		<-done
		k.logger.Info("interrupted in-flight execution")
		if k.metrics != nil {
			k.metrics.interrupts.Inc()
		}
	}

	reply := msg.Reply(message.TypeInterruptReply, &message.InterruptReply{Status: message.StatusOK})
	if err := k.transport.Send(transport.ChannelControl, reply); err != nil {
		k.logger.Error("interrupt reply failed", "error", err)
	}
}

func (k *Kernel) handleShutdown(msg *message.Message, ch transport.Channel) {
	req, _ := msg.Content.(*message.ShutdownRequest)
	restart := req != nil && req.Restart

	reply := msg.Reply(message.TypeShutdownReply, &message.ShutdownReply{
		Status:  message.StatusOK,
		Restart: restart,
	})
	if restart && k.artifacts != nil {
		// Hand the serialized session state to the client restarting us;
		// it comes back as the successor kernel's restore blob.
		blob, err := k.artifacts.Serialize(context.Background(), k.session.ID())
		switch {
		case err != nil:
			k.logger.Warn("session snapshot failed", "error", err)
		case len(blob) > 0:
			reply.Metadata["artifact"] = base64.StdEncoding.EncodeToString(blob)
		}
	}
	if err := k.transport.Send(ch, reply); err != nil {
		k.logger.Error("shutdown reply failed", "error", err)
	}

	// Abort whatever is running so the shell loop can wind down.
	k.interruptInFlight()
	k.shutdownOnce.Do(func() { close(k.shutdown) })
}

// statusBracket wraps fn in the busy/idle broadcast pair every request
// is bracketed by on iopub.
func (k *Kernel) statusBracket(msg *message.Message, fn func()) {
	if err := k.session.SetStatus(session.StatusBusy, msg); err != nil {
		k.logger.Warn("busy status broadcast failed", "error", err)
	}
	fn()
	if err := k.session.SetStatus(session.StatusIdle, msg); err != nil {
		k.logger.Warn("idle status broadcast failed", "error", err)
	}
}

// interruptInFlight cancels the current evaluation. Returns false when
// nothing was running.
func (k *Kernel) interruptInFlight() bool {
	k.interruptMu.Lock()
	defer k.interruptMu.Unlock()
	if k.interrupt == nil {
		return false
	}
	k.interrupt()
	return true
}

func (k *Kernel) setInterrupt(cancel context.CancelFunc) {
	k.interruptMu.Lock()
	defer k.interruptMu.Unlock()
	k.interrupt = cancel
	k.interruptDone = make(chan struct{})
}

// clearInterrupt runs after the request's reply has been sent and
// releases anyone waiting to acknowledge an interrupt.
func (k *Kernel) clearInterrupt() {
	k.interruptMu.Lock()
	defer k.interruptMu.Unlock()
	if k.interruptDone != nil {
		close(k.interruptDone)
	}
	k.interrupt = nil
	k.interruptDone = nil
}

func (k *Kernel) currentPolicy() stream.Policy {
	k.policyMu.Lock()
	defer k.policyMu.Unlock()
	return k.streamPolicy
}

func (k *Kernel) setPolicy(p stream.Policy) {
	k.policyMu.Lock()
	defer k.policyMu.Unlock()
	k.streamPolicy = p
}
