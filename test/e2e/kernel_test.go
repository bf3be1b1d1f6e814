// Package e2e exercises the full kernel stack over real ZeroMQ sockets:
// connection file semantics, signed envelopes, the heartbeat loop, and
// the complete execute round trip as a front-end client observes it.
package e2e

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/kernelkit/config"
	"github.com/c360/kernelkit/eval"
	"github.com/c360/kernelkit/kernel"
	"github.com/c360/kernelkit/message"
	"github.com/c360/kernelkit/session"
	"github.com/c360/kernelkit/testutil"
	"github.com/c360/kernelkit/transport"
)

const testKey = "e2e-secret"

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func testConnection(t *testing.T) config.ConnectionInfo {
	t.Helper()
	return config.ConnectionInfo{
		Transport:       "tcp",
		IP:              "127.0.0.1",
		ShellPort:       freePort(t),
		ControlPort:     freePort(t),
		StdinPort:       freePort(t),
		IOPubPort:       freePort(t),
		HeartbeatPort:   freePort(t),
		Key:             testKey,
		SignatureScheme: "hmac-sha256",
	}
}

// client is a minimal front-end: one DEALER per request/reply channel,
// one SUB for broadcasts, sharing the kernel's signing key.
type client struct {
	codec   *message.Codec
	session string
	shell   zmq4.Socket
	stdin   zmq4.Socket
	iopub   zmq4.Socket
}

func newClient(t *testing.T, ctx context.Context, conn config.ConnectionInfo) *client {
	t.Helper()
	codec, err := message.NewCodec([]byte(conn.Key), conn.SignatureScheme)
	require.NoError(t, err)

	c := &client{codec: codec, session: uuid.New().String()}

	// Shell and stdin share one routing identity, the way real front-ends
	// connect: input_request is addressed with the identity of the shell
	// request that caused it.
	identity := zmq4.SocketIdentity("client-" + c.session)
	c.shell = zmq4.NewDealer(ctx, zmq4.WithID(identity))
	require.NoError(t, c.shell.Dial(conn.Endpoint(conn.ShellPort)))
	c.stdin = zmq4.NewDealer(ctx, zmq4.WithID(identity))
	require.NoError(t, c.stdin.Dial(conn.Endpoint(conn.StdinPort)))

	c.iopub = zmq4.NewSub(ctx)
	require.NoError(t, c.iopub.Dial(conn.Endpoint(conn.IOPubPort)))
	require.NoError(t, c.iopub.SetOption(zmq4.OptionSubscribe, ""))

	t.Cleanup(func() {
		_ = c.shell.Close()
		_ = c.stdin.Close()
		_ = c.iopub.Close()
	})

	// Let the slow-joining subscriber catch up before traffic starts.
	time.Sleep(300 * time.Millisecond)
	return c
}

func (c *client) send(t *testing.T, sock zmq4.Socket, msgType string, content any) *message.Message {
	t.Helper()
	msg := message.New(msgType, c.session, content)
	frames, err := c.codec.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, sock.SendMulti(zmq4.NewMsgFrom(frames...)))
	return msg
}

func (c *client) recv(t *testing.T, sock zmq4.Socket) *message.Message {
	t.Helper()
	raw, err := sock.Recv()
	require.NoError(t, err)
	msg, err := c.codec.Decode(raw.Frames)
	require.NoError(t, err)
	return msg
}

// startKernel runs a kernel with the given engine and returns once the
// channels are bound.
func startKernel(t *testing.T, ctx context.Context, conn config.ConnectionInfo, ev eval.Evaluator) {
	t.Helper()
	codec, err := message.NewCodec([]byte(conn.Key), conn.SignatureScheme)
	require.NoError(t, err)

	tr := transport.New(transport.Deps{Conn: conn, Codec: codec})
	require.NoError(t, tr.Listen(ctx))

	sess := session.New(session.Deps{ID: uuid.New().String(), Broadcast: tr.Broadcast})
	k := kernel.New(kernel.Deps{
		Transport: tr,
		Session:   sess,
		Evaluator: ev,
		Info:      eval.Info{Implementation: "kernelkit", LanguageName: "test"},
	})

	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()
	t.Cleanup(func() {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("kernel did not stop")
		}
	})
}

func TestHeartbeatEcho(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := testConnection(t)
	startKernel(t, ctx, conn, &testutil.ScriptedEvaluator{})

	hb := zmq4.NewReq(ctx)
	require.NoError(t, hb.Dial(conn.Endpoint(conn.HeartbeatPort)))
	defer func() { _ = hb.Close() }()

	require.NoError(t, hb.Send(zmq4.NewMsgString("ping")))
	echo, err := hb.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(echo.Bytes()))
}

func TestExecuteRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := testConnection(t)
	ev := testutil.EvalFunc(func(_ context.Context, code string, io eval.IO) (*eval.Result, error) {
		if _, err := io.Stdout.Write([]byte("working\n")); err != nil {
			return nil, err
		}
		return testutil.TextResult("4"), nil
	})
	startKernel(t, ctx, conn, ev)
	c := newClient(t, ctx, conn)

	req := c.send(t, c.shell, message.TypeExecuteRequest, &message.ExecuteRequest{Code: "2+2"})

	reply := c.recv(t, c.shell)
	assert.Equal(t, message.TypeExecuteReply, reply.Header.MsgType)
	assert.Equal(t, req.Header.MsgID, reply.ParentHeader.MsgID)

	content := reply.Content.(*message.ExecuteReply)
	assert.Equal(t, message.StatusOK, content.Status)
	assert.Equal(t, 1, content.ExecutionCount)

	// Collect this request's broadcasts until idle; the starting status
	// and anything published before the subscription joined are skipped.
	var types []string
	var result *message.ExecuteResult
	var streamed string
	deadline := time.After(5 * time.Second)
	for {
		got := make(chan *message.Message, 1)
		go func() {
			raw, err := c.iopub.Recv()
			if err != nil {
				return
			}
			if m, err := c.codec.Decode(raw.Frames); err == nil {
				got <- m
			}
		}()
		var m *message.Message
		select {
		case m = <-got:
		case <-deadline:
			t.Fatalf("iopub drained without reaching idle, saw %v", types)
		}
		if m.ParentHeader.MsgID != req.Header.MsgID {
			continue
		}
		types = append(types, m.Header.MsgType)
		switch content := m.Content.(type) {
		case *message.ExecuteResult:
			result = content
		case *message.Stream:
			streamed += content.Text
		case *message.Status:
			if content.ExecutionState == "idle" {
				goto done
			}
		}
	}
done:
	assert.Equal(t, []string{
		message.TypeStatus,
		message.TypeExecuteInput,
		message.TypeStream,
		message.TypeExecuteResult,
		message.TypeStatus,
	}, types)
	assert.Equal(t, "working\n", streamed)
	require.NotNil(t, result)
	assert.Equal(t, "4", result.Data["text/plain"])
}

func TestInputRoundTripOverSockets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := testConnection(t)
	ev := testutil.EvalFunc(func(_ context.Context, _ string, io eval.IO) (*eval.Result, error) {
		v, err := io.ReadInput("name? ", false)
		if err != nil {
			return nil, err
		}
		return testutil.TextResult("hello " + v), nil
	})
	startKernel(t, ctx, conn, ev)
	c := newClient(t, ctx, conn)

	c.send(t, c.shell, message.TypeExecuteRequest,
		&message.ExecuteRequest{Code: "greet()", AllowStdin: true})

	prompt := c.recv(t, c.stdin)
	require.Equal(t, message.TypeInputRequest, prompt.Header.MsgType)
	assert.Equal(t, "name? ", prompt.Content.(*message.InputRequest).Prompt)

	replyMsg := prompt.Reply(message.TypeInputReply, &message.InputReply{Value: "ada"})
	frames, err := c.codec.Encode(replyMsg)
	require.NoError(t, err)
	require.NoError(t, c.stdin.SendMulti(zmq4.NewMsgFrom(frames...)))

	reply := c.recv(t, c.shell)
	content := reply.Content.(*message.ExecuteReply)
	assert.Equal(t, message.StatusOK, content.Status)
}

func TestSignatureRequiredOverSockets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := testConnection(t)
	startKernel(t, ctx, conn, &testutil.ScriptedEvaluator{})

	// A client signing with the wrong key is ignored entirely.
	codec, err := message.NewCodec([]byte("wrong-key"), conn.SignatureScheme)
	require.NoError(t, err)

	shell := zmq4.NewDealer(ctx)
	require.NoError(t, shell.Dial(conn.Endpoint(conn.ShellPort)))
	defer func() { _ = shell.Close() }()

	msg := message.New(message.TypeKernelInfoRequest, "s", &message.KernelInfoRequest{})
	frames, err := codec.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, shell.SendMulti(zmq4.NewMsgFrom(frames...)))

	replied := make(chan struct{})
	go func() {
		if _, err := shell.Recv(); err == nil {
			close(replied)
		}
	}()
	select {
	case <-replied:
		t.Fatal("kernel answered a forged envelope")
	case <-time.After(500 * time.Millisecond):
	}
}
