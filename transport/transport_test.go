package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/kernelkit/config"
	"github.com/c360/kernelkit/message"
)

// freePort asks the OS for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConn(t *testing.T) config.ConnectionInfo {
	t.Helper()
	return config.ConnectionInfo{
		Transport:       "tcp",
		IP:              "127.0.0.1",
		ShellPort:       freePort(t),
		ControlPort:     freePort(t),
		StdinPort:       freePort(t),
		IOPubPort:       freePort(t),
		HeartbeatPort:   freePort(t),
		Key:             "transport-test-key",
		SignatureScheme: message.SchemeHMACSHA256,
	}
}

func newListening(t *testing.T) (*Transport, config.ConnectionInfo, *message.Codec) {
	t.Helper()
	conn := testConn(t)
	codec, err := message.NewCodec([]byte(conn.Key), conn.SignatureScheme)
	require.NoError(t, err)

	tr := New(Deps{Conn: conn, Codec: codec})
	require.NoError(t, tr.Listen(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })
	return tr, conn, codec
}

func TestHeartbeatEchoesVerbatim(t *testing.T) {
	_, conn, _ := newListening(t)

	req := zmq4.NewReq(context.Background())
	defer req.Close()
	require.NoError(t, req.Dial(conn.Endpoint(conn.HeartbeatPort)))

	for _, probe := range []string{"ping", "are-you-alive"} {
		require.NoError(t, req.Send(zmq4.NewMsgString(probe)))
		echo, err := req.Recv()
		require.NoError(t, err)
		assert.Equal(t, probe, string(echo.Bytes()))
	}
}

func TestShellRequestReplyRoundTrip(t *testing.T) {
	tr, conn, codec := newListening(t)

	client := zmq4.NewDealer(context.Background())
	defer client.Close()
	require.NoError(t, client.Dial(conn.Endpoint(conn.ShellPort)))
	time.Sleep(50 * time.Millisecond) // let the connection establish

	req := message.New(message.TypeExecuteRequest, "client-session",
		&message.ExecuteRequest{Code: "2+2"})
	frames, err := codec.Encode(req)
	require.NoError(t, err)
	require.NoError(t, client.SendMulti(zmq4.NewMsgFrom(frames...)))

	got := recvWithin(t, func() (*message.Message, error) {
		return tr.Recv(ChannelShell)
	})
	require.Equal(t, message.TypeExecuteRequest, got.Header.MsgType)
	require.NotEmpty(t, got.Identities, "ROUTER must capture the client identity")

	reply := got.Reply(message.TypeExecuteReply,
		&message.ExecuteReply{Status: message.StatusOK, ExecutionCount: 1})
	require.NoError(t, tr.Send(ChannelShell, reply))

	raw, err := client.Recv()
	require.NoError(t, err)
	decoded, err := codec.Decode(raw.Frames)
	require.NoError(t, err)
	assert.Equal(t, message.TypeExecuteReply, decoded.Header.MsgType)
	assert.Equal(t, req.Header, decoded.ParentHeader)
}

func TestInvalidEnvelopesAreDroppedNotReturned(t *testing.T) {
	tr, conn, codec := newListening(t)

	client := zmq4.NewDealer(context.Background())
	defer client.Close()
	require.NoError(t, client.Dial(conn.Endpoint(conn.ShellPort)))
	time.Sleep(50 * time.Millisecond)

	// A forged envelope signed with the wrong key must be dropped.
	forger, err := message.NewCodec([]byte("wrong-key"), message.SchemeHMACSHA256)
	require.NoError(t, err)
	forged, err := forger.Encode(message.New(message.TypeExecuteRequest, "s",
		&message.ExecuteRequest{Code: "evil"}))
	require.NoError(t, err)
	require.NoError(t, client.SendMulti(zmq4.NewMsgFrom(forged...)))

	// Followed by a valid one, which is what Recv must return.
	valid, err := codec.Encode(message.New(message.TypeExecuteRequest, "s",
		&message.ExecuteRequest{Code: "good"}))
	require.NoError(t, err)
	require.NoError(t, client.SendMulti(zmq4.NewMsgFrom(valid...)))

	got := recvWithin(t, func() (*message.Message, error) {
		return tr.Recv(ChannelShell)
	})
	content, ok := got.Content.(*message.ExecuteRequest)
	require.True(t, ok)
	assert.Equal(t, "good", content.Code)
}

func TestRecvOnIOPubRejected(t *testing.T) {
	tr, _, _ := newListening(t)
	_, err := tr.Recv(ChannelIOPub)
	require.Error(t, err)
}

func TestListenTwiceFails(t *testing.T) {
	tr, _, _ := newListening(t)
	require.Error(t, tr.Listen(context.Background()))
}

// recvWithin guards blocking receives against hanging the test suite.
func recvWithin(t *testing.T, recv func() (*message.Message, error)) *message.Message {
	t.Helper()
	type result struct {
		m   *message.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := recv()
		ch <- result{m, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.m
	case <-time.After(5 * time.Second):
		t.Fatal("receive timed out")
		return nil
	}
}
