// Package message defines the protocol data model and the signed
// multi-frame envelope codec used on every channel.
//
// A Message combines a header, the header of the request that caused it
// (the parent), free-form metadata and a typed content payload. Messages
// are immutable once constructed; replies are derived from their request
// via Reply so that parent header, session and routing identities are
// carried over automatically.
package message

import (
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the wire protocol version advertised in every header.
const ProtocolVersion = "5.3"

// Message type constants for all content variants handled by the kernel.
const (
	TypeExecuteRequest    = "execute_request"
	TypeExecuteReply      = "execute_reply"
	TypeExecuteInput      = "execute_input"
	TypeExecuteResult     = "execute_result"
	TypeStream            = "stream"
	TypeStatus            = "status"
	TypeError             = "error"
	TypeInputRequest      = "input_request"
	TypeInputReply        = "input_reply"
	TypeKernelInfoRequest = "kernel_info_request"
	TypeKernelInfoReply   = "kernel_info_reply"
	TypeShutdownRequest   = "shutdown_request"
	TypeShutdownReply     = "shutdown_reply"
	TypeInterruptRequest  = "interrupt_request"
	TypeInterruptReply    = "interrupt_reply"
)

// Header identifies a single protocol message.
type Header struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	Date     string `json:"date"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

// Empty reports whether the header is the zero value, which is how a
// missing parent header is represented ("{}" on the wire).
func (h Header) Empty() bool {
	return h == Header{}
}

// Message is the in-memory form of one protocol message.
//
// Identities carries the ZeroMQ routing prefix of the envelope the message
// arrived in. It is not part of the signed payload but must be echoed on
// replies so ROUTER sockets can address the requesting client.
type Message struct {
	Header       Header
	ParentHeader Header
	Metadata     map[string]any
	Content      any
	Identities   [][]byte
}

// New creates a fresh message with a new header for the given session.
func New(msgType, sessionID string, content any) *Message {
	return &Message{
		Header: Header{
			MsgID:    uuid.New().String(),
			Username: "kernel",
			Session:  sessionID,
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			MsgType:  msgType,
			Version:  ProtocolVersion,
		},
		Metadata: map[string]any{},
		Content:  content,
	}
}

// Reply creates a response to m. The reply's parent header is m's header,
// the session is carried over, and m's routing identities are copied so
// the reply reaches the original requester.
func (m *Message) Reply(msgType string, content any) *Message {
	r := New(msgType, m.Header.Session, content)
	r.ParentHeader = m.Header
	if len(m.Identities) > 0 {
		r.Identities = make([][]byte, len(m.Identities))
		copy(r.Identities, m.Identities)
	}
	return r
}

// Publish creates a broadcast message caused by m for the iopub channel.
// Identical to Reply except that routing identities are not carried over;
// PUB sockets address all subscribers.
func (m *Message) Publish(msgType string, content any) *Message {
	r := New(msgType, m.Header.Session, content)
	r.ParentHeader = m.Header
	return r
}
