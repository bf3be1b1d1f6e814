package message

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/c360/kernelkit/errors"
)

// delimiter separates ZeroMQ routing identities from the signed payload.
var delimiter = []byte("<IDS|MSG>")

// SchemeHMACSHA256 is the only supported signature scheme.
const SchemeHMACSHA256 = "hmac-sha256"

// minPayloadFrames is delimiter-relative: signature plus the four JSON
// frames (header, parent_header, metadata, content).
const minPayloadFrames = 5

// Codec encodes Messages into signed multi-frame envelopes and back.
// Decoding verifies the signature before any content is interpreted;
// this is a trust boundary, not an optimization. An empty key disables
// signing entirely.
type Codec struct {
	key []byte
}

// NewCodec creates a codec for the given shared key and signature scheme.
func NewCodec(key []byte, scheme string) (*Codec, error) {
	if len(key) > 0 && scheme != SchemeHMACSHA256 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unsupported signature scheme %q", scheme),
			"Codec", "NewCodec", "scheme validation")
	}
	return &Codec{key: key}, nil
}

// Encode serializes m into its wire frames:
// [identities..., delimiter, signature, header, parent_header, metadata, content].
func (c *Codec) Encode(m *Message) ([][]byte, error) {
	header, err := json.Marshal(m.Header)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Codec", "Encode", "header marshal")
	}

	parent := []byte("{}")
	if !m.ParentHeader.Empty() {
		if parent, err = json.Marshal(m.ParentHeader); err != nil {
			return nil, errors.WrapInvalid(err, "Codec", "Encode", "parent header marshal")
		}
	}

	metadata := []byte("{}")
	if m.Metadata != nil {
		if metadata, err = json.Marshal(m.Metadata); err != nil {
			return nil, errors.WrapInvalid(err, "Codec", "Encode", "metadata marshal")
		}
	}

	content := []byte("{}")
	if m.Content != nil {
		if content, err = json.Marshal(m.Content); err != nil {
			return nil, errors.WrapInvalid(err, "Codec", "Encode", "content marshal")
		}
	}

	frames := make([][]byte, 0, len(m.Identities)+2+minPayloadFrames)
	frames = append(frames, m.Identities...)
	frames = append(frames, delimiter)
	frames = append(frames, c.sign(header, parent, metadata, content))
	frames = append(frames, header, parent, metadata, content)
	return frames, nil
}

// Decode parses and verifies a wire envelope. It fails with
// ErrMalformedEnvelope when the frame layout is wrong and with
// ErrSignatureMismatch when the digest does not match the payload.
func (c *Codec) Decode(frames [][]byte) (*Message, error) {
	delim := -1
	for i, f := range frames {
		if bytes.Equal(f, delimiter) {
			delim = i
			break
		}
	}
	if delim < 0 {
		return nil, errors.WrapInvalid(errors.ErrMalformedEnvelope,
			"Codec", "Decode", "delimiter search")
	}
	payload := frames[delim+1:]
	if len(payload) < minPayloadFrames {
		return nil, errors.WrapInvalid(errors.ErrMalformedEnvelope,
			"Codec", "Decode", fmt.Sprintf("frame count %d", len(payload)))
	}

	signature := payload[0]
	header, parent, metadata, content := payload[1], payload[2], payload[3], payload[4]

	if len(c.key) > 0 {
		expected := c.sign(header, parent, metadata, content)
		if !hmac.Equal(signature, expected) {
			return nil, errors.WrapInvalid(errors.ErrSignatureMismatch,
				"Codec", "Decode", "digest verification")
		}
	}

	m := &Message{}
	if delim > 0 {
		m.Identities = make([][]byte, delim)
		copy(m.Identities, frames[:delim])
	}

	if err := json.Unmarshal(header, &m.Header); err != nil {
		return nil, errors.WrapInvalid(errors.ErrMalformedEnvelope,
			"Codec", "Decode", "header unmarshal")
	}
	if err := json.Unmarshal(parent, &m.ParentHeader); err != nil {
		return nil, errors.WrapInvalid(errors.ErrMalformedEnvelope,
			"Codec", "Decode", "parent header unmarshal")
	}
	if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
		return nil, errors.WrapInvalid(errors.ErrMalformedEnvelope,
			"Codec", "Decode", "metadata unmarshal")
	}

	decoded, err := DecodeContent(m.Header.MsgType, content)
	if err != nil {
		return nil, err
	}
	m.Content = decoded
	return m, nil
}

// sign computes the hex-encoded HMAC-SHA256 digest over the four JSON
// frames. Returns an empty frame when signing is disabled.
func (c *Codec) sign(frames ...[]byte) []byte {
	if len(c.key) == 0 {
		return []byte{}
	}
	mac := hmac.New(sha256.New, c.key)
	for _, f := range frames {
		mac.Write(f)
	}
	digest := mac.Sum(nil)
	out := make([]byte, hex.EncodedLen(len(digest)))
	hex.Encode(out, digest)
	return out
}
