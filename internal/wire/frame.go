package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single envelope. A peer announcing a larger
// frame is disconnected rather than buffered.
const MaxFrameSize = 100 * 1024 * 1024

const lengthPrefixSize = 4

// StepKind classifies the outcome of one decode attempt.
type StepKind int

const (
	// NeedMore means the buffer does not yet hold a full frame.
	NeedMore StepKind = iota
	// Message means one frame was consumed and decrypted successfully.
	Message
	// BadMessage means one frame was consumed but could not be decoded;
	// the connection stays usable.
	BadMessage
	// Fatal means the stream is unrecoverable and the peer must be
	// disconnected.
	Fatal
)

// Step is the result of a single Decoder.Next call.
type Step struct {
	Kind    StepKind
	Payload []byte // decrypted plaintext, set for Message
	Reason  string // set for BadMessage and Fatal
}

// Decoder accumulates raw socket bytes and extracts framed envelopes.
// One Decoder serves exactly one connection.
type Decoder struct {
	key []byte
	buf []byte
}

func NewDecoder(key []byte) *Decoder {
	return &Decoder{key: key}
}

// Feed appends newly received bytes to the connection buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered reports how many undecoded bytes are pending.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Reset drops all buffered bytes.
func (d *Decoder) Reset() { d.buf = nil }

// Next attempts to extract one message from the buffer. Callers loop
// until NeedMore. On Fatal the caller must disconnect; the buffer is
// cleared.
func (d *Decoder) Next() Step {
	if len(d.buf) < lengthPrefixSize {
		return Step{Kind: NeedMore}
	}

	length := binary.BigEndian.Uint32(d.buf[:lengthPrefixSize])
	if length == 0 || length > MaxFrameSize {
		d.buf = nil
		return Step{Kind: Fatal, Reason: fmt.Sprintf("invalid message length: %d", length)}
	}

	total := lengthPrefixSize + int(length)
	if len(d.buf) < total {
		return Step{Kind: NeedMore}
	}

	envelope := d.buf[lengthPrefixSize:total]
	rest := make([]byte, len(d.buf)-total)
	copy(rest, d.buf[total:])
	d.buf = rest

	if len(envelope) < IVSize {
		return Step{Kind: BadMessage, Reason: "encrypted data too short"}
	}

	plain, err := Decrypt(d.key, envelope)
	if err != nil {
		return Step{Kind: BadMessage, Reason: "decryption failed"}
	}

	return Step{Kind: Message, Payload: plain}
}

// Encode encrypts plaintext and prepends the 4-byte big-endian length
// of the iv||ciphertext envelope.
func Encode(key, plaintext []byte) ([]byte, error) {
	envelope, err := Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	if len(envelope) > MaxFrameSize {
		return nil, fmt.Errorf("message exceeds maximum frame size: %d", len(envelope))
	}

	frame := make([]byte, lengthPrefixSize+len(envelope))
	binary.BigEndian.PutUint32(frame, uint32(len(envelope)))
	copy(frame[lengthPrefixSize:], envelope)
	return frame, nil
}

// WriteFrame encodes plaintext and writes the complete frame to w.
func WriteFrame(w io.Writer, key, plaintext []byte) error {
	frame, err := Encode(key, plaintext)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
