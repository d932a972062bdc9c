package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds the payload length a peer may announce.
const MaxFrameSize = 64 * 1024

// headerSize is the length of the big-endian uint32 frame prefix.
const headerSize = 4

// ErrProtocol is returned when bytes cannot be decoded into a known message.
var ErrProtocol = errors.New("protocol error")

type envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes msg into its JSON envelope without a frame header.
//
// Precondition: msg must be non-nil.
// Postcondition: Returns the envelope bytes or an encoding error.
func Encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", msg.Type(), err)
	}
	data, err := json.Marshal(envelope{Type: msg.Type(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", msg.Type(), err)
	}
	return data, nil
}

// Decode parses a JSON envelope into its concrete message.
//
// Postcondition: Returns a non-nil Message, or an error wrapping ErrProtocol.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", ErrProtocol, err)
	}
	msg := newMessage(env.Type)
	if msg == nil {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrProtocol, env.Type)
	}
	if len(env.Payload) > 0 && !bytes.Equal(env.Payload, []byte("null")) {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, fmt.Errorf("%w: malformed %s payload: %v", ErrProtocol, env.Type, err)
		}
	}
	if err := validate(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return msg, nil
}

// validate enforces field invariants JSON decoding alone does not.
func validate(msg Message) error {
	switch m := msg.(type) {
	case *Move:
		if !m.Move.Valid() {
			return errors.New("move is required")
		}
	case *LoginRequest:
		if m.Username == "" {
			return errors.New("username is required")
		}
	}
	return nil
}

// WriteFrame writes msg as one length-prefixed frame.
//
// Postcondition: The header and envelope are handed to w in a single Write call.
func WriteFrame(w io.Writer, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds max %d", len(data), MaxFrameSize)
	}
	buf := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[headerSize:], data)
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads exactly one length-prefixed frame and decodes it.
//
// Postcondition: Returns the decoded message; io errors (including io.EOF) are
// returned unwrapped, decode failures wrap ErrProtocol.
func ReadFrame(r io.Reader) (Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds max %d", ErrProtocol, n, MaxFrameSize)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return Decode(data)
}
