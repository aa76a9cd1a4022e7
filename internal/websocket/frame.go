package websocket

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WebSocket frame opcodes
const (
	OpcodeContinuation = 0x0
	OpcodeText         = 0x1
	OpcodeBinary       = 0x2
	OpcodeClose        = 0x8
	OpcodePing         = 0x9
	OpcodePong         = 0xA
)

// Close status codes used by the server.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseProtocolError = 1002
	CloseMessageTooBig = 1009
)

// DefaultMaxFrameSize caps the payload length a peer may declare.
const DefaultMaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a frame declares a payload above the limit.
var ErrFrameTooLarge = errors.New("websocket frame payload exceeds limit")

// Frame represents a WebSocket frame
type Frame struct {
	FIN     bool
	Opcode  byte
	Masked  bool
	MaskKey [4]byte
	Payload []byte // unmasked
}

// ParseFrame parses one frame from the front of buf. It returns the frame and
// the number of bytes it occupied, or (nil, 0, nil) when buf does not yet hold
// the full header and payload. Payloads declared above maxPayload fail with
// ErrFrameTooLarge before any of the payload is required.
func ParseFrame(buf []byte, maxPayload int64) (*Frame, int, error) {
	if len(buf) < 2 {
		return nil, 0, nil
	}

	frame := &Frame{
		FIN:    buf[0]&0x80 != 0,
		Opcode: buf[0] & 0x0F,
		Masked: buf[1]&0x80 != 0,
	}

	length := uint64(buf[1] & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(buf) < offset+2 {
			return nil, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return nil, 0, nil
		}
		length = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
	}

	if maxPayload > 0 && length > uint64(maxPayload) {
		return nil, 0, fmt.Errorf("%w: %d bytes declared", ErrFrameTooLarge, length)
	}

	if frame.Masked {
		if len(buf) < offset+4 {
			return nil, 0, nil
		}
		copy(frame.MaskKey[:], buf[offset:offset+4])
		offset += 4
	}

	if uint64(len(buf)-offset) < length {
		return nil, 0, nil
	}
	total := offset + int(length)

	payload := make([]byte, length)
	copy(payload, buf[offset:total])
	if frame.Masked {
		unmask(payload, frame.MaskKey)
	}
	frame.Payload = payload

	return frame, total, nil
}

// unmask applies the XOR mask in place (WebSocket masking algorithm)
func unmask(payload []byte, maskKey [4]byte) {
	for i := range payload {
		payload[i] ^= maskKey[i%4]
	}
}

// BuildFrame wraps payload in a server-to-client (unmasked) frame.
func BuildFrame(payload []byte, opcode byte, fin bool) []byte {
	frame := appendHeader(make([]byte, 0, len(payload)+10), opcode, fin, false, len(payload))
	return append(frame, payload...)
}

// BuildMaskedFrame wraps payload in a client-to-server frame masked with key.
func BuildMaskedFrame(payload []byte, opcode byte, fin bool, key [4]byte) []byte {
	frame := appendHeader(make([]byte, 0, len(payload)+14), opcode, fin, true, len(payload))
	frame = append(frame, key[:]...)
	start := len(frame)
	frame = append(frame, payload...)
	unmask(frame[start:], key)
	return frame
}

// BuildCloseFrame builds a close frame carrying a status code and optional
// reason.
func BuildCloseFrame(code uint16, reason string) []byte {
	payload := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	payload = append(payload, reason...)
	return BuildFrame(payload, OpcodeClose, true)
}

func appendHeader(frame []byte, opcode byte, fin, masked bool, payloadLen int) []byte {
	first := opcode & 0x0F
	if fin {
		first |= 0x80
	}
	frame = append(frame, first)

	var maskBit byte
	if masked {
		maskBit = 0x80
	}

	switch {
	case payloadLen < 126:
		frame = append(frame, maskBit|byte(payloadLen))
	case payloadLen < 65536:
		frame = append(frame, maskBit|126)
		frame = binary.BigEndian.AppendUint16(frame, uint16(payloadLen))
	default:
		frame = append(frame, maskBit|127)
		frame = binary.BigEndian.AppendUint64(frame, uint64(payloadLen))
	}
	return frame
}

// OpcodeString returns a human-readable opcode name
func (f *Frame) OpcodeString() string {
	switch f.Opcode {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(0x%X)", f.Opcode)
	}
}

// String returns a debug representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{FIN=%v, Opcode=%s, Masked=%v, Length=%d}",
		f.FIN, f.OpcodeString(), f.Masked, len(f.Payload))
}
