// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"encoding/binary"
	"fmt"
)

// Channel identifies the logical subsystem a mux frame belongs to.
// Terminal is the only channel today; the byte is reserved so that
// future channels (file sync, port forwards) can share the session
// without a wire format change.
type Channel uint8

const (
	// ChannelTerminal carries terminal session byte streams.
	ChannelTerminal Channel = 0x01
)

// MessageType identifies the payload kind within a channel.
type MessageType uint8

const (
	// MessageTypeOutputUTF8 is terminal output, server → clients. The
	// only type recorded into replay history.
	MessageTypeOutputUTF8 MessageType = 0x01

	// MessageTypeInputUTF8 is terminal input, client → server. Never
	// recorded or replayed.
	MessageTypeInputUTF8 MessageType = 0x02

	// MessageTypeReplayGap tells a resuming client that its requested
	// offset predates the retained history window. The payload is the
	// oldest retained offset as 8 big-endian bytes; everything before
	// it is gone and the client's local state is stale.
	MessageTypeReplayGap MessageType = 0x03
)

// Flags is an independent bitmask on every frame, not an enum.
type Flags uint8

const (
	// FlagReplay marks a frame reconstructed from the replay buffer
	// rather than freshly produced by the server. Receivers use it to
	// distinguish catch-up data from live data without separate
	// framing.
	FlagReplay Flags = 0x01
)

// FrameHeaderLength is the fixed mux frame header size: channel (1) +
// messageType (1) + streamId (4) + offset (8) + flags (1) +
// payloadLength (4). All multi-byte fields are big-endian.
const FrameHeaderLength = 19

// Frame is the wire unit multiplexing several logical byte streams
// over one physical connection. The codec is purely structural: the
// payload is opaque to everything except the consumer identified by
// Channel and Type.
type Frame struct {
	Channel     Channel
	MessageType MessageType
	StreamID    uint32
	Offset      uint64
	Flags       Flags
	Payload     []byte
}

// EncodeFrame serializes a frame. Total: every frame value has an
// encoding, and DecodeFrame inverts it exactly.
func EncodeFrame(f Frame) []byte {
	buf := make([]byte, FrameHeaderLength+len(f.Payload))
	buf[0] = byte(f.Channel)
	buf[1] = byte(f.MessageType)
	binary.BigEndian.PutUint32(buf[2:6], f.StreamID)
	binary.BigEndian.PutUint64(buf[6:14], f.Offset)
	buf[14] = byte(f.Flags)
	binary.BigEndian.PutUint32(buf[15:19], uint32(len(f.Payload)))
	copy(buf[FrameHeaderLength:], f.Payload)
	return buf
}

// DecodeFrame parses a frame. Returns false — never an error or a
// panic — on structural violations: a buffer shorter than the fixed
// header, or a declared payload length that does not equal the bytes
// actually present after the header. A frame is decoded whole or not
// at all; there is no partial acceptance.
//
// The payload is copied out of b, so the caller may reuse its read
// buffer.
func DecodeFrame(b []byte) (Frame, bool) {
	if len(b) < FrameHeaderLength {
		return Frame{}, false
	}
	payloadLength := binary.BigEndian.Uint32(b[15:19])
	if uint64(len(b)-FrameHeaderLength) != uint64(payloadLength) {
		return Frame{}, false
	}

	payload := make([]byte, payloadLength)
	copy(payload, b[FrameHeaderLength:])

	return Frame{
		Channel:     Channel(b[0]),
		MessageType: MessageType(b[1]),
		StreamID:    binary.BigEndian.Uint32(b[2:6]),
		Offset:      binary.BigEndian.Uint64(b[6:14]),
		Flags:       Flags(b[14]),
		Payload:     payload,
	}, true
}

// DecodeFrameStrict parses a frame like DecodeFrame and additionally
// rejects unrecognized Channel or MessageType values. The forwarding
// engine uses strict decoding on inbound traffic so that a connection
// speaking a newer dialect is closed cleanly instead of having its
// frames half-interpreted.
func DecodeFrameStrict(b []byte) (Frame, error) {
	f, ok := DecodeFrame(b)
	if !ok {
		return Frame{}, fmt.Errorf("frame: %d bytes do not form a frame", len(b))
	}
	if f.Channel != ChannelTerminal {
		return Frame{}, fmt.Errorf("frame: unknown channel 0x%02x", uint8(f.Channel))
	}
	switch f.MessageType {
	case MessageTypeOutputUTF8, MessageTypeInputUTF8, MessageTypeReplayGap:
	default:
		return Frame{}, fmt.Errorf("frame: unknown message type 0x%02x", uint8(f.MessageType))
	}
	return f, nil
}

// NewReplayGapFrame builds the frame that tells a resuming client its
// requested offset predates retained history. oldestRetained is the
// first offset still replayable.
func NewReplayGapFrame(streamID uint32, oldestRetained uint64) Frame {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, oldestRetained)
	return Frame{
		Channel:     ChannelTerminal,
		MessageType: MessageTypeReplayGap,
		StreamID:    streamID,
		Offset:      oldestRetained,
		Flags:       FlagReplay,
		Payload:     payload,
	}
}

// ReplayGapOffset extracts the oldest retained offset from a replay
// gap frame. Returns the frame's Offset when the payload is not the
// expected 8 bytes; the two carry the same value on frames the relay
// itself built.
func ReplayGapOffset(f Frame) uint64 {
	if len(f.Payload) == 8 {
		return binary.BigEndian.Uint64(f.Payload)
	}
	return f.Offset
}
