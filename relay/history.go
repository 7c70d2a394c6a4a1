// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"fmt"
	"sync"
)

// DefaultHistoryBudget is the default per-stream replay history budget
// in bytes. 1 MB holds roughly 500K-1M lines of typical terminal
// output — hours of coding agent activity.
const DefaultHistoryBudget = 1024 * 1024

// History is a session's replay buffer: per-stream bounded byte
// history addressed by monotonic offsets, enabling a reconnecting
// client to resume without loss or duplication.
//
// Unlike a plain ring buffer, history is kept as the recorded
// (offset, payload) segments so replay can be re-framed exactly. The
// budget is bytes of payload per stream, not a frame count — terminal
// output volume is the limiting resource. Eviction is strictly
// oldest-first, whole segments at a time.
//
// All methods are safe for concurrent use. History performs no I/O.
type History struct {
	mutex   sync.Mutex
	budget  int
	streams map[uint32]*streamState
}

// streamState is the retained history of one logical byte stream.
// Invariant: segments are contiguous and monotonically increasing in
// offset, and nextOffset equals the offset immediately following the
// last recorded byte.
type streamState struct {
	nextOffset uint64
	segments   []segment
	bytes      int
}

// segment is one recorded output frame's worth of stream bytes.
type segment struct {
	offset  uint64
	payload []byte
}

// Replay is the outcome of a replay request.
type Replay struct {
	// Complete is true when every byte from the requested offset is
	// still retained: Frames covers [since, nextOffset) exactly.
	// When false, the requested offset predates the retained window;
	// GapStart is the oldest retained offset and Frames covers
	// [GapStart, nextOffset). The consumer must treat its local state
	// before GapStart as stale.
	Complete bool
	GapStart uint64
	Frames   []Frame
}

// NewHistory creates a replay buffer with the given per-stream byte
// budget. Use DefaultHistoryBudget for the standard 1 MB.
func NewHistory(budget int) *History {
	if budget <= 0 {
		budget = DefaultHistoryBudget
	}
	return &History{
		budget:  budget,
		streams: make(map[uint32]*streamState),
	}
}

// Record appends output bytes to a stream's history. The stream is
// created on its first frame, baselined at that frame's offset. Every
// subsequent frame must continue exactly where the history ends:
// out-of-order or overlapping offsets are a protocol violation and are
// rejected with an error, never silently reordered. The caller closes
// the offending connection.
func (h *History) Record(streamID uint32, offset uint64, payload []byte) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	stream, ok := h.streams[streamID]
	if !ok {
		stream = &streamState{nextOffset: offset}
		h.streams[streamID] = stream
	}

	if offset != stream.nextOffset {
		if offset > stream.nextOffset {
			return fmt.Errorf("stream %d: offset %d leaves a gap after %d", streamID, offset, stream.nextOffset)
		}
		return fmt.Errorf("stream %d: offset %d overlaps history ending at %d", streamID, offset, stream.nextOffset)
	}

	if len(payload) == 0 {
		return nil
	}

	recorded := make([]byte, len(payload))
	copy(recorded, payload)
	stream.segments = append(stream.segments, segment{offset: offset, payload: recorded})
	stream.bytes += len(recorded)
	stream.nextOffset = offset + uint64(len(recorded))

	// Evict oldest-first until within budget. The newest segment is
	// always retained, even when it alone exceeds the budget.
	for stream.bytes > h.budget && len(stream.segments) > 1 {
		oldest := stream.segments[0]
		stream.segments = stream.segments[1:]
		stream.bytes -= len(oldest.payload)
	}

	return nil
}

// end returns the offset immediately following the last recorded byte
// of the stream. Zero for unknown streams.
func (h *History) end(streamID uint32) uint64 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if stream, ok := h.streams[streamID]; ok {
		return stream.nextOffset
	}
	return 0
}

// ReplayFrom builds the catch-up sequence for a client resuming at
// since. Frames come back Replay-flagged, in offset order, one frame
// per retained segment (the first may be trimmed to start exactly at
// since). Requesting an offset beyond the recorded end is an error —
// the client claims to have seen bytes this session never produced.
func (h *History) ReplayFrom(streamID uint32, since uint64) (Replay, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	stream, ok := h.streams[streamID]
	if !ok {
		if since > 0 {
			// Nothing retained for this stream; whatever the client
			// had predates this session's recorded history entirely.
			return Replay{Complete: false, GapStart: 0}, nil
		}
		return Replay{Complete: true}, nil
	}

	if since > stream.nextOffset {
		return Replay{}, fmt.Errorf("stream %d: replay offset %d beyond recorded end %d", streamID, since, stream.nextOffset)
	}

	oldest := stream.nextOffset
	if len(stream.segments) > 0 {
		oldest = stream.segments[0].offset
	}

	result := Replay{Complete: true}
	from := since
	if since < oldest {
		result.Complete = false
		result.GapStart = oldest
		from = oldest
	}

	for _, seg := range stream.segments {
		end := seg.offset + uint64(len(seg.payload))
		if end <= from {
			continue
		}
		payload := seg.payload
		offset := seg.offset
		if offset < from {
			payload = payload[from-offset:]
			offset = from
		}
		result.Frames = append(result.Frames, Frame{
			Channel:     ChannelTerminal,
			MessageType: MessageTypeOutputUTF8,
			StreamID:    streamID,
			Offset:      offset,
			Flags:       FlagReplay,
			Payload:     payload,
		})
	}

	return result, nil
}
