// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/porthole-project/porthole/lib/clock"
	"github.com/porthole-project/porthole/lib/testutil"
)

// fakeConn is an in-memory Conn. Sent messages land on a buffered
// channel so tests can assert on delivery order without sleeping.
type fakeConn struct {
	sent chan []byte
	done chan struct{}
	once sync.Once

	// blockSend, when non-nil, stalls Send until the channel is
	// closed. Used to wedge the writer goroutine so the outbound
	// queue fills.
	blockSend chan struct{}

	// failSend makes every Send return an error.
	failSend bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sent: make(chan []byte, 1024),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) Send(data []byte) error {
	if c.blockSend != nil {
		select {
		case <-c.blockSend:
		case <-c.done:
			return errors.New("send on closed fake conn")
		}
	}
	if c.failSend {
		return errors.New("simulated send failure")
	}
	select {
	case c.sent <- data:
		return nil
	case <-c.done:
		return errors.New("send on closed fake conn")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// closeRecorder captures engine close notifications for assertions.
type closeRecorder struct {
	events chan closeEvent
}

type closeEvent struct {
	attachment Attachment
	reason     CloseReason
}

func newCloseRecorder() *closeRecorder {
	return &closeRecorder{events: make(chan closeEvent, 64)}
}

func (r *closeRecorder) record(a Attachment, reason CloseReason) {
	r.events <- closeEvent{attachment: a, reason: reason}
}

// requireClose asserts the next close notification matches reason and
// returns the attachment it was for.
func (r *closeRecorder) requireClose(t *testing.T, reason CloseReason) Attachment {
	t.Helper()
	event := testutil.RequireReceive(t, r.events, 5*time.Second, "close notification")
	if event.reason != reason {
		t.Fatalf("close reason = %v, want %v (connection %s)",
			event.reason, reason, describe(event.attachment))
	}
	return event.attachment
}

// testEngine bundles an engine with a fake clock and close recorder.
type testEngine struct {
	engine *Engine
	clk    *clock.FakeClock
	closes *closeRecorder
}

func newTestEngine(t *testing.T, options EngineOptions) *testEngine {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	closes := newCloseRecorder()
	options.Clock = clk
	options.OnClose = closes.record
	return &testEngine{
		engine: NewEngine(options),
		clk:    clk,
		closes: closes,
	}
}

// attach is the test-side shorthand for a successful Attach.
func (te *testEngine) attach(t *testing.T, a Attachment) (*fakeConn, *Link) {
	t.Helper()
	conn := newFakeConn()
	l, err := te.engine.Attach(conn, a)
	if err != nil {
		t.Fatalf("Attach(%s): %v", describe(a), err)
	}
	return conn, l
}

func serverAttachment(serverID string, version Version) Attachment {
	return Attachment{ServerID: serverID, Role: RoleServer, Version: version}
}

func clientV1Attachment(serverID string) Attachment {
	return Attachment{ServerID: serverID, Role: RoleClient, Version: V1}
}

func clientV2Attachment(serverID, connectionID string) Attachment {
	return Attachment{
		ServerID:     serverID,
		Role:         RoleClient,
		Version:      V2,
		ConnectionID: connectionID,
	}
}

// requireFrame asserts the next message sent to conn decodes as a mux
// frame and returns it.
func requireFrame(t *testing.T, conn *fakeConn, context string) Frame {
	t.Helper()
	data := testutil.RequireReceive(t, conn.sent, 5*time.Second, context)
	frame, err := DecodeFrameStrict(data)
	if err != nil {
		t.Fatalf("%s: decoding sent message: %v", context, err)
	}
	return frame
}

// requireRaw asserts the next message sent to conn equals want.
func requireRaw(t *testing.T, conn *fakeConn, want string, context string) {
	t.Helper()
	data := testutil.RequireReceive(t, conn.sent, 5*time.Second, context)
	if string(data) != want {
		t.Fatalf("%s: sent %q, want %q", context, data, want)
	}
}

// requireNothingSent asserts conn's send channel is empty right now.
func requireNothingSent(t *testing.T, conn *fakeConn, context string) {
	t.Helper()
	select {
	case data := <-conn.sent:
		t.Fatalf("%s: unexpected message sent: %q", context, data)
	default:
	}
}

// outputFrame builds a server output frame.
func outputFrame(streamID uint32, offset uint64, payload string) Frame {
	return Frame{
		Channel:     ChannelTerminal,
		MessageType: MessageTypeOutputUTF8,
		StreamID:    streamID,
		Offset:      offset,
		Payload:     []byte(payload),
	}
}

// inputFrame builds a client input frame.
func inputFrame(streamID uint32, payload string) Frame {
	return Frame{
		Channel:     ChannelTerminal,
		MessageType: MessageTypeInputUTF8,
		StreamID:    streamID,
		Payload:     []byte(payload),
	}
}
