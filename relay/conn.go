// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import "sync"

// Conn is the abstract duplex message connection the relay core
// drives. The transport layer (WebSocket in production, in-memory
// pipes in tests) owns the handshake, TLS, and any end-to-end
// encryption; it hands the core an established Conn plus a decoded
// Attachment, feeds inbound messages to Engine.Handle, and calls
// Engine.Detach when the connection dies.
//
// Send may block briefly on transport I/O but is always called from
// the connection's dedicated writer goroutine, never from the
// forwarding path. Close must be safe to call multiple times and
// concurrently with Send.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// CloseReason says why the relay closed a connection. Surfaced to the
// external layer for logging and telemetry; the wire carries no
// reason, so reconnecting clients rely on the resume flow rather than
// on interpreting the close.
type CloseReason int

const (
	// ReasonPeerClosed: the remote side closed the connection; the
	// relay is tidying up, not acting.
	ReasonPeerClosed CloseReason = iota + 1

	// ReasonSuperseded: a newer connection claimed this connection's
	// slot (same server, same V1 client seat, or same V2 connection
	// ID).
	ReasonSuperseded

	// ReasonServerGone: the session's server connection detached, so
	// every client is cut loose and the session is destroyed.
	ReasonServerGone

	// ReasonMalformedFrame: the connection sent bytes the frame codec
	// rejects. Structural violation; the session survives.
	ReasonMalformedFrame

	// ReasonProtocolViolation: a structurally valid frame broke
	// session rules — stream offset contiguity, most commonly.
	ReasonProtocolViolation

	// ReasonSlowConsumer: the connection's bounded outbound queue
	// overflowed. Closing it protects the rest of the session from
	// backpressure.
	ReasonSlowConsumer

	// ReasonSessionReaped: the session's server never attached within
	// the grace period.
	ReasonSessionReaped

	// ReasonSendFailed: the transport write failed mid-stream.
	ReasonSendFailed
)

func (r CloseReason) String() string {
	switch r {
	case ReasonPeerClosed:
		return "peer-closed"
	case ReasonSuperseded:
		return "superseded"
	case ReasonServerGone:
		return "server-gone"
	case ReasonMalformedFrame:
		return "malformed-frame"
	case ReasonProtocolViolation:
		return "protocol-violation"
	case ReasonSlowConsumer:
		return "slow-consumer"
	case ReasonSessionReaped:
		return "session-reaped"
	case ReasonSendFailed:
		return "send-failed"
	default:
		return "unknown"
	}
}

// clientState is the explicit per-client admission state machine. A
// client is attached but not yet receiving live fan-out until its
// requested replay has been queued; the transition happens under the
// session lock, so no live frame can be queued before the replay that
// must precede it.
type clientState int

const (
	stateAttaching clientState = iota
	stateReplaying
	stateLive
)

// Link is an attached connection: the Conn, its attachment, and the
// bounded outbound queue with its writer goroutine. Fan-out enqueues
// without blocking; the writer drains to the transport at the
// transport's pace. One slow Link can therefore overflow only its own
// queue.
type Link struct {
	conn       Conn
	attachment Attachment

	queue chan []byte

	// done is closed exactly once when the Link shuts down, stopping
	// the writer goroutine and unblocking anyone waiting on Done.
	done      chan struct{}
	closeOnce sync.Once

	// reason is set before done is closed and immutable afterwards.
	reason CloseReason

	// state is guarded by the owning session's mutex. Meaningful only
	// for client links; server links are always live.
	state clientState

	onClose func(Attachment, CloseReason)
}

// newLink wraps an accepted connection and starts its writer
// goroutine. queueLength bounds the outbound queue; onClose is invoked
// once, after the transport Conn has been closed.
func newLink(conn Conn, attachment Attachment, queueLength int, onClose func(Attachment, CloseReason)) *Link {
	l := &Link{
		conn:       conn,
		attachment: attachment,
		queue:      make(chan []byte, queueLength),
		done:       make(chan struct{}),
		onClose:    onClose,
	}
	go l.writeLoop()
	return l
}

// writeLoop drains the outbound queue into the transport. Exits when
// the Link closes or a transport write fails.
func (l *Link) writeLoop() {
	for {
		select {
		case <-l.done:
			return
		case data := <-l.queue:
			if err := l.conn.Send(data); err != nil {
				l.close(ReasonSendFailed)
				return
			}
		}
	}
}

// enqueue adds data to the outbound queue without blocking. Returns
// false when the queue is full; the caller closes the Link with
// ReasonSlowConsumer. Data enqueued after the Link closed is silently
// dropped (the writer is gone), which is the correct behavior for a
// connection already being torn down.
func (l *Link) enqueue(data []byte) bool {
	select {
	case <-l.done:
		return true
	default:
	}
	select {
	case l.queue <- data:
		return true
	default:
		return false
	}
}

// close shuts the Link down. Idempotent and safe to call concurrently
// with in-flight forwarding: the first caller's reason wins, the
// transport Conn is closed exactly once, and the onClose callback runs
// exactly once.
func (l *Link) close(reason CloseReason) {
	l.closeOnce.Do(func() {
		l.reason = reason
		close(l.done)
		_ = l.conn.Close()
		if l.onClose != nil {
			l.onClose(l.attachment, reason)
		}
	})
}

// Done returns a channel closed when the Link has shut down.
func (l *Link) Done() <-chan struct{} { return l.done }
