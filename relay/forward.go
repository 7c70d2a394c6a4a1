// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/porthole-project/porthole/lib/clock"
)

// DefaultOutboundQueueLength bounds each connection's outbound queue.
// At a typical terminal output rate a queue this deep absorbs multiple
// seconds of burst before a consumer is declared slow.
const DefaultOutboundQueueLength = 256

// EngineOptions configures an Engine. The zero value picks the real
// clock and the package defaults throughout.
type EngineOptions struct {
	// Clock drives the attach grace period. Tests inject a fake.
	Clock clock.Clock

	// GracePeriod is how long a session may lack a server before it
	// is reaped. Defaults to DefaultGracePeriod.
	GracePeriod time.Duration

	// HistoryBudget caps retained replay bytes per session. Defaults
	// to DefaultHistoryBudget.
	HistoryBudget int

	// OutboundQueueLength bounds each connection's outbound queue.
	// Defaults to DefaultOutboundQueueLength.
	OutboundQueueLength int

	// OnClose, when set, is invoked once per connection the engine
	// closes or observes closing, after the transport Conn is closed.
	// Called from forwarding goroutines: keep it non-blocking.
	OnClose func(Attachment, CloseReason)

	Logger *slog.Logger
}

// Engine is the relay core: it owns the session registry and moves
// bytes between attached connections. The transport layer drives it
// with one goroutine per connection — Attach once, then HandleOpaque
// and HandleMux for each inbound message in arrival order, then
// Detach when the connection dies. The engine never blocks a caller
// on another connection's I/O.
type Engine struct {
	registry    *registry
	queueLength int
	onClose     func(Attachment, CloseReason)
	logger      *slog.Logger
}

// NewEngine builds an Engine.
func NewEngine(options EngineOptions) *Engine {
	if options.GracePeriod <= 0 {
		options.GracePeriod = DefaultGracePeriod
	}
	if options.HistoryBudget <= 0 {
		options.HistoryBudget = DefaultHistoryBudget
	}
	if options.OutboundQueueLength <= 0 {
		options.OutboundQueueLength = DefaultOutboundQueueLength
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	e := &Engine{
		queueLength: options.OutboundQueueLength,
		onClose:     options.OnClose,
		logger:      options.Logger,
	}
	e.registry = newRegistry(options.Clock, options.GracePeriod, options.HistoryBudget, options.Logger)
	return e
}

// Attach registers a validated connection with its session, creating
// the session if this is its first connection. For clients carrying
// resume offsets the requested replay is queued before Attach
// returns, ahead of any live traffic, so the client's view of each
// stream stays contiguous.
//
// The returned Link identifies the connection to HandleOpaque,
// HandleMux, and Detach. Its Done channel closes when the engine has
// shut the connection down.
func (e *Engine) Attach(conn Conn, attachment Attachment) (*Link, error) {
	if err := attachment.Validate(); err != nil {
		return nil, err
	}

	l := newLink(conn, attachment, e.queueLength, e.linkClosed)
	recordAttach(attachment)

	var admit func(*session) error
	if attachment.Role == RoleClient {
		admit = func(s *session) error { return e.admitClient(s, l) }
	}
	if err := e.registry.attach(l, admit); err != nil {
		e.registry.detach(l)
		l.close(ReasonProtocolViolation)
		return nil, err
	}

	e.logger.Info("connection attached",
		"server_id", attachment.ServerID,
		"role", attachment.Role.String(),
		"version", attachment.Version.String(),
		"connection_id", attachment.ConnectionID)
	return l, nil
}

// admitClient replays the streams a resuming client asked for and
// flips it live. Runs with the session mutex held: between the replay
// enqueue and the live transition nothing else can enqueue to this
// Link, which is the whole replay-before-live guarantee.
func (e *Engine) admitClient(s *session, l *Link) error {
	l.state = stateReplaying
	for streamID, since := range l.attachment.Resume {
		replay, err := s.history.ReplayFrom(streamID, since)
		if err != nil {
			return fmt.Errorf("resume stream %d for %s: %w", streamID, describe(l.attachment), err)
		}
		if !replay.Complete {
			e.enqueueFrame(s, l, NewReplayGapFrame(streamID, replay.GapStart))
			recordReplay(replayPartial)
		} else {
			recordReplay(replayFull)
		}
		for _, frame := range replay.Frames {
			e.enqueueFrame(s, l, frame)
		}
	}
	l.state = stateLive
	return nil
}

// Detach removes a connection from its session and closes it. Called
// by the transport when its read loop exits; also safe to call for a
// Link the engine already closed (supersede, slow consumer), where it
// degrades to a no-op on the registry and an idempotent close.
func (e *Engine) Detach(l *Link) {
	e.registry.detach(l)
	l.close(ReasonPeerClosed)
}

// HandleOpaque forwards a V1 opaque payload to the peer side of the
// session, byte-for-byte. Server payloads go to the V1 client seat
// and client payloads go to the server. Opaque traffic flows only
// between V1 endpoints: a V2 peer speaks mux framing and would
// misread the bytes, so a cross-generation payload is dropped. No
// recording, no inspection: V1 history and replay are the endpoints'
// business.
func (e *Engine) HandleOpaque(l *Link, data []byte) {
	s := e.registry.lookup(l)
	if s == nil {
		return
	}

	var target *Link
	s.mutex.Lock()
	if !s.destroyed {
		if l.attachment.Role == RoleServer && s.server == l {
			target = s.clientV1
		} else if l.attachment.Role == RoleClient {
			target = s.server
		}
		if target != nil && target.attachment.Version != V1 {
			target = nil
		}
		if target != nil && !target.enqueue(data) {
			e.dropSlow(s, target)
		}
	}
	s.mutex.Unlock()
	if target != nil {
		recordForward(len(data), 1)
	}
}

// HandleMux routes one V2 mux frame. Server output is recorded into
// session history exactly once, then fanned out to live clients with
// the replay flag cleared; client input is forwarded to the server
// untouched. Malformed bytes close the sending connection with
// ReasonMalformedFrame; a structurally valid frame that breaks stream
// contiguity closes it with ReasonProtocolViolation. Either way the
// session and its other connections are unaffected.
func (e *Engine) HandleMux(l *Link, data []byte) {
	frame, err := DecodeFrameStrict(data)
	if err != nil {
		e.logger.Warn("malformed frame",
			"server_id", l.attachment.ServerID,
			"role", l.attachment.Role.String(),
			"error", err)
		e.closeAndDetach(l, ReasonMalformedFrame)
		return
	}

	s := e.registry.lookup(l)
	if s == nil {
		return
	}

	if l.attachment.Role == RoleServer {
		e.forwardServerFrame(s, l, frame)
		return
	}
	e.forwardClientFrame(s, l, frame)
}

// forwardServerFrame records server output and fans it out to every
// live client in one critical section. Record and enqueue under the
// same lock as client admission, so a resuming client either sees a
// frame in its replay or receives it live, never both, never neither.
func (e *Engine) forwardServerFrame(s *session, l *Link, frame Frame) {
	frame.Flags &^= FlagReplay

	fanout := 0
	s.mutex.Lock()
	if s.destroyed || s.server != l {
		s.mutex.Unlock()
		return
	}
	if frame.MessageType == MessageTypeOutputUTF8 {
		if err := s.history.Record(frame.StreamID, frame.Offset, frame.Payload); err != nil {
			s.mutex.Unlock()
			e.logger.Warn("server broke stream contiguity",
				"server_id", l.attachment.ServerID,
				"stream_id", frame.StreamID,
				"offset", frame.Offset,
				"error", err)
			e.closeAndDetach(l, ReasonProtocolViolation)
			return
		}
	}
	for _, client := range s.clientsLocked() {
		if client.attachment.Version != V2 || client.state != stateLive {
			continue
		}
		e.enqueueFrame(s, client, frame)
		fanout++
	}
	s.mutex.Unlock()
	recordForward(len(frame.Payload), fanout)
}

// forwardClientFrame sends client input to the server. Dropped when
// no server is attached, or when the attached server speaks V1 and
// would misread a mux frame: input has no replay semantics, and a
// client typing at a dead session learns about it from the resume
// flow.
func (e *Engine) forwardClientFrame(s *session, l *Link, frame Frame) {
	s.mutex.Lock()
	server := s.server
	if s.destroyed || (server != nil && server.attachment.Version != V2) {
		server = nil
	}
	if server != nil {
		e.enqueueFrame(s, server, frame)
	}
	s.mutex.Unlock()
	if server != nil {
		recordForward(len(frame.Payload), 1)
	}
}

// enqueueFrame encodes and enqueues one frame, closing the target as
// a slow consumer on overflow. Caller holds the session mutex.
func (e *Engine) enqueueFrame(s *session, target *Link, frame Frame) {
	if !target.enqueue(EncodeFrame(frame)) {
		e.dropSlow(s, target)
	}
}

// dropSlow evicts an overflowing connection. Caller holds the session
// mutex; the slot is cleared inline so subsequent fan-out in the same
// critical section skips it, and the Link close needs no locks.
//
// A slow server takes its whole session with it, exactly as a server
// detach would: the grace timer stopped at server attach, so a session
// left serverless here would never be reaped. The transport's later
// Detach for the dead link finds no session and stays a no-op.
func (e *Engine) dropSlow(s *session, target *Link) {
	if s.server == target {
		orphans := s.clientsLocked()
		s.destroyLocked()
		e.registry.remove(s)
		target.close(ReasonSlowConsumer)
		for _, orphan := range orphans {
			orphan.close(ReasonServerGone)
		}
		e.logger.Warn("slow server dropped, session destroyed",
			"server_id", target.attachment.ServerID,
			"clients_closed", len(orphans))
		return
	}
	if s.clientV1 == target {
		s.clientV1 = nil
	} else if s.clients[target.attachment.ConnectionID] == target {
		delete(s.clients, target.attachment.ConnectionID)
	}
	target.close(ReasonSlowConsumer)
	e.logger.Warn("slow consumer dropped",
		"server_id", target.attachment.ServerID,
		"role", target.attachment.Role.String(),
		"connection_id", target.attachment.ConnectionID)
}

// closeAndDetach closes a misbehaving connection and removes it from
// its session immediately rather than waiting for the transport's
// detach, so a violating server tears its session down promptly.
func (e *Engine) closeAndDetach(l *Link, reason CloseReason) {
	e.registry.detach(l)
	l.close(reason)
}

// SessionCount reports the number of live sessions.
func (e *Engine) SessionCount() int { return e.registry.sessionCount() }

// linkClosed is every Link's onClose hook.
func (e *Engine) linkClosed(attachment Attachment, reason CloseReason) {
	recordClose(attachment, reason)
	if e.onClose != nil {
		e.onClose(attachment, reason)
	}
}
