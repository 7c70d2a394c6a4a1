// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/porthole-project/porthole/lib/netutil"
	"github.com/porthole-project/porthole/relay"
)

// DefaultReadLimit caps a single inbound WebSocket message. Generous
// for terminal traffic; anything larger is a broken or hostile peer.
const DefaultReadLimit = 16 << 20

// handshakeTimeout bounds how long an upgraded connection may sit
// silent before sending its attachment.
const handshakeTimeout = 10 * time.Second

// ServerOptions configures a Server. Engine is required; everything
// else has a usable zero value.
type ServerOptions struct {
	Engine *relay.Engine

	// ReadLimit caps inbound message size. Defaults to
	// DefaultReadLimit.
	ReadLimit int64

	// WriteTimeout bounds a single outbound write. Defaults to
	// DefaultWriteTimeout.
	WriteTimeout time.Duration

	// CheckOrigin overrides the upgrader's origin policy. The default
	// accepts any origin: relay endpoints authenticate via the outer
	// deployment (mTLS or a fronting proxy), not the Origin header.
	CheckOrigin func(r *http.Request) bool

	Logger *slog.Logger
}

// Server upgrades HTTP requests to relay connections. It implements
// http.Handler and is mounted wherever the deployment wants the relay
// endpoint to live.
type Server struct {
	engine       *relay.Engine
	upgrader     websocket.Upgrader
	readLimit    int64
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewServer builds a Server around an engine.
func NewServer(options ServerOptions) *Server {
	if options.ReadLimit <= 0 {
		options.ReadLimit = DefaultReadLimit
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = DefaultWriteTimeout
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	checkOrigin := options.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		engine:       options.Engine,
		upgrader:     websocket.Upgrader{CheckOrigin: checkOrigin},
		readLimit:    options.ReadLimit,
		writeTimeout: options.WriteTimeout,
		logger:       options.Logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response.
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(s.readLimit)

	attachment, err := s.handshake(ws)
	if err != nil {
		s.logger.Warn("handshake rejected", "remote", r.RemoteAddr, "error", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}

	conn := newWSConn(ws, s.writeTimeout)
	link, err := s.engine.Attach(conn, attachment)
	if err != nil {
		// Attach closed the conn on failure.
		s.logger.Warn("attach rejected", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.readPump(ws, link, attachment)
}

// handshake reads the attachment message. The first message must be
// binary CBOR; anything else rejects the connection before it touches
// a session.
func (s *Server) handshake(ws *websocket.Conn) (relay.Attachment, error) {
	if err := ws.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return relay.Attachment{}, err
	}
	messageType, data, err := ws.ReadMessage()
	if err != nil {
		return relay.Attachment{}, fmt.Errorf("reading attachment: %w", err)
	}
	if messageType != websocket.BinaryMessage {
		return relay.Attachment{}, fmt.Errorf("attachment must be a binary message, got type %d", messageType)
	}
	attachment, err := relay.DecodeAttachment(data)
	if err != nil {
		return relay.Attachment{}, err
	}
	if err := attachment.Validate(); err != nil {
		return relay.Attachment{}, err
	}
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		return relay.Attachment{}, err
	}
	return attachment, nil
}

// readPump feeds inbound messages to the engine until the connection
// dies, then reports the detach. Runs on the request goroutine; the
// engine guarantees it never blocks on another connection's I/O.
func (s *Server) readPump(ws *websocket.Conn, link *relay.Link, attachment relay.Attachment) {
	opaque := attachment.Version == relay.V1
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if !netutil.IsExpectedCloseError(err) &&
				!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read pump ended", "server_id", attachment.ServerID, "error", err)
			}
			s.engine.Detach(link)
			return
		}
		if messageType != websocket.BinaryMessage {
			// Pings and pongs are handled by gorilla; a text message
			// here is a peer that does not speak the protocol.
			continue
		}
		if opaque {
			s.engine.HandleOpaque(link, data)
		} else {
			s.engine.HandleMux(link, data)
		}
	}
}
