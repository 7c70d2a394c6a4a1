// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/porthole-project/porthole/lib/clock"
)

// DefaultGracePeriod is how long a session may exist without a server
// connection before it is reaped. Long enough for a daemon restart to
// win the handshake race against its reconnecting clients, short
// enough that abandoned sessions do not pile up.
const DefaultGracePeriod = 30 * time.Second

// session is the logical grouping of connections sharing a serverId:
// at most one server Link, one V1 client seat, and any number of V2
// client links keyed by connection ID. The two protocol generations
// coexist in one session.
//
// mutex serializes all intra-session mutation and forwarding:
// attach/detach, history record/replay, and outbound enqueue all run
// under it, which is what makes attach-while-forwarding races unable
// to produce duplicate or missing offsets. Cross-session operations
// share no state beyond the registry's map and scale independently.
type session struct {
	serverID string

	mutex    sync.Mutex
	server   *Link
	clientV1 *Link
	clients  map[string]*Link
	history  *History

	// grace pends while no server is attached; stopped on server
	// attach, fired means the session is reaped.
	grace *clock.Timer

	// destroyed marks a session already torn down (server detached or
	// grace expired). Slots are empty and stay empty.
	destroyed bool
}

// clientsLocked returns all attached client links. Caller holds mutex.
func (s *session) clientsLocked() []*Link {
	var out []*Link
	if s.clientV1 != nil {
		out = append(out, s.clientV1)
	}
	for _, l := range s.clients {
		out = append(out, l)
	}
	return out
}

// registry tracks which physical connections belong to which logical
// relay session. It exclusively owns session objects: sessions are
// created on first attachment under a serverId and destroyed when the
// server detaches or the attach grace period expires.
//
// The registry's own mutex guards only the serverId map; everything
// inside a session is guarded by the session's mutex, so the registry
// never becomes a relay-wide bottleneck.
type registry struct {
	mutex    sync.RWMutex
	sessions map[string]*session

	clk           clock.Clock
	gracePeriod   time.Duration
	historyBudget int
	logger        *slog.Logger
}

func newRegistry(clk clock.Clock, gracePeriod time.Duration, historyBudget int, logger *slog.Logger) *registry {
	if clk == nil {
		clk = clock.Real()
	}
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &registry{
		sessions:      make(map[string]*session),
		clk:           clk,
		gracePeriod:   gracePeriod,
		historyBudget: historyBudget,
		logger:        logger,
	}
}

// attach inserts l into its session, creating the session on first
// attachment under the serverId. A connection occupying the slot l
// claims is closed with ReasonSuperseded: one authoritative server per
// session, one V1 client seat, and one Link per V2 connection ID.
//
// admit runs with the session mutex held, after the slot is filled.
// The engine uses it to queue a resuming client's replay before any
// live frame can be queued; an admit error leaves the Link in its
// slot (the caller closes it, and detach cleans up).
func (r *registry) attach(l *Link, admit func(s *session) error) error {
	for {
		s := r.getOrCreate(l.attachment.ServerID)

		s.mutex.Lock()
		if s.destroyed {
			// Lost a race with the reaper or a server detach between
			// map lookup and lock. The session is gone from the map;
			// start over with a fresh one.
			s.mutex.Unlock()
			continue
		}

		var superseded *Link
		switch {
		case l.attachment.Role == RoleServer:
			superseded = s.server
			s.server = l
			if s.grace != nil {
				s.grace.Stop()
				s.grace = nil
			}
		case l.attachment.Version == V1:
			superseded = s.clientV1
			s.clientV1 = l
		default:
			connectionID := l.attachment.ConnectionID
			superseded = s.clients[connectionID]
			s.clients[connectionID] = l
		}

		if superseded != nil {
			superseded.close(ReasonSuperseded)
		}

		var admitErr error
		if admit != nil {
			admitErr = admit(s)
		}
		s.mutex.Unlock()

		if superseded != nil {
			r.logger.Info("connection superseded",
				"server_id", l.attachment.ServerID,
				"role", l.attachment.Role.String(),
				"connection_id", l.attachment.ConnectionID)
		}
		return admitErr
	}
}

// detach removes l from its session. Idempotent: a Link already
// removed (superseded, or its session already destroyed) is a no-op.
// Detaching the server destroys the whole session — replay history
// included — and closes every client with ReasonServerGone; detaching
// a client leaves its siblings untouched.
func (r *registry) detach(l *Link) {
	r.mutex.RLock()
	s := r.sessions[l.attachment.ServerID]
	r.mutex.RUnlock()
	if s == nil {
		return
	}

	s.mutex.Lock()
	if s.destroyed {
		s.mutex.Unlock()
		return
	}

	if s.server == l {
		orphans := s.clientsLocked()
		s.destroyLocked()
		s.mutex.Unlock()

		r.remove(s)
		for _, orphan := range orphans {
			orphan.close(ReasonServerGone)
		}
		r.logger.Info("session destroyed, server detached",
			"server_id", s.serverID, "clients_closed", len(orphans))
		return
	}

	if s.clientV1 == l {
		s.clientV1 = nil
	} else if s.clients[l.attachment.ConnectionID] == l {
		delete(s.clients, l.attachment.ConnectionID)
	}
	s.mutex.Unlock()
}

// destroyLocked empties the session and marks it dead. Caller holds
// the session mutex and removes it from the map afterwards.
func (s *session) destroyLocked() {
	s.destroyed = true
	s.server = nil
	s.clientV1 = nil
	s.clients = make(map[string]*Link)
	s.history = nil
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
}

// getOrCreate returns the session for serverID, creating it — with a
// pending grace timer, since it starts serverless — on first use.
func (r *registry) getOrCreate(serverID string) *session {
	r.mutex.RLock()
	s := r.sessions[serverID]
	r.mutex.RUnlock()
	if s != nil {
		return s
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if s = r.sessions[serverID]; s != nil {
		return s
	}
	s = &session{
		serverID: serverID,
		clients:  make(map[string]*Link),
		history:  NewHistory(r.historyBudget),
	}
	s.grace = r.clk.AfterFunc(r.gracePeriod, func() { r.reap(s) })
	r.sessions[serverID] = s
	return s
}

// reap destroys a session whose server never attached within the
// grace period. Clients that attached in the meantime are closed with
// ReasonSessionReaped; they re-attach and wait out the next grace
// window if their server is merely slow.
func (r *registry) reap(s *session) {
	s.mutex.Lock()
	if s.destroyed || s.server != nil {
		s.mutex.Unlock()
		return
	}
	orphans := s.clientsLocked()
	s.destroyLocked()
	s.mutex.Unlock()

	r.remove(s)
	for _, orphan := range orphans {
		orphan.close(ReasonSessionReaped)
	}
	r.logger.Info("session reaped, server never attached",
		"server_id", s.serverID, "clients_closed", len(orphans))
}

// remove deletes s from the map if it is still the registered session
// for its serverId. A successor session created after destruction is
// left alone.
func (r *registry) remove(s *session) {
	r.mutex.Lock()
	if r.sessions[s.serverID] == s {
		delete(r.sessions, s.serverID)
	}
	r.mutex.Unlock()
}

// lookup returns the session a Link belongs to, or nil.
func (r *registry) lookup(l *Link) *session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.sessions[l.attachment.ServerID]
}

// sessionCount returns the number of live sessions.
func (r *registry) sessionCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}

// describe returns a human-readable slot name for error messages.
func describe(a Attachment) string {
	if a.Role == RoleServer {
		return fmt.Sprintf("server %q", a.ServerID)
	}
	if a.Version == V1 {
		return fmt.Sprintf("v1 client of %q", a.ServerID)
	}
	return fmt.Sprintf("v2 client %q of %q", a.ConnectionID, a.ServerID)
}
