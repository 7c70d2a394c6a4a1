// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the terminal session relay core: the frame
// codec, the session registry, per-session replay history, and the
// forwarding engine that ties them together.
//
// The relay is transport-agnostic. A transport layer (package
// transport provides the production WebSocket one) performs the
// handshake, hands the engine an established Conn plus its decoded
// Attachment, pumps inbound messages into the engine, and reports the
// detach when the connection dies. Everything between those calls —
// session grouping, supersede semantics, replay, fan-out, and
// misbehavior isolation — lives here.
//
// Two protocol generations share the registry. V1 connections carry
// opaque payloads relayed byte-for-byte between exactly one server
// and one client. V2 connections speak the binary mux framing
// (package-level Frame), which lets one server feed any number of
// clients and lets the relay itself retain output history for
// reconnect replay.
package relay
