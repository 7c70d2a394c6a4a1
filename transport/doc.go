// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries relay sessions over WebSocket. It owns
// everything the relay core is agnostic to: the HTTP upgrade, the
// handshake (first binary message is a CBOR-encoded
// relay.Attachment), read limits and write deadlines, and the
// per-connection read pump that feeds the engine.
//
// All relay traffic after the handshake travels in binary WebSocket
// messages. How a message is interpreted follows from the handshake:
// a V1 connection's payloads are opaque and relayed byte-for-byte, a
// V2 connection's payloads are mux frames. Terminal output is raw
// byte streams with escape sequences, so text messages, which
// WebSocket requires to be valid UTF-8, are never used for data.
package transport
