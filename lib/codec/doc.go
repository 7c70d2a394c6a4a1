// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Porthole's standard CBOR encoding
// configuration.
//
// The relay uses CBOR for its control plane: the session attachment
// handshake delivered by the transport layer before any multiplexed
// traffic. Terminal data itself travels in the fixed-header binary mux
// frame format (package relay), never CBOR — the control plane is the
// only place where a self-describing format earns its keep, since
// attachments evolve (new fields for resume offsets, protocol
// versions) while the data plane must stay byte-exact.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every Porthole package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes. The decoder ignores unknown fields for forward compatibility.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
