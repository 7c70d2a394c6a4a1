// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"fmt"
	"time"

	"github.com/porthole-project/porthole/lib/codec"
)

// Role identifies which side of a session a physical connection
// represents.
type Role uint8

const (
	// RoleServer is the agent daemon side: the single authoritative
	// source of terminal output for a session.
	RoleServer Role = 1

	// RoleClient is an app side: a consumer of terminal output and a
	// producer of input.
	RoleClient Role = 2
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Version is the relay protocol generation a connection speaks. Both
// generations coexist within one registry; a session may even hold a
// V1 client and V2 clients at once during a rollout.
type Version uint8

const (
	// V1 pairs exactly one server connection with exactly one client
	// connection. No fan-out; a second client supersedes the first.
	V1 Version = 1

	// V2 pairs one server control connection with any number of
	// client connections, each distinguished by a connection ID.
	V2 Version = 2
)

func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return fmt.Sprintf("version(%d)", uint8(v))
	}
}

// Attachment is the metadata a physical connection carries at
// handshake time. The transport layer delivers it out-of-band (the
// first binary message on the WebSocket) before any mux traffic.
//
// Fields use cbor tags: attachments are only ever serialized as CBOR,
// never JSON.
type Attachment struct {
	// ServerID groups all connections belonging to one logical relay
	// session.
	ServerID string `cbor:"server_id"`

	// Role is the side this connection represents.
	Role Role `cbor:"role"`

	// Version is the protocol generation this connection speaks.
	Version Version `cbor:"version"`

	// ConnectionID distinguishes sibling client connections under V2.
	// Required and unique among siblings for V2 clients; ignored for
	// V1 and for servers.
	ConnectionID string `cbor:"connection_id,omitempty"`

	// CreatedAt is when the external layer established the
	// connection. Informational; the relay never compares it.
	CreatedAt time.Time `cbor:"created_at,omitempty"`

	// Resume carries the per-stream offsets a reconnecting client has
	// already seen. The engine replays each stream from its offset
	// before admitting the client to live traffic. V2 clients only:
	// replay arrives as mux frames, which a V1 connection cannot
	// parse. Ignored for servers.
	Resume map[uint32]uint64 `cbor:"resume,omitempty"`
}

// Validate checks the attachment's internal consistency. The transport
// rejects the connection before it ever reaches the registry when this
// fails.
func (a Attachment) Validate() error {
	if a.ServerID == "" {
		return fmt.Errorf("attachment: server_id is required")
	}
	if a.Role != RoleServer && a.Role != RoleClient {
		return fmt.Errorf("attachment: unknown role %d", uint8(a.Role))
	}
	if a.Version != V1 && a.Version != V2 {
		return fmt.Errorf("attachment: unknown version %d", uint8(a.Version))
	}
	if a.Version == V2 && a.Role == RoleClient && a.ConnectionID == "" {
		return fmt.Errorf("attachment: v2 client requires a connection_id")
	}
	if a.Version == V1 && a.Role == RoleClient && len(a.Resume) > 0 {
		return fmt.Errorf("attachment: v1 clients cannot carry resume offsets")
	}
	return nil
}

// EncodeAttachment serializes an attachment for the handshake message.
func EncodeAttachment(a Attachment) ([]byte, error) {
	return codec.Marshal(a)
}

// DecodeAttachment parses a handshake message. Unknown fields are
// ignored so an older relay accepts attachments from a newer daemon.
func DecodeAttachment(data []byte) (Attachment, error) {
	var a Attachment
	if err := codec.Unmarshal(data, &a); err != nil {
		return Attachment{}, fmt.Errorf("decode attachment: %w", err)
	}
	return a, nil
}
