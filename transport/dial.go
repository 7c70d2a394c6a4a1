// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/porthole-project/porthole/relay"
)

// Client is an established client-side relay connection. The zero
// value is not usable; Dial returns a ready one.
type Client struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

// Dial connects to a relay endpoint and performs the handshake. url
// is the full WebSocket URL (ws:// or wss://). The returned Client is
// attached under the given attachment and ready for Send/Receive.
func Dial(ctx context.Context, url string, attachment relay.Attachment) (*Client, error) {
	if err := attachment.Validate(); err != nil {
		return nil, err
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	handshake, err := relay.EncodeAttachment(attachment)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, handshake); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("sending attachment: %w", err)
	}

	return &Client{ws: ws, writeTimeout: DefaultWriteTimeout}, nil
}

// Send transmits one relay message: an encoded mux frame on a V2
// connection, opaque bytes on a V1 connection.
func (c *Client) Send(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Receive blocks for the next relay message.
func (c *Client) Receive() ([]byte, error) {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close shuts the connection down politely.
func (c *Client) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}
