// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWriteTimeout bounds a single WebSocket write. A peer that
// cannot absorb one message within this window is treated as a failed
// send; the engine's slow-consumer handling deals with sustained
// backpressure before it ever gets this far.
const DefaultWriteTimeout = 10 * time.Second

// wsConn adapts a *websocket.Conn to relay.Conn. gorilla/websocket
// permits one concurrent writer; the engine already serializes writes
// through the per-connection writer goroutine, and the mutex keeps
// control frames sent during Close from interleaving with a data
// write.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mutex     sync.Mutex
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &wsConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *wsConn) Send(data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mutex.Lock()
		deadline := time.Now().Add(time.Second)
		_ = c.ws.SetWriteDeadline(deadline)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.mutex.Unlock()
		err = c.ws.Close()
	})
	return err
}
