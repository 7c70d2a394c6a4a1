// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

func TestIsExpectedCloseError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read frame: %w", io.EOF), true},
		{"net closed", net.ErrClosed, true},
		{"epipe", syscall.EPIPE, true},
		{"econnreset", &net.OpError{Op: "write", Err: syscall.ECONNRESET}, true},
		{"econnrefused", syscall.ECONNREFUSED, false},
		{"generic", errors.New("handshake rejected"), false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsExpectedCloseError(tc.err); got != tc.want {
				t.Errorf("IsExpectedCloseError(%v): got %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
