// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// failer is the subset of testing.TB the helpers use.
type failer interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive reads one value from ch within timeout, or fails the
// test. Relay tests wait on close-reason callbacks and delivered
// frames through this: a broken delivery path fails with the caller's
// message instead of hanging the run.
//
//	frame := testutil.RequireReceive(t, delivered, 5*time.Second, "waiting for frame")
func RequireReceive[T any](t failer, ch <-chan T, timeout time.Duration, msgAndArgs ...any) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without sending a value: %s", message(msgAndArgs))
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, message(msgAndArgs))
	}
	panic("unreachable")
}

// RequireClosed waits for ch to close (or deliver a value) within
// timeout, or fails the test. Teardown channels signal by closing, so
// this is the assertion for "the connection shut down".
//
//	testutil.RequireClosed(t, conn.Done(), 5*time.Second, "connection closed")
func RequireClosed(t failer, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for channel close: %s", timeout, message(msgAndArgs))
	}
}

// message renders the trailing msgAndArgs: a lone string passes
// through untouched, a string followed by arguments is a format.
func message(args []any) string {
	if len(args) == 0 {
		return "(no message)"
	}
	if format, ok := args[0].(string); ok {
		if len(args) == 1 {
			return format
		}
		return fmt.Sprintf(format, args[1:]...)
	}
	return fmt.Sprint(args...)
}
