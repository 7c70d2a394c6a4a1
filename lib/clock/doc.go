// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of
// calling time.Now, time.After, or time.AfterFunc directly. In
// production, Real() provides the standard library behavior. In tests,
// Fake() provides a deterministic clock that advances only when
// Advance is called.
//
// The relay's session registry uses AfterFunc for its grace-period
// reaper: a session whose server never attaches is scheduled for
// destruction, and the timer is cancelled when the server arrives.
// Tests drive this with Fake().WaitForTimers followed by Advance,
// which removes all wall-clock sleeps from the reaper tests.
package clock
