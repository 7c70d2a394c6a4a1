// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Porthole packages.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests do not need direct time.After calls. Relay tests use these to
// wait on close-reason callbacks and delivered frames without risking
// an indefinite hang when a delivery path breaks.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no Porthole-internal dependencies.
package testutil
