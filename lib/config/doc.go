// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the Porthole
// relay daemon.
//
// Configuration is loaded from a single file specified by either the
// PORTHOLE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches.
//
// The relay protocol deliberately leaves its resource policies
// unbound: replay history budget, attach grace period, outbound queue
// length, and read limits are deployment decisions, not wire
// contracts. They all live here, with defaults suitable for a
// single-machine development relay.
//
// Key exports:
//
//   - [Config] -- master struct with Listen and Relay sections
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Porthole packages.
package config
