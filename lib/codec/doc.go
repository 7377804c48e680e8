// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single place gametune encodes and decodes CBOR.
// The daemon and launcher exchange one CBOR request/response pair per
// Unix-socket connection; both sides import this package rather than
// configuring fxamacker/cbor themselves, so the wire encoding cannot
// drift between binaries.
package codec
