// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package esp

import "errors"

// Error taxonomy emitted by the ESP packet engine. Every failure the
// core itself detects is one of these, possibly wrapped with %w around
// more context (the offending field, the computed lengths, ...).
// Errors returned by the external KDF or cipher key collaborators are
// wrapped with context and passed through instead.
var (
	// ErrNullPointer reports a required argument that was missing
	// (a nil context, nil payload, nil buffer).
	ErrNullPointer = errors.New("esp: null pointer")

	// ErrInvalidValue reports an out-of-range argument: an SPI <=
	// 255, a TFC length outside [256, 65535], a payload longer than
	// 65535 bytes, a TFC target too small for the payload, or a
	// sequence number rejected by the sliding window.
	ErrInvalidValue = errors.New("esp: invalid value")

	// ErrUndefinedValue reports an operation that requires a
	// transform, or the root key of the direction in use, to be
	// installed first.
	ErrUndefinedValue = errors.New("esp: undefined transform")

	// ErrZeroLength reports an empty payload where one is required.
	ErrZeroLength = errors.New("esp: zero length payload")

	// ErrLowKeyResource reports that a directional counter has been
	// exhausted (i1 overflowed); the caller must install a new root
	// key for that direction before sending further packets.
	ErrLowKeyResource = errors.New("esp: low key resource")

	// ErrIntegrity reports an AEAD tag mismatch on read; the packet
	// is discarded but the association is otherwise unaffected.
	ErrIntegrity = errors.New("esp: integrity check failed")
)
