// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package esp

// buildNonce constructs the AEAD nonce: one zero byte, the 3-byte
// pnum in network order, then the direction's salt. Its total length
// is 16 bytes for Kuznechik (12-byte salt) or 8 for Magma (4-byte
// salt).
func buildNonce(iv IV, salt []byte) []byte {
	nonce := make([]byte, 4+len(salt))
	nonce[0] = 0
	nonce[1], nonce[2], nonce[3] = iv.Pnum[0], iv.Pnum[1], iv.Pnum[2]
	copy(nonce[4:], salt)
	return nonce
}
