// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package esp

var (
	level1Label = []byte("level1")
	level2Label = []byte("level2")
	level3Label = []byte("level3")
)

// deriveMessageKey computes ESPTREE(K, i1, i2, i3):
//
//	L1 = KDF256(K,  "level1", be16(i1))
//	L2 = KDF256(L1, "level2", be16(i2))
//	MK = KDF256(L2, "level3", be16(i3))
//
// i1 is a single byte but is promoted to a 2-byte big-endian value to
// match the KDF's input width. The caller must not cache MK past the
// next counter increment.
func deriveMessageKey(kdf KDF256Func, root [32]byte, iv IV) ([32]byte, error) {
	var seed [2]byte

	seed[0], seed[1] = 0, iv.I1
	l1, err := kdf(root[:], level1Label, seed[:])
	if err != nil {
		return [32]byte{}, err
	}

	seed[0], seed[1] = byte(iv.I2>>8), byte(iv.I2)
	l2, err := kdf(l1[:], level2Label, seed[:])
	if err != nil {
		return [32]byte{}, err
	}

	seed[0], seed[1] = byte(iv.I3>>8), byte(iv.I3)
	mk, err := kdf(l2[:], level3Label, seed[:])
	if err != nil {
		return [32]byte{}, err
	}
	return mk, nil
}
