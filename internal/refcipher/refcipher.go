// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package refcipher provides a reference implementation of the
// esp.BlockCipherKey and esp.KDF256Func collaborators.
//
// It is explicitly NOT Magma, NOT Kuznechik, and NOT MGM: those are
// external, GOST-family primitives the esp package only ever talks to
// through interfaces. refcipher stands in for them using AES-CTR and
// HMAC-SHA256 from the standard library so the transport core, the
// CLI, and the test suite have something concrete to run against.
// Swapping in a real Magma/Kuznechik/MGM implementation means writing
// a different esp.KeyFactory and esp.KDF256Func; nothing else in this
// module needs to change.
package refcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/fiot-project/fiot-esp/esp"
)

// KDF256 implements esp.KDF256Func with HMAC-SHA256, the same
// construction family ESPTREE is defined in terms of.
func KDF256(key, label, seed []byte) ([32]byte, error) {
	mac := hmac.New(sha256.New, key)
	mac.Write(label)
	mac.Write(seed)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out, nil
}

// hmacDerive separates one message key into independent encryption and
// authentication subkeys, the ordinary precaution against reusing a
// single key across two primitives.
func hmacDerive(mk []byte, label string) []byte {
	mac := hmac.New(sha256.New, mk)
	mac.Write([]byte(label))
	return mac.Sum(nil)
}

// key is the reference esp.BlockCipherKey. Real MGM truncates its tag
// to an arbitrary ICV length (8 bytes for Magma, 12 for Kuznechik);
// Go's cipher.AEAD (GCM included) refuses tag sizes below 12 bytes, so
// this stand-in builds its own encrypt-then-MAC construction instead
// of cipher.NewGCM — AES-CTR for confidentiality, HMAC-SHA256 for the
// truncatable tag — rather than fight the stdlib's GCM tag-size floor.
type key struct {
	encrypts bool
	block    cipher.Block
	macKey   []byte
}

// Factory is an esp.KeyFactory constructing reference keys. The
// family of t only decides which registry entry is used, not the
// interface shape: every transform family yields the same key type
// here, since refcipher does not distinguish Magma-sized from
// Kuznechik-sized blocks.
func Factory(t esp.Transform) (esp.BlockCipherKey, error) {
	entry, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("refcipher: no reference cipher registered for %v", t)
	}
	return &key{encrypts: entry.encrypts}, nil
}

type registryEntry struct {
	encrypts bool
}

var registry = make(map[esp.Transform]registryEntry)

func register(t esp.Transform, encrypts bool) {
	registry[t] = registryEntry{encrypts: encrypts}
}

func init() {
	register(esp.TransformMagmaMGMKTree, true)
	register(esp.TransformMagmaMGMMACKTree, false)
	register(esp.TransformKuznechikMGMKTree, true)
	register(esp.TransformKuznechikMGMMACKTree, false)
}

// SetKey installs a fresh 32-byte message key, splitting it into
// independent encryption/authentication subkeys and rekeying the
// underlying AES block cipher from scratch, matching the per-message
// rekey cadence ESPTREE imposes.
func (k *key) SetKey(mk []byte) error {
	if len(mk) < 32 {
		return fmt.Errorf("refcipher: message key shorter than 32 bytes")
	}
	k.macKey = hmacDerive(mk[:32], "refcipher-mac")
	block, err := aes.NewCipher(hmacDerive(mk[:32], "refcipher-enc")[:16])
	if err != nil {
		return fmt.Errorf("refcipher: new AES cipher: %w", err)
	}
	k.block = block
	return nil
}

// EncryptMGM, for encrypting transforms, XORs plaintext with an
// AES-CTR keystream derived from nonce and tags (nonce || aad ||
// ciphertext) with HMAC-SHA256 truncated to icvLen; for MAC-only
// transforms it returns that same tag computed over nonce and aad
// alone and ignores plaintext.
func (k *key) EncryptMGM(aad, plaintext []byte, encrypt bool, nonce []byte, icvLen int) ([]byte, []byte, error) {
	if !encrypt {
		return nil, k.tag(aad, nil, nonce, icvLen), nil
	}
	if k.block == nil {
		return nil, nil, fmt.Errorf("refcipher: no key installed")
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(k.block, ctrIV(nonce)).XORKeyStream(ciphertext, plaintext)
	return ciphertext, k.tag(aad, ciphertext, nonce, icvLen), nil
}

// DecryptMGM is the inverse of EncryptMGM: it verifies the tag before
// ever touching ciphertext, mirroring an AEAD's verify-then-decrypt
// contract.
func (k *key) DecryptMGM(aad, ciphertext []byte, encrypt bool, nonce, icv []byte) ([]byte, bool, error) {
	if !encrypt {
		ok := hmac.Equal(k.tag(aad, nil, nonce, len(icv)), icv)
		return nil, ok, nil
	}
	if k.block == nil {
		return nil, false, fmt.Errorf("refcipher: no key installed")
	}
	if !hmac.Equal(k.tag(aad, ciphertext, nonce, len(icv)), icv) {
		return nil, false, nil
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(k.block, ctrIV(nonce)).XORKeyStream(plaintext, ciphertext)
	return plaintext, true, nil
}

func (k *key) tag(aad, ciphertext, nonce []byte, icvLen int) []byte {
	mac := hmac.New(sha256.New, k.macKey)
	mac.Write(nonce)
	mac.Write(aad)
	mac.Write(ciphertext)
	sum := mac.Sum(nil)
	return sum[:icvLen]
}

// ctrIV turns an ESP nonce (8 bytes for Magma transforms, 16 for
// Kuznechik) into the CTR mode initial counter block: a nonce that is
// already AES's 16-byte block size is used as is, any other length is
// hashed with SHA-256 and truncated to 16 bytes.
func ctrIV(nonce []byte) []byte {
	if len(nonce) == aes.BlockSize {
		return nonce
	}
	sum := sha256.Sum256(nonce)
	return sum[:aes.BlockSize]
}
