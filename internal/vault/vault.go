// Package vault seals and opens the license record against the
// machine fingerprint. The algorithm is bit-exact and intentionally
// unversioned: PBKDF2-HMAC-SHA256 over the fingerprint bytes with a
// fixed salt, AES-256-CBC with PKCS#7 padding, raw ciphertext with no
// framing or MAC.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

// fixedSalt is the literal salt baked into the sealing algorithm.
// It is not a secret; the fingerprint is the actual key material.
const fixedSalt = "YourSuperSalt!@#"

const (
	pbkdf2Iterations = 100000
	derivedKeyLen    = 48 // 32-byte AES key + 16-byte IV
	aesKeyLen        = 32
	ivLen            = 16
)

// ErrCorruptOrTampered is returned by Open when the ciphertext does
// not decode to validly padded plaintext under the derived key. It
// covers both truncated/corrupted artifacts and artifacts sealed
// under a different fingerprint.
var ErrCorruptOrTampered = errors.New("vault: sealed artifact is corrupt or tampered")

// deriveKeyIV runs PBKDF2-HMAC-SHA256 over the fingerprint and splits
// the 48-byte output into an AES-256 key and a CBC initialization
// vector.
func deriveKeyIV(fingerprint string) (key, iv []byte) {
	derived := pbkdf2.Key([]byte(fingerprint), []byte(fixedSalt), pbkdf2Iterations, derivedKeyLen, sha256.New)
	return derived[:aesKeyLen], derived[aesKeyLen:]
}

// Seal encrypts plaintext under a key derived from fingerprint,
// returning the raw AES-256-CBC ciphertext with PKCS#7 padding. There
// is no framing and no MAC: the caller is trusted to store the bytes
// verbatim and hand them back unmodified to Open.
func Seal(fingerprint string, plaintext []byte) ([]byte, error) {
	key, iv := deriveKeyIV(fingerprint)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, padded)

	return ciphertext, nil
}

// Open decrypts a sealed artifact under a key derived from
// fingerprint. Any decode or padding failure — including sealing
// under a different fingerprint — surfaces as ErrCorruptOrTampered
// rather than a lower-level crypto error.
func Open(fingerprint string, ciphertext []byte) ([]byte, error) {
	key, iv := deriveKeyIV(fingerprint)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrCorruptOrTampered
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, ErrCorruptOrTampered
	}

	padded := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, block.BlockSize())
	if err != nil {
		return nil, ErrCorruptOrTampered
	}
	return plaintext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	pad := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), pad...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	length := len(data)
	if length == 0 || length%blockSize != 0 {
		return nil, errors.New("vault: invalid padded length")
	}
	padLen := int(data[length-1])
	if padLen == 0 || padLen > blockSize || padLen > length {
		return nil, errors.New("vault: invalid padding")
	}
	for _, b := range data[length-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("vault: invalid padding")
		}
	}
	return data[:length-padLen], nil
}
