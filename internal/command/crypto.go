// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package command

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"

	wardenerrors "warden/internal/errors"
)

// Cipher symmetrically encrypts command-channel payloads with AES-CBC:
// base64 ciphertext of UTF-8 plaintext under AES-CBC with the configured
// key (16/24/32 bytes) and IV (16 bytes). The wire format uses a single
// fixed IV from config rather than a fresh one per message; this is an
// external interface contract, not a place to improve on crypto hygiene
// unasked.
type Cipher struct {
	key []byte
	iv  []byte
}

// NewCipher validates key/IV lengths and returns a ready-to-use Cipher.
func NewCipher(key, iv []byte) (*Cipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, wardenerrors.Errorf(wardenerrors.KindValidation, "AES key must be 16, 24, or 32 bytes, got %d", len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, wardenerrors.Errorf(wardenerrors.KindValidation, "AES IV must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	return &Cipher{key: key, iv: iv}, nil
}

// EncryptToBase64 PKCS7-pads plaintext, encrypts it with AES-CBC, and
// returns the base64 encoding of the ciphertext.
func (c *Cipher) EncryptToBase64(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", wardenerrors.Wrap(err, wardenerrors.KindInternal, "command: aes.NewCipher")
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(ciphertext, padded)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptFromBase64 reverses EncryptToBase64.
func (c *Cipher) DecryptFromBase64(encoded string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, wardenerrors.Wrap(err, wardenerrors.KindValidation, "command: invalid base64 payload")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, wardenerrors.Errorf(wardenerrors.KindValidation, "command: ciphertext is not a multiple of the block size")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, wardenerrors.Wrap(err, wardenerrors.KindInternal, "command: aes.NewCipher")
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, wardenerrors.New(wardenerrors.KindValidation, "command: empty ciphertext block")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, wardenerrors.New(wardenerrors.KindValidation, "command: invalid PKCS7 padding")
	}
	return data[:len(data)-padLen], nil
}
