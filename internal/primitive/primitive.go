// Package primitive is the narrow boundary to crypto primitives.
// Controller and codec never touch crypto/* directly.
package primitive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"

	"github.com/juju/errors"
)

const (
	HmacTagLen = sha256.Size
	AeadKeyLen = 32
	AeadIVLen  = 12
	AeadTagLen = 16
)

// ErrUnavailable is returned when a primitive cannot be initialized
// with configured key material.
var ErrUnavailable = errors.New("crypto primitive unavailable")

// ErrOpen is returned when AEAD authentication fails.
var ErrOpen = errors.New("aead open failed")

func HMACSHA256(key, msg []byte) [HmacTagLen]byte {
	var tag [HmacTagLen]byte
	m := hmac.New(sha256.New, key)
	_, _ = m.Write(msg)
	m.Sum(tag[:0])
	return tag
}

// HMACEqual is constant time.
func HMACEqual(a, b []byte) bool { return hmac.Equal(a, b) }

type AEAD interface {
	// Seal returns fresh ciphertext and tag buffers.
	Seal(iv, plaintext []byte) (ciphertext []byte, tag []byte, err error)
	// Open returns fresh plaintext buffer or ErrOpen.
	Open(iv, ciphertext, tag []byte) ([]byte, error)
}

type aesGCM struct {
	aead cipher.AEAD
}

// NewAESGCM accepts exactly 32 byte key (AES-256), no AAD.
func NewAESGCM(key []byte) (AEAD, error) {
	if len(key) != AeadKeyLen {
		return nil, errors.Annotatef(ErrUnavailable, "aes-256 key length=%d expected=%d", len(key), AeadKeyLen)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Annotate(ErrUnavailable, err.Error())
	}
	aead, err := cipher.NewGCMWithTagSize(block, AeadTagLen)
	if err != nil {
		return nil, errors.Annotate(ErrUnavailable, err.Error())
	}
	if aead.NonceSize() != AeadIVLen {
		return nil, errors.Annotatef(ErrUnavailable, "gcm nonce size=%d", aead.NonceSize())
	}
	return &aesGCM{aead: aead}, nil
}

func (self *aesGCM) Seal(iv, plaintext []byte) ([]byte, []byte, error) {
	if len(iv) != AeadIVLen {
		return nil, nil, errors.NotValidf("iv length=%d", len(iv))
	}
	sealed := self.aead.Seal(nil, iv, plaintext, nil)
	n := len(sealed) - AeadTagLen
	return sealed[:n:n], sealed[n:], nil
}

func (self *aesGCM) Open(iv, ciphertext, tag []byte) ([]byte, error) {
	if len(iv) != AeadIVLen || len(tag) != AeadTagLen {
		return nil, ErrOpen
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plain, err := self.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}
