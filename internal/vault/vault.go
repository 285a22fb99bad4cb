// Package vault seals capsule messages at rest.
package vault

import (
	"crypto/rand"
	"hash"
	"io"

	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

type (
	// A Codec encrypts and decrypts capsule messages.
	Codec interface {
		// Encrypt seals the given plaintext.
		Encrypt(plaintext string) (model.Ciphertext, error)
		// Decrypt opens the given ciphertext.
		// It fails with a *DecryptError on malformed or corrupted input.
		Decrypt(ciphertext model.Ciphertext) (string, error)
	}

	// A DecryptError is returned when a ciphertext cannot be opened.
	DecryptError struct {
		Reason string
		Err    error
	}

	xchacha struct {
		key []byte
	}
)

// info binds derived keys to their usage.
var info = []byte("timecapsule message key")

// New returns a XChaCha20-Poly1305 codec keyed by a key derived from the given secret.
func New(secret []byte) (Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty vault secret")
	}

	key, err := KDF(chacha20poly1305.KeySize, secret)
	if err != nil {
		return nil, err
	}

	return &xchacha{key: key}, nil
}

// KDF derives a key of length l from the given secret using HKDF over BLAKE2b-256.
func KDF(l int, secret []byte) ([]byte, error) {
	nhash := func() hash.Hash {
		h, err := blake2b.New256(nil)
		if err != nil {
			panic(err) // only fails with an oversized MAC key
		}
		return h
	}

	payload := make([]byte, l)
	if _, err := io.ReadFull(hkdf.New(nhash, secret, nil, info), payload); err != nil {
		return nil, errors.Wrap(err, "could not derive key")
	}
	return payload, nil
}

func (v *xchacha) Encrypt(plaintext string) (model.Ciphertext, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return model.Ciphertext{}, errors.Wrap(err, "could not create cipher")
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return model.Ciphertext{}, errors.Wrap(err, "could not generate nonce")
	}

	return model.Ciphertext{
		Nonce:   nonce,
		Payload: aead.Seal(nil, nonce, []byte(plaintext), nil),
	}, nil
}

func (v *xchacha) Decrypt(ciphertext model.Ciphertext) (string, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", &DecryptError{Reason: "could not create cipher", Err: err}
	}

	if len(ciphertext.Nonce) != aead.NonceSize() {
		return "", &DecryptError{Reason: "invalid nonce size"}
	}

	if len(ciphertext.Payload) < aead.Overhead() {
		return "", &DecryptError{Reason: "truncated payload"}
	}

	plaintext, err := aead.Open(nil, ciphertext.Nonce, ciphertext.Payload, nil)
	if err != nil {
		return "", &DecryptError{Reason: "could not decrypt", Err: err}
	}

	return string(plaintext), nil
}

// Error implements error interface.
func (e *DecryptError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *DecryptError) Unwrap() error {
	return e.Err
}
