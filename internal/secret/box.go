package secret

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// BoxSealer seals with XSalsa20-Poly1305 under a process-local key. The
// nonce is prepended to the box.
type BoxSealer struct {
	key [keySize]byte
}

func NewBoxSealer(key []byte) (*BoxSealer, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("credential key must be %d bytes, got %d", keySize, len(key))
	}
	s := &BoxSealer{}
	copy(s.key[:], key)
	return s, nil
}

func NewBoxSealerFromBase64(encoded string) (*BoxSealer, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode credential key: %w", err)
	}
	return NewBoxSealer(key)
}

func (s *BoxSealer) Seal(_ context.Context, plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *BoxSealer) Open(_ context.Context, sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrMalformed
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrMalformed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", errors.New("credential failed authentication")
	}
	return string(plain), nil
}
