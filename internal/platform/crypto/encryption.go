package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var ErrOpenFailed = errors.New("sealed value could not be opened")

// Sealer protects short secrets (upstream credentials) carried inside session tokens.
type Sealer struct {
	key *[32]byte
}

func New(key string) (*Sealer, error) {
	if key == "" {
		return &Sealer{}, nil
	}
	decoded := decodeKey(key)
	var k [32]byte
	if len(decoded) == 32 {
		copy(k[:], decoded)
	} else {
		k = sha256.Sum256(decoded)
	}
	return &Sealer{key: &k}, nil
}

func (s *Sealer) Configured() bool {
	return s != nil && s.key != nil
}

// SealString returns a base64url value. Without a key the value is only encoded.
func (s *Sealer) SealString(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if !s.Configured() {
		return base64.RawURLEncoding.EncodeToString([]byte(value)), nil
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	out := secretbox.Seal(nonce[:], []byte(value), &nonce, s.key)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *Sealer) OpenString(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrOpenFailed
	}
	if !s.Configured() {
		return string(raw), nil
	}
	if len(raw) < nonceSize {
		return "", ErrOpenFailed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, s.key)
	if !ok {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}

func decodeKey(raw string) []byte {
	if len(raw) == 64 {
		decoded, err := hex.DecodeString(raw)
		if err == nil {
			return decoded
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return decoded
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(raw); err == nil {
		return decoded
	}
	return []byte(raw)
}
