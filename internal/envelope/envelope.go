// Package envelope seals event payloads for transport between agent and hub.
//
// An envelope is base64url (no padding) of nonce || ciphertext+tag, produced
// by a 256-bit AEAD with a fresh 96-bit random nonce per call and no
// associated data.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = 32
	NonceSize = 12
)

type Suite string

const (
	SuiteAESGCM           Suite = "aes-256-gcm"
	SuiteChaCha20Poly1305 Suite = "chacha20-poly1305"
)

var (
	ErrAuthentication = errors.New("envelope: message authentication failed")
	ErrMalformed      = errors.New("envelope: malformed envelope")
	ErrKeySize        = errors.New("envelope: key must be 32 bytes")
	ErrUnknownSuite   = errors.New("envelope: unknown cipher suite")
)

var (
	randMu        sync.RWMutex
	randomnessSrc io.Reader = rand.Reader
)

// UseDeterministicRandom swaps the nonce and key source for tests and returns
// a function restoring the previous one.
func UseDeterministicRandom(r io.Reader) func() {
	randMu.Lock()
	prev := randomnessSrc
	randomnessSrc = r
	randMu.Unlock()
	return func() {
		randMu.Lock()
		randomnessSrc = prev
		randMu.Unlock()
	}
}

func readRandom(b []byte) error {
	randMu.RLock()
	src := randomnessSrc
	randMu.RUnlock()
	_, err := io.ReadFull(src, b)
	return err
}

// Codec seals and opens envelopes with one cipher suite. Agent and hub must
// be configured with the same suite.
type Codec struct {
	suite Suite
}

func New(suite Suite) (*Codec, error) {
	if suite == "" {
		suite = SuiteAESGCM
	}
	switch suite {
	case SuiteAESGCM, SuiteChaCha20Poly1305:
		return &Codec{suite: suite}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSuite, suite)
}

func (c *Codec) Suite() Suite { return c.suite }

func (c *Codec) aead(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	if c.suite == SuiteChaCha20Poly1305 {
		return chacha20poly1305.New(key)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal JSON encodes v and seals it under key.
func (c *Codec) Seal(key []byte, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("envelope: encode payload: %w", err)
	}
	return c.SealBytes(key, payload)
}

func (c *Codec) SealBytes(key, plaintext []byte) (string, error) {
	aead, err := c.aead(key)
	if err != nil {
		return "", err
	}
	buf := make([]byte, NonceSize, NonceSize+len(plaintext)+aead.Overhead())
	if err := readRandom(buf); err != nil {
		return "", fmt.Errorf("envelope: nonce: %w", err)
	}
	buf = aead.Seal(buf, buf[:NonceSize], plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Open authenticates and decrypts blob. It never returns partial plaintext.
func (c *Codec) Open(key []byte, blob string) ([]byte, error) {
	aead, err := c.aead(key)
	if err != nil {
		return nil, err
	}
	raw, err := decode(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < NonceSize+aead.Overhead() {
		return nil, fmt.Errorf("%w: too short", ErrMalformed)
	}
	pt, err := aead.Open(nil, raw[:NonceSize], raw[NonceSize:], nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}

// decode accepts padded input and the standard alphabet as well, which older
// agents and hubs produced.
func decode(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	if std, stdErr := base64.RawStdEncoding.DecodeString(s); stdErr == nil {
		return std, nil
	}
	return nil, err
}

func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if err := readRandom(key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncodeKey renders key as base64url text without padding.
func EncodeKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

func ParseKey(s string) ([]byte, error) {
	key, err := decode(s)
	if err != nil {
		return nil, fmt.Errorf("envelope: parse key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	return key, nil
}
