// Package cryptox implements the symmetric codec used for every piece of
// private task content: AES-256-GCM with a self-describing envelope.
//
// Envelope layout (base64-encoded as a whole):
//
//	[1 byte IV length][IV][ciphertext][tag]
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"github.com/dmitrijs2005/taskvault/internal/common"
)

const (
	DefaultIVLength  = 12
	DefaultTagLength = 16
)

// Codec encrypts and decrypts envelopes with a key derived from a secret.
// A Codec holds no mutable state and is safe for concurrent use.
type Codec struct {
	key       [32]byte
	ivLength  int
	tagLength int
}

// Option tunes a Codec.
type Option func(*Codec)

// WithIVLength sets the IV length used when encrypting. Decryption always
// reads the IV length from the envelope itself.
func WithIVLength(n int) Option {
	return func(c *Codec) { c.ivLength = n }
}

// WithTagLength sets the GCM tag length.
func WithTagLength(n int) Option {
	return func(c *Codec) { c.tagLength = n }
}

// NewCodec hashes secret with SHA-256 into an AES-256 key, regardless of
// the secret's length or encoding.
//
// Parameters:
//   - secret: raw key material from configuration or a per-project secret store.
//   - opts: optional IV/tag length overrides.
//
// Returns an error when the IV length cannot be represented in the
// envelope's length byte or when the tag length is not supported by GCM.
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	c := &Codec{
		key:       sha256.Sum256(secret),
		ivLength:  DefaultIVLength,
		tagLength: DefaultTagLength,
	}
	for _, o := range opts {
		o(c)
	}

	if c.ivLength < 1 || c.ivLength > 255 {
		return nil, fmt.Errorf("%w: iv length %d out of range", common.ErrorValidation, c.ivLength)
	}
	if c.tagLength < 12 || c.tagLength > 16 {
		return nil, fmt.Errorf("%w: tag length %d out of range", common.ErrorValidation, c.tagLength)
	}
	if c.tagLength != DefaultTagLength && c.ivLength != DefaultIVLength {
		return nil, fmt.Errorf("%w: non-standard tag length requires a %d-byte iv", common.ErrorValidation, DefaultIVLength)
	}

	return c, nil
}

func (c *Codec) aead(ivLength int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, err
	}

	if c.tagLength == DefaultTagLength {
		return cipher.NewGCMWithNonceSize(block, ivLength)
	}
	if ivLength != DefaultIVLength {
		return nil, fmt.Errorf("%w: iv length %d with tag length %d", common.ErrorMalformedEnvelope, ivLength, c.tagLength)
	}
	return cipher.NewGCMWithTagSize(block, c.tagLength)
}

// Encrypt draws a fresh random IV, seals plaintext and returns the
// base64-encoded envelope.
func (c *Codec) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, c.ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	aesgcm, err := c.aead(len(iv))
	if err != nil {
		return "", err
	}

	// Seal appends the tag to the ciphertext, which is exactly the
	// [ciphertext][tag] tail of the envelope.
	buf := make([]byte, 0, 1+len(iv)+len(plaintext)+c.tagLength)
	buf = append(buf, byte(len(iv)))
	buf = append(buf, iv...)
	buf = aesgcm.Seal(buf, iv, plaintext, nil)

	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt opens an envelope produced by Encrypt (possibly with a different
// IV length). A failed tag check returns common.ErrorIntegrity and never
// any plaintext.
func (c *Codec) Decrypt(envelope string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorMalformedEnvelope, err)
	}
	if len(raw) < 1 {
		return nil, fmt.Errorf("%w: empty envelope", common.ErrorMalformedEnvelope)
	}

	ivLength := int(raw[0])
	if ivLength == 0 || len(raw) < 1+ivLength+c.tagLength {
		return nil, fmt.Errorf("%w: envelope too short", common.ErrorMalformedEnvelope)
	}

	iv := raw[1 : 1+ivLength]
	sealed := raw[1+ivLength:]

	aesgcm, err := c.aead(ivLength)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesgcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorIntegrity, err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}

	return plaintext, nil
}

// DecryptText decrypts an envelope and reports whether the plaintext is
// valid UTF-8. Invalid UTF-8 is not an error; callers get the raw bytes.
func (c *Codec) DecryptText(envelope string) (plaintext []byte, isText bool, err error) {
	plaintext, err = c.Decrypt(envelope)
	if err != nil {
		return nil, false, err
	}
	return plaintext, utf8.Valid(plaintext), nil
}

// Wipe zeroes b. Callers use it on secrets they own once a codec has
// been derived from them.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
