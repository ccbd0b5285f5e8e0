package credstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Backend is the storage contract shared by all credential stores.
type Backend interface {
	Load(ctx context.Context, slotID string) ([]byte, error)
	Save(ctx context.Context, slotID string, creds []byte) error
	Delete(ctx context.Context, slotID string) error
}

// Sealed encrypts records with XChaCha20-Poly1305 before handing them to
// the wrapped backend. The slot id is bound as additional data, so a record
// copied to another slot fails to open.
type Sealed struct {
	inner Backend
	key   []byte
}

// NewSealed derives a 256-bit key from secret.
func NewSealed(inner Backend, secret string) (*Sealed, error) {
	if secret == "" {
		return nil, errors.New("credstore: empty sealing secret")
	}
	sum := sha256.Sum256([]byte(secret))
	return &Sealed{inner: inner, key: sum[:]}, nil
}

func (s *Sealed) Load(ctx context.Context, slotID string) ([]byte, error) {
	blob, err := s.inner.Load(ctx, slotID)
	if err != nil || blob == nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, errors.Errorf("credstore: sealed record of %s is truncated", slotID)
	}
	nonce, ct := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, []byte(slotID))
	if err != nil {
		return nil, errors.Wrapf(err, "open sealed record of %s", slotID)
	}
	return plain, nil
}

func (s *Sealed) Save(ctx context.Context, slotID string, creds []byte) error {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(creds)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrap(err, "read nonce")
	}
	return s.inner.Save(ctx, slotID, aead.Seal(nonce, nonce, creds, []byte(slotID)))
}

func (s *Sealed) Delete(ctx context.Context, slotID string) error {
	return s.inner.Delete(ctx, slotID)
}
