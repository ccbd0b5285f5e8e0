package whatsapp

import "context"

// CredentialStore persists the opaque per-slot credential record. Load
// returns (nil, nil) when nothing has been stored for the slot.
type CredentialStore interface {
	Load(ctx context.Context, slotID string) ([]byte, error)
	Save(ctx context.Context, slotID string, creds []byte) error
	Delete(ctx context.Context, slotID string) error
}
