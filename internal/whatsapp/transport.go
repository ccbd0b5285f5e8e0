package whatsapp

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Transport is one live connection to the WhatsApp network for a single
// slot. A transport is opened at most once; reconnecting builds a new one.
//
// Implementations report lifecycle and content asynchronously through the
// Sink handed to Open. Callbacks may arrive from any goroutine, including
// synchronously from inside Open, but never from inside Send or Close.
type Transport interface {
	// Open starts connecting with the given credential record (nil when the
	// slot has never paired). A returned error is treated as a transient
	// disconnect.
	Open(ctx context.Context, creds []byte, sink Sink) error
	// Send delivers a text body to recipient.
	Send(ctx context.Context, recipient, body string) error
	// Close releases the connection. It must be safe to call more than once.
	Close() error
}

// TransportFactory builds a fresh transport for a slot.
type TransportFactory interface {
	NewTransport(slot Slot) (Transport, error)
}

// TransportFactoryFunc adapts a function to TransportFactory.
type TransportFactoryFunc func(slot Slot) (Transport, error)

func (f TransportFactoryFunc) NewTransport(slot Slot) (Transport, error) { return f(slot) }

// ModeFactories picks the transport factory registered for a slot's mode.
type ModeFactories map[Mode]TransportFactory

func (m ModeFactories) NewTransport(slot Slot) (Transport, error) {
	f, ok := m[slot.Mode]
	if !ok || f == nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "no transport for mode %q", slot.Mode)
	}
	return f.NewTransport(slot)
}

// CredentialSeeder is implemented by factories whose slots may be configured
// with secret options. SeedCredentials merges those secrets into the current
// credential record of the slot and returns the record to store.
type CredentialSeeder interface {
	SeedCredentials(slot Slot, current []byte) ([]byte, error)
}

// SeedCredentials delegates to the factory of the slot's mode. Modes without
// a seeder keep the current record.
func (m ModeFactories) SeedCredentials(slot Slot, current []byte) ([]byte, error) {
	if seeder, ok := m[slot.Mode].(CredentialSeeder); ok {
		return seeder.SeedCredentials(slot, current)
	}
	return current, nil
}

// Sink receives transport callbacks. Each call is processed to completion,
// including credential persistence, before it returns.
type Sink interface {
	// Pairing publishes a QR payload or pairing code to scan.
	Pairing(payload string)
	// Opened confirms the session is authenticated and usable.
	Opened()
	// CredentialsRotated hands over updated credential material to persist.
	CredentialsRotated(creds []byte)
	// Inbound delivers a decoded content frame.
	Inbound(frame Frame)
	// Closed reports the transport is gone.
	Closed(reason DisconnectReason)
}

// FrameKind distinguishes inbound content frames.
type FrameKind int

const (
	FrameMessage FrameKind = iota + 1
	FrameCall
)

// Frame is an inbound content frame decoded by a transport.
type Frame struct {
	Kind FrameKind
	// ID is the message id or call id.
	ID       string
	From     string
	FromName string
	Body     string
	CallKind CallKind
	At       time.Time
	// FromSelf marks echoes of messages this session authored.
	FromSelf bool
}
