package whatsapp

import (
	"fmt"
	"time"
)

// Mode is how a slot reaches the WhatsApp network.
type Mode string

const (
	ModeCloudAPI  Mode = "cloud-api"
	ModeQRPairing Mode = "qr-pairing"
)

// Valid reports whether m is a known connection mode.
func (m Mode) Valid() bool {
	return m == ModeCloudAPI || m == ModeQRPairing
}

// Slot identifies one WhatsApp business number managed by the supervisor.
type Slot struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Mode    Mode           `json:"mode"`
	Options map[string]any `json:"options,omitempty"`
}

// secretOptions name option keys holding credential material. They belong in
// the credential record and never appear in snapshots or the slot repository.
var secretOptions = map[string]struct{}{
	"token":        {},
	"access_token": {},
	"app_secret":   {},
}

// HasSecrets reports whether the slot options carry credential material.
func (s Slot) HasSecrets() bool {
	for k := range s.Options {
		if _, ok := secretOptions[k]; ok {
			return true
		}
	}
	return false
}

// Public returns a copy of s without secret options.
func (s Slot) Public() Slot {
	if !s.HasSecrets() {
		return s
	}
	opts := make(map[string]any, len(s.Options))
	for k, v := range s.Options {
		if _, ok := secretOptions[k]; !ok {
			opts[k] = v
		}
	}
	s.Options = opts
	return s
}

// Status is the externally visible connection status of a slot.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusAwaitingScan Status = "awaiting_scan"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// State is the internal state of a SessionConnection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingPairing
	StateConnected
	StateDisconnected
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingPairing:
		return "awaiting_pairing"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DisconnectReason classifies why a transport went away.
type DisconnectReason string

const (
	ReasonNone DisconnectReason = ""
	// ReasonLoggedOut means the device was explicitly unpaired. Terminal.
	ReasonLoggedOut DisconnectReason = "logged_out"
	// ReasonTransient covers network loss, timeouts and server restarts.
	ReasonTransient DisconnectReason = "transient"
	// ReasonCredentialError means credential material could not be loaded or
	// persisted. The session must not keep running with unsaved keys.
	ReasonCredentialError DisconnectReason = "credential_error"
)

// SlotStatus is a point-in-time view of one slot.
type SlotStatus struct {
	Slot      Slot             `json:"slot"`
	State     string           `json:"state"`
	Status    Status           `json:"status"`
	QRPayload string           `json:"qr,omitempty"`
	Reason    DisconnectReason `json:"reason,omitempty"`
	Since     time.Time        `json:"since"`
}
