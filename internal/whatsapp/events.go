package whatsapp

import "time"

// EventKind tags a normalized event.
type EventKind string

const (
	KindStatusChanged   EventKind = "status_changed"
	KindMessageReceived EventKind = "message_received"
	KindCallReceived    EventKind = "call_received"
)

// Event is a normalized domain event emitted by a session. Implementations
// are plain values so every subscriber receives its own copy.
type Event interface {
	Kind() EventKind
	SlotID() string
}

// StatusChanged reports a slot status transition. QRPayload is set only for
// StatusAwaitingScan, Reason only for StatusDisconnected and StatusError.
type StatusChanged struct {
	Slot      string           `json:"slot"`
	Status    Status           `json:"status"`
	QRPayload string           `json:"qr,omitempty"`
	Reason    DisconnectReason `json:"reason,omitempty"`
	At        time.Time        `json:"at"`
}

func (StatusChanged) Kind() EventKind  { return KindStatusChanged }
func (e StatusChanged) SlotID() string { return e.Slot }

// MessageReceived is an inbound text message.
type MessageReceived struct {
	Slot              string    `json:"slot"`
	ExternalID        string    `json:"external_id"`
	SenderAddress     string    `json:"sender_address"`
	SenderDisplayName string    `json:"sender_display_name"`
	Body              string    `json:"body"`
	ReceivedAt        time.Time `json:"received_at"`
}

func (MessageReceived) Kind() EventKind  { return KindMessageReceived }
func (e MessageReceived) SlotID() string { return e.Slot }

// CallKind is the media type of an incoming call.
type CallKind string

const (
	CallVoice CallKind = "voice"
	CallVideo CallKind = "video"
)

// CallReceived is an incoming call offer.
type CallReceived struct {
	Slot            string    `json:"slot"`
	CallID          string    `json:"call_id"`
	FromAddress     string    `json:"from_address"`
	FromDisplayName string    `json:"from_display_name"`
	CallKind        CallKind  `json:"call_kind"`
	ReceivedAt      time.Time `json:"received_at"`
}

func (CallReceived) Kind() EventKind  { return KindCallReceived }
func (e CallReceived) SlotID() string { return e.Slot }
