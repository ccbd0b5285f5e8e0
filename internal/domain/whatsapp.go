package domain

import "time"

// WhatsAppSlot is a configured business number and its last observed status.
type WhatsAppSlot struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	Name      string    `json:"name"`
	Mode      string    `json:"mode" gorm:"size:32"`
	Options   string    `json:"options"` // JSON object, decoded per mode
	Status    string    `json:"status" gorm:"size:32"`
	Reason    string    `json:"reason" gorm:"size:32"`
	StatusAt  time.Time `json:"status_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WhatsAppSlot) TableName() string {
	return "whatsapp_slot"
}

// WhatsAppCredential holds the opaque credential record of one slot.
type WhatsAppCredential struct {
	SlotID    string    `json:"slot_id" gorm:"primaryKey;size:64"`
	Data      []byte    `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WhatsAppCredential) TableName() string {
	return "whatsapp_credential"
}
