package domain

var Tables = []interface{}{
	// WhatsApp
	&WhatsAppSlot{},
	&WhatsAppCredential{},
}
