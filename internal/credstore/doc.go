// Package credstore holds the credential record backends used by the
// WhatsApp sessions: a gorm table, an embedded bbolt file, redis, an
// in-memory map, and an encrypting wrapper for any of them.
package credstore
