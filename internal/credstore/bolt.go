package credstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var credentialBucket = []byte("whatsapp_credentials")

// BoltStore keeps credential records in a local bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the bbolt file at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt file %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create credential bucket")
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(_ context.Context, slotID string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(credentialBucket).Get([]byte(slotID)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, errors.Wrapf(err, "load credentials of %s", slotID)
}

func (s *BoltStore) Save(_ context.Context, slotID string, creds []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialBucket).Put([]byte(slotID), creds)
	})
	return errors.Wrapf(err, "save credentials of %s", slotID)
}

func (s *BoltStore) Delete(_ context.Context, slotID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialBucket).Delete([]byte(slotID))
	})
	return errors.Wrapf(err, "delete credentials of %s", slotID)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
