package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
)

const boltBucket = "pending_payments"

// BoltBackend keeps every slot in a single embedded database file, one key
// per slot. It suits single-node deployments without Redis.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBoltBackend opens (or creates) the database at path and ensures the
// bucket exists.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltBackend{db: db}, nil
}

// Close releases the database file lock.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

func (b *BoltBackend) Slot(id string) Store {
	return &boltSlot{backend: b, key: []byte(id)}
}

func (b *BoltBackend) Slots(ctx context.Context) ([]string, error) {
	var ids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).ForEach(func(k, v []byte) error {
			if len(v) > 0 {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

type boltSlot struct {
	backend *BoltBackend
	key     []byte
}

func (s *boltSlot) ReadAll(ctx context.Context) ([]PendingPayment, error) {
	var payments []PendingPayment
	err := s.backend.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(boltBucket)).Get(s.key)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &payments); err != nil {
			return fmt.Errorf("decode slot %s: %w", s.key, err)
		}
		return nil
	})
	return payments, err
}

func (s *boltSlot) WriteAll(ctx context.Context, payments []PendingPayment) error {
	return s.backend.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		if len(payments) == 0 {
			return b.Delete(s.key)
		}
		data, err := json.Marshal(payments)
		if err != nil {
			return err
		}
		return b.Put(s.key, data)
	})
}
