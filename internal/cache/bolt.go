package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketPages = []byte("pages")

// expiryHeader is the big-endian unix-nano expiry prefixed to every value.
const expiryHeader = 8

type boltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBolt opens (or creates) a bbolt file at path. Entries survive restarts;
// expired ones are skipped on read and overwritten on the next Put.
func NewBolt(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("cache: bolt path required")
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: open bolt %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPages)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: create bolt bucket: %w", err)
	}
	return &boltStore{db: db, now: time.Now}, nil
}

func (b *boltStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var body []byte
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketPages).Get([]byte(key))
		if len(value) < expiryHeader {
			return nil
		}
		expiresAt := time.Unix(0, int64(binary.BigEndian.Uint64(value[:expiryHeader])))
		if !b.now().Before(expiresAt) {
			return nil
		}
		// value is only valid inside the transaction.
		body = append([]byte(nil), value[expiryHeader:]...)
		found = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache: bolt get: %w", err)
	}
	return body, found, nil
}

func (b *boltStore) Put(_ context.Context, key string, body []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	value := make([]byte, expiryHeader+len(body))
	binary.BigEndian.PutUint64(value[:expiryHeader], uint64(b.now().Add(ttl).UnixNano()))
	copy(value[expiryHeader:], body)
	if err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPages).Put([]byte(key), value)
	}); err != nil {
		return fmt.Errorf("cache: bolt put: %w", err)
	}
	return nil
}

func (b *boltStore) Clear(_ context.Context) error {
	if err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketPages); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketPages)
		return err
	}); err != nil {
		return fmt.Errorf("cache: bolt clear: %w", err)
	}
	return nil
}

func (b *boltStore) Size(_ context.Context) (int64, error) {
	var n int64
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = int64(tx.Bucket(bucketPages).Stats().KeyN)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cache: bolt size: %w", err)
	}
	return n, nil
}

func (b *boltStore) Close(context.Context) error {
	return b.db.Close()
}
