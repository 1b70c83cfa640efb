// Package bolt is a file-backed db.KVStore for single-host embedding caching.
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kailas-cloud/maomao/internal/db"
)

// Compile-time check: Store implements db.KVStore.
var _ db.KVStore = (*Store)(nil)

var bucketKV = []byte("kv")

// Each value is prefixed with its expiry as unix nanoseconds; 0 means none.
const expiryLen = 8

// Store is a bbolt-backed key-value store with lazy expiry.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens or creates the database file. The file lock is exclusive, so a
// second process waits at most lockTimeout before giving up.
func Open(path string, lockTimeout time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketKV); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketKV, err)
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return &Store{db: bdb, now: time.Now}, nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close bolt db: %w", err)
	}
	return nil
}

// Get returns the value, or db.ErrKeyNotFound when missing or expired.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketKV).Get([]byte(key))
		if len(v) < expiryLen {
			return db.ErrKeyNotFound
		}
		exp := int64(binary.BigEndian.Uint64(v[:expiryLen]))
		if exp != 0 && s.now().UnixNano() > exp {
			return db.ErrKeyNotFound
		}
		// v is only valid inside the transaction.
		out = append([]byte(nil), v[expiryLen:]...)
		return nil
	})
	if err != nil {
		if err == db.ErrKeyNotFound {
			return nil, err
		}
		return nil, &db.Error{Op: db.OpBoltGet, Err: err}
	}
	return out, nil
}

// SetWithTTL stores value; a non-positive ttl never expires.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, expiryLen+len(value))
	var exp int64
	if ttl > 0 {
		exp = s.now().Add(ttl).UnixNano()
	}
	binary.BigEndian.PutUint64(buf[:expiryLen], uint64(exp))
	copy(buf[expiryLen:], value)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), buf)
	})
	if err != nil {
		return &db.Error{Op: db.OpBoltPut, Err: err}
	}
	return nil
}
