// Package store persists DNSBL result codes and per-address records in a
// go-datastore backend.
//
// The backend only needs Get/Has/Put/Delete/Query. Uniqueness of code texts
// and addresses, and atomicity of record upserts, are enforced here with
// per-key locks so that writers on different keys never wait on each other.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multibase"
)

var log = logging.Logger("dnsbl/store")

var (
	// ErrNotFound is returned when no record exists for an address.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by a unique insert when the key already exists.
	ErrConflict = errors.New("unique constraint violation")
)

var (
	codesPrefix   = datastore.NewKey("/codes")
	recordsPrefix = datastore.NewKey("/records")
)

// keyEncoder keeps arbitrary text out of the datastore key hierarchy. Lower
// case base32 holds no '/' and survives case-folding backends.
var keyEncoder = multibase.MustNewEncoder(multibase.Base32)

// Store is the handle shared by the result code registry and the record
// cache. It is opened once at startup and closed at shutdown.
type Store struct {
	ds    datastore.Datastore
	locks *keyLocks
	now   func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// New wraps ds. ds must be safe for concurrent use.
func New(ds datastore.Datastore) *Store {
	return &Store{
		ds:    ds,
		locks: newKeyLocks(),
		now:   time.Now,
	}
}

// Close closes the underlying datastore. Safe to call multiple times.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.ds.Close()
	})
	return s.closeErr
}

// insertUnique writes val under key unless key already exists, in which case
// it returns ErrConflict.
func (s *Store) insertUnique(ctx context.Context, key datastore.Key, val []byte) error {
	unlock := s.locks.lock(key.String())
	defer unlock()

	exists, err := s.ds.Has(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return ErrConflict
	}
	return s.ds.Put(ctx, key, val)
}

func (s *Store) getJSON(ctx context.Context, key datastore.Key, v any) error {
	val, err := s.ds.Get(ctx, key)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(val, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

func childKey(prefix datastore.Key, text string) datastore.Key {
	return prefix.ChildString(keyEncoder.Encode([]byte(text)))
}
