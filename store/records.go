package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// Record is the cached blocklist state of one address. Codes holds the texts
// of the ResultCodes seen by the most recent successful lookup; an empty set
// means the address was looked up and is not listed.
type Record struct {
	Address string    `json:"address"`
	Codes   []string  `json:"codes"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Listed reports whether the last lookup returned any code.
func (r Record) Listed() bool { return len(r.Codes) > 0 }

// Upsert stores codes as the complete code set of addr. A new record gets
// Created == Updated; an existing one keeps Created and gets a strictly later
// Updated, even when codes did not change.
func (s *Store) Upsert(ctx context.Context, addr string, codes []ResultCode) (Record, error) {
	if addr == "" {
		return Record{}, errors.New("empty address")
	}
	key := childKey(recordsPrefix, addr)

	unlock := s.locks.lock(key.String())
	defer unlock()

	var existing Record
	err := s.getJSON(ctx, key, &existing)
	found := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Record{}, err
	}

	now := s.now().UTC()
	rec := Record{
		Address: addr,
		Codes:   codeSet(codes),
		Created: now,
		Updated: now,
	}
	if found {
		rec.Created = existing.Created
		if !now.After(existing.Updated) {
			now = existing.Updated.Add(time.Nanosecond)
		}
		rec.Updated = now
	}

	val, err := json.Marshal(rec)
	if err != nil {
		return Record{}, err
	}
	if err := s.ds.Put(ctx, key, val); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Get returns the cached record for addr or ErrNotFound.
func (s *Store) Get(ctx context.Context, addr string) (Record, error) {
	if addr == "" {
		return Record{}, ErrNotFound
	}
	var rec Record
	if err := s.getJSON(ctx, childKey(recordsPrefix, addr), &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Delete removes the record for addr. Result codes are never deleted.
func (s *Store) Delete(ctx context.Context, addr string) error {
	if addr == "" {
		return ErrNotFound
	}
	key := childKey(recordsPrefix, addr)

	unlock := s.locks.lock(key.String())
	defer unlock()

	exists, err := s.ds.Has(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return s.ds.Delete(ctx, key)
}

func codeSet(codes []ResultCode) []string {
	set := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if _, ok := seen[c.Text]; ok {
			continue
		}
		seen[c.Text] = struct{}{}
		set = append(set, c.Text)
	}
	sort.Strings(set)
	return set
}
