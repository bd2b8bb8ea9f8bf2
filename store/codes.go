package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ipfs/go-datastore/query"
)

// ResultCode is a distinct textual answer seen from the blocklist, such as
// "127.0.0.2". It is created once and shared by every record carrying it.
type ResultCode struct {
	Text    string    `json:"text"`
	Created time.Time `json:"created"`
}

// Intern returns the ResultCode for text, creating it on first use. When a
// concurrent caller creates the same code first, its entry is returned.
func (s *Store) Intern(ctx context.Context, text string) (ResultCode, error) {
	if text == "" {
		return ResultCode{}, errors.New("empty result code")
	}
	key := childKey(codesPrefix, text)

	var rc ResultCode
	err := s.getJSON(ctx, key, &rc)
	if err == nil {
		return rc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ResultCode{}, err
	}

	rc = ResultCode{Text: text, Created: s.now().UTC()}
	val, err := json.Marshal(rc)
	if err != nil {
		return ResultCode{}, err
	}

	switch err := s.insertUnique(ctx, key, val); {
	case err == nil:
		log.Debugf("new result code %q", text)
		return rc, nil
	case errors.Is(err, ErrConflict):
		// lost the race, return the winner
		var winner ResultCode
		if err := s.getJSON(ctx, key, &winner); err != nil {
			return ResultCode{}, fmt.Errorf("re-reading result code %q: %w", text, err)
		}
		return winner, nil
	default:
		return ResultCode{}, err
	}
}

// Codes returns every interned result code ordered by text.
func (s *Store) Codes(ctx context.Context) ([]ResultCode, error) {
	results, err := s.ds.Query(ctx, query.Query{Prefix: codesPrefix.String()})
	if err != nil {
		return nil, err
	}
	entries, err := results.Rest()
	if err != nil {
		return nil, err
	}

	codes := make([]ResultCode, 0, len(entries))
	for _, e := range entries {
		var rc ResultCode
		if err := json.Unmarshal(e.Value, &rc); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", e.Key, err)
		}
		codes = append(codes, rc)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].Text < codes[j].Text })
	return codes, nil
}
