package dnsbl

import (
	"strings"
	"sync"

	"github.com/ipshipyard/dnsbl-cache/store"
)

// Stores outlive a single server instance: a reload starts the new instance
// while the old one still holds its store, and badger allows one opener per
// directory. Instances naming the same database share one handle.
var (
	storesMu sync.Mutex
	stores   = map[string]*sharedStore{}
)

type sharedStore struct {
	st   *store.Store
	refs int
}

func storeKey(backend string, args []string) string {
	if backend == "" {
		backend = store.BackendMemory
	}
	return strings.Join(append([]string{backend}, args...), "\x00")
}

// acquireStore opens the database on first use and returns the shared store
// with a release function. The last release closes it.
func acquireStore(backend string, args []string) (*store.Store, func() error, error) {
	key := storeKey(backend, args)

	storesMu.Lock()
	defer storesMu.Unlock()

	s, ok := stores[key]
	if !ok {
		ds, err := store.Open(backend, args...)
		if err != nil {
			return nil, nil, err
		}
		s = &sharedStore{st: store.New(ds)}
		stores[key] = s
	}
	s.refs++

	var once sync.Once
	release := func() error {
		var err error
		once.Do(func() {
			storesMu.Lock()
			defer storesMu.Unlock()

			s.refs--
			if s.refs > 0 {
				return
			}
			delete(stores, key)
			err = s.st.Close()
		})
		return err
	}
	return s.st, release, nil
}
