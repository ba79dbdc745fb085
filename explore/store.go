package explore

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/multierr"

	"github.com/DistCompiler/pgo/authdh"
)

// Store remembers which states an exploration has already seen. Stores
// are safe for concurrent use.
type Store interface {
	// Visit marks s as seen, reporting whether it was new.
	Visit(s authdh.State) (bool, error)
	Len() int
	Close() error
}

// MemoryStore buckets full states by hash, so it never confuses two
// distinct states.
type MemoryStore struct {
	lock    sync.Mutex
	buckets map[uint32][]authdh.State
	size    int
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[uint32][]authdh.State)}
}

func (store *MemoryStore) Visit(s authdh.State) (bool, error) {
	h := s.Hash()
	store.lock.Lock()
	defer store.lock.Unlock()
	for _, seen := range store.buckets[h] {
		if seen.Equal(s) {
			return false, nil
		}
	}
	store.buckets[h] = append(store.buckets[h], s)
	store.size++
	return true, nil
}

func (store *MemoryStore) Len() int {
	store.lock.Lock()
	defer store.lock.Unlock()
	return store.size
}

func (store *MemoryStore) Close() error {
	store.lock.Lock()
	defer store.lock.Unlock()
	store.buckets = make(map[uint32][]authdh.State)
	store.size = 0
	return nil
}

// BadgerStore keeps only 64-bit state fingerprints, on disk, for state
// spaces that outgrow memory. Two states sharing a fingerprint are taken
// to be the same.
type BadgerStore struct {
	db   *badger.DB
	lock sync.Mutex
	size int
}

var _ Store = &BadgerStore{}

// OpenBadgerStore opens (or creates) a fingerprint store in dir and
// discards any fingerprints an earlier exploration left there. An empty
// dir keeps the store in memory.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	// stale fingerprints would hide states this exploration never checked
	if err := db.DropPrefix([]byte(statePrefix)); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return &BadgerStore{db: db}, nil
}

const statePrefix = "state-"

func stateKey(s authdh.State) []byte {
	key := make([]byte, len(statePrefix)+8)
	copy(key, statePrefix)
	binary.BigEndian.PutUint64(key[len(statePrefix):], s.Fingerprint())
	return key
}

func (store *BadgerStore) Visit(s authdh.State) (bool, error) {
	key := stateKey(s)
	fresh := false
	err := store.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		fresh = true
		return txn.Set(key, []byte{})
	})
	if errors.Is(err, badger.ErrConflict) {
		// a concurrent visitor stored the same fingerprint first
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if fresh {
		store.lock.Lock()
		store.size++
		store.lock.Unlock()
	}
	return fresh, nil
}

func (store *BadgerStore) Len() int {
	store.lock.Lock()
	defer store.lock.Unlock()
	return store.size
}

func (store *BadgerStore) Close() error {
	return store.db.Close()
}
