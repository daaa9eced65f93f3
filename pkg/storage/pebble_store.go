package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// MemoryDir opens the store on an in-memory filesystem.
const MemoryDir = ":memory:"

var (
	ErrReadOnly = errors.New("storage: read-only view")
	ErrClosed   = errors.New("storage: txn already finished")
)

// KV is the key/value surface the ledger and the bank are written against.
// Get reports (nil, false, nil) for a missing key.
type KV interface {
	Get(key []byte) ([]byte, bool, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// Iterate visits keys with the given prefix in ascending order. The slices
	// passed to fn are only valid for the duration of the call.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	cache := pebble.NewCache(64 << 20) // 64MB
	defer cache.Unref()
	opts := &pebble.Options{
		Cache:        cache,
		MemTableSize: 32 << 20,
		MaxOpenFiles: 1000,
		BytesPerSync: 512 << 10,
	}
	dir := path
	if path == MemoryDir {
		opts.FS = vfs.NewMem()
		dir = ""
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// NewMemoryStore is shorthand for NewPebbleStore(MemoryDir).
func NewMemoryStore() (*PebbleStore, error) { return NewPebbleStore(MemoryDir) }

func (s *PebbleStore) Close() error { return s.db.Close() }

// NewTxn stages writes in an indexed batch. Reads through the Txn observe its
// own pending writes on top of committed state.
func (s *PebbleStore) NewTxn() *Txn {
	return &Txn{batch: s.db.NewIndexedBatch()}
}

// View returns a consistent read-only snapshot of committed state. Callers
// must Close it.
func (s *PebbleStore) View() *View {
	return &View{snap: s.db.NewSnapshot()}
}

// Txn is a staged, all-or-nothing unit of writes.
type Txn struct {
	batch *pebble.Batch
	done  bool
}

func (t *Txn) Get(key []byte) ([]byte, bool, error) {
	if t.done {
		return nil, false, ErrClosed
	}
	return get(t.batch, key)
}

func (t *Txn) Set(key, value []byte) error {
	if t.done {
		return ErrClosed
	}
	return t.batch.Set(key, value, nil)
}

func (t *Txn) Delete(key []byte) error {
	if t.done {
		return ErrClosed
	}
	return t.batch.Delete(key, nil)
}

func (t *Txn) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	if t.done {
		return ErrClosed
	}
	iter, err := t.batch.NewIter(prefixOptions(prefix))
	if err != nil {
		return err
	}
	return walk(iter, fn)
}

// Empty reports whether nothing has been staged.
func (t *Txn) Empty() bool { return t.batch.Empty() }

// Commit writes the staged batch to Pebble atomically and releases it.
func (t *Txn) Commit() error {
	if t.done {
		return ErrClosed
	}
	t.done = true
	defer t.batch.Close()
	if err := t.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Discard drops every staged write. Safe to call after Commit.
func (t *Txn) Discard() {
	if t.done {
		return
	}
	t.done = true
	_ = t.batch.Close()
}

// View is a read-only KV over a pebble snapshot.
type View struct {
	snap *pebble.Snapshot
}

func (v *View) Get(key []byte) ([]byte, bool, error) { return get(v.snap, key) }
func (v *View) Set(_, _ []byte) error                { return ErrReadOnly }
func (v *View) Delete(_ []byte) error                { return ErrReadOnly }

func (v *View) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := v.snap.NewIter(prefixOptions(prefix))
	if err != nil {
		return err
	}
	return walk(iter, fn)
}

func (v *View) Close() error { return v.snap.Close() }

func get(r pebble.Reader, key []byte) ([]byte, bool, error) {
	val, closer, err := r.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %x: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

func prefixOptions(prefix []byte) *pebble.IterOptions {
	if len(prefix) == 0 {
		return &pebble.IterOptions{}
	}
	return &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	}
}

func walk(iter *pebble.Iterator, fn func(key, value []byte) error) error {
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

var (
	_ KV = (*Txn)(nil)
	_ KV = (*View)(nil)
)
