package inmemstore

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/eloschool/backend/storage/docstore"
)

// DB is an in-memory JSON tree. Several stores may share one DB.
type DB struct {
	mutex sync.RWMutex
	tree  interface{}
}

func NewDB() *DB {
	return &DB{}
}

// Load replaces the whole tree with the JSON document read from r.
func (db *DB) Load(r io.Reader) error {
	var tree interface{}
	if err := json.NewDecoder(r).Decode(&tree); err != nil {
		return errors.Wrap(err, "decoding seed")
	}
	tree, err := docstore.Normalize(tree)
	if err != nil {
		return err
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.tree = tree
	return nil
}

// LoadFile creates a DB seeded from the JSON file at path.
func LoadFile(path string) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening seed file")
	}
	defer func() { _ = f.Close() }()

	db := NewDB()
	if err = db.Load(f); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return db, nil
}

func (db *DB) get(segs []string) (interface{}, bool) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return docstore.Lookup(db.tree, segs)
}

func (db *DB) put(segs []string, value interface{}) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.tree = docstore.Put(db.tree, segs, value)
}

type store struct {
	db      *DB
	mutex   sync.RWMutex
	closed  bool
	onClose func()
}

var _ docstore.Store = (*store)(nil)

// New returns a docstore.Store backed by db.
func New(db *DB) docstore.Store {
	return &store{db: db}
}

// NewStore returns a docstore.Store over a fresh, empty DB.
func NewStore() docstore.Store {
	return New(NewDB())
}

func (s *store) isClosed() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.closed
}

func (s *store) Get(ctx context.Context, path string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return docstore.ErrClosed
	}
	segs, err := docstore.Split(path)
	if err != nil {
		return err
	}
	node, ok := s.db.get(segs)
	if !ok {
		return docstore.ErrNotFound
	}
	return docstore.Decode(node, v)
}

func (s *store) Set(ctx context.Context, path string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return docstore.ErrClosed
	}
	segs, err := docstore.Split(path)
	if err != nil {
		return err
	}
	value, err := docstore.Normalize(v)
	if err != nil {
		return err
	}
	s.db.put(segs, value)
	return nil
}

func (s *store) Delete(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

func (s *store) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return docstore.ErrClosed
	}
	s.closed = true
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}
