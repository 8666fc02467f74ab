package inmemstore

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/eloschool/backend/storage/docstore"
)

// Registry hands out connections to in-memory databases addressed by URL.
// It stands in for a fleet of remote databases in dev and tests, and counts
// dials so callers can check connection reuse.
type Registry struct {
	mutex sync.Mutex
	dbs   map[string]*DB
	dials map[string]int
	open  map[string]int
	fails map[string]error
}

func NewRegistry() *Registry {
	return &Registry{
		dbs:   make(map[string]*DB),
		dials: make(map[string]int),
		open:  make(map[string]int),
		fails: make(map[string]error),
	}
}

// LoadRegistry seeds a Registry from a JSON file of the form {url: tree}.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading seed file")
	}
	var seeds map[string]interface{}
	if err = json.Unmarshal(raw, &seeds); err != nil {
		return nil, errors.Wrapf(err, "decoding seed file %s", path)
	}
	reg := NewRegistry()
	for url, tree := range seeds {
		if tree, err = docstore.Normalize(tree); err != nil {
			return nil, errors.Wrap(err, url)
		}
		reg.DB(url).tree = tree
	}
	return reg, nil
}

// DB returns the database at url, creating it when needed.
func (r *Registry) DB(url string) *DB {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.db(url)
}

func (r *Registry) db(url string) *DB {
	db, ok := r.dbs[url]
	if !ok {
		db = NewDB()
		r.dbs[url] = db
	}
	return db
}

// Fail makes subsequent dials to url return err. A nil err clears the failure.
func (r *Registry) Fail(url string, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err == nil {
		delete(r.fails, url)
		return
	}
	r.fails[url] = err
}

// Dial opens a new connection to the database at url.
func (r *Registry) Dial(ctx context.Context, url string) (docstore.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.fails[url]; err != nil {
		return nil, err
	}
	r.dials[url]++
	r.open[url]++
	return &store{
		db: r.db(url),
		onClose: func() {
			r.mutex.Lock()
			r.open[url]--
			r.mutex.Unlock()
		},
	}, nil
}

// Dials reports how many times url was dialed.
func (r *Registry) Dials(url string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.dials[url]
}

// Open reports how many connections to url are not closed yet.
func (r *Registry) Open(url string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.open[url]
}
