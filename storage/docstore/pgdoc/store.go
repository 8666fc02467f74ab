// Package pgdoc implements docstore.Store over a Postgres JSONB table.
//
// The first two path segments select a row in "nodes" (root, key);
// deeper segments address into the row's JSON document.
package pgdoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/eloschool/backend/storage/docstore"
)

type store struct {
	db *sqlx.DB
}

var _ docstore.Store = (*store)(nil)

type location struct {
	root string
	key  string
	rest []string
}

func locate(path string) (location, error) {
	segs, err := docstore.Split(path)
	if err != nil {
		return location{}, err
	}
	var loc location
	switch len(segs) {
	case 0:
		return location{}, errors.Wrap(docstore.ErrInvalidPath, "root is not addressable")
	case 1:
		loc.root = segs[0]
	default:
		loc.root, loc.key, loc.rest = segs[0], segs[1], segs[2:]
	}
	return loc, nil
}

// Open connects to the Postgres database at url and waits for it to answer.
func Open(url string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = ping(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sqlx.DB) error {
	var err error
	maxAttempts := 30
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		err = db.Ping()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}

	if err != nil {
		return errors.Wrap(err, "DB ping timeout")
	}
	return nil
}

// New returns a docstore.Store over db. The "nodes" table must exist (see Migrate).
func New(db *sqlx.DB) docstore.Store {
	return &store{db: db}
}

func (s *store) Get(ctx context.Context, path string, v interface{}) error {
	loc, err := locate(path)
	if err != nil {
		return err
	}

	var node interface{}
	if loc.key == "" {
		node, err = s.getRoot(ctx, loc.root)
	} else {
		node, err = s.getRow(ctx, s.db, loc, false)
	}
	if err != nil {
		return err
	}
	node, ok := docstore.Lookup(node, loc.rest)
	if !ok {
		return docstore.ErrNotFound
	}
	return docstore.Decode(node, v)
}

func (s *store) getRoot(ctx context.Context, root string) (interface{}, error) {
	var rows []struct {
		Key string `db:"key"`
		Doc []byte `db:"doc"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT key, doc FROM nodes WHERE root = $1`, root); err != nil {
		return nil, errors.Wrapf(err, "querying %s", root)
	}
	tree := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		var doc interface{}
		if err := json.Unmarshal(row.Doc, &doc); err != nil {
			return nil, errors.Wrapf(err, "decoding %s/%s", root, row.Key)
		}
		tree[row.Key] = doc
	}
	if len(tree) == 0 {
		return nil, nil
	}
	return tree, nil
}

func (s *store) getRow(ctx context.Context, q sqlx.QueryerContext, loc location, forUpdate bool) (interface{}, error) {
	query := `SELECT doc FROM nodes WHERE root = $1 AND key = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var raw []byte
	if err := sqlx.GetContext(ctx, q, &raw, query, loc.root, loc.key); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "querying %s/%s", loc.root, loc.key)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "decoding %s/%s", loc.root, loc.key)
	}
	return doc, nil
}

func (s *store) Set(ctx context.Context, path string, v interface{}) error {
	loc, err := locate(path)
	if err != nil {
		return err
	}
	value, err := docstore.Normalize(v)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if loc.key == "" {
		err = s.replaceRoot(ctx, tx, loc.root, value)
	} else {
		err = s.putRow(ctx, tx, loc, value)
	}
	if err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func (s *store) replaceRoot(ctx context.Context, tx *sqlx.Tx, root string, value interface{}) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE root = $1`, root); err != nil {
		return errors.Wrapf(err, "clearing %s", root)
	}
	if value == nil {
		return nil
	}
	children, ok := value.(map[string]interface{})
	if !ok {
		return errors.Wrapf(docstore.ErrInvalidPath, "%s only holds objects", root)
	}
	for key, doc := range children {
		if err := upsert(ctx, tx, root, key, doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *store) putRow(ctx context.Context, tx *sqlx.Tx, loc location, value interface{}) error {
	doc := value
	if len(loc.rest) > 0 {
		current, err := s.getRow(ctx, tx, loc, true)
		if err != nil {
			return err
		}
		doc = docstore.Put(current, loc.rest, value)
	}
	if doc == nil {
		_, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE root = $1 AND key = $2`, loc.root, loc.key)
		return errors.Wrapf(err, "deleting %s/%s", loc.root, loc.key)
	}
	return upsert(ctx, tx, loc.root, loc.key, doc)
}

func upsert(ctx context.Context, tx *sqlx.Tx, root, key string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (root, key, doc, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (root, key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		root, key, raw,
	)
	return errors.Wrapf(err, "writing %s/%s", root, key)
}

func (s *store) Delete(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

func (s *store) Close() error {
	return s.db.Close()
}
