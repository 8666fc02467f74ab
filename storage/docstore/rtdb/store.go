// Package rtdb implements docstore.Store on top of a Firebase Realtime Database.
package rtdb

import (
	"context"
	"encoding/json"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/eloschool/backend/storage/docstore"
)

// Config addresses one Realtime Database instance.
type Config struct {
	// Name labels the firebase app in errors. The Go SDK keeps no app
	// registry, so two apps may share a name.
	Name            string
	DatabaseURL     string
	ProjectID       string
	StorageBucket   string
	CredentialsFile string // empty means application default credentials
}

func (c Config) clientOptions() []option.ClientOption {
	if c.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(c.CredentialsFile)}
}

type store struct {
	client *db.Client
	mutex  sync.RWMutex
	closed bool
}

var _ docstore.Store = (*store)(nil)

// Open initializes a firebase app for conf and returns its database as a docstore.Store.
func Open(ctx context.Context, conf Config) (docstore.Store, error) {
	name := conf.Name
	if name == "" {
		name = "[DEFAULT]"
	}
	if conf.DatabaseURL == "" {
		return nil, errors.Errorf("rtdb: app %s: database URL required", name)
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{
		DatabaseURL:   conf.DatabaseURL,
		ProjectID:     conf.ProjectID,
		StorageBucket: conf.StorageBucket,
	}, conf.clientOptions()...)
	if err != nil {
		return nil, errors.Wrapf(err, "initializing firebase app %s", name)
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "initializing database client of app %s", name)
	}
	return &store{client: client}, nil
}

func (s *store) ref(path string) (*db.Ref, error) {
	s.mutex.RLock()
	closed := s.closed
	s.mutex.RUnlock()
	if closed {
		return nil, docstore.ErrClosed
	}
	segs, err := docstore.Split(path)
	if err != nil {
		return nil, err
	}
	return s.client.NewRef(docstore.Join(segs...)), nil
}

func (s *store) Get(ctx context.Context, path string, v interface{}) error {
	ref, err := s.ref(path)
	if err != nil {
		return err
	}
	var raw json.RawMessage
	if err = ref.Get(ctx, &raw); err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return docstore.ErrNotFound
	}
	return errors.Wrapf(json.Unmarshal(raw, v), "decoding %s", path)
}

func (s *store) Set(ctx context.Context, path string, v interface{}) error {
	if v == nil {
		return s.Delete(ctx, path)
	}
	ref, err := s.ref(path)
	if err != nil {
		return err
	}
	return errors.Wrapf(ref.Set(ctx, v), "writing %s", path)
}

func (s *store) Delete(ctx context.Context, path string) error {
	ref, err := s.ref(path)
	if err != nil {
		return err
	}
	return errors.Wrapf(ref.Delete(ctx), "deleting %s", path)
}

// Close marks the store closed. The firebase client holds no connection to release.
func (s *store) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return docstore.ErrClosed
	}
	s.closed = true
	return nil
}

// AppName names the firebase app of a school.
func AppName(schoolID string) string {
	return "school-" + schoolID
}

// Dialer opens one firebase app per school, all with the same credentials.
type Dialer struct {
	CredentialsFile string
}

func (d Dialer) Dial(ctx context.Context, schoolID, databaseURL, projectID, storageBucket string) (docstore.Store, error) {
	return Open(ctx, Config{
		Name:            AppName(schoolID),
		DatabaseURL:     databaseURL,
		ProjectID:       projectID,
		StorageBucket:   storageBucket,
		CredentialsFile: d.CredentialsFile,
	})
}
