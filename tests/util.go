package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eloschool/backend/core"
	"github.com/eloschool/backend/core/access"
	"github.com/eloschool/backend/storage/docstore"
	inmemstore "github.com/eloschool/backend/storage/docstore/inmem"
	inmemsession "github.com/eloschool/backend/storage/session/inmem"
)

// Logger records log lines instead of printing them.
type Logger struct {
	mu      sync.Mutex
	Entries []string
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, level+": "+msg)
}

func (l *Logger) Debug(msg string, _ ...interface{}) { l.log("DEBUG", msg) }
func (l *Logger) Info(msg string, _ ...interface{})  { l.log("INFO", msg) }
func (l *Logger) Warn(msg string, _ ...interface{})  { l.log("WARN", msg) }
func (l *Logger) Error(msg string, _ ...interface{}) { l.log("ERROR", msg) }
func (l *Logger) Fatal(msg string, _ ...interface{}) {
	l.log("FATAL", msg)
	panic(msg)
}

// Contains reports whether a recorded line contains substr.
func (l *Logger) Contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.Entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

// Fixture wires an in-memory directory, school databases and session store.
type Fixture struct {
	Directory      docstore.Store
	Tenants        *inmemstore.Registry
	Sessions       *inmemsession.Store
	Logger         *Logger
	Dir            *access.Directory
	Connector      *access.Connector
	SuperAdminUIDs []string

	mu    sync.Mutex
	gates map[string]*gate
}

type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// NewFixture returns a fixture whose controllers treat superAdmins as super admins.
func NewFixture(t testing.TB, superAdmins ...string) *Fixture {
	t.Helper()
	f := &Fixture{
		Directory:      inmemstore.NewStore(),
		Tenants:        inmemstore.NewRegistry(),
		Sessions:       inmemsession.NewStore(),
		Logger:         new(Logger),
		SuperAdminUIDs: superAdmins,
		gates:          make(map[string]*gate),
	}
	f.Dir = access.NewDirectory(f.Directory, f.Logger, time.Second)
	f.Connector = access.NewConnector(access.DialFunc(f.dial), f.Logger, time.Second)
	t.Cleanup(f.Connector.Close)
	return f
}

func (f *Fixture) Deps() access.ControllerDeps {
	return access.ControllerDeps{
		Directory:   f.Dir,
		Connector:   f.Connector,
		Store:       f.Sessions,
		SuperAdmins: access.NewSuperAdmins(f.SuperAdminUIDs...),
		Logger:      f.Logger,
	}
}

func (f *Fixture) dial(ctx context.Context, d access.Descriptor) (docstore.Store, error) {
	f.mu.Lock()
	g := f.gates[d.DatabaseURL]
	f.mu.Unlock()
	if g != nil {
		g.once.Do(func() { close(g.entered) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.Tenants.Dial(ctx, d.DatabaseURL)
}

// Gate blocks dials of d until release is called. entered is closed once a dial is waiting.
func (f *Fixture) Gate(d access.Descriptor) (entered <-chan struct{}, release func()) {
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.gates[d.DatabaseURL] = g
	f.mu.Unlock()

	var once sync.Once
	return g.entered, func() { once.Do(func() { close(g.release) }) }
}

// Descriptor builds a complete descriptor for school id.
func Descriptor(id string) access.Descriptor {
	return access.Descriptor{
		ID:            id,
		Nome:          "Escola " + strings.ToUpper(id),
		DatabaseURL:   fmt.Sprintf("https://%s-elo.firebaseio.com", id),
		StorageBucket: fmt.Sprintf("%s-elo.appspot.com", id),
		ProjectID:     "elo-" + id,
	}
}

// AddSchool registers the descriptor of school id in the directory.
func (f *Fixture) AddSchool(t testing.TB, id string) access.Descriptor {
	t.Helper()
	d := Descriptor(id)
	f.PutSchool(t, d)
	return d
}

func (f *Fixture) PutSchool(t testing.TB, d access.Descriptor) {
	t.Helper()
	if err := f.Dir.PutSchool(context.Background(), d); err != nil {
		t.Fatalf("PutSchool() failed: %v", err)
	}
}

// Link links uid to the schools, which need not exist.
func (f *Fixture) Link(t testing.TB, uid string, schoolIDs ...string) {
	t.Helper()
	for _, id := range schoolIDs {
		if err := f.Directory.Set(context.Background(), docstore.Join("usuarios", uid, "escolas", id), true); err != nil {
			t.Fatalf("Link() failed: %v", err)
		}
	}
}

// SchoolDB returns a store on the school database of d, outside the connector.
func (f *Fixture) SchoolDB(d access.Descriptor) docstore.Store {
	return inmemstore.New(f.Tenants.DB(d.DatabaseURL))
}

// SetRole writes usuarios/{uid}/role in the school database of d.
func (f *Fixture) SetRole(t testing.TB, d access.Descriptor, uid, role string) {
	t.Helper()
	s := f.SchoolDB(d)
	if err := s.Set(context.Background(), docstore.Join("usuarios", uid, "role"), role); err != nil {
		t.Fatalf("SetRole() failed: %v", err)
	}
}

// TotalDials sums the dials of the databases of ds.
func (f *Fixture) TotalDials(ds ...access.Descriptor) int {
	var n int
	for _, d := range ds {
		n += f.Tenants.Dials(d.DatabaseURL)
	}
	return n
}
