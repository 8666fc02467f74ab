package shared

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/eloschool/backend/core"
	"github.com/eloschool/backend/core/access"
	emailsvc "github.com/eloschool/backend/services/email"
	identitysvc "github.com/eloschool/backend/services/identity"
	"github.com/eloschool/backend/storage/docstore"
	inmemstore "github.com/eloschool/backend/storage/docstore/inmem"
	"github.com/eloschool/backend/storage/docstore/pgdoc"
	"github.com/eloschool/backend/storage/docstore/rtdb"
	inmemsession "github.com/eloschool/backend/storage/session/inmem"
	redissession "github.com/eloschool/backend/storage/session/redis"
)

// Backend holds the stores and providers selected by the configuration.
type Backend struct {
	Conf      *core.Config
	Logger    core.Logger
	Store     docstore.Store // management database
	Directory *access.Directory
	Connector *access.Connector
	Sessions  access.SessionStore
	Identity  access.IdentityProvider
	DevTokens *identitysvc.DevProvider // nil unless identity.provider=dev
	Tenants   *inmemstore.Registry     // nil unless tenant.backend=memory
	SQL       *sqlx.DB                 // nil unless directory.backend=postgres

	closers []func() error
}

// NewBackend opens every backend. On error, whatever was opened is closed.
func NewBackend(ctx context.Context, conf *core.Config, logger core.Logger) (_ *Backend, err error) {
	b := &Backend{Conf: conf, Logger: logger}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	if b.Store, err = b.openDirectory(ctx); err != nil {
		return nil, errors.Wrap(err, "opening directory")
	}
	b.Directory = access.NewDirectory(b.Store, logger, conf.Access.ReadTimeout)

	dialer, err := b.tenantDialer()
	if err != nil {
		return nil, errors.Wrap(err, "setting up tenant dialer")
	}
	b.Connector = access.NewConnector(dialer, logger, conf.Access.ReadTimeout)
	b.closers = append(b.closers, func() error { b.Connector.Close(); return nil })

	if b.Sessions, err = b.openSessions(ctx); err != nil {
		return nil, errors.Wrap(err, "opening session store")
	}
	if b.Identity, err = b.identityProvider(ctx); err != nil {
		return nil, errors.Wrap(err, "setting up identity provider")
	}
	return b, nil
}

func (b *Backend) openDirectory(ctx context.Context) (docstore.Store, error) {
	c := b.Conf.Directory
	switch c.Backend {
	case core.BackendMemory:
		db := inmemstore.NewDB()
		if c.SeedFile != "" {
			var err error
			if db, err = inmemstore.LoadFile(c.SeedFile); err != nil {
				return nil, err
			}
		}
		return inmemstore.New(db), nil

	case core.BackendFirebase:
		store, err := rtdb.Open(ctx, rtdb.Config{
			Name:            "management",
			DatabaseURL:     c.DatabaseURL,
			ProjectID:       c.ProjectID,
			CredentialsFile: c.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, store.Close)
		return store, nil

	case core.BackendPostgres:
		db, err := pgdoc.Open(c.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err = pgdoc.Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		b.SQL = db
		store := pgdoc.New(db)
		b.closers = append(b.closers, store.Close)
		return store, nil

	default:
		return nil, errors.Errorf("unknown directory backend %q", c.Backend)
	}
}

func (b *Backend) tenantDialer() (access.Dialer, error) {
	c := b.Conf.Tenant
	switch c.Backend {
	case core.BackendMemory:
		reg := inmemstore.NewRegistry()
		if c.SeedFile != "" {
			var err error
			if reg, err = inmemstore.LoadRegistry(c.SeedFile); err != nil {
				return nil, err
			}
		}
		b.Tenants = reg
		return access.DialFunc(func(ctx context.Context, d access.Descriptor) (docstore.Store, error) {
			return reg.Dial(ctx, d.DatabaseURL)
		}), nil

	case core.BackendFirebase:
		dialer := rtdb.Dialer{CredentialsFile: c.CredentialsFile}
		return access.DialFunc(func(ctx context.Context, d access.Descriptor) (docstore.Store, error) {
			return dialer.Dial(ctx, d.ID, d.DatabaseURL, d.ProjectID, d.StorageBucket)
		}), nil

	default:
		return nil, errors.Errorf("unknown tenant backend %q", c.Backend)
	}
}

func (b *Backend) openSessions(ctx context.Context) (access.SessionStore, error) {
	c := b.Conf.Session
	switch c.Backend {
	case core.BackendMemory:
		return inmemsession.NewStore(), nil
	case core.BackendRedis:
		client, err := redissession.Open(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		return redissession.NewStore(client, c.TTL), nil
	default:
		return nil, errors.Errorf("unknown session backend %q", c.Backend)
	}
}

func (b *Backend) identityProvider(ctx context.Context) (access.IdentityProvider, error) {
	c := b.Conf.Identity
	switch c.Provider {
	case core.BackendDev:
		b.DevTokens = identitysvc.NewDevProvider(b.Conf.SecretKey, b.Conf.AppName, c.TokenTTL)
		return b.DevTokens, nil
	case core.BackendFirebase:
		return identitysvc.NewFirebaseProvider(ctx, c.ProjectID, b.Conf.Directory.CredentialsFile)
	default:
		return nil, errors.Errorf("unknown identity provider %q", c.Provider)
	}
}

func (b *Backend) ControllerDeps() access.ControllerDeps {
	return access.ControllerDeps{
		Directory:   b.Directory,
		Connector:   b.Connector,
		Store:       b.Sessions,
		SuperAdmins: access.NewSuperAdmins(b.Conf.Access.SuperAdminIDs...),
		Logger:      b.Logger,
	}
}

// Close releases the backends in reverse opening order.
func (b *Backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.Logger.Error(fmt.Sprintf("closing backend: %v", err), err)
			if first == nil {
				first = err
			}
		}
	}
	b.closers = nil
	return first
}

// NewMailService returns the console service in debug mode and SendGrid otherwise.
func NewMailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.Email.SendgridAPIKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}
