package shared

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloschool/backend/core"
	"github.com/eloschool/backend/core/access"
	testutil "github.com/eloschool/backend/tests"
)

func memoryConf() *core.Config {
	conf := &core.Config{AppName: "Elo School", SecretKey: "secret", Debug: true}
	conf.Directory.Backend = core.BackendMemory
	conf.Tenant.Backend = core.BackendMemory
	conf.Session.Backend = core.BackendMemory
	conf.Identity.Provider = core.BackendDev
	conf.Identity.TokenTTL = time.Hour
	conf.Access.ReadTimeout = time.Second
	conf.Access.SuperAdminIDs = []string{"root"}
	return conf
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	fp := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(fp, []byte(content), 0o600))
	return fp
}

func TestNewBackend_Memory(t *testing.T) {
	ctx := context.Background()
	conf := memoryConf()
	conf.Directory.SeedFile = writeFile(t, "directory.json", `{
		"usuarios": {"u1": {"escolas": {"s1": true}}},
		"escolas": {"s1": {
			"nome": "Escola S1",
			"databaseURL": "https://s1-elo.firebaseio.com",
			"storageBucket": "s1-elo.appspot.com",
			"projectId": "elo-s1"
		}}
	}`)
	conf.Tenant.SeedFile = writeFile(t, "tenants.json", `{
		"https://s1-elo.firebaseio.com": {"usuarios": {"u1": {"role": "professora"}}}
	}`)

	b, err := NewBackend(ctx, conf, new(testutil.Logger))
	require.NoError(t, err)
	defer b.Close()
	require.NotNil(t, b.DevTokens)
	require.NotNil(t, b.Tenants)

	token, err := b.DevTokens.Mint(access.Identity{UID: "u1", Email: "ana@escola.br"})
	require.NoError(t, err)
	id, err := b.Identity.Verify(ctx, token)
	require.NoError(t, err)

	snap := access.NewController("sid", b.ControllerDeps()).SignIn(ctx, id)
	assert.Equal(t, access.StateReady, snap.State)
	assert.Equal(t, "professora", snap.Role)
	assert.Equal(t, "s1", snap.CurrentSchool.ID)

	admin := access.NewController("sid2", b.ControllerDeps()).SignIn(ctx, access.Identity{UID: "root"})
	assert.Equal(t, access.StateNeedsSelection, admin.State)
}

func TestNewBackend_Redis(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	conf := memoryConf()
	conf.Session.Backend = core.BackendRedis
	conf.Session.RedisAddr = srv.Addr()
	conf.Session.TTL = time.Hour

	b, err := NewBackend(ctx, conf, new(testutil.Logger))
	require.NoError(t, err)

	require.NoError(t, b.Sessions.Save(ctx, "sid", access.ManagementSelection()))
	assert.Equal(t, "management", srv.HGet("session:sid", access.KeyAccessType))
	require.NoError(t, b.Close())
}

func TestNewBackend_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		setConf func(conf *core.Config)
	}{
		{"unknown directory", func(conf *core.Config) { conf.Directory.Backend = "mongo" }},
		{"unknown tenant", func(conf *core.Config) { conf.Tenant.Backend = "mongo" }},
		{"unknown session", func(conf *core.Config) { conf.Session.Backend = "memcached" }},
		{"unknown identity", func(conf *core.Config) { conf.Identity.Provider = "ldap" }},
		{"missing seed", func(conf *core.Config) { conf.Directory.SeedFile = "/nonexistent/seed.json" }},
		{"bad tenant seed", func(conf *core.Config) { conf.Tenant.SeedFile = writeFile(t, "tenants.json", "[") }},
		{"unreachable redis", func(conf *core.Config) {
			conf.Session.Backend = core.BackendRedis
			conf.Session.RedisAddr = "127.0.0.1:1"
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conf := memoryConf()
			tc.setConf(conf)
			if _, err := NewBackend(ctx, conf, new(testutil.Logger)); err == nil {
				t.Errorf("NewBackend() error = %v, wantErr %v", err, true)
			}
		})
	}
}

func TestNewMailService(t *testing.T) {
	conf := memoryConf()
	assert.NotNil(t, NewMailService(conf, new(testutil.Logger)))
	conf.Debug = false
	conf.Email.SendgridAPIKey = "SG.key"
	assert.NotNil(t, NewMailService(conf, new(testutil.Logger)))
}
