package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloschool/backend/core"
	"github.com/eloschool/backend/core/access"
	emailsvc "github.com/eloschool/backend/services/email"
	identitysvc "github.com/eloschool/backend/services/identity"
	"github.com/eloschool/backend/storage/docstore/pgdoc"
	testutil "github.com/eloschool/backend/tests"
)

func setup(t *testing.T) (*commandLine, *testutil.Fixture, *bytes.Buffer) {
	f := testutil.NewFixture(t, "root")
	out := new(bytes.Buffer)
	conf := &core.Config{AppName: "Elo School"}
	return &commandLine{
		db:       new(sql.DB),
		dir:      f.Dir,
		requests: access.NewRequests(f.Dir, f.Connector, emailsvc.NewConsoleServiceMock(conf, f.Logger), nil, f.Logger),
		deps:     f.Deps(),
		tokens:   identitysvc.NewDevProvider("secret", conf.AppName, time.Hour),
		out:      out,
	}, f, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest, check func(t *testing.T, tt cliTest)) {
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			switch {
			case err == nil:
				if tt.wantErr != nil || tt.wantErrStr != "" {
					t.Errorf("cli.run() error = %v, wantErr %v", err, true)
				} else if check != nil {
					check(t, tt)
				}
			case tt.wantErr != nil:
				if errors.Cause(err) != tt.wantErr {
					t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
				}
			case tt.wantErrStr != "":
				if !strings.Contains(err.Error(), tt.wantErrStr) {
					t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
				}
			default:
				t.Errorf("cli.run() unexpected error = %v", err)
			}
		})
	}
}

func Test_commandLine_usage(t *testing.T) {
	cli, _, out := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "link: no args", args: []string{"link"}, wantErr: errHelp},
		{name: "link: no school", args: []string{"link", "-user", "u1"}, wantErr: errHelp},
		{name: "addschool: no url", args: []string{"addschool", "-id", "s1", "-bucket", "b", "-project", "p"}, wantErr: errHelp},
		{name: "pending: no school", args: []string{"pending"}, wantErr: errHelp},
		{name: "resolve: no user", args: []string{"resolve", "-email", "ana@escola.br"}, wantErr: errHelp},
		{name: "token: no user", args: []string{"token"}, wantErr: errHelp},
	}
	runCLITests(t, cli, tests, nil)
	assert.Contains(t, out.String(), "Usage:")
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, _ := setup(t)

	defer func() { migrateFunc = pgdoc.RunMigrations }()
	migrateFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "schools", "sql"}},
	}
	runCLITests(t, cli, tests, nil)

	cli.db = nil
	runCLITests(t, cli, []cliTest{{name: "memory directory", args: []string{"migrate", "up"}, wantErr: errNoSQLDirectory}}, nil)
}

func Test_commandLine_schools(t *testing.T) {
	cli, f, out := setup(t)
	ctx := context.Background()
	s1 := testutil.Descriptor("s1")

	tests := []cliTest{
		{
			name: "addschool",
			args: []string{
				"addschool", "-id", "s1", "-name", s1.Nome,
				"-url", s1.DatabaseURL, "-bucket", s1.StorageBucket, "-project", s1.ProjectID,
			},
		},
		{name: "link: unknown school", args: []string{"link", "-user", "u1", "-school", "nope"}, wantErr: access.ErrSchoolNotFound},
		{name: "link", args: []string{"link", "-user", "u1", "-school", "s1"}, extra: []string{"s1"}},
		{name: "unlink", args: []string{"unlink", "-user", "u1", "-school", "s1"}, extra: []string{}},
	}
	runCLITests(t, cli, tests, func(t *testing.T, tt cliTest) {
		if linked, ok := tt.extra.([]string); ok {
			assert.Equal(t, linked, f.Dir.LinkedSchools(ctx, "u1"))
		}
	})

	d, err := f.Dir.SchoolDescriptor(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, s1, d)
	assert.Contains(t, out.String(), "u1 linked to s1")
	assert.Contains(t, out.String(), "u1 unlinked from s1")
}

func Test_commandLine_requests(t *testing.T) {
	cli, f, out := setup(t)
	ctx := context.Background()
	s1 := f.AddSchool(t, "s1")

	for _, uid := range []string{"u1", "u2"} {
		p := access.PendingApproval{UserID: uid, SchoolID: "s1", Email: uid + "@escola.br", Nome: uid, Status: access.StatusPending}
		require.NoError(t, f.Dir.AddPendingApproval(ctx, p))
	}

	tests := []cliTest{
		{name: "pending", args: []string{"pending", "-school", "s1"}},
		{name: "approve: no role", args: []string{"approve", "-user", "u1", "-school", "s1"}, wantErr: errHelp},
		{name: "approve: bad role", args: []string{"approve", "-user", "u1", "-school", "s1", "-role", "rei"}, wantErr: access.ErrInvalidRole},
		{name: "approve: unknown", args: []string{"approve", "-user", "u3", "-school", "s1", "-role", access.RolePai}, wantErr: access.ErrRequestNotFound},
		{name: "approve", args: []string{"approve", "-user", "u1", "-school", "s1", "-role", access.RolePai, "-by", "root"}},
		{name: "reject", args: []string{"reject", "-user", "u2", "-school", "s1"}},
		{name: "reject twice", args: []string{"reject", "-user", "u2", "-school", "s1"}, wantErr: access.ErrRequestNotFound},
		{name: "pending: none", args: []string{"pending", "-school", "s1"}},
	}
	runCLITests(t, cli, tests, nil)

	assert.Contains(t, out.String(), "u1@escola.br")
	assert.Contains(t, out.String(), "u2@escola.br")
	assert.Contains(t, out.String(), "no pending requests for s1")
	assert.Contains(t, out.String(), "u1 approved for s1 as pai")
	assert.Equal(t, []string{"s1"}, f.Dir.LinkedSchools(ctx, "u1"))
	var link access.SchoolLink
	require.NoError(t, f.Directory.Get(ctx, "usuarios/u1/escolas/s1", &link))
	assert.Equal(t, access.RolePai, link.Role)
	assert.Equal(t, "root", link.ApprovedBy)
	var role string
	require.NoError(t, f.SchoolDB(s1).Get(ctx, "usuarios/u1/role", &role))
	assert.Equal(t, access.RolePai, role)
	assert.Empty(t, f.Dir.LinkedSchools(ctx, "u2"))
}

func Test_commandLine_resolve(t *testing.T) {
	cli, f, out := setup(t)
	s1 := f.AddSchool(t, "s1")
	f.Link(t, "u1", "s1")
	f.SetRole(t, s1, "u1", access.RoleCoordenador)

	require.NoError(t, cli.run([]string{"admin", "resolve", "-user", "u1", "-email", "ana@escola.br"}))
	var snap access.Snapshot
	require.NoError(t, json.Unmarshal(out.Bytes(), &snap))
	assert.Equal(t, access.StateReady, snap.State)
	assert.Equal(t, access.RoleCoordenador, snap.Role)
	assert.Equal(t, "s1", snap.CurrentSchool.ID)

	assert.Equal(t, 0, f.Sessions.Saves(), "dry run does not persist")
	assert.Equal(t, 0, f.Connector.Len(), "handle is released")

	out.Reset()
	require.NoError(t, cli.run([]string{"admin", "resolve", "-user", "root"}))
	require.NoError(t, json.Unmarshal(out.Bytes(), &snap))
	assert.Equal(t, access.StateNeedsSelection, snap.State)
}

func Test_commandLine_token(t *testing.T) {
	cli, _, out := setup(t)

	require.NoError(t, cli.run([]string{"admin", "token", "-user", "u1", "-email", "ana@escola.br", "-name", "Ana"}))
	id, err := cli.tokens.Verify(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, access.Identity{UID: "u1", Email: "ana@escola.br", DisplayName: "Ana"}, id)

	cli.tokens = nil
	if err := cli.run([]string{"admin", "token", "-user", "u1"}); err != errNoDevTokens {
		t.Errorf("cli.run() error = %v, wantErr %v", err, errNoDevTokens)
	}
}
