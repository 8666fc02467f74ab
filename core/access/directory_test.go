package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloschool/backend/core"
	"github.com/eloschool/backend/core/access"
	"github.com/eloschool/backend/storage/docstore"
	testutil "github.com/eloschool/backend/tests"
)

func TestDirectory_LinkedSchools(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	require.NoError(t, f.Directory.Set(ctx, "usuarios/u1/escolas", map[string]interface{}{
		"s3": true,
		"s1": true,
		"s2": map[string]interface{}{"ativo": true, "role": "pai"},
		"s4": map[string]interface{}{"ativo": false},
		"s5": false,
		"s6": map[string]interface{}{"desde": "2023-02-01"},
	}))

	tests := []struct {
		name string
		uid  string
		want []string
	}{
		{"linked", "u1", []string{"s1", "s2", "s3", "s6"}},
		{"unknown", "u2", []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := f.Dir.LinkedSchools(ctx, tc.uid)
			assert.Equal(t, tc.want, got)
		})
	}

	assert.True(t, f.Dir.IsLinked(ctx, "u1", "s2"))
	assert.False(t, f.Dir.IsLinked(ctx, "u1", "s4"))

	broken := access.NewDirectory(failingStore{f.Directory, "usuarios", errors.New("timeout")}, f.Logger, time.Second)
	assert.Equal(t, []string{}, broken.LinkedSchools(ctx, "u1"))
	assert.True(t, f.Logger.Contains("linked schools of u1"))
}

func TestDirectory_SchoolDescriptor(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	s1 := f.AddSchool(t, "s1")

	tests := []struct {
		name    string
		id      string
		want    access.Descriptor
		wantErr error
	}{
		{"found", "s1", s1, nil},
		{"missing", "s2", access.Descriptor{}, access.ErrSchoolNotFound},
		{"invalid id", "s1/nome", access.Descriptor{}, access.ErrSchoolNotFound},
		{"empty id", "", access.Descriptor{}, access.ErrSchoolNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.Dir.SchoolDescriptor(ctx, tc.id)
			if err != tc.wantErr {
				t.Errorf("SchoolDescriptor() error = %v, wantErr %v", err, tc.wantErr)
			}
			assert.Equal(t, tc.want, got)
		})
	}

	// the id is the node key, never a stored field
	var doc map[string]interface{}
	require.NoError(t, f.Directory.Get(ctx, "escolas/s1", &doc))
	assert.NotContains(t, doc, "id")
}

func TestDirectory_PutSchool(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)

	incomplete := testutil.Descriptor("s1")
	incomplete.StorageBucket = ""
	err := f.Dir.PutSchool(ctx, incomplete)
	assert.Equal(t, access.ErrIncompleteDescriptor, errors.Cause(err))

	bad := testutil.Descriptor("s.1")
	err = f.Dir.PutSchool(ctx, bad)
	verr, ok := err.(*core.ValidationError)
	require.True(t, ok, "PutSchool() error = %v", err)
	assert.Equal(t, map[string]string{"id": "invalid school id"}, verr.FieldMap())

	s1 := testutil.Descriptor("s1")
	s1.Status = "ativa"
	require.NoError(t, f.Dir.PutSchool(ctx, s1))
	s2 := f.AddSchool(t, "s2")

	all, err := f.Dir.AllSchools(ctx)
	require.NoError(t, err)
	assert.Equal(t, []access.Descriptor{s1, s2}, all)
	assert.Equal(t, []access.Descriptor{s2, s1}, f.Dir.Schools(ctx, []string{"s2", "gone", "s1"}))

	empty := testutil.NewFixture(t)
	all, err = empty.Dir.AllSchools(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDirectory_LinkSchool(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	f.AddSchool(t, "s1")

	assert.Equal(t, access.ErrSchoolNotFound, f.Dir.LinkSchool(ctx, "u1", "s2"))
	require.NoError(t, f.Dir.LinkSchool(ctx, "u1", "s1"))
	assert.Equal(t, []string{"s1"}, f.Dir.LinkedSchools(ctx, "u1"))

	require.NoError(t, f.Dir.PutUser(ctx, user))
	var usr map[string]interface{}
	require.NoError(t, f.Directory.Get(ctx, "usuarios/u1", &usr))
	assert.Equal(t, map[string]interface{}{
		"email":   user.Email,
		"nome":    "Ana",
		"escolas": map[string]interface{}{"s1": true},
	}, usr)

	require.NoError(t, f.Dir.UnlinkSchool(ctx, "u1", "s1"))
	assert.Empty(t, f.Dir.LinkedSchools(ctx, "u1"))
	assert.Equal(t, access.ErrSchoolNotFound, f.Dir.UnlinkSchool(ctx, "u1", "a#b"))
}

func TestDirectory_PendingApprovals(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	t0 := time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC)
	reqs := []access.PendingApproval{
		{UserID: "u3", SchoolID: "s1", RequestedAt: t0.Add(time.Hour), Status: access.StatusPending},
		{UserID: "u2", SchoolID: "s1", RequestedAt: t0, Status: access.StatusPending},
		{UserID: "u1", SchoolID: "s1", RequestedAt: t0, Status: access.StatusPending},
		{UserID: "u1", SchoolID: "s2", RequestedAt: t0, Status: access.StatusPending},
	}
	for _, p := range reqs {
		require.NoError(t, f.Dir.AddPendingApproval(ctx, p))
	}

	list, err := f.Dir.PendingApprovals(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []access.PendingApproval{reqs[2], reqs[1], reqs[0]}, list)

	p, err := f.Dir.PendingApproval(ctx, "s2", "u1")
	require.NoError(t, err)
	assert.Equal(t, reqs[3], p)

	require.NoError(t, f.Dir.RemovePendingApproval(ctx, "s2", "u1"))
	_, err = f.Dir.PendingApproval(ctx, "s2", "u1")
	assert.Equal(t, docstore.ErrNotFound, err)
	list, err = f.Dir.PendingApprovals(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, list)
}
