package access_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloschool/backend/core/access"
	testutil "github.com/eloschool/backend/tests"
)

func TestIdentity_Name(t *testing.T) {
	tests := []struct {
		id   access.Identity
		want string
	}{
		{access.Identity{DisplayName: "Ana", Email: "ana@escola.br"}, "Ana"},
		{access.Identity{Email: "bia@escola.br"}, "bia"},
		{access.Identity{Email: "@escola.br"}, "@escola.br"},
		{access.Identity{UID: "u1"}, ""},
	}
	for _, tc := range tests {
		if got := tc.id.Name(); got != tc.want {
			t.Errorf("Name() = %q, want %q", got, tc.want)
		}
	}
}

func TestDescriptor(t *testing.T) {
	d := testutil.Descriptor("s1")
	assert.Equal(t, "elo-s1/s1", d.Key())
	assert.NoError(t, d.Validate())
	assert.True(t, d.SameConnection(d))

	other := d
	other.Nome = "Renamed"
	assert.True(t, d.SameConnection(other))
	other.StorageBucket = "other.appspot.com"
	assert.False(t, d.SameConnection(other))

	empty := access.Descriptor{ID: "s2"}
	assert.Equal(t, []string{"databaseURL", "storageBucket", "projectId"}, empty.Missing())
	err := empty.Validate()
	assert.Equal(t, access.ErrIncompleteDescriptor, errors.Cause(err))
	assert.Contains(t, err.Error(), "school s2")
}

func TestSuperAdmins(t *testing.T) {
	sa := access.NewSuperAdmins(" root ", "", "admin2")
	assert.True(t, sa.Contains("root"))
	assert.True(t, sa.Contains("admin2"))
	assert.False(t, sa.Contains("u1"))
	assert.False(t, sa.Contains(""))
	assert.False(t, access.NewSuperAdmins().Contains("root"))
}

func TestSelectionEncoding(t *testing.T) {
	s1 := testutil.Descriptor("s1")
	tests := []struct {
		name    string
		sel     access.Selection
		want    map[string]string
		wantErr bool
	}{
		{"management", access.ManagementSelection(), map[string]string{
			access.KeyAccessType:     "management",
			access.KeySelectedSchool: "null",
		}, false},
		{"school", access.SchoolSelection(s1), map[string]string{
			access.KeyAccessType: "school",
			access.KeySelectedSchool: `{"id":"s1","nome":"Escola S1","databaseURL":"https://s1-elo.firebaseio.com",` +
				`"storageBucket":"s1-elo.appspot.com","projectId":"elo-s1"}`,
		}, false},
		{"school without descriptor", access.Selection{AccessType: access.AccessSchool}, nil, true},
		{"invalid type", access.Selection{AccessType: "tenant"}, nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := access.EncodeSelection(tc.sel)
			if (err != nil) != tc.wantErr {
				t.Fatalf("EncodeSelection() error = %v, wantErr %v", err, tc.wantErr)
			}
			assert.Equal(t, tc.want, got)
			if err == nil {
				sel, err := access.DecodeSelection(got)
				require.NoError(t, err)
				assert.Equal(t, tc.sel, sel)
			}
		})
	}
}

func TestDecodeSelection(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]string
		wantErr error
	}{
		{"nothing", map[string]string{}, access.ErrNoSelection},
		{"type only", map[string]string{access.KeyAccessType: "school"}, access.ErrNoSelection},
		{"school only", map[string]string{access.KeySelectedSchool: `{"id":"s1"}`}, access.ErrNoSelection},
		{"school null", map[string]string{access.KeyAccessType: "school", access.KeySelectedSchool: "null"}, access.ErrNoSelection},
		{"school without id", map[string]string{access.KeyAccessType: "school", access.KeySelectedSchool: "{}"}, access.ErrNoSelection},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := access.DecodeSelection(tc.fields)
			if err != tc.wantErr {
				t.Errorf("DecodeSelection() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}

	_, err := access.DecodeSelection(map[string]string{access.KeyAccessType: "school", access.KeySelectedSchool: "{"})
	assert.Error(t, err)
	_, err = access.DecodeSelection(map[string]string{access.KeyAccessType: "tenant", access.KeySelectedSchool: "null"})
	assert.Error(t, err)
}

func TestNeedsPrompt(t *testing.T) {
	tests := []struct {
		name   string
		prompt access.Prompt
		want   bool
	}{
		{"super admin", access.Prompt{HasRole: true, IsSuperAdmin: true}, true},
		{"super admin with selection", access.Prompt{HasRole: true, IsSuperAdmin: true, HasPersistedSelection: true}, false},
		{"regular user", access.Prompt{HasRole: true}, false},
		{"no role", access.Prompt{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := access.NeedsPrompt(tc.prompt); got != tc.want {
				t.Errorf("NeedsPrompt() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestChoice_Validate(t *testing.T) {
	s1 := testutil.Descriptor("s1")
	tests := []struct {
		name    string
		choice  access.Choice
		wantErr bool
	}{
		{"school", access.Choice{School: &s1}, false},
		{"management", access.Choice{Management: true}, false},
		{"both", access.Choice{School: &s1, Management: true}, true},
		{"neither", access.Choice{}, true},
		{"school without id", access.Choice{School: &access.Descriptor{}}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.choice.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
