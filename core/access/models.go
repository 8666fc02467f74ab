package access

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type AccessType string

const (
	AccessSchool     AccessType = "school"
	AccessManagement AccessType = "management"
)

func (t AccessType) Valid() bool {
	return t == AccessSchool || t == AccessManagement
}

// Roles as stored in a school database at usuarios/{uid}/role.
const (
	RoleSuperAdmin  = "superAdmin"
	RoleCoordenador = "coordenador(a)"
	RoleProfessor   = "professor(a)"
	RolePai         = "pai"
	RoleSecretaria  = "secretaria"
	RolePending     = "pending"

	// older school databases store the coordinator role without the (a) suffix
	roleCoordenadora = "coordenadora"
)

// ValidSchoolRole reports whether role can be assigned to a school user.
func ValidSchoolRole(role string) bool {
	switch role {
	case RoleCoordenador, RoleProfessor, RolePai, RoleSecretaria:
		return true
	}
	return false
}

// Identity is an authenticated user as reported by the identity provider.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Name returns the display name, falling back to the local part of the email.
func (id Identity) Name() string {
	if id.DisplayName != "" {
		return id.DisplayName
	}
	if i := strings.IndexByte(id.Email, '@'); i > 0 {
		return id.Email[:i]
	}
	return id.Email
}

// IdentityProvider verifies the ID tokens issued to signed in users.
type IdentityProvider interface {
	// Verify returns ErrInvalidToken for tokens that are malformed, expired or not signed by the provider.
	Verify(ctx context.Context, token string) (Identity, error)
}

// Descriptor holds what is needed to address one school's database.
type Descriptor struct {
	ID            string `json:"id"`
	Nome          string `json:"nome,omitempty"`
	DatabaseURL   string `json:"databaseURL"`
	StorageBucket string `json:"storageBucket"`
	ProjectID     string `json:"projectId"`
	Status        string `json:"status,omitempty"`
}

// Key identifies the tenant a descriptor addresses.
// Schools may share a project, so the school id is part of it.
func (d Descriptor) Key() string {
	return d.ProjectID + "/" + d.ID
}

// SameConnection reports whether both descriptors dial the same database.
func (d Descriptor) SameConnection(o Descriptor) bool {
	return d.DatabaseURL == o.DatabaseURL && d.StorageBucket == o.StorageBucket && d.ProjectID == o.ProjectID
}

// Missing lists the required connection fields that are empty.
func (d Descriptor) Missing() []string {
	var missing []string
	if d.DatabaseURL == "" {
		missing = append(missing, "databaseURL")
	}
	if d.StorageBucket == "" {
		missing = append(missing, "storageBucket")
	}
	if d.ProjectID == "" {
		missing = append(missing, "projectId")
	}
	return missing
}

func (d Descriptor) Validate() error {
	if missing := d.Missing(); len(missing) > 0 {
		return errors.Wrapf(ErrIncompleteDescriptor, "school %s: missing %s", d.ID, strings.Join(missing, ", "))
	}
	return nil
}

// Selection is the remembered access choice of a session.
// School is nil in management mode.
type Selection struct {
	AccessType AccessType
	School     *Descriptor
}

func SchoolSelection(d Descriptor) Selection {
	return Selection{AccessType: AccessSchool, School: &d}
}

func ManagementSelection() Selection {
	return Selection{AccessType: AccessManagement}
}

// SuperAdmins is the allow-list of identities that resolve to RoleSuperAdmin
// without reading any school database.
type SuperAdmins struct {
	ids []string
}

func NewSuperAdmins(ids ...string) SuperAdmins {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	sort.Strings(clean)
	return SuperAdmins{ids: clean}
}

func (sa SuperAdmins) Contains(uid string) bool {
	if uid == "" {
		return false
	}
	i := sort.SearchStrings(sa.ids, uid)
	return i < len(sa.ids) && sa.ids[i] == uid
}
