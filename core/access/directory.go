package access

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/eloschool/backend/core"
	"github.com/eloschool/backend/storage/docstore"
)

// Directory paths.
const (
	usersRoot    = "usuarios"
	schoolsRoot  = "escolas"
	pendingRoot  = "pendingApprovals"
	schoolsField = "escolas"
)

// DefaultReadTimeout bounds every directory and school database read.
const DefaultReadTimeout = 5 * time.Second

// PendingApproval is an access request waiting for a super admin.
type PendingApproval struct {
	UserID      string    `json:"userId"`
	SchoolID    string    `json:"schoolId"`
	Email       string    `json:"email"`
	Nome        string    `json:"nome"`
	RequestedAt time.Time `json:"requestedAt"`
	Status      string    `json:"status"`
}

// SchoolLink is an access object stored at usuarios/{uid}/escolas/{schoolId}.
type SchoolLink struct {
	Status     string    `json:"status"`
	Role       string    `json:"role,omitempty"`
	Ativo      bool      `json:"ativo"`
	ApprovedAt time.Time `json:"approvedAt"`
	ApprovedBy string    `json:"approvedBy"`
}

// Directory reads the management database: which schools a user is linked to
// and how each school's database is addressed.
type Directory struct {
	store   docstore.Store
	logger  core.Logger
	timeout time.Duration
}

func NewDirectory(store docstore.Store, logger core.Logger, timeout time.Duration) *Directory {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return &Directory{store: store, logger: logger, timeout: timeout}
}

func (dir *Directory) read(ctx context.Context, path string, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, dir.timeout)
	defer cancel()
	return dir.store.Get(ctx, path, v)
}

// linked reports whether a usuarios/{uid}/escolas entry grants access.
// Entries are either `true` or an access object that may carry ativo=false.
func linked(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case map[string]interface{}:
		ativo, ok := val["ativo"].(bool)
		return !ok || ativo
	default:
		return false
	}
}

// LinkedSchools returns the ids of the schools uid is linked to, sorted.
// Lookup failures are logged and yield no schools.
func (dir *Directory) LinkedSchools(ctx context.Context, uid string) []string {
	var entries map[string]interface{}
	if err := dir.read(ctx, docstore.Join(usersRoot, uid, schoolsField), &entries); err != nil {
		if err != docstore.ErrNotFound {
			dir.logger.Warn(fmt.Sprintf("directory: linked schools of %s: %v", uid, err), err)
		}
		return []string{}
	}
	ids := make([]string, 0, len(entries))
	for id, v := range entries {
		if linked(v) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IsLinked reports whether uid is linked to schoolID.
func (dir *Directory) IsLinked(ctx context.Context, uid, schoolID string) bool {
	for _, id := range dir.LinkedSchools(ctx, uid) {
		if id == schoolID {
			return true
		}
	}
	return false
}

// SchoolDescriptor reads escolas/{schoolID}. ErrSchoolNotFound when absent.
func (dir *Directory) SchoolDescriptor(ctx context.Context, schoolID string) (Descriptor, error) {
	if !docstore.ValidKey(schoolID) {
		return Descriptor{}, ErrSchoolNotFound
	}
	var d Descriptor
	if err := dir.read(ctx, docstore.Join(schoolsRoot, schoolID), &d); err != nil {
		if err == docstore.ErrNotFound {
			return Descriptor{}, ErrSchoolNotFound
		}
		return Descriptor{}, errors.Wrapf(err, "reading school %s", schoolID)
	}
	d.ID = schoolID
	return d, nil
}

// AllSchools returns every school descriptor, sorted by id.
func (dir *Directory) AllSchools(ctx context.Context) ([]Descriptor, error) {
	var all map[string]Descriptor
	if err := dir.read(ctx, schoolsRoot, &all); err != nil {
		if err == docstore.ErrNotFound {
			return []Descriptor{}, nil
		}
		return nil, errors.Wrap(err, "reading schools")
	}
	schools := make([]Descriptor, 0, len(all))
	for id, d := range all {
		d.ID = id
		schools = append(schools, d)
	}
	sort.Slice(schools, func(i, j int) bool { return schools[i].ID < schools[j].ID })
	return schools, nil
}

// Schools returns the descriptors of the given ids, skipping the ones that cannot be read.
func (dir *Directory) Schools(ctx context.Context, ids []string) []Descriptor {
	schools := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		d, err := dir.SchoolDescriptor(ctx, id)
		if err != nil {
			if err != ErrSchoolNotFound {
				dir.logger.Warn(fmt.Sprintf("directory: school %s: %v", id, err), err)
			}
			continue
		}
		schools = append(schools, d)
	}
	return schools
}

// PutSchool creates or replaces a school descriptor.
func (dir *Directory) PutSchool(ctx context.Context, d Descriptor) error {
	if !docstore.ValidKey(d.ID) {
		return core.NewFieldError("id", "invalid school id")
	}
	if err := d.Validate(); err != nil {
		return err
	}
	id := d.ID
	d.ID = ""
	return errors.Wrapf(dir.store.Set(ctx, docstore.Join(schoolsRoot, id), descriptorDoc(d)), "writing school %s", id)
}

// descriptorDoc drops the id, which is the node key.
func descriptorDoc(d Descriptor) map[string]string {
	doc := map[string]string{
		"databaseURL":   d.DatabaseURL,
		"storageBucket": d.StorageBucket,
		"projectId":     d.ProjectID,
	}
	if d.Nome != "" {
		doc["nome"] = d.Nome
	}
	if d.Status != "" {
		doc["status"] = d.Status
	}
	return doc
}

func (dir *Directory) LinkSchool(ctx context.Context, uid, schoolID string) error {
	if _, err := dir.SchoolDescriptor(ctx, schoolID); err != nil {
		return err
	}
	return errors.Wrap(dir.store.Set(ctx, docstore.Join(usersRoot, uid, schoolsField, schoolID), true), "linking school")
}

// PutSchoolLink links uid to schoolID with an access object instead of `true`.
func (dir *Directory) PutSchoolLink(ctx context.Context, uid, schoolID string, link SchoolLink) error {
	if !docstore.ValidKey(schoolID) {
		return ErrSchoolNotFound
	}
	return errors.Wrap(dir.store.Set(ctx, docstore.Join(usersRoot, uid, schoolsField, schoolID), link), "linking school")
}

func (dir *Directory) UnlinkSchool(ctx context.Context, uid, schoolID string) error {
	if !docstore.ValidKey(schoolID) {
		return ErrSchoolNotFound
	}
	return errors.Wrap(dir.store.Delete(ctx, docstore.Join(usersRoot, uid, schoolsField, schoolID)), "unlinking school")
}

// PutUser stores the contact fields of usuarios/{uid}, keeping its links.
func (dir *Directory) PutUser(ctx context.Context, id Identity) error {
	if id.Email != "" {
		if err := dir.store.Set(ctx, docstore.Join(usersRoot, id.UID, "email"), id.Email); err != nil {
			return errors.Wrap(err, "writing user email")
		}
	}
	return errors.Wrap(dir.store.Set(ctx, docstore.Join(usersRoot, id.UID, "nome"), id.Name()), "writing user name")
}

func (dir *Directory) AddPendingApproval(ctx context.Context, p PendingApproval) error {
	return errors.Wrap(dir.store.Set(ctx, docstore.Join(pendingRoot, p.SchoolID, p.UserID), p), "writing pending approval")
}

func (dir *Directory) RemovePendingApproval(ctx context.Context, schoolID, uid string) error {
	return errors.Wrap(dir.store.Delete(ctx, docstore.Join(pendingRoot, schoolID, uid)), "removing pending approval")
}

// PendingApproval reads one request. ErrNotFound from docstore when absent.
func (dir *Directory) PendingApproval(ctx context.Context, schoolID, uid string) (PendingApproval, error) {
	var p PendingApproval
	err := dir.read(ctx, docstore.Join(pendingRoot, schoolID, uid), &p)
	return p, err
}

// PendingApprovals lists the requests for schoolID, oldest first.
func (dir *Directory) PendingApprovals(ctx context.Context, schoolID string) ([]PendingApproval, error) {
	var all map[string]PendingApproval
	if err := dir.read(ctx, docstore.Join(pendingRoot, schoolID), &all); err != nil {
		if err == docstore.ErrNotFound {
			return []PendingApproval{}, nil
		}
		return nil, errors.Wrap(err, "reading pending approvals")
	}
	list := make([]PendingApproval, 0, len(all))
	for _, p := range all {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].RequestedAt.Equal(list[j].RequestedAt) {
			return list[i].UserID < list[j].UserID
		}
		return list[i].RequestedAt.Before(list[j].RequestedAt)
	})
	return list, nil
}
