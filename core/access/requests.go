package access

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/eloschool/backend/core"
	"github.com/eloschool/backend/storage/docstore"
)

// Request and link statuses.
const (
	StatusPending        = "pending"
	StatusAutoApproved   = "auto_approved"
	StatusManualApproved = "manual_approved"

	approvedByAuto = "auto"

	accessRequestTemplate = "access_request"
)

// Requests handles users asking to be linked to a school.
type Requests struct {
	dir       *Directory
	connector *Connector
	mailSvc   core.EmailService
	notify    []mail.Address
	logger    core.Logger
}

func NewRequests(dir *Directory, connector *Connector, mailSvc core.EmailService, notify []mail.Address, logger core.Logger) *Requests {
	return &Requests{dir: dir, connector: connector, mailSvc: mailSvc, notify: notify, logger: logger}
}

// RequestAccess asks for id to be linked to schoolID.
//
// Schools that already have an active coordinator link id right away, with no
// role and inactive in the school database until the coordinator sets one.
// Otherwise a pending approval is filed and the super admins are notified.
func (r *Requests) RequestAccess(ctx context.Context, id Identity, schoolID string) (PendingApproval, error) {
	d, err := r.dir.SchoolDescriptor(ctx, schoolID)
	if err != nil {
		if err == ErrSchoolNotFound {
			return PendingApproval{}, core.NewFieldError("school_id", err.Error())
		}
		return PendingApproval{}, err
	}
	if r.dir.IsLinked(ctx, id.UID, schoolID) {
		return PendingApproval{}, core.NewFieldError("school_id", "already linked to this school")
	}
	if _, err := r.dir.PendingApproval(ctx, schoolID, id.UID); err == nil {
		return PendingApproval{}, core.NewValidationError(ErrAlreadyRequested, core.FieldError{Field: "school_id", Error: ErrAlreadyRequested.Error()})
	} else if err != docstore.ErrNotFound {
		return PendingApproval{}, errors.Wrap(err, "reading pending approval")
	}

	p := PendingApproval{
		UserID:      id.UID,
		SchoolID:    schoolID,
		Email:       id.Email,
		Nome:        id.Name(),
		RequestedAt: nowFunc().UTC(),
		Status:      StatusPending,
	}
	if err := r.dir.PutUser(ctx, id); err != nil {
		return PendingApproval{}, err
	}
	if r.hasCoordinator(ctx, d) {
		return r.autoApprove(ctx, d, p)
	}
	if err := r.dir.AddPendingApproval(ctx, p); err != nil {
		return PendingApproval{}, err
	}

	if len(r.notify) > 0 {
		r.mailSvc.SendMessages(&core.EmailMessage{
			To:           r.notify,
			Subject:      "Nova solicitação de acesso",
			TemplateName: accessRequestTemplate,
			TemplateData: p,
		})
	} else {
		r.logger.Info(fmt.Sprintf("requests: %s asked for school %s (no notification address)", id.UID, schoolID))
	}
	return p, nil
}

// hasCoordinator reports whether school d has an active coordinator.
// An unreachable school database counts as none.
func (r *Requests) hasCoordinator(ctx context.Context, d Descriptor) bool {
	h, err := r.connector.Connect(ctx, d)
	if err != nil {
		r.logger.Warn(fmt.Sprintf("requests: %v", err), err)
		return false
	}
	defer r.connector.Release(h)
	ok, err := h.HasActive(ctx, RoleCoordenador, roleCoordenadora)
	if err != nil {
		r.logger.Warn(fmt.Sprintf("requests: %v", err), err)
	}
	return ok
}

func (r *Requests) autoApprove(ctx context.Context, d Descriptor, p PendingApproval) (PendingApproval, error) {
	p.Status = StatusAutoApproved
	usr := SchoolUser{Email: p.Email, Nome: p.Nome, CreatedAt: p.RequestedAt}
	if err := r.putSchoolUser(ctx, d, p.UserID, usr); err != nil {
		return PendingApproval{}, err
	}
	link := SchoolLink{Status: StatusAutoApproved, Role: RolePending, Ativo: true, ApprovedAt: p.RequestedAt, ApprovedBy: approvedByAuto}
	if err := r.dir.PutSchoolLink(ctx, p.UserID, d.ID, link); err != nil {
		return PendingApproval{}, err
	}
	r.logger.Info(fmt.Sprintf("requests: %s auto approved for school %s", p.UserID, d.ID))
	return p, nil
}

func (r *Requests) putSchoolUser(ctx context.Context, d Descriptor, uid string, usr SchoolUser) error {
	h, err := r.connector.Connect(ctx, d)
	if err != nil {
		return err
	}
	defer r.connector.Release(h)
	return h.PutUser(ctx, uid, usr)
}

// Approve grants uid the role in schoolID: the user record is written to the
// school database, the school is linked and the pending request dropped.
func (r *Requests) Approve(ctx context.Context, schoolID, uid, role, approvedBy string) error {
	if !ValidSchoolRole(role) {
		return ErrInvalidRole
	}
	p, err := r.dir.PendingApproval(ctx, schoolID, uid)
	if err != nil {
		if err == docstore.ErrNotFound {
			return ErrRequestNotFound
		}
		return errors.Wrap(err, "reading pending approval")
	}
	d, err := r.dir.SchoolDescriptor(ctx, schoolID)
	if err != nil {
		return err
	}

	now := nowFunc().UTC()
	usr := SchoolUser{Email: p.Email, Nome: p.Nome, Role: role, Ativo: true, CreatedAt: now}
	if err = r.putSchoolUser(ctx, d, uid, usr); err != nil {
		return err
	}
	link := SchoolLink{Status: StatusManualApproved, Role: role, Ativo: true, ApprovedAt: now, ApprovedBy: approvedBy}
	if err = r.dir.PutSchoolLink(ctx, uid, schoolID, link); err != nil {
		return err
	}
	return r.dir.RemovePendingApproval(ctx, schoolID, uid)
}

// Reject drops the pending request without linking.
func (r *Requests) Reject(ctx context.Context, schoolID, uid string) error {
	if _, err := r.dir.PendingApproval(ctx, schoolID, uid); err != nil {
		if err == docstore.ErrNotFound {
			return ErrRequestNotFound
		}
		return errors.Wrap(err, "reading pending approval")
	}
	return r.dir.RemovePendingApproval(ctx, schoolID, uid)
}

func (r *Requests) Pending(ctx context.Context, schoolID string) ([]PendingApproval, error) {
	return r.dir.PendingApprovals(ctx, schoolID)
}
