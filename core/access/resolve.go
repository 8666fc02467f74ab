package access

import (
	"context"
	"fmt"
)

func managementResolution() resolution {
	sel := ManagementSelection()
	return resolution{
		state:      StateReady,
		role:       RoleSuperAdmin,
		accessType: AccessManagement,
		save:       &sel,
	}
}

// resolve works out the access of id:
//  1. a remembered selection is reused after checking its descriptor against the directory;
//  2. super admins without one are asked to choose, without any lookup;
//  3. others get the first linked school that resolves, or end pending.
func (c *Controller) resolve(ctx context.Context, id Identity, ignorePersisted bool) resolution {
	isAdmin := c.isSuperAdmin(id.UID)
	var clearStale bool

	if !ignorePersisted {
		sel, err := c.deps.Store.Load(ctx, c.sid)
		switch {
		case err == nil:
			if res, ok := c.resumeSelection(ctx, id, sel, isAdmin); ok {
				return res
			}
			clearStale = true
		case err != ErrNoSelection:
			c.deps.Logger.Warn(fmt.Sprintf("controller: loading selection: %v", err), err, id)
			clearStale = true
		}
	}

	if NeedsPrompt(Prompt{HasRole: isAdmin, IsSuperAdmin: isAdmin}) {
		return resolution{state: StateNeedsSelection, role: RoleSuperAdmin, clear: clearStale}
	}

	ids := c.deps.Directory.LinkedSchools(ctx, id.UID)
	if len(ids) == 0 {
		return resolution{state: StatePendingApproval, clear: clearStale}
	}

	var lookupErr error
	for _, schoolID := range ids {
		d, err := c.deps.Directory.SchoolDescriptor(ctx, schoolID)
		if err != nil {
			if err != ErrSchoolNotFound {
				lookupErr = err
				c.deps.Logger.Warn(fmt.Sprintf("controller: school %s: %v", schoolID, err), err, id)
			}
			continue
		}
		return c.connectSchool(ctx, id, d, isAdmin)
	}
	if lookupErr != nil {
		return resolution{state: StateConnectionError, err: lookupErr.Error(), clear: clearStale}
	}
	// every linked school is gone from the directory
	return resolution{state: StatePendingApproval, clear: clearStale}
}

// resumeSelection revalidates a remembered selection. ok is false when the
// selection no longer applies and must be dropped.
func (c *Controller) resumeSelection(ctx context.Context, id Identity, sel Selection, isAdmin bool) (resolution, bool) {
	if sel.AccessType == AccessManagement {
		if !isAdmin {
			return resolution{}, false
		}
		return resolution{state: StateReady, role: RoleSuperAdmin, accessType: AccessManagement}, true
	}

	cached := *sel.School
	fresh, err := c.deps.Directory.SchoolDescriptor(ctx, cached.ID)
	switch {
	case err == ErrSchoolNotFound:
		c.deps.Logger.Info(fmt.Sprintf("controller: remembered school %s no longer exists", cached.ID), id)
		return resolution{}, false
	case err != nil:
		// directory unreachable: keep trusting the remembered descriptor
		c.deps.Logger.Warn(fmt.Sprintf("controller: revalidating school %s: %v", cached.ID, err), err, id)
		res := c.connectSchool(ctx, id, cached, isAdmin)
		res.save = nil
		return res, true
	}

	res := c.connectSchool(ctx, id, fresh, isAdmin)
	if fresh == cached {
		res.save = nil
	} else {
		sel := SchoolSelection(fresh)
		res.save = &sel
	}
	return res, true
}

// connectSchool connects to d and reads the role of id there. d becomes the
// selection whatever the outcome. A connect failure ends in StateConnectionError;
// a failed role read still ends ready, with no role.
func (c *Controller) connectSchool(ctx context.Context, id Identity, d Descriptor, isAdmin bool) resolution {
	sel := SchoolSelection(d)
	res := resolution{accessType: AccessSchool, school: &d, save: &sel}
	h, err := c.deps.Connector.Connect(ctx, d)
	if err != nil {
		c.deps.Logger.Warn(fmt.Sprintf("controller: %v", err), err, id)
		res.state = StateConnectionError
		res.err = err.Error()
		if isAdmin {
			res.role = RoleSuperAdmin
		}
		return res
	}

	res.state = StateReady
	res.handle = h
	if isAdmin {
		res.role = RoleSuperAdmin
		return res
	}
	role, err := h.Role(ctx, id.UID)
	if err != nil {
		c.deps.Logger.Warn(fmt.Sprintf("controller: %v", err), err, id)
	}
	res.role = role
	return res
}
