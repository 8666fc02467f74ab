package access

import (
	"context"
	"fmt"
	"sync"

	"github.com/eloschool/backend/core"
)

type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateResolving       State = "resolving"
	StateNeedsSelection  State = "needs_selection"
	StateReady           State = "ready"
	StatePendingApproval State = "pending_approval"
	StateConnectionError State = "connection_error"
)

// Snapshot is the published access state of a session.
type Snapshot struct {
	State          State       `json:"state"`
	User           *Identity   `json:"user"`
	Role           string      `json:"role"`
	AccessType     AccessType  `json:"access_type,omitempty"`
	CurrentSchool  *Descriptor `json:"current_school"`
	NeedsSelection bool        `json:"needs_selection"`
	Error          string      `json:"error,omitempty"`
}

func (s Snapshot) UID() string {
	if s.User == nil {
		return ""
	}
	return s.User.UID
}

// ControllerDeps are shared by every controller of a process.
type ControllerDeps struct {
	Directory   *Directory
	Connector   *Connector
	Store       SessionStore
	SuperAdmins SuperAdmins
	Logger      core.Logger
}

// Controller resolves which school database and role apply to one session.
//
// It is the single writer of the session's selection, tenant handle and role.
// Every resolution carries a generation; starting a new one cancels the one in
// flight and the superseded result is dropped when it arrives.
type Controller struct {
	sid  string
	deps ControllerDeps

	mutex  sync.Mutex
	gen    uint64
	seq    uint64
	cancel context.CancelFunc
	snap   Snapshot
	stable Snapshot // last settled snapshot, matches handle
	handle *Handle
	closed bool // detached from its Sessions, never resolves again

	subsMu sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int

	notifyMu sync.Mutex
	notified uint64
}

func NewController(sid string, deps ControllerDeps) *Controller {
	return &Controller{
		sid:  sid,
		deps: deps,
		snap:   Snapshot{State: StateUnauthenticated},
		stable: Snapshot{State: StateUnauthenticated},
		subs: make(map[int]func(Snapshot)),
	}
}

func (c *Controller) SessionID() string {
	return c.sid
}

func (c *Controller) Snapshot() Snapshot {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.snap
}

// Subscribe registers fn to receive every published Snapshot, in order.
// fn runs synchronously and must not call back into Subscribe or its cancel func.
func (c *Controller) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.subsMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

// publish delivers snap, set as number seq, unless a newer snapshot was already delivered.
func (c *Controller) publish(seq uint64, snap Snapshot) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if seq <= c.notified {
		return
	}
	c.notified = seq

	c.subsMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// setLocked replaces the snapshot and returns its sequence number; c.mutex must be held.
func (c *Controller) setLocked(snap Snapshot) uint64 {
	c.seq++
	c.snap = snap
	return c.seq
}

// settleLocked is setLocked for snapshots that match c.handle.
func (c *Controller) settleLocked(snap Snapshot) uint64 {
	c.stable = snap
	return c.setLocked(snap)
}

// Tenant is the school database binding of a ready session.
type Tenant struct {
	Handle *Handle
	School Descriptor
	Role   string
}

// Handle returns the school database handle of the current selection with the
// descriptor and role it was resolved with. ok is false unless the session is
// ready in school mode.
func (c *Controller) Handle() (Tenant, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.snap.State != StateReady || c.snap.AccessType != AccessSchool || c.handle == nil || c.snap.CurrentSchool == nil {
		return Tenant{}, false
	}
	return Tenant{Handle: c.handle, School: *c.snap.CurrentSchool, Role: c.snap.Role}, true
}

func (c *Controller) isSuperAdmin(uid string) bool {
	return c.deps.SuperAdmins.Contains(uid)
}

// claimLocked supersedes the resolution in flight and returns the generation
// of the next one; c.mutex must be held.
func (c *Controller) claimLocked(ctx context.Context) (context.Context, uint64) {
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.gen++
	return ctx, c.gen
}

// resolvingLocked sets the resolving state of id; c.mutex must be held.
func (c *Controller) resolvingLocked(id Identity) (Snapshot, uint64) {
	// keep showing the settled school and role while resolving
	next := Snapshot{State: StateResolving, User: &id}
	if c.stable.UID() == id.UID {
		next.Role = c.stable.Role
		next.AccessType = c.stable.AccessType
		next.CurrentSchool = c.stable.CurrentSchool
	}
	return next, c.setLocked(next)
}

// begin starts a new resolution for id and publishes the resolving state.
func (c *Controller) begin(ctx context.Context, id Identity) (context.Context, uint64) {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		// generation 0 is never current: the result is dropped by commit
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		return ctx, 0
	}
	ctx, gen := c.claimLocked(ctx)
	next, seq := c.resolvingLocked(id)
	c.mutex.Unlock()

	c.publish(seq, next)
	return ctx, gen
}

// claim is begin for the signed in user, without publishing anything yet.
// Requests that check something before resolving claim first so that a later
// request, SignOut or Detach supersedes them while they check.
func (c *Controller) claim(ctx context.Context) (context.Context, uint64, Identity, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.snap.User == nil || c.closed {
		return ctx, 0, Identity{}, ErrUnauthenticated
	}
	id := *c.snap.User
	ctx, gen := c.claimLocked(ctx)
	return ctx, gen, id, nil
}

// resolving publishes the resolving state of a claimed generation.
// It reports false when gen was superseded in the meantime.
func (c *Controller) resolving(gen uint64, id Identity) bool {
	c.mutex.Lock()
	if gen != c.gen {
		c.mutex.Unlock()
		return false
	}
	next, seq := c.resolvingLocked(id)
	c.mutex.Unlock()

	c.publish(seq, next)
	return true
}

// reject gives up a claimed generation whose checks failed with err. A
// resolution it superseded is not resumed: the session goes back to its settled
// snapshot. A generation superseded in the meantime returns the current
// snapshot without error, as commit does.
func (c *Controller) reject(gen uint64, err error) (Snapshot, error) {
	c.mutex.Lock()
	if gen != c.gen {
		snap := c.snap
		c.mutex.Unlock()
		return snap, nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.snap.State != StateResolving {
		snap := c.snap
		c.mutex.Unlock()
		return snap, err
	}
	snap := c.stable
	seq := c.setLocked(snap)
	c.mutex.Unlock()

	recordResolution("rejected")
	c.publish(seq, snap)
	return snap, err
}

// resolution is the result of one resolution attempt, applied by commit.
type resolution struct {
	state      State
	role       string
	accessType AccessType
	school     *Descriptor
	handle     *Handle
	err        string

	save  *Selection // persist this selection
	clear bool       // clear the persisted selection
}

// commit applies res if gen is still current; otherwise res is discarded.
// Selection, handle, role and state are replaced together under c.mutex.
func (c *Controller) commit(ctx context.Context, gen uint64, id Identity, res resolution) Snapshot {
	c.mutex.Lock()
	if gen != c.gen {
		snap := c.snap
		c.mutex.Unlock()
		c.deps.Connector.Release(res.handle)
		recordResolution("superseded")
		return snap
	}

	switch {
	case res.save != nil:
		if err := c.deps.Store.Save(ctx, c.sid, *res.save); err != nil {
			c.deps.Logger.Error(fmt.Sprintf("controller: saving selection: %v", err), err, id)
		}
	case res.clear:
		if err := c.deps.Store.Clear(ctx, c.sid); err != nil {
			c.deps.Logger.Error(fmt.Sprintf("controller: clearing selection: %v", err), err, id)
		}
	}

	old := c.handle
	c.handle = res.handle
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	snap := Snapshot{
		State:          res.state,
		User:           &id,
		Role:           res.role,
		AccessType:     res.accessType,
		CurrentSchool:  res.school,
		NeedsSelection: res.state == StateNeedsSelection,
		Error:          res.err,
	}
	seq := c.settleLocked(snap)
	c.mutex.Unlock()

	c.deps.Connector.Release(old)
	recordResolution(string(res.state))
	c.publish(seq, snap)
	return snap
}

// SignIn resolves access for id. An empty identity signs the session out, and
// a different user than the current one starts from a clean session.
func (c *Controller) SignIn(ctx context.Context, id Identity) Snapshot {
	if id.UID == "" {
		return c.SignOut(ctx)
	}
	if uid := c.Snapshot().UID(); uid != "" && uid != id.UID {
		c.SignOut(ctx)
	}
	rctx, gen := c.begin(ctx, id)
	return c.commit(rctx, gen, id, c.resolve(rctx, id, false))
}

// Refresh re-runs the resolution for the signed in user.
func (c *Controller) Refresh(ctx context.Context) (Snapshot, error) {
	rctx, gen, id, err := c.claim(ctx)
	if err != nil {
		return c.Snapshot(), err
	}
	if !c.resolving(gen, id) {
		return c.Snapshot(), nil
	}
	return c.commit(rctx, gen, id, c.resolve(rctx, id, false)), nil
}

// ResetSelection forgets the remembered selection and resolves again.
func (c *Controller) ResetSelection(ctx context.Context) (Snapshot, error) {
	rctx, gen, id, err := c.claim(ctx)
	if err != nil {
		return c.Snapshot(), err
	}
	if !c.resolving(gen, id) {
		return c.Snapshot(), nil
	}
	res := c.resolve(rctx, id, true)
	if res.save == nil {
		res.clear = true
	}
	return c.commit(rctx, gen, id, res), nil
}

// SelectSchool switches the session to schoolID. Regular users must be linked to it.
// A rejected switch leaves the session settled where it was. The latest call
// wins: a call superseded while checking the link returns the current snapshot.
func (c *Controller) SelectSchool(ctx context.Context, schoolID string) (Snapshot, error) {
	rctx, gen, id, err := c.claim(ctx)
	if err != nil {
		return c.Snapshot(), err
	}
	isAdmin := c.isSuperAdmin(id.UID)
	if !isAdmin && !c.deps.Directory.IsLinked(rctx, id.UID, schoolID) {
		return c.reject(gen, ErrNotLinked)
	}
	d, err := c.deps.Directory.SchoolDescriptor(rctx, schoolID)
	if err != nil {
		return c.reject(gen, err)
	}
	if !c.resolving(gen, id) {
		return c.Snapshot(), nil
	}
	return c.commit(rctx, gen, id, c.connectSchool(rctx, id, d, isAdmin)), nil
}

// SelectManagement switches a super admin to management access.
func (c *Controller) SelectManagement(ctx context.Context) (Snapshot, error) {
	rctx, gen, id, err := c.claim(ctx)
	if err != nil {
		return c.Snapshot(), err
	}
	if !c.isSuperAdmin(id.UID) {
		return c.reject(gen, ErrManagementDenied)
	}
	if !c.resolving(gen, id) {
		return c.Snapshot(), nil
	}
	return c.commit(rctx, gen, id, managementResolution()), nil
}

// Choose applies the answer of the access-type prompt.
func (c *Controller) Choose(ctx context.Context, choice Choice) (Snapshot, error) {
	if err := choice.Validate(); err != nil {
		return c.Snapshot(), err
	}
	if choice.Management {
		return c.SelectManagement(ctx)
	}
	return c.SelectSchool(ctx, choice.School.ID)
}

// SignOut cancels any resolution in flight, clears the persisted selection and
// releases the school database handle.
func (c *Controller) SignOut(ctx context.Context) Snapshot {
	c.mutex.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	if err := c.deps.Store.Clear(ctx, c.sid); err != nil {
		c.deps.Logger.Error(fmt.Sprintf("controller: clearing selection: %v", err), err)
	}
	old := c.handle
	c.handle = nil
	snap := Snapshot{State: StateUnauthenticated}
	seq := c.settleLocked(snap)
	c.mutex.Unlock()

	c.deps.Connector.Release(old)
	recordResolution(string(StateUnauthenticated))
	c.publish(seq, snap)
	return snap
}

// Detach drops the in-memory state (handle, in-flight work) but keeps the
// persisted selection, so the session resumes where it was on the next sign in
// through a new controller. A detached controller ignores later requests.
func (c *Controller) Detach() {
	c.mutex.Lock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	old := c.handle
	c.handle = nil
	snap := Snapshot{State: StateUnauthenticated}
	seq := c.settleLocked(snap)
	c.mutex.Unlock()

	c.deps.Connector.Release(old)
	c.publish(seq, snap)
}
