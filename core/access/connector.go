package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/eloschool/backend/core"
	"github.com/eloschool/backend/storage/docstore"
)

// Dialer opens the database a descriptor addresses.
type Dialer interface {
	Dial(ctx context.Context, d Descriptor) (docstore.Store, error)
}

// DialFunc adapts a function to a Dialer.
type DialFunc func(ctx context.Context, d Descriptor) (docstore.Store, error)

func (f DialFunc) Dial(ctx context.Context, d Descriptor) (docstore.Store, error) {
	return f(ctx, d)
}

// Connector memoizes one school database handle per tenant.
// Handles are reference counted: every Connect must be paired with a Release.
type Connector struct {
	dialer  Dialer
	logger  core.Logger
	timeout time.Duration

	mutex   sync.Mutex
	handles map[string]*Handle // {Descriptor.Key(): handle}
	stale   map[*Handle]bool   // replaced by a redial, still held
}

func NewConnector(dialer Dialer, logger core.Logger, timeout time.Duration) *Connector {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return &Connector{
		dialer:  dialer,
		logger:  logger,
		timeout: timeout,
		handles: make(map[string]*Handle),
		stale:   make(map[*Handle]bool),
	}
}

// Connect returns the handle for d's tenant, dialing it on first use or when
// d's connection fields no longer match the cached handle's.
func (c *Connector) Connect(ctx context.Context, d Descriptor) (*Handle, error) {
	if err := d.Validate(); err != nil {
		recordConnect("error")
		return nil, err
	}
	if h := c.acquire(d); h != nil {
		recordConnect("reused")
		return h, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	store, err := c.dialer.Dial(dialCtx, d)
	cancel()
	if err != nil {
		recordConnect("error")
		return nil, errors.Wrapf(err, "connecting to school %s", d.ID)
	}

	c.mutex.Lock()
	if cur, ok := c.handles[d.Key()]; ok && !cur.closed && cur.desc.SameConnection(d) {
		// lost a race with another dial of the same tenant
		cur.refs++
		c.mutex.Unlock()
		_ = store.Close()
		recordConnect("reused")
		return cur, nil
	}
	h := &Handle{desc: d, store: store, timeout: c.timeout, refs: 1}
	if old, ok := c.handles[d.Key()]; ok && !old.closed {
		// rotated descriptor: the stale handle stays usable by its holders until released
		c.stale[old] = true
		c.logger.Info(fmt.Sprintf("connector: school %s descriptor changed, redialed", d.ID))
	}
	c.handles[d.Key()] = h
	c.mutex.Unlock()

	tenantHandlesOpen.Inc()
	recordConnect("dialed")
	return h, nil
}

func (c *Connector) acquire(d Descriptor) *Handle {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	h, ok := c.handles[d.Key()]
	if !ok || h.closed || !h.desc.SameConnection(d) {
		return nil
	}
	h.refs++
	return h
}

// Release gives back a handle obtained from Connect. The handle's store is
// closed once its last holder releases it. Releasing nil is a no-op.
func (c *Connector) Release(h *Handle) {
	if h == nil {
		return
	}
	c.mutex.Lock()
	if h.closed {
		c.mutex.Unlock()
		return
	}
	h.refs--
	if h.refs > 0 {
		c.mutex.Unlock()
		return
	}
	h.closed = true
	if c.handles[h.desc.Key()] == h {
		delete(c.handles, h.desc.Key())
	}
	delete(c.stale, h)
	c.mutex.Unlock()
	c.closeStore(h)
}

func (c *Connector) closeStore(h *Handle) {
	tenantHandlesOpen.Dec()
	if err := h.store.Close(); err != nil {
		c.logger.Warn(fmt.Sprintf("connector: closing school %s: %v", h.desc.ID, err), err)
	}
}

// Len reports how many tenants have a cached handle.
func (c *Connector) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.handles)
}

// Stale reports how many replaced handles are still held.
func (c *Connector) Stale() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.stale)
}

// Close closes every handle regardless of holders, replaced ones included.
func (c *Connector) Close() {
	c.mutex.Lock()
	handles := make([]*Handle, 0, len(c.handles)+len(c.stale))
	for key, h := range c.handles {
		if !h.closed {
			h.closed = true
			handles = append(handles, h)
		}
		delete(c.handles, key)
	}
	for h := range c.stale {
		if !h.closed {
			h.closed = true
			handles = append(handles, h)
		}
		delete(c.stale, h)
	}
	c.mutex.Unlock()

	for _, h := range handles {
		c.closeStore(h)
	}
}

// Handle is a connection to one school database. It is only valid for the
// descriptor it was dialed with.
type Handle struct {
	desc    Descriptor
	store   docstore.Store
	timeout time.Duration

	// guarded by Connector.mutex
	refs   int
	closed bool
}

func (h *Handle) Descriptor() Descriptor {
	return h.desc
}

// Get reads a node of the school database.
func (h *Handle) Get(ctx context.Context, path string, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.store.Get(ctx, path, v)
}

// Role reads usuarios/{uid}/role. A user without a role yields "".
func (h *Handle) Role(ctx context.Context, uid string) (string, error) {
	var role string
	if err := h.Get(ctx, docstore.Join(usersRoot, uid, "role"), &role); err != nil {
		if err == docstore.ErrNotFound {
			return "", nil
		}
		return "", errors.Wrapf(err, "reading role in school %s", h.desc.ID)
	}
	return role, nil
}

// User reads the usuarios/{uid} record of the school database.
func (h *Handle) User(ctx context.Context, uid string) (map[string]interface{}, error) {
	var usr map[string]interface{}
	if err := h.Get(ctx, docstore.Join(usersRoot, uid), &usr); err != nil {
		return nil, err
	}
	return usr, nil
}

// SchoolUser is the usuarios/{uid} record of a school database.
type SchoolUser struct {
	Email     string    `json:"email"`
	Nome      string    `json:"nome"`
	Role      string    `json:"role,omitempty"`
	Ativo     bool      `json:"ativo"`
	CreatedAt time.Time `json:"createdAt"`
}

// PutUser replaces the usuarios/{uid} record of the school database.
func (h *Handle) PutUser(ctx context.Context, uid string, u SchoolUser) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return errors.Wrapf(h.store.Set(ctx, docstore.Join(usersRoot, uid), u), "writing user in school %s", h.desc.ID)
}

// HasActive reports whether a user of the school database holds one of roles
// and is not marked ativo=false.
func (h *Handle) HasActive(ctx context.Context, roles ...string) (bool, error) {
	var users map[string]struct {
		Role  string `json:"role"`
		Ativo *bool  `json:"ativo"`
	}
	if err := h.Get(ctx, usersRoot, &users); err != nil {
		if err == docstore.ErrNotFound {
			return false, nil
		}
		return false, errors.Wrapf(err, "reading users of school %s", h.desc.ID)
	}
	for _, u := range users {
		if u.Ativo != nil && !*u.Ativo {
			continue
		}
		for _, role := range roles {
			if u.Role == role {
				return true, nil
			}
		}
	}
	return false, nil
}
