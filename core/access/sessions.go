package access

import (
	"sync"
	"time"
)

var nowFunc = time.Now // mockable

// Sessions maps session ids to their Controller. All controllers share the
// same directory, connector and session store.
type Sessions struct {
	deps ControllerDeps

	mutex sync.Mutex
	ctrls map[string]*sessionEntry
}

type sessionEntry struct {
	ctrl     *Controller
	lastSeen time.Time
}

func NewSessions(deps ControllerDeps) *Sessions {
	return &Sessions{deps: deps, ctrls: make(map[string]*sessionEntry)}
}

func (s *Sessions) Deps() ControllerDeps {
	return s.deps
}

// Open returns the controller of sid, creating it when needed.
func (s *Sessions) Open(sid string) *Controller {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.ctrls[sid]
	if !ok {
		e = &sessionEntry{ctrl: NewController(sid, s.deps)}
		s.ctrls[sid] = e
	}
	e.lastSeen = nowFunc()
	return e.ctrl
}

// Get returns the controller of sid if it is open.
func (s *Sessions) Get(sid string) (*Controller, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.ctrls[sid]
	if !ok {
		return nil, false
	}
	e.lastSeen = nowFunc()
	return e.ctrl, true
}

// Close forgets sid's controller. Its persisted selection is kept.
func (s *Sessions) Close(sid string) {
	s.mutex.Lock()
	e, ok := s.ctrls[sid]
	delete(s.ctrls, sid)
	s.mutex.Unlock()
	if ok {
		e.ctrl.Detach()
	}
}

func (s *Sessions) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.ctrls)
}

// Prune closes the controllers not used for longer than idle and returns how many.
func (s *Sessions) Prune(idle time.Duration) int {
	cutoff := nowFunc().Add(-idle)
	s.mutex.Lock()
	stale := make([]*Controller, 0)
	for sid, e := range s.ctrls {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e.ctrl)
			delete(s.ctrls, sid)
		}
	}
	s.mutex.Unlock()

	for _, ctrl := range stale {
		ctrl.Detach()
	}
	return len(stale)
}

// CloseAll detaches every controller.
func (s *Sessions) CloseAll() {
	s.mutex.Lock()
	ctrls := s.ctrls
	s.ctrls = make(map[string]*sessionEntry)
	s.mutex.Unlock()

	for _, e := range ctrls {
		e.ctrl.Detach()
	}
}
