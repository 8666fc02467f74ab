package inmemsession

import (
	"context"
	"sync"

	"github.com/eloschool/backend/core/access"
)

// Store keeps session selections in memory, in their persisted two-key form.
type Store struct {
	mutex sync.RWMutex
	data  map[string]map[string]string // {sid: {key: value}}
	saves int
}

var _ access.SessionStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{data: make(map[string]map[string]string)}
}

func (s *Store) Load(ctx context.Context, sid string) (access.Selection, error) {
	if err := ctx.Err(); err != nil {
		return access.Selection{}, err
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	fields, ok := s.data[sid]
	if !ok {
		return access.Selection{}, access.ErrNoSelection
	}
	return access.DecodeSelection(fields)
}

func (s *Store) Save(ctx context.Context, sid string, sel access.Selection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields, err := access.EncodeSelection(sel)
	if err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.data[sid] = fields
	s.saves++
	return nil
}

func (s *Store) Clear(ctx context.Context, sid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.data, sid)
	return nil
}

// Fields returns a copy of the persisted keys of sid.
func (s *Store) Fields(sid string) map[string]string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	fields := make(map[string]string, len(s.data[sid]))
	for k, v := range s.data[sid] {
		fields[k] = v
	}
	return fields
}

// Saves reports how many selections were written.
func (s *Store) Saves() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.saves
}
