package fakesessionstore

import (
	"sync"

	"github.com/jrsteele09/go-chatadmin-client/session"
)

var _ session.Store = (*FakeStore)(nil)

// FakeStore is an in-memory session store for tests.
type FakeStore struct {
	state *session.State
	lock  sync.RWMutex

	SaveCalls  int
	ClearCalls int
}

func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

func (s *FakeStore) Save(state *session.State) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	copied := *state
	s.state = &copied
	s.SaveCalls++
	return nil
}

func (s *FakeStore) Load() (*session.State, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.state == nil {
		return nil, nil
	}
	copied := *s.state
	return &copied, nil
}

func (s *FakeStore) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.state = nil
	s.ClearCalls++
	return nil
}
