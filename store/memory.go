package store

import (
	"context"
	"sync"

	icauth "github.com/onicai/go-icauth"
)

// Memory is an in-memory session store for tests and processes that
// should not persist sessions to disk.
type Memory struct {
	mu     sync.Mutex
	values map[string]string
}

var _ icauth.Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: map[string]string{}}
}

func (s *Memory) Load(ctx context.Context) (*icauth.SessionRecord, error) {
	s.mu.Lock()
	raw, ok := s.values[KeySessionInfo]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	rec, err := decodeRecord([]byte(raw))
	if err != nil {
		_ = s.Clear(ctx)
		return nil, nil
	}
	return rec, nil
}

func (s *Memory) Save(ctx context.Context, rec *icauth.SessionRecord) error {
	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[KeySessionInfo] = string(encoded)
	s.values[KeyIsAuthed] = string(rec.LoginType)
	return nil
}

func (s *Memory) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, KeySessionInfo)
	delete(s.values, KeyIsAuthed)
	return nil
}

func (s *Memory) LegacyLoginType(ctx context.Context) (icauth.LoginType, bool, error) {
	s.mu.Lock()
	raw, ok := s.values[KeyIsAuthed]
	s.mu.Unlock()
	if !ok {
		return "", false, nil
	}
	loginType, err := icauth.ParseLoginType(raw)
	if err != nil {
		return "", false, nil
	}
	return loginType, true, nil
}

// SetRaw seeds a raw value, for exercising corrupt or legacy states.
func (s *Memory) SetRaw(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}
