package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists conversation turns. Append keeps at most limit turns per
// user, dropping the oldest; appends for one user are serialized.
type Store interface {
	Append(ctx context.Context, turn Turn, limit int) error
	History(ctx context.Context, userID string, limit int) ([]Turn, error)
	Clear(ctx context.Context, userID string) error
}

type userLog struct {
	mu    sync.Mutex
	turns []Turn
}

type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*userLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*userLog)}
}

// lookup finds an existing log without creating one.
func (s *MemoryStore) lookup(userID string) (*userLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.users[userID]
	return l, ok
}

// log returns the user's log, creating it on the first turn.
func (s *MemoryStore) log(userID string) *userLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.users[userID]
	if !ok {
		l = &userLog{}
		s.users[userID] = l
	}
	return l
}

func (s *MemoryStore) Append(ctx context.Context, turn Turn, limit int) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	l := s.log(turn.UserID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, turn)
	if limit > 0 && len(l.turns) > limit {
		l.turns = append([]Turn(nil), l.turns[len(l.turns)-limit:]...)
	}
	return nil
}

// History returns up to limit most recent turns, oldest first.
func (s *MemoryStore) History(ctx context.Context, userID string, limit int) ([]Turn, error) {
	l, ok := s.lookup(userID)
	if !ok {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	turns := l.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]Turn(nil), turns...), nil
}

func (s *MemoryStore) Clear(ctx context.Context, userID string) error {
	l, ok := s.lookup(userID)
	if !ok {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = nil
	return nil
}
