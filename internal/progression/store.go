package progression

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Store persists progressions. Update is a conditional write: it succeeds only
// if the stored version equals p.Version, and bumps the version.
type Store interface {
	Create(ctx context.Context, p Progression) (Progression, error)
	Get(ctx context.Context, userID, courseID string) (Progression, error)
	ListByUser(ctx context.Context, userID string) ([]Progression, error)
	ListByCourse(ctx context.Context, courseID string) ([]Progression, error)
	Update(ctx context.Context, p Progression) (Progression, error)
}

type storeKey struct {
	userID   string
	courseID string
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	progressions map[storeKey]Progression
	mu           sync.RWMutex
	now          func() time.Time
}

// NewMemoryStore creates a new in-memory progression store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		progressions: make(map[storeKey]Progression),
		now:          time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, p Progression) (Progression, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey{p.UserID, p.CourseID}
	if _, ok := s.progressions[key]; ok {
		return Progression{}, fmt.Errorf("%w: user %s course %s", ErrAlreadyExists, p.UserID, p.CourseID)
	}
	p = p.clone()
	p.Version = 1
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	s.progressions[key] = p
	return p.clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, userID, courseID string) (Progression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progressions[storeKey{userID, courseID}]
	if !ok {
		return Progression{}, fmt.Errorf("%w: user %s course %s", ErrNotFound, userID, courseID)
	}
	return p.clone(), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Progression, error) {
	return s.list(func(p Progression) bool { return p.UserID == userID }), nil
}

func (s *MemoryStore) ListByCourse(_ context.Context, courseID string) ([]Progression, error) {
	return s.list(func(p Progression) bool { return p.CourseID == courseID }), nil
}

func (s *MemoryStore) list(match func(Progression) bool) []Progression {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Progression{}
	for _, p := range s.progressions {
		if match(p) {
			out = append(out, p.clone())
		}
	}
	slices.SortFunc(out, func(a, b Progression) int {
		if c := strings.Compare(a.UserID, b.UserID); c != 0 {
			return c
		}
		return strings.Compare(a.CourseID, b.CourseID)
	})
	return out
}

func (s *MemoryStore) Update(_ context.Context, p Progression) (Progression, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey{p.UserID, p.CourseID}
	cur, ok := s.progressions[key]
	if !ok {
		return Progression{}, fmt.Errorf("%w: user %s course %s", ErrNotFound, p.UserID, p.CourseID)
	}
	if cur.Version != p.Version {
		return Progression{}, fmt.Errorf("%w: have version %d, stored %d", ErrVersionConflict, p.Version, cur.Version)
	}
	p = p.clone()
	p.Version = cur.Version + 1
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = s.now()
	s.progressions[key] = p
	return p.clone(), nil
}
