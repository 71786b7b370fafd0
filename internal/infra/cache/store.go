package cache

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
)

// Store implements port.Cache on top of InMemory.
type Store struct {
	values *InMemory[[]byte]
	groups *InMemory[map[string]struct{}]
}

// NewStore creates an in-memory response cache.
func NewStore(defaultTTL time.Duration) *Store {
	return &Store{
		values: New[[]byte](defaultTTL),
		groups: New[map[string]struct{}](defaultTTL),
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.values.Get(key)
	return v, ok, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.values.SetWithTTL(key, value, ttl)
	return nil
}

func (s *Store) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.values.Delete(k)
	}
	return nil
}

func (s *Store) Track(_ context.Context, group, key string, ttl time.Duration) error {
	s.groups.Update(group, ttl, func(members map[string]struct{}, live bool) map[string]struct{} {
		next := make(map[string]struct{}, len(members)+1)
		if live {
			for m := range members {
				next[m] = struct{}{}
			}
		}
		next[key] = struct{}{}
		return next
	})
	return nil
}

func (s *Store) Invalidate(_ context.Context, group string) error {
	members, ok := s.groups.Get(group)
	s.groups.Delete(group)
	if !ok {
		return nil
	}
	for k := range members {
		s.values.Delete(k)
	}
	return nil
}

// Close stops the background cleanup.
func (s *Store) Close() {
	s.values.Close()
	s.groups.Close()
}

// Limiter is a fixed-window counter per key, implementing port.RateLimiter.
type Limiter struct {
	counters *InMemory[int64]
}

// NewLimiter creates an in-memory limiter.
func NewLimiter() *Limiter {
	return &Limiter{counters: New[int64](time.Minute)}
}

// Hit counts one request; the window starts at the first hit.
func (l *Limiter) Hit(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, expiresAt := l.counters.Update(key, window, func(n int64, _ bool) int64 {
		return n + 1
	})
	return count, time.Until(expiresAt), nil
}

// Close stops the background cleanup.
func (l *Limiter) Close() {
	l.counters.Close()
}

// History keeps the last maxTurns chat turns per user, implementing port.ChatHistory.
type History struct {
	mu       sync.Mutex
	turns    map[string][]domain.ChatTurn
	maxTurns int
}

// NewHistory creates an in-memory chat history.
func NewHistory(maxTurns int) *History {
	return &History{turns: make(map[string][]domain.ChatTurn), maxTurns: maxTurns}
}

func (h *History) Recent(_ context.Context, userID string, n int) ([]domain.ChatTurn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	all := h.turns[userID]
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]domain.ChatTurn, len(all))
	copy(out, all)
	return out, nil
}

func (h *History) Append(_ context.Context, userID string, turns ...domain.ChatTurn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	all := append(h.turns[userID], turns...)
	if h.maxTurns > 0 && len(all) > h.maxTurns {
		all = append([]domain.ChatTurn(nil), all[len(all)-h.maxTurns:]...)
	}
	h.turns[userID] = all
	return nil
}
