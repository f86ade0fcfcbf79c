package attempt

import (
	"context"
	"sort"
	"sync"
)

// memoryRepository keeps at most maxListLimit attempts per client and
// identity, which is all Recent can ever return.
type memoryRepository struct {
	mu       sync.RWMutex
	attempts map[string][]Attempt
}

// NewMemoryRepository builds an in-memory journal for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{attempts: make(map[string][]Attempt)}
}

func memoryKey(clientID, identity string) string {
	return clientID + "\x00" + identity
}

func (r *memoryRepository) Save(_ context.Context, a Attempt) error {
	key := memoryKey(a.ClientID, a.Identity)
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append(r.attempts[key], a)
	sort.SliceStable(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	if len(list) > maxListLimit {
		list = append([]Attempt(nil), list[len(list)-maxListLimit:]...)
	}
	r.attempts[key] = list
	return nil
}

func (r *memoryRepository) ListByIdentity(_ context.Context, clientID, identity string, limit int) ([]Attempt, error) {
	r.mu.RLock()
	stored := r.attempts[memoryKey(clientID, identity)]
	out := make([]Attempt, len(stored))
	copy(out, stored)
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
