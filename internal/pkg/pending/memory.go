package pending

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps slots in process memory. Used by tests and as the
// fallback when no persistent backend is configured.
type MemoryBackend struct {
	mu    sync.Mutex
	slots map[string][]PendingPayment
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{slots: make(map[string][]PendingPayment)}
}

func (b *MemoryBackend) Slot(id string) Store {
	return &memorySlot{backend: b, id: id}
}

func (b *MemoryBackend) Slots(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.slots))
	for id, payments := range b.slots {
		if len(payments) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type memorySlot struct {
	backend *MemoryBackend
	id      string
}

func (s *memorySlot) ReadAll(ctx context.Context) ([]PendingPayment, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	return clonePayments(s.backend.slots[s.id]), nil
}

func (s *memorySlot) WriteAll(ctx context.Context, payments []PendingPayment) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	if len(payments) == 0 {
		delete(s.backend.slots, s.id)
		return nil
	}
	s.backend.slots[s.id] = clonePayments(payments)
	return nil
}

// NewMemoryStore returns a standalone single-slot store.
func NewMemoryStore() Store {
	return NewMemoryBackend().Slot("default")
}

func clonePayments(in []PendingPayment) []PendingPayment {
	if len(in) == 0 {
		return nil
	}
	out := make([]PendingPayment, len(in))
	copy(out, in)
	for i := range out {
		if in[i].Plan.Features != nil {
			out[i].Plan.Features = append([]string(nil), in[i].Plan.Features...)
		}
	}
	return out
}
