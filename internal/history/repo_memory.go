package history

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo keeps the most recent records in a bounded ring. It backs the
// summary endpoint and tests.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
	next    int
	full    bool
}

func NewMemoryRepo(capacity int) *MemoryRepo {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryRepo{records: make([]Record, capacity)}
}

func (r *MemoryRepo) Append(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[r.next] = rec
	r.next = (r.next + 1) % len(r.records)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// List returns a tenant's records that ended in [from, to), oldest first.
func (r *MemoryRepo) List(_ context.Context, tenantID string, from, to time.Time) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Record
	visit := func(rec Record) {
		if rec.TenantID != tenantID || rec.EndedAt.Before(from) || !rec.EndedAt.Before(to) {
			return
		}
		out = append(out, rec)
	}
	if r.full {
		for _, rec := range r.records[r.next:] {
			visit(rec)
		}
	}
	for _, rec := range r.records[:r.next] {
		visit(rec)
	}
	return out, nil
}
