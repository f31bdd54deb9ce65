package journal

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory keeps entries in process. Used in development mode and tests.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// Record appends entry, assigning an id and timestamp when missing.
func (m *Memory) Record(_ context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now().UTC()
	}
	if entry.Status == "" {
		entry.Status = StatusSubmitted
	}
	if entry.Amount != nil {
		entry.Amount = new(big.Int).Set(entry.Amount)
	}

	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
	return entry, nil
}

// List returns entries for wallet, newest first.
func (m *Memory) List(_ context.Context, wallet string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Wallet != wallet {
			continue
		}
		out = append(out, m.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
