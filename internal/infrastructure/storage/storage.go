// Package storage carries the in-memory history backend. The durable
// backends live in the sqlite and postgres subpackages.
package storage

import (
	"context"
	"sync"

	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
)

// Memory is an in-memory HistoryRepository, used when no durable store is
// configured and by tests.
type Memory struct {
	mu   sync.Mutex
	opps []*model.Opportunity
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(ctx context.Context, opp *model.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *opp
	m.opps = append(m.opps, &cp)
	return nil
}

// List returns the most recent opportunities, newest first.
func (m *Memory) List(ctx context.Context, limit int) ([]*model.Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.opps) {
		limit = len(m.opps)
	}
	out := make([]*model.Opportunity, 0, limit)
	for i := len(m.opps) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.opps[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

var _ port.HistoryRepository = (*Memory)(nil)
