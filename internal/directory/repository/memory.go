package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"leadflow_backend/internal/taxonomy"

	"github.com/google/uuid"
)

type pairKey struct {
	executiveID uuid.UUID
	category    taxonomy.Category
}

// Memory is an in-process directory for STORE_DRIVER=memory and tests.
type Memory struct {
	mu      sync.RWMutex
	rows    map[pairKey]*Assignment
	nextSeq int64
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{rows: make(map[pairKey]*Assignment)}
}

func (m *Memory) Upsert(ctx context.Context, executiveID uuid.UUID, category taxonomy.Category, by string, now time.Time) (Assignment, error) {
	if err := ctx.Err(); err != nil {
		return Assignment{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey{executiveID: executiveID, category: category}
	if row, ok := m.rows[key]; ok {
		if !row.IsActive {
			row.IsActive = true
			row.AssignedAt = now
			row.AssignedBy = by
			row.DeactivatedAt = nil
			row.DeactivatedBy = nil
		}
		return *row, nil
	}

	m.nextSeq++
	row := &Assignment{
		ID:          uuid.New(),
		Seq:         m.nextSeq,
		ExecutiveID: executiveID,
		ServiceName: category,
		IsActive:    true,
		AssignedAt:  now,
		AssignedBy:  by,
	}
	m.rows[key] = row
	return *row, nil
}

func (m *Memory) Deactivate(ctx context.Context, executiveID uuid.UUID, category taxonomy.Category, by string, now time.Time) (Assignment, error) {
	if err := ctx.Err(); err != nil {
		return Assignment{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[pairKey{executiveID: executiveID, category: category}]
	if !ok {
		return Assignment{}, ErrNotFound
	}
	if row.IsActive {
		at := now
		actor := by
		row.IsActive = false
		row.DeactivatedAt = &at
		row.DeactivatedBy = &actor
	}
	return *row, nil
}

func (m *Memory) ListActiveByCategory(ctx context.Context, category taxonomy.Category) ([]Assignment, error) {
	return m.List(ctx, ListParams{Category: &category})
}

func (m *Memory) List(ctx context.Context, params ListParams) ([]Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Assignment, 0)
	for _, row := range m.rows {
		if params.Category != nil && row.ServiceName != *params.Category {
			continue
		}
		if params.ExecutiveID != nil && row.ExecutiveID != *params.ExecutiveID {
			continue
		}
		if !params.IncludeInactive && !row.IsActive {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
