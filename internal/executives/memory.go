package executives

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Memory is an in-process provider for development and tests.
type Memory struct {
	mu    sync.RWMutex
	items map[uuid.UUID]Executive
}

// NewMemory returns a provider holding the given executives.
func NewMemory(items ...Executive) *Memory {
	m := &Memory{items: make(map[uuid.UUID]Executive, len(items))}
	for _, e := range items {
		m.Put(e)
	}
	return m
}

// Put inserts or replaces an executive. A zero CreatedAt is stamped with
// the current time so ordering stays stable.
func (m *Memory) Put(e Executive) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.items[e.ID] = e
}

// SetActive toggles an executive's active flag.
func (m *Memory) SetActive(id uuid.UUID, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[id]; ok {
		e.IsActive = active
		m.items[id] = e
	}
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (Executive, error) {
	if err := ctx.Err(); err != nil {
		return Executive{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[id]
	if !ok {
		return Executive{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) ListActive(ctx context.Context) ([]Executive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Executive, 0, len(m.items))
	for _, e := range m.items {
		if e.IsActive {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

type seedFile struct {
	Executives []struct {
		ID          string `yaml:"id"`
		DisplayName string `yaml:"displayName"`
		Role        string `yaml:"role"`
		Region      string `yaml:"region"`
		Active      *bool  `yaml:"active"`
	} `yaml:"executives"`
}

// LoadSeed parses a YAML executives list for the memory store. Entries are
// stamped one millisecond apart in file order so the file order is the
// rotation order.
func LoadSeed(data []byte) (*Memory, error) {
	var seed seedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("decode executives seed: %w", err)
	}

	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	for i, raw := range seed.Executives {
		id, err := uuid.Parse(raw.ID)
		if err != nil {
			return nil, fmt.Errorf("executive %d: invalid id %q: %w", i, raw.ID, err)
		}
		if raw.DisplayName == "" {
			return nil, fmt.Errorf("executive %d: displayName is required", i)
		}
		role := raw.Role
		if role == "" {
			role = "executive"
		}
		active := raw.Active == nil || *raw.Active
		m.Put(Executive{
			ID:          id,
			DisplayName: raw.DisplayName,
			Role:        role,
			Region:      raw.Region,
			IsActive:    active,
			CreatedAt:   base.Add(time.Duration(i) * time.Millisecond),
		})
	}
	return m, nil
}
